// Package ppm decodes plain-text RGB pixmaps (the "P3" flavour of PPM) into
// normalized pixel grids.
package ppm

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Magic is the only header token accepted by Decode.
const Magic = "P3"

const commentPrefix = "#"

// Grid is a decoded image. Channels holds Width*Height*3 samples in
// row-major order, interleaved R,G,B, each normalized to [0,1].
type Grid struct {
	Width    int
	Height   int
	MaxValue int
	Channels []float64
}

// PixelCount returns Width*Height.
func (g *Grid) PixelCount() int {
	if g == nil {
		return 0
	}
	return g.Width * g.Height
}

// RGB returns the normalized channels of the pixel at (x, y).
func (g *Grid) RGB(x, y int) (r, gr, b float64) {
	i := (y*g.Width + x) * 3
	return g.Channels[i], g.Channels[i+1], g.Channels[i+2]
}

// FormatError reports a payload that is not a well formed P3 image.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "ppm: " + e.Reason
}

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// Decode parses a P3 payload. Lines whose first non-blank character is '#'
// are ignored, tokens beyond the last expected sample are ignored, and a
// payload with too few samples is rejected rather than padded.
func Decode(data []byte) (*Grid, error) {
	if len(data) == 0 {
		return nil, formatErrorf("empty payload")
	}

	tokens := tokenize(string(data))
	if len(tokens) < 4 {
		return nil, formatErrorf("incomplete header: %d tokens", len(tokens))
	}

	if tokens[0] != Magic {
		return nil, formatErrorf("unsupported format %q, only %s is accepted", tokens[0], Magic)
	}

	width, err := headerValue("width", tokens[1])
	if err != nil {
		return nil, err
	}
	height, err := headerValue("height", tokens[2])
	if err != nil {
		return nil, err
	}
	maxValue, err := headerValue("max value", tokens[3])
	if err != nil {
		return nil, err
	}

	samples := tokens[4:]
	// Compared by division so oversized headers cannot overflow.
	if height > len(samples)/3 || width > len(samples)/3/height {
		return nil, formatErrorf("insufficient samples for %dx%d image: got %d", width, height, len(samples))
	}
	expected := width * height * 3

	channels := make([]float64, expected)
	norm := 1 / float64(maxValue)
	for i := 0; i < expected; i++ {
		v, err := strconv.ParseInt(samples[i], 10, 64)
		if err != nil {
			return nil, formatErrorf("invalid sample %q at index %d", samples[i], i)
		}
		channels[i] = clamp01(float64(v) * norm)
	}

	return &Grid{
		Width:    width,
		Height:   height,
		MaxValue: maxValue,
		Channels: channels,
	}, nil
}

// Encode writes g back out as a P3 payload, scaling samples by MaxValue.
// One image row is written per line.
func Encode(g *Grid) []byte {
	var buf bytes.Buffer
	maxValue := g.MaxValue
	if maxValue <= 0 {
		maxValue = 255
	}
	fmt.Fprintf(&buf, "%s\n%d %d\n%d\n", Magic, g.Width, g.Height, maxValue)

	rowLen := g.Width * 3
	for i, c := range g.Channels {
		buf.WriteString(strconv.Itoa(int(math.Round(clamp01(c) * float64(maxValue)))))
		if rowLen > 0 && (i+1)%rowLen == 0 {
			buf.WriteByte('\n')
		} else {
			buf.WriteByte(' ')
		}
	}
	return buf.Bytes()
}

func tokenize(text string) []string {
	var tokens []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, commentPrefix) {
			continue
		}
		tokens = append(tokens, strings.Fields(trimmed)...)
	}
	return tokens
}

func headerValue(name, token string) (int, error) {
	v, err := strconv.Atoi(token)
	if err != nil {
		return 0, formatErrorf("invalid %s %q", name, token)
	}
	if v <= 0 {
		return 0, formatErrorf("%s must be positive, got %d", name, v)
	}
	return v, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
