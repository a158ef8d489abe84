// Package recognizer estimates which catalog product a query depicts, first
// from keywords in the image URL and then from the image content itself.
package recognizer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/example/scandish/internal/catalog"
	"github.com/example/scandish/internal/features"
	"github.com/example/scandish/internal/ppm"
)

// Match methods.
const (
	MethodKeywords = "keywords"
	MethodFeatures = "ppm-features"
)

const (
	base64Marker = ";base64,"

	// Keyword evidence never reaches certainty.
	keywordBaseConfidence = 0.6
	keywordStepConfidence = 0.1
	keywordMaxConfidence  = 0.9

	// Distance at which visual confidence drops to zero.
	maxFeatureDistance = 1.5
)

// ErrInvalidPayload is returned when an embedded image is not valid base64.
var ErrInvalidPayload = errors.New("recognizer: invalid base64 image payload")

// Query is a single recognition request. ImageData, when set, is a raw P3
// payload and takes precedence over ImageBase64.
type Query struct {
	ImageURL    string `json:"imageUrl,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	ImageData   []byte `json:"-"`
}

// HasImage reports whether the query embeds an image.
func (q Query) HasImage() bool {
	return len(q.ImageData) > 0 || strings.TrimSpace(q.ImageBase64) != ""
}

// MatchResult is the best guess for a query.
type MatchResult struct {
	Brand       string   `json:"brand"`
	Model       string   `json:"model"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Method      string   `json:"method"`
	Confidence  float64  `json:"confidence"`
	Distance    *float64 `json:"distance,omitempty"`
}

// Recognizer matches queries against a read-only catalog. It holds no
// mutable state and may be shared across goroutines.
type Recognizer struct {
	catalog *catalog.Catalog
}

// New returns a recognizer over c.
func New(c *catalog.Catalog) *Recognizer {
	return &Recognizer{catalog: c}
}

// Catalog returns the catalog the recognizer matches against.
func (r *Recognizer) Catalog() *catalog.Catalog {
	return r.catalog
}

// Recognize tries keyword matching and falls back to visual matching only
// when no keyword matched. A nil result with a nil error means no match.
func (r *Recognizer) Recognize(q Query) (*MatchResult, error) {
	if res := r.MatchByKeywords(q.ImageURL); res != nil {
		return res, nil
	}
	if len(q.ImageData) > 0 {
		return r.MatchByPPMData(q.ImageData)
	}
	if strings.TrimSpace(q.ImageBase64) != "" {
		return r.MatchByPPM(q.ImageBase64)
	}
	return nil, nil
}

// MatchByKeywords scores every entry by how many of its keywords occur in
// imageURL. On equal scores the earlier entry is kept.
func (r *Recognizer) MatchByKeywords(imageURL string) *MatchResult {
	if imageURL == "" {
		return nil
	}
	lowered := strings.ToLower(imageURL)

	var (
		best      *catalog.Entry
		bestScore int
	)
	r.catalog.Each(func(e *catalog.Entry) bool {
		score := 0
		for _, k := range e.Keywords {
			if strings.Contains(lowered, k) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = e, score
		}
		return true
	})
	if best == nil {
		return nil
	}

	confidence := math.Min(keywordMaxConfidence, keywordBaseConfidence+keywordStepConfidence*float64(bestScore))
	return newResult(best, MethodKeywords, confidence, nil)
}

// MatchByPPM decodes a base64 (or data URL) P3 payload and returns the
// visually closest entry.
func (r *Recognizer) MatchByPPM(encoded string) (*MatchResult, error) {
	payload := normalizeBase64(encoded)
	if payload == "" {
		return nil, nil
	}
	data, err := decodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return r.MatchByPPMData(data)
}

// MatchByPPMData returns the entry whose fingerprint is nearest to the
// fingerprint of the raw P3 payload data. Ties keep the earlier entry.
func (r *Recognizer) MatchByPPMData(data []byte) (*MatchResult, error) {
	grid, err := ppm.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("read query image: %w", err)
	}
	fp, err := features.Extract(grid)
	if err != nil {
		return nil, fmt.Errorf("fingerprint query image: %w", err)
	}
	return r.nearest(fp), nil
}

func (r *Recognizer) nearest(fp features.Fingerprint) *MatchResult {
	var best *catalog.Entry
	bestDistance := math.Inf(1)
	r.catalog.Each(func(e *catalog.Entry) bool {
		if d := features.Distance(fp, e.Fingerprint); d < bestDistance {
			best, bestDistance = e, d
		}
		return true
	})
	if best == nil {
		return nil
	}

	confidence := round(math.Max(0, 1-bestDistance/maxFeatureDistance), 3)
	distance := round(bestDistance, 4)
	return newResult(best, MethodFeatures, confidence, &distance)
}

func newResult(e *catalog.Entry, method string, confidence float64, distance *float64) *MatchResult {
	return &MatchResult{
		Brand:       e.Brand,
		Model:       e.Model,
		Name:        e.Name,
		Description: e.Description,
		Method:      method,
		Confidence:  confidence,
		Distance:    distance,
	}
}

func normalizeBase64(input string) string {
	trimmed := strings.TrimSpace(input)
	if i := strings.Index(trimmed, base64Marker); i >= 0 {
		trimmed = strings.TrimSpace(trimmed[i+len(base64Marker):])
	}
	return trimmed
}

func decodeBase64(payload string) ([]byte, error) {
	// Wrapped payloads are common; line breaks are not part of the data.
	compact := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
