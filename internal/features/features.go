// Package features reduces decoded images to fixed-size colour and texture
// fingerprints and compares them.
package features

import (
	"errors"
	"math"

	"github.com/example/scandish/internal/ppm"
)

// ErrEmptyImage is returned when a grid has no pixels.
var ErrEmptyImage = errors.New("features: image has no pixels")

// Fingerprint summarizes the colour and texture distribution of an image.
// Every field lies in [0,1].
type Fingerprint struct {
	AvgRed   float64 `json:"avgR"`
	AvgGreen float64 `json:"avgG"`
	AvgBlue  float64 `json:"avgB"`

	// Mean intensity change against the right and lower neighbours.
	HorizontalChange float64 `json:"horizontalChange"`
	VerticalChange   float64 `json:"verticalChange"`

	GreyRatio  float64 `json:"greyRatio"`
	BrownRatio float64 `json:"brownRatio"`
	BlueRatio  float64 `json:"blueRatio"`
	WarmRatio  float64 `json:"warmRatio"`
}

// Vector returns the fingerprint fields in a fixed order.
func (f Fingerprint) Vector() [9]float64 {
	return [9]float64{
		f.AvgRed, f.AvgGreen, f.AvgBlue,
		f.HorizontalChange, f.VerticalChange,
		f.GreyRatio, f.BrownRatio, f.BlueRatio, f.WarmRatio,
	}
}

// Distance is the Euclidean distance between two fingerprints.
func Distance(a, b Fingerprint) float64 {
	va, vb := a.Vector(), b.Vector()
	var sum float64
	for i := range va {
		d := va[i] - vb[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Extract computes the fingerprint of g in a single sequential pass.
// Both change signals are divided by the pixel count, not by the number of
// neighbour pairs.
func Extract(g *ppm.Grid) (Fingerprint, error) {
	pixels := g.PixelCount()
	if pixels == 0 {
		return Fingerprint{}, ErrEmptyImage
	}

	var (
		sumR, sumG, sumB float64
		horizontal       float64
		vertical         float64
		buckets          [bucketCount]int
	)

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			r, gr, b := g.RGB(x, y)
			sumR += r
			sumG += gr
			sumB += b

			px := pixel{r: r, g: gr, b: b}
			intensity := px.intensity()

			if x < g.Width-1 {
				nr, ng, nb := g.RGB(x+1, y)
				horizontal += math.Abs(intensity - pixel{nr, ng, nb}.intensity())
			}
			if y < g.Height-1 {
				nr, ng, nb := g.RGB(x, y+1)
				vertical += math.Abs(intensity - pixel{nr, ng, nb}.intensity())
			}

			if kind, ok := classify(px); ok {
				buckets[kind]++
			}
		}
	}

	n := float64(pixels)
	return Fingerprint{
		AvgRed:           sumR / n,
		AvgGreen:         sumG / n,
		AvgBlue:          sumB / n,
		HorizontalChange: horizontal / n,
		VerticalChange:   vertical / n,
		GreyRatio:        float64(buckets[bucketGrey]) / n,
		BrownRatio:       float64(buckets[bucketBrown]) / n,
		BlueRatio:        float64(buckets[bucketBlue]) / n,
		WarmRatio:        float64(buckets[bucketWarm]) / n,
	}, nil
}
