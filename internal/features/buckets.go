package features

import "math"

type bucket int

const (
	bucketGrey bucket = iota
	bucketBrown
	bucketBlue
	bucketWarm
	bucketCount
)

func (b bucket) String() string {
	switch b {
	case bucketGrey:
		return "grey"
	case bucketBrown:
		return "brown"
	case bucketBlue:
		return "blue"
	case bucketWarm:
		return "warm"
	default:
		return "unknown"
	}
}

type pixel struct {
	r, g, b float64
}

func (p pixel) intensity() float64 {
	return (p.r + p.g + p.b) / 3
}

func (p pixel) chroma() float64 {
	return math.Max(p.r, math.Max(p.g, p.b)) - math.Min(p.r, math.Min(p.g, p.b))
}

// colourRules is evaluated in order; a pixel lands in the first bucket
// whose predicate holds and in no other.
var colourRules = []struct {
	bucket bucket
	match  func(pixel) bool
}{
	{bucketGrey, func(p pixel) bool {
		return p.chroma() < 0.08 && p.intensity() > 0.6
	}},
	{bucketBrown, func(p pixel) bool {
		return p.r > p.g && p.g > p.b && p.r-p.b > 0.15
	}},
	{bucketBlue, func(p pixel) bool {
		return p.b > p.r && p.b > p.g && p.b-math.Max(p.r, p.g) > 0.1
	}},
	{bucketWarm, func(p pixel) bool {
		return p.r > 0.5 && p.g > 0.4 && p.b < 0.4
	}},
}

func classify(p pixel) (bucket, bool) {
	for _, rule := range colourRules {
		if rule.match(p) {
			return rule.bucket, true
		}
	}
	return 0, false
}
