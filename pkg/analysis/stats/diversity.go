// Package stats holds the statistical routines shared by analysis variants:
// diversity indices, distances, hypothesis tests, and PERMANOVA.
package stats

import (
	"fmt"
	"math"
)

// AlphaMetric names an alpha diversity index.
type AlphaMetric string

const (
	Shannon        AlphaMetric = "shannon"
	Simpson        AlphaMetric = "simpson"
	InverseSimpson AlphaMetric = "invsimpson"
	Richness       AlphaMetric = "richness"
)

// Alpha computes the diversity index of one sample's counts.
func Alpha(metric AlphaMetric, counts []float64) (float64, error) {
	switch metric {
	case Shannon:
		return shannon(counts), nil
	case Simpson:
		return 1 - dominance(counts), nil
	case InverseSimpson:
		d := dominance(counts)
		if d == 0 {
			return 0, nil
		}
		return 1 / d, nil
	case Richness:
		n := 0
		for _, c := range counts {
			if c > 0 {
				n++
			}
		}
		return float64(n), nil
	}
	return 0, fmt.Errorf("unknown alpha metric %q", metric)
}

func total(counts []float64) float64 {
	var s float64
	for _, c := range counts {
		s += c
	}
	return s
}

func shannon(counts []float64) float64 {
	n := total(counts)
	if n == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c > 0 {
			p := c / n
			h -= p * math.Log(p)
		}
	}
	return h
}

// dominance is the sum of squared proportions.
func dominance(counts []float64) float64 {
	n := total(counts)
	if n == 0 {
		return 0
	}
	var d float64
	for _, c := range counts {
		p := c / n
		d += p * p
	}
	return d
}
