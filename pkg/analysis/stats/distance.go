package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DistanceMetric names a beta diversity distance.
type DistanceMetric string

const (
	BrayCurtis DistanceMetric = "braycurtis"
	Jaccard    DistanceMetric = "jaccard"
	Euclidean  DistanceMetric = "euclidean"
)

// Distance returns the distance between two abundance vectors.
func Distance(metric DistanceMetric, a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector lengths differ: %d != %d", len(a), len(b))
	}
	switch metric {
	case BrayCurtis:
		var num, den float64
		for i := range a {
			num += math.Abs(a[i] - b[i])
			den += a[i] + b[i]
		}
		if den == 0 {
			return 0, nil
		}
		return num / den, nil
	case Jaccard:
		var inter, union float64
		for i := range a {
			pa, pb := a[i] > 0, b[i] > 0
			if pa && pb {
				inter++
			}
			if pa || pb {
				union++
			}
		}
		if union == 0 {
			return 0, nil
		}
		return 1 - inter/union, nil
	case Euclidean:
		return floats.Distance(a, b, 2), nil
	}
	return 0, fmt.Errorf("unknown distance metric %q", metric)
}

// DistanceMatrix computes the symmetric pairwise distance matrix of rows.
func DistanceMatrix(metric DistanceMetric, rows [][]float64) (*mat.SymDense, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("no rows")
	}
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v, err := Distance(metric, rows[i], rows[j])
			if err != nil {
				return nil, err
			}
			d.SetSym(i, j, v)
		}
	}
	return d, nil
}
