package learn

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes columns to zero mean and unit variance.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler learns column statistics from X.
func FitScaler(X [][]float64) *Scaler {
	if len(X) == 0 {
		return &Scaler{}
	}
	p := len(X[0])
	s := &Scaler{Mean: make([]float64, p), Std: make([]float64, p)}
	col := make([]float64, len(X))
	for j := 0; j < p; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		m, v := stat.MeanVariance(col, nil)
		s.Mean[j] = m
		s.Std[j] = math.Sqrt(v)
		if s.Std[j] == 0 || math.IsNaN(s.Std[j]) {
			s.Std[j] = 1
		}
	}
	return s
}

// Transform returns a standardized copy of X.
func (s *Scaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		nr := make([]float64, len(row))
		for j, v := range row {
			nr[j] = (v - s.Mean[j]) / s.Std[j]
		}
		out[i] = nr
	}
	return out
}
