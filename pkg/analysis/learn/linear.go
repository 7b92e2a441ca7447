package learn

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrEmpty is returned when a model is fit on no data.
var ErrEmpty = errors.New("learn: empty training set")

// ElasticNet is a linear regression with combined L1/L2 penalty, fit by
// coordinate descent on standardized features.
type ElasticNet struct {
	// Lambda is the overall penalty strength.
	Lambda float64
	// L1Ratio mixes the penalties: 1 is lasso, 0 is ridge.
	L1Ratio float64
	MaxIter int
	Tol     float64

	Coef      []float64
	Intercept float64
	scaler    *Scaler
}

// Fit trains the model.
func (m *ElasticNet) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return ErrEmpty
	}
	if m.MaxIter <= 0 {
		m.MaxIter = 1000
	}
	if m.Tol <= 0 {
		m.Tol = 1e-6
	}
	m.scaler = FitScaler(X)
	Z := m.scaler.Transform(X)
	n, p := len(Z), len(Z[0])
	ym := stat.Mean(y, nil)
	resid := make([]float64, n)
	for i := range y {
		resid[i] = y[i] - ym
	}
	beta := make([]float64, p)
	l1 := m.Lambda * m.L1Ratio
	l2 := m.Lambda * (1 - m.L1Ratio)

	for iter := 0; iter < m.MaxIter; iter++ {
		var maxDelta float64
		for j := 0; j < p; j++ {
			var rho, zz float64
			for i := 0; i < n; i++ {
				rho += Z[i][j] * (resid[i] + Z[i][j]*beta[j])
				zz += Z[i][j] * Z[i][j]
			}
			rho /= float64(n)
			zz /= float64(n)
			nb := softThreshold(rho, l1) / (zz + l2)
			if zz == 0 {
				nb = 0
			}
			if d := nb - beta[j]; d != 0 {
				for i := 0; i < n; i++ {
					resid[i] -= Z[i][j] * d
				}
				maxDelta = math.Max(maxDelta, math.Abs(d))
				beta[j] = nb
			}
		}
		if maxDelta < m.Tol {
			break
		}
	}

	m.Coef = beta
	m.Intercept = ym
	return nil
}

// Predict returns predictions for X.
func (m *ElasticNet) Predict(X [][]float64) []float64 {
	Z := m.scaler.Transform(X)
	out := make([]float64, len(Z))
	for i, row := range Z {
		out[i] = m.Intercept + floats.Dot(row, m.Coef)
	}
	return out
}

func softThreshold(x, t float64) float64 {
	switch {
	case x > t:
		return x - t
	case x < -t:
		return x + t
	}
	return 0
}
