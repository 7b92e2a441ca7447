package learn

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Loss names a classifier loss.
type Loss string

const (
	LogLoss   Loss = "log"
	HingeLoss Loss = "hinge"
)

// LinearClassifier is a one-vs-rest linear model trained by proximal
// gradient descent with an elastic-net penalty.
type LinearClassifier struct {
	Loss         Loss
	Lambda       float64
	L1Ratio      float64
	MaxIter      int
	LearningRate float64

	Classes   []string
	Weights   [][]float64
	Intercept []float64
	scaler    *Scaler
}

// Fit trains one binary model per class.
func (m *LinearClassifier) Fit(X [][]float64, y []string) error {
	if len(X) == 0 || len(X) != len(y) {
		return ErrEmpty
	}
	if m.MaxIter <= 0 {
		m.MaxIter = 500
	}
	if m.LearningRate <= 0 {
		m.LearningRate = 0.1
	}
	m.Classes = Classes(y)
	m.scaler = FitScaler(X)
	Z := m.scaler.Transform(X)
	n, p := len(Z), len(Z[0])

	binary := m.Classes
	if len(m.Classes) == 2 {
		binary = m.Classes[1:]
	}
	m.Weights = make([][]float64, len(binary))
	m.Intercept = make([]float64, len(binary))
	grad := make([]float64, p)
	for k, cls := range binary {
		w := make([]float64, p)
		var b float64
		for iter := 0; iter < m.MaxIter; iter++ {
			for j := range grad {
				grad[j] = 0
			}
			var gb float64
			for i := 0; i < n; i++ {
				t := -1.0
				if y[i] == cls {
					t = 1
				}
				s := floats.Dot(w, Z[i]) + b
				g := m.lossGrad(s, t)
				floats.AddScaled(grad, g/float64(n), Z[i])
				gb += g / float64(n)
			}
			for j := range w {
				w[j] -= m.LearningRate * (grad[j] + m.Lambda*(1-m.L1Ratio)*w[j])
				w[j] = softThreshold(w[j], m.LearningRate*m.Lambda*m.L1Ratio)
			}
			b -= m.LearningRate * gb
		}
		m.Weights[k] = w
		m.Intercept[k] = b
	}
	return nil
}

// lossGrad is d(loss)/d(score) for target t in {-1, 1}.
func (m *LinearClassifier) lossGrad(s, t float64) float64 {
	if m.Loss == HingeLoss {
		if t*s < 1 {
			return -t
		}
		return 0
	}
	return -t / (1 + math.Exp(t*s))
}

// Scores returns the per-class decision values for one row.
func (m *LinearClassifier) scores(z []float64) []float64 {
	if len(m.Classes) == 2 {
		s := floats.Dot(m.Weights[0], z) + m.Intercept[0]
		return []float64{-s, s}
	}
	out := make([]float64, len(m.Weights))
	for k := range m.Weights {
		out[k] = floats.Dot(m.Weights[k], z) + m.Intercept[k]
	}
	return out
}

// Predict returns the most likely class for each row.
func (m *LinearClassifier) Predict(X [][]float64) []string {
	Z := m.scaler.Transform(X)
	out := make([]string, len(Z))
	for i, z := range Z {
		out[i] = m.Classes[floats.MaxIdx(m.scores(z))]
	}
	return out
}

// Importance returns the largest absolute weight of each feature across
// the binary models.
func (m *LinearClassifier) Importance() []float64 {
	if len(m.Weights) == 0 {
		return nil
	}
	out := make([]float64, len(m.Weights[0]))
	for _, w := range m.Weights {
		for j, v := range w {
			out[j] = math.Max(out[j], math.Abs(v))
		}
	}
	return out
}

// Classes returns the sorted distinct labels.
func Classes(y []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
