package learn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// MLP is a fully connected network with ReLU hidden layers, trained by
// stochastic gradient descent. Classification uses a softmax output;
// regression a single linear unit with squared error.
type MLP struct {
	Hidden       []int
	Epochs       int
	LearningRate float64
	Regression   bool

	Classes []string
	layers  []layer
	scaler  *Scaler
	yMean   float64
	yStd    float64
}

type layer struct {
	w [][]float64 // w[out][in]
	b []float64
}

// History records the training loss per epoch.
type History struct {
	Loss []float64
}

// FitClassifier trains the network on class labels.
func (m *MLP) FitClassifier(X [][]float64, y []string, rng *rand.Rand) (*History, error) {
	m.Regression = false
	m.Classes = Classes(y)
	index := make(map[string]int, len(m.Classes))
	for i, c := range m.Classes {
		index[c] = i
	}
	targets := make([][]float64, len(y))
	for i, v := range y {
		t := make([]float64, len(m.Classes))
		t[index[v]] = 1
		targets[i] = t
	}
	return m.fit(X, targets, rng)
}

// FitRegressor trains the network on continuous targets.
func (m *MLP) FitRegressor(X [][]float64, y []float64, rng *rand.Rand) (*History, error) {
	m.Regression = true
	m.yMean = floats.Sum(y) / float64(max(1, len(y)))
	var ss float64
	for _, v := range y {
		ss += (v - m.yMean) * (v - m.yMean)
	}
	m.yStd = math.Sqrt(ss / float64(max(1, len(y))))
	if m.yStd == 0 {
		m.yStd = 1
	}
	targets := make([][]float64, len(y))
	for i, v := range y {
		targets[i] = []float64{(v - m.yMean) / m.yStd}
	}
	return m.fit(X, targets, rng)
}

func (m *MLP) fit(X [][]float64, targets [][]float64, rng *rand.Rand) (*History, error) {
	if len(X) == 0 || len(X) != len(targets) {
		return nil, ErrEmpty
	}
	if m.Epochs <= 0 {
		m.Epochs = 50
	}
	if m.LearningRate <= 0 {
		m.LearningRate = 0.01
	}
	m.scaler = FitScaler(X)
	Z := m.scaler.Transform(X)

	sizes := append([]int{len(Z[0])}, m.Hidden...)
	sizes = append(sizes, len(targets[0]))
	m.layers = make([]layer, len(sizes)-1)
	for l := range m.layers {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(2 / float64(in))
		w := make([][]float64, out)
		for o := range w {
			w[o] = make([]float64, in)
			for i := range w[o] {
				w[o][i] = rng.NormFloat64() * scale
			}
		}
		m.layers[l] = layer{w: w, b: make([]float64, out)}
	}

	hist := &History{}
	for epoch := 0; epoch < m.Epochs; epoch++ {
		var loss float64
		for _, i := range rng.Perm(len(Z)) {
			loss += m.step(Z[i], targets[i])
		}
		hist.Loss = append(hist.Loss, loss/float64(len(Z)))
	}
	return hist, nil
}

// forward returns the activations of every layer, input first.
func (m *MLP) forward(x []float64) [][]float64 {
	acts := [][]float64{x}
	for l, ly := range m.layers {
		in := acts[len(acts)-1]
		out := make([]float64, len(ly.w))
		for o := range ly.w {
			out[o] = floats.Dot(ly.w[o], in) + ly.b[o]
			if l < len(m.layers)-1 && out[o] < 0 {
				out[o] = 0
			}
		}
		acts = append(acts, out)
	}
	last := acts[len(acts)-1]
	if !m.Regression {
		softmax(last)
	}
	return acts
}

func (m *MLP) step(x, target []float64) float64 {
	acts := m.forward(x)
	out := acts[len(acts)-1]
	delta := make([]float64, len(out))
	var loss float64
	for o := range out {
		delta[o] = out[o] - target[o]
		if m.Regression {
			loss += delta[o] * delta[o] / 2
		} else if target[o] > 0 {
			loss -= math.Log(math.Max(out[o], 1e-12))
		}
	}
	for l := len(m.layers) - 1; l >= 0; l-- {
		ly := m.layers[l]
		in := acts[l]
		var prev []float64
		if l > 0 {
			prev = make([]float64, len(in))
			for o := range ly.w {
				floats.AddScaled(prev, delta[o], ly.w[o])
			}
			for i := range prev {
				if in[i] <= 0 {
					prev[i] = 0
				}
			}
		}
		for o := range ly.w {
			floats.AddScaled(ly.w[o], -m.LearningRate*delta[o], in)
			ly.b[o] -= m.LearningRate * delta[o]
		}
		delta = prev
	}
	return loss
}

// PredictClass returns the most likely class for each row.
func (m *MLP) PredictClass(X [][]float64) []string {
	Z := m.scaler.Transform(X)
	out := make([]string, len(Z))
	for i, z := range Z {
		acts := m.forward(z)
		out[i] = m.Classes[floats.MaxIdx(acts[len(acts)-1])]
	}
	return out
}

// PredictValue returns regression predictions for each row.
func (m *MLP) PredictValue(X [][]float64) []float64 {
	Z := m.scaler.Transform(X)
	out := make([]float64, len(Z))
	for i, z := range Z {
		acts := m.forward(z)
		out[i] = acts[len(acts)-1][0]*m.yStd + m.yMean
	}
	return out
}

func softmax(v []float64) {
	mx := floats.Max(v)
	var s float64
	for i := range v {
		v[i] = math.Exp(v[i] - mx)
		s += v[i]
	}
	floats.Scale(1/s, v)
}
