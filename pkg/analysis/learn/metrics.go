package learn

import (
	"gonum.org/v1/gonum/stat"
)

// Accuracy is the fraction of matching labels.
func Accuracy(truth, pred []string) float64 {
	if len(truth) == 0 {
		return 0
	}
	hit := 0
	for i := range truth {
		if truth[i] == pred[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(truth))
}

// Confusion counts predictions per (truth, predicted) class pair, in
// classes order.
func Confusion(classes, truth, pred []string) [][]int {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	out := make([][]int, len(classes))
	for i := range out {
		out[i] = make([]int, len(classes))
	}
	for i := range truth {
		t, ok1 := index[truth[i]]
		p, ok2 := index[pred[i]]
		if ok1 && ok2 {
			out[t][p]++
		}
	}
	return out
}

// MSE is the mean squared error.
func MSE(truth, pred []float64) float64 {
	if len(truth) == 0 {
		return 0
	}
	var s float64
	for i := range truth {
		d := truth[i] - pred[i]
		s += d * d
	}
	return s / float64(len(truth))
}

// R2 is the coefficient of determination.
func R2(truth, pred []float64) float64 {
	if len(truth) < 2 {
		return 0
	}
	return stat.RSquaredFrom(pred, truth, nil)
}
