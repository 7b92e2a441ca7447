// Package learn implements the small supervised models the analysis
// variants train: elastic-net regression, logistic classification, random
// forests, and a multilayer perceptron.
package learn

import (
	"math/rand/v2"
)

// DefaultSeed is used when a request does not fix the split.
const DefaultSeed = 0

// NewRand returns a deterministic generator for seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
}

// Split partitions 0..n-1 into training and test indices. A proportion
// outside (0, 1) puts everything in the training set.
func Split(n int, proportion float64, rng *rand.Rand) (train, test []int) {
	idx := rng.Perm(n)
	if proportion <= 0 || proportion >= 1 {
		return idx, nil
	}
	cut := int(float64(n)*proportion + 0.5)
	if cut < 1 {
		cut = 1
	}
	if cut >= n {
		cut = n - 1
	}
	return idx[:cut], idx[cut:]
}

// KFold partitions 0..n-1 into k folds of near-equal size.
func KFold(n, k int, rng *rand.Rand) [][]int {
	if k < 2 {
		k = 2
	}
	if k > n {
		k = n
	}
	idx := rng.Perm(n)
	folds := make([][]int, k)
	for i, v := range idx {
		folds[i%k] = append(folds[i%k], v)
	}
	return folds
}

// Complement returns the indices in 0..n-1 not in fold.
func Complement(n int, fold []int) []int {
	skip := make(map[int]bool, len(fold))
	for _, i := range fold {
		skip[i] = true
	}
	out := make([]int, 0, n-len(fold))
	for i := 0; i < n; i++ {
		if !skip[i] {
			out = append(out, i)
		}
	}
	return out
}

// Rows selects rows of X by index.
func Rows(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for k, i := range idx {
		out[k] = X[i]
	}
	return out
}

// Pick selects elements of v by index.
func Pick[T any](v []T, idx []int) []T {
	out := make([]T, len(idx))
	for k, i := range idx {
		out[k] = v[i]
	}
	return out
}
