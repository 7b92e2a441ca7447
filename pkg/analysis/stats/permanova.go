package stats

import (
	"errors"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// PermanovaResult is the outcome of a PERMANOVA test.
type PermanovaResult struct {
	F            float64 `json:"f"`
	PValue       float64 `json:"pval"`
	Permutations int     `json:"permutations"`
	Groups       int     `json:"groups"`
}

// Permanova tests whether group centroids differ in the space of a distance
// matrix. strata, when non-nil, restricts permutations to within each
// stratum.
func Permanova(d mat.Symmetric, groups, strata []string, permutations int, rng *rand.Rand) (PermanovaResult, error) {
	n := d.SymmetricDim()
	if len(groups) != n {
		return PermanovaResult{}, errors.New("groups do not match distance matrix")
	}
	labels, k := encode(groups)
	if k < 2 {
		return PermanovaResult{}, errors.New("need at least two groups")
	}
	if n-k < 1 {
		return PermanovaResult{}, ErrTooFewObservations
	}

	sq := make([][]float64, n)
	var sst float64
	for i := 0; i < n; i++ {
		sq[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			v := d.At(i, j)
			sq[i][j] = v * v
			if j > i {
				sst += sq[i][j]
			}
		}
	}
	sst /= float64(n)

	fstat := func(lab []int) float64 {
		ssw := 0.0
		sizes := make([]float64, k)
		sums := make([]float64, k)
		for _, g := range lab {
			sizes[g]++
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if lab[i] == lab[j] {
					sums[lab[i]] += sq[i][j]
				}
			}
		}
		for g := 0; g < k; g++ {
			if sizes[g] > 0 {
				ssw += sums[g] / sizes[g]
			}
		}
		ssa := sst - ssw
		if ssw == 0 {
			return 0
		}
		return (ssa / float64(k-1)) / (ssw / float64(n-k))
	}

	observed := fstat(labels)
	blocks := permutationBlocks(strata, n)
	perm := append([]int(nil), labels...)
	hits := 0
	for p := 0; p < permutations; p++ {
		for _, block := range blocks {
			rng.Shuffle(len(block), func(i, j int) {
				perm[block[i]], perm[block[j]] = perm[block[j]], perm[block[i]]
			})
		}
		if fstat(perm) >= observed {
			hits++
		}
	}
	pval := float64(hits+1) / float64(permutations+1)
	return PermanovaResult{F: observed, PValue: pval, Permutations: permutations, Groups: k}, nil
}

func permutationBlocks(strata []string, n int) [][]int {
	if len(strata) != n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}
	}
	index := map[string]int{}
	var blocks [][]int
	for i, s := range strata {
		b, ok := index[s]
		if !ok {
			b = len(blocks)
			index[s] = b
			blocks = append(blocks, nil)
		}
		blocks[b] = append(blocks[b], i)
	}
	return blocks
}

func encode(values []string) ([]int, int) {
	index := map[string]int{}
	out := make([]int, len(values))
	for i, v := range values {
		g, ok := index[v]
		if !ok {
			g = len(index)
			index[v] = g
		}
		out[i] = g
	}
	return out, len(index)
}
