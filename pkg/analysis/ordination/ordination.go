// Package ordination reduces abundance matrices to a few dimensions (PCA,
// PCoA, NMDS) and orders rows by hierarchical clustering.
package ordination

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrDegenerate is returned when the input has too few rows or columns.
var ErrDegenerate = errors.New("ordination: input too small")

// PCAResult holds sample scores and explained variance.
type PCAResult struct {
	// Scores[i][k] is row i projected on component k.
	Scores [][]float64
	// Explained is the fraction of variance per component.
	Explained []float64
}

// PCA projects the rows of X onto their principal components.
func PCA(X *mat.Dense) (*PCAResult, error) {
	if X == nil {
		return nil, ErrDegenerate
	}
	r, c := X.Dims()
	if r < 2 || c < 1 {
		return nil, ErrDegenerate
	}
	var pc stat.PC
	if ok := pc.PrincipalComponents(X, nil); !ok {
		return nil, errors.New("ordination: PCA did not converge")
	}
	k := min(r, c)
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	centered := center(X)
	var scores mat.Dense
	scores.Mul(centered, vecs.Slice(0, c, 0, k))

	var total float64
	for _, v := range vars {
		total += v
	}
	explained := make([]float64, k)
	for i := 0; i < k && i < len(vars); i++ {
		if total > 0 {
			explained[i] = vars[i] / total
		}
	}
	return &PCAResult{Scores: rowsOf(&scores), Explained: explained}, nil
}

// PCoA performs classical multidimensional scaling of a distance matrix
// into dims dimensions.
func PCoA(d mat.Symmetric, dims int) ([][]float64, error) {
	n := d.SymmetricDim()
	if n < 2 {
		return nil, ErrDegenerate
	}
	// Double-center -0.5 * D^2.
	b := mat.NewSymDense(n, nil)
	rowMean := make([]float64, n)
	var all float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := d.At(i, j)
			rowMean[i] += v * v
		}
		all += rowMean[i]
		rowMean[i] /= float64(n)
	}
	all /= float64(n * n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := d.At(i, j)
			b.SetSym(i, j, -0.5*(v*v-rowMean[i]-rowMean[j]+all))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(b, true); !ok {
		return nil, errors.New("ordination: eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return vals[order[a]] > vals[order[b]] })

	dims = min(dims, n)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, dims)
		for k := 0; k < dims; k++ {
			col := order[k]
			if vals[col] > 0 {
				out[i][k] = vecs.At(i, col) * math.Sqrt(vals[col])
			}
		}
	}
	return out, nil
}

// NMDSResult holds a non-metric embedding and its Kruskal stress.
type NMDSResult struct {
	Points [][]float64
	Stress float64
}

// NMDS embeds a distance matrix in dims dimensions by SMACOF iterations
// against monotone (isotonic) disparities, starting from PCoA.
func NMDS(d mat.Symmetric, dims, maxIter int, rng *rand.Rand) (*NMDSResult, error) {
	n := d.SymmetricDim()
	if n < 3 {
		return nil, ErrDegenerate
	}
	x, err := PCoA(d, dims)
	if err != nil {
		return nil, err
	}
	for i := range x {
		for k := range x[i] {
			x[i][k] += rng.NormFloat64() * 1e-6
		}
	}

	type pair struct{ i, j int }
	var pairs []pair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, pair{i, j})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		return d.At(pairs[a].i, pairs[a].j) < d.At(pairs[b].i, pairs[b].j)
	})

	stress := math.Inf(1)
	for iter := 0; iter < maxIter; iter++ {
		dist := make([]float64, len(pairs))
		for k, p := range pairs {
			dist[k] = euclid(x[p.i], x[p.j])
		}
		disp := isotonic(dist)
		var num, den float64
		for k := range dist {
			num += (dist[k] - disp[k]) * (dist[k] - disp[k])
			den += dist[k] * dist[k]
		}
		if den == 0 {
			break
		}
		s := math.Sqrt(num / den)
		if stress-s < 1e-7 {
			stress = math.Min(stress, s)
			break
		}
		stress = s

		// Guttman transform.
		next := make([][]float64, n)
		for i := range next {
			next[i] = make([]float64, dims)
		}
		for k, p := range pairs {
			if dist[k] == 0 {
				continue
			}
			ratio := disp[k] / dist[k]
			for c := 0; c < dims; c++ {
				delta := ratio * (x[p.i][c] - x[p.j][c])
				next[p.i][c] += delta
				next[p.j][c] -= delta
			}
		}
		for i := range next {
			for c := range next[i] {
				next[i][c] /= float64(n)
			}
		}
		x = next
	}
	return &NMDSResult{Points: x, Stress: stress}, nil
}

// isotonic returns the least-squares non-decreasing fit of v (pool
// adjacent violators).
func isotonic(v []float64) []float64 {
	type block struct {
		sum   float64
		count int
	}
	var blocks []block
	for _, x := range v {
		blocks = append(blocks, block{x, 1})
		for len(blocks) > 1 {
			a, b := blocks[len(blocks)-2], blocks[len(blocks)-1]
			if a.sum/float64(a.count) <= b.sum/float64(b.count) {
				break
			}
			blocks = blocks[:len(blocks)-2]
			blocks = append(blocks, block{a.sum + b.sum, a.count + b.count})
		}
	}
	out := make([]float64, 0, len(v))
	for _, b := range blocks {
		m := b.sum / float64(b.count)
		for i := 0; i < b.count; i++ {
			out = append(out, m)
		}
	}
	return out
}

func euclid(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += (a[i] - b[i]) * (a[i] - b[i])
	}
	return math.Sqrt(s)
}

func center(X *mat.Dense) *mat.Dense {
	r, c := X.Dims()
	out := mat.DenseCopyOf(X)
	for j := 0; j < c; j++ {
		m := stat.Mean(mat.Col(nil, j, X), nil)
		for i := 0; i < r; i++ {
			out.Set(i, j, out.At(i, j)-m)
		}
	}
	return out
}

func rowsOf(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}
