package learn

import (
	"math"
	"math/rand/v2"
	"sort"
)

// RandomForest is a bagged ensemble of CART classification trees.
type RandomForest struct {
	NumTrees int
	MaxDepth int
	// MaxFeatures is the number of features tried per split; zero means sqrt(p).
	MaxFeatures int
	MinLeaf     int

	Classes []string
	trees   []*node
	// importance is the mean decrease in Gini impurity per feature.
	importance []float64
}

type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	class     int
}

func (n *node) leaf() bool { return n.left == nil }

// Fit grows the forest.
func (f *RandomForest) Fit(X [][]float64, y []string, rng *rand.Rand) error {
	if len(X) == 0 || len(X) != len(y) {
		return ErrEmpty
	}
	if f.NumTrees <= 0 {
		f.NumTrees = 100
	}
	if f.MinLeaf <= 0 {
		f.MinLeaf = 1
	}
	p := len(X[0])
	mtry := f.MaxFeatures
	if mtry <= 0 {
		mtry = int(math.Max(1, math.Sqrt(float64(p))))
	}
	f.Classes = Classes(y)
	index := make(map[string]int, len(f.Classes))
	for i, c := range f.Classes {
		index[c] = i
	}
	labels := make([]int, len(y))
	for i, v := range y {
		labels[i] = index[v]
	}

	f.importance = make([]float64, p)
	f.trees = make([]*node, 0, f.NumTrees)
	n := len(X)
	for t := 0; t < f.NumTrees; t++ {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.IntN(n)
		}
		g := &grower{X: X, y: labels, k: len(f.Classes), mtry: mtry, maxDepth: f.MaxDepth, minLeaf: f.MinLeaf, rng: rng, importance: f.importance}
		f.trees = append(f.trees, g.grow(sample, 0))
	}
	var total float64
	for _, v := range f.importance {
		total += v
	}
	if total > 0 {
		for j := range f.importance {
			f.importance[j] /= total
		}
	}
	return nil
}

// Predict returns the majority vote of the trees for each row.
func (f *RandomForest) Predict(X [][]float64) []string {
	out := make([]string, len(X))
	votes := make([]int, len(f.Classes))
	for i, row := range X {
		for k := range votes {
			votes[k] = 0
		}
		for _, t := range f.trees {
			votes[classify(t, row)]++
		}
		best := 0
		for k := range votes {
			if votes[k] > votes[best] {
				best = k
			}
		}
		out[i] = f.Classes[best]
	}
	return out
}

// Importance returns the normalized mean decrease in impurity per feature.
func (f *RandomForest) Importance() []float64 {
	return append([]float64(nil), f.importance...)
}

func classify(n *node, row []float64) int {
	for !n.leaf() {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.class
}

type grower struct {
	X          [][]float64
	y          []int
	k          int
	mtry       int
	maxDepth   int
	minLeaf    int
	rng        *rand.Rand
	importance []float64
}

func (g *grower) grow(idx []int, depth int) *node {
	counts := g.counts(idx)
	majority := argmax(counts)
	impurity := gini(counts, len(idx))
	if impurity == 0 || len(idx) < 2*g.minLeaf || (g.maxDepth > 0 && depth >= g.maxDepth) {
		return &node{class: majority}
	}

	p := len(g.X[0])
	features := g.rng.Perm(p)[:min(g.mtry, p)]
	bestGain, bestFeature, bestThreshold := 0.0, -1, 0.0
	for _, j := range features {
		gain, thr, ok := g.bestSplit(idx, j, counts, impurity)
		if ok && gain > bestGain {
			bestGain, bestFeature, bestThreshold = gain, j, thr
		}
	}
	if bestFeature < 0 {
		return &node{class: majority}
	}

	var left, right []int
	for _, i := range idx {
		if g.X[i][bestFeature] <= bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	g.importance[bestFeature] += bestGain * float64(len(idx))
	return &node{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      g.grow(left, depth+1),
		right:     g.grow(right, depth+1),
		class:     majority,
	}
}

func (g *grower) bestSplit(idx []int, j int, parent []int, impurity float64) (float64, float64, bool) {
	order := append([]int(nil), idx...)
	sort.Slice(order, func(a, b int) bool { return g.X[order[a]][j] < g.X[order[b]][j] })
	left := make([]int, g.k)
	right := append([]int(nil), parent...)
	n := len(order)
	best, thr, found := 0.0, 0.0, false
	for pos := 0; pos < n-1; pos++ {
		c := g.y[order[pos]]
		left[c]++
		right[c]--
		a, b := g.X[order[pos]][j], g.X[order[pos+1]][j]
		if a == b || pos+1 < g.minLeaf || n-pos-1 < g.minLeaf {
			continue
		}
		nl, nr := float64(pos+1), float64(n-pos-1)
		w := (nl*gini(left, pos+1) + nr*gini(right, n-pos-1)) / float64(n)
		if gain := impurity - w; gain > best {
			best, thr, found = gain, (a+b)/2, true
		}
	}
	return best, thr, found
}

func (g *grower) counts(idx []int) []int {
	c := make([]int, g.k)
	for _, i := range idx {
		c[g.y[i]]++
	}
	return c
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	s := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		s -= p * p
	}
	return s
}

func argmax(v []int) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
