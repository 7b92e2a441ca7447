package ordination

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ClusterOrder returns the leaf order of an average-linkage hierarchical
// clustering of d. Items that merge early end up adjacent.
func ClusterOrder(d mat.Symmetric) []int {
	n := d.SymmetricDim()
	if n == 0 {
		return nil
	}
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			dist[i][j] = d.At(i, j)
		}
	}
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}

	for remaining := n; remaining > 1; remaining-- {
		bi, bj, best := -1, -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if alive[j] && dist[i][j] < best {
					bi, bj, best = i, j, dist[i][j]
				}
			}
		}
		ni, nj := float64(len(clusters[bi])), float64(len(clusters[bj]))
		for k := 0; k < n; k++ {
			if alive[k] && k != bi && k != bj {
				v := (dist[bi][k]*ni + dist[bj][k]*nj) / (ni + nj)
				dist[bi][k], dist[k][bi] = v, v
			}
		}
		clusters[bi] = append(clusters[bi], clusters[bj]...)
		clusters[bj] = nil
		alive[bj] = false
	}
	for i := range alive {
		if alive[i] {
			return clusters[i]
		}
	}
	return nil
}
