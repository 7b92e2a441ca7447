package project

import (
	"gonum.org/v1/gonum/mat"
)

// Matrix is an abundance table: one row per sample, one column per OTU or
// aggregated taxon.
type Matrix struct {
	Samples  []string
	Features []string

	// Values[i][j] is the abundance of feature j in sample i.
	Values [][]float64
}

// Rows returns the number of samples.
func (m *Matrix) Rows() int { return len(m.Samples) }

// Cols returns the number of features.
func (m *Matrix) Cols() int { return len(m.Features) }

// Dense copies the values into a gonum matrix. An empty matrix returns nil.
func (m *Matrix) Dense() *mat.Dense {
	r, c := m.Rows(), m.Cols()
	if r == 0 || c == 0 {
		return nil
	}
	data := make([]float64, 0, r*c)
	for _, row := range m.Values {
		data = append(data, row...)
	}
	return mat.NewDense(r, c, data)
}

// Column returns a copy of feature j across all samples.
func (m *Matrix) Column(j int) []float64 {
	out := make([]float64, len(m.Values))
	for i, row := range m.Values {
		out[i] = row[j]
	}
	return out
}

// FeatureIndex returns the column index of name, or -1.
func (m *Matrix) FeatureIndex(name string) int {
	for j, f := range m.Features {
		if f == name {
			return j
		}
	}
	return -1
}

// RowSums returns the total abundance of each sample.
func (m *Matrix) RowSums() []float64 {
	out := make([]float64, len(m.Values))
	for i, row := range m.Values {
		for _, v := range row {
			out[i] += v
		}
	}
	return out
}

// SelectSamples returns a new matrix holding the rows for which keep is true.
func (m *Matrix) SelectSamples(keep func(i int, sample string) bool) *Matrix {
	out := &Matrix{Features: append([]string(nil), m.Features...)}
	for i, s := range m.Samples {
		if keep(i, s) {
			out.Samples = append(out.Samples, s)
			out.Values = append(out.Values, append([]float64(nil), m.Values[i]...))
		}
	}
	return out
}

// SelectFeatures returns a new matrix holding the columns for which keep is true.
func (m *Matrix) SelectFeatures(keep func(j int, feature string) bool) *Matrix {
	var cols []int
	out := &Matrix{Samples: append([]string(nil), m.Samples...)}
	for j, f := range m.Features {
		if keep(j, f) {
			cols = append(cols, j)
			out.Features = append(out.Features, f)
		}
	}
	out.Values = make([][]float64, len(m.Values))
	for i, row := range m.Values {
		nr := make([]float64, len(cols))
		for k, j := range cols {
			nr[k] = row[j]
		}
		out.Values[i] = nr
	}
	return out
}

// Relative returns a copy with each row scaled to sum to one. Rows that sum
// to zero are left as zeros.
func (m *Matrix) Relative() *Matrix {
	out := &Matrix{
		Samples:  append([]string(nil), m.Samples...),
		Features: append([]string(nil), m.Features...),
		Values:   make([][]float64, len(m.Values)),
	}
	sums := m.RowSums()
	for i, row := range m.Values {
		nr := make([]float64, len(row))
		if sums[i] != 0 {
			for j, v := range row {
				nr[j] = v / sums[i]
			}
		}
		out.Values[i] = nr
	}
	return out
}
