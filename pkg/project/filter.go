package project

import (
	"fmt"

	"github.com/3leaps/gomian/pkg/request"
)

// ApplySampleFilter keeps samples whose metadata value passes f. Samples
// with no metadata row are dropped when the filter is active.
func ApplySampleFilter(m *Matrix, md *Metadata, f request.Filter) (*Matrix, error) {
	if !f.Active() {
		return m, nil
	}
	values, err := md.ValuesFor(f.Column, m.Samples)
	if err != nil {
		return nil, err
	}
	return m.SelectSamples(func(_ int, s string) bool {
		v, ok := values[s]
		return ok && f.Keep(v)
	}), nil
}

// ApplyTaxonomyFilter keeps OTUs whose label at the filter's rank passes f.
func ApplyTaxonomyFilter(m *Matrix, tax *TaxonomyMap, f request.Filter) (*Matrix, error) {
	if !f.Active() {
		return m, nil
	}
	level, ok := RankIndex(f.Column)
	if !ok {
		return nil, fmt.Errorf("taxonomy rank %q: %w", f.Column, ErrNotFound)
	}
	return m.SelectFeatures(func(_ int, otu string) bool {
		return f.Keep(tax.At(otu, level))
	}), nil
}

// ApplyLowExpression drops features whose abundance is below the count
// threshold in more than prevalence percent of samples.
func ApplyLowExpression(m *Matrix, le request.LowExpression) *Matrix {
	count, prevalence, ok := le.Thresholds()
	if !ok || m.Rows() == 0 {
		return m
	}
	n := float64(m.Rows())
	return m.SelectFeatures(func(j int, _ string) bool {
		low := 0
		for _, row := range m.Values {
			if row[j] < count {
				low++
			}
		}
		return float64(low)/n*100 <= prevalence
	})
}

// Aggregate sums OTU columns that share a label at level. Levels below 0
// return m unchanged. Output columns follow first-seen label order.
func Aggregate(m *Matrix, tax *TaxonomyMap, level int) *Matrix {
	if level < 0 {
		return m
	}
	index := map[string]int{}
	var labels []string
	target := make([]int, m.Cols())
	for j, otu := range m.Features {
		label := tax.At(otu, level)
		k, ok := index[label]
		if !ok {
			k = len(labels)
			index[label] = k
			labels = append(labels, label)
		}
		target[j] = k
	}
	out := &Matrix{
		Samples:  append([]string(nil), m.Samples...),
		Features: labels,
		Values:   make([][]float64, len(m.Values)),
	}
	for i, row := range m.Values {
		nr := make([]float64, len(labels))
		for j, v := range row {
			nr[target[j]] += v
		}
		out.Values[i] = nr
	}
	return out
}
