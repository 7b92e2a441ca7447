package project

import (
	"fmt"
	"strconv"
	"strings"
)

// Metadata column types reported to clients.
const (
	TypeNumeric     = "numeric"
	TypeCategorical = "categorical"
)

// Metadata is the per-sample annotation table.
type Metadata struct {
	Samples []string
	Columns []string

	values map[string][]string
}

// NewMetadata builds metadata from column-major values aligned with samples.
func NewMetadata(samples, columns []string, values map[string][]string) *Metadata {
	return &Metadata{Samples: samples, Columns: columns, values: values}
}

// Column returns a copy of a column's values aligned with Samples.
func (m *Metadata) Column(name string) ([]string, error) {
	v, ok := m.values[name]
	if !ok {
		return nil, fmt.Errorf("metadata column %q: %w", name, ErrNotFound)
	}
	return append([]string(nil), v...), nil
}

// Lookup returns the value of column for sample.
func (m *Metadata) Lookup() func(sample, column string) (string, bool) {
	index := make(map[string]int, len(m.Samples))
	for i, s := range m.Samples {
		index[s] = i
	}
	return func(sample, column string) (string, bool) {
		i, ok := index[sample]
		if !ok {
			return "", false
		}
		col, ok := m.values[column]
		if !ok {
			return "", false
		}
		return col[i], true
	}
}

// ValuesFor maps each sample to its value of column. Samples absent from
// the metadata are skipped.
func (m *Metadata) ValuesFor(column string, samples []string) (map[string]string, error) {
	if _, ok := m.values[column]; !ok {
		return nil, fmt.Errorf("metadata column %q: %w", column, ErrNotFound)
	}
	lookup := m.Lookup()
	out := make(map[string]string, len(samples))
	for _, s := range samples {
		if v, ok := lookup(s, column); ok {
			out[s] = v
		}
	}
	return out, nil
}

// Unique returns the distinct non-empty values of a column in first-seen order.
func (m *Metadata) Unique(column string) ([]string, error) {
	vals, err := m.Column(column)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

// ColumnType reports whether every non-empty value parses as a number.
func (m *Metadata) ColumnType(column string) string {
	vals := m.values[column]
	seen := false
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return TypeCategorical
		}
		seen = true
	}
	if !seen {
		return TypeCategorical
	}
	return TypeNumeric
}

// Header is a metadata column name with its inferred type.
type Header struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// HeadersWithType lists the columns with their inferred types.
func (m *Metadata) HeadersWithType() []Header {
	out := make([]Header, 0, len(m.Columns))
	for _, c := range m.Columns {
		out = append(out, Header{Name: c, Type: m.ColumnType(c)})
	}
	return out
}
