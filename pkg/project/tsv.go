package project

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseError reports a malformed project file.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("project: %s line %d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("project: %s: %s", e.File, e.Msg)
}

func readTSV(r io.Reader, file string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, &ParseError{File: file, Msg: err.Error()}
	}
	if len(rows) == 0 {
		return nil, &ParseError{File: file, Msg: "empty file"}
	}
	for i := range rows {
		for j := range rows[i] {
			rows[i][j] = strings.TrimSpace(rows[i][j])
		}
	}
	return rows, nil
}

func parseTable(r io.Reader) (*Matrix, error) {
	rows, err := readTSV(r, TableFile)
	if err != nil {
		return nil, err
	}
	header := rows[0]
	if len(header) < 2 {
		return nil, &ParseError{File: TableFile, Line: 1, Msg: "header needs a sample column and at least one OTU"}
	}
	m := &Matrix{Features: append([]string(nil), header[1:]...)}
	for i, row := range rows[1:] {
		if len(row) == 1 && row[0] == "" {
			continue
		}
		if len(row) != len(header) {
			return nil, &ParseError{File: TableFile, Line: i + 2, Msg: fmt.Sprintf("expected %d fields, got %d", len(header), len(row))}
		}
		vals := make([]float64, len(row)-1)
		for j, cell := range row[1:] {
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, &ParseError{File: TableFile, Line: i + 2, Msg: fmt.Sprintf("column %q: %v", header[j+1], err)}
			}
			vals[j] = v
		}
		m.Samples = append(m.Samples, row[0])
		m.Values = append(m.Values, vals)
	}
	return m, nil
}

func parseTaxonomy(r io.Reader) (*TaxonomyMap, error) {
	rows, err := readTSV(r, TaxonomyFile)
	if err != nil {
		return nil, err
	}
	var otus []string
	lineage := make(map[string][]string, len(rows))
	for _, row := range rows[1:] {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		l := make([]string, len(Ranks))
		copy(l, row[1:])
		if _, dup := lineage[row[0]]; !dup {
			otus = append(otus, row[0])
		}
		lineage[row[0]] = l
	}
	return NewTaxonomyMap(otus, lineage), nil
}

func parseMetadata(r io.Reader) (*Metadata, error) {
	rows, err := readTSV(r, MetadataFile)
	if err != nil {
		return nil, err
	}
	header := rows[0]
	columns := append([]string(nil), header[1:]...)
	values := make(map[string][]string, len(columns))
	var samples []string
	for _, row := range rows[1:] {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		samples = append(samples, row[0])
		for j, c := range columns {
			v := ""
			if j+1 < len(row) {
				v = row[j+1]
			}
			values[c] = append(values[c], v)
		}
	}
	return NewMetadata(samples, columns, values), nil
}
