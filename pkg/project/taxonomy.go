package project

import (
	"strconv"
	"strings"
)

// Ranks are the taxonomic levels, indexed 0 (Kingdom) to 6 (Species).
var Ranks = []string{"Kingdom", "Phylum", "Class", "Order", "Family", "Genus", "Species"}

// Unclassified labels an OTU with no assignment at a rank.
const Unclassified = "unclassified"

// TaxonomyMap holds the lineage of every OTU.
type TaxonomyMap struct {
	OTUs    []string
	lineage map[string][]string
}

// NewTaxonomyMap builds a map from OTU to lineage (Kingdom first).
func NewTaxonomyMap(otus []string, lineage map[string][]string) *TaxonomyMap {
	return &TaxonomyMap{OTUs: otus, lineage: lineage}
}

// Lineage returns a copy of the OTU's lineage, or nil when unknown.
func (t *TaxonomyMap) Lineage(otu string) []string {
	l, ok := t.lineage[otu]
	if !ok {
		return nil
	}
	return append([]string(nil), l...)
}

// At returns the OTU's label at rank level, or Unclassified.
func (t *TaxonomyMap) At(otu string, level int) string {
	l := t.lineage[otu]
	if level < 0 || level >= len(l) {
		return Unclassified
	}
	v := strings.TrimSpace(l[level])
	if v == "" {
		return Unclassified
	}
	return v
}

// Tree returns the taxonomy as nested maps, Kingdom at the top and OTU ids
// as leaves mapped to true.
func (t *TaxonomyMap) Tree() map[string]any {
	root := map[string]any{}
	for _, otu := range t.OTUs {
		node := root
		for level := range Ranks {
			label := t.At(otu, level)
			child, ok := node[label].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[label] = child
			}
			node = child
		}
		node[otu] = true
	}
	return root
}

// LevelsAt returns the distinct labels at a rank in first-seen order.
// LevelOTU (-1) or below returns the OTU ids.
func (t *TaxonomyMap) LevelsAt(level int) []string {
	if level < 0 {
		return append([]string(nil), t.OTUs...)
	}
	seen := map[string]bool{}
	var out []string
	for _, otu := range t.OTUs {
		label := t.At(otu, level)
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	return out
}

// RankIndex resolves a rank given by name ("Phylum") or index ("1").
func RankIndex(column string) (int, bool) {
	if n, err := strconv.Atoi(strings.TrimSpace(column)); err == nil {
		return n, n >= 0 && n < len(Ranks)
	}
	for i, r := range Ranks {
		if strings.EqualFold(r, column) {
			return i, true
		}
	}
	return 0, false
}
