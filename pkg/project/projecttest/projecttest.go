// Package projecttest writes small on-disk projects for tests.
package projecttest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Fixture identifiers.
const (
	UserID    = "alice"
	ProjectID = "p1"
	SharedID  = "p2"
)

// Samples in the fixture table, split evenly between groups A and B.
var Samples = []string{"S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8"}

// OTUs in the fixture table.
var OTUs = []string{"otu1", "otu2", "otu3", "otu4", "otu5"}

var counts = [][]int{
	{10, 0, 5, 1, 30},
	{12, 1, 4, 0, 25},
	{9, 0, 6, 2, 28},
	{11, 2, 5, 0, 33},
	{2, 20, 1, 8, 5},
	{3, 18, 0, 9, 4},
	{1, 22, 2, 7, 6},
	{2, 19, 1, 10, 3},
}

var lineage = [][]string{
	{"Bacteria", "Firmicutes", "Bacilli", "Lactobacillales", "Lactobacillaceae", "Lactobacillus", ""},
	{"Bacteria", "Bacteroidetes", "Bacteroidia", "Bacteroidales", "Bacteroidaceae", "Bacteroides", ""},
	{"Bacteria", "Firmicutes", "Clostridia", "Clostridiales", "Ruminococcaceae", "Faecalibacterium", ""},
	{"Bacteria", "Proteobacteria", "Gammaproteobacteria", "Enterobacterales", "Enterobacteriaceae", "Escherichia", "coli"},
	{"Bacteria", "Firmicutes", "Bacilli", "Lactobacillales", "Streptococcaceae", "Streptococcus", ""},
}

// Root creates a data root holding two projects for UserID: ProjectID
// (private) and SharedID (shared). It returns the root directory.
func Root(t testing.TB) string {
	t.Helper()
	root := t.TempDir()
	Write(t, root, UserID, ProjectID, false)
	Write(t, root, UserID, SharedID, true)
	return root
}

// Write lays out one fixture project under root.
func Write(t testing.TB, root, uid, pid string, shared bool) {
	t.Helper()
	dir := filepath.Join(root, uid, pid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	descriptor := fmt.Sprintf("name: Fixture %s\nshared: %t\ncreated_at: 2024-03-01T12:00:00Z\norig_filename: %s.biom\nsubsampled_value: 40\n", pid, shared, pid)
	writeFile(t, filepath.Join(dir, "project.yaml"), descriptor)

	var table strings.Builder
	table.WriteString("Sample\t" + strings.Join(OTUs, "\t") + "\n")
	for i, s := range Samples {
		table.WriteString(s)
		for _, c := range counts[i] {
			fmt.Fprintf(&table, "\t%d", c)
		}
		table.WriteString("\n")
	}
	writeFile(t, filepath.Join(dir, "otu_table.tsv"), table.String())

	var tax strings.Builder
	tax.WriteString("OTU\tKingdom\tPhylum\tClass\tOrder\tFamily\tGenus\tSpecies\n")
	for i, otu := range OTUs {
		tax.WriteString(otu + "\t" + strings.Join(lineage[i], "\t") + "\n")
	}
	writeFile(t, filepath.Join(dir, "otu_taxonomy_map.tsv"), tax.String())

	var md strings.Builder
	md.WriteString("Sample\tGroup\tAge\tSite\n")
	for i, s := range Samples {
		group := "A"
		if i >= len(Samples)/2 {
			group = "B"
		}
		site := "gut"
		if i%2 == 1 {
			site = "skin"
		}
		fmt.Fprintf(&md, "%s\t%s\t%d\t%s\n", s, group, 20+i*5, site)
	}
	writeFile(t, filepath.Join(dir, "otu_metadata.tsv"), md.String())
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
