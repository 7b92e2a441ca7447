package analysis

import (
	"context"
	"slices"
	"sort"

	"github.com/3leaps/gomian/pkg/analysis/ordination"
	"github.com/3leaps/gomian/pkg/analysis/stats"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
)

// SampleIDAxis selects per-sample columns instead of a metadata grouping.
const SampleIDAxis = "SampleID"

type compositionParams struct {
	PlotType string `attr:"plotType"`
	XAxis    string `attr:"xaxis"`
}

// composition reports mean relative abundance per x-axis group.
func composition(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	var p compositionParams
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	if err := requireRows("composition", m, 1); err != nil {
		return nil, err
	}
	rel := m.Relative()
	groupNames, rows, err := groupRows(ctx, data, rc, rel, p.XAxis)
	if err != nil {
		return nil, err
	}

	var abundances []any
	for g, name := range groupNames {
		abundances = append(abundances, map[string]any{
			"xaxis": name,
			"o":     meanRow(rel, rows[g]),
			"n":     len(rows[g]),
		})
	}
	return Result{
		"taxonomy":   m.Features,
		"abundances": abundances,
		"plotType":   p.PlotType,
	}, nil
}

// groupRows groups the samples of m by a metadata column, or one group per
// sample for SampleIDAxis and empty columns.
func groupRows(ctx context.Context, data project.Accessor, rc *request.Context, m *project.Matrix, column string) ([]string, [][]int, error) {
	if column == "" || column == SampleIDAxis || column == "None" {
		rows := make([][]int, m.Rows())
		for i := range rows {
			rows[i] = []int{i}
		}
		return append([]string(nil), m.Samples...), rows, nil
	}
	lab, err := withLabels(ctx, data, rc, m, column)
	if err != nil {
		return nil, nil, err
	}
	// Map back to indices in m.
	pos := make(map[string]int, m.Rows())
	for i, s := range m.Samples {
		pos[s] = i
	}
	order, idx := groups(lab.labels)
	rows := make([][]int, len(order))
	for g, name := range order {
		for _, i := range idx[name] {
			rows[g] = append(rows[g], pos[lab.m.Samples[i]])
		}
	}
	return order, rows, nil
}

func meanRow(m *project.Matrix, rows []int) []float64 {
	out := make([]float64, m.Cols())
	if len(rows) == 0 {
		return out
	}
	for _, i := range rows {
		for j, v := range m.Values[i] {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(rows))
	}
	return out
}

type compositionHeatmapParams struct {
	Rows             string `attr:"rows"`
	Cols             string `attr:"cols"`
	ClusterSamples   bool   `attr:"clustersamples"`
	ClusterTaxonomic bool   `attr:"clustertaxonomic"`
	ShowLabels       bool   `attr:"showlabels"`
	ColorScheme      string `attr:"colorscheme"`
}

// compositionHeatmap returns a taxa x groups relative abundance grid,
// optionally reordered by hierarchical clustering.
func compositionHeatmap(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	var p compositionHeatmapParams
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	if err := requireRows("composition_heatmap", m, 1); err != nil {
		return nil, err
	}
	rel := m.Relative()
	colNames, colRows, err := groupRows(ctx, data, rc, rel, p.Cols)
	if err != nil {
		return nil, err
	}

	// grid[taxon][group]
	grid := make([][]float64, rel.Cols())
	for j := range grid {
		grid[j] = make([]float64, len(colNames))
	}
	for g := range colNames {
		mean := meanRow(rel, colRows[g])
		for j, v := range mean {
			grid[j][g] = v
		}
	}

	rowOrder := identity(len(grid))
	colOrder := identity(len(colNames))
	if p.ClusterTaxonomic && len(grid) > 1 {
		if rowOrder, err = clusterOrder(grid); err != nil {
			return nil, err
		}
	}
	if p.ClusterSamples && len(colNames) > 1 {
		if colOrder, err = clusterOrder(transpose(grid)); err != nil {
			return nil, err
		}
	}

	out := make([][]float64, len(rowOrder))
	rowHeaders := make([]string, len(rowOrder))
	for r, j := range rowOrder {
		rowHeaders[r] = rel.Features[j]
		out[r] = make([]float64, len(colOrder))
		for c, g := range colOrder {
			out[r][c] = grid[j][g]
		}
	}
	colHeaders := make([]string, len(colOrder))
	for c, g := range colOrder {
		colHeaders[c] = colNames[g]
	}
	return Result{
		"row_headers": rowHeaders,
		"col_headers": colHeaders,
		"data":        out,
		"showlabels":  p.ShowLabels,
		"colorscheme": p.ColorScheme,
	}, nil
}

func clusterOrder(rows [][]float64) ([]int, error) {
	d, err := stats.DistanceMatrix(stats.Euclidean, rows)
	if err != nil {
		return nil, err
	}
	return ordination.ClusterOrder(d), nil
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func transpose(v [][]float64) [][]float64 {
	if len(v) == 0 {
		return nil
	}
	out := make([][]float64, len(v[0]))
	for j := range out {
		out[j] = make([]float64, len(v))
		for i := range v {
			out[j][i] = v[i][j]
		}
	}
	return out
}

// table returns the filtered, aggregated abundance table.
func table(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	headers := append([]string{SampleIDAxis}, m.Features...)
	rows := make([]any, 0, m.Rows())
	for i, s := range m.Samples {
		row := make([]any, 0, m.Cols()+1)
		row = append(row, s)
		for _, v := range m.Values[i] {
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return Result{"headers": headers, "data": rows}, nil
}

type treeParams struct {
	DisplayLevel        int    `attr:"taxonomy_display_level" validate:"gte=-1,lte=6"`
	DisplayValues       string `attr:"display_values"`
	ExcludeUnclassified bool   `attr:"exclude_unclassified"`
}

// tree builds the taxonomy hierarchy down to the display level, each node
// carrying the summed (or mean, per display_values) abundance below it.
func tree(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	var p treeParams
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := data.LoadAbundanceMatrix(ctx, rc.UserID(), rc.ProjectID(), request.LevelOTU, project.FiltersFrom(rc))
	if err != nil {
		return nil, err
	}
	tax, err := data.LoadTaxonomyMap(ctx, rc.UserID(), rc.ProjectID())
	if err != nil {
		return nil, err
	}
	depth := p.DisplayLevel
	if depth < 0 {
		depth = len(project.Ranks) - 1
	}

	type treeNode struct {
		name     string
		val      float64
		children map[string]*treeNode
		order    []string
	}
	root := &treeNode{name: "root", children: map[string]*treeNode{}}
	n := float64(max(1, m.Rows()))
	for j, otu := range m.Features {
		total := 0.0
		for i := range m.Values {
			total += m.Values[i][j]
		}
		if p.DisplayValues == "avg" {
			total /= n
		}
		path := make([]string, 0, depth+1)
		for level := 0; level <= depth; level++ {
			path = append(path, tax.At(otu, level))
		}
		if p.ExcludeUnclassified && slices.Contains(path, project.Unclassified) {
			continue
		}
		node := root
		node.val += total
		for _, label := range path {
			child, ok := node.children[label]
			if !ok {
				child = &treeNode{name: label, children: map[string]*treeNode{}}
				node.children[label] = child
				node.order = append(node.order, label)
			}
			child.val += total
			node = child
		}
	}

	var render func(t *treeNode) map[string]any
	render = func(t *treeNode) map[string]any {
		out := map[string]any{"name": t.name, "val": t.val}
		if len(t.order) > 0 {
			names := append([]string(nil), t.order...)
			sort.Strings(names)
			children := make([]any, 0, len(names))
			for _, c := range names {
				children = append(children, render(t.children[c]))
			}
			out["children"] = children
		}
		return out
	}
	return Result{"root": render(root), "level": depth}, nil
}

var boxplotFields = []request.FieldSpec{
	str("yvals", "mian-abundance"),
	str("colorvar", "None"),
	jsonField("yvalsSpecificTaxonomy"),
	str("statisticalTest", "wilcoxon"),
}

type boxplotParams struct {
	YVals           string `attr:"yvals" validate:"required"`
	ColorVar        string `attr:"colorvar"`
	Specific        any    `attr:"yvalsSpecificTaxonomy"`
	StatisticalTest string `attr:"statisticalTest" validate:"oneof=wilcoxon ttest"`
}

// Y value sources for boxplots besides metadata columns.
const (
	YAbundance    = "mian-abundance"
	YMaxAbundance = "mian-max"
)

// boxplots groups samples by catvar and reports one value per sample:
// total abundance of the chosen taxa, or a numeric metadata column.
func boxplots(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "boxplots"
	var p boxplotParams
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	lab, err := withLabels(ctx, data, rc, m, rc.CatVar())
	if err != nil {
		return nil, err
	}
	if err := requireRows(name, lab.m, 1); err != nil {
		return nil, err
	}
	if rc.CatVar() == "" {
		for i := range lab.labels {
			lab.labels[i] = "All"
		}
	}

	values := make([]float64, lab.m.Rows())
	switch p.YVals {
	case YAbundance, YMaxAbundance:
		cols := taxaList(lab.m, p.Specific)
		if len(cols) == 0 {
			cols = identity(lab.m.Cols())
		}
		for i, row := range lab.m.Values {
			for _, j := range cols {
				if p.YVals == YMaxAbundance {
					values[i] = max(values[i], row[j])
				} else {
					values[i] += row[j]
				}
			}
		}
	default:
		yl, err := withLabels(ctx, data, rc, lab.m, p.YVals)
		if err != nil {
			return nil, err
		}
		if yl.m.Rows() != lab.m.Rows() {
			return nil, domainErrorf(name, "column %q has missing values", p.YVals)
		}
		if values, err = numericLabels(name, p.YVals, yl.labels); err != nil {
			return nil, err
		}
	}

	colors, err := optionalColumn(ctx, data, rc, lab.m.Samples, p.ColorVar)
	if err != nil {
		return nil, err
	}
	order, idx := groups(lab.labels)
	abundances := map[string]any{}
	for _, g := range order {
		var points []any
		for _, i := range idx[g] {
			points = append(points, map[string]any{"s": lab.m.Samples[i], "a": values[i], "c": colors[lab.m.Samples[i]]})
		}
		abundances[g] = points
	}
	return Result{
		"abundances": abundances,
		"stats":      pairwiseTests(p.StatisticalTest, order, idx, values),
	}, nil
}
