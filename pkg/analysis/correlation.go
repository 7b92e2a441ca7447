package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/3leaps/gomian/pkg/analysis/stats"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
)

var correlationsFields = []request.FieldSpec{
	reqStr("corrvar1"),
	reqStr("corrvar2"),
	str("colorvar", "None"),
	str("sizevar", "None"),
	str("corrMethod", "pearson"),
	str("samplestoshow", "all"),
	jsonField("corrvar1SpecificTaxonomies"),
	jsonField("corrvar2SpecificTaxonomies"),
	jsonField("sizevarSpecificTaxonomies"),
}

type correlationsParams struct {
	CorrVar1      string `attr:"corrvar1" validate:"required"`
	CorrVar2      string `attr:"corrvar2" validate:"required"`
	ColorVar      string `attr:"colorvar"`
	SizeVar       string `attr:"sizevar"`
	CorrMethod    string `attr:"corrMethod" validate:"oneof=pearson spearman"`
	SamplesToShow string `attr:"samplestoshow"`
	Specific1     any    `attr:"corrvar1SpecificTaxonomies"`
	Specific2     any    `attr:"corrvar2SpecificTaxonomies"`
	SpecificSize  any    `attr:"sizevarSpecificTaxonomies"`
}

// sampleSeries resolves a correlation variable to one value per sample of m:
// the abundance of chosen taxa, or a numeric metadata column. ok is false
// for samples whose metadata value is missing or non-numeric.
func sampleSeries(ctx context.Context, data project.Accessor, rc *request.Context, m *project.Matrix, variable string, specific any) ([]float64, []bool, error) {
	values := make([]float64, m.Rows())
	ok := make([]bool, m.Rows())
	switch variable {
	case YAbundance, YMaxAbundance:
		cols := taxaList(m, specific)
		if len(cols) == 0 {
			cols = identity(m.Cols())
		}
		for i, row := range m.Values {
			for _, j := range cols {
				if variable == YMaxAbundance {
					values[i] = math.Max(values[i], row[j])
				} else {
					values[i] += row[j]
				}
			}
			ok[i] = true
		}
		return values, ok, nil
	}
	md, err := data.LoadMetadata(ctx, rc.UserID(), rc.ProjectID())
	if err != nil {
		return nil, nil, err
	}
	raw, err := md.ValuesFor(variable, m.Samples)
	if err != nil {
		return nil, nil, err
	}
	for i, s := range m.Samples {
		if v, perr := parseFloat(raw[s]); perr == nil {
			values[i], ok[i] = v, true
		}
	}
	return values, ok, nil
}

// correlations correlates two per-sample variables.
func correlations(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "correlations"
	var p correlationsParams
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	x, okx, err := sampleSeries(ctx, data, rc, m, p.CorrVar1, p.Specific1)
	if err != nil {
		return nil, err
	}
	y, oky, err := sampleSeries(ctx, data, rc, m, p.CorrVar2, p.Specific2)
	if err != nil {
		return nil, err
	}
	var size []float64
	if p.SizeVar != "" && p.SizeVar != "None" {
		if size, _, err = sampleSeries(ctx, data, rc, m, p.SizeVar, p.SpecificSize); err != nil {
			return nil, err
		}
	}
	colors, err := optionalColumn(ctx, data, rc, m.Samples, p.ColorVar)
	if err != nil {
		return nil, err
	}

	var xs, ys []float64
	var points []any
	for i, s := range m.Samples {
		if !okx[i] || !oky[i] {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
		pt := map[string]any{"s": s, "c1": x[i], "c2": y[i], "color": colors[s]}
		if size != nil {
			pt["size"] = size[i]
		}
		points = append(points, pt)
	}
	res, err := stats.Correlate(stats.CorrelationMethod(p.CorrMethod), xs, ys)
	if err != nil {
		return nil, domainErrorf(name, "%v", err)
	}
	return Result{"corrArr": points, "coef": res.Statistic, "pval": res.PValue}, nil
}

type correlationNetworkParams struct {
	Type       string  `attr:"type" validate:"oneof=otu sample"`
	Cutoff     float64 `attr:"cutoff" validate:"gte=0,lte=1"`
	CorrMethod string  `attr:"corrMethod" validate:"oneof=pearson spearman"`
}

// correlationNetwork links features (or samples) whose correlation
// magnitude reaches the cutoff.
func correlationNetwork(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "correlation_network"
	var p correlationNetworkParams
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	if err := requireRows(name, m, 3); err != nil {
		return nil, err
	}
	labels, series := m.Features, transpose(m.Values)
	if p.Type == "sample" {
		labels, series = m.Samples, m.Values
	}

	nodes := make([]any, 0, len(labels))
	for _, l := range labels {
		nodes = append(nodes, map[string]any{"id": l})
	}
	links := []any{}
	for a := 0; a < len(series); a++ {
		for b := a + 1; b < len(series); b++ {
			res, err := stats.Correlate(stats.CorrelationMethod(p.CorrMethod), series[a], series[b])
			if err != nil {
				return nil, domainErrorf(name, "%v", err)
			}
			if !math.IsNaN(res.Statistic) && math.Abs(res.Statistic) >= p.Cutoff {
				links = append(links, map[string]any{"source": labels[a], "target": labels[b], "value": res.Statistic})
			}
		}
	}
	return Result{"nodes": nodes, "links": links}, nil
}

var correlationsSelectionFields = fields([]request.FieldSpec{
	str("select", "Taxonomy"),
	str("against", "Metadata"),
	reqStr("expvar"),
	str("corrMethod", "pearson"),
	float("pvalthreshold", 0.05),
}, trainingFields)

type correlationsSelectionParams struct {
	Select         string  `attr:"select"`
	Against        string  `attr:"against"`
	ExpVar         string  `attr:"expvar" validate:"required"`
	CorrMethod     string  `attr:"corrMethod" validate:"oneof=pearson spearman"`
	PValThreshold  float64 `attr:"pvalthreshold" validate:"gt=0,lte=1"`
	trainingParams `attr:",squash"`
}

// correlationsSelection ranks features by their correlation with a numeric
// metadata variable and keeps those under the p-value threshold.
func correlationsSelection(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "correlations_selection"
	var p correlationsSelectionParams
	p.trainingParams = trainingParams{TrainingProportion: 0.7}
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	target, ok, err := sampleSeries(ctx, data, rc, m, p.ExpVar, nil)
	if err != nil {
		return nil, err
	}
	var rows []int
	for _, i := range p.subset(m.Rows()) {
		if ok[i] {
			rows = append(rows, i)
		}
	}
	sort.Ints(rows)
	if len(rows) < 3 {
		return nil, domainErrorf(name, "need at least 3 samples with numeric %q", p.ExpVar)
	}

	y := pickValues(target, rows)
	type entry struct {
		feature string
		coef    float64
		pval    float64
	}
	entries := make([]entry, 0, m.Cols())
	pvals := make([]float64, 0, m.Cols())
	for j, f := range m.Features {
		x := pickValues(m.Column(j), rows)
		res, err := stats.Correlate(stats.CorrelationMethod(p.CorrMethod), x, y)
		if err != nil {
			return nil, domainErrorf(name, "%v", err)
		}
		entries = append(entries, entry{f, res.Statistic, res.PValue})
		pvals = append(pvals, res.PValue)
	}
	qvals := stats.AdjustBH(pvals)

	results := []any{}
	order := identity(len(entries))
	sort.SliceStable(order, func(a, b int) bool { return lessNaN(entries[order[a]].pval, entries[order[b]].pval) })
	for _, k := range order {
		e := entries[k]
		if math.IsNaN(e.pval) || e.pval >= p.PValThreshold {
			continue
		}
		results = append(results, map[string]any{"taxonomy": e.feature, "coef": e.coef, "pval": e.pval, "qval": qvals[k]})
	}
	return Result{"results": results, "n": len(rows)}, nil
}

// lessNaN orders numbers ascending with NaN last.
func lessNaN(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}

var heatmapFields = []request.FieldSpec{
	str("corrvar1", "Taxonomy"),
	str("corrvar2", "Taxonomy"),
	str("corrMethod", "pearson"),
	boolean("cluster", true),
	integer("minSamplesPresent", 1),
	jsonField("corrvar1Alpha"),
	jsonField("corrvar2Alpha"),
}

type heatmapParams struct {
	CorrVar1          string `attr:"corrvar1" validate:"oneof=Taxonomy Metadata AlphaDiversity"`
	CorrVar2          string `attr:"corrvar2" validate:"oneof=Taxonomy Metadata AlphaDiversity"`
	CorrMethod        string `attr:"corrMethod" validate:"oneof=pearson spearman"`
	Cluster           bool   `attr:"cluster"`
	MinSamplesPresent int    `attr:"minSamplesPresent" validate:"gte=0"`
	Alpha1            any    `attr:"corrvar1Alpha"`
	Alpha2            any    `attr:"corrvar2Alpha"`
}

// heatmap computes a correlation grid between two families of per-sample
// variables: taxa, numeric metadata columns, or alpha diversity indices.
func heatmap(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "heatmap"
	var p heatmapParams
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	if err := requireRows(name, m, 3); err != nil {
		return nil, err
	}
	rowNames, rowSeries, err := heatmapAxis(ctx, data, rc, m, p.CorrVar1, p.Alpha1, p.MinSamplesPresent)
	if err != nil {
		return nil, err
	}
	colNames, colSeries, err := heatmapAxis(ctx, data, rc, m, p.CorrVar2, p.Alpha2, p.MinSamplesPresent)
	if err != nil {
		return nil, err
	}
	if len(rowNames) == 0 || len(colNames) == 0 {
		return nil, domainErrorf(name, "no variables to correlate")
	}

	grid := make([][]float64, len(rowSeries))
	for a := range rowSeries {
		grid[a] = make([]float64, len(colSeries))
		for b := range colSeries {
			res, err := stats.Correlate(stats.CorrelationMethod(p.CorrMethod), rowSeries[a], colSeries[b])
			if err != nil {
				return nil, domainErrorf(name, "%v", err)
			}
			v := res.Statistic
			if math.IsNaN(v) {
				v = 0
			}
			grid[a][b] = v
		}
	}

	rowOrder, colOrder := identity(len(grid)), identity(len(colNames))
	if p.Cluster {
		if len(grid) > 1 {
			if rowOrder, err = clusterOrder(grid); err != nil {
				return nil, err
			}
		}
		if len(colNames) > 1 {
			if colOrder, err = clusterOrder(transpose(grid)); err != nil {
				return nil, err
			}
		}
	}
	out := make([][]float64, len(rowOrder))
	rh := make([]string, len(rowOrder))
	for r, a := range rowOrder {
		rh[r] = rowNames[a]
		out[r] = make([]float64, len(colOrder))
		for c, b := range colOrder {
			out[r][c] = grid[a][b]
		}
	}
	ch := make([]string, len(colOrder))
	for c, b := range colOrder {
		ch[c] = colNames[b]
	}
	return Result{"row_headers": rh, "col_headers": ch, "data": out}, nil
}

func heatmapAxis(ctx context.Context, data project.Accessor, rc *request.Context, m *project.Matrix, kind string, alpha any, minPresent int) ([]string, [][]float64, error) {
	switch kind {
	case "Metadata":
		md, err := data.LoadMetadata(ctx, rc.UserID(), rc.ProjectID())
		if err != nil {
			return nil, nil, err
		}
		var names []string
		var series [][]float64
		for _, h := range md.HeadersWithType() {
			if h.Type != project.TypeNumeric {
				continue
			}
			raw, err := md.ValuesFor(h.Name, m.Samples)
			if err != nil {
				return nil, nil, err
			}
			s := make([]float64, m.Rows())
			for i, sample := range m.Samples {
				s[i], _ = parseFloat(raw[sample])
			}
			names = append(names, h.Name)
			series = append(series, s)
		}
		return names, series, nil
	case "AlphaDiversity":
		metrics := []string{string(stats.Shannon)}
		if list, ok := alpha.([]any); ok && len(list) > 0 {
			metrics = metrics[:0]
			for _, v := range list {
				metrics = append(metrics, fmt.Sprint(v))
			}
		}
		series := make([][]float64, len(metrics))
		for k, metric := range metrics {
			series[k] = make([]float64, m.Rows())
			for i, row := range m.Values {
				v, err := stats.Alpha(stats.AlphaMetric(metric), row)
				if err != nil {
					return nil, nil, &request.ValidationError{Field: "corrvarAlpha", Reason: err.Error()}
				}
				series[k][i] = v
			}
		}
		return metrics, series, nil
	}
	var names []string
	var series [][]float64
	for j, f := range m.Features {
		col := m.Column(j)
		present := 0
		for _, v := range col {
			if v > 0 {
				present++
			}
		}
		if present >= minPresent {
			names = append(names, f)
			series = append(series, col)
		}
	}
	return names, series, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
