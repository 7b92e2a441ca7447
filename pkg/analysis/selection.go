package analysis

import (
	"context"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/3leaps/gomian/pkg/analysis/learn"
	"github.com/3leaps/gomian/pkg/analysis/stats"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
)

// pairwise holds the samples of two catvar groups.
type pairwise struct {
	m      *project.Matrix
	rows1  []int
	rows2  []int
	labels []string
}

func loadPairwise(ctx context.Context, data project.Accessor, rc *request.Context, variant string, tp trainingParams, v1, v2 string) (*pairwise, error) {
	if rc.CatVar() == "" {
		return nil, &request.ValidationError{Field: request.FieldCatVar, Reason: "required"}
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	lab, err := withLabels(ctx, data, rc, m, rc.CatVar())
	if err != nil {
		return nil, err
	}
	if err := requireRows(variant, lab.m, 2); err != nil {
		return nil, err
	}
	pw := &pairwise{m: lab.m, labels: lab.labels}
	subset := tp.subset(lab.m.Rows())
	sort.Ints(subset)
	for _, i := range subset {
		switch lab.labels[i] {
		case v1:
			pw.rows1 = append(pw.rows1, i)
		case v2:
			pw.rows2 = append(pw.rows2, i)
		}
	}
	if len(pw.rows1) == 0 || len(pw.rows2) == 0 {
		return nil, domainErrorf(variant, "groups %q and %q must both have samples in %q", v1, v2, rc.CatVar())
	}
	return pw, nil
}

var differentialFields = fields([]request.FieldSpec{
	str("type", "wilcoxon"),
	float("pvalthreshold", 0.05),
	reqStr("pwVar1"),
	reqStr("pwVar2"),
}, trainingFields)

type differentialParams struct {
	Type           string  `attr:"type" validate:"oneof=wilcoxon ttest"`
	PValThreshold  float64 `attr:"pvalthreshold" validate:"gt=0,lte=1"`
	PwVar1         string  `attr:"pwVar1" validate:"required"`
	PwVar2         string  `attr:"pwVar2" validate:"required,nefield=PwVar1"`
	trainingParams `attr:",squash"`
}

// differentialSelection tests every feature for a difference between two
// catvar groups.
func differentialSelection(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "differential_selection"
	p := differentialParams{trainingParams: defaultTraining()}
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	pw, err := loadPairwise(ctx, data, rc, name, p.trainingParams, p.PwVar1, p.PwVar2)
	if err != nil {
		return nil, err
	}

	type entry struct {
		feature      string
		stat, pval   float64
		mean1, mean2 float64
	}
	entries := make([]entry, 0, pw.m.Cols())
	pvals := make([]float64, 0, pw.m.Cols())
	for j, f := range pw.m.Features {
		col := pw.m.Column(j)
		a, b := pickValues(col, pw.rows1), pickValues(col, pw.rows2)
		var res stats.TestResult
		if p.Type == "ttest" {
			res, err = stats.WelchTTest(a, b)
		} else {
			res, err = stats.MannWhitney(a, b)
		}
		if err != nil {
			res = stats.TestResult{Statistic: math.NaN(), PValue: math.NaN()}
		}
		entries = append(entries, entry{f, res.Statistic, res.PValue, mean(a), mean(b)})
		pvals = append(pvals, res.PValue)
	}
	qvals := stats.AdjustBH(pvals)

	order := identity(len(entries))
	sort.SliceStable(order, func(a, b int) bool { return lessNaN(entries[order[a]].pval, entries[order[b]].pval) })
	results := []any{}
	for _, k := range order {
		e := entries[k]
		if math.IsNaN(e.pval) || e.pval >= p.PValThreshold {
			continue
		}
		results = append(results, map[string]any{
			"taxonomy": e.feature, "statistic": e.stat, "pval": e.pval, "qval": qvals[k],
			"mean1": e.mean1, "mean2": e.mean2,
		})
	}
	return Result{"results": results, "n1": len(pw.rows1), "n2": len(pw.rows2)}, nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

var fisherFields = fields([]request.FieldSpec{
	float("minthreshold", 0),
	reqStr("pwVar1"),
	reqStr("pwVar2"),
	float("pvalthreshold", 0.05),
}, trainingFields)

type fisherParams struct {
	MinThreshold   float64 `attr:"minthreshold" validate:"gte=0"`
	PwVar1         string  `attr:"pwVar1" validate:"required"`
	PwVar2         string  `attr:"pwVar2" validate:"required,nefield=PwVar1"`
	PValThreshold  float64 `attr:"pvalthreshold" validate:"gt=0,lte=1"`
	trainingParams `attr:",squash"`
}

// fisherExact tests whether feature presence (abundance above
// minthreshold) depends on the catvar group.
func fisherExact(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "fisher_exact"
	p := fisherParams{trainingParams: defaultTraining()}
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	pw, err := loadPairwise(ctx, data, rc, name, p.trainingParams, p.PwVar1, p.PwVar2)
	if err != nil {
		return nil, err
	}

	present := func(col []float64, rows []int) int {
		n := 0
		for _, i := range rows {
			if col[i] > p.MinThreshold {
				n++
			}
		}
		return n
	}
	type entry struct {
		feature    string
		p1, p2     int
		odds, pval float64
	}
	var entries []entry
	var pvals []float64
	for j, f := range pw.m.Features {
		col := pw.m.Column(j)
		a, c := present(col, pw.rows1), present(col, pw.rows2)
		res := stats.FisherExact(a, len(pw.rows1)-a, c, len(pw.rows2)-c)
		entries = append(entries, entry{f, a, c, res.Statistic, res.PValue})
		pvals = append(pvals, res.PValue)
	}
	qvals := stats.AdjustBH(pvals)
	order := identity(len(entries))
	sort.SliceStable(order, func(a, b int) bool { return entries[order[a]].pval < entries[order[b]].pval })
	results := []any{}
	for _, k := range order {
		e := entries[k]
		if e.pval >= p.PValThreshold {
			continue
		}
		results = append(results, map[string]any{
			"taxonomy": e.feature, "pval": e.pval, "qval": qvals[k], "odds": e.odds,
			"present1": e.p1, "total1": len(pw.rows1), "present2": e.p2, "total2": len(pw.rows2),
		})
	}
	return Result{"results": results}, nil
}

var elasticNetClassificationFields = fields(trainingFields, []request.FieldSpec{
	float("mixingRatio", 0.5),
	integer("maxIterations", 1000),
	str("lossFunction", "log"),
	integer("keep", 50),
})

type elasticNetParams struct {
	ExpVar         string  `attr:"expvar"`
	MixingRatio    float64 `attr:"mixingRatio" validate:"gte=0,lte=1"`
	MaxIterations  int     `attr:"maxIterations" validate:"gte=1,lte=100000"`
	LossFunction   string  `attr:"lossFunction" validate:"omitempty,oneof=log hinge"`
	Keep           int     `attr:"keep" validate:"gte=1"`
	trainingParams `attr:",squash"`
}

// elasticNetSelectionClassification ranks features by their weight in a
// penalized linear classifier of catvar.
func elasticNetSelectionClassification(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "elastic_net_selection_classification"
	p := elasticNetParams{trainingParams: defaultTraining()}
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	lab, rows, err := classificationData(ctx, data, rc, name, p.trainingParams)
	if err != nil {
		return nil, err
	}
	model := &learn.LinearClassifier{
		Loss:    learn.Loss(p.LossFunction),
		Lambda:  0.01,
		L1Ratio: p.MixingRatio,
		MaxIter: p.MaxIterations,
	}
	if err := model.Fit(learn.Rows(lab.m.Values, rows), learn.Pick(lab.labels, rows)); err != nil {
		return nil, domainErrorf(name, "%v", err)
	}
	return Result{"results": topFeatures(lab.m.Features, model.Importance(), p.Keep), "classes": model.Classes}, nil
}

// elasticNetSelectionRegression ranks features by coefficient magnitude in
// an elastic-net regression of a numeric metadata variable.
func elasticNetSelectionRegression(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "elastic_net_selection_regression"
	p := elasticNetParams{trainingParams: defaultTraining()}
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	if p.ExpVar == "" {
		return nil, &request.ValidationError{Field: "expvar", Reason: "required"}
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
	if len(rows) < 3 || m.Cols() == 0 {
		return nil, domainErrorf(name, "need at least 3 samples with numeric %q", p.ExpVar)
	}
	model := &learn.ElasticNet{Lambda: 0.01, L1Ratio: p.MixingRatio, MaxIter: p.MaxIterations}
	if err := model.Fit(learn.Rows(m.Values, rows), pickValues(target, rows)); err != nil {
		return nil, domainErrorf(name, "%v", err)
	}
	weights := make([]float64, len(model.Coef))
	for j, c := range model.Coef {
		weights[j] = math.Abs(c)
	}
	results := topFeatures(m.Features, weights, p.Keep)
	for _, r := range results {
		entry := r.(map[string]any)
		entry["coef"] = model.Coef[m.FeatureIndex(entry["taxonomy"].(string))]
	}
	return Result{"results": results}, nil
}

// classificationData pairs the matrix with catvar labels and returns the
// rows selected for training.
func classificationData(ctx context.Context, data project.Accessor, rc *request.Context, variant string, tp trainingParams) (*labeled, []int, error) {
	if rc.CatVar() == "" {
		return nil, nil, &request.ValidationError{Field: request.FieldCatVar, Reason: "required"}
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, nil, err
	}
	lab, err := withLabels(ctx, data, rc, m, rc.CatVar())
	if err != nil {
		return nil, nil, err
	}
	if err := requireRows(variant, lab.m, 2); err != nil {
		return nil, nil, err
	}
	rows := tp.subset(lab.m.Rows())
	sort.Ints(rows)
	if len(learn.Classes(learn.Pick(lab.labels, rows))) < 2 {
		return nil, nil, domainErrorf(variant, "catvar %q needs at least two classes", rc.CatVar())
	}
	return lab, rows, nil
}

// topFeatures returns the keep highest-weighted features with non-zero weight.
func topFeatures(features []string, weights []float64, keep int) []any {
	order := identity(len(features))
	sort.SliceStable(order, func(a, b int) bool { return weights[order[a]] > weights[order[b]] })
	out := []any{}
	for _, j := range order {
		if len(out) >= keep || weights[j] == 0 {
			break
		}
		out = append(out, map[string]any{"taxonomy": features[j], "weight": weights[j]})
	}
	return out
}

var borutaFields = fields([]request.FieldSpec{
	float("pval", 0.01),
	integer("maxruns", 100),
}, trainingFields)

type borutaParams struct {
	PVal           float64 `attr:"pval" validate:"gt=0,lt=1"`
	MaxRuns        int     `attr:"maxruns" validate:"gte=1,lte=10000"`
	trainingParams `attr:",squash"`
}

// Boruta decisions.
const (
	Confirmed = "Confirmed"
	Tentative = "Tentative"
	Rejected  = "Rejected"
)

// boruta compares each feature's random forest importance against shuffled
// shadow copies over repeated runs and classifies features by a binomial
// test on their hit counts.
func boruta(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "boruta"
	p := borutaParams{trainingParams: defaultTraining()}
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	lab, rows, err := classificationData(ctx, data, rc, name, p.trainingParams)
	if err != nil {
		return nil, err
	}
	X := learn.Rows(lab.m.Values, rows)
	y := learn.Pick(lab.labels, rows)
	nf := lab.m.Cols()
	rng := learn.NewRand(p.Seed)

	hits := make([]int, nf)
	meanImp := make([]float64, nf)
	for run := 0; run < p.MaxRuns; run++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ext := make([][]float64, len(X))
		for i := range X {
			ext[i] = make([]float64, 2*nf)
			copy(ext[i], X[i])
		}
		for j := 0; j < nf; j++ {
			perm := rng.Perm(len(X))
			for i := range X {
				ext[i][nf+j] = X[perm[i]][j]
			}
		}
		forest := &learn.RandomForest{NumTrees: 50}
		if err := forest.Fit(ext, y, rng); err != nil {
			return nil, domainErrorf(name, "%v", err)
		}
		imp := forest.Importance()
		shadowMax := slices.Max(imp[nf:])
		for j := 0; j < nf; j++ {
			meanImp[j] += imp[j] / float64(p.MaxRuns)
			if imp[j] > shadowMax {
				hits[j]++
			}
		}
	}

	binom := distuv.Binomial{N: float64(p.MaxRuns), P: 0.5}
	threshold := p.PVal / float64(nf)
	var confirmed, tentative, rejected []any
	for j, f := range lab.m.Features {
		entry := map[string]any{"taxonomy": f, "hits": hits[j], "importance": meanImp[j]}
		upper := 1 - binom.CDF(float64(hits[j]-1))
		lower := binom.CDF(float64(hits[j]))
		switch {
		case upper < threshold:
			confirmed = append(confirmed, entry)
		case lower < threshold:
			rejected = append(rejected, entry)
		default:
			tentative = append(tentative, entry)
		}
	}
	return Result{
		Confirmed: nonNil(confirmed),
		Tentative: nonNil(tentative),
		Rejected:  nonNil(rejected),
		"runs":    p.MaxRuns,
	}, nil
}

func nonNil(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

func defaultTraining() trainingParams { return trainingParams{TrainingProportion: 0.7} }
