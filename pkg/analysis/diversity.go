package analysis

import (
	"context"
	"math"

	"github.com/3leaps/gomian/pkg/analysis/learn"
	"github.com/3leaps/gomian/pkg/analysis/stats"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
)

var alphaFields = []request.FieldSpec{
	reqStr("expvar"),
	str("colorvar", "None"),
	str("sizevar", "None"),
	str("plotType", "boxplot"),
	str("alphaType", "shannon"),
	str("alphaContext", "full"),
	str("statisticalTest", "wilcoxon"),
}

type alphaParams struct {
	ExpVar          string `attr:"expvar" validate:"required"`
	ColorVar        string `attr:"colorvar"`
	SizeVar         string `attr:"sizevar"`
	PlotType        string `attr:"plotType"`
	AlphaType       string `attr:"alphaType" validate:"oneof=shannon simpson invsimpson richness"`
	AlphaContext    string `attr:"alphaContext"`
	StatisticalTest string `attr:"statisticalTest" validate:"oneof=wilcoxon ttest"`
}

func alphaDiversity(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "alpha_diversity"
	var p alphaParams
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	lab, err := withLabels(ctx, data, rc, m, p.ExpVar)
	if err != nil {
		return nil, err
	}
	if err := requireRows(name, lab.m, 2); err != nil {
		return nil, err
	}
	colors, err := optionalColumn(ctx, data, rc, lab.m.Samples, p.ColorVar)
	if err != nil {
		return nil, err
	}
	sizes, err := optionalColumn(ctx, data, rc, lab.m.Samples, p.SizeVar)
	if err != nil {
		return nil, err
	}

	values := make([]float64, lab.m.Rows())
	for i, row := range lab.m.Values {
		if values[i], err = stats.Alpha(stats.AlphaMetric(p.AlphaType), row); err != nil {
			return nil, &request.ValidationError{Field: "alphaType", Reason: err.Error()}
		}
	}

	order, idx := groups(lab.labels)
	abundances := map[string]any{}
	for _, g := range order {
		var points []any
		for _, i := range idx[g] {
			points = append(points, map[string]any{
				"s": lab.m.Samples[i],
				"a": values[i],
				"c": colors[lab.m.Samples[i]],
				"z": sizes[lab.m.Samples[i]],
			})
		}
		if p.AlphaContext == "mean" {
			sum := 0.0
			for _, i := range idx[g] {
				sum += values[i]
			}
			points = []any{map[string]any{"s": g, "a": sum / float64(len(idx[g]))}}
		}
		abundances[g] = points
	}

	return Result{
		"abundances": abundances,
		"stats":      pairwiseTests(p.StatisticalTest, order, idx, values),
		"alphaType":  p.AlphaType,
		"plotType":   p.PlotType,
	}, nil
}

// pairwiseTests compares every pair of groups.
func pairwiseTests(test string, order []string, idx map[string][]int, values []float64) []any {
	out := []any{}
	for a := 0; a < len(order); a++ {
		for b := a + 1; b < len(order); b++ {
			x, y := pickValues(values, idx[order[a]]), pickValues(values, idx[order[b]])
			var res stats.TestResult
			var err error
			if test == "ttest" {
				res, err = stats.WelchTTest(x, y)
			} else {
				res, err = stats.MannWhitney(x, y)
			}
			entry := map[string]any{"group1": order[a], "group2": order[b]}
			if err != nil {
				entry["error"] = err.Error()
			} else {
				entry["statistic"] = res.Statistic
				entry["pval"] = res.PValue
			}
			out = append(out, entry)
		}
	}
	return out
}

// optionalColumn maps samples to a metadata column's values, or to "" when
// the column is unset.
func optionalColumn(ctx context.Context, data project.Accessor, rc *request.Context, samples []string, column string) (map[string]string, error) {
	if column == "" || column == "None" || column == "none" {
		return map[string]string{}, nil
	}
	md, err := data.LoadMetadata(ctx, rc.UserID(), rc.ProjectID())
	if err != nil {
		return nil, err
	}
	return md.ValuesFor(column, samples)
}

var betaFields = []request.FieldSpec{
	reqStr("colorvar"),
	str("betaType", "braycurtis"),
	integer("numPermutations", 999),
	str("strata", "None"),
}

type betaParams struct {
	ColorVar        string `attr:"colorvar" validate:"required"`
	BetaType        string `attr:"betaType" validate:"oneof=braycurtis jaccard euclidean"`
	NumPermutations int    `attr:"numPermutations" validate:"gte=0,lte=100000"`
	Strata          string `attr:"strata"`
}

// betaDiversity returns the within-group distance distributions (api
// "beta") or a PERMANOVA test (api "permanova").
func betaDiversity(api string) JobFunc {
	name := "beta_diversity"
	if api == "permanova" {
		name = "beta_diversity_permanova"
	}
	return func(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
		var p betaParams
		if err := Decode(rc.Attributes(), &p); err != nil {
			return nil, err
		}
		m, err := loadMatrix(ctx, data, rc)
		if err != nil {
			return nil, err
		}
		lab, err := withLabels(ctx, data, rc, m, p.ColorVar)
		if err != nil {
			return nil, err
		}
		if err := requireRows(name, lab.m, 3); err != nil {
			return nil, err
		}
		d, err := stats.DistanceMatrix(stats.DistanceMetric(p.BetaType), lab.m.Values)
		if err != nil {
			return nil, err
		}
		order, idx := groups(lab.labels)
		if len(order) < 2 {
			return nil, domainErrorf(name, "column %q needs at least two groups", p.ColorVar)
		}

		var strata []string
		if p.Strata != "" && p.Strata != "None" {
			sv, err := optionalColumn(ctx, data, rc, lab.m.Samples, p.Strata)
			if err != nil {
				return nil, err
			}
			strata = make([]string, lab.m.Rows())
			for i, s := range lab.m.Samples {
				strata[i] = sv[s]
			}
		}
		perm, err := stats.Permanova(d, lab.labels, strata, p.NumPermutations, learn.NewRand(int64(p.NumPermutations)))
		if err != nil {
			return nil, domainErrorf(name, "%v", err)
		}
		if api == "permanova" {
			return Result{
				"permanova": map[string]any{
					"f":            perm.F,
					"pval":         perm.PValue,
					"permutations": perm.Permutations,
					"groups":       perm.Groups,
				},
				"betaType": p.BetaType,
			}, nil
		}

		abundances := map[string]any{}
		within := make([]float64, 0)
		for _, g := range order {
			var ds []any
			members := idx[g]
			for a := 0; a < len(members); a++ {
				for b := a + 1; b < len(members); b++ {
					v := d.At(members[a], members[b])
					ds = append(ds, map[string]any{"s": lab.m.Samples[members[a]] + "-" + lab.m.Samples[members[b]], "a": v})
					within = append(within, v)
				}
			}
			abundances[g] = ds
		}
		return Result{
			"abundances": abundances,
			"stats":      summary(within),
			"pval":       perm.PValue,
			"betaType":   p.BetaType,
		}, nil
	}
}

func summary(v []float64) map[string]any {
	if len(v) == 0 {
		return map[string]any{"n": 0}
	}
	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, x := range v {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
		sum += x
	}
	return map[string]any{"n": len(v), "min": lo, "max": hi, "mean": sum / float64(len(v))}
}

type rarefactionParams struct {
	ColorVar string `attr:"colorvar"`
}

const rarefactionSteps = 20

// rarefaction computes the expected richness of each sample at increasing
// subsampling depths.
func rarefaction(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	var p rarefactionParams
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	if err := requireRows("rarefaction", m, 1); err != nil {
		return nil, err
	}
	colors, err := optionalColumn(ctx, data, rc, m.Samples, p.ColorVar)
	if err != nil {
		return nil, err
	}

	var curves []any
	maxDepth := 0.0
	for i, row := range m.Values {
		counts := make([]int, len(row))
		total := 0
		for j, v := range row {
			counts[j] = int(math.Round(v))
			total += counts[j]
		}
		maxDepth = math.Max(maxDepth, float64(total))
		var curve []any
		for step := 1; step <= rarefactionSteps; step++ {
			depth := total * step / rarefactionSteps
			if depth == 0 {
				continue
			}
			curve = append(curve, []any{depth, expectedRichness(counts, total, depth)})
		}
		curves = append(curves, map[string]any{"s": m.Samples[i], "c": colors[m.Samples[i]], "curve": curve})
	}
	return Result{"data": curves, "max": maxDepth}, nil
}

// expectedRichness is the hypergeometric expectation of observed features
// when drawing depth reads out of total.
func expectedRichness(counts []int, total, depth int) float64 {
	denom := lchoose(total, depth)
	var s float64
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		if total-c < depth {
			s++
			continue
		}
		s += 1 - math.Exp(lchoose(total-c, depth)-denom)
	}
	return s
}

func lchoose(n, k int) float64 {
	a, _ := math.Lgamma(float64(n + 1))
	b, _ := math.Lgamma(float64(k + 1))
	c, _ := math.Lgamma(float64(n - k + 1))
	return a - b - c
}
