package analysis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/gomian/pkg/analysis/learn"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
)

// Field spec helpers keep the variant table readable.
func str(name string, def string) request.FieldSpec {
	return request.FieldSpec{Name: name, Kind: request.String, Default: def}
}

func reqStr(name string) request.FieldSpec {
	return request.FieldSpec{Name: name, Kind: request.String, Required: true}
}

func integer(name string, def int64) request.FieldSpec {
	return request.FieldSpec{Name: name, Kind: request.Int, Default: def}
}

func float(name string, def float64) request.FieldSpec {
	return request.FieldSpec{Name: name, Kind: request.Float, Default: def}
}

func boolean(name string, def bool) request.FieldSpec {
	return request.FieldSpec{Name: name, Kind: request.Bool, Default: def}
}

func jsonField(name string) request.FieldSpec {
	return request.FieldSpec{Name: name, Kind: request.JSON}
}

func fields(groups ...[]request.FieldSpec) []request.FieldSpec {
	var out []request.FieldSpec
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// trainingFields are shared by the feature-selection variants, which may
// restrict themselves to a random training subset.
var trainingFields = []request.FieldSpec{
	boolean("useTrainingSet", false),
	integer("seed", learn.DefaultSeed),
	float("trainingProportion", 0.7),
}

type trainingParams struct {
	UseTrainingSet     bool    `attr:"useTrainingSet"`
	Seed               int64   `attr:"seed"`
	TrainingProportion float64 `attr:"trainingProportion" validate:"gt=0,lte=1"`
}

// subset returns the sample indices the selection should run on.
func (p trainingParams) subset(n int) []int {
	if !p.UseTrainingSet {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	train, _ := learn.Split(n, p.TrainingProportion, learn.NewRand(p.Seed))
	return train
}

// modelFields are shared by the model-training variants.
var modelFields = []request.FieldSpec{
	boolean("crossValidate", false),
	integer("crossValidateFolds", 5),
	boolean("fixTraining", false),
	float("trainingProportion", 0.7),
	integer("seed", learn.DefaultSeed),
}

type modelParams struct {
	CrossValidate      bool    `attr:"crossValidate"`
	CrossValidateFolds int     `attr:"crossValidateFolds" validate:"gte=2,lte=50"`
	FixTraining        bool    `attr:"fixTraining"`
	TrainingProportion float64 `attr:"trainingProportion" validate:"gt=0,lt=1"`
	Seed               int64   `attr:"seed"`
}

// evaluation runs fit/score on a train/test split, or over k folds when
// cross-validation is requested. score returns the held-out metric.
func (p modelParams) evaluation(n int, score func(train, test []int) (float64, error)) (Result, error) {
	seed := p.Seed
	if !p.FixTraining {
		seed = time.Now().UnixNano()
	}
	rng := learn.NewRand(seed)
	if p.CrossValidate {
		folds := learn.KFold(n, p.CrossValidateFolds, rng)
		scores := make([]float64, 0, len(folds))
		var sum float64
		for _, fold := range folds {
			s, err := score(learn.Complement(n, fold), fold)
			if err != nil {
				return nil, err
			}
			scores = append(scores, s)
			sum += s
		}
		return Result{"folds": scores, "mean": sum / float64(len(scores))}, nil
	}
	train, test := learn.Split(n, p.TrainingProportion, rng)
	s, err := score(train, test)
	if err != nil {
		return nil, err
	}
	return Result{"train_size": len(train), "test_size": len(test), "score": s}, nil
}

func loadMatrix(ctx context.Context, data project.Accessor, rc *request.Context) (*project.Matrix, error) {
	return data.LoadAbundanceMatrix(ctx, rc.UserID(), rc.ProjectID(), rc.Level(), project.FiltersFrom(rc))
}

// labeled pairs the matrix rows with one metadata column. Samples with an
// empty value are dropped.
type labeled struct {
	m      *project.Matrix
	labels []string
}

func withLabels(ctx context.Context, data project.Accessor, rc *request.Context, m *project.Matrix, column string) (*labeled, error) {
	if column == "" || column == "none" {
		return &labeled{m: m, labels: make([]string, m.Rows())}, nil
	}
	md, err := data.LoadMetadata(ctx, rc.UserID(), rc.ProjectID())
	if err != nil {
		return nil, err
	}
	values, err := md.ValuesFor(column, m.Samples)
	if err != nil {
		return nil, err
	}
	kept := m.SelectSamples(func(_ int, s string) bool { return values[s] != "" })
	labels := make([]string, kept.Rows())
	for i, s := range kept.Samples {
		labels[i] = values[s]
	}
	return &labeled{m: kept, labels: labels}, nil
}

// numericLabels parses labels as floats. Non-numeric values are a domain
// error since the column was chosen as a continuous variable.
func numericLabels(variant, column string, labels []string) ([]float64, error) {
	out := make([]float64, len(labels))
	for i, l := range labels {
		v, err := strconv.ParseFloat(strings.TrimSpace(l), 64)
		if err != nil {
			return nil, domainErrorf(variant, "metadata column %q is not numeric (value %q)", column, l)
		}
		out[i] = v
	}
	return out, nil
}

// groups returns, for each distinct label in first-seen order, the row
// indices carrying it.
func groups(labels []string) ([]string, map[string][]int) {
	var order []string
	idx := map[string][]int{}
	for i, l := range labels {
		if _, ok := idx[l]; !ok {
			order = append(order, l)
		}
		idx[l] = append(idx[l], i)
	}
	return order, idx
}

func pickValues(v []float64, idx []int) []float64 {
	return learn.Pick(v, idx)
}

// taxaList resolves a JSON list of feature names against m, ignoring
// unknown names.
func taxaList(m *project.Matrix, v any) []int {
	list, _ := v.([]any)
	var out []int
	for _, item := range list {
		if j := m.FeatureIndex(fmt.Sprint(item)); j >= 0 {
			out = append(out, j)
		}
	}
	return out
}

func requireRows(variant string, m *project.Matrix, min int) error {
	if m.Rows() < min {
		return domainErrorf(variant, "need at least %d samples, have %d", min, m.Rows())
	}
	if m.Cols() == 0 {
		return domainErrorf(variant, "no features left after filtering")
	}
	return nil
}
