package analysis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/project/projecttest"
	"github.com/3leaps/gomian/pkg/provider/file"
	"github.com/3leaps/gomian/pkg/request"
)

func newStore(t *testing.T) *project.Store {
	t.Helper()
	p, err := file.New(file.Config{BaseDir: projecttest.Root(t)})
	require.NoError(t, err)
	return project.NewStore(p)
}

func run(t *testing.T, store *project.Store, variant string, form map[string]string) (analysis.Result, error) {
	t.Helper()
	v, err := analysis.Builtin().Lookup(variant)
	require.NoError(t, err)
	fields := request.MapFields{"pid": projecttest.ProjectID}
	for k, val := range form {
		fields[k] = val
	}
	rc, err := request.Build(fields, projecttest.UserID, v.Fields)
	require.NoError(t, err)
	if err := v.Validate(rc); err != nil {
		return nil, err
	}
	return v.Job.Run(context.Background(), store, rc)
}

func TestBuiltin_Table(t *testing.T) {
	reg := analysis.Builtin()
	names := reg.Names()
	assert.Len(t, names, 24)
	assert.IsIncreasing(t, names)

	for _, v := range reg.Variants() {
		switch v.Name {
		case "beta_diversity", "beta_diversity_permanova":
			assert.Equal(t, analysis.Extended, v.Deadline, v.Name)
		default:
			assert.Equal(t, analysis.Standard, v.Deadline, v.Name)
		}
		if v.Name == "heatmap" {
			assert.Equal(t, analysis.Compressed, v.Encoding)
		} else {
			assert.Equal(t, analysis.JSON, v.Encoding, v.Name)
		}
		assert.NotNil(t, v.Job, v.Name)
	}
}

func TestRegistry(t *testing.T) {
	reg := analysis.NewRegistry()
	job := analysis.JobFunc(func(context.Context, project.Accessor, *request.Context) (analysis.Result, error) {
		return analysis.Result{}, nil
	})
	require.NoError(t, reg.Register(&analysis.Variant{Name: "x", Job: job}))
	assert.Error(t, reg.Register(&analysis.Variant{Name: "x", Job: job}))
	assert.Error(t, reg.Register(&analysis.Variant{Name: "y"}))
	assert.Error(t, reg.Register(&analysis.Variant{Job: job}))

	_, err := reg.Lookup("nope")
	assert.ErrorIs(t, err, analysis.ErrUnknownVariant)
	v, err := reg.Lookup("x")
	require.NoError(t, err)
	assert.Equal(t, "x", v.Name)
}

func TestDeadlineClass(t *testing.T) {
	assert.Equal(t, time.Minute, analysis.Standard.Deadline(time.Minute, 3))
	assert.Equal(t, 3*time.Minute, analysis.Extended.Deadline(time.Minute, 3))
	assert.Equal(t, time.Minute, analysis.Extended.Deadline(time.Minute, 0))
	assert.Equal(t, "extended", analysis.Extended.String())
	assert.Equal(t, "standard", analysis.Standard.String())
}

func TestDecode(t *testing.T) {
	type params struct {
		Name  string        `attr:"name" validate:"required"`
		Count int           `attr:"count" validate:"gte=1"`
		Wait  time.Duration `attr:"wait"`
		Tags  []string      `attr:"tags"`
	}

	var p params
	err := analysis.Decode(request.NewAttributes(map[string]any{
		"name": "n", "count": int64(3), "wait": "2s", "tags": "a,b",
	}), &p)
	require.NoError(t, err)
	assert.Equal(t, params{Name: "n", Count: 3, Wait: 2 * time.Second, Tags: []string{"a", "b"}}, p)

	t.Run("weak typing", func(t *testing.T) {
		var p params
		require.NoError(t, analysis.Decode(request.NewAttributes(map[string]any{"name": "n", "count": "7"}), &p))
		assert.Equal(t, 7, p.Count)
	})

	t.Run("validation failure names the attr", func(t *testing.T) {
		var p params
		err := analysis.Decode(request.NewAttributes(map[string]any{"name": "n", "count": int64(0)}), &p)
		var ve *request.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "count", ve.Field)
	})

	t.Run("decode failure is a validation error", func(t *testing.T) {
		var p params
		err := analysis.Decode(request.NewAttributes(map[string]any{"name": "n", "count": "many"}), &p)
		var ve *request.ValidationError
		require.ErrorAs(t, err, &ve)
	})
}

func TestVariants_RunAgainstFixture(t *testing.T) {
	store := newStore(t)
	cases := []struct {
		variant string
		form    map[string]string
		keys    []string
	}{
		{"alpha_diversity", map[string]string{"expvar": "Group"}, []string{"abundances", "stats"}},
		{"beta_diversity", map[string]string{"colorvar": "Group", "numPermutations": "49"}, nil},
		{"beta_diversity_permanova", map[string]string{"colorvar": "Group", "numPermutations": "49"}, nil},
		{"boruta", map[string]string{"catvar": "Group", "maxruns": "5"}, []string{analysis.Confirmed, analysis.Tentative, analysis.Rejected}},
		{"boxplots", map[string]string{"catvar": "Group"}, nil},
		{"composition", nil, []string{"taxonomy", "abundances"}},
		{"composition_heatmap", map[string]string{"clustertaxonomic": "true"}, []string{"row_headers", "col_headers", "data"}},
		{"correlations", map[string]string{"corrvar1": "Age", "corrvar2": "mian-abundance"}, []string{"coef", "pval"}},
		{"correlation_network", nil, []string{"nodes", "links"}},
		{"correlations_selection", map[string]string{"expvar": "Age"}, []string{"results"}},
		{"deep_neural_network", map[string]string{"catvar": "Group", "epochs": "3", "fixTraining": "true", "dnnModel": `[{"units": 4}]`}, []string{"score", "loss"}},
		{"differential_selection", map[string]string{"catvar": "Group", "pwVar1": "A", "pwVar2": "B"}, []string{"results"}},
		{"elastic_net_selection_classification", map[string]string{"catvar": "Group"}, []string{"results"}},
		{"elastic_net_selection_regression", map[string]string{"expvar": "Age"}, []string{"results"}},
		{"fisher_exact", map[string]string{"catvar": "Group", "pwVar1": "A", "pwVar2": "B"}, []string{"results"}},
		{"heatmap", nil, []string{"row_headers", "col_headers", "data"}},
		{"linear_classifier", map[string]string{"catvar": "Group", "fixTraining": "true"}, []string{"score"}},
		{"linear_regression", map[string]string{"expvar": "Age", "crossValidate": "true", "crossValidateFolds": "2"}, []string{"folds", "mean"}},
		{"nmds", nil, []string{"nmds", "stress"}},
		{"pca", map[string]string{"catvar": "Group"}, []string{"pca", "pcaVar"}},
		{"random_forest", map[string]string{"catvar": "Group", "numTrees": "10", "fixTraining": "true"}, []string{"score", "importance"}},
		{"rarefaction", nil, []string{"data", "max"}},
		{"table", nil, []string{"headers", "data"}},
		{"tree", nil, []string{"root"}},
	}
	require.Len(t, cases, len(analysis.Builtin().Names()))

	for _, tc := range cases {
		t.Run(tc.variant, func(t *testing.T) {
			res, err := run(t, store, tc.variant, tc.form)
			require.NoError(t, err)
			require.NotNil(t, res)
			for _, k := range tc.keys {
				assert.Contains(t, res, k)
			}
		})
	}
}

func TestDifferentialSelection_FindsSeparatedTaxon(t *testing.T) {
	res, err := run(t, newStore(t), "differential_selection", map[string]string{
		"catvar": "Group", "pwVar1": "A", "pwVar2": "B", "type": "ttest",
	})
	require.NoError(t, err)
	var found []string
	for _, r := range res["results"].([]any) {
		found = append(found, r.(map[string]any)["taxonomy"].(string))
	}
	assert.Contains(t, found, "otu2")
}

func TestFisherExact_Presence(t *testing.T) {
	res, err := run(t, newStore(t), "fisher_exact", map[string]string{
		"catvar": "Group", "pwVar1": "A", "pwVar2": "B", "minthreshold": "5",
	})
	require.NoError(t, err)
	var otu2 map[string]any
	for _, r := range res["results"].([]any) {
		if e := r.(map[string]any); e["taxonomy"] == "otu2" {
			otu2 = e
		}
	}
	require.NotNil(t, otu2)
	assert.Equal(t, 0, otu2["present1"])
	assert.Equal(t, 4, otu2["present2"])
}

func TestBoruta_ClassifiesEveryFeature(t *testing.T) {
	res, err := run(t, newStore(t), "boruta", map[string]string{"catvar": "Group", "maxruns": "8"})
	require.NoError(t, err)
	total := 0
	for _, k := range []string{analysis.Confirmed, analysis.Tentative, analysis.Rejected} {
		total += len(res[k].([]any))
	}
	assert.Equal(t, len(projecttest.OTUs), total)
}

func TestVariant_Validate(t *testing.T) {
	tests := []struct {
		name    string
		variant string
		form    map[string]string
		field   string
	}{
		{"unknown beta metric", "beta_diversity", map[string]string{"colorvar": "Group", "betaType": "bogus"}, "betaType"},
		{"negative tree count", "random_forest", map[string]string{"catvar": "Group", "numTrees": "-5"}, "numTrees"},
		{"mixing ratio above one", "linear_classifier", map[string]string{"catvar": "Group", "mixingRatio": "7"}, "mixingRatio"},
		{"missing catvar", "random_forest", nil, request.FieldCatVar},
		{"network model not a list", "deep_neural_network", map[string]string{"catvar": "Group", "dnnModel": `"abc"`}, "dnnModel"},
		{"regression without expvar", "deep_neural_network", map[string]string{"problemType": "regression"}, "expvar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := analysis.Builtin().Lookup(tt.variant)
			require.NoError(t, err)
			fields := request.MapFields{"pid": projecttest.ProjectID}
			for k, val := range tt.form {
				fields[k] = val
			}
			rc, err := request.Build(fields, projecttest.UserID, v.Fields)
			require.NoError(t, err)

			var ve *request.ValidationError
			require.ErrorAs(t, v.Validate(rc), &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	t.Run("defaults pass", func(t *testing.T) {
		for _, name := range []string{"pca", "heatmap", "nmds", "table", "composition"} {
			v, err := analysis.Builtin().Lookup(name)
			require.NoError(t, err)
			rc, err := request.Build(request.MapFields{"pid": projecttest.ProjectID}, projecttest.UserID, v.Fields)
			require.NoError(t, err)
			assert.NoError(t, v.Validate(rc), name)
		}
	})
}

func TestPCA_ComponentOutOfRange(t *testing.T) {
	_, err := run(t, newStore(t), "pca", map[string]string{"pca3": "40"})
	var ve *request.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "pca3", ve.Field)
}

func TestDeepNeuralNetwork_BadModel(t *testing.T) {
	_, err := run(t, newStore(t), "deep_neural_network", map[string]string{"catvar": "Group", "dnnModel": `[{"units": 0}]`})
	var ve *request.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "dnnModel", ve.Field)
}

func TestDomainErrors(t *testing.T) {
	store := newStore(t)

	_, err := run(t, store, "differential_selection", map[string]string{"catvar": "Group", "pwVar1": "A", "pwVar2": "Z"})
	var de *analysis.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "differential_selection", de.Variant)

	_, err = run(t, store, "linear_classifier", nil)
	var ve *request.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, request.FieldCatVar, ve.Field)
}

func TestTable_SampleRows(t *testing.T) {
	res, err := run(t, newStore(t), "table", nil)
	require.NoError(t, err)
	headers := res["headers"].([]string)
	assert.Equal(t, analysis.SampleIDAxis, headers[0])
	assert.Len(t, headers, 1+len(projecttest.OTUs))
}
