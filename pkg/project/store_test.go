package project_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestStore_LoadInfo(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	info, err := s.LoadInfo(ctx, projecttest.UserID, projecttest.SharedID)
	require.NoError(t, err)
	assert.Equal(t, "Fixture p2", info.Name)
	assert.True(t, info.Shared)
	assert.Equal(t, projecttest.SharedID, info.ID)
	assert.Equal(t, projecttest.UserID, info.Owner)
	assert.Equal(t, int64(40), info.SubsampledValue)
	assert.Equal(t, 2024, info.CreatedAt.Year())

	info, err = s.LoadInfo(ctx, projecttest.UserID, projecttest.ProjectID)
	require.NoError(t, err)
	assert.False(t, info.Shared)
}

func TestStore_NotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.LoadInfo(ctx, projecttest.UserID, "nope")
	assert.True(t, errors.Is(err, project.ErrNotFound))

	_, err = s.LoadAbundanceMatrix(ctx, "bob", projecttest.ProjectID, request.LevelNone, project.Filters{})
	assert.True(t, errors.Is(err, project.ErrNotFound))

	_, err = s.LoadMetadata(ctx, projecttest.UserID, "../"+projecttest.ProjectID)
	assert.True(t, errors.Is(err, project.ErrNotFound))

	md, err := s.LoadMetadata(ctx, projecttest.UserID, projecttest.ProjectID)
	require.NoError(t, err)
	_, err = md.Column("Missing")
	assert.True(t, errors.Is(err, project.ErrNotFound))
}

func TestStore_LoadAbundanceMatrix_Unfiltered(t *testing.T) {
	s := newStore(t)

	m, err := s.LoadAbundanceMatrix(context.Background(), projecttest.UserID, projecttest.ProjectID, request.LevelNone, project.Filters{})
	require.NoError(t, err)
	assert.Equal(t, projecttest.Samples, m.Samples)
	assert.Equal(t, projecttest.OTUs, m.Features)
	assert.Equal(t, []float64{10, 0, 5, 1, 30}, m.Values[0])

	d := m.Dense()
	r, c := d.Dims()
	assert.Equal(t, 8, r)
	assert.Equal(t, 5, c)
	assert.Equal(t, 22.0, d.At(6, 1))
}

func TestStore_LoadAbundanceMatrix_Filters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		level    int
		filters  project.Filters
		samples  []string
		features []string
		firstRow []float64
	}{
		{
			name:     "sample include",
			level:    request.LevelNone,
			filters:  project.Filters{Sample: request.Filter{Column: "Group", Role: request.RoleInclude, Values: []any{"A"}}},
			samples:  []string{"S1", "S2", "S3", "S4"},
			features: projecttest.OTUs,
			firstRow: []float64{10, 0, 5, 1, 30},
		},
		{
			name:     "sample exclude numeric value",
			level:    request.LevelNone,
			filters:  project.Filters{Sample: request.Filter{Column: "Age", Role: request.RoleExclude, Values: []any{int64(20), int64(25)}}},
			samples:  []string{"S3", "S4", "S5", "S6", "S7", "S8"},
			features: projecttest.OTUs,
			firstRow: []float64{9, 0, 6, 2, 28},
		},
		{
			name:     "taxonomy include by rank name",
			level:    request.LevelOTU,
			filters:  project.Filters{Taxonomy: request.Filter{Column: "Phylum", Role: request.RoleInclude, Values: []any{"Firmicutes"}}},
			samples:  projecttest.Samples,
			features: []string{"otu1", "otu3", "otu5"},
			firstRow: []float64{10, 5, 30},
		},
		{
			name:     "taxonomy exclude by rank index",
			level:    request.LevelNone,
			filters:  project.Filters{Taxonomy: request.Filter{Column: "1", Role: request.RoleExclude, Values: []any{"Firmicutes"}}},
			samples:  projecttest.Samples,
			features: []string{"otu2", "otu4"},
			firstRow: []float64{0, 1},
		},
		{
			name:     "low expression",
			level:    request.LevelNone,
			filters:  project.Filters{LowExpression: request.LowExpression{Count: "5", Prevalence: "50"}},
			samples:  projecttest.Samples,
			features: []string{"otu1", "otu2", "otu4", "otu5"},
			firstRow: []float64{10, 0, 1, 30},
		},
		{
			name:     "aggregate phylum",
			level:    1,
			samples:  projecttest.Samples,
			features: []string{"Firmicutes", "Bacteroidetes", "Proteobacteria"},
			firstRow: []float64{45, 0, 1},
		},
		{
			name:     "aggregate species with unclassified",
			level:    6,
			samples:  projecttest.Samples,
			features: []string{project.Unclassified, "coli"},
			firstRow: []float64{45, 1},
		},
		{
			name:  "filters then aggregate",
			level: 0,
			filters: project.Filters{
				Sample:   request.Filter{Column: "Site", Role: request.RoleInclude, Values: []any{"skin"}},
				Taxonomy: request.Filter{Column: "Phylum", Role: request.RoleInclude, Values: []any{"Firmicutes"}},
			},
			samples:  []string{"S2", "S4", "S6", "S8"},
			features: []string{"Bacteria"},
			firstRow: []float64{41},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := s.LoadAbundanceMatrix(ctx, projecttest.UserID, projecttest.ProjectID, tt.level, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.samples, m.Samples)
			assert.Equal(t, tt.features, m.Features)
			require.NotEmpty(t, m.Values)
			assert.Equal(t, tt.firstRow, m.Values[0])
		})
	}
}

func TestStore_LoadAbundanceMatrix_Errors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.LoadAbundanceMatrix(ctx, projecttest.UserID, projecttest.ProjectID, 7, project.Filters{})
	var verr *request.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, request.FieldLevel, verr.Field)

	_, err = s.LoadAbundanceMatrix(ctx, projecttest.UserID, projecttest.ProjectID, request.LevelNone, project.Filters{
		Sample: request.Filter{Column: "Nope", Role: request.RoleInclude, Values: []any{"x"}},
	})
	assert.True(t, errors.Is(err, project.ErrNotFound))

	_, err = s.LoadAbundanceMatrix(ctx, projecttest.UserID, projecttest.ProjectID, request.LevelNone, project.Filters{
		Taxonomy: request.Filter{Column: "Subspecies", Role: request.RoleInclude, Values: []any{"x"}},
	})
	assert.True(t, errors.Is(err, project.ErrNotFound))
}

func TestStore_Metadata(t *testing.T) {
	s := newStore(t)

	md, err := s.LoadMetadata(context.Background(), projecttest.UserID, projecttest.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Group", "Age", "Site"}, md.Columns)
	assert.Equal(t, []project.Header{
		{Name: "Group", Type: project.TypeCategorical},
		{Name: "Age", Type: project.TypeNumeric},
		{Name: "Site", Type: project.TypeCategorical},
	}, md.HeadersWithType())

	vals, err := md.Unique("Group")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, vals)
}

func TestStore_TaxonomyMap(t *testing.T) {
	s := newStore(t)

	tax, err := s.LoadTaxonomyMap(context.Background(), projecttest.UserID, projecttest.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, projecttest.OTUs, tax.OTUs)
	assert.Equal(t, "Firmicutes", tax.At("otu1", 1))
	assert.Equal(t, project.Unclassified, tax.At("otu1", 6))
	assert.Equal(t, project.Unclassified, tax.At("missing", 0))
	assert.Equal(t, []string{"Firmicutes", "Bacteroidetes", "Proteobacteria"}, tax.LevelsAt(1))

	tree := tax.Tree()
	bacteria, ok := tree["Bacteria"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, bacteria, 3)
}

func TestStore_HeadersAtLevel(t *testing.T) {
	s := newStore(t)

	headers, err := s.HeadersAtLevel(context.Background(), projecttest.UserID, projecttest.ProjectID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bacilli", "Bacteroidia", "Clostridia", "Gammaproteobacteria"}, headers)
}

func TestStore_ListProjects(t *testing.T) {
	s := newStore(t)

	infos, err := s.ListProjects(context.Background(), projecttest.UserID)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, projecttest.ProjectID, infos[0].ID)
	assert.Equal(t, projecttest.SharedID, infos[1].ID)
	for _, info := range infos {
		assert.Equal(t, projecttest.UserID, info.Owner)
		assert.Positive(t, info.TableSize, info.ID)
		assert.False(t, info.TableModified.IsZero(), info.ID)
	}

	infos, err = s.ListProjects(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, infos)
}
