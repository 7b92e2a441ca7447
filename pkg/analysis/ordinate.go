package analysis

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/3leaps/gomian/pkg/analysis/learn"
	"github.com/3leaps/gomian/pkg/analysis/ordination"
	"github.com/3leaps/gomian/pkg/analysis/stats"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
)

// Ordination point types.
const (
	PointsOTU    = "otu"
	PointsSample = "sample"
)

var pcaFields = []request.FieldSpec{
	str("type", PointsSample),
	integer("pca1", 1),
	integer("pca2", 2),
	integer("pca3", 3),
}

type pcaParams struct {
	Type string `attr:"type" validate:"oneof=otu sample"`
	PCA1 int    `attr:"pca1" validate:"gte=1"`
	PCA2 int    `attr:"pca2" validate:"gte=1"`
	PCA3 int    `attr:"pca3" validate:"gte=1"`
}

// orientation returns the point labels and rows for an ordination of
// samples or of features.
func orientation(m *project.Matrix, kind string) ([]string, [][]float64) {
	if kind == PointsOTU {
		return m.Features, transpose(m.Values)
	}
	return m.Samples, m.Values
}

// pointColors colors sample points by catvar; feature points are uncolored.
func pointColors(ctx context.Context, data project.Accessor, rc *request.Context, m *project.Matrix, kind string) (map[string]string, error) {
	if kind == PointsOTU {
		return map[string]string{}, nil
	}
	return optionalColumn(ctx, data, rc, m.Samples, rc.CatVar())
}

func pca(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "pca"
	p := pcaDefaults()
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	ids, rows := orientation(m, p.Type)
	colors, err := pointColors(ctx, data, rc, m, p.Type)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 || len(rows[0]) < 1 {
		return nil, domainErrorf(name, "need at least two points")
	}
	res, err := ordination.PCA(denseOf(rows))
	if err != nil {
		return nil, domainErrorf(name, "%v", err)
	}
	comps := []int{p.PCA1 - 1, p.PCA2 - 1, p.PCA3 - 1}
	for i, c := range comps {
		if c >= len(res.Explained) {
			return nil, &request.ValidationError{Field: []string{"pca1", "pca2", "pca3"}[i], Reason: "component out of range"}
		}
	}
	points := make([]any, len(ids))
	for i, id := range ids {
		points[i] = map[string]any{
			"id":    id,
			"x":     res.Scores[i][comps[0]],
			"y":     res.Scores[i][comps[1]],
			"z":     res.Scores[i][comps[2]],
			"color": colors[id],
		}
	}
	return Result{"pca": points, "pcaVar": res.Explained, "type": p.Type}, nil
}

var nmdsFields = []request.FieldSpec{
	str("type", PointsSample),
}

type nmdsParams struct {
	Type string `attr:"type" validate:"oneof=otu sample"`
}

func nmds(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "nmds"
	p := nmdsDefaults()
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	ids, rows := orientation(m, p.Type)
	colors, err := pointColors(ctx, data, rc, m, p.Type)
	if err != nil {
		return nil, err
	}
	if len(rows) < 3 {
		return nil, domainErrorf(name, "need at least three points")
	}
	d, err := stats.DistanceMatrix(stats.BrayCurtis, rows)
	if err != nil {
		return nil, domainErrorf(name, "%v", err)
	}
	res, err := ordination.NMDS(d, 2, 300, learn.NewRand(learn.DefaultSeed))
	if errors.Is(err, ordination.ErrDegenerate) {
		return nil, domainErrorf(name, "%v", err)
	}
	if err != nil {
		return nil, err
	}
	points := make([]any, len(ids))
	for i, id := range ids {
		points[i] = map[string]any{"id": id, "x": res.Points[i][0], "y": res.Points[i][1], "color": colors[id]}
	}
	return Result{"nmds": points, "stress": res.Stress, "type": p.Type}, nil
}

func denseOf(rows [][]float64) *mat.Dense {
	data := make([]float64, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), len(rows[0]), data)
}

func pcaDefaults() pcaParams { return pcaParams{Type: PointsSample, PCA1: 1, PCA2: 2, PCA3: 3} }

func nmdsDefaults() nmdsParams { return nmdsParams{Type: PointsSample} }
