package analysis

import (
	"context"
	"fmt"

	"github.com/3leaps/gomian/pkg/analysis/learn"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
)

var linearClassifierFields = fields([]request.FieldSpec{
	str("lossFunction", "log"),
	float("mixingRatio", 0.5),
	integer("maxIterations", 1000),
}, modelFields)

var linearRegressionFields = fields([]request.FieldSpec{
	reqStr("expvar"),
	float("mixingRatio", 0.5),
	integer("maxIterations", 1000),
}, modelFields)

type linearParams struct {
	ExpVar        string  `attr:"expvar"`
	LossFunction  string  `attr:"lossFunction" validate:"omitempty,oneof=log hinge"`
	MixingRatio   float64 `attr:"mixingRatio" validate:"gte=0,lte=1"`
	MaxIterations int     `attr:"maxIterations" validate:"gte=1,lte=100000"`
	modelParams   `attr:",squash"`
}

func defaultModelParams() modelParams {
	return modelParams{CrossValidateFolds: 5, TrainingProportion: 0.7}
}

func linearClassifierDefaults() linearParams {
	return linearParams{LossFunction: "log", MixingRatio: 0.5, MaxIterations: 1000, modelParams: defaultModelParams()}
}

func linearRegressionDefaults() linearParams {
	return linearParams{MixingRatio: 0.5, MaxIterations: 1000, modelParams: defaultModelParams()}
}

func randomForestDefaults() randomForestParams {
	return randomForestParams{NumTrees: 100, modelParams: defaultModelParams()}
}

func dnnDefaults() dnnParams {
	return dnnParams{Epochs: 100, LearningRate: 0.01, ProblemType: "classification", TrainingProportion: 0.7}
}

// classifierData returns the matrix rows paired with catvar labels.
func classifierData(ctx context.Context, data project.Accessor, rc *request.Context, variant string) (*labeled, error) {
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
	if err := requireRows(variant, lab.m, 4); err != nil {
		return nil, err
	}
	if len(learn.Classes(lab.labels)) < 2 {
		return nil, domainErrorf(variant, "catvar %q needs at least two classes", rc.CatVar())
	}
	return lab, nil
}

// regressorData returns the matrix rows with a numeric expvar target.
func regressorData(ctx context.Context, data project.Accessor, rc *request.Context, variant, expvar string) (*project.Matrix, []float64, error) {
	m, err := loadMatrix(ctx, data, rc)
	if err != nil {
		return nil, nil, err
	}
	lab, err := withLabels(ctx, data, rc, m, expvar)
	if err != nil {
		return nil, nil, err
	}
	y, err := numericLabels(variant, expvar, lab.labels)
	if err != nil {
		return nil, nil, err
	}
	if err := requireRows(variant, lab.m, 4); err != nil {
		return nil, nil, err
	}
	return lab.m, y, nil
}

// classifierScore fits a fresh model on train and returns accuracy on test.
func classifierScore(lab *labeled, fit func(X [][]float64, y []string) (func([][]float64) []string, error)) func(train, test []int) (float64, error) {
	return func(train, test []int) (float64, error) {
		predict, err := fit(learn.Rows(lab.m.Values, train), learn.Pick(lab.labels, train))
		if err != nil {
			return 0, err
		}
		return learn.Accuracy(learn.Pick(lab.labels, test), predict(learn.Rows(lab.m.Values, test))), nil
	}
}

func linearClassifier(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "linear_classifier"
	p := linearClassifierDefaults()
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	lab, err := classifierData(ctx, data, rc, name)
	if err != nil {
		return nil, err
	}
	fit := func(X [][]float64, y []string) (func([][]float64) []string, error) {
		model := &learn.LinearClassifier{Loss: learn.Loss(p.LossFunction), Lambda: 0.01, L1Ratio: p.MixingRatio, MaxIter: p.MaxIterations}
		if err := model.Fit(X, y); err != nil {
			return nil, err
		}
		return model.Predict, nil
	}
	res, err := p.evaluation(lab.m.Rows(), classifierScore(lab, fit))
	if err != nil {
		return nil, domainErrorf(name, "%v", err)
	}
	res["metric"] = "accuracy"
	res["classes"] = learn.Classes(lab.labels)
	return res, nil
}

func linearRegression(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "linear_regression"
	p := linearRegressionDefaults()
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	if p.ExpVar == "" {
		return nil, &request.ValidationError{Field: "expvar", Reason: "required"}
	}
	m, y, err := regressorData(ctx, data, rc, name, p.ExpVar)
	if err != nil {
		return nil, err
	}
	res, err := p.evaluation(m.Rows(), func(train, test []int) (float64, error) {
		model := &learn.ElasticNet{Lambda: 0.01, L1Ratio: p.MixingRatio, MaxIter: p.MaxIterations}
		if err := model.Fit(learn.Rows(m.Values, train), pickValues(y, train)); err != nil {
			return 0, err
		}
		return learn.MSE(pickValues(y, test), model.Predict(learn.Rows(m.Values, test))), nil
	})
	if err != nil {
		return nil, domainErrorf(name, "%v", err)
	}
	res["metric"] = "mse"
	return res, nil
}

var randomForestFields = fields([]request.FieldSpec{
	integer("numTrees", 100),
	integer("maxDepth", 0),
}, modelFields)

type randomForestParams struct {
	NumTrees    int `attr:"numTrees" validate:"gte=1,lte=5000"`
	MaxDepth    int `attr:"maxDepth" validate:"gte=0,lte=100"`
	modelParams `attr:",squash"`
}

func randomForest(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "random_forest"
	p := randomForestDefaults()
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	lab, err := classifierData(ctx, data, rc, name)
	if err != nil {
		return nil, err
	}
	rng := learn.NewRand(p.Seed)
	var last *learn.RandomForest
	fit := func(X [][]float64, y []string) (func([][]float64) []string, error) {
		forest := &learn.RandomForest{NumTrees: p.NumTrees, MaxDepth: p.MaxDepth}
		if err := forest.Fit(X, y, rng); err != nil {
			return nil, err
		}
		last = forest
		return forest.Predict, nil
	}
	res, err := p.evaluation(lab.m.Rows(), classifierScore(lab, fit))
	if err != nil {
		return nil, domainErrorf(name, "%v", err)
	}
	res["metric"] = "accuracy"
	res["classes"] = learn.Classes(lab.labels)
	if last != nil {
		res["importance"] = topFeatures(lab.m.Features, last.Importance(), 20)
	}
	return res, nil
}

var deepNeuralNetworkFields = fields([]request.FieldSpec{
	integer("epochs", 100),
	float("lr", 0.01),
	jsonField("dnnModel"),
	str("expvar", ""),
	str("problemType", "classification"),
	boolean("fixTraining", false),
	float("trainingProportion", 0.7),
	integer("seed", learn.DefaultSeed),
})

type dnnParams struct {
	Epochs             int     `attr:"epochs" validate:"gte=1,lte=10000"`
	LearningRate       float64 `attr:"lr" validate:"gt=0,lte=10"`
	Model              any     `attr:"dnnModel"`
	ExpVar             string  `attr:"expvar"`
	ProblemType        string  `attr:"problemType" validate:"oneof=classification regression"`
	FixTraining        bool    `attr:"fixTraining"`
	TrainingProportion float64 `attr:"trainingProportion" validate:"gt=0,lt=1"`
	Seed               int64   `attr:"seed"`
}

func (p *dnnParams) check(rc *request.Context) error {
	if _, err := hiddenLayers(p.Model); err != nil {
		return err
	}
	if p.ProblemType == "regression" {
		if p.ExpVar == "" {
			return &request.ValidationError{Field: "expvar", Reason: "required"}
		}
		return nil
	}
	if rc.CatVar() == "" {
		return &request.ValidationError{Field: request.FieldCatVar, Reason: "required"}
	}
	return nil
}

// hiddenLayers reads layer widths from a dnnModel value: a list of ints,
// a list of {"units": n} objects, or an object with a "layers" list.
func hiddenLayers(v any) ([]int, error) {
	if v == nil {
		return []int{16}, nil
	}
	if obj, ok := v.(map[string]any); ok {
		v = obj["layers"]
	}
	list, ok := v.([]any)
	if !ok {
		return nil, &request.ValidationError{Field: "dnnModel", Reason: "expected a list of layers"}
	}
	var out []int
	for i, item := range list {
		if obj, ok := item.(map[string]any); ok {
			item = obj["units"]
			if item == nil {
				item = obj["neurons"]
			}
		}
		var n int
		switch x := item.(type) {
		case int64:
			n = int(x)
		case float64:
			n = int(x)
		case int:
			n = x
		default:
			return nil, &request.ValidationError{Field: "dnnModel", Reason: fmt.Sprintf("layer %d has no unit count", i)}
		}
		if n < 1 || n > 4096 {
			return nil, &request.ValidationError{Field: "dnnModel", Reason: fmt.Sprintf("layer %d width %d out of range", i, n)}
		}
		out = append(out, n)
	}
	return out, nil
}

func deepNeuralNetwork(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	const name = "deep_neural_network"
	p := dnnDefaults()
	if err := Decode(rc.Attributes(), &p); err != nil {
		return nil, err
	}
	hidden, err := hiddenLayers(p.Model)
	if err != nil {
		return nil, err
	}
	mp := modelParams{FixTraining: p.FixTraining, TrainingProportion: p.TrainingProportion, Seed: p.Seed}
	seed := p.Seed
	net := &learn.MLP{Hidden: hidden, Epochs: p.Epochs, LearningRate: p.LearningRate}
	var history *learn.History

	var res Result
	if p.ProblemType == "regression" {
		if p.ExpVar == "" {
			return nil, &request.ValidationError{Field: "expvar", Reason: "required"}
		}
		m, y, err := regressorData(ctx, data, rc, name, p.ExpVar)
		if err != nil {
			return nil, err
		}
		res, err = mp.evaluation(m.Rows(), func(train, test []int) (float64, error) {
			h, err := net.FitRegressor(learn.Rows(m.Values, train), pickValues(y, train), learn.NewRand(seed))
			if err != nil {
				return 0, err
			}
			history = h
			return learn.MSE(pickValues(y, test), net.PredictValue(learn.Rows(m.Values, test))), nil
		})
		if err != nil {
			return nil, domainErrorf(name, "%v", err)
		}
		res["metric"] = "mse"
	} else {
		lab, err := classifierData(ctx, data, rc, name)
		if err != nil {
			return nil, err
		}
		res, err = mp.evaluation(lab.m.Rows(), classifierScore(lab, func(X [][]float64, y []string) (func([][]float64) []string, error) {
			h, err := net.FitClassifier(X, y, learn.NewRand(seed))
			if err != nil {
				return nil, err
			}
			history = h
			return net.PredictClass, nil
		}))
		if err != nil {
			return nil, domainErrorf(name, "%v", err)
		}
		res["metric"] = "accuracy"
		res["classes"] = net.Classes
	}
	if history != nil {
		res["loss"] = history.Loss
	}
	res["layers"] = hidden
	res["problemType"] = p.ProblemType
	return res, nil
}
