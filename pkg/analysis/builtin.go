package analysis

import "github.com/3leaps/gomian/pkg/request"

var compositionFields = []request.FieldSpec{
	str("plotType", "bar"),
	str("xaxis", SampleIDAxis),
}

var compositionHeatmapFields = []request.FieldSpec{
	str("rows", "Taxonomy"),
	str("cols", SampleIDAxis),
	boolean("clustersamples", false),
	boolean("clustertaxonomic", false),
	boolean("showlabels", false),
	str("colorscheme", "Jet"),
}

var correlationNetworkFields = []request.FieldSpec{
	str("type", PointsOTU),
	float("cutoff", 0.5),
	str("corrMethod", "pearson"),
}

var rarefactionFields = []request.FieldSpec{
	str("colorvar", "None"),
}

var treeFields = []request.FieldSpec{
	integer("taxonomy_display_level", -1),
	str("display_values", "avg"),
	boolean("exclude_unclassified", false),
}

var elasticNetRegressionFields = fields([]request.FieldSpec{reqStr("expvar")}, elasticNetClassificationFields)

// Builtin returns a registry holding every analysis variant the service
// exposes. The table is closed: variants are not registered at runtime.
func Builtin() *Registry {
	r := NewRegistry()
	std := func(name string, f []request.FieldSpec, params func() any, job JobFunc) *Variant {
		return &Variant{Name: name, Deadline: Standard, Encoding: JSON, Fields: f, Params: params, Job: job}
	}
	ext := func(name string, f []request.FieldSpec, params func() any, job JobFunc) *Variant {
		return &Variant{Name: name, Deadline: Extended, Encoding: JSON, Fields: f, Params: params, Job: job}
	}
	byCatVar := func(v *Variant) *Variant {
		v.RequiresCatVar = true
		return v
	}
	training := func() any { return &elasticNetParams{trainingParams: defaultTraining()} }

	for _, v := range []*Variant{
		std("alpha_diversity", alphaFields, zeroParams[alphaParams](), alphaDiversity),
		ext("beta_diversity", betaFields, zeroParams[betaParams](), betaDiversity("beta")),
		ext("beta_diversity_permanova", betaFields, zeroParams[betaParams](), betaDiversity("permanova")),
		byCatVar(std("boruta", borutaFields, func() any { return &borutaParams{trainingParams: defaultTraining()} }, boruta)),
		std("boxplots", boxplotFields, zeroParams[boxplotParams](), boxplots),
		std("composition", compositionFields, zeroParams[compositionParams](), composition),
		std("composition_heatmap", compositionHeatmapFields, zeroParams[compositionHeatmapParams](), compositionHeatmap),
		std("correlations", correlationsFields, zeroParams[correlationsParams](), correlations),
		std("correlation_network", correlationNetworkFields, zeroParams[correlationNetworkParams](), correlationNetwork),
		std("correlations_selection", correlationsSelectionFields, zeroParams[correlationsSelectionParams](), correlationsSelection),
		std("deep_neural_network", deepNeuralNetworkFields, paramsFrom(dnnDefaults), deepNeuralNetwork),
		byCatVar(std("differential_selection", differentialFields, func() any { return &differentialParams{trainingParams: defaultTraining()} }, differentialSelection)),
		byCatVar(std("elastic_net_selection_classification", elasticNetClassificationFields, training, elasticNetSelectionClassification)),
		std("elastic_net_selection_regression", elasticNetRegressionFields, training, elasticNetSelectionRegression),
		byCatVar(std("fisher_exact", fisherFields, func() any { return &fisherParams{trainingParams: defaultTraining()} }, fisherExact)),
		{Name: "heatmap", Deadline: Standard, Encoding: Compressed, Fields: heatmapFields, Params: zeroParams[heatmapParams](), Job: JobFunc(heatmap)},
		byCatVar(std("linear_classifier", linearClassifierFields, paramsFrom(linearClassifierDefaults), linearClassifier)),
		std("linear_regression", linearRegressionFields, paramsFrom(linearRegressionDefaults), linearRegression),
		std("nmds", nmdsFields, paramsFrom(nmdsDefaults), nmds),
		std("pca", pcaFields, paramsFrom(pcaDefaults), pca),
		byCatVar(std("random_forest", randomForestFields, paramsFrom(randomForestDefaults), randomForest)),
		std("rarefaction", rarefactionFields, zeroParams[rarefactionParams](), rarefaction),
		std("table", nil, nil, table),
		std("tree", treeFields, zeroParams[treeParams](), tree),
	} {
		r.MustRegister(v)
	}
	return r
}
