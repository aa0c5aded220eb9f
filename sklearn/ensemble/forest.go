// Package ensemble implements tree ensembles on top of sklearn/tree.
package ensemble

import (
	"math"
	"math/rand"
	"time"

	"github.com/YuminosukeSato/cropsense/core/model"
	"github.com/YuminosukeSato/cropsense/core/parallel"
	"github.com/YuminosukeSato/cropsense/metrics"
	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"github.com/YuminosukeSato/cropsense/pkg/log"
	"github.com/YuminosukeSato/cropsense/sklearn/tree"
	"gonum.org/v1/gonum/mat"
)

const modelName = "RandomForestClassifier"

// Compile-time interface checks
var (
	_ model.Classifier         = (*RandomForestClassifier)(nil)
	_ model.ParameterGetter    = (*RandomForestClassifier)(nil)
	_ model.ParameterSetter    = (*RandomForestClassifier)(nil)
	_ model.FeatureImportancer = (*RandomForestClassifier)(nil)
)

// RandomForestClassifier averages the class probabilities of decision trees
// grown on bootstrap samples with random feature subsets (soft voting).
//
// Every tree gets its own bootstrap and split seeds, drawn up front from
// randomState, so a fitted forest does not depend on how trees are scheduled
// across workers.
type RandomForestClassifier struct {
	state *model.StateManager

	nEstimators int
	maxFeatures string // "sqrt", "log2" or "all"
	bootstrap   bool
	nJobs       int   // workers used to grow trees, <= 0 means one per CPU
	randomState int64 // negative means non-deterministic

	// passed through to every tree
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int

	estimators_         []*tree.DecisionTreeClassifier
	classes_            []int
	nFeatures_          int
	featureImportances_ []float64
}

// Option configures a RandomForestClassifier.
type Option func(*RandomForestClassifier)

// NewRandomForestClassifier creates a forest with scikit-learn's defaults
// (100 trees, sqrt features, bootstrap, gini).
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     100,
		maxFeatures:     "sqrt",
		bootstrap:       true,
		nJobs:           0,
		randomState:     -1,
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nEstimators = n }
}

// WithRandomState fixes the master seed.
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// WithMaxFeatures sets the per-split feature subset rule: "sqrt", "log2" or "all".
func WithMaxFeatures(rule string) Option {
	return func(rf *RandomForestClassifier) { rf.maxFeatures = rule }
}

// WithBootstrap toggles bootstrap sampling. Without it every tree sees all samples.
func WithBootstrap(bootstrap bool) Option {
	return func(rf *RandomForestClassifier) { rf.bootstrap = bootstrap }
}

// WithNJobs sets the number of goroutines growing trees.
func WithNJobs(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nJobs = n }
}

// WithCriterion sets the tree impurity measure.
func WithCriterion(criterion string) Option {
	return func(rf *RandomForestClassifier) { rf.criterion = criterion }
}

// WithMaxDepth limits tree depth; -1 disables the limit.
func WithMaxDepth(depth int) Option {
	return func(rf *RandomForestClassifier) { rf.maxDepth = depth }
}

// WithMinSamplesSplit sets the tree min_samples_split.
func WithMinSamplesSplit(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the tree min_samples_leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

func (rf *RandomForestClassifier) validateParams() error {
	if rf.nEstimators < 1 {
		return cserrors.NewValidationError("n_estimators", "must be at least 1", rf.nEstimators)
	}
	switch rf.maxFeatures {
	case "sqrt", "log2", "all":
	default:
		return cserrors.NewValidationError("max_features", "must be 'sqrt', 'log2' or 'all'", rf.maxFeatures)
	}
	if rf.criterion != "gini" && rf.criterion != "entropy" {
		return cserrors.NewValidationError("criterion", "must be 'gini' or 'entropy'", rf.criterion)
	}
	if rf.minSamplesSplit < 2 {
		return cserrors.NewValidationError("min_samples_split", "must be at least 2", rf.minSamplesSplit)
	}
	if rf.minSamplesLeaf < 1 {
		return cserrors.NewValidationError("min_samples_leaf", "must be at least 1", rf.minSamplesLeaf)
	}
	return nil
}

// featuresPerSplit resolves the max_features rule for nFeatures columns.
func (rf *RandomForestClassifier) featuresPerSplit(nFeatures int) int {
	var n int
	switch rf.maxFeatures {
	case "sqrt":
		n = int(math.Sqrt(float64(nFeatures)))
	case "log2":
		n = int(math.Log2(float64(nFeatures)))
	default:
		n = nFeatures
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Fit grows nEstimators trees on X and column vector y.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	start := time.Now()

	if err := rf.validateParams(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return cserrors.NewModelError("Fit", "empty data", cserrors.ErrEmptyData)
	}
	if nSamples != yRows {
		return cserrors.NewDimensionError("Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return cserrors.NewDimensionError("Fit", 1, yCols, 1)
	}

	classes := tree.UniqueClasses(y)
	perSplit := rf.featuresPerSplit(nFeatures)

	master := rand.New(rand.NewSource(rf.seed()))
	bootSeeds := make([]int64, rf.nEstimators)
	treeSeeds := make([]int64, rf.nEstimators)
	for i := range bootSeeds {
		bootSeeds[i] = master.Int63()
		treeSeeds[i] = master.Int63()
	}

	estimators := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	err := parallel.ForEach(rf.nEstimators, rf.nJobs, func(i int) error {
		return cserrors.SafeExecute("RandomForestClassifier.growTree", func() error {
			dt := tree.NewDecisionTreeClassifier(
				tree.WithCriterion(rf.criterion),
				tree.WithMaxDepth(rf.maxDepth),
				tree.WithMinSamplesSplit(rf.minSamplesSplit),
				tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
				tree.WithMaxFeatures(perSplit),
				tree.WithRandomState(treeSeeds[i]),
			)
			var weights []float64
			if rf.bootstrap {
				weights = bootstrapWeights(nSamples, bootSeeds[i])
			}
			if err := dt.FitWeighted(X, y, weights, classes); err != nil {
				return cserrors.Wrapf(err, "tree %d", i)
			}
			estimators[i] = dt
			return nil
		})
	})
	if err != nil {
		return cserrors.NewModelError("Fit", "tree growth failed", err)
	}

	importances := make([]float64, nFeatures)
	for _, dt := range estimators {
		for f, v := range dt.GetFeatureImportances() {
			importances[f] += v
		}
	}
	total := 0.0
	for _, v := range importances {
		total += v
	}
	for f := range importances {
		importances[f] = cserrors.SafeDivide(importances[f], total)
	}

	rf.estimators_ = estimators
	rf.classes_ = classes
	rf.nFeatures_ = nFeatures
	rf.featureImportances_ = importances
	rf.state.SetFitted(nFeatures, nSamples)

	log.GetLoggerWithName("ensemble.forest").Info("Forest trained",
		log.ModelNameKey, modelName,
		log.OperationKey, log.OperationFit,
		log.PhaseKey, log.PhaseTraining,
		log.EstimatorsKey, rf.nEstimators,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.ClassesKey, len(classes),
		log.RandomSeedKey, rf.randomState,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (rf *RandomForestClassifier) seed() int64 {
	if rf.randomState < 0 {
		return time.Now().UnixNano()
	}
	return rf.randomState
}

// bootstrapWeights draws n samples with replacement and returns how often each
// row was drawn.
func bootstrapWeights(n int, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		weights[r.Intn(n)]++
	}
	return weights
}

// PredictProba returns the mean of the tree probabilities, columns ordered as Classes().
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted(modelName, "PredictProba"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := rf.state.RequireFeatures("PredictProba", cols); err != nil {
		return nil, err
	}

	nClasses := len(rf.classes_)
	out := mat.NewDense(rows, nClasses, nil)
	row := make([]float64, cols)
	acc := make([]float64, nClasses)
	scale := 1 / float64(len(rf.estimators_))
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		for k := range acc {
			acc[k] = 0
		}
		for _, dt := range rf.estimators_ {
			p, err := dt.PredictProbaRow(row)
			if err != nil {
				return nil, err
			}
			for k, v := range p {
				acc[k] += v
			}
		}
		for k := range acc {
			acc[k] *= scale
		}
		out.SetRow(i, acc)
	}
	return out, nil
}

// Predict returns the arg-max class of the averaged probabilities. Ties go to
// the smallest class.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxLabels(proba, rf.classes_), nil
}

// Score returns the mean accuracy on X and y, or 0 if prediction fails.
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0
	}
	acc, err := metrics.AccuracyMatrix(y, pred)
	if err != nil {
		return 0
	}
	return acc
}

// Classes returns the sorted class codes seen during Fit.
func (rf *RandomForestClassifier) Classes() []int {
	return append([]int(nil), rf.classes_...)
}

// IsFitted reports whether Fit has completed.
func (rf *RandomForestClassifier) IsFitted() bool {
	return rf.state.IsFitted()
}

// NEstimators returns the number of fitted trees.
func (rf *RandomForestClassifier) NEstimators() int {
	return len(rf.estimators_)
}

// GetFeatureImportances returns the mean impurity decrease per feature,
// normalised to sum to 1.
func (rf *RandomForestClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), rf.featureImportances_...)
}

// GetParams returns the hyperparameters.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"n_jobs":            rf.nJobs,
		"random_state":      rf.randomState,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
	}
}

// SetParams updates hyperparameters. The forest must be refitted afterwards.
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "max_features", "criterion":
			v, ok := value.(string)
			if !ok {
				return cserrors.NewValidationError(key, "must be a string", value)
			}
			if key == "max_features" {
				rf.maxFeatures = v
			} else {
				rf.criterion = v
			}
		case "bootstrap":
			v, ok := value.(bool)
			if !ok {
				return cserrors.NewValidationError(key, "must be a bool", value)
			}
			rf.bootstrap = v
		case "n_estimators", "n_jobs", "max_depth", "min_samples_split", "min_samples_leaf":
			v, ok := value.(int)
			if !ok {
				return cserrors.NewValidationError(key, "must be an int", value)
			}
			switch key {
			case "n_estimators":
				rf.nEstimators = v
			case "n_jobs":
				rf.nJobs = v
			case "max_depth":
				rf.maxDepth = v
			case "min_samples_split":
				rf.minSamplesSplit = v
			case "min_samples_leaf":
				rf.minSamplesLeaf = v
			}
		case "random_state":
			switch v := value.(type) {
			case int:
				rf.randomState = int64(v)
			case int64:
				rf.randomState = v
			default:
				return cserrors.NewValidationError(key, "must be an integer", value)
			}
		default:
			return cserrors.NewValidationError(key, "unknown parameter", value)
		}
	}
	return rf.validateParams()
}
