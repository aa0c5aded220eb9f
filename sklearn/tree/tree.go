// Package tree implements a CART decision tree classifier compatible with
// scikit-learn's DecisionTreeClassifier.
package tree

import (
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/cropsense/core/model"
	"github.com/YuminosukeSato/cropsense/metrics"
	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"github.com/YuminosukeSato/cropsense/pkg/log"
	"gonum.org/v1/gonum/mat"
)

const (
	modelName = "DecisionTreeClassifier"

	// featureThreshold is the smallest gap between two sorted values that is
	// treated as a split boundary.
	featureThreshold = 1e-7
)

// DecisionTreeClassifier is a binary tree grown greedily by impurity reduction.
type DecisionTreeClassifier struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	criterion       string // "gini" or "entropy"
	maxDepth        int    // -1 means unlimited
	minSamplesSplit int    // Minimum samples required to split an internal node
	minSamplesLeaf  int    // Minimum samples required in each leaf
	maxFeatures     int    // Features examined per split, 0 means all
	randomState     int64  // Random seed, negative means non-deterministic

	// Model parameters
	nodes               []node
	classes_            []int
	nClasses_           int
	nFeatures_          int
	depth_              int
	nLeaves_            int
	featureImportances_ []float64
}

// node is a split when feature >= 0, a leaf otherwise.
type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     []float64 // class distribution of the training samples in this node
}

// Option is a functional option for DecisionTreeClassifier
type Option func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier creates a new DecisionTreeClassifier
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     0,
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion sets the impurity measure ("gini" or "entropy")
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.criterion = criterion
	}
}

// WithMaxDepth limits the depth of the tree; -1 disables the limit
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum number of samples needed to split a node
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum number of samples in each leaf
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesLeaf = n
	}
}

// WithMaxFeatures sets how many randomly chosen features are examined per split
func WithMaxFeatures(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxFeatures = n
	}
}

// WithRandomState sets the random seed used for feature sampling
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.randomState = seed
	}
}

// Fit grows the tree on X (n_samples x n_features) and column vector y.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	rows, _ := y.Dims()
	return dt.FitWeighted(X, y, nil, uniqueClasses(y, rows))
}

// FitWeighted grows the tree with per-sample weights over a fixed class set.
// Samples with zero weight are ignored. classes must be sorted ascending and
// contain every label in y; ensembles pass the full class set so that every
// tree reports probabilities over the same columns.
func (dt *DecisionTreeClassifier) FitWeighted(X, y mat.Matrix, sampleWeight []float64, classes []int) error {
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
	if sampleWeight != nil && len(sampleWeight) != nSamples {
		return cserrors.NewDimensionError("Fit", nSamples, len(sampleWeight), 0)
	}
	if err := dt.validateParams(); err != nil {
		return err
	}
	if len(classes) == 0 {
		return cserrors.NewValueError("Fit", "classes must not be empty")
	}

	classIndex := make(map[int]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	b := &builder{
		dt:          dt,
		columns:     make([][]float64, nFeatures),
		labels:      make([]int, nSamples),
		weights:     make([]float64, nSamples),
		nClasses:    len(classes),
		maxFeatures: dt.maxFeatures,
		importances: make([]float64, nFeatures),
		rng:         newRand(dt.randomState),
	}
	if b.maxFeatures <= 0 || b.maxFeatures > nFeatures {
		b.maxFeatures = nFeatures
	}
	for f := 0; f < nFeatures; f++ {
		b.columns[f] = mat.Col(nil, f, X)
	}

	samples := make([]int, 0, nSamples)
	for i := 0; i < nSamples; i++ {
		label := int(y.At(i, 0))
		idx, ok := classIndex[label]
		if !ok {
			return cserrors.NewValueError("Fit", "label not present in classes")
		}
		b.labels[i] = idx
		b.weights[i] = 1
		if sampleWeight != nil {
			b.weights[i] = sampleWeight[i]
		}
		if b.weights[i] > 0 {
			samples = append(samples, i)
		}
	}
	if len(samples) == 0 {
		return cserrors.NewModelError("Fit", "all sample weights are zero", cserrors.ErrEmptyData)
	}
	if err := cserrors.CheckMatrix("Fit", X, nSamples, nFeatures); err != nil {
		return err
	}

	dt.nodes = dt.nodes[:0]
	dt.depth_ = 0
	dt.nLeaves_ = 0
	b.grow(samples, 0)

	total := 0.0
	for _, v := range b.importances {
		total += v
	}
	for f := range b.importances {
		b.importances[f] = cserrors.SafeDivide(b.importances[f], total)
	}

	dt.classes_ = append([]int(nil), classes...)
	dt.nClasses_ = len(classes)
	dt.nFeatures_ = nFeatures
	dt.featureImportances_ = b.importances
	dt.state.SetFitted(nFeatures, len(samples))

	log.GetLoggerWithName("tree.classifier").Debug("Tree grown",
		log.ModelNameKey, modelName,
		log.SamplesKey, len(samples),
		log.FeaturesKey, nFeatures,
		"depth", dt.depth_,
		"leaves", dt.nLeaves_,
	)
	return nil
}

func (dt *DecisionTreeClassifier) validateParams() error {
	if dt.criterion != "gini" && dt.criterion != "entropy" {
		return cserrors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.criterion)
	}
	if dt.minSamplesSplit < 2 {
		return cserrors.NewValidationError("min_samples_split", "must be at least 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return cserrors.NewValidationError("min_samples_leaf", "must be at least 1", dt.minSamplesLeaf)
	}
	return nil
}

// builder holds the per-fit working state.
type builder struct {
	dt          *DecisionTreeClassifier
	columns     [][]float64 // feature-major copy of X
	labels      []int       // class index per sample
	weights     []float64
	nClasses    int
	maxFeatures int
	importances []float64
	rng         *rand.Rand
}

type split struct {
	found     bool
	feature   int
	threshold float64
	pos       int     // number of samples going left in sorted order
	proxy     float64 // weighted child impurity, lower is better
	sorted    []int
}

// grow appends the subtree for samples and returns the index of its root.
func (b *builder) grow(samples []int, depth int) int {
	counts, weight := b.classCounts(samples)
	impurity := b.impurity(counts, weight)

	value := make([]float64, b.nClasses)
	for k := range counts {
		value[k] = cserrors.SafeDivide(counts[k], weight)
	}

	idx := len(b.dt.nodes)
	b.dt.nodes = append(b.dt.nodes, node{feature: -1, left: -1, right: -1, value: value})
	if depth > b.dt.depth_ {
		b.dt.depth_ = depth
	}

	n := len(samples)
	isLeaf := (b.dt.maxDepth >= 0 && depth >= b.dt.maxDepth) ||
		n < b.dt.minSamplesSplit ||
		n < 2*b.dt.minSamplesLeaf ||
		impurity <= 1e-12

	var best split
	if !isLeaf {
		best = b.findBestSplit(samples, counts, weight)
	}
	if !best.found {
		b.dt.nLeaves_++
		return idx
	}

	leftSamples := append([]int(nil), best.sorted[:best.pos]...)
	rightSamples := append([]int(nil), best.sorted[best.pos:]...)

	leftCounts, leftWeight := b.classCounts(leftSamples)
	rightCounts, rightWeight := b.classCounts(rightSamples)
	b.importances[best.feature] += weight*impurity -
		leftWeight*b.impurity(leftCounts, leftWeight) -
		rightWeight*b.impurity(rightCounts, rightWeight)

	left := b.grow(leftSamples, depth+1)
	right := b.grow(rightSamples, depth+1)

	nd := &b.dt.nodes[idx]
	nd.feature = best.feature
	nd.threshold = best.threshold
	nd.left = left
	nd.right = right
	return idx
}

// findBestSplit examines features in random order. Like scikit-learn it keeps
// looking past maxFeatures until at least one valid split has been found;
// constant features do not count towards maxFeatures.
func (b *builder) findBestSplit(samples []int, counts []float64, weight float64) split {
	best := split{proxy: math.Inf(1)}

	order := make([]int, len(b.columns))
	for i := range order {
		order[i] = i
	}
	if b.maxFeatures < len(b.columns) {
		b.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	visited := 0
	for _, f := range order {
		if visited >= b.maxFeatures && best.found {
			break
		}

		col := b.columns[f]
		sorted := append([]int(nil), samples...)
		sort.SliceStable(sorted, func(i, j int) bool { return col[sorted[i]] < col[sorted[j]] })

		if col[sorted[len(sorted)-1]] <= col[sorted[0]]+featureThreshold {
			continue // constant in this node
		}
		visited++

		left := make([]float64, b.nClasses)
		right := append([]float64(nil), counts...)
		leftWeight, rightWeight := 0.0, weight

		n := len(sorted)
		for i := 0; i < n-1; i++ {
			s := sorted[i]
			w := b.weights[s]
			left[b.labels[s]] += w
			right[b.labels[s]] -= w
			leftWeight += w
			rightWeight -= w

			cur, next := col[s], col[sorted[i+1]]
			if next <= cur+featureThreshold {
				continue
			}
			nLeft := i + 1
			if nLeft < b.dt.minSamplesLeaf || n-nLeft < b.dt.minSamplesLeaf {
				continue
			}

			proxy := leftWeight*b.impurity(left, leftWeight) + rightWeight*b.impurity(right, rightWeight)
			if proxy < best.proxy {
				threshold := cur/2 + next/2
				if threshold >= next {
					threshold = cur
				}
				best = split{
					found:     true,
					feature:   f,
					threshold: threshold,
					pos:       nLeft,
					proxy:     proxy,
					sorted:    sorted,
				}
			}
		}
	}
	return best
}

func (b *builder) classCounts(samples []int) ([]float64, float64) {
	counts := make([]float64, b.nClasses)
	total := 0.0
	for _, s := range samples {
		counts[b.labels[s]] += b.weights[s]
		total += b.weights[s]
	}
	return counts, total
}

func (b *builder) impurity(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	if b.dt.criterion == "entropy" {
		h := 0.0
		for _, c := range counts {
			if c > 0 {
				p := c / total
				h -= p * math.Log2(p)
			}
		}
		return h
	}
	g := 1.0
	for _, c := range counts {
		p := c / total
		g -= p * p
	}
	return g
}

// PredictProbaRow returns the class distribution of the leaf reached by row.
// The returned slice is shared with the model and must not be modified.
func (dt *DecisionTreeClassifier) PredictProbaRow(row []float64) ([]float64, error) {
	if err := dt.state.RequireFitted(modelName, "PredictProba"); err != nil {
		return nil, err
	}
	if err := dt.state.RequireFeatures("PredictProba", len(row)); err != nil {
		return nil, err
	}
	return dt.leaf(row).value, nil
}

func (dt *DecisionTreeClassifier) leaf(row []float64) *node {
	nd := &dt.nodes[0]
	for nd.feature >= 0 {
		if row[nd.feature] <= nd.threshold {
			nd = &dt.nodes[nd.left]
		} else {
			nd = &dt.nodes[nd.right]
		}
	}
	return nd
}

// PredictProba returns class probabilities, one column per entry of Classes().
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted(modelName, "PredictProba"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := dt.state.RequireFeatures("PredictProba", cols); err != nil {
		return nil, err
	}

	out := mat.NewDense(rows, dt.nClasses_, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		out.SetRow(i, dt.leaf(row).value)
	}
	return out, nil
}

// Predict returns the most probable class label for each row as a column vector.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return ArgmaxLabels(proba, dt.classes_), nil
}

// ArgmaxLabels maps each probability row to the label of its largest column.
// Ties resolve to the lowest column.
func ArgmaxLabels(proba mat.Matrix, classes []int) *mat.Dense {
	rows, cols := proba.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		bestK := 0
		bestP := proba.At(i, 0)
		for k := 1; k < cols; k++ {
			if p := proba.At(i, k); p > bestP {
				bestK, bestP = k, p
			}
		}
		out.Set(i, 0, float64(classes[bestK]))
	}
	return out
}

// Score returns the mean accuracy on X and y, or 0 if prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	acc, err := metrics.AccuracyMatrix(y, pred)
	if err != nil {
		return 0
	}
	return acc
}

// Classes returns the sorted class labels seen during fitting.
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.classes_...)
}

// IsFitted reports whether the tree has been grown.
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// GetDepth returns the depth of the tree (a single leaf has depth 0).
func (dt *DecisionTreeClassifier) GetDepth() int {
	return dt.depth_
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	return dt.nLeaves_
}

// GetFeatureImportances returns the normalised total impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetParams returns the hyperparameters
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"max_features":      dt.maxFeatures,
		"random_state":      dt.randomState,
	}
}

// SetParams sets the hyperparameters
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "criterion":
			v, ok := value.(string)
			if !ok {
				return cserrors.NewValidationError(key, "must be a string", value)
			}
			dt.criterion = v
		case "max_depth", "min_samples_split", "min_samples_leaf", "max_features":
			v, ok := value.(int)
			if !ok {
				return cserrors.NewValidationError(key, "must be an int", value)
			}
			switch key {
			case "max_depth":
				dt.maxDepth = v
			case "min_samples_split":
				dt.minSamplesSplit = v
			case "min_samples_leaf":
				dt.minSamplesLeaf = v
			case "max_features":
				dt.maxFeatures = v
			}
		case "random_state":
			switch v := value.(type) {
			case int:
				dt.randomState = int64(v)
			case int64:
				dt.randomState = v
			default:
				return cserrors.NewValidationError(key, "must be an integer", value)
			}
		default:
			return cserrors.NewValidationError(key, "unknown parameter", value)
		}
	}
	return dt.validateParams()
}

func uniqueClasses(y mat.Matrix, rows int) []int {
	seen := make(map[int]bool)
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = true
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes
}

// UniqueClasses returns the sorted distinct integer labels of column vector y.
func UniqueClasses(y mat.Matrix) []int {
	rows, _ := y.Dims()
	return uniqueClasses(y, rows)
}

func newRand(seed int64) *rand.Rand {
	if seed < 0 {
		seed = rand.Int63()
	}
	return rand.New(rand.NewSource(seed))
}
