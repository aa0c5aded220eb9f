package tree

import (
	"math"
	"testing"

	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// separableData returns two well separated clusters in two features.
func separableData() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		3, 3,
		3, 4,
		4, 3,
		4, 4,
	})
	y := mat.NewDense(8, 1, []float64{
		0, 0, 0, 0, // Class 0 (lower left)
		1, 1, 1, 1, // Class 1 (upper right)
	})
	return X, y
}

func checkProbaRows(t *testing.T, probas mat.Matrix) {
	t.Helper()
	rows, cols := probas.Dims()
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			prob := probas.At(i, j)
			if prob < 0 || prob > 1 {
				t.Errorf("Invalid probability at (%d, %d): %v", i, j, prob)
			}
			sum += prob
		}
		if math.Abs(sum-1.0) > 1e-6 {
			t.Errorf("Probabilities for sample %d don't sum to 1: %v", i, sum)
		}
	}
}

// TestDecisionTreeClassifier_FitPredict_Binary tests binary classification
func TestDecisionTreeClassifier_FitPredict_Binary(t *testing.T) {
	X, y := separableData()

	dt := NewDecisionTreeClassifier(
		WithCriterion("gini"),
		WithMaxDepth(5),
	)
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	predictions, err := dt.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	for i := 0; i < 8; i++ {
		if predictions.At(i, 0) != y.At(i, 0) {
			t.Errorf("Sample %d: expected %v, got %v", i, y.At(i, 0), predictions.At(i, 0))
		}
	}

	XTest := mat.NewDense(2, 2, []float64{
		0.5, 0.5, // Should be class 0
		3.5, 3.5, // Should be class 1
	})
	testPreds, err := dt.Predict(XTest)
	if err != nil {
		t.Fatalf("Failed to predict on test data: %v", err)
	}
	if testPreds.At(0, 0) != 0 || testPreds.At(1, 0) != 1 {
		t.Errorf("unexpected predictions on unseen points: %v, %v", testPreds.At(0, 0), testPreds.At(1, 0))
	}
}

// TestDecisionTreeClassifier_Score tests accuracy on an XOR-like pattern
func TestDecisionTreeClassifier_Score(t *testing.T) {
	X := mat.NewDense(8, 2, []float64{
		0.0, 0.0,
		0.0, 0.1,
		0.1, 1.0,
		0.0, 0.9,
		1.0, 0.0,
		0.9, 0.0,
		1.0, 1.0,
		0.9, 0.9,
	})
	// class 0 when both features are similar (both low or both high)
	y := mat.NewDense(8, 1, []float64{
		0, 0,
		1, 1,
		1, 1,
		0, 0,
	})

	dt := NewDecisionTreeClassifier(
		WithMaxDepth(5),
		WithMinSamplesLeaf(1),
	)
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	if score := dt.Score(X, y); score != 1.0 {
		t.Errorf("Decision tree should perfectly fit XOR-like data, got score: %v", score)
	}
}

// TestDecisionTreeClassifier_Multiclass tests multiclass classification
func TestDecisionTreeClassifier_Multiclass(t *testing.T) {
	X := mat.NewDense(9, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		3, 3,
		3, 4,
		4, 3,
		6, 6,
		6, 7,
		7, 6,
	})
	y := mat.NewDense(9, 1, []float64{
		0, 0, 0,
		1, 1, 1,
		2, 2, 2,
	})

	for _, criterion := range []string{"gini", "entropy"} {
		t.Run(criterion, func(t *testing.T) {
			dt := NewDecisionTreeClassifier(
				WithCriterion(criterion),
				WithMaxDepth(5),
			)
			if err := dt.Fit(X, y); err != nil {
				t.Fatalf("Failed to fit multiclass model: %v", err)
			}
			if dt.nClasses_ != 3 {
				t.Errorf("Expected 3 classes, got %d", dt.nClasses_)
			}
			if score := dt.Score(X, y); score != 1.0 {
				t.Errorf("Expected perfect accuracy on training data, got: %v", score)
			}

			probas, err := dt.PredictProba(X)
			if err != nil {
				t.Fatalf("Failed to predict probabilities: %v", err)
			}
			if _, cols := probas.Dims(); cols != 3 {
				t.Errorf("Expected 3 probability columns, got %d", cols)
			}
			checkProbaRows(t, probas)
		})
	}
}

// TestDecisionTreeClassifier_FeatureImportance tests feature importance calculation
func TestDecisionTreeClassifier_FeatureImportance(t *testing.T) {
	X := mat.NewDense(8, 3, []float64{
		0, 0, 0, // Feature 0 determines class
		0, 1, 1,
		0, 0, 1,
		0, 1, 0,
		1, 0, 0,
		1, 1, 1,
		1, 0, 1,
		1, 1, 0,
	})
	y := mat.NewDense(8, 1, []float64{
		0, 0, 0, 0,
		1, 1, 1, 1,
	})

	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	importances := dt.GetFeatureImportances()
	if len(importances) != 3 {
		t.Fatalf("Expected 3 feature importances, got %d", len(importances))
	}
	if importances[0] <= importances[1] || importances[0] <= importances[2] {
		t.Errorf("Feature 0 should have highest importance: %v", importances)
	}

	sum := 0.0
	for _, imp := range importances {
		sum += imp
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("Feature importances should sum to 1, got %v", sum)
	}
}

// TestDecisionTreeClassifier_Constraints tests max depth and minimum sample constraints
func TestDecisionTreeClassifier_Constraints(t *testing.T) {
	X := mat.NewDense(16, 2, nil)
	y := mat.NewDense(16, 1, nil)
	for i := 0; i < 16; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i%4))
		y.Set(i, 0, float64(i%2))
	}

	shallow := NewDecisionTreeClassifier(WithMaxDepth(2))
	if err := shallow.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	if depth := shallow.GetDepth(); depth > 2 {
		t.Errorf("Tree depth %d exceeds max_depth=2", depth)
	}

	constrained := NewDecisionTreeClassifier(
		WithMinSamplesSplit(5),
		WithMinSamplesLeaf(4),
	)
	if err := constrained.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	// 16 samples with at least 4 per leaf allow at most 4 leaves
	if nLeaves := constrained.GetNLeaves(); nLeaves > 4 {
		t.Errorf("Too many leaves %d for min_samples constraints", nLeaves)
	}
}

// TestDecisionTreeClassifier_FitWeighted tests zero weights and a fixed class set
func TestDecisionTreeClassifier_FitWeighted(t *testing.T) {
	X, y := separableData()

	// class 1 rows are excluded by zero weight, class 2 never appears
	weights := []float64{2, 1, 1, 1, 0, 0, 0, 0}
	dt := NewDecisionTreeClassifier()
	if err := dt.FitWeighted(X, y, weights, []int{0, 1, 2}); err != nil {
		t.Fatalf("FitWeighted failed: %v", err)
	}

	probas, err := dt.PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba failed: %v", err)
	}
	if _, cols := probas.Dims(); cols != 3 {
		t.Fatalf("expected probabilities over the full class set, got %d columns", cols)
	}
	for i := 0; i < 8; i++ {
		if probas.At(i, 0) != 1 {
			t.Errorf("row %d: only class 0 had weight, got %v", i, mat.Row(nil, i, probas))
		}
	}

	row, err := dt.PredictProbaRow([]float64{4, 4})
	if err != nil || row[0] != 1 {
		t.Errorf("PredictProbaRow = %v, %v", row, err)
	}

	if err := dt.FitWeighted(X, y, weights[:3], []int{0, 1}); err == nil {
		t.Error("expected error for weight length mismatch")
	}
	if err := dt.FitWeighted(X, y, nil, []int{0}); err == nil {
		t.Error("expected error for label missing from class set")
	}
}

// TestDecisionTreeClassifier_RandomStateDeterminism checks that feature sampling is seeded
func TestDecisionTreeClassifier_RandomStateDeterminism(t *testing.T) {
	X := mat.NewDense(12, 4, nil)
	y := mat.NewDense(12, 1, nil)
	for i := 0; i < 12; i++ {
		for f := 0; f < 4; f++ {
			X.Set(i, f, float64((i*(f+3))%7))
		}
		y.Set(i, 0, float64(i%3))
	}

	fit := func() []float64 {
		dt := NewDecisionTreeClassifier(WithMaxFeatures(2), WithRandomState(42))
		if err := dt.Fit(X, y); err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		return dt.GetFeatureImportances()
	}

	first, second := fit(), fit()
	for f := range first {
		if first[f] != second[f] {
			t.Fatalf("same seed produced different trees: %v vs %v", first, second)
		}
	}
}

// TestDecisionTreeClassifier_GetSetParams tests parameter management
func TestDecisionTreeClassifier_GetSetParams(t *testing.T) {
	dt := NewDecisionTreeClassifier()

	params := dt.GetParams()
	if params["criterion"].(string) != "gini" {
		t.Errorf("Default criterion should be 'gini', got %v", params["criterion"])
	}
	if params["min_samples_split"].(int) != 2 {
		t.Errorf("Default min_samples_split should be 2, got %v", params["min_samples_split"])
	}

	err := dt.SetParams(map[string]interface{}{
		"criterion":         "entropy",
		"max_depth":         5,
		"min_samples_split": 4,
		"min_samples_leaf":  2,
	})
	if err != nil {
		t.Fatalf("Failed to set params: %v", err)
	}
	if dt.criterion != "entropy" || dt.maxDepth != 5 || dt.minSamplesSplit != 4 || dt.minSamplesLeaf != 2 {
		t.Errorf("params not updated: %v", dt.GetParams())
	}

	var valErr *cserrors.ValidationError
	if err := dt.SetParams(map[string]interface{}{"criterion": "mse"}); !cserrors.As(err, &valErr) {
		t.Errorf("expected ValidationError for unknown criterion, got %v", err)
	}
	if err := dt.SetParams(map[string]interface{}{"splitter": "best"}); err == nil {
		t.Error("expected error for unknown parameter")
	}
}

// TestDecisionTreeClassifier_NotFitted tests error when predicting without fitting
func TestDecisionTreeClassifier_NotFitted(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	X := mat.NewDense(2, 2, []float64{
		1, 2,
		3, 4,
	})

	var notFitted *cserrors.NotFittedError
	if _, err := dt.Predict(X); !cserrors.As(err, &notFitted) {
		t.Errorf("Expected NotFittedError from Predict, got %v", err)
	}
	if _, err := dt.PredictProba(X); err == nil {
		t.Error("Expected error when predicting probabilities without fitting")
	}
}

// TestDecisionTreeClassifier_FeatureMismatch tests predicting with the wrong number of columns
func TestDecisionTreeClassifier_FeatureMismatch(t *testing.T) {
	X, y := separableData()
	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	var dimErr *cserrors.DimensionError
	if _, err := dt.Predict(mat.NewDense(1, 3, nil)); !cserrors.As(err, &dimErr) {
		t.Errorf("expected DimensionError, got %v", err)
	}
}
