// Package model はモデル共通のインターフェースと学習状態の管理を提供する
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Classifier combines interfaces for classification models.
type Classifier interface {
	Fitter
	Predictor

	// PredictProba returns probability estimates for each class,
	// columns ordered as Classes().
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Score returns the mean accuracy on the given samples.
	Score(X, y mat.Matrix) float64

	// Classes returns the unique classes seen during fitting, sorted ascending.
	Classes() []int

	// IsFitted reports whether Fit has completed successfully.
	IsFitted() bool
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	// SetParams sets the model's hyperparameters.
	SetParams(params map[string]interface{}) error
}

// FeatureImportancer is implemented by models that rank their input features.
type FeatureImportancer interface {
	// GetFeatureImportances returns one non-negative weight per feature, summing to 1
	// when the model made at least one split.
	GetFeatureImportances() []float64
}
