// Package preprocessing は学習前のデータ変換を提供する
package preprocessing

import (
	"fmt"
	"sort"

	"github.com/YuminosukeSato/cropsense/core/model"
	"github.com/YuminosukeSato/cropsense/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LabelEncoder はscikit-learn互換のラベルエンコーダー
// 文字列ラベルを辞書順に並べ、0からの連番コードに変換する
type LabelEncoder struct {
	state *model.StateManager

	// classes は辞書順に並んだラベル一覧（コード = インデックス）
	classes []string
	index   map[string]int
}

// NewLabelEncoder は新しいLabelEncoderを作成する
//
// 使用例:
//
//	enc := preprocessing.NewLabelEncoder()
//	err := enc.Fit([]string{"rice", "maize", "rice"})
//	y, err := enc.Transform(labels) // n×1 の列ベクトル
//	name, err := enc.InverseTransform(1)
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{state: model.NewStateManager()}
}

// Fit はラベルの集合を学習する
//
// パラメータ:
//   - labels: 学習するラベル（重複可）
//
// 戻り値:
//   - error: 空の入力の場合
func (e *LabelEncoder) Fit(labels []string) error {
	if len(labels) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for l := range seen {
		classes = append(classes, l)
	}
	sort.Strings(classes)

	e.classes = classes
	e.index = make(map[string]int, len(classes))
	for i, l := range classes {
		e.index[l] = i
	}
	e.state.SetFitted(1, len(labels))
	return nil
}

// Transform はラベルをコードの列ベクトル（n×1行列）に変換する
// 学習時に見ていないラベルはエラーになる
func (e *LabelEncoder) Transform(labels []string) (*mat.Dense, error) {
	if err := e.state.RequireFitted("LabelEncoder", "Transform"); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errors.NewValueError("LabelEncoder.Transform", "empty input")
	}

	y := mat.NewDense(len(labels), 1, nil)
	for i, l := range labels {
		code, ok := e.index[l]
		if !ok {
			return nil, errors.NewValueError("LabelEncoder.Transform", fmt.Sprintf("unseen label %q", l))
		}
		y.Set(i, 0, float64(code))
	}
	return y, nil
}

// FitTransform は学習と変換を一度に行う
func (e *LabelEncoder) FitTransform(labels []string) (*mat.Dense, error) {
	if err := e.Fit(labels); err != nil {
		return nil, err
	}
	return e.Transform(labels)
}

// InverseTransform はコードを元のラベルに戻す
func (e *LabelEncoder) InverseTransform(code int) (string, error) {
	if err := e.state.RequireFitted("LabelEncoder", "InverseTransform"); err != nil {
		return "", err
	}
	if code < 0 || code >= len(e.classes) {
		return "", errors.NewValueError("LabelEncoder.InverseTransform", fmt.Sprintf("code %d out of range [0, %d)", code, len(e.classes)))
	}
	return e.classes[code], nil
}

// Classes は辞書順のラベル一覧のコピーを返す
func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

// IsFitted は学習済みかどうかを返す
func (e *LabelEncoder) IsFitted() bool {
	return e.state.IsFitted()
}
