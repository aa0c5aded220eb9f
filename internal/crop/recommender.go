// Package crop recommends a crop from soil nutrients and climate readings.
package crop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/YuminosukeSato/cropsense/internal/config"
	"github.com/YuminosukeSato/cropsense/internal/dataset"
	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"github.com/YuminosukeSato/cropsense/pkg/log"
	"github.com/YuminosukeSato/cropsense/preprocessing"
	"github.com/YuminosukeSato/cropsense/sklearn/ensemble"
	"gonum.org/v1/gonum/mat"
)

// Recommender owns a random forest trained once over a Dataset. It is
// read-only after New returns and safe for concurrent use.
type Recommender struct {
	forest  *ensemble.RandomForestClassifier
	encoder *preprocessing.LabelEncoder
	logger  log.Logger
}

// Recommendation is the answer to one Recommend call.
type Recommendation struct {
	Label      string  `json:"label"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"` // share of the averaged vote for Label
	Inputs     Sample  `json:"inputs"`
}

// FeatureImportance is the weight of one feature in the trained forest.
type FeatureImportance struct {
	Feature Feature
	Value   float64
}

// Option configures New.
type Option func(*options)

type options struct {
	forest []ensemble.Option
}

// WithForestOptions appends options for the random forest.
func WithForestOptions(opts ...ensemble.Option) Option {
	return func(o *options) { o.forest = append(o.forest, opts...) }
}

// WithModelConfig applies the model section of the configuration.
func WithModelConfig(m config.ModelConfig) Option {
	return WithForestOptions(
		ensemble.WithNEstimators(m.NEstimators),
		ensemble.WithRandomState(m.RandomState),
		ensemble.WithMaxFeatures(m.MaxFeatures),
		ensemble.WithCriterion(m.Criterion),
		ensemble.WithMaxDepth(m.MaxDepth),
		ensemble.WithMinSamplesSplit(m.MinSamplesSplit),
		ensemble.WithMinSamplesLeaf(m.MinSamplesLeaf),
		ensemble.WithBootstrap(m.Bootstrap),
		ensemble.WithNJobs(m.NJobs),
	)
}

// New trains a recommender on the whole dataset. Without options the forest
// has 150 trees, seed 42, sqrt features per split and bootstrap sampling.
func New(ds *dataset.Dataset, opts ...Option) (*Recommender, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, cserrors.NewModelError("crop.New", "empty dataset", cserrors.ErrEmptyData)
	}

	o := options{forest: []ensemble.Option{
		ensemble.WithNEstimators(150),
		ensemble.WithRandomState(42),
		ensemble.WithMaxFeatures("sqrt"),
		ensemble.WithBootstrap(true),
	}}
	for _, opt := range opts {
		opt(&o)
	}

	encoder := preprocessing.NewLabelEncoder()
	y, err := encoder.FitTransform(ds.Labels)
	if err != nil {
		return nil, cserrors.Wrap(err, "encode labels")
	}

	forest := ensemble.NewRandomForestClassifier(o.forest...)
	if err := forest.Fit(ds.X, y); err != nil {
		return nil, err
	}

	return &Recommender{
		forest:  forest,
		encoder: encoder,
		logger:  log.GetLoggerWithName("crop.recommender"),
	}, nil
}

// Load reads the configured dataset and trains a recommender on it.
func Load(ctx context.Context, cfg *config.Config) (*Recommender, error) {
	start := time.Now()
	logger := log.GetLoggerWithName("crop.recommender")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, err := dataset.Load(cfg.Data.Path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := New(ds, WithModelConfig(cfg.Model))
	if err != nil {
		return nil, err
	}

	logger.Info("Recommender ready",
		log.PhaseKey, log.PhaseStartup,
		log.DataPathKey, cfg.Data.Path,
		log.ClassesKey, len(rec.Labels()),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return rec, nil
}

func (r *Recommender) requireTrained(method string) error {
	if r == nil || r.forest == nil || !r.forest.IsFitted() {
		return cserrors.NewNotFittedError("Recommender", method)
	}
	return nil
}

// check rejects non-finite values and warns about values outside the
// nominal ranges, which are passed to the model unchanged.
func check(s Sample) ([]float64, error) {
	values := s.Values()
	if err := cserrors.CheckFinite(FeatureNames(), values); err != nil {
		return nil, err
	}
	for i, f := range Features {
		if !f.InRange(values[i]) {
			cserrors.Warn(cserrors.NewRangeWarning(f.Name, values[i], f.Min, f.Max))
		}
	}
	return values, nil
}

func (r *Recommender) proba(values []float64) ([]float64, error) {
	p, err := r.forest.PredictProba(mat.NewDense(1, len(values), values))
	if err != nil {
		return nil, err
	}
	return mat.Row(nil, 0, p), nil
}

// Recommend returns the most suitable crop for s. Ties between crops go to
// the one that sorts first.
func (r *Recommender) Recommend(s Sample) (Recommendation, error) {
	if err := r.requireTrained("Recommend"); err != nil {
		return Recommendation{}, err
	}
	values, err := check(s)
	if err != nil {
		return Recommendation{}, err
	}
	proba, err := r.proba(values)
	if err != nil {
		return Recommendation{}, err
	}

	best := 0
	for k := 1; k < len(proba); k++ {
		if proba[k] > proba[best] {
			best = k
		}
	}
	label, err := r.encoder.InverseTransform(best)
	if err != nil {
		return Recommendation{}, err
	}

	r.logger.Debug("Crop recommended",
		log.OperationKey, log.OperationRecommend,
		log.LabelKey, label,
		log.ConfidenceKey, proba[best],
	)
	return Recommendation{
		Label:      label,
		Summary:    Summary(s, label),
		Confidence: proba[best],
		Inputs:     s,
	}, nil
}

// Probabilities returns the averaged vote share of every crop for s.
func (r *Recommender) Probabilities(s Sample) (map[string]float64, error) {
	if err := r.requireTrained("Probabilities"); err != nil {
		return nil, err
	}
	values, err := check(s)
	if err != nil {
		return nil, err
	}
	proba, err := r.proba(values)
	if err != nil {
		return nil, err
	}

	labels := r.encoder.Classes()
	out := make(map[string]float64, len(labels))
	for k, l := range labels {
		out[l] = proba[k]
	}
	return out, nil
}

// Labels returns the crops the recommender can answer with, sorted.
func (r *Recommender) Labels() []string {
	if r == nil || r.encoder == nil {
		return nil
	}
	return r.encoder.Classes()
}

// FeatureImportances returns the forest's feature importances in model order.
func (r *Recommender) FeatureImportances() ([]FeatureImportance, error) {
	if err := r.requireTrained("FeatureImportances"); err != nil {
		return nil, err
	}
	imp := r.forest.GetFeatureImportances()
	out := make([]FeatureImportance, len(Features))
	for i, f := range Features {
		out[i] = FeatureImportance{Feature: f, Value: imp[i]}
	}
	return out, nil
}

// Summary is the human readable explanation shown with a recommendation.
func Summary(s Sample, label string) string {
	n, t, rain := Features[0], Features[3], Features[6]

	var b strings.Builder
	fmt.Fprintf(&b, "Based on the given soil nutrients and climate conditions, %s is the most suitable crop for optimal yield.\n", label)
	b.WriteString("\nInput Summary\n")
	fmt.Fprintf(&b, "- %s: %s %s\n", n.Label, n.Format(s.N), n.Unit)
	fmt.Fprintf(&b, "- %s: %s %s\n", t.Label, t.Format(s.Temperature), t.Unit)
	fmt.Fprintf(&b, "- %s: %s %s", rain.Label, rain.Format(s.Rainfall), rain.Unit)
	return b.String()
}
