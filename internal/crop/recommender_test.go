package crop

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/YuminosukeSato/cropsense/internal/config"
	"github.com/YuminosukeSato/cropsense/internal/dataset"
	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
)

const snapshot = "testdata/crops.csv"

func loadSnapshot(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Load(snapshot)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return ds
}

func trained(t *testing.T) *Recommender {
	t.Helper()
	rec, err := New(loadSnapshot(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return rec
}

// captureWarnings はテスト中の警告を収集する
func captureWarnings(t *testing.T) *[]error {
	t.Helper()
	var got []error
	cserrors.SetZerologWarnFunc(nil)
	cserrors.SetWarningHandler(func(w error) { got = append(got, w) })
	t.Cleanup(func() { cserrors.SetWarningHandler(func(error) {}) })
	return &got
}

func TestRecommendGolden(t *testing.T) {
	rec := trained(t)

	tests := []struct {
		name   string
		sample Sample
		want   string
	}{
		{"form defaults", DefaultSample(), "maize"},
		{"cotton", Sample{N: 120, P: 40, K: 20, Temperature: 30, Humidity: 80, PH: 7.5, Rainfall: 60}, "cotton"},
		{"rice", Sample{N: 82, P: 27, K: 40, Temperature: 21, Humidity: 90, PH: 5.7, Rainfall: 205}, "rice"},
		{"chickpea", Sample{N: 40, P: 67, K: 80, Temperature: 18.5, Humidity: 16, PH: 7.1, Rainfall: 76}, "chickpea"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rec.Recommend(tt.sample)
			if err != nil {
				t.Fatalf("Recommend failed: %v", err)
			}
			if got.Label != tt.want {
				t.Errorf("Label = %q, want %q", got.Label, tt.want)
			}
			if got.Confidence <= 0.5 || got.Confidence > 1 {
				t.Errorf("Confidence = %v", got.Confidence)
			}
			if got.Inputs != tt.sample {
				t.Errorf("Inputs = %+v, want %+v", got.Inputs, tt.sample)
			}
		})
	}
}

// N と K を入れ替えると推薦結果が変わること（特徴量の順序が効いている）
func TestRecommendFeatureOrder(t *testing.T) {
	rec := trained(t)

	s := Sample{N: 120, P: 40, K: 20, Temperature: 30, Humidity: 80, PH: 7.5, Rainfall: 60}
	swapped := s
	swapped.N, swapped.K = s.K, s.N

	a, err := rec.Recommend(s)
	if err != nil {
		t.Fatal(err)
	}
	b, err := rec.Recommend(swapped)
	if err != nil {
		t.Fatal(err)
	}
	if a.Label != "cotton" || b.Label != "kidneybeans" {
		t.Errorf("got %q and %q, want cotton and kidneybeans", a.Label, b.Label)
	}
}

func TestRecommendClosure(t *testing.T) {
	rec := trained(t)
	captureWarnings(t)

	labels := map[string]bool{}
	for _, l := range loadSnapshot(t).LabelSet() {
		labels[l] = true
	}

	samples := []Sample{
		DefaultSample(),
		{},
		{N: 140, P: 140, K: 140, Temperature: 50, Humidity: 100, PH: 14, Rainfall: 300},
		{N: 33, P: 12, K: 99, Temperature: 41.5, Humidity: 3, PH: 2.2, Rainfall: 250},
		{N: -10, P: 500, K: 60, Temperature: -5, Humidity: 120, PH: 20, Rainfall: 1000},
	}
	for _, s := range samples {
		got, err := rec.Recommend(s)
		if err != nil {
			t.Fatalf("Recommend(%+v) failed: %v", s, err)
		}
		if !labels[got.Label] {
			t.Errorf("Recommend(%+v) = %q, not a dataset label", s, got.Label)
		}
	}
}

func TestRecommendDeterministic(t *testing.T) {
	a, b := trained(t), trained(t)

	s := Sample{N: 90, P: 30, K: 50, Temperature: 23, Humidity: 75, PH: 6.8, Rainfall: 150}
	pa, err := a.Probabilities(s)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := b.Probabilities(s)
	if err != nil {
		t.Fatal(err)
	}
	for label, v := range pa {
		if pb[label] != v {
			t.Errorf("%s: %v vs %v", label, v, pb[label])
		}
	}

	ra, err := a.Recommend(s)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := b.Recommend(s)
	if err != nil {
		t.Fatal(err)
	}
	if ra.Label != rb.Label {
		t.Errorf("labels differ: %q vs %q", ra.Label, rb.Label)
	}
}

var sharedSamples = []Sample{
	DefaultSample(),
	{N: 120, P: 40, K: 20, Temperature: 30, Humidity: 80, PH: 7.5, Rainfall: 60},
	{N: 20, P: 40, K: 120, Temperature: 30, Humidity: 80, PH: 7.5, Rainfall: 60},
	{N: 82, P: 27, K: 40, Temperature: 21, Humidity: 90, PH: 5.7, Rainfall: 205},
	{N: 40, P: 67, K: 80, Temperature: 18.5, Humidity: 16, PH: 7.1, Rainfall: 76},
	{N: 90, P: 30, K: 50, Temperature: 23, Humidity: 75, PH: 6.8, Rainfall: 150},
}

// 同じモデルへの繰り返し呼び出しは同じ結果を返すこと
func TestRecommendRepeatable(t *testing.T) {
	rec := trained(t)

	for _, s := range sharedSamples {
		first, err := rec.Recommend(s)
		if err != nil {
			t.Fatal(err)
		}
		firstProba, err := rec.Probabilities(s)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 5; i++ {
			got, err := rec.Recommend(s)
			if err != nil {
				t.Fatal(err)
			}
			if got.Label != first.Label || got.Confidence != first.Confidence {
				t.Errorf("call %d: %q (%v), first %q (%v)", i, got.Label, got.Confidence, first.Label, first.Confidence)
			}
			proba, err := rec.Probabilities(s)
			if err != nil {
				t.Fatal(err)
			}
			for label, v := range firstProba {
				if proba[label] != v {
					t.Errorf("call %d: %s = %v, first %v", i, label, proba[label], v)
				}
			}
		}
	}
}

// 学習済みモデルは複数の goroutine から共有できること
func TestRecommendConcurrent(t *testing.T) {
	rec := trained(t)

	want := make([]string, len(sharedSamples))
	for i, s := range sharedSamples {
		r, err := rec.Recommend(s)
		if err != nil {
			t.Fatal(err)
		}
		want[i] = r.Label
	}

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers*len(sharedSamples))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for k := range sharedSamples {
				i := (k + offset) % len(sharedSamples)
				r, err := rec.Recommend(sharedSamples[i])
				if err != nil {
					errs <- err
					continue
				}
				if r.Label != want[i] {
					errs <- fmt.Errorf("sample %d: got %q, want %q", i, r.Label, want[i])
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestRecommendAllMinimum(t *testing.T) {
	rec := trained(t)
	warnings := captureWarnings(t)

	var s Sample
	for i, f := range Features {
		if f.Min != 0 {
			t.Fatalf("feature %d minimum = %v", i, f.Min)
		}
	}
	got, err := rec.Recommend(s)
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if got.Label == "" {
		t.Error("empty label")
	}
	if len(*warnings) != 0 {
		t.Errorf("minimum bounds are in range, got warnings %v", *warnings)
	}
}

func TestRecommendOutOfRangeWarns(t *testing.T) {
	rec := trained(t)
	warnings := captureWarnings(t)

	s := DefaultSample()
	s.Rainfall = 450
	s.PH = -1
	if _, err := rec.Recommend(s); err != nil {
		t.Fatalf("out of range input must pass through, got %v", err)
	}

	if len(*warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", *warnings)
	}
	var rw *cserrors.RangeWarning
	if !cserrors.As((*warnings)[0], &rw) || rw.Feature != "ph" {
		t.Errorf("first warning = %v", (*warnings)[0])
	}
	if !cserrors.As((*warnings)[1], &rw) || rw.Feature != "rainfall" || rw.Value != 450 {
		t.Errorf("second warning = %v", (*warnings)[1])
	}
}

func TestRecommendNonFinite(t *testing.T) {
	rec := trained(t)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		s := DefaultSample()
		s.Humidity = v
		_, err := rec.Recommend(s)
		var inv *cserrors.InvalidInputError
		if !cserrors.As(err, &inv) {
			t.Fatalf("expected InvalidInputError for %v, got %v", v, err)
		}
		if inv.Feature != "humidity" {
			t.Errorf("Feature = %q, want humidity", inv.Feature)
		}
	}
}

func TestUntrainedRecommender(t *testing.T) {
	var rec Recommender
	var nf *cserrors.NotFittedError

	if _, err := rec.Recommend(DefaultSample()); !cserrors.As(err, &nf) {
		t.Errorf("Recommend: expected NotFittedError, got %v", err)
	}
	if _, err := rec.Probabilities(DefaultSample()); !cserrors.As(err, &nf) {
		t.Errorf("Probabilities: expected NotFittedError, got %v", err)
	}
	if _, err := rec.FeatureImportances(); !cserrors.As(err, &nf) {
		t.Errorf("FeatureImportances: expected NotFittedError, got %v", err)
	}
	if rec.Labels() != nil {
		t.Errorf("Labels() = %v", rec.Labels())
	}
}

func TestProbabilitiesAndImportances(t *testing.T) {
	rec := trained(t)

	labels := rec.Labels()
	want := []string{"chickpea", "cotton", "kidneybeans", "maize", "rice"}
	if strings.Join(labels, ",") != strings.Join(want, ",") {
		t.Errorf("Labels() = %v, want %v", labels, want)
	}

	proba, err := rec.Probabilities(DefaultSample())
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, v := range proba {
		sum += v
	}
	if len(proba) != len(want) || math.Abs(sum-1) > 1e-9 {
		t.Errorf("Probabilities() = %v", proba)
	}

	imp, err := rec.FeatureImportances()
	if err != nil {
		t.Fatal(err)
	}
	total := 0.0
	for i, fi := range imp {
		if fi.Feature.Name != Features[i].Name {
			t.Errorf("importance %d is for %s", i, fi.Feature.Name)
		}
		total += fi.Value
	}
	if math.Abs(total-1) > 1e-9 {
		t.Errorf("importances sum to %v", total)
	}
}

func TestSummary(t *testing.T) {
	got := Summary(DefaultSample(), "maize")
	want := "Based on the given soil nutrients and climate conditions, maize is the most suitable crop for optimal yield.\n" +
		"\nInput Summary\n" +
		"- Nitrogen: 60 kg/ha\n" +
		"- Temperature: 25.0 °C\n" +
		"- Rainfall: 100.0 mm"
	if got != want {
		t.Errorf("Summary() =\n%s\nwant\n%s", got, want)
	}
}

func TestLoad(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Data.Path = snapshot
	cfg.Model.NEstimators = 20

	rec, err := Load(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(rec.Labels()) != 5 {
		t.Errorf("Labels() = %v", rec.Labels())
	}
}

func TestLoadMissingDataset(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Data.Path = filepath.Join(t.TempDir(), "Crop_recommendation.csv")

	rec, err := Load(context.Background(), cfg)
	if rec != nil {
		t.Error("expected no recommender")
	}
	var dsErr *cserrors.DatasetError
	if !cserrors.As(err, &dsErr) {
		t.Fatalf("expected DatasetError, got %v", err)
	}
	if dsErr.Path != cfg.Data.Path {
		t.Errorf("Path = %q", dsErr.Path)
	}
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := config.DefaultConfig()
	cfg.Data.Path = snapshot
	if _, err := Load(ctx, cfg); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewEmptyDataset(t *testing.T) {
	if _, err := New(nil); !cserrors.Is(err, cserrors.ErrEmptyData) {
		t.Errorf("expected ErrEmptyData, got %v", err)
	}
}
