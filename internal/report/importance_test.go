package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/YuminosukeSato/cropsense/internal/crop"
)

func sampleImportances() []crop.FeatureImportance {
	values := []float64{0.2, 0.15, 0.18, 0.07, 0.2, 0.05, 0.15}
	out := make([]crop.FeatureImportance, len(crop.Features))
	for i, f := range crop.Features {
		out[i] = crop.FeatureImportance{Feature: f, Value: values[i]}
	}
	return out
}

func TestImportanceChart(t *testing.T) {
	p, err := ImportanceChart(sampleImportances())
	if err != nil {
		t.Fatalf("ImportanceChart failed: %v", err)
	}
	if p.Title.Text != "Feature importance" {
		t.Errorf("Title = %q", p.Title.Text)
	}
	if p.Y.Max <= 0.2 {
		t.Errorf("Y.Max = %v should leave room above the tallest bar", p.Y.Max)
	}

	if _, err := ImportanceChart(nil); err == nil {
		t.Error("expected error for empty importances")
	}
}

func TestWriteImportanceChartPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteImportanceChart(&buf, sampleImportances(), "png"); err != nil {
		t.Fatalf("WriteImportanceChart failed: %v", err)
	}
	// PNG シグネチャ
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG\r\n\x1a\n")) {
		t.Error("output is not a PNG image")
	}

	if err := WriteImportanceChart(&buf, sampleImportances(), "bmp"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestSaveImportanceChart(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "importance.svg")
	if err := SaveImportanceChart(path, sampleImportances()); err != nil {
		t.Fatalf("SaveImportanceChart failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("chart not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("chart file is empty")
	}

	if err := SaveImportanceChart(filepath.Join(dir, "chart"), sampleImportances()); err == nil {
		t.Error("expected error for path without extension")
	}
}
