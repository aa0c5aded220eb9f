// Package report renders charts about a trained recommender.
package report

import (
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/cropsense/internal/crop"
	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	chartWidth  = 8 * vg.Inch
	chartHeight = 5 * vg.Inch
)

var barColor = color.RGBA{R: 46, G: 139, B: 87, A: 255}

// ImportanceChart builds a bar chart with one bar per feature, labelled
// with its share in percent.
func ImportanceChart(importances []crop.FeatureImportance) (*plot.Plot, error) {
	if len(importances) == 0 {
		return nil, cserrors.NewValueError("report.ImportanceChart", "no importances to plot")
	}

	p := plot.New()
	p.Title.Text = "Feature importance"
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.Y.Label.Text = "Mean impurity decrease"

	values := make(plotter.Values, len(importances))
	names := make([]string, len(importances))
	maxValue := 0.0
	for i, fi := range importances {
		values[i] = fi.Value
		names[i] = fi.Feature.Label
		if fi.Value > maxValue {
			maxValue = fi.Value
		}
	}

	bars, err := plotter.NewBarChart(values, vg.Points(28))
	if err != nil {
		return nil, cserrors.Wrap(err, "build bar chart")
	}
	bars.Color = barColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars, plotter.NewGrid())
	p.NominalX(names...)

	p.Y.Min = 0
	p.Y.Max = maxValue * 1.15
	if p.Y.Max == 0 {
		p.Y.Max = 1
	}

	xys := make([]plotter.XY, len(values))
	texts := make([]string, len(values))
	for i, v := range values {
		xys[i] = plotter.XY{X: float64(i), Y: v + p.Y.Max*0.02}
		texts[i] = fmt.Sprintf("%.1f%%", v*100)
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return nil, cserrors.Wrap(err, "build bar labels")
	}
	p.Add(labels)

	return p, nil
}

// WriteImportanceChart renders the chart to w. format is an image
// extension understood by gonum/plot, such as "png" or "svg".
func WriteImportanceChart(w io.Writer, importances []crop.FeatureImportance, format string) error {
	p, err := ImportanceChart(importances)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(chartWidth, chartHeight, format)
	if err != nil {
		return cserrors.Wrapf(err, "unsupported chart format %q", format)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return cserrors.Wrap(err, "write chart")
	}
	return nil
}

// SaveImportanceChart writes the chart to path, choosing the format from
// the file extension.
func SaveImportanceChart(path string, importances []crop.FeatureImportance) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		return cserrors.NewValueError("report.SaveImportanceChart", "output path needs an extension such as .png")
	}
	p, err := ImportanceChart(importances)
	if err != nil {
		return err
	}
	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return cserrors.Wrapf(err, "save chart %s", path)
	}
	return nil
}
