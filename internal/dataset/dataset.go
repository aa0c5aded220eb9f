// Package dataset loads the crop recommendation CSV.
package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"github.com/YuminosukeSato/cropsense/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// FeatureColumns is the training and prediction column order.
var FeatureColumns = []string{"N", "P", "K", "temperature", "humidity", "ph", "rainfall"}

// LabelColumn is the header of the target column.
const LabelColumn = "label"

// Dataset is an immutable table of feature rows and their crop labels.
type Dataset struct {
	// X is n_samples x len(FeatureColumns), columns in FeatureColumns order.
	X *mat.Dense
	// Labels holds one crop name per row of X.
	Labels []string
	// Path is where the data was read from, empty for in-memory data.
	Path string
}

// Load reads the CSV at path. Columns are matched by header name, so their
// order in the file does not matter; extra columns are ignored.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cserrors.NewDatasetError(path, 0, "cannot open file", err)
	}
	defer f.Close()

	ds, err := Read(f, path)
	if err != nil {
		return nil, err
	}

	log.GetLoggerWithName("dataset").Info("Dataset loaded",
		log.OperationKey, log.OperationLoad,
		log.DataPathKey, path,
		log.SamplesKey, ds.Len(),
		log.FeaturesKey, len(FeatureColumns),
		log.ClassesKey, len(ds.LabelSet()),
	)
	return ds, nil
}

// Read parses CSV data from r. name is used in error messages only.
func Read(r io.Reader, name string) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, cserrors.NewDatasetError(name, 0, "file is empty", cserrors.ErrEmptyData)
	}
	if err != nil {
		return nil, cserrors.NewDatasetError(name, 1, "malformed header", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		col := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[col]; dup && isKnownColumn(col) {
			return nil, cserrors.NewDatasetError(name, 1, "duplicate column "+strconv.Quote(col), nil)
		}
		index[col] = i
	}
	cols := make([]int, len(FeatureColumns))
	for j, col := range FeatureColumns {
		i, ok := index[col]
		if !ok {
			return nil, cserrors.NewDatasetError(name, 1, "missing column "+strconv.Quote(col), nil)
		}
		cols[j] = i
	}
	labelCol, ok := index[LabelColumn]
	if !ok {
		return nil, cserrors.NewDatasetError(name, 1, "missing column "+strconv.Quote(LabelColumn), nil)
	}

	var (
		values []float64
		labels []string
	)
	row := make([]float64, len(FeatureColumns))
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, cserrors.NewDatasetError(name, line, "malformed row", err)
		}

		for j, c := range cols {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[c]), 64)
			if err != nil {
				return nil, cserrors.NewDatasetError(name, line, "column "+strconv.Quote(FeatureColumns[j])+" is not a number", err)
			}
			row[j] = v
		}
		if err := cserrors.CheckFinite(FeatureColumns, row); err != nil {
			return nil, cserrors.NewDatasetError(name, line, "non-finite feature value", err)
		}
		values = append(values, row...)
		label := strings.TrimSpace(record[labelCol])
		if label == "" {
			return nil, cserrors.NewDatasetError(name, line, "empty label", nil)
		}
		labels = append(labels, label)
	}

	if len(labels) == 0 {
		return nil, cserrors.NewDatasetError(name, 0, "no data rows", cserrors.ErrEmptyData)
	}

	return &Dataset{
		X:      mat.NewDense(len(labels), len(FeatureColumns), values),
		Labels: labels,
		Path:   name,
	}, nil
}

func isKnownColumn(col string) bool {
	if col == LabelColumn {
		return true
	}
	for _, c := range FeatureColumns {
		if c == col {
			return true
		}
	}
	return false
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// LabelSet returns the distinct labels in sorted order.
func (d *Dataset) LabelSet() []string {
	seen := make(map[string]struct{}, len(d.Labels))
	for _, l := range d.Labels {
		seen[l] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
