package crop

import (
	"strconv"
	"strings"

	"github.com/YuminosukeSato/cropsense/internal/dataset"
	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
)

// Feature describes one input of the recommender and its form slider.
type Feature struct {
	Name    string // CSV column and form field
	Label   string
	Unit    string
	Min     float64
	Max     float64
	Default float64
	Step    float64
	Integer bool // whole numbers only on the form
}

// Features lists the inputs in model order.
var Features = []Feature{
	{Name: "N", Label: "Nitrogen", Unit: "kg/ha", Min: 0, Max: 140, Default: 60, Step: 1, Integer: true},
	{Name: "P", Label: "Phosphorus", Unit: "kg/ha", Min: 0, Max: 140, Default: 55, Step: 1, Integer: true},
	{Name: "K", Label: "Potassium", Unit: "kg/ha", Min: 0, Max: 140, Default: 60, Step: 1, Integer: true},
	{Name: "temperature", Label: "Temperature", Unit: "°C", Min: 0, Max: 50, Default: 25.0, Step: 0.1},
	{Name: "humidity", Label: "Humidity", Unit: "%", Min: 0, Max: 100, Default: 70.0, Step: 0.1},
	{Name: "ph", Label: "Soil pH", Min: 0, Max: 14, Default: 6.5, Step: 0.01},
	{Name: "rainfall", Label: "Rainfall", Unit: "mm", Min: 0, Max: 300, Default: 100.0, Step: 0.1},
}

func init() {
	if len(Features) != len(dataset.FeatureColumns) {
		panic("crop: feature catalogue does not match dataset columns")
	}
	for i, f := range Features {
		if f.Name != dataset.FeatureColumns[i] {
			panic("crop: feature " + f.Name + " out of dataset column order")
		}
	}
}

// FeatureNames returns the feature names in model order.
func FeatureNames() []string {
	names := make([]string, len(Features))
	for i, f := range Features {
		names[i] = f.Name
	}
	return names
}

// Format renders v the way the form shows it: integers for nutrient
// sliders, at least one decimal for the rest.
func (f Feature) Format(v float64) string {
	if f.Integer && v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// InRange reports whether v lies within the nominal slider range.
func (f Feature) InRange(v float64) bool {
	return v >= f.Min && v <= f.Max
}

// Sample is one row of soil and climate measurements.
type Sample struct {
	N           float64 `json:"N"`
	P           float64 `json:"P"`
	K           float64 `json:"K"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PH          float64 `json:"ph"`
	Rainfall    float64 `json:"rainfall"`
}

// DefaultSample returns the form defaults.
func DefaultSample() Sample {
	var values [7]float64
	for i, f := range Features {
		values[i] = f.Default
	}
	return SampleFromValues(values)
}

// Values returns the sample in model order.
func (s Sample) Values() []float64 {
	return []float64{s.N, s.P, s.K, s.Temperature, s.Humidity, s.PH, s.Rainfall}
}

// SampleFromValues builds a Sample from values in model order.
func SampleFromValues(v [7]float64) Sample {
	return Sample{N: v[0], P: v[1], K: v[2], Temperature: v[3], Humidity: v[4], PH: v[5], Rainfall: v[6]}
}

// ParseSample reads the named features from string input such as a form
// post or command line flags. Missing or blank keys take the default; text
// that is not a number is rejected with an InvalidInputError naming the
// feature. Range and finiteness are checked later by Recommend.
func ParseSample(values map[string]string) (Sample, error) {
	var out [7]float64
	for i, f := range Features {
		raw, ok := values[f.Name]
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			out[i] = f.Default
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Sample{}, cserrors.NewInvalidInputError(f.Name, raw, "not a number")
		}
		out[i] = v
	}
	return SampleFromValues(out), nil
}
