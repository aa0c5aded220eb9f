package errors

import (
	"math"
	"strconv"
)

// CheckFinite returns an InvalidInputError for the first value that is NaN or Inf.
// names[i] labels values[i] in the error; a missing name falls back to the index.
func CheckFinite(names []string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			name := strconv.Itoa(i)
			if i < len(names) {
				name = names[i]
			}
			return NewInvalidInputError(name, strconv.FormatFloat(v, 'g', -1, 64), "value must be a finite number")
		}
	}
	return nil
}

// CheckMatrix checks all values in a matrix and reports the first non-finite cell.
func CheckMatrix(operation string, matrix interface{ At(int, int) float64 }, rows, cols int) error {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := matrix.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return NewValueError(operation, "input contains NaN or Inf at row "+strconv.Itoa(i)+", column "+strconv.Itoa(j))
			}
		}
	}
	return nil
}

// SafeDivide performs division with protection against division by zero.
// Returns 0 if denominator is zero or close to zero.
func SafeDivide(numerator, denominator float64) float64 {
	if math.Abs(denominator) < 1e-10 {
		return 0
	}
	return numerator / denominator
}
