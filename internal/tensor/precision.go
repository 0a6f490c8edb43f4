package tensor

import (
	"fmt"
	"strings"
)

// Precision controls the numeric width values are rounded to. Arithmetic is
// always carried out in float64.
type Precision string

const (
	Float64 Precision = "float64"
	Float32 Precision = "float32"
)

func ParsePrecision(name string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "float64", "double", "f64":
		return Float64, nil
	case "float32", "float", "single", "f32":
		return Float32, nil
	default:
		return "", fmt.Errorf("unsupported precision: %s", name)
	}
}

func (p Precision) Round(v float64) float64 {
	if p == Float32 {
		return float64(float32(v))
	}
	return v
}

// RoundInPlace rounds every value of data.
func (p Precision) RoundInPlace(data []float64) {
	if p != Float32 {
		return
	}
	for i, v := range data {
		data[i] = float64(float32(v))
	}
}
