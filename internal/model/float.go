package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// Float is a float64 whose JSON and CSV forms keep NaN and infinities, which
// a diverging run may produce. Non-finite values are written as the strings
// "NaN", "+Inf" and "-Inf".
type Float float64

func (f Float) String() string {
	return strconv.FormatFloat(float64(f), 'g', -1, 64)
}

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(f.String())
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func (f Float) MarshalCSV() (string, error) {
	return f.String(), nil
}

func (f *Float) UnmarshalCSV(text string) error {
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func floatsOf(data []float64) []Float {
	out := make([]Float, len(data))
	for i, v := range data {
		out[i] = Float(v)
	}
	return out
}
