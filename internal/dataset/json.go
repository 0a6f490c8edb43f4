package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type jsonDataset struct {
	Geometries [][][]float64 `json:"geometries"`
	Forces     [][][]float64 `json:"forces"`
	Features   [][][]float64 `json:"features"`
	Species    []string      `json:"species,omitempty"`
}

func LoadJSONFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

// ReadJSON decodes {"geometries","forces","features"} nested arrays.
func ReadJSON(r io.Reader) (*Dataset, error) {
	var in jsonDataset
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	samples := len(in.Geometries)
	if samples == 0 {
		return nil, fmt.Errorf("%w: no geometries", ErrShapeMismatch)
	}
	if len(in.Forces) != samples || len(in.Features) != samples {
		return nil, fmt.Errorf("%w: %d geometries, %d forces, %d features", ErrShapeMismatch, samples, len(in.Forces), len(in.Features))
	}
	atoms := len(in.Geometries[0])
	if atoms == 0 || len(in.Features[0]) == 0 {
		return nil, fmt.Errorf("%w: empty first sample", ErrShapeMismatch)
	}
	channels := len(in.Features[0][0])

	ds := &Dataset{Samples: samples, Atoms: atoms, Channels: channels, Species: in.Species}
	var err error
	if ds.Geometries, err = flatten("geometries", in.Geometries, atoms, 3); err != nil {
		return nil, err
	}
	if ds.Forces, err = flatten("forces", in.Forces, atoms, 3); err != nil {
		return nil, err
	}
	if ds.Features, err = flatten("features", in.Features, atoms, channels); err != nil {
		return nil, err
	}
	return ds, nil
}

func flatten(name string, values [][][]float64, rows, cols int) ([]float64, error) {
	out := make([]float64, 0, len(values)*rows*cols)
	for s, sample := range values {
		if len(sample) != rows {
			return nil, fmt.Errorf("%w: %s sample %d has %d atoms, want %d", ErrShapeMismatch, name, s, len(sample), rows)
		}
		for a, row := range sample {
			if len(row) != cols {
				return nil, fmt.Errorf("%w: %s sample %d atom %d has %d values, want %d", ErrShapeMismatch, name, s, a, len(row), cols)
			}
			out = append(out, row...)
		}
	}
	return out, nil
}

func SaveJSONFile(path string, ds *Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteJSON(f, ds); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func WriteJSON(w io.Writer, ds *Dataset) error {
	out := jsonDataset{
		Geometries: nest(ds.Geometries, ds.Samples, ds.Atoms, 3),
		Forces:     nest(ds.Forces, ds.Samples, ds.Atoms, 3),
		Features:   nest(ds.Features, ds.Samples, ds.Atoms, ds.Channels),
		Species:    ds.Species,
	}
	return json.NewEncoder(w).Encode(out)
}

func nest(data []float64, samples, rows, cols int) [][][]float64 {
	out := make([][][]float64, samples)
	for s := range out {
		out[s] = make([][]float64, rows)
		for r := range out[s] {
			start := (s*rows + r) * cols
			out[s][r] = append([]float64(nil), data[start:start+cols]...)
		}
	}
	return out
}
