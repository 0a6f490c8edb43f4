// Package dataset holds aligned geometries, forces and per-atom features and
// partitions them into fixed-size batches.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"cgae/internal/tensor"
)

var ErrShapeMismatch = errors.New("dataset shape mismatch")

// Dataset stores samples row-major: Geometries and Forces are
// (samples, atoms, 3), Features is (samples, atoms, channels).
type Dataset struct {
	Samples  int
	Atoms    int
	Channels int

	Geometries []float64
	Forces     []float64
	Features   []float64

	// Species names the feature channels when they are a one-hot encoding.
	Species []string
}

func (d *Dataset) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: dataset is required", ErrShapeMismatch)
	}
	if d.Samples <= 0 || d.Atoms <= 0 || d.Channels <= 0 {
		return fmt.Errorf("%w: samples=%d atoms=%d channels=%d must be > 0", ErrShapeMismatch, d.Samples, d.Atoms, d.Channels)
	}
	if want := d.Samples * d.Atoms * 3; len(d.Geometries) != want {
		return fmt.Errorf("%w: geometries have %d values, want %d", ErrShapeMismatch, len(d.Geometries), want)
	}
	if want := d.Samples * d.Atoms * 3; len(d.Forces) != want {
		return fmt.Errorf("%w: forces have %d values, want %d", ErrShapeMismatch, len(d.Forces), want)
	}
	if want := d.Samples * d.Atoms * d.Channels; len(d.Features) != want {
		return fmt.Errorf("%w: features have %d values, want %d", ErrShapeMismatch, len(d.Features), want)
	}
	if len(d.Species) != 0 && len(d.Species) != d.Channels {
		return fmt.Errorf("%w: %d species names for %d channels", ErrShapeMismatch, len(d.Species), d.Channels)
	}
	return nil
}

// Round rounds every value to the given precision in place.
func (d *Dataset) Round(p tensor.Precision) {
	p.RoundInPlace(d.Geometries)
	p.RoundInPlace(d.Forces)
	p.RoundInPlace(d.Features)
}

// FeatureTensor returns all features as a constant (samples, atoms, channels)
// tensor.
func (d *Dataset) FeatureTensor() *tensor.Tensor {
	return tensor.New([]int{d.Samples, d.Atoms, d.Channels}, d.Features)
}

// Load reads a dataset file, choosing the format from the extension.
func Load(path string) (*Dataset, error) {
	var (
		ds  *Dataset
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		ds, err = LoadJSONFile(path)
	case ".csv":
		ds, err = LoadCSVFile(path)
	default:
		return nil, fmt.Errorf("unsupported dataset format: %s", path)
	}
	if err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return ds, nil
}

// Save writes a dataset in the format implied by the extension.
func Save(path string, ds *Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return SaveJSONFile(path, ds)
	case ".csv":
		return SaveCSVFile(path, ds)
	default:
		return fmt.Errorf("unsupported dataset format: %s", path)
	}
}
