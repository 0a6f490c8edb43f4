package dataset

import (
	"fmt"

	"cgae/internal/tensor"
)

// Batches holds the batch-reshaped tensors: entry i of each slice is batch i
// with shape (batchSize, atoms, 3) or (batchSize, atoms, channels).
type Batches struct {
	N          int
	Size       int
	Geometries []*tensor.Tensor
	Forces     []*tensor.Tensor
	Features   []*tensor.Tensor
}

// Batch partitions samples in order into samples/batchSize groups. Samples
// that do not fill a final batch are dropped.
func Batch(ds *Dataset, batchSize int) (*Batches, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	n := ds.Samples / batchSize
	if n == 0 {
		return nil, fmt.Errorf("%w: %d samples cannot fill a batch of %d", ErrShapeMismatch, ds.Samples, batchSize)
	}
	out := &Batches{N: n, Size: batchSize}
	for b := 0; b < n; b++ {
		out.Geometries = append(out.Geometries, slab(ds.Geometries, b, batchSize, ds.Atoms, 3))
		out.Forces = append(out.Forces, slab(ds.Forces, b, batchSize, ds.Atoms, 3))
		out.Features = append(out.Features, slab(ds.Features, b, batchSize, ds.Atoms, ds.Channels))
	}
	return out, nil
}

func slab(data []float64, b, size, atoms, cols int) *tensor.Tensor {
	width := size * atoms * cols
	return tensor.New([]int{size, atoms, cols}, append([]float64(nil), data[b*width:(b+1)*width]...))
}
