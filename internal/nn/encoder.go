package nn

import (
	"fmt"
	"math/rand"

	"cgae/internal/assign"
	"cgae/internal/tensor"
)

// Encoder learns one atom-to-bead affinity per (bead, atom) pair. Weight has
// shape (beads, atoms); its transpose is the logits matrix. Bead coordinates
// are the assignment-weighted centroids of the atoms.
type Encoder struct {
	Weight *tensor.Tensor
	// Hard makes Forward aggregate with the straight-through sample instead of
	// the soft one. Samplers called by the training loop are unaffected.
	Hard bool

	sampler *assign.Sampler
}

func NewEncoder(atoms, beads int, hard bool, rng *rand.Rand) (*Encoder, error) {
	if atoms <= 0 || beads <= 0 {
		return nil, fmt.Errorf("encoder dimensions must be > 0: atoms=%d beads=%d", atoms, beads)
	}
	return &Encoder{
		Weight:  uniformParam(rng, atoms, beads, atoms),
		Hard:    hard,
		sampler: assign.NewSampler(rng),
	}, nil
}

func (e *Encoder) Atoms() int { return e.Weight.Shape[1] }
func (e *Encoder) Beads() int { return e.Weight.Shape[0] }

// Logits returns the (atoms, beads) affinity matrix. It shares the tape with
// Weight, so samples drawn from it train the encoder.
func (e *Encoder) Logits() *tensor.Tensor {
	return tensor.Transpose(e.Weight)
}

// Forward maps a (batch, atoms, 3) geometry to (batch, beads, 3) bead
// coordinates at the given temperature. Each coordinate is a convex
// combination of the sample's atom positions.
func (e *Encoder) Forward(geo *tensor.Tensor, temperature float64) (*tensor.Tensor, error) {
	if geo.Rank() != 3 || geo.Dim(2) != 3 {
		return nil, fmt.Errorf("encoder input must be (batch, atoms, 3), got %v", geo.Shape)
	}
	if geo.Dim(1) != e.Atoms() {
		return nil, fmt.Errorf("encoder expects %d atoms, got %d", e.Atoms(), geo.Dim(1))
	}
	relaxed := e.sampler.Sample(e.Logits(), temperature)
	sample := relaxed.Soft
	if e.Hard {
		sample = relaxed.Hard
	}
	weights := tensor.NormalizeLast(tensor.Transpose(sample))
	return tensor.BatchMatMul(weights, geo), nil
}

func (e *Encoder) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{e.Weight}
}

func (e *Encoder) State() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"weight1": e.Weight}
}
