package nn

import (
	"fmt"
	"math/rand"

	"cgae/internal/tensor"
)

// DenseDecoder reconstructs every atom as a learned linear combination of the
// bead coordinates. Weight has shape (atoms, beads).
type DenseDecoder struct {
	Weight *tensor.Tensor
}

func NewDenseDecoder(beads, atoms int, rng *rand.Rand) (*DenseDecoder, error) {
	if atoms <= 0 || beads <= 0 {
		return nil, fmt.Errorf("decoder dimensions must be > 0: beads=%d atoms=%d", beads, atoms)
	}
	return &DenseDecoder{Weight: uniformParam(rng, beads, atoms, beads)}, nil
}

// Forward maps (batch, beads, 3) to (batch, atoms, 3).
func (d *DenseDecoder) Forward(cg *tensor.Tensor) *tensor.Tensor {
	return tensor.BatchMatMul(d.Weight, cg)
}

func (d *DenseDecoder) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{d.Weight}
}

func (d *DenseDecoder) State() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"weight": d.Weight}
}

// ReconstructionLoss is the squared error summed over xyz and averaged over
// batch and atoms.
func ReconstructionLoss(decoded, geo *tensor.Tensor) *tensor.Tensor {
	return tensor.Mean(tensor.SumLast(tensor.Square(tensor.Sub(decoded, geo))))
}
