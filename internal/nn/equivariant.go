package nn

import (
	"fmt"
	"math/rand"

	"cgae/internal/tensor"
)

// Decoder predicts per-bead, per-channel displacement vectors from a CG
// feature bank (beads, bankDim) and bead coordinates (batch, beads, 3). The
// result has shape (batch, beads, channels, 3).
type Decoder interface {
	Module
	Decode(bank, coords *tensor.Tensor) *tensor.Tensor
}

// FeatureBank builds the constant per-bead input of the equivariant decoder:
// a single all-ones channel when ones is set, the (beads, beads) identity
// otherwise.
func FeatureBank(beads int, ones bool) *tensor.Tensor {
	if ones {
		data := make([]float64, beads)
		for i := range data {
			data[i] = 1
		}
		return tensor.New([]int{beads, 1}, data)
	}
	data := make([]float64, beads*beads)
	for k := 0; k < beads; k++ {
		data[k*beads+k] = 1
	}
	return tensor.New([]int{beads, beads}, data)
}

// LinearEquivariantDecoder predicts, for bead k and channel f,
//
//	sum_c coef[k,f,c] * (x_c - x_k)
//
// with coef = bank @ Weight. Relative bead vectors make the prediction
// translation invariant and rotation equivariant. Coordinates are consumed
// detached, so only Weight receives gradients.
type LinearEquivariantDecoder struct {
	// Weight has shape (bankDim, channels*beads).
	Weight   *tensor.Tensor
	Beads    int
	Channels int
}

func NewLinearEquivariantDecoder(bankDim, beads, channels int, rng *rand.Rand) (*LinearEquivariantDecoder, error) {
	if bankDim <= 0 || beads <= 0 || channels <= 0 {
		return nil, fmt.Errorf("decoder dimensions must be > 0: bank=%d beads=%d channels=%d", bankDim, beads, channels)
	}
	return &LinearEquivariantDecoder{
		Weight:   uniformParam(rng, bankDim*beads, bankDim, channels*beads),
		Beads:    beads,
		Channels: channels,
	}, nil
}

func (d *LinearEquivariantDecoder) Decode(bank, coords *tensor.Tensor) *tensor.Tensor {
	if bank.Rank() != 2 || bank.Dim(0) != d.Beads || bank.Dim(1) != d.Weight.Dim(0) {
		panic(fmt.Sprintf("nn: feature bank shape %v for decoder weight %v", bank.Shape, d.Weight.Shape))
	}
	if coords.Rank() != 3 || coords.Dim(1) != d.Beads || coords.Dim(2) != 3 {
		panic(fmt.Sprintf("nn: decoder coordinates shape %v for %d beads", coords.Shape, d.Beads))
	}
	coef := tensor.MatMul(bank, d.Weight)
	return combineRelative(coef, coords.Detach(), d.Channels)
}

func (d *LinearEquivariantDecoder) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{d.Weight}
}

func (d *LinearEquivariantDecoder) State() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"weight": d.Weight}
}

// combineRelative applies coef (beads, channels*beads) to the relative bead
// vectors of constant coords (batch, beads, 3).
func combineRelative(coef, coords *tensor.Tensor, channels int) *tensor.Tensor {
	batch, beads := coords.Dim(0), coords.Dim(1)
	rel := func(z, c, k, i int) float64 {
		return coords.Data[(z*beads+c)*3+i] - coords.Data[(z*beads+k)*3+i]
	}
	coefAt := func(k, f, c int) int { return k*channels*beads + f*beads + c }

	data := make([]float64, batch*beads*channels*3)
	for z := 0; z < batch; z++ {
		for k := 0; k < beads; k++ {
			for f := 0; f < channels; f++ {
				dst := data[((z*beads+k)*channels+f)*3:]
				for c := 0; c < beads; c++ {
					w := coef.Data[coefAt(k, f, c)]
					for i := 0; i < 3; i++ {
						dst[i] += w * rel(z, c, k, i)
					}
				}
			}
		}
	}
	var out *tensor.Tensor
	out = tensor.Op([]int{batch, beads, channels, 3}, data, []*tensor.Tensor{coef}, func() {
		g := coef.GradBuffer()
		if g == nil {
			return
		}
		for z := 0; z < batch; z++ {
			for k := 0; k < beads; k++ {
				for f := 0; f < channels; f++ {
					gOut := out.Grad[((z*beads+k)*channels+f)*3:]
					for c := 0; c < beads; c++ {
						sum := 0.0
						for i := 0; i < 3; i++ {
							sum += gOut[i] * rel(z, c, k, i)
						}
						g[coefAt(k, f, c)] += sum
					}
				}
			}
		}
	})
	return out
}
