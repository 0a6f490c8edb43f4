// Package assign turns per-atom bead logits into atom-to-bead assignments.
//
// Logits have shape (atoms, beads). A relaxed sample normalizes each row
// over beads; transposing it gives the (beads, atoms) assignment matrix that
// aggregates atoms per bead.
package assign

import (
	"fmt"
	"math"
	"math/rand"

	"cgae/internal/tensor"
)

const gumbelEps = 1e-20

// Relaxed is one Gumbel-Softmax draw. Soft is the differentiable sample.
// Hard holds the one-hot argmax of Soft per row as its value and passes its
// gradient to Soft unchanged; gradients never reach the logits through any
// other path.
type Relaxed struct {
	Soft *tensor.Tensor
	Hard *tensor.Tensor
}

// Sampler draws Gumbel noise from its own random source.
type Sampler struct {
	Rand *rand.Rand
}

func NewSampler(rng *rand.Rand) *Sampler {
	return &Sampler{Rand: rng}
}

// Sample draws i.i.d. Gumbel noise for every logit and relaxes at the given
// temperature.
func (s *Sampler) Sample(logits *tensor.Tensor, temperature float64) Relaxed {
	noise := make([]float64, logits.Size())
	for i := range noise {
		noise[i] = gumbel(s.Rand.Float64())
	}
	return Relax(logits, noise, temperature)
}

// Relax computes softmax((logits + noise) / temperature) over the last axis
// and its straight-through hard counterpart.
func Relax(logits *tensor.Tensor, noise []float64, temperature float64) Relaxed {
	if temperature <= 0 {
		panic(fmt.Sprintf("assign: temperature must be > 0, got %f", temperature))
	}
	perturbed := tensor.Add(logits, tensor.New(logits.Shape, noise))
	soft := tensor.SoftmaxLast(tensor.Scale(perturbed, 1/temperature))
	return Relaxed{Soft: soft, Hard: tensor.StraightThrough(OneHotArgmax(soft), soft)}
}

// OneHotArgmax returns the one-hot encoding of each row's argmax over the
// last axis; ties go to the lowest index.
func OneHotArgmax(t *tensor.Tensor) []float64 {
	last := t.Dim(-1)
	out := make([]float64, t.Size())
	for r := 0; r < t.Size()/last; r++ {
		out[r*last+argmax(t.Data[r*last:(r+1)*last])] = 1
	}
	return out
}

func gumbel(u float64) float64 {
	return -math.Log(-math.Log(u+gumbelEps) + gumbelEps)
}
