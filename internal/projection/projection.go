// Package projection builds the per-bead reconstruction target of the
// equivariant variant: every atom's feature-weighted displacement from a
// bead, aggregated over the atoms the assignment gives to that bead.
package projection

import (
	"fmt"

	"cgae/internal/tensor"
)

// RelativeDisplacements returns the constant (batch, atoms, beads, 3) tensor
// of atom positions minus bead positions. Both inputs are read detached.
func RelativeDisplacements(geo, cg *tensor.Tensor) *tensor.Tensor {
	if geo.Rank() != 3 || cg.Rank() != 3 || geo.Dim(0) != cg.Dim(0) || geo.Dim(2) != 3 || cg.Dim(2) != 3 {
		panic(fmt.Sprintf("projection: displacement shapes %v and %v", geo.Shape, cg.Shape))
	}
	batch, atoms, beads := geo.Dim(0), geo.Dim(1), cg.Dim(1)
	out := make([]float64, batch*atoms*beads*3)
	for z := 0; z < batch; z++ {
		for a := 0; a < atoms; a++ {
			x := geo.Data[(z*atoms+a)*3:]
			for k := 0; k < beads; k++ {
				c := cg.Data[(z*beads+k)*3:]
				dst := out[((z*atoms+a)*beads+k)*3:]
				for i := 0; i < 3; i++ {
					dst[i] = x[i] - c[i]
				}
			}
		}
	}
	return tensor.New([]int{batch, atoms, beads, 3}, out)
}

// Project computes target[z,k,f] = sum_a A[k,a] * feat[z,a,f] * rel[z,a,k]
// for rel (batch, atoms, beads, 3), an assignment A of shape (beads, atoms)
// shared by the batch or (batch, beads, atoms), and features
// (batch, atoms, channels). The result is (batch, beads, channels, 3).
// Gradients flow only into the assignment.
func Project(rel, assignment, feat *tensor.Tensor) *tensor.Tensor {
	if rel.Rank() != 4 || feat.Rank() != 3 || rel.Dim(0) != feat.Dim(0) || rel.Dim(1) != feat.Dim(1) {
		panic(fmt.Sprintf("projection: shapes rel=%v feat=%v", rel.Shape, feat.Shape))
	}
	batch, atoms, beads, channels := rel.Dim(0), rel.Dim(1), rel.Dim(2), feat.Dim(2)
	shared := assignment.Rank() == 2
	switch {
	case shared && assignment.Dim(0) == beads && assignment.Dim(1) == atoms:
	case assignment.Rank() == 3 && assignment.Dim(0) == batch && assignment.Dim(1) == beads && assignment.Dim(2) == atoms:
	default:
		panic(fmt.Sprintf("projection: assignment shape %v for %d beads and %d atoms", assignment.Shape, beads, atoms))
	}
	at := func(z, k, a int) int {
		if shared {
			return k*atoms + a
		}
		return (z*beads+k)*atoms + a
	}

	data := make([]float64, batch*beads*channels*3)
	for z := 0; z < batch; z++ {
		for k := 0; k < beads; k++ {
			for a := 0; a < atoms; a++ {
				w := assignment.Data[at(z, k, a)]
				if w == 0 {
					continue
				}
				r := rel.Data[((z*atoms+a)*beads+k)*3:]
				for f := 0; f < channels; f++ {
					s := w * feat.Data[(z*atoms+a)*channels+f]
					dst := data[((z*beads+k)*channels+f)*3:]
					for i := 0; i < 3; i++ {
						dst[i] += s * r[i]
					}
				}
			}
		}
	}
	var out *tensor.Tensor
	out = tensor.Op([]int{batch, beads, channels, 3}, data, []*tensor.Tensor{assignment}, func() {
		g := assignment.GradBuffer()
		if g == nil {
			return
		}
		for z := 0; z < batch; z++ {
			for k := 0; k < beads; k++ {
				for a := 0; a < atoms; a++ {
					r := rel.Data[((z*atoms+a)*beads+k)*3:]
					sum := 0.0
					for f := 0; f < channels; f++ {
						gOut := out.Grad[((z*beads+k)*channels+f)*3:]
						sum += feat.Data[(z*atoms+a)*channels+f] * (gOut[0]*r[0] + gOut[1]*r[1] + gOut[2]*r[2])
					}
					g[at(z, k, a)] += sum
				}
			}
		}
	})
	return out
}

// ChannelCounts counts the atoms of every feature channel in one molecule,
// clamped to at least one. feat is (samples, atoms, channels); the first
// sample defines the composition.
func ChannelCounts(feat *tensor.Tensor) []float64 {
	if feat.Rank() != 3 || feat.Dim(0) == 0 {
		panic(fmt.Sprintf("projection: feature shape %v", feat.Shape))
	}
	atoms, channels := feat.Dim(1), feat.Dim(2)
	counts := make([]float64, channels)
	for a := 0; a < atoms; a++ {
		for f := 0; f < channels; f++ {
			counts[f] += feat.Data[a*channels+f]
		}
	}
	for f := range counts {
		if counts[f] < 1 {
			counts[f] = 1
		}
	}
	return counts
}

// Loss is mean over (batch, beads, channels) of the squared displacement
// error summed over xyz and divided by the channel's atom count.
func Loss(target, pred *tensor.Tensor, counts []float64) *tensor.Tensor {
	inv := make([]float64, len(counts))
	for i, c := range counts {
		inv[i] = 1 / c
	}
	return tensor.Mean(tensor.MulLast(tensor.SumLast(tensor.Square(tensor.Sub(target, pred))), inv))
}
