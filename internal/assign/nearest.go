package assign

import (
	"fmt"

	"cgae/internal/tensor"
)

// Nearest assigns every atom to the bead with the closest coordinate.
// cg is (batch, beads, 3) and geo is (batch, atoms, 3); the result is a
// constant one-hot (batch, beads, atoms) tensor. Ties go to the lowest bead
// index. No gradient flows through the result.
func Nearest(cg, geo *tensor.Tensor) *tensor.Tensor {
	if cg.Rank() != 3 || geo.Rank() != 3 || cg.Dim(0) != geo.Dim(0) || cg.Dim(2) != 3 || geo.Dim(2) != 3 {
		panic(fmt.Sprintf("assign: nearest shapes %v and %v", cg.Shape, geo.Shape))
	}
	batch, beads, atoms := cg.Dim(0), cg.Dim(1), geo.Dim(1)
	out := make([]float64, batch*beads*atoms)
	dist := make([]float64, beads)
	for z := 0; z < batch; z++ {
		for a := 0; a < atoms; a++ {
			atom := geo.Data[(z*atoms+a)*3 : (z*atoms+a)*3+3]
			for k := 0; k < beads; k++ {
				bead := cg.Data[(z*beads+k)*3 : (z*beads+k)*3+3]
				dist[k] = squaredDistance(atom, bead)
			}
			out[(z*beads+argmin(dist))*atoms+a] = 1
		}
	}
	return tensor.New([]int{batch, beads, atoms}, out)
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
