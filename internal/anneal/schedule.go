// Package anneal produces the per-epoch temperature sequence used by the
// relaxed assignment samplers.
package anneal

import "math"

// Schedule holds one temperature per epoch. It is computed once before
// training and never modified.
type Schedule []float64

// Exponential returns max(floor, initial * decay^t) for t in [0, epochs).
// With decay in (0, 1] the sequence is non-increasing.
func Exponential(epochs int, decay, initial, floor float64) Schedule {
	if epochs <= 0 {
		return Schedule{}
	}
	out := make(Schedule, epochs)
	for t := range out {
		out[t] = math.Max(floor, initial*math.Pow(decay, float64(t)))
	}
	return out
}

// At returns the temperature of the given epoch, clamping past the end.
func (s Schedule) At(epoch int) float64 {
	if len(s) == 0 {
		return 0
	}
	if epoch < 0 {
		epoch = 0
	}
	if epoch >= len(s) {
		epoch = len(s) - 1
	}
	return s[epoch]
}
