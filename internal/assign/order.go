package assign

import "golang.org/x/exp/constraints"

// argmax returns the index of the largest value, preferring the lowest index
// on ties.
func argmax[T constraints.Ordered](values []T) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// argmin returns the index of the smallest value, preferring the lowest index
// on ties.
func argmin[T constraints.Ordered](values []T) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] < values[best] {
			best = i
		}
	}
	return best
}
