package nn

import (
	"math"
	"math/rand"

	"cgae/internal/tensor"
)

// Module is anything holding trainable parameters.
type Module interface {
	Parameters() []*tensor.Tensor
	State() map[string]*tensor.Tensor
}

// uniformParam draws a trainable tensor from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func uniformParam(rng *rand.Rand, fanIn int, shape ...int) *tensor.Tensor {
	bound := 1 / math.Sqrt(float64(fanIn))
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
	return tensor.Param(shape, data)
}

// CollectParameters flattens the parameters of several modules in order.
func CollectParameters(modules ...Module) []*tensor.Tensor {
	var out []*tensor.Tensor
	for _, m := range modules {
		out = append(out, m.Parameters()...)
	}
	return out
}
