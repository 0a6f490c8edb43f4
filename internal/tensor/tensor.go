// Package tensor implements dense float64 tensors with a reverse-mode
// autograd tape. Every op returns a new tensor whose backward closure
// accumulates into the gradients of its parents; Backward walks the tape in
// reverse topological order from a scalar root.
//
// Ops panic on shape mismatches. Callers validate shapes before building a
// graph.
package tensor

import (
	"fmt"
	"math"
)

type Tensor struct {
	Shape []int
	Data  []float64
	Grad  []float64

	requiresGrad bool
	parents      []*Tensor
	backward     func()
}

// New wraps data as a constant (no gradient) tensor.
func New(shape []int, data []float64) *Tensor {
	if n := numel(shape); n != len(data) {
		panic(fmt.Sprintf("tensor: shape %v needs %d values, got %d", shape, n, len(data)))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// Zeros returns a constant tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	return New(shape, make([]float64, numel(shape)))
}

// Scalar returns a constant rank-0 tensor.
func Scalar(v float64) *Tensor {
	return New(nil, []float64{v})
}

// Param wraps data as a trainable leaf.
func Param(shape []int, data []float64) *Tensor {
	t := New(shape, data)
	t.requiresGrad = true
	t.Grad = make([]float64, len(data))
	return t
}

// Op records the result of an operation on the tape. backward is only kept
// when at least one parent requires a gradient.
func Op(shape []int, data []float64, parents []*Tensor, backward func()) *Tensor {
	out := New(shape, data)
	for _, p := range parents {
		if p.requiresGrad {
			out.requiresGrad = true
			break
		}
	}
	if out.requiresGrad {
		out.parents = parents
		out.backward = backward
	}
	return out
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) Size() int {
	return len(t.Data)
}

func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Dim returns the size of axis i; negative axes count from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Item returns the single value of a one-element tensor.
func (t *Tensor) Item() float64 {
	if len(t.Data) != 1 {
		panic(fmt.Sprintf("tensor: Item on shape %v", t.Shape))
	}
	return t.Data[0]
}

// Detach copies the values into a new constant tensor.
func (t *Tensor) Detach() *Tensor {
	return New(t.Shape, append([]float64(nil), t.Data...))
}

// GradBuffer returns the gradient slice, allocating it on first use. It is
// nil for tensors that do not require a gradient.
func (t *Tensor) GradBuffer() []float64 {
	if !t.requiresGrad {
		return nil
	}
	if t.Grad == nil {
		t.Grad = make([]float64, len(t.Data))
	}
	return t.Grad
}

func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// IsFinite reports whether every value is finite.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Backward seeds the scalar root with gradient 1 and propagates.
func Backward(root *Tensor) error {
	if len(root.Data) != 1 {
		return fmt.Errorf("backward requires a scalar root, got shape %v", root.Shape)
	}
	if !root.requiresGrad {
		return nil
	}

	topo := make([]*Tensor, 0, 64)
	visited := make(map[*Tensor]bool)
	var build func(t *Tensor)
	build = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		for _, p := range t.parents {
			build(p)
		}
		topo = append(topo, t)
	}
	build(root)

	for _, t := range topo {
		if t.backward != nil {
			t.Grad = make([]float64, len(t.Data))
		}
	}
	root.GradBuffer()[0] = 1
	for i := len(topo) - 1; i >= 0; i-- {
		if topo[i].backward != nil {
			topo[i].backward()
		}
	}
	return nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mustSameShape(op string, a, b *Tensor) {
	if !sameShape(a.Shape, b.Shape) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %v vs %v", op, a.Shape, b.Shape))
	}
}
