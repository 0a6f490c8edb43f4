package optim

import (
	"math"
	"testing"

	"cgae/internal/tensor"
)

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	p := tensor.Param([]int{2}, []float64{1, -1})
	opt := NewAdam([]*tensor.Tensor{p}, 0.1)
	p.Grad[0], p.Grad[1] = 3, -0.5
	opt.Step()
	// The bias-corrected first step is lr * sign(g) up to epsilon.
	if math.Abs(p.Data[0]-0.9) > 1e-6 || math.Abs(p.Data[1]+0.9) > 1e-6 {
		t.Fatalf("unexpected params after step: %v", p.Data)
	}
	if opt.Steps() != 1 {
		t.Fatalf("unexpected step count: got=%d want=1", opt.Steps())
	}
}

func TestAdamZeroGradAndZeroLearningRate(t *testing.T) {
	p := tensor.Param([]int{1}, []float64{2})
	opt := NewAdam([]*tensor.Tensor{p}, 0)
	p.Grad[0] = 5
	opt.Step()
	if p.Data[0] != 2 {
		t.Fatalf("unexpected param with zero learning rate: got=%f want=2", p.Data[0])
	}
	opt.ZeroGrad()
	if p.Grad[0] != 0 {
		t.Fatalf("expected zeroed gradient, got %f", p.Grad[0])
	}
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	p := tensor.Param([]int{3}, []float64{4, -3, 1})
	opt := NewAdam([]*tensor.Tensor{p}, 0.05)
	for i := 0; i < 2000; i++ {
		opt.ZeroGrad()
		if err := tensor.Backward(tensor.Mean(tensor.Square(p))); err != nil {
			t.Fatalf("backward: %v", err)
		}
		opt.Step()
	}
	for i, v := range p.Data {
		if math.Abs(v) > 5e-2 {
			t.Fatalf("unexpected param %d after optimisation: %f", i, v)
		}
	}
}

func TestAdamRoundsToPrecision(t *testing.T) {
	p := tensor.Param([]int{1}, []float64{1})
	opt := NewAdam([]*tensor.Tensor{p}, 1e-3)
	opt.Precision = tensor.Float32
	p.Grad[0] = 1
	opt.Step()
	if p.Data[0] != float64(float32(p.Data[0])) {
		t.Fatalf("expected float32-representable value, got %v", p.Data[0])
	}
}
