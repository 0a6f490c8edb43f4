// Package optim updates trainable tensors from their accumulated gradients.
package optim

import (
	"math"

	"cgae/internal/tensor"
)

const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// Adam keeps first and second moment estimates for a fixed parameter list.
// Every step updates all parameters jointly.
type Adam struct {
	LR        float64
	Beta1     float64
	Beta2     float64
	Epsilon   float64
	Precision tensor.Precision

	params []*tensor.Tensor
	m      [][]float64
	v      [][]float64
	t      int
}

func NewAdam(params []*tensor.Tensor, lr float64) *Adam {
	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		m[i] = make([]float64, len(p.Data))
		v[i] = make([]float64, len(p.Data))
	}
	return &Adam{
		LR:        lr,
		Beta1:     DefaultBeta1,
		Beta2:     DefaultBeta2,
		Epsilon:   DefaultEpsilon,
		Precision: tensor.Float64,
		params:    params,
		m:         m,
		v:         v,
	}
}

// ZeroGrad clears the gradients of every parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step applies one bias-corrected Adam update.
func (a *Adam) Step() {
	a.t++
	b1Corr := 1 - math.Pow(a.Beta1, float64(a.t))
	b2Corr := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, p := range a.params {
		if p.Grad == nil {
			continue
		}
		mi, vi := a.m[i], a.v[i]
		for j, g := range p.Grad {
			mi[j] = a.Beta1*mi[j] + (1-a.Beta1)*g
			vi[j] = a.Beta2*vi[j] + (1-a.Beta2)*g*g
			mhat := mi[j] / b1Corr
			vhat := vi[j] / b2Corr
			p.Data[j] -= a.LR * mhat / (math.Sqrt(vhat) + a.Epsilon)
		}
		a.Precision.RoundInPlace(p.Data)
	}
}

// Steps reports how many updates were applied.
func (a *Adam) Steps() int {
	return a.t
}
