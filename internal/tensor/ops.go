package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Add returns a + b (same shape).
func Add(a, b *Tensor) *Tensor {
	mustSameShape("add", a, b)
	data := append([]float64(nil), a.Data...)
	floats.Add(data, b.Data)
	var out *Tensor
	out = Op(a.Shape, data, []*Tensor{a, b}, func() {
		if g := a.GradBuffer(); g != nil {
			floats.Add(g, out.Grad)
		}
		if g := b.GradBuffer(); g != nil {
			floats.Add(g, out.Grad)
		}
	})
	return out
}

// Sub returns a - b (same shape).
func Sub(a, b *Tensor) *Tensor {
	mustSameShape("sub", a, b)
	data := append([]float64(nil), a.Data...)
	floats.Sub(data, b.Data)
	var out *Tensor
	out = Op(a.Shape, data, []*Tensor{a, b}, func() {
		if g := a.GradBuffer(); g != nil {
			floats.Add(g, out.Grad)
		}
		if g := b.GradBuffer(); g != nil {
			floats.AddScaled(g, -1, out.Grad)
		}
	})
	return out
}

// Scale returns s * a.
func Scale(a *Tensor, s float64) *Tensor {
	data := append([]float64(nil), a.Data...)
	floats.Scale(s, data)
	var out *Tensor
	out = Op(a.Shape, data, []*Tensor{a}, func() {
		if g := a.GradBuffer(); g != nil {
			floats.AddScaled(g, s, out.Grad)
		}
	})
	return out
}

// Square returns a elementwise squared.
func Square(a *Tensor) *Tensor {
	data := make([]float64, len(a.Data))
	for i, v := range a.Data {
		data[i] = v * v
	}
	var out *Tensor
	out = Op(a.Shape, data, []*Tensor{a}, func() {
		g := a.GradBuffer()
		if g == nil {
			return
		}
		for i, v := range a.Data {
			g[i] += 2 * v * out.Grad[i]
		}
	})
	return out
}

// MulLast multiplies every vector along the last axis elementwise by w.
func MulLast(a *Tensor, w []float64) *Tensor {
	last := a.Dim(-1)
	if len(w) != last {
		panic(fmt.Sprintf("tensor: mul-last weight length %d for shape %v", len(w), a.Shape))
	}
	data := make([]float64, len(a.Data))
	for i, v := range a.Data {
		data[i] = v * w[i%last]
	}
	var out *Tensor
	out = Op(a.Shape, data, []*Tensor{a}, func() {
		g := a.GradBuffer()
		if g == nil {
			return
		}
		for i := range g {
			g[i] += w[i%last] * out.Grad[i]
		}
	})
	return out
}

// SumLast sums over the last axis, dropping it.
func SumLast(a *Tensor) *Tensor {
	last := a.Dim(-1)
	rows := len(a.Data) / last
	data := make([]float64, rows)
	for r := 0; r < rows; r++ {
		data[r] = floats.Sum(a.Data[r*last : (r+1)*last])
	}
	var out *Tensor
	out = Op(a.Shape[:len(a.Shape)-1], data, []*Tensor{a}, func() {
		g := a.GradBuffer()
		if g == nil {
			return
		}
		for r := 0; r < rows; r++ {
			for j := 0; j < last; j++ {
				g[r*last+j] += out.Grad[r]
			}
		}
	})
	return out
}

// Mean averages every element into a scalar.
func Mean(a *Tensor) *Tensor {
	n := float64(len(a.Data))
	var out *Tensor
	out = Op(nil, []float64{floats.Sum(a.Data) / n}, []*Tensor{a}, func() {
		g := a.GradBuffer()
		if g == nil {
			return
		}
		share := out.Grad[0] / n
		for i := range g {
			g[i] += share
		}
	})
	return out
}

// Transpose swaps the two axes of a matrix.
func Transpose(a *Tensor) *Tensor {
	if a.Rank() != 2 {
		panic(fmt.Sprintf("tensor: transpose of shape %v", a.Shape))
	}
	r, c := a.Shape[0], a.Shape[1]
	data := make([]float64, len(a.Data))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data[j*r+i] = a.Data[i*c+j]
		}
	}
	var out *Tensor
	out = Op([]int{c, r}, data, []*Tensor{a}, func() {
		g := a.GradBuffer()
		if g == nil {
			return
		}
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				g[i*c+j] += out.Grad[j*r+i]
			}
		}
	})
	return out
}

// SoftmaxLast applies a numerically stable softmax over the last axis.
func SoftmaxLast(a *Tensor) *Tensor {
	last := a.Dim(-1)
	rows := len(a.Data) / last
	data := make([]float64, len(a.Data))
	for r := 0; r < rows; r++ {
		row := a.Data[r*last : (r+1)*last]
		dst := data[r*last : (r+1)*last]
		max := floats.Max(row)
		sum := 0.0
		for j, v := range row {
			dst[j] = math.Exp(v - max)
			sum += dst[j]
		}
		floats.Scale(1/sum, dst)
	}
	var out *Tensor
	out = Op(a.Shape, data, []*Tensor{a}, func() {
		g := a.GradBuffer()
		if g == nil {
			return
		}
		for r := 0; r < rows; r++ {
			y := data[r*last : (r+1)*last]
			gy := out.Grad[r*last : (r+1)*last]
			dot := floats.Dot(y, gy)
			for j := range y {
				g[r*last+j] += y[j] * (gy[j] - dot)
			}
		}
	})
	return out
}

// NormalizeLast divides every vector along the last axis by its sum. Rows
// must have a non-zero sum; a zero row yields non-finite values.
func NormalizeLast(a *Tensor) *Tensor {
	last := a.Dim(-1)
	rows := len(a.Data) / last
	data := make([]float64, len(a.Data))
	sums := make([]float64, rows)
	for r := 0; r < rows; r++ {
		sums[r] = floats.Sum(a.Data[r*last : (r+1)*last])
		for j := 0; j < last; j++ {
			data[r*last+j] = a.Data[r*last+j] / sums[r]
		}
	}
	var out *Tensor
	out = Op(a.Shape, data, []*Tensor{a}, func() {
		g := a.GradBuffer()
		if g == nil {
			return
		}
		for r := 0; r < rows; r++ {
			y := data[r*last : (r+1)*last]
			gy := out.Grad[r*last : (r+1)*last]
			dot := floats.Dot(y, gy)
			for j := range y {
				g[r*last+j] += (gy[j] - dot) / sums[r]
			}
		}
	})
	return out
}

// MatMul multiplies two matrices.
func MatMul(a, b *Tensor) *Tensor {
	if a.Rank() != 2 || b.Rank() != 2 || a.Shape[1] != b.Shape[0] {
		panic(fmt.Sprintf("tensor: matmul shapes %v x %v", a.Shape, b.Shape))
	}
	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	data := make([]float64, m*n)
	mulInto(data, dense(m, k, a.Data), dense(k, n, b.Data), false)
	var out *Tensor
	out = Op([]int{m, n}, data, []*Tensor{a, b}, func() {
		gOut := dense(m, n, out.Grad)
		if g := a.GradBuffer(); g != nil {
			mulInto(g, gOut, dense(k, n, b.Data).T(), true)
		}
		if g := b.GradBuffer(); g != nil {
			mulInto(g, dense(m, k, a.Data).T(), gOut, true)
		}
	})
	return out
}

// BatchMatMul multiplies a (M,K) matrix shared by the batch, or a (B,M,K)
// batch of matrices, with a (B,K,N) batch, giving (B,M,N).
func BatchMatMul(a, b *Tensor) *Tensor {
	if b.Rank() != 3 {
		panic(fmt.Sprintf("tensor: batch matmul rhs shape %v", b.Shape))
	}
	batch, k, n := b.Shape[0], b.Shape[1], b.Shape[2]
	shared := a.Rank() == 2
	switch {
	case shared && a.Shape[1] == k:
	case a.Rank() == 3 && a.Shape[0] == batch && a.Shape[2] == k:
	default:
		panic(fmt.Sprintf("tensor: batch matmul shapes %v x %v", a.Shape, b.Shape))
	}
	m := a.Dim(-2)
	left := func(z int) []float64 {
		if shared {
			return a.Data
		}
		return a.Data[z*m*k : (z+1)*m*k]
	}
	data := make([]float64, batch*m*n)
	for z := 0; z < batch; z++ {
		mulInto(data[z*m*n:(z+1)*m*n], dense(m, k, left(z)), dense(k, n, b.Data[z*k*n:(z+1)*k*n]), false)
	}
	var out *Tensor
	out = Op([]int{batch, m, n}, data, []*Tensor{a, b}, func() {
		ga := a.GradBuffer()
		gb := b.GradBuffer()
		for z := 0; z < batch; z++ {
			gOut := dense(m, n, out.Grad[z*m*n:(z+1)*m*n])
			if ga != nil {
				dst := ga
				if !shared {
					dst = ga[z*m*k : (z+1)*m*k]
				}
				mulInto(dst, gOut, dense(k, n, b.Data[z*k*n:(z+1)*k*n]).T(), true)
			}
			if gb != nil {
				mulInto(gb[z*k*n:(z+1)*k*n], dense(m, k, left(z)).T(), gOut, true)
			}
		}
	})
	return out
}

// StraightThrough returns a tensor whose forward value is hard and whose
// gradient is passed unchanged to soft. hard must match the shape of soft.
func StraightThrough(hard []float64, soft *Tensor) *Tensor {
	if len(hard) != len(soft.Data) {
		panic(fmt.Sprintf("tensor: straight-through value length %d for shape %v", len(hard), soft.Shape))
	}
	var out *Tensor
	out = Op(soft.Shape, append([]float64(nil), hard...), []*Tensor{soft}, func() {
		if g := soft.GradBuffer(); g != nil {
			floats.Add(g, out.Grad)
		}
	})
	return out
}

func dense(r, c int, data []float64) *mat.Dense {
	return mat.NewDense(r, c, data)
}

func mulInto(dst []float64, a, b mat.Matrix, accumulate bool) {
	var c mat.Dense
	c.Mul(a, b)
	raw := c.RawMatrix().Data
	if accumulate {
		floats.Add(dst, raw)
		return
	}
	copy(dst, raw)
}
