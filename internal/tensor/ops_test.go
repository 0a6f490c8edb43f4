package tensor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomParam(rng *rand.Rand, shape ...int) *Tensor {
	data := make([]float64, numel(shape))
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return Param(shape, data)
}

// checkGradients compares autograd gradients of loss() with central finite
// differences for every value of every param.
func checkGradients(t *testing.T, params []*Tensor, loss func() *Tensor) {
	t.Helper()
	for _, p := range params {
		p.ZeroGrad()
	}
	root := loss()
	require.NoError(t, Backward(root))

	const h = 1e-6
	for pi, p := range params {
		for i := range p.Data {
			orig := p.Data[i]
			p.Data[i] = orig + h
			up := loss().Item()
			p.Data[i] = orig - h
			down := loss().Item()
			p.Data[i] = orig
			numeric := (up - down) / (2 * h)
			require.InDeltaf(t, numeric, p.Grad[i], 1e-5, "param %d index %d", pi, i)
		}
	}
}

func TestAddSubScaleSquareGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := randomParam(rng, 2, 3)
	b := randomParam(rng, 2, 3)
	checkGradients(t, []*Tensor{a, b}, func() *Tensor {
		return Mean(Square(Scale(Sub(Add(a, b), Square(b)), 0.7)))
	})
}

func TestSumLastMulLastGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a := randomParam(rng, 2, 2, 3)
	checkGradients(t, []*Tensor{a}, func() *Tensor {
		return Mean(Square(SumLast(MulLast(a, []float64{0.5, 2, -1}))))
	})
}

func TestTransposeAndMatMulGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randomParam(rng, 3, 2)
	b := randomParam(rng, 3, 4)
	checkGradients(t, []*Tensor{a, b}, func() *Tensor {
		return Mean(Square(MatMul(Transpose(a), b)))
	})
}

func TestBatchMatMulSharedGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	a := randomParam(rng, 2, 3)
	b := randomParam(rng, 4, 3, 3)
	checkGradients(t, []*Tensor{a, b}, func() *Tensor {
		return Mean(Square(BatchMatMul(a, b)))
	})
}

func TestBatchMatMulPerSampleGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := randomParam(rng, 2, 2, 3)
	b := randomParam(rng, 2, 3, 2)
	checkGradients(t, []*Tensor{a, b}, func() *Tensor {
		return Mean(Square(BatchMatMul(a, b)))
	})
}

func TestSoftmaxAndNormalizeGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	a := randomParam(rng, 3, 4)
	weights := New([]int{3, 4}, []float64{1, -2, 3, 0.5, 2, 1, -1, 0, 0.3, 0.2, 0.1, 4})
	checkGradients(t, []*Tensor{a}, func() *Tensor {
		s := SoftmaxLast(a)
		return Mean(Square(Sub(NormalizeLast(Add(s, Scale(s, 2))), weights)))
	})
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	a := New([]int{2, 3}, []float64{1000, 1001, 999, -5, 0, 5})
	s := SoftmaxLast(a)
	for r := 0; r < 2; r++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			v := s.Data[r*3+j]
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
			sum += v
		}
		require.InDelta(t, 1.0, sum, 1e-12)
	}
	require.True(t, s.IsFinite())
}

func TestStraightThroughRoutesGradientToSoft(t *testing.T) {
	soft := Param([]int{2}, []float64{0.3, 0.7})
	st := StraightThrough([]float64{0, 1}, soft)
	require.Equal(t, []float64{0, 1}, st.Data)

	loss := Mean(MulLast(st, []float64{3, 5}))
	require.NoError(t, Backward(loss))
	require.InDelta(t, 1.5, soft.Grad[0], 1e-12)
	require.InDelta(t, 2.5, soft.Grad[1], 1e-12)
}

func TestConstantsDoNotRecordTape(t *testing.T) {
	a := New([]int{2}, []float64{1, 2})
	out := Mean(Square(a))
	require.False(t, out.RequiresGrad())
	require.NoError(t, Backward(out))
	require.Nil(t, a.Grad)
}

func TestBackwardRejectsNonScalar(t *testing.T) {
	a := Param([]int{2}, []float64{1, 2})
	require.Error(t, Backward(Square(a)))
}

func TestDetachCutsGradient(t *testing.T) {
	a := Param([]int{2}, []float64{1, 2})
	d := Square(a).Detach()
	require.False(t, d.RequiresGrad())
	require.Equal(t, []float64{1, 4}, d.Data)
}

func TestPrecisionRounding(t *testing.T) {
	p, err := ParsePrecision("single")
	require.NoError(t, err)
	require.Equal(t, Float32, p)
	require.Equal(t, float64(float32(0.1)), p.Round(0.1))

	data := []float64{0.1, 0.2}
	Float64.RoundInPlace(data)
	require.Equal(t, []float64{0.1, 0.2}, data)

	_, err = ParsePrecision("float16")
	require.Error(t, err)
}
