package projection

import (
	"math"
	"math/rand"
	"testing"

	"cgae/internal/tensor"
)

func TestRelativeDisplacements(t *testing.T) {
	geo := tensor.New([]int{1, 2, 3}, []float64{1, 2, 3, 4, 5, 6})
	cg := tensor.Param([]int{1, 1, 3}, []float64{1, 1, 1})
	rel := RelativeDisplacements(geo, cg)
	want := []float64{0, 1, 2, 3, 4, 5}
	for i := range want {
		if rel.Data[i] != want[i] {
			t.Fatalf("unexpected displacement at %d: got=%f want=%f", i, rel.Data[i], want[i])
		}
	}
	if rel.RequiresGrad() {
		t.Fatal("expected detached displacements")
	}
}

func TestProjectHandComputed(t *testing.T) {
	// Two atoms, two beads, two channels. Atom 0 is channel 0, atom 1 channel 1.
	geo := tensor.New([]int{1, 2, 3}, []float64{0, 0, 0, 2, 0, 0})
	cg := tensor.New([]int{1, 2, 3}, []float64{0, 1, 0, 1, 0, 0})
	feat := tensor.New([]int{1, 2, 2}, []float64{1, 0, 0, 1})
	assignment := tensor.New([]int{2, 2}, []float64{1, 0, 0.5, 0.5})

	got := Project(RelativeDisplacements(geo, cg), assignment, feat)
	if len(got.Shape) != 4 || got.Shape[1] != 2 || got.Shape[2] != 2 || got.Shape[3] != 3 {
		t.Fatalf("unexpected shape: %v", got.Shape)
	}
	want := []float64{
		0, -1, 0, // bead 0, channel 0: atom 0 minus bead 0
		0, 0, 0, // bead 0, channel 1: atom 1 not assigned
		-0.5, 0, 0, // bead 1, channel 0: 0.5 * (atom 0 - bead 1)
		0.5, 0, 0, // bead 1, channel 1: 0.5 * (atom 1 - bead 1)
	}
	for i := range want {
		if math.Abs(got.Data[i]-want[i]) > 1e-12 {
			t.Fatalf("unexpected projection at %d: got=%f want=%f", i, got.Data[i], want[i])
		}
	}
}

func TestProjectPerSampleAssignmentMatchesShared(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	batch, atoms, beads, channels := 3, 4, 2, 2
	geo := randomTensor(rng, batch, atoms, 3)
	cg := randomTensor(rng, batch, beads, 3)
	feat := randomTensor(rng, batch, atoms, channels)
	shared := randomTensor(rng, beads, atoms)
	perSample := make([]float64, 0, batch*beads*atoms)
	for z := 0; z < batch; z++ {
		perSample = append(perSample, shared.Data...)
	}

	rel := RelativeDisplacements(geo, cg)
	a := Project(rel, shared, feat)
	b := Project(rel, tensor.New([]int{batch, beads, atoms}, perSample), feat)
	for i := range a.Data {
		if math.Abs(a.Data[i]-b.Data[i]) > 1e-12 {
			t.Fatalf("unexpected mismatch at %d: got=%f want=%f", i, b.Data[i], a.Data[i])
		}
	}
}

func TestProjectGradientReachesAssignmentOnly(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	geo := randomTensor(rng, 2, 3, 3)
	cg := randomTensor(rng, 2, 2, 3)
	feat := randomTensor(rng, 2, 3, 2)
	assignment := tensor.Param([]int{2, 3}, randomTensor(rng, 2, 3).Data)
	rel := RelativeDisplacements(geo, cg)

	loss := func() *tensor.Tensor { return tensor.Mean(tensor.Square(Project(rel, assignment, feat))) }
	if err := tensor.Backward(loss()); err != nil {
		t.Fatalf("backward: %v", err)
	}
	const h = 1e-6
	for i := range assignment.Data {
		orig := assignment.Data[i]
		assignment.Data[i] = orig + h
		up := loss().Item()
		assignment.Data[i] = orig - h
		down := loss().Item()
		assignment.Data[i] = orig
		numeric := (up - down) / (2 * h)
		if math.Abs(numeric-assignment.Grad[i]) > 1e-5 {
			t.Fatalf("unexpected gradient at %d: got=%f want=%f", i, assignment.Grad[i], numeric)
		}
	}
}

func TestChannelCountsClampToOne(t *testing.T) {
	feat := tensor.New([]int{2, 3, 3}, []float64{
		1, 0, 0,
		1, 0, 0,
		0, 1, 0,
		// second sample is ignored
		0, 0, 1,
		0, 0, 1,
		0, 0, 1,
	})
	got := ChannelCounts(feat)
	want := []float64{2, 1, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected count for channel %d: got=%f want=%f", i, got[i], want[i])
		}
	}
}

func TestLossDividesByChannelCount(t *testing.T) {
	target := tensor.New([]int{1, 1, 2, 3}, []float64{2, 0, 0, 0, 2, 0})
	pred := tensor.Zeros(1, 1, 2, 3)
	got := Loss(target, pred, []float64{1, 4}).Item()
	// (4/1 + 4/4) / 2
	if math.Abs(got-2.5) > 1e-12 {
		t.Fatalf("unexpected loss: got=%f want=2.5", got)
	}
}

func randomTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	return tensor.New(shape, data)
}
