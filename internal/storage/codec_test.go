package storage

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cgae/internal/model"
)

func TestDecodeRunFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("minimal_run_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	run, err := Codec{}.DecodeRun(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "dense-minimal-1" || run.Variant != model.VariantDense {
		t.Fatalf("unexpected run: %+v", run.Summary())
	}
	if len(run.Dynamics) != 2 || !math.IsNaN(float64(run.Dynamics[1].Loss)) {
		t.Fatalf("unexpected dynamics: %+v", run.Dynamics)
	}
	if w := run.Encoder["weight1"]; w == nil || len(w.Data) != 2 || w.Data[1] != -0.5 {
		t.Fatalf("unexpected encoder state: %+v", run.Encoder)
	}
}

func TestDecodeEpochSummaryFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("minimal_epoch_summary_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	summary, err := Codec{}.DecodeEpochSummary(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if summary.Epoch != 3 || summary.Temperature != 1.5 || summary.Stats.Max != 0.35 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Nearest == nil || summary.Reconstructed != nil {
		t.Fatalf("unexpected variant arrays: nearest=%v reconstructed=%v", summary.Nearest, summary.Reconstructed)
	}
}

func TestCompressedRunCodecRoundTrip(t *testing.T) {
	input := testRun("run-1", time.Unix(100, 0))
	codec := Codec{Compress: true}
	data, err := codec.EncodeRun(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := (Codec{}).DecodeRun(data); err == nil {
		t.Fatal("expected plain decode of compressed payload to fail")
	}
	output, err := codec.DecodeRun(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.ID != input.ID || len(output.Dynamics) != len(input.Dynamics) || output.Dynamics[1].LossFM != input.Dynamics[1].LossFM {
		t.Fatalf("unexpected run: %+v", output)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	run := testRun("run-1", time.Unix(0, 0))
	run.CodecVersion = CurrentCodecVersion + 1
	data, err := Codec{}.EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := (Codec{}).DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	summary := model.EpochSummary{}
	data, err = Codec{}.EncodeEpochSummary(summary)
	if err != nil {
		t.Fatalf("encode summary: %v", err)
	}
	if _, err := (Codec{}).DecodeEpochSummary(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch for unstamped summary, got %v", err)
	}
}

func testRun(id string, created time.Time) model.RunRecord {
	run := model.RunRecord{
		ID:        id,
		Variant:   model.VariantDense,
		Status:    model.StatusCompleted,
		CreatedAt: created,
		Config:    []byte(`{"ncg":2}`),
		Dynamics: []model.StepRecord{
			{LossAE: 1, Loss: 1},
			{LossAE: 0.5, LossFM: 0.25, Loss: 0.75, Epoch: 1},
		},
		Epochs:    2,
		FinalLoss: 0.75,
	}
	Stamp(&run.VersionedRecord)
	return run
}

func testSummary(epoch int) model.EpochSummary {
	summary := model.EpochSummary{
		StepRecord:  model.StepRecord{Loss: model.Float(epoch), Epoch: epoch},
		Temperature: 2,
		CGXYZ:       &model.Array{Shape: []int{1, 1, 3}, Data: []float64{1, 2, 3}},
	}
	Stamp(&summary.VersionedRecord)
	return summary
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}
