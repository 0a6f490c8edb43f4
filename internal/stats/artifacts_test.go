package stats

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"cgae/internal/model"
)

type testResults struct {
	Status   string             `json:"status"`
	Dynamics []model.StepRecord `json:"dynamics"`
}

func testArtifacts(runID string, compress bool) RunArtifacts {
	dynamics := []model.StepRecord{
		{LossAE: 2, LossFM: 0, Loss: 2, Epoch: 0, Step: 0, Batch: 1},
		{LossAE: 1.5, LossFM: 0.25, Loss: 1.75, Epoch: 0, Step: 1, Batch: 0},
		{LossAE: model.Float(math.NaN()), LossFM: 0, Loss: model.Float(math.Inf(1)), Epoch: 1, Step: 0, Batch: 0},
	}
	return RunArtifacts{
		RunID:    runID,
		Config:   json.RawMessage(`{"ncg":3,"bs":2}`),
		Dynamics: dynamics,
		Summaries: []model.EpochSummary{{
			StepRecord:  dynamics[1],
			Temperature: 4,
			CGXYZ:       &model.Array{Shape: []int{1, 1, 3}, Data: []float64{1, 2, 3}},
		}},
		Results:  testResults{Status: model.StatusCompleted, Dynamics: dynamics},
		Compress: compress,
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "dense-123"
	artifacts := testArtifacts(runID, false)
	artifacts.State = &RunState{
		Encoder: map[string]*model.Array{"weight1": {Shape: []int{1, 2}, Data: []float64{0.5, -0.5}}},
		Decoder: map[string]*model.Array{"weight": {Shape: []int{2, 1}, Data: []float64{1, 1}}},
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	files := []string{configFile, dynamicsFile, summariesFile, stateFile, resultsFile}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(runDir, compressedResultsFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no compressed results, got err=%v", err)
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
}

func TestWriteRunArtifactsWithoutStateSkipsStateFile(t *testing.T) {
	baseDir := t.TempDir()
	runDir, err := WriteRunArtifacts(baseDir, testArtifacts("dense-1", false))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, stateFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no state file, got err=%v", err)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestDynamicsRoundTripKeepsNonFiniteLosses(t *testing.T) {
	baseDir := t.TempDir()
	artifacts := testArtifacts("dense-2", false)
	if _, err := WriteRunArtifacts(baseDir, artifacts); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	records, ok, err := ReadDynamics(baseDir, "dense-2")
	if err != nil || !ok {
		t.Fatalf("read dynamics: ok=%t err=%v", ok, err)
	}
	if len(records) != len(artifacts.Dynamics) {
		t.Fatalf("expected %d records, got %d", len(artifacts.Dynamics), len(records))
	}
	if records[1] != artifacts.Dynamics[1] {
		t.Fatalf("unexpected record: %+v", records[1])
	}
	if !math.IsNaN(float64(records[2].LossAE)) || !math.IsInf(float64(records[2].Loss), 1) {
		t.Fatalf("expected non-finite losses to survive, got %+v", records[2])
	}

	if _, ok, err := ReadDynamics(baseDir, "missing"); ok || err != nil {
		t.Fatalf("expected missing run to report ok=false, got ok=%t err=%v", ok, err)
	}
}

func TestReadRunConfigAndSummaries(t *testing.T) {
	baseDir := t.TempDir()
	if _, err := WriteRunArtifacts(baseDir, testArtifacts("dense-3", false)); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	raw, ok, err := ReadRunConfig(baseDir, "dense-3")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	var cfg map[string]int
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg["ncg"] != 3 || cfg["bs"] != 2 {
		t.Fatalf("unexpected config: %v", cfg)
	}

	summaries, ok, err := ReadSummaries(baseDir, "dense-3")
	if err != nil || !ok {
		t.Fatalf("read summaries: ok=%t err=%v", ok, err)
	}
	if len(summaries) != 1 || summaries[0].Temperature != 4 || summaries[0].CGXYZ.Data[2] != 3 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestCompressedResultsRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		baseDir := t.TempDir()
		artifacts := testArtifacts("equivariant-1", compress)
		runDir, err := WriteRunArtifacts(baseDir, artifacts)
		if err != nil {
			t.Fatalf("write artifacts compress=%t: %v", compress, err)
		}
		name := resultsFile
		if compress {
			name = compressedResultsFile
		}
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}

		var got testResults
		ok, err := ReadRunResults(baseDir, "equivariant-1", &got)
		if err != nil || !ok {
			t.Fatalf("read results compress=%t: ok=%t err=%v", compress, ok, err)
		}
		if got.Status != model.StatusCompleted || len(got.Dynamics) != 3 {
			t.Fatalf("unexpected results compress=%t: %+v", compress, got)
		}
		if !math.IsNaN(float64(got.Dynamics[2].LossAE)) {
			t.Fatalf("expected NaN loss to survive compress=%t", compress)
		}
	}
}

func TestRunIndexNewestFirstAndReplace(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", Variant: model.VariantDense, CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{RunID: "b", Variant: model.VariantDense, CreatedAtUTC: "2026-01-03T00:00:00Z"},
		{RunID: "c", Variant: model.VariantEquivariant, CreatedAtUTC: "2026-01-02T00:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}

	replaced := entries[0]
	replaced.Status = model.StatusCompleted
	replaced.FinalLoss = 0.5
	if err := AppendRunIndex(baseDir, replaced); err != nil {
		t.Fatalf("replace: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(index))
	}
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if index[i].RunID != id {
			t.Fatalf("entry %d: want %s, got %s", i, id, index[i].RunID)
		}
	}
	if index[2].Status != model.StatusCompleted || index[2].FinalLoss != 0.5 {
		t.Fatalf("expected replaced entry, got %+v", index[2])
	}

	if err := AppendRunIndex(baseDir, RunIndexEntry{}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestListRunIndexMissingIsEmpty(t *testing.T) {
	index, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("expected empty index, got %d", len(index))
	}
}

func TestExportRunArtifactsMissingRun(t *testing.T) {
	if _, err := ExportRunArtifacts(t.TempDir(), "nope", t.TempDir()); err == nil {
		t.Fatal("expected error for missing run")
	}
}
