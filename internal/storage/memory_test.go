package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := testRun("run-1", time.Unix(10, 0))
	if err := store.SaveRun(ctx, input); err != nil {
		t.Fatalf("save run: %v", err)
	}
	input.Dynamics[0].Loss = 99

	output, ok, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted run")
	}
	if output.Dynamics[0].Loss != 1 {
		t.Fatalf("expected stored run to be isolated from caller, got loss=%v", output.Dynamics[0].Loss)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("unexpected missing run result: ok=%t err=%v", ok, err)
	}
}

func TestMemoryStoreListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for id, created := range map[string]int64{"old": 1, "new": 3, "mid": 2} {
		if err := store.SaveRun(ctx, testRun(id, time.Unix(created, 0))); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "new" || runs[1].ID != "mid" || runs[2].ID != "old" {
		t.Fatalf("unexpected run order: %+v", runs)
	}
}

func TestMemoryStoreEpochSummariesOrderedAndReplaced(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, epoch := range []int{2, 0, 1} {
		if err := store.SaveEpochSummary(ctx, "run-1", testSummary(epoch)); err != nil {
			t.Fatalf("save summary %d: %v", epoch, err)
		}
	}
	replacement := testSummary(1)
	replacement.Temperature = 0.5
	if err := store.SaveEpochSummary(ctx, "run-1", replacement); err != nil {
		t.Fatalf("replace summary: %v", err)
	}

	summaries, err := store.ListEpochSummaries(ctx, "run-1")
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("unexpected summary count: got=%d want=3", len(summaries))
	}
	for i, s := range summaries {
		if s.Epoch != i {
			t.Fatalf("unexpected epoch order: got=%d want=%d", s.Epoch, i)
		}
	}
	if summaries[1].Temperature != 0.5 {
		t.Fatalf("expected replaced summary, got temp=%v", summaries[1].Temperature)
	}
	other, err := store.ListEpochSummaries(ctx, "run-2")
	if err != nil || len(other) != 0 {
		t.Fatalf("unexpected summaries for unknown run: %v %v", other, err)
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveRun(context.Background(), testRun("run-1", time.Unix(0, 0))); err == nil {
		t.Fatal("expected error before init")
	}
}
