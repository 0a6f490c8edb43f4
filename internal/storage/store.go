package storage

import (
	"context"

	"cgae/internal/model"
)

// Store persists training runs and the epoch summaries written while they
// progress.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns run summaries, newest first.
	ListRuns(ctx context.Context) ([]model.RunSummary, error)
	// SaveEpochSummary inserts or replaces the summary of summary.Epoch.
	SaveEpochSummary(ctx context.Context, runID string, summary model.EpochSummary) error
	// ListEpochSummaries returns a run's summaries ordered by epoch.
	ListEpochSummaries(ctx context.Context, runID string) ([]model.EpochSummary, error)
}
