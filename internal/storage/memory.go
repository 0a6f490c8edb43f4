package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"cgae/internal/model"
)

// MemoryStore keeps encoded payloads in maps so callers never share memory
// with stored records.
type MemoryStore struct {
	codec Codec

	mu          sync.RWMutex
	initialized bool
	runs        map[string][]byte
	summaries   map[string]map[int][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string][]byte)
	s.summaries = make(map[string]map[int][]byte)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	payload, err := s.codec.EncodeRun(run)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.runs[run.ID] = payload
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	payload, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return model.RunRecord{}, false, nil
	}
	run, err := s.codec.DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, err
	}
	return run, true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunSummary, 0, len(s.runs))
	for _, payload := range s.runs {
		run, err := s.codec.DecodeRun(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, run.Summary())
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) SaveEpochSummary(_ context.Context, runID string, summary model.EpochSummary) error {
	payload, err := s.codec.EncodeEpochSummary(summary)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errors.New("store is not initialized")
	}
	byEpoch, ok := s.summaries[runID]
	if !ok {
		byEpoch = make(map[int][]byte)
		s.summaries[runID] = byEpoch
	}
	byEpoch[summary.Epoch] = payload
	return nil
}

func (s *MemoryStore) ListEpochSummaries(_ context.Context, runID string) ([]model.EpochSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byEpoch := s.summaries[runID]
	epochs := make([]int, 0, len(byEpoch))
	for epoch := range byEpoch {
		epochs = append(epochs, epoch)
	}
	sort.Ints(epochs)
	out := make([]model.EpochSummary, 0, len(epochs))
	for _, epoch := range epochs {
		summary, err := s.codec.DecodeEpochSummary(byEpoch[epoch])
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func sortNewestFirst(runs []model.RunSummary) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
