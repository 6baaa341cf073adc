package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// MemoryStore is a map-backed Repository. Suitable for development and
// tests; active runs are lost on process restart.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*models.TestRun
	logs map[string][]*models.ActionLog
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*models.TestRun),
		logs: make(map[string][]*models.ActionLog),
	}
}

// Create stores a new run.
func (s *MemoryStore) Create(_ context.Context, run *models.TestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.TestID] = run.Clone()
	return nil
}

// FindByID returns a copy of the run.
func (s *MemoryStore) FindByID(_ context.Context, testID string) (*models.TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[testID]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

// FindAll returns matching runs sorted by createdAt descending.
func (s *MemoryStore) FindAll(_ context.Context, filters models.TestFilters) ([]*models.TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.TestRun, 0, len(s.runs))
	for _, run := range s.runs {
		if filters.Status != "" && run.Status != filters.Status {
			continue
		}
		if filters.ScenarioType != "" && run.ScenarioType != filters.ScenarioType {
			continue
		}
		out = append(out, run.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update replaces the structural fields of a run, preserving the stored
// metrics record so concurrent counter increments are not overwritten by
// read-merge-write callers holding a stale snapshot.
func (s *MemoryStore) Update(_ context.Context, run *models.TestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.TestID]
	if !ok {
		return ErrNotFound
	}
	cp := run.Clone()
	cp.Metrics = existing.Metrics
	s.runs[run.TestID] = cp
	return nil
}

// Transition persists run only when the stored status still equals from.
// The check and the write share one critical section.
func (s *MemoryStore) Transition(_ context.Context, run *models.TestRun, from models.TestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.TestID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status != from {
		return ErrStaleStatus
	}
	cp := run.Clone()
	cp.Metrics = existing.Metrics
	s.runs[run.TestID] = cp
	return nil
}

// Delete removes a run and its logs.
func (s *MemoryStore) Delete(_ context.Context, testID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[testID]; !ok {
		return ErrNotFound
	}
	delete(s.runs, testID)
	delete(s.logs, testID)
	return nil
}

// CreateActionLog appends a log entry.
func (s *MemoryStore) CreateActionLog(_ context.Context, log *models.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *log
	s.logs[log.TestID] = append(s.logs[log.TestID], &cp)
	return nil
}

// FindActionLogs returns the newest entries first.
func (s *MemoryStore) FindActionLogs(_ context.Context, testID string, limit int) ([]*models.ActionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[testID]
	out := make([]*models.ActionLog, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		cp := *entries[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the total number of runs.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs), nil
}

// Exists reports whether a run is stored.
func (s *MemoryStore) Exists(_ context.Context, testID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.runs[testID]
	return ok, nil
}

// CountActive counts runs in active states.
func (s *MemoryStore) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, run := range s.runs {
		if run.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

// IncrementMetric performs the read-modify-write in a single critical
// section, so concurrent deltas never lose updates.
func (s *MemoryStore) IncrementMetric(_ context.Context, testID, field string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[testID]
	if !ok {
		return ErrNotFound
	}
	return applyCounter(&run.Metrics, field, delta)
}

// UpdateMetricTimestamp writes a timestamp metric field without touching
// the rest of the record.
func (s *MemoryStore) UpdateMetricTimestamp(_ context.Context, testID, field string, value time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[testID]
	if !ok {
		return ErrNotFound
	}
	if field != models.MetricLastLLMDecisionAt {
		return ErrUnknownMetric
	}
	t := value
	run.Metrics.LastLLMDecisionAt = &t
	return nil
}
