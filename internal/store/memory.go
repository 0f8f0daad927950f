package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryResultStore implements ResultStore for tests and for runs with
// persistence disabled.
type InMemoryResultStore struct {
	mu       sync.RWMutex
	runs     map[string]Run
	order    []string
	episodes map[string][]Episode
}

// NewInMemoryResultStore creates a new in-memory store.
func NewInMemoryResultStore() *InMemoryResultStore {
	return &InMemoryResultStore{
		runs:     make(map[string]Run),
		episodes: make(map[string][]Episode),
	}
}

// CreateRun stores a run.
func (s *InMemoryResultStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, exists := s.runs[run.ID]; exists {
		return Run{}, fmt.Errorf("run %s already exists", run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return run, nil
}

// AddEpisode stores an episode. The run must exist and the index be unused.
func (s *InMemoryResultStore) AddEpisode(ctx context.Context, ep Episode) (Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[ep.RunID]; !exists {
		return Episode{}, fmt.Errorf("run %s: %w", ep.RunID, ErrNotFound)
	}
	for _, other := range s.episodes[ep.RunID] {
		if other.Index == ep.Index {
			return Episode{}, fmt.Errorf("episode %d of run %s already exists", ep.Index, ep.RunID)
		}
	}
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	ep.InitialLeft = append([]int{}, ep.InitialLeft...)
	ep.InitialRight = append([]int{}, ep.InitialRight...)
	s.episodes[ep.RunID] = append(s.episodes[ep.RunID], ep)
	return ep, nil
}

// GetRun returns one run summary.
func (s *InMemoryResultStore) GetRun(ctx context.Context, id string) (RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return RunSummary{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return summarize(run, s.episodes[id]), nil
}

// ListRuns returns run summaries, newest first.
func (s *InMemoryResultStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunSummary, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		id := s.order[i]
		out = append(out, summarize(s.runs[id], s.episodes[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListEpisodes returns a run's episodes ordered by index.
func (s *InMemoryResultStore) ListEpisodes(ctx context.Context, runID string) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]Episode{}, s.episodes[runID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// DeleteRun removes a run and its episodes.
func (s *InMemoryResultStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	delete(s.runs, id)
	delete(s.episodes, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op.
func (s *InMemoryResultStore) Close() error { return nil }
