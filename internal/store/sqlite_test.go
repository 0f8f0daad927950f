package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewSQLiteResultStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".mergeq")

	s, err := NewSQLiteResultStore(dir, "results.db")
	if err != nil {
		t.Fatalf("NewSQLiteResultStore() error = %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(s.Path()); os.IsNotExist(err) {
		t.Errorf("%s was not created", s.Path())
	}
	if s.Path() != filepath.Join(dir, "results.db") {
		t.Errorf("Path() = %q", s.Path())
	}
}

func TestSQLiteResultStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewSQLiteResultStore(dir, "results.db")
	if err != nil {
		t.Fatalf("NewSQLiteResultStore() error = %v", err)
	}
	run, err := s.CreateRun(ctx, sampleRun())
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := s.AddEpisode(ctx, Episode{RunID: run.ID, Steps: 5, EgoReturn: 2, Outcome: "credited_clearance"}); err != nil {
		t.Fatalf("AddEpisode() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteResultStore(dir, "results.db")
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	sum, err := reopened.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if sum.Episodes != 1 || sum.MeanEgoReturn != 2 {
		t.Errorf("summary after reopen = %+v", sum)
	}
	eps, err := reopened.ListEpisodes(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListEpisodes() error = %v", err)
	}
	if len(eps) != 1 || eps[0].InitialLeft == nil || len(eps[0].InitialLeft) != 0 {
		t.Errorf("expected one episode with empty initial lanes, got %+v", eps)
	}
}
