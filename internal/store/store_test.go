package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// storeFactories lets every contract test run against both implementations.
func storeFactories(t *testing.T) map[string]func() ResultStore {
	t.Helper()
	return map[string]func() ResultStore{
		"memory": func() ResultStore { return NewInMemoryResultStore() },
		"sqlite": func() ResultStore {
			s, err := NewSQLiteResultStore(t.TempDir(), "results.db")
			if err != nil {
				t.Fatalf("NewSQLiteResultStore() error = %v", err)
			}
			return s
		},
	}
}

func sampleRun() Run {
	return Run{
		EgoVehicles:      3,
		OpponentVehicles: 2,
		Fairness:         true,
		Seed:             1<<63 + 5,
		EgoPolicy:        "greedy",
		OpponentPolicy:   "random",
		Until:            "terminal",
	}
}

func TestResultStore_CreateAndGetRun(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			run, err := s.CreateRun(ctx, sampleRun())
			if err != nil {
				t.Fatalf("CreateRun() error = %v", err)
			}
			if run.ID == "" {
				t.Fatal("CreateRun() did not assign an ID")
			}
			if run.CreatedAt.IsZero() {
				t.Fatal("CreateRun() did not assign CreatedAt")
			}

			got, err := s.GetRun(ctx, run.ID)
			if err != nil {
				t.Fatalf("GetRun() error = %v", err)
			}
			if got.Seed != run.Seed {
				t.Errorf("Seed = %d, want %d", got.Seed, run.Seed)
			}
			if !got.Fairness || got.EgoPolicy != "greedy" || got.Until != "terminal" {
				t.Errorf("GetRun() = %+v, fields did not round-trip", got.Run)
			}
			if got.Episodes != 0 || got.MeanEgoReturn != 0 {
				t.Errorf("expected empty summary, got %+v", got)
			}
		})
	}
}

func TestResultStore_GetRunNotFound(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()

			_, err := s.GetRun(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRun() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestResultStore_EpisodesAndSummary(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			run, err := s.CreateRun(ctx, sampleRun())
			if err != nil {
				t.Fatalf("CreateRun() error = %v", err)
			}

			// Insert out of order; ListEpisodes sorts by index.
			eps := []Episode{
				{RunID: run.ID, Index: 1, Steps: 4, Timestep: 7, EgoReturn: -3, OpponentReturn: 1,
					Outcome: "coalition_vanished", InitialLeft: []int{2, 1}, InitialRight: []int{1}},
				{RunID: run.ID, Index: 0, Steps: 2, Timestep: 3, EgoReturn: 1, OpponentReturn: -1,
					EgoClear: 3, OpponentClear: 5, Outcome: "simultaneous_dual_exit",
					InitialLeft: []int{1, 2}, InitialRight: []int{2}, FinalRender: "|.|.|*|.|"},
				{RunID: run.ID, Index: 2, Steps: 200, Timestep: 0, Truncated: true,
					Outcome: "no_progress", InitialLeft: []int{1}, InitialRight: []int{2, 2}},
			}
			for _, ep := range eps {
				stored, err := s.AddEpisode(ctx, ep)
				if err != nil {
					t.Fatalf("AddEpisode(%d) error = %v", ep.Index, err)
				}
				if stored.ID == "" {
					t.Errorf("AddEpisode(%d) did not assign an ID", ep.Index)
				}
			}

			got, err := s.ListEpisodes(ctx, run.ID)
			if err != nil {
				t.Fatalf("ListEpisodes() error = %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("ListEpisodes() returned %d episodes, want 3", len(got))
			}
			for i, ep := range got {
				if ep.Index != i {
					t.Errorf("episode %d has index %d", i, ep.Index)
				}
			}
			first := got[0]
			if first.EgoClear != 3 || first.OpponentClear != 5 {
				t.Errorf("clear times = %d/%d, want 3/5", first.EgoClear, first.OpponentClear)
			}
			if first.FinalRender != "|.|.|*|.|" {
				t.Errorf("FinalRender = %q", first.FinalRender)
			}
			if len(first.InitialLeft) != 2 || first.InitialLeft[0] != 1 || first.InitialRight[0] != 2 {
				t.Errorf("initial split = %v/%v, want [1 2]/[2]", first.InitialLeft, first.InitialRight)
			}
			if !got[2].Truncated {
				t.Error("expected episode 2 to be truncated")
			}

			sum, err := s.GetRun(ctx, run.ID)
			if err != nil {
				t.Fatalf("GetRun() error = %v", err)
			}
			if sum.Episodes != 3 {
				t.Errorf("Episodes = %d, want 3", sum.Episodes)
			}
			if sum.MeanEgoReturn != -2.0/3.0 {
				t.Errorf("MeanEgoReturn = %v, want %v", sum.MeanEgoReturn, -2.0/3.0)
			}
			if sum.MeanOpponentReturn != 0 {
				t.Errorf("MeanOpponentReturn = %v, want 0", sum.MeanOpponentReturn)
			}
			if sum.MeanSteps != 206.0/3.0 {
				t.Errorf("MeanSteps = %v, want %v", sum.MeanSteps, 206.0/3.0)
			}
			if sum.Truncated != 1 {
				t.Errorf("Truncated = %d, want 1", sum.Truncated)
			}
		})
	}
}

func TestResultStore_AddEpisodeRejects(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			if _, err := s.AddEpisode(ctx, Episode{RunID: "missing", Outcome: "no_progress"}); err == nil {
				t.Error("expected error for episode of unknown run")
			}

			run, err := s.CreateRun(ctx, sampleRun())
			if err != nil {
				t.Fatalf("CreateRun() error = %v", err)
			}
			ep := Episode{RunID: run.ID, Index: 0, Outcome: "no_progress"}
			if _, err := s.AddEpisode(ctx, ep); err != nil {
				t.Fatalf("AddEpisode() error = %v", err)
			}
			if _, err := s.AddEpisode(ctx, ep); err == nil {
				t.Error("expected error for duplicate episode index")
			}
		})
	}
}

func TestResultStore_ListRunsNewestFirst(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			var ids []string
			for i := 0; i < 3; i++ {
				run := sampleRun()
				run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				stored, err := s.CreateRun(ctx, run)
				if err != nil {
					t.Fatalf("CreateRun() error = %v", err)
				}
				ids = append(ids, stored.ID)
			}

			all, err := s.ListRuns(ctx, 0)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("ListRuns(0) returned %d runs, want 3", len(all))
			}
			for i, want := range []string{ids[2], ids[1], ids[0]} {
				if all[i].ID != want {
					t.Errorf("run %d = %s, want %s", i, all[i].ID, want)
				}
			}
			if !all[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
				t.Errorf("CreatedAt = %v, want %v", all[0].CreatedAt, base.Add(2*time.Minute))
			}

			limited, err := s.ListRuns(ctx, 2)
			if err != nil {
				t.Fatalf("ListRuns(2) error = %v", err)
			}
			if len(limited) != 2 {
				t.Errorf("ListRuns(2) returned %d runs, want 2", len(limited))
			}
		})
	}
}

func TestResultStore_DeleteRun(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			run, err := s.CreateRun(ctx, sampleRun())
			if err != nil {
				t.Fatalf("CreateRun() error = %v", err)
			}
			if _, err := s.AddEpisode(ctx, Episode{RunID: run.ID, Outcome: "no_progress"}); err != nil {
				t.Fatalf("AddEpisode() error = %v", err)
			}

			if err := s.DeleteRun(ctx, run.ID); err != nil {
				t.Fatalf("DeleteRun() error = %v", err)
			}
			if _, err := s.GetRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRun() after delete error = %v, want ErrNotFound", err)
			}
			eps, err := s.ListEpisodes(ctx, run.ID)
			if err != nil {
				t.Fatalf("ListEpisodes() error = %v", err)
			}
			if len(eps) != 0 {
				t.Errorf("expected episodes to be deleted with the run, got %d", len(eps))
			}
			if err := s.DeleteRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("second DeleteRun() error = %v, want ErrNotFound", err)
			}
		})
	}
}
