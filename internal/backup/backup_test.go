package backup

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/mergeq/internal/store"
)

// seedStore creates runs with the given episode counts, oldest first.
func seedStore(t *testing.T, episodes ...int) *store.InMemoryResultStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewInMemoryResultStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, n := range episodes {
		run, err := s.CreateRun(ctx, store.Run{
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
			EgoVehicles:      2,
			OpponentVehicles: 3,
			Seed:             uint64(100 + i),
			EgoPolicy:        "greedy",
			OpponentPolicy:   "yield",
			Until:            "terminal",
		})
		if err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
		for j := 0; j < n; j++ {
			if _, err := s.AddEpisode(ctx, store.Episode{
				RunID:        run.ID,
				Index:        j,
				Steps:        j + 1,
				EgoReturn:    float64(j),
				InitialLeft:  []int{1, 2},
				InitialRight: []int{2, 2, 1},
				Outcome:      "coalition_vanished",
			}); err != nil {
				t.Fatalf("AddEpisode() error = %v", err)
			}
		}
	}
	return s
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := seedStore(t, 2, 3)
	path := filepath.Join(t.TempDir(), "backups", "snap.mqb")

	snap, err := Backup(ctx, src, path)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if len(snap.Runs) != 2 || snap.EpisodeCount() != 5 {
		t.Fatalf("snapshot has %d runs and %d episodes, want 2 and 5", len(snap.Runs), snap.EpisodeCount())
	}
	if snap.Runs[0].Seed != 100 {
		t.Errorf("first run seed = %d, want the oldest run (100)", snap.Runs[0].Seed)
	}

	dst := store.NewInMemoryResultStore()
	result, err := Restore(ctx, dst, path, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.RunsRestored != 2 || result.EpisodesRestored != 5 {
		t.Errorf("result = %+v, want 2 runs and 5 episodes restored", result)
	}

	want, _ := src.ListRuns(ctx, 0)
	got, err := dst.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("restored %d runs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Episodes != want[i].Episodes || got[i].Seed != want[i].Seed {
			t.Errorf("run %d = %+v, want %+v", i, got[i].Run, want[i].Run)
		}
		if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Errorf("run %d created_at = %v, want %v", i, got[i].CreatedAt, want[i].CreatedAt)
		}
	}

	eps, _ := dst.ListEpisodes(ctx, want[0].ID)
	if len(eps) == 0 || len(eps[0].InitialRight) != 3 {
		t.Errorf("episodes = %+v, want lanes preserved", eps)
	}
}

func TestRestore_MergeMode(t *testing.T) {
	ctx := context.Background()
	src := seedStore(t, 1, 1)
	path := filepath.Join(t.TempDir(), "snap.mqb")
	if _, err := Backup(ctx, src, path); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	// Restoring into the source skips everything.
	result, err := Restore(ctx, src, path, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.RunsRestored != 0 || result.RunsSkipped != 2 {
		t.Errorf("result = %+v, want 0 restored and 2 skipped", result)
	}
}

func TestRestore_ReplaceMode(t *testing.T) {
	ctx := context.Background()
	src := seedStore(t, 2)
	path := filepath.Join(t.TempDir(), "snap.mqb")
	if _, err := Backup(ctx, src, path); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dst := seedStore(t, 1, 1, 1)
	result, err := Restore(ctx, dst, path, RestoreReplace)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.RunsDeleted != 3 || result.RunsRestored != 1 || result.EpisodesRestored != 2 {
		t.Errorf("result = %+v, want 3 deleted, 1 run and 2 episodes restored", result)
	}
	runs, _ := dst.ListRuns(ctx, 0)
	if len(runs) != 1 {
		t.Errorf("got %d runs after replace, want 1", len(runs))
	}
}

func TestRestore_InvalidMode(t *testing.T) {
	if _, err := Restore(context.Background(), store.NewInMemoryResultStore(), "unused", "overwrite"); err == nil {
		t.Error("expected error for unknown restore mode")
	}
}

func TestRestore_MissingFile(t *testing.T) {
	_, err := Restore(context.Background(), store.NewInMemoryResultStore(), filepath.Join(t.TempDir(), "nope.mqb"), RestoreMerge)
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBackup_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not enforced on windows")
	}
	path := filepath.Join(t.TempDir(), "snap.mqb")
	if _, err := Backup(context.Background(), seedStore(t, 1), path); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("backup permissions = %o, want 600", perm)
	}
}

func TestGeneratePath(t *testing.T) {
	dir := t.TempDir()
	path := GeneratePath(dir)

	if filepath.Dir(path) != dir {
		t.Errorf("GeneratePath() dir = %s, want %s", filepath.Dir(path), dir)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "mergeq-backup-") || !strings.HasSuffix(base, ".mqb") {
		t.Errorf("GeneratePath() = %s, want mergeq-backup-*.mqb", base)
	}

	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if next := GeneratePath(dir); next == path {
		t.Errorf("GeneratePath() returned existing file %s", next)
	}
}

func TestDefaultDir(t *testing.T) {
	if got := DefaultDir("/data/mergeq"); got != filepath.Join("/data/mergeq", "backups") {
		t.Errorf("DefaultDir() = %s", got)
	}
}
