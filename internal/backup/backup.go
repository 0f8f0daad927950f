// Package backup snapshots stored results to a file and restores them.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/mergeq/internal/store"
)

// Snapshot is the payload of a backup file: every run with its episodes.
type Snapshot struct {
	CreatedAt time.Time   `json:"created_at"`
	Runs      []RunRecord `json:"runs"`
}

// RunRecord is one run and the episodes it played.
type RunRecord struct {
	store.Run
	Episodes []store.Episode `json:"episodes"`
}

// EpisodeCount totals the episodes across all runs.
func (s *Snapshot) EpisodeCount() int {
	n := 0
	for _, r := range s.Runs {
		n += len(r.Episodes)
	}
	return n
}

// DefaultDir returns the backup directory under a store directory.
func DefaultDir(storeDir string) string {
	return filepath.Join(storeDir, "backups")
}

// Backup reads every run from rs and writes them to outputPath.
func Backup(ctx context.Context, rs store.ResultStore, outputPath string) (*Snapshot, error) {
	runs, err := rs.ListRuns(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	snap := &Snapshot{
		CreatedAt: time.Now().UTC(),
		Runs:      make([]RunRecord, 0, len(runs)),
	}
	// ListRuns is newest first; store oldest first so a restore replays
	// creation order.
	for i := len(runs) - 1; i >= 0; i-- {
		eps, err := rs.ListEpisodes(ctx, runs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list episodes for %s: %w", runs[i].ID, err)
		}
		snap.Runs = append(snap.Runs, RunRecord{Run: runs[i].Run, Episodes: eps})
	}

	if err := Write(outputPath, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// RestoreMode controls how restore handles existing data.
type RestoreMode string

const (
	// RestoreMerge skips runs that already exist (default).
	RestoreMerge RestoreMode = "merge"
	// RestoreReplace deletes every stored run before restoring.
	RestoreReplace RestoreMode = "replace"
)

// RestoreResult contains statistics about the restore operation.
type RestoreResult struct {
	RunsRestored     int `json:"runs_restored"`
	RunsSkipped      int `json:"runs_skipped"`
	RunsDeleted      int `json:"runs_deleted"`
	EpisodesRestored int `json:"episodes_restored"`
}

// Restore loads a backup file into rs. Run and episode ids and timestamps
// are preserved.
func Restore(ctx context.Context, rs store.ResultStore, inputPath string, mode RestoreMode) (*RestoreResult, error) {
	if mode == "" {
		mode = RestoreMerge
	}
	if mode != RestoreMerge && mode != RestoreReplace {
		return nil, fmt.Errorf("invalid restore mode %q (valid: merge, replace)", mode)
	}

	snap, err := Read(inputPath)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}

	if mode == RestoreReplace {
		existing, err := rs.ListRuns(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		for _, r := range existing {
			if err := rs.DeleteRun(ctx, r.ID); err != nil {
				return nil, fmt.Errorf("failed to delete run %s: %w", r.ID, err)
			}
			result.RunsDeleted++
		}
	}

	for _, rec := range snap.Runs {
		if mode == RestoreMerge {
			_, err := rs.GetRun(ctx, rec.ID)
			if err == nil {
				result.RunsSkipped++
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("failed to check existing run %s: %w", rec.ID, err)
			}
		}

		if _, err := rs.CreateRun(ctx, rec.Run); err != nil {
			return nil, fmt.Errorf("failed to restore run %s: %w", rec.ID, err)
		}
		for _, ep := range rec.Episodes {
			if _, err := rs.AddEpisode(ctx, ep); err != nil {
				return nil, fmt.Errorf("failed to restore episode %d of run %s: %w", ep.Index, rec.ID, err)
			}
			result.EpisodesRestored++
		}
		result.RunsRestored++
	}

	return result, nil
}

// GeneratePath creates a timestamped backup filename in the given directory.
func GeneratePath(dir string) string {
	ts := time.Now().UTC().Format("20060102-150405.000")
	path := filepath.Join(dir, fmt.Sprintf("%s%s%s", filePrefix, ts, fileSuffix))
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s%s-%d%s", filePrefix, ts, i, fileSuffix))
	}
}
