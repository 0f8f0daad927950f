package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// timeLayout keeps stored timestamps fixed-width so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteResultStore implements ResultStore on a SQLite database.
type SQLiteResultStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteResultStore opens (or creates) <dir>/<file> and initializes the
// schema.
func NewSQLiteResultStore(dir, file string) (*SQLiteResultStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	dbPath := filepath.Join(dir, file)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteResultStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteResultStore) Path() string { return s.dbPath }

// CreateRun stores a run.
func (s *SQLiteResultStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, ego_vehicles, opponent_vehicles, fairness, seed,
			ego_policy, opponent_policy, stop_rule)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(timeLayout), run.EgoVehicles, run.OpponentVehicles,
		run.Fairness, strconv.FormatUint(run.Seed, 10), run.EgoPolicy, run.OpponentPolicy, run.Until)
	if err != nil {
		return Run{}, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// AddEpisode stores an episode. The run must exist.
func (s *SQLiteResultStore) AddEpisode(ctx context.Context, ep Episode) (Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	left, err := json.Marshal(nonNil(ep.InitialLeft))
	if err != nil {
		return Episode{}, fmt.Errorf("failed to marshal initial_left: %w", err)
	}
	right, err := json.Marshal(nonNil(ep.InitialRight))
	if err != nil {
		return Episode{}, fmt.Errorf("failed to marshal initial_right: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, run_id, idx, steps, timestep, ego_return, opponent_return,
			ego_clear, opponent_clear, outcome, truncated, initial_left, initial_right,
			final_render, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.RunID, ep.Index, ep.Steps, ep.Timestep, ep.EgoReturn, ep.OpponentReturn,
		ep.EgoClear, ep.OpponentClear, ep.Outcome, ep.Truncated, string(left), string(right),
		nullString(ep.FinalRender), ep.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return Episode{}, fmt.Errorf("failed to insert episode %d of run %s: %w", ep.Index, ep.RunID, err)
	}
	return ep, nil
}

const summaryQuery = `
	SELECT r.id, r.created_at, r.ego_vehicles, r.opponent_vehicles, r.fairness, r.seed,
		r.ego_policy, r.opponent_policy, r.stop_rule,
		COUNT(e.id),
		COALESCE(AVG(e.ego_return), 0),
		COALESCE(AVG(e.opponent_return), 0),
		COALESCE(AVG(e.steps), 0),
		COALESCE(SUM(e.truncated), 0)
	FROM runs r
	LEFT JOIN episodes e ON e.run_id = r.id`

// GetRun returns one run summary.
func (s *SQLiteResultStore) GetRun(ctx context.Context, id string) (RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, summaryQuery+` WHERE r.id = ? GROUP BY r.id`, id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return sum, err
}

// ListRuns returns run summaries, newest first.
func (s *SQLiteResultStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		summaryQuery+` GROUP BY r.id ORDER BY r.created_at DESC, r.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (RunSummary, error) {
	var (
		sum       RunSummary
		createdAt string
		seed      string
	)
	err := row.Scan(&sum.ID, &createdAt, &sum.EgoVehicles, &sum.OpponentVehicles, &sum.Fairness,
		&seed, &sum.EgoPolicy, &sum.OpponentPolicy, &sum.Until,
		&sum.Episodes, &sum.MeanEgoReturn, &sum.MeanOpponentReturn, &sum.MeanSteps, &sum.Truncated)
	if err != nil {
		return RunSummary{}, err
	}
	if sum.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return RunSummary{}, fmt.Errorf("run %s: bad created_at %q: %w", sum.ID, createdAt, err)
	}
	if sum.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return RunSummary{}, fmt.Errorf("run %s: bad seed %q: %w", sum.ID, seed, err)
	}
	return sum, nil
}

// ListEpisodes returns a run's episodes ordered by index.
func (s *SQLiteResultStore) ListEpisodes(ctx context.Context, runID string) ([]Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, idx, steps, timestep, ego_return, opponent_return, ego_clear,
			opponent_clear, outcome, truncated, initial_left, initial_right, final_render, created_at
		FROM episodes WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var (
			ep          Episode
			left, right string
			render      sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&ep.ID, &ep.RunID, &ep.Index, &ep.Steps, &ep.Timestep, &ep.EgoReturn,
			&ep.OpponentReturn, &ep.EgoClear, &ep.OpponentClear, &ep.Outcome, &ep.Truncated,
			&left, &right, &render, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		if err := json.Unmarshal([]byte(left), &ep.InitialLeft); err != nil {
			return nil, fmt.Errorf("episode %s: bad initial_left: %w", ep.ID, err)
		}
		if err := json.Unmarshal([]byte(right), &ep.InitialRight); err != nil {
			return nil, fmt.Errorf("episode %s: bad initial_right: %w", ep.ID, err)
		}
		ep.FinalRender = render.String
		if ep.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("episode %s: bad created_at %q: %w", ep.ID, createdAt, err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// DeleteRun removes a run; its episodes go with it through the foreign key.
func (s *SQLiteResultStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteResultStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nonNil(tags []int) []int {
	if tags == nil {
		return []int{}
	}
	return tags
}
