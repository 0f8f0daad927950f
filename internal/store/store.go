// Package store persists episode results.
//
// A run is one invocation of the episode runner with a fixed configuration;
// it owns the episodes it played. Two implementations are provided: a SQLite
// store for the CLI and an in-memory store for tests and for runs with
// persistence disabled.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run describes the configuration an episode batch was played with.
type Run struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	EgoVehicles      int       `json:"ego_vehicles"`
	OpponentVehicles int       `json:"opponent_vehicles"`
	Fairness         bool      `json:"fairness"`
	Seed             uint64    `json:"seed"`
	EgoPolicy        string    `json:"ego_policy"`
	OpponentPolicy   string    `json:"opponent_policy"`
	Until            string    `json:"until"`
}

// Episode is the outcome of one played episode.
type Episode struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	Index int    `json:"index"`

	// Steps is the number of successful Step calls.
	Steps int `json:"steps"`
	// Timestep is the world clock when the episode ended.
	Timestep int `json:"timestep"`

	EgoReturn      float64 `json:"ego_return"`
	OpponentReturn float64 `json:"opponent_return"`

	// EgoClear and OpponentClear are the recorded time-to-clear values,
	// zero when none was recorded.
	EgoClear      int `json:"ego_clear"`
	OpponentClear int `json:"opponent_clear"`

	// Outcome is the kind of the last step's outcome.
	Outcome string `json:"outcome"`
	// Truncated is set when the step cap ended the episode.
	Truncated bool `json:"truncated"`

	InitialLeft  []int  `json:"initial_left"`
	InitialRight []int  `json:"initial_right"`
	FinalRender  string `json:"final_render"`

	CreatedAt time.Time `json:"created_at"`
}

// RunSummary aggregates a run's episodes.
type RunSummary struct {
	Run
	Episodes           int     `json:"episodes"`
	MeanEgoReturn      float64 `json:"mean_ego_return"`
	MeanOpponentReturn float64 `json:"mean_opponent_return"`
	MeanSteps          float64 `json:"mean_steps"`
	Truncated          int     `json:"truncated"`
}

// ResultStore stores runs and their episodes.
type ResultStore interface {
	// CreateRun stores a run, assigning ID and CreatedAt when empty.
	CreateRun(ctx context.Context, run Run) (Run, error)

	// AddEpisode stores an episode of an existing run, assigning ID and
	// CreatedAt when empty.
	AddEpisode(ctx context.Context, ep Episode) (Episode, error)

	// GetRun returns the summary of one run, or ErrNotFound.
	GetRun(ctx context.Context, id string) (RunSummary, error)

	// ListRuns returns run summaries, newest first. A limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// ListEpisodes returns a run's episodes in play order.
	ListEpisodes(ctx context.Context, runID string) ([]Episode, error)

	// DeleteRun removes a run and its episodes, or returns ErrNotFound.
	DeleteRun(ctx context.Context, id string) error

	Close() error
}

// summarize computes the aggregates for a run from its episodes.
func summarize(run Run, eps []Episode) RunSummary {
	sum := RunSummary{Run: run, Episodes: len(eps)}
	if len(eps) == 0 {
		return sum
	}
	for _, ep := range eps {
		sum.MeanEgoReturn += ep.EgoReturn
		sum.MeanOpponentReturn += ep.OpponentReturn
		sum.MeanSteps += float64(ep.Steps)
		if ep.Truncated {
			sum.Truncated++
		}
	}
	n := float64(len(eps))
	sum.MeanEgoReturn /= n
	sum.MeanOpponentReturn /= n
	sum.MeanSteps /= n
	return sum
}
