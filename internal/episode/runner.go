// Package episode plays merge episodes with two controllers and reports what
// happened: returns, clear times and how each episode ended.
package episode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nvandessel/mergeq/internal/coalition"
	"github.com/nvandessel/mergeq/internal/constants"
	"github.com/nvandessel/mergeq/internal/logging"
	"github.com/nvandessel/mergeq/internal/merge"
	"github.com/nvandessel/mergeq/internal/metrics"
	"github.com/nvandessel/mergeq/internal/policy"
	"github.com/nvandessel/mergeq/internal/store"
)

// Config holds the runner's controllers, stop rule and sinks. Only Ego and
// Opponent are required.
type Config struct {
	Ego      policy.Controller
	Opponent policy.Controller

	Episodes int
	// MaxSteps caps each episode; zero means no cap.
	MaxSteps int

	// Randomize and Training are passed to World.Reset between episodes.
	Randomize bool
	Training  bool

	// Until picks the stop rule; empty means StopTerminal.
	Until constants.StopRule

	Logger  *slog.Logger
	Trace   *logging.TraceLogger
	Metrics *metrics.Recorder

	// Store and RunID, when both set, persist every finished episode.
	Store store.ResultStore
	RunID string
}

// Result describes one finished episode.
type Result struct {
	Index    int
	Steps    int
	Timestep int
	Returns  merge.Reward
	// Clear holds the last time-to-clear reported per coalition, ego first.
	Clear [2]int
	// Ending is one of the metrics.Ending* values.
	Ending       string
	LastOutcome  merge.Outcome
	InitialLeft  []int
	InitialRight []int
	FinalRender  string
}

// Runner plays episodes. It also implements coalition.ClearListener so it can
// collect clear times; pass it in the world's listener list.
type Runner struct {
	cfg     Config
	logger  *slog.Logger
	episode int
	clear   [2]int
}

// NewRunner validates cfg and returns a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Ego == nil || cfg.Opponent == nil {
		return nil, fmt.Errorf("both controllers are required")
	}
	if cfg.Episodes < 1 {
		return nil, fmt.Errorf("episodes must be at least 1, got %d", cfg.Episodes)
	}
	if cfg.Until == "" {
		cfg.Until = constants.StopTerminal
	}
	if !cfg.Until.Valid() {
		return nil, fmt.Errorf("invalid stop rule %q", cfg.Until)
	}
	if cfg.Store != nil && cfg.RunID == "" {
		return nil, fmt.Errorf("a store needs a run id")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// OnClear records clear times for the episode in progress.
func (r *Runner) OnClear(ev coalition.ClearEvent) {
	if ev.Coalition != coalition.Ego && ev.Coalition != coalition.Opponent {
		return
	}
	if ev.Kind == coalition.ClearReset {
		r.clear[ev.Coalition-1] = 0
		return
	}
	r.clear[ev.Coalition-1] = ev.Timestep
	r.logger.Debug("coalition cleared",
		"episode", r.episode, "coalition", ev.Coalition, "timestep", ev.Timestep, "kind", ev.Kind)
	r.cfg.Trace.Log(map[string]any{
		"event":     "clear",
		"episode":   r.episode,
		"coalition": ev.Coalition,
		"timestep":  ev.Timestep,
		"kind":      string(ev.Kind),
	})
}

// Run plays the configured number of episodes on w. The first episode
// starts from w's current state; later ones start after a Reset.
func (r *Runner) Run(ctx context.Context, w *merge.World) ([]Result, error) {
	results := make([]Result, 0, r.cfg.Episodes)
	for i := 0; i < r.cfg.Episodes; i++ {
		r.episode = i
		if i > 0 {
			if err := w.Reset(r.cfg.Randomize, r.cfg.Training); err != nil {
				return results, fmt.Errorf("episode %d: reset: %w", i, err)
			}
			r.cfg.Metrics.ObserveReset(metrics.ResetMode(r.cfg.Randomize, r.cfg.Training))
		}

		res, err := r.play(ctx, w, i)
		if err != nil {
			return results, fmt.Errorf("episode %d: %w", i, err)
		}
		results = append(results, res)

		r.cfg.Metrics.ObserveEpisode(res.Ending, res.Returns, res.Steps)
		r.logger.Info("episode finished",
			"episode", i,
			"ending", res.Ending,
			"steps", res.Steps,
			"timestep", res.Timestep,
			"ego_return", res.Returns[0],
			"opponent_return", res.Returns[1],
			"ego_clear", res.Clear[0],
			"opponent_clear", res.Clear[1],
		)

		if err := r.persist(ctx, res); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *Runner) play(ctx context.Context, w *merge.World, index int) (Result, error) {
	res := Result{Index: index}
	res.InitialLeft, res.InitialRight = w.Original()
	r.logger.Debug("episode started", "episode", index, "lanes", w.Render())

loop:
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if r.cfg.MaxSteps > 0 && res.Steps >= r.cfg.MaxSteps {
			res.Ending = metrics.EndingTruncated
			break
		}

		obs := w.Observation()
		ja := merge.JointAction{Ego: r.cfg.Ego.Act(obs), Opponent: r.cfg.Opponent.Act(obs)}
		step, err := w.Step(ctx, ja)
		if errors.Is(err, merge.ErrBothQueuesEmpty) {
			res.Ending = metrics.EndingDrained
			break
		}
		if err != nil {
			return res, err
		}

		res.Steps++
		res.Returns[0] += step.Reward[0]
		res.Returns[1] += step.Reward[1]
		res.LastOutcome = step.Outcome
		r.observeStep(ctx, w, index, ja, step)

		switch r.cfg.Until {
		case constants.StopDrain:
			w.IsEnd(coalition.Ego)
			w.IsEnd(coalition.Opponent)
			if left, right := w.Lanes(); len(left) == 0 && len(right) == 0 {
				res.Ending = metrics.EndingDrained
				break loop
			}
		default:
			if w.IsTerminal() {
				res.Ending = metrics.EndingTerminal
				break loop
			}
		}
	}

	res.Timestep = w.Timestep()
	res.Clear = r.clear
	res.FinalRender = w.Render()
	return res, nil
}

func (r *Runner) observeStep(ctx context.Context, w *merge.World, index int, ja merge.JointAction, step merge.StepResult) {
	r.cfg.Metrics.ObserveStep(step.Outcome.Kind.String(), step.Reward)

	r.logger.Debug("step",
		"episode", index,
		"ego_action", int(ja.Ego),
		"opponent_action", int(ja.Opponent),
		"effective", step.Effective.String(),
		"outcome", step.Outcome.String(),
		"ego_reward", step.Reward[0],
		"opponent_reward", step.Reward[1],
		"timestep", step.Timestep,
	)
	if r.logger.Enabled(ctx, logging.LevelTrace) {
		r.logger.Log(ctx, logging.LevelTrace, "lanes", "episode", index, "render", w.Render())
	}

	r.cfg.Trace.Log(map[string]any{
		"event":           "step",
		"episode":         index,
		"ego_action":      int(ja.Ego),
		"opponent_action": int(ja.Opponent),
		"effective":       step.Effective.String(),
		"side_empty":      step.SideEmpty.String(),
		"outcome":         step.Outcome.String(),
		"reward":          []float64{step.Reward[0], step.Reward[1]},
		"observation":     step.Observation,
		"popped":          step.Popped,
		"timestep":        step.Timestep,
	})
}

func (r *Runner) persist(ctx context.Context, res Result) error {
	if r.cfg.Store == nil {
		return nil
	}
	_, err := r.cfg.Store.AddEpisode(ctx, store.Episode{
		RunID:          r.cfg.RunID,
		Index:          res.Index,
		Steps:          res.Steps,
		Timestep:       res.Timestep,
		EgoReturn:      res.Returns[0],
		OpponentReturn: res.Returns[1],
		EgoClear:       res.Clear[0],
		OpponentClear:  res.Clear[1],
		Outcome:        res.LastOutcome.Kind.String(),
		Truncated:      res.Ending == metrics.EndingTruncated,
		InitialLeft:    res.InitialLeft,
		InitialRight:   res.InitialRight,
		FinalRender:    res.FinalRender,
	})
	if err != nil {
		return fmt.Errorf("persisting episode %d: %w", res.Index, err)
	}
	return nil
}

// Summary aggregates results.
type Summary struct {
	Episodes    int
	MeanReturns merge.Reward
	MeanSteps   float64
	Endings     map[string]int
}

// Summarize computes mean returns and steps and counts endings.
func Summarize(results []Result) Summary {
	s := Summary{Episodes: len(results), Endings: make(map[string]int)}
	if len(results) == 0 {
		return s
	}
	for _, res := range results {
		s.MeanReturns[0] += res.Returns[0]
		s.MeanReturns[1] += res.Returns[1]
		s.MeanSteps += float64(res.Steps)
		s.Endings[res.Ending]++
	}
	n := float64(len(results))
	s.MeanReturns[0] /= n
	s.MeanReturns[1] /= n
	s.MeanSteps /= n
	return s
}
