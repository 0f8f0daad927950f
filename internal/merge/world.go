// Package merge simulates a two-lane merge contested by two coalitions.
//
// A World holds a left and a right approach lane of coalition-tagged vehicles.
// Each step both controllers submit a raw action; the world works out which
// controller owns each lane head, releases vehicles (one per lane, or a
// platoon of up to three when a lane goes alone), classifies the step into a
// tagged Outcome, and maps the outcome to a reward per controller.
//
// Time-to-clear values are reported through a coalition.ClearListener; the
// world never writes to caller-owned registries directly.
//
// A World is not safe for concurrent use.
package merge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/nvandessel/mergeq/internal/coalition"
	"github.com/nvandessel/mergeq/internal/statespace"
)

var (
	// ErrEpisodeTerminal is returned by Step once IsTerminal has reported true.
	ErrEpisodeTerminal = errors.New("episode is terminal")
	// ErrBothQueuesEmpty is returned when there is no vehicle left to resolve.
	ErrBothQueuesEmpty = errors.New("both queues are empty")
	// ErrInvalidAction is returned for raw actions outside 0..3.
	ErrInvalidAction = errors.New("invalid action")
	// ErrUnknownCoalition is returned for lane tags that no controller owns.
	ErrUnknownCoalition = errors.New("unknown coalition")
	// ErrStateSpaceTooLarge is returned by New when the observation space
	// exceeds Config.MaxStates or the index type.
	ErrStateSpaceTooLarge = statespace.ErrTooLarge
)

// DefaultMaxStates bounds the observation space when Config.MaxStates is zero.
const DefaultMaxStates = 1 << 30

// DefaultMaxResetAttempts bounds rejection sampling in training resets.
const DefaultMaxResetAttempts = 1000

// Config controls how a World is built.
type Config struct {
	// Fairness subtracts FairnessPenalty from every step reward.
	Fairness bool

	// Seed seeds the world's random source. Zero picks a random seed.
	Seed uint64

	// MaxStates bounds the observation space size.
	MaxStates int

	// MaxResetAttempts bounds rejection sampling in training resets.
	MaxResetAttempts int

	// Left and Right, when either is non-nil, replace the generated initial
	// split. Tags must be coalition ids of the registry.
	Left, Right []int

	// Space, when set, is reused instead of building a new observation space.
	// Its lane lengths and coalition count must match the world.
	Space *statespace.Space

	// Listener receives time-to-clear events.
	Listener coalition.ClearListener
}

// DefaultConfig returns a Config with fairness off and default bounds.
func DefaultConfig() Config {
	return Config{
		MaxStates:        DefaultMaxStates,
		MaxResetAttempts: DefaultMaxResetAttempts,
	}
}

// StepResult is everything a step produced.
type StepResult struct {
	Reward      Reward
	Observation int
	Effective   Decision
	SideEmpty   Side
	Outcome     Outcome
	Popped      int
	LastPopped  [2]int
	Exited      []int
	Timestep    int
}

// Status is a read-only snapshot of the episode.
type Status struct {
	Left        []int  `json:"left"`
	Right       []int  `json:"right"`
	Observation int    `json:"observation"`
	Timestep    int    `json:"timestep"`
	Terminal    bool   `json:"terminal"`
	SideEmpty   Side   `json:"side_empty"`
	LastPopped  [2]int `json:"last_popped"`
}

// World is the merge simulation for one coalition registry.
type World struct {
	reg   *coalition.Registry
	cfg   Config
	rng   *rand.Rand
	space *statespace.Space

	origLeft, origRight []int
	left, right         Lane

	obs        int
	timestep   int
	latch      [2]clearance
	recorded   [2]bool
	lastPopped [2]int
	sideEmpty  Side
	terminal   bool
}

// New builds a world: it generates (or takes) the initial lane split, builds
// the observation space and starts the first episode.
func New(reg *coalition.Registry, cfg Config) (*World, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil registry", coalition.ErrInvalidRegistry)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxStates == 0 {
		cfg.MaxStates = DefaultMaxStates
	}
	if cfg.MaxResetAttempts <= 0 {
		cfg.MaxResetAttempts = DefaultMaxResetAttempts
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	w := &World{
		reg: reg,
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}

	if cfg.Left != nil || cfg.Right != nil {
		for _, lane := range [][]int{cfg.Left, cfg.Right} {
			for _, tag := range lane {
				if _, ok := reg.Get(tag); !ok {
					return nil, fmt.Errorf("%w: lane tag %d", ErrUnknownCoalition, tag)
				}
			}
		}
		w.origLeft = append([]int{}, cfg.Left...)
		w.origRight = append([]int{}, cfg.Right...)
	} else {
		w.origLeft, w.origRight = GenerateQueues(w.rng, reg)
	}

	if cfg.Space != nil {
		l, r := cfg.Space.LaneLengths()
		if l != len(w.origLeft) || r != len(w.origRight) || cfg.Space.Coalitions() != reg.Len() {
			return nil, fmt.Errorf("shared state space is %d+%d lanes of %d coalitions, world needs %d+%d of %d",
				l, r, cfg.Space.Coalitions(), len(w.origLeft), len(w.origRight), reg.Len())
		}
		w.space = cfg.Space
	} else {
		space, err := statespace.New(len(w.origLeft), len(w.origRight), reg.Len(), cfg.MaxStates)
		if err != nil {
			return nil, fmt.Errorf("building state space: %w", err)
		}
		w.space = space
	}

	if err := w.restart(); err != nil {
		return nil, err
	}
	return w, nil
}

// Step applies one joint action and returns the reward and new observation.
func (w *World) Step(ctx context.Context, ja JointAction) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if _, err := ja.Ego.Decode(); err != nil {
		return StepResult{}, fmt.Errorf("ego: %w", err)
	}
	if _, err := ja.Opponent.Decode(); err != nil {
		return StepResult{}, fmt.Errorf("opponent: %w", err)
	}
	if w.terminal {
		return StepResult{}, ErrEpisodeTerminal
	}

	res, err := Resolve(w.left.Head(), w.right.Head(), ja)
	if err != nil {
		return StepResult{}, err
	}
	adv := advance(&w.left, &w.right, res)

	obs, err := w.space.EncodeLanes(w.left.cells, w.right.cells)
	if err != nil {
		return StepResult{}, fmt.Errorf("encoding observation: %w", err)
	}
	w.obs = obs

	outcome := w.classify(res, adv)
	reward := RewardFor(outcome)
	if w.cfg.Fairness {
		p := FairnessPenalty(adv.Exited, w.left.Head(), w.right.Head(),
			w.reg.Vehicles(coalition.Ego), w.reg.Vehicles(coalition.Opponent))
		reward[0] -= p[0]
		reward[1] -= p[1]
	}

	if res.SideEmpty == SideNone || adv.Popped != 1 {
		w.timestep += 2
	} else {
		w.timestep++
	}
	w.lastPopped = adv.LastPopped
	w.sideEmpty = res.SideEmpty

	return StepResult{
		Reward:      reward,
		Observation: obs,
		Effective:   res.Effective,
		SideEmpty:   res.SideEmpty,
		Outcome:     outcome,
		Popped:      adv.Popped,
		LastPopped:  adv.LastPopped,
		Exited:      adv.Exited,
		Timestep:    w.timestep,
	}, nil
}

// classify turns a resolved and applied step into its tagged outcome. It
// advances a cleared coalition's latch to credited.
func (w *World) classify(res Resolution, adv Advance) Outcome {
	egoGone := !w.left.Contains(coalition.Ego) && !w.right.Contains(coalition.Ego)
	oppGone := !w.left.Contains(coalition.Opponent) && !w.right.Contains(coalition.Opponent)

	if res.SideEmpty == SideNone && egoGone && oppGone {
		if _, ok := dualExitRewards[adv.LastPopped]; ok {
			return Outcome{Kind: SimultaneousDualExit, Pair: adv.LastPopped}
		}
	}
	for _, c := range []int{coalition.Opponent, coalition.Ego} {
		if w.latch[c-1] == cleared {
			w.latch[c-1] = credited
			return Outcome{Kind: CreditedClearance, Coalition: c}
		}
	}
	switch {
	case egoGone:
		return Outcome{Kind: CoalitionVanished, Coalition: coalition.Ego}
	case oppGone:
		return Outcome{Kind: CoalitionVanished, Coalition: coalition.Opponent}
	}
	return Outcome{Kind: NoProgress}
}

// Reset starts a new episode.
//
// With randomize and training, lanes of the same lengths are sampled with
// each position ego or opponent at even odds (see sampleTrainingQueues); if
// no acceptable sample is found the current split is kept. With randomize
// alone, the current vehicles are reshuffled across both lanes. Otherwise the
// current split is restored. A randomized split becomes the new original.
func (w *World) Reset(randomize, training bool) error {
	if randomize {
		if training {
			left, right, ok := sampleTrainingQueues(w.rng, len(w.origLeft), len(w.origRight), w.cfg.MaxResetAttempts)
			if ok {
				w.origLeft, w.origRight = left, right
			}
		} else {
			w.origLeft, w.origRight = reshuffle(w.rng, w.origLeft, w.origRight)
		}
	}
	return w.restart()
}

// restart puts the original split back on the lanes and clears every
// per-episode counter.
func (w *World) restart() error {
	w.left = newLane(w.origLeft)
	w.right = newLane(w.origRight)

	obs, err := w.space.EncodeLanes(w.left.cells, w.right.cells)
	if err != nil {
		return fmt.Errorf("encoding observation: %w", err)
	}
	w.obs = obs
	w.timestep = 0
	w.latch = [2]clearance{}
	w.recorded = [2]bool{}
	w.lastPopped = [2]int{}
	w.sideEmpty = SideNone
	w.terminal = false

	for _, c := range []int{coalition.Ego, coalition.Opponent} {
		w.emit(coalition.ClearEvent{Coalition: c, Kind: coalition.ClearReset})
	}
	return nil
}

func (w *World) emit(ev coalition.ClearEvent) {
	if ev.Kind != coalition.ClearReset {
		w.recorded[ev.Coalition-1] = true
	}
	if w.cfg.Listener != nil {
		w.cfg.Listener.OnClear(ev)
	}
}

// Observation returns the current observation index.
func (w *World) Observation() int { return w.obs }

// Timestep returns the episode clock.
func (w *World) Timestep() int { return w.timestep }

// Space returns the world's observation space.
func (w *World) Space() *statespace.Space { return w.space }

// Registry returns the registry the world was built from.
func (w *World) Registry() *coalition.Registry { return w.reg }

// Lanes returns copies of the queued tags, head first.
func (w *World) Lanes() (left, right []int) {
	return w.left.Cells(), w.right.Cells()
}

// Original returns copies of the split the current episode started from.
func (w *World) Original() (left, right []int) {
	return append([]int{}, w.origLeft...), append([]int{}, w.origRight...)
}

// Status returns a snapshot of the episode without touching the terminal
// latch.
func (w *World) Status() Status {
	return Status{
		Left:        w.left.Cells(),
		Right:       w.right.Cells(),
		Observation: w.obs,
		Timestep:    w.timestep,
		Terminal:    w.terminal,
		SideEmpty:   w.sideEmpty,
		LastPopped:  w.lastPopped,
	}
}

// Render draws the lanes on one line, the left lane reversed so both heads
// touch the merge marker: "|.|1|2|*|2|1|.|". Empty slots show as ".".
func (w *World) Render() string {
	cells, err := w.space.Decode(w.obs)
	if err != nil {
		return "|*|"
	}
	left, right := w.space.Split(cells)

	var sb strings.Builder
	sb.WriteString("|")
	for i := len(left) - 1; i >= 0; i-- {
		sb.WriteString(cellString(left[i]))
		sb.WriteString("|")
	}
	sb.WriteString("*|")
	for _, c := range right {
		sb.WriteString(cellString(c))
		sb.WriteString("|")
	}
	return sb.String()
}

func cellString(c int) string {
	if c == 0 {
		return "."
	}
	return strconv.Itoa(c)
}
