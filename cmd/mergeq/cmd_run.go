package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"text/tabwriter"

	"github.com/nvandessel/mergeq/internal/coalition"
	"github.com/nvandessel/mergeq/internal/config"
	"github.com/nvandessel/mergeq/internal/constants"
	"github.com/nvandessel/mergeq/internal/episode"
	"github.com/nvandessel/mergeq/internal/logging"
	"github.com/nvandessel/mergeq/internal/merge"
	"github.com/nvandessel/mergeq/internal/metrics"
	"github.com/nvandessel/mergeq/internal/policy"
	"github.com/nvandessel/mergeq/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play episodes between an ego and an opponent controller",
		Long: `Play a batch of merge episodes and report returns and clear times.

Controllers are named by policy: random, greedy (always release both
lanes), yield (always hold), or constant:N for a raw action 0-3.

Results are stored in ~/.mergeq/results.db unless --no-store is set.

Examples:
  mergeq run                                   # 10 random-vs-random episodes
  mergeq run --ego greedy --opponent yield --episodes 50
  mergeq run --until drain --seed 7 --json
  mergeq run --randomize --training --metrics-addr :9464`,
		RunE: runEpisodes,
	}

	cmd.Flags().Int("episodes", constants.DefaultEpisodes, "Number of episodes to play")
	cmd.Flags().Int("max-steps", constants.DefaultMaxSteps, "Step cap per episode (0 for none)")
	cmd.Flags().String("ego", constants.DefaultPolicy, "Ego controller policy")
	cmd.Flags().String("opponent", constants.DefaultPolicy, "Opponent controller policy")
	cmd.Flags().Int("ego-vehicles", constants.DefaultEgoVehicles, "Vehicles in the ego coalition")
	cmd.Flags().Int("opponent-vehicles", constants.DefaultOpponentVehicles, "Vehicles in the opponent coalition")
	cmd.Flags().Uint64("seed", 0, "Random seed (0 picks one and reports it)")
	cmd.Flags().Bool("fairness", false, "Apply the fairness penalty to step rewards")
	cmd.Flags().Bool("randomize", false, "Reshuffle lanes between episodes")
	cmd.Flags().Bool("training", false, "With --randomize, sample fresh lane contents")
	cmd.Flags().String("until", string(constants.StopTerminal), "Stop rule: terminal or drain")
	cmd.Flags().Bool("no-store", false, "Do not persist results")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")

	return cmd
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.MergeConfig) {
	f := cmd.Flags()
	if f.Changed("episodes") {
		cfg.Run.Episodes, _ = f.GetInt("episodes")
	}
	if f.Changed("max-steps") {
		cfg.Run.MaxSteps, _ = f.GetInt("max-steps")
	}
	if f.Changed("ego") {
		cfg.Run.EgoPolicy, _ = f.GetString("ego")
	}
	if f.Changed("opponent") {
		cfg.Run.OpponentPolicy, _ = f.GetString("opponent")
	}
	if f.Changed("ego-vehicles") {
		cfg.World.EgoVehicles, _ = f.GetInt("ego-vehicles")
	}
	if f.Changed("opponent-vehicles") {
		cfg.World.OpponentVehicles, _ = f.GetInt("opponent-vehicles")
	}
	if f.Changed("seed") {
		cfg.World.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("fairness") {
		cfg.World.Fairness, _ = f.GetBool("fairness")
	}
	if f.Changed("randomize") {
		cfg.Run.Randomize, _ = f.GetBool("randomize")
	}
	if f.Changed("training") {
		cfg.Run.Training, _ = f.GetBool("training")
	}
	if f.Changed("until") {
		until, _ := f.GetString("until")
		cfg.Run.Until = constants.StopRule(until)
	}
	if f.Changed("no-store") {
		noStore, _ := f.GetBool("no-store")
		cfg.Store.Disabled = noStore
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = f.GetString("metrics-addr")
	}
}

// episodeOutput is the JSON form of one played episode.
type episodeOutput struct {
	Index        int       `json:"index"`
	Ending       string    `json:"ending"`
	Steps        int       `json:"steps"`
	Timestep     int       `json:"timestep"`
	Returns      []float64 `json:"returns"`
	Clear        []int     `json:"clear"`
	LastOutcome  string    `json:"last_outcome"`
	InitialLeft  []int     `json:"initial_left"`
	InitialRight []int     `json:"initial_right"`
	FinalRender  string    `json:"final_render"`
}

type runOutput struct {
	RunID          string          `json:"run_id,omitempty"`
	Seed           uint64          `json:"seed"`
	Coalitions     string          `json:"coalitions"`
	EgoPolicy      string          `json:"ego_policy"`
	OpponentPolicy string          `json:"opponent_policy"`
	Until          string          `json:"until"`
	Episodes       []episodeOutput `json:"episodes"`
	MeanReturns    []float64       `json:"mean_returns"`
	MeanSteps      float64         `json:"mean_steps"`
	Endings        map[string]int  `json:"endings"`
}

func runEpisodes(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for cfg.World.Seed == 0 {
		cfg.World.Seed = rand.Uint64()
	}
	seed := cfg.World.Seed

	ctx, cancel := withShutdown(cmd.Context())
	defer cancel()

	logger := newLogger(cmd, cfg)

	ego, err := policy.Parse(cfg.Run.EgoPolicy, rand.New(rand.NewPCG(seed, 1)))
	if err != nil {
		return fmt.Errorf("ego policy: %w", err)
	}
	opponent, err := policy.Parse(cfg.Run.OpponentPolicy, rand.New(rand.NewPCG(seed, 2)))
	if err != nil {
		return fmt.Errorf("opponent policy: %w", err)
	}

	storeDir, err := cfg.StoreDir()
	if err != nil {
		return err
	}
	trace := logging.NewTraceLogger(storeDir, cfg.Logging.Level)
	defer trace.Close()

	recorder := metrics.New()
	if cfg.Metrics.Addr != "" {
		addr, done, err := recorder.Serve(ctx, cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		logger.Info("serving metrics", "url", fmt.Sprintf("http://%s/metrics", addr))
		defer func() {
			cancel()
			if err := <-done; err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	until := cfg.Run.Until
	if until == "" {
		until = constants.StopTerminal
	}

	var (
		results store.ResultStore
		runID   string
	)
	if !cfg.Store.Disabled {
		s, err := storeFor(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		run, err := s.CreateRun(ctx, store.Run{
			EgoVehicles:      cfg.World.EgoVehicles,
			OpponentVehicles: cfg.World.OpponentVehicles,
			Fairness:         cfg.World.Fairness,
			Seed:             seed,
			EgoPolicy:        ego.Name(),
			OpponentPolicy:   opponent.Name(),
			Until:            until.String(),
		})
		if err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		results, runID = s, run.ID
	}

	runner, err := episode.NewRunner(episode.Config{
		Ego:       ego,
		Opponent:  opponent,
		Episodes:  cfg.Run.Episodes,
		MaxSteps:  cfg.Run.MaxSteps,
		Randomize: cfg.Run.Randomize,
		Training:  cfg.Run.Training,
		Until:     until,
		Logger:    logger,
		Trace:     trace,
		Metrics:   recorder,
		Store:     results,
		RunID:     runID,
	})
	if err != nil {
		return err
	}

	world, reg, err := buildWorld(cfg, coalition.Listeners{recorder, runner})
	if err != nil {
		return err
	}
	logger.Info("run starting",
		"run_id", runID, "seed", seed, "coalitions", reg.String(),
		"ego", ego.Name(), "opponent", opponent.Name(), "until", until.String())

	played, runErr := runner.Run(ctx, world)
	if runErr != nil && len(played) == 0 {
		return runErr
	}

	out := newRunOutput(runID, seed, reg, ego, opponent, until, played)
	if jsonOut {
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(out); err != nil {
			return err
		}
	} else {
		printRunOutput(cmd, out)
	}
	return runErr
}

// buildWorld creates the registry and world for cfg. The registry is always
// the first listener so clear times are stamped before anyone else sees them.
func buildWorld(cfg *config.MergeConfig, extra coalition.Listeners) (*merge.World, *coalition.Registry, error) {
	reg, err := coalition.NewRegistry(cfg.World.EgoVehicles, cfg.World.OpponentVehicles)
	if err != nil {
		return nil, nil, err
	}
	wcfg := cfg.WorldOptions()
	wcfg.Listener = append(coalition.Listeners{reg}, extra...)
	world, err := merge.New(reg, wcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create world: %w", err)
	}
	return world, reg, nil
}

func newRunOutput(runID string, seed uint64, reg *coalition.Registry, ego, opponent policy.Controller, until constants.StopRule, played []episode.Result) runOutput {
	sum := episode.Summarize(played)
	out := runOutput{
		RunID:          runID,
		Seed:           seed,
		Coalitions:     reg.String(),
		EgoPolicy:      ego.Name(),
		OpponentPolicy: opponent.Name(),
		Until:          until.String(),
		Episodes:       make([]episodeOutput, 0, len(played)),
		MeanReturns:    []float64{sum.MeanReturns[0], sum.MeanReturns[1]},
		MeanSteps:      sum.MeanSteps,
		Endings:        sum.Endings,
	}
	for _, r := range played {
		out.Episodes = append(out.Episodes, episodeOutput{
			Index:        r.Index,
			Ending:       r.Ending,
			Steps:        r.Steps,
			Timestep:     r.Timestep,
			Returns:      []float64{r.Returns[0], r.Returns[1]},
			Clear:        []int{r.Clear[0], r.Clear[1]},
			LastOutcome:  r.LastOutcome.String(),
			InitialLeft:  r.InitialLeft,
			InitialRight: r.InitialRight,
			FinalRender:  r.FinalRender,
		})
	}
	return out
}

func printRunOutput(cmd *cobra.Command, out runOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Seed %d, coalitions %s, %s vs %s, until %s\n",
		out.Seed, out.Coalitions, out.EgoPolicy, out.OpponentPolicy, out.Until)
	if out.RunID != "" {
		fmt.Fprintf(w, "Run %s\n", out.RunID)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EP\tENDING\tSTEPS\tTIME\tEGO\tOPP\tEGO CLEAR\tOPP CLEAR\tFINAL")
	for _, e := range out.Episodes {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%.2f\t%.2f\t%d\t%d\t%s\n",
			e.Index, e.Ending, e.Steps, e.Timestep, e.Returns[0], e.Returns[1], e.Clear[0], e.Clear[1], e.FinalRender)
	}
	tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Mean return: ego %.3f, opponent %.3f; mean steps %.1f\n",
		out.MeanReturns[0], out.MeanReturns[1], out.MeanSteps)
}

// storeFor opens the results database configured in cfg.
func storeFor(cfg *config.MergeConfig) (*store.SQLiteResultStore, error) {
	dir, err := cfg.StoreDir()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteResultStore(dir, constants.DBFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open results store: %w", err)
	}
	return s, nil
}
