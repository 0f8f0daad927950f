package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nvandessel/mergeq/internal/coalition"
	"github.com/nvandessel/mergeq/internal/merge"
	"github.com/spf13/cobra"
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Draw the lanes and optionally play joint actions by hand",
		Long: `Build a world and draw both lanes on one line, heads at the "*" marker.

Lanes are generated from the configured coalition sizes unless --left and
--right give them explicitly. Each --act applies one joint action written
as EGO:OPPONENT (actions 0 hold, 1 right, 2 left, 3 both).

Examples:
  mergeq render --seed 3
  mergeq render --left 1,2 --right 2,1 --act 3:3 --act 0:1`,
		RunE: runRender,
	}

	cmd.Flags().IntSlice("left", nil, "Left lane coalition tags, head first")
	cmd.Flags().IntSlice("right", nil, "Right lane coalition tags, head first")
	cmd.Flags().Uint64("seed", 0, "Random seed for generated lanes")
	cmd.Flags().StringArray("act", nil, "Joint action EGO:OPPONENT to apply (repeatable)")
	cmd.Flags().Bool("fairness", false, "Apply the fairness penalty to step rewards")

	return cmd
}

type renderStep struct {
	Action   string    `json:"action"`
	Outcome  string    `json:"outcome"`
	Reward   []float64 `json:"reward"`
	Timestep int       `json:"timestep"`
	Render   string    `json:"render"`
}

type renderOutput struct {
	Render         string       `json:"render"`
	Observation    int          `json:"observation"`
	StateSpaceSize int          `json:"state_space_size"`
	Steps          []renderStep `json:"steps,omitempty"`
	Terminal       bool         `json:"terminal"`
}

func runRender(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	left, _ := cmd.Flags().GetIntSlice("left")
	right, _ := cmd.Flags().GetIntSlice("right")
	acts, _ := cmd.Flags().GetStringArray("act")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.World.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if cmd.Flags().Changed("fairness") {
		cfg.World.Fairness, _ = cmd.Flags().GetBool("fairness")
	}

	joint := make([]merge.JointAction, 0, len(acts))
	for _, a := range acts {
		ja, err := parseJointAction(a)
		if err != nil {
			return err
		}
		joint = append(joint, ja)
	}

	reg, err := registryFor(cfg.World.EgoVehicles, cfg.World.OpponentVehicles, left, right)
	if err != nil {
		return err
	}
	wcfg := cfg.WorldOptions()
	wcfg.Left, wcfg.Right = left, right
	wcfg.Listener = reg
	world, err := merge.New(reg, wcfg)
	if err != nil {
		return fmt.Errorf("failed to create world: %w", err)
	}

	out := renderOutput{
		Render:         world.Render(),
		Observation:    world.Observation(),
		StateSpaceSize: world.Space().Size(),
	}
	for i, ja := range joint {
		if world.IsTerminal() {
			break
		}
		res, err := world.Step(context.Background(), ja)
		if errors.Is(err, merge.ErrBothQueuesEmpty) {
			break
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, acts[i], err)
		}
		out.Steps = append(out.Steps, renderStep{
			Action:   acts[i],
			Outcome:  res.Outcome.String(),
			Reward:   []float64{res.Reward[0], res.Reward[1]},
			Timestep: res.Timestep,
			Render:   world.Render(),
		})
	}
	out.Terminal = world.IsTerminal()

	if jsonOut {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s  (observation %d of %d)\n", out.Render, out.Observation, out.StateSpaceSize)
	for _, s := range out.Steps {
		fmt.Fprintf(w, "%s  t=%-3d %-6s %-34s reward %+.2f %+.2f\n",
			s.Render, s.Timestep, s.Action, s.Outcome, s.Reward[0], s.Reward[1])
	}
	if out.Terminal {
		fmt.Fprintf(w, "terminal: %s\n", reg.String())
	}
	return nil
}

// registryFor sizes the coalitions from explicit lanes when given, otherwise
// from the configured counts.
func registryFor(ego, opponent int, left, right []int) (*coalition.Registry, error) {
	if left == nil && right == nil {
		return coalition.NewRegistry(ego, opponent)
	}
	counts := [2]int{}
	for _, lane := range [][]int{left, right} {
		for _, tag := range lane {
			if tag != coalition.Ego && tag != coalition.Opponent {
				return nil, fmt.Errorf("lane tag %d: must be %d or %d", tag, coalition.Ego, coalition.Opponent)
			}
			counts[tag-1]++
		}
	}
	return coalition.NewRegistry(counts[0], counts[1])
}

// parseJointAction parses "EGO:OPPONENT", e.g. "3:0".
func parseJointAction(s string) (merge.JointAction, error) {
	egoStr, oppStr, ok := strings.Cut(s, ":")
	if !ok {
		return merge.JointAction{}, fmt.Errorf("invalid joint action %q: want EGO:OPPONENT", s)
	}
	ego, err := strconv.Atoi(strings.TrimSpace(egoStr))
	if err != nil {
		return merge.JointAction{}, fmt.Errorf("invalid ego action in %q: %w", s, err)
	}
	opp, err := strconv.Atoi(strings.TrimSpace(oppStr))
	if err != nil {
		return merge.JointAction{}, fmt.Errorf("invalid opponent action in %q: %w", s, err)
	}
	ja := merge.JointAction{Ego: merge.Action(ego), Opponent: merge.Action(opp)}
	if _, err := ja.Ego.Decode(); err != nil {
		return merge.JointAction{}, fmt.Errorf("ego: %w", err)
	}
	if _, err := ja.Opponent.Decode(); err != nil {
		return merge.JointAction{}, fmt.Errorf("opponent: %w", err)
	}
	return ja, nil
}
