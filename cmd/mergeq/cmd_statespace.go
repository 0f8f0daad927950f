package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nvandessel/mergeq/internal/merge"
	"github.com/nvandessel/mergeq/internal/statespace"
	"github.com/spf13/cobra"
)

func newStateSpaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statespace [index...]",
		Short: "Show the observation space size, or decode observation indices",
		Long: `Report how many observations a world with the given lane lengths has.

With index arguments, decode each one back into its left and right lanes.

Examples:
  mergeq statespace --left 6 --right 6
  mergeq statespace --left 2 --right 2 40 80`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			left, _ := cmd.Flags().GetInt("left")
			right, _ := cmd.Flags().GetInt("right")
			coalitions, _ := cmd.Flags().GetInt("coalitions")
			maxStates, _ := cmd.Flags().GetInt("max-states")

			space, err := statespace.New(left, right, coalitions, maxStates)
			if err != nil {
				return err
			}

			type decoded struct {
				Index int   `json:"index"`
				Left  []int `json:"left"`
				Right []int `json:"right"`
			}
			var states []decoded
			for _, arg := range args {
				idx, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid index %q: %w", arg, err)
				}
				cells, err := space.Decode(idx)
				if err != nil {
					return err
				}
				l, r := space.Split(cells)
				states = append(states, decoded{Index: idx, Left: l, Right: r})
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"left":       left,
					"right":      right,
					"coalitions": coalitions,
					"size":       space.Size(),
					"states":     states,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d+%d cells, %d coalitions: %d states\n", left, right, coalitions, space.Size())
			for _, s := range states {
				fmt.Fprintf(w, "%d: left %v right %v\n", s.Index, s.Left, s.Right)
			}
			return nil
		},
	}

	cmd.Flags().Int("left", 6, "Original left lane length")
	cmd.Flags().Int("right", 6, "Original right lane length")
	cmd.Flags().Int("coalitions", 2, "Number of coalitions")
	cmd.Flags().Int("max-states", merge.DefaultMaxStates, "Refuse spaces larger than this")

	return cmd
}
