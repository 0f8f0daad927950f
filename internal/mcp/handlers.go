package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/mergeq/internal/coalition"
	"github.com/nvandessel/mergeq/internal/merge"
	"github.com/nvandessel/mergeq/internal/metrics"
	"github.com/nvandessel/mergeq/internal/ratelimit"
)

// registerTools registers all merge MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "merge_reset",
		Description: "Start a new episode, optionally reshuffling or resampling the lanes",
	}, s.handleMergeReset)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "merge_step",
		Description: "Apply one joint action (ego, opponent) and return rewards and the new observation",
	}, s.handleMergeStep)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "merge_is_end",
		Description: "Check whether a coalition has just left both lanes; reports true once per episode",
	}, s.handleMergeIsEnd)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "merge_is_terminal",
		Description: "Check whether either coalition is gone; latches and records time-to-clear",
	}, s.handleMergeIsTerminal)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "merge_status",
		Description: "Show lanes, clock, returns and coalition clear times without changing the episode",
	}, s.handleMergeStatus)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "merge_render",
		Description: "Draw both lanes on one line with their heads at the merge marker",
	}, s.handleMergeRender)

	return nil
}

func (s *Server) handleMergeReset(ctx context.Context, req *sdk.CallToolRequest, args MergeResetInput) (_ *sdk.CallToolResult, _ MergeResetOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("merge_reset", start, retErr, sanitizeToolParams(map[string]interface{}{
			"randomize": args.Randomize, "training": args.Training,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "merge_reset"); err != nil {
		return nil, MergeResetOutput{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.world.Reset(args.Randomize, args.Training); err != nil {
		return nil, MergeResetOutput{}, fmt.Errorf("reset failed: %w", err)
	}
	s.steps = 0
	s.returns = merge.Reward{}
	s.metrics.ObserveReset(metrics.ResetMode(args.Randomize, args.Training))

	left, right := s.world.Lanes()
	s.logger.Debug("episode reset", "randomize", args.Randomize, "training", args.Training, "lanes", s.world.Render())
	return nil, MergeResetOutput{
		Observation:    s.world.Observation(),
		Left:           left,
		Right:          right,
		StateSpaceSize: s.world.Space().Size(),
		Render:         s.world.Render(),
	}, nil
}

func (s *Server) handleMergeStep(ctx context.Context, req *sdk.CallToolRequest, args MergeStepInput) (_ *sdk.CallToolResult, _ MergeStepOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("merge_step", start, retErr, sanitizeToolParams(map[string]interface{}{
			"ego": args.Ego, "opponent": args.Opponent,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "merge_step"); err != nil {
		return nil, MergeStepOutput{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.world.Step(ctx, merge.JointAction{
		Ego:      merge.Action(args.Ego),
		Opponent: merge.Action(args.Opponent),
	})
	if err != nil {
		return nil, MergeStepOutput{}, fmt.Errorf("step failed: %w", err)
	}
	s.steps++
	s.returns[0] += res.Reward[0]
	s.returns[1] += res.Reward[1]
	s.metrics.ObserveStep(res.Outcome.Kind.String(), res.Reward)

	exited := res.Exited
	if exited == nil {
		exited = []int{}
	}
	s.logger.Debug("step",
		"ego_action", args.Ego, "opponent_action", args.Opponent,
		"outcome", res.Outcome.String(), "timestep", res.Timestep)
	return nil, MergeStepOutput{
		Reward:      []float64{res.Reward[0], res.Reward[1]},
		Observation: res.Observation,
		Outcome:     res.Outcome.String(),
		Effective:   res.Effective.String(),
		SideEmpty:   res.SideEmpty.String(),
		Popped:      res.Popped,
		Exited:      exited,
		Timestep:    res.Timestep,
	}, nil
}

func (s *Server) handleMergeIsEnd(ctx context.Context, req *sdk.CallToolRequest, args MergeIsEndInput) (_ *sdk.CallToolResult, _ MergeIsEndOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("merge_is_end", start, retErr, sanitizeToolParams(map[string]interface{}{
			"coalition": args.Coalition,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "merge_is_end"); err != nil {
		return nil, MergeIsEndOutput{}, err
	}
	if args.Coalition != coalition.Ego && args.Coalition != coalition.Opponent {
		return nil, MergeIsEndOutput{}, fmt.Errorf("coalition must be %d or %d, got %d",
			coalition.Ego, coalition.Opponent, args.Coalition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ended := s.world.IsEnd(args.Coalition)
	c, _ := s.reg.Get(args.Coalition)
	return nil, MergeIsEndOutput{
		Coalition:   args.Coalition,
		Ended:       ended,
		TimeToClear: c.TimeToClear,
	}, nil
}

func (s *Server) handleMergeIsTerminal(ctx context.Context, req *sdk.CallToolRequest, args MergeIsTerminalInput) (_ *sdk.CallToolResult, _ MergeIsTerminalOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("merge_is_terminal", start, retErr, nil)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "merge_is_terminal"); err != nil {
		return nil, MergeIsTerminalOutput{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	terminal := s.world.IsTerminal()
	if terminal {
		s.logger.Debug("episode terminal", "timestep", s.world.Timestep(), "coalitions", s.reg.String())
	}
	return nil, MergeIsTerminalOutput{
		Terminal:   terminal,
		Coalitions: s.coalitionStatus(),
	}, nil
}

func (s *Server) handleMergeStatus(ctx context.Context, req *sdk.CallToolRequest, args MergeStatusInput) (_ *sdk.CallToolResult, _ MergeStatusOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("merge_status", start, retErr, nil)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "merge_status"); err != nil {
		return nil, MergeStatusOutput{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.world.Status()
	return nil, MergeStatusOutput{
		Left:           st.Left,
		Right:          st.Right,
		Observation:    st.Observation,
		Timestep:       st.Timestep,
		Terminal:       st.Terminal,
		SideEmpty:      st.SideEmpty.String(),
		LastPopped:     []int{st.LastPopped[0], st.LastPopped[1]},
		Steps:          s.steps,
		Returns:        []float64{s.returns[0], s.returns[1]},
		StateSpaceSize: s.world.Space().Size(),
		Coalitions:     s.coalitionStatus(),
	}, nil
}

func (s *Server) handleMergeRender(ctx context.Context, req *sdk.CallToolRequest, args MergeRenderInput) (_ *sdk.CallToolResult, _ MergeRenderOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("merge_render", start, retErr, nil)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "merge_render"); err != nil {
		return nil, MergeRenderOutput{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return nil, MergeRenderOutput{Render: s.world.Render()}, nil
}

// coalitionStatus must be called with s.mu held.
func (s *Server) coalitionStatus() []CoalitionStatus {
	all := s.reg.All()
	out := make([]CoalitionStatus, 0, len(all))
	for _, c := range all {
		out = append(out, CoalitionStatus{ID: c.ID, Vehicles: c.Vehicles, TimeToClear: c.TimeToClear})
	}
	return out
}
