package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nvandessel/mergeq/internal/coalition"
	"github.com/nvandessel/mergeq/internal/merge"
)

func TestHandleMergeReset(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, out, err := s.handleMergeReset(ctx, nil, MergeResetInput{})
	if err != nil {
		t.Fatalf("handleMergeReset() error = %v", err)
	}
	if len(out.Left) != 1 || len(out.Right) != 1 {
		t.Fatalf("lanes = %v/%v, want one vehicle each", out.Left, out.Right)
	}
	if out.Left[0] == out.Right[0] {
		t.Errorf("both lanes hold coalition %d, want one of each", out.Left[0])
	}
	if out.StateSpaceSize <= 0 {
		t.Errorf("StateSpaceSize = %d, want > 0", out.StateSpaceSize)
	}
	if !strings.Contains(out.Render, "*") {
		t.Errorf("Render = %q, want merge marker", out.Render)
	}
}

func TestHandleMergeStep_DualExit(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, status, err := s.handleMergeStatus(ctx, nil, MergeStatusInput{})
	if err != nil {
		t.Fatalf("handleMergeStatus() error = %v", err)
	}
	leftHead := status.Left[0]

	_, out, err := s.handleMergeStep(ctx, nil, MergeStepInput{Ego: 3, Opponent: 3})
	if err != nil {
		t.Fatalf("handleMergeStep() error = %v", err)
	}
	if out.Popped != 2 {
		t.Errorf("Popped = %d, want 2", out.Popped)
	}
	if out.Timestep != 2 {
		t.Errorf("Timestep = %d, want 2", out.Timestep)
	}
	if !strings.HasPrefix(out.Outcome, "simultaneous_dual_exit") {
		t.Errorf("Outcome = %q, want simultaneous_dual_exit", out.Outcome)
	}

	// Mixed exits favour whoever used the right lane.
	want := []float64{1, -2}
	if leftHead == coalition.Ego {
		want = []float64{-2, 1}
	}
	if out.Reward[0] != want[0] || out.Reward[1] != want[1] {
		t.Errorf("Reward = %v, want %v", out.Reward, want)
	}

	_, status, _ = s.handleMergeStatus(ctx, nil, MergeStatusInput{})
	if status.Steps != 1 {
		t.Errorf("Steps = %d, want 1", status.Steps)
	}
	if status.Returns[0] != want[0] || status.Returns[1] != want[1] {
		t.Errorf("Returns = %v, want %v", status.Returns, want)
	}
	if len(status.Left) != 0 || len(status.Right) != 0 {
		t.Errorf("lanes = %v/%v, want both empty", status.Left, status.Right)
	}
}

func TestHandleMergeStep_InvalidAction(t *testing.T) {
	s := newTestServer(t)

	_, _, err := s.handleMergeStep(context.Background(), nil, MergeStepInput{Ego: 7, Opponent: 0})
	if !errors.Is(err, merge.ErrInvalidAction) {
		t.Fatalf("handleMergeStep() error = %v, want ErrInvalidAction", err)
	}
}

func TestHandleMergeIsTerminal_Latches(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, out, err := s.handleMergeIsTerminal(ctx, nil, MergeIsTerminalInput{})
	if err != nil {
		t.Fatalf("handleMergeIsTerminal() error = %v", err)
	}
	if out.Terminal {
		t.Fatal("fresh episode reported terminal")
	}

	if _, _, err := s.handleMergeStep(ctx, nil, MergeStepInput{Ego: 3, Opponent: 3}); err != nil {
		t.Fatalf("handleMergeStep() error = %v", err)
	}

	_, out, err = s.handleMergeIsTerminal(ctx, nil, MergeIsTerminalInput{})
	if err != nil {
		t.Fatalf("handleMergeIsTerminal() error = %v", err)
	}
	if !out.Terminal {
		t.Fatal("expected terminal after both vehicles left")
	}
	if len(out.Coalitions) != 2 {
		t.Fatalf("Coalitions = %v, want 2 entries", out.Coalitions)
	}
	for _, c := range out.Coalitions {
		if c.TimeToClear <= 0 {
			t.Errorf("coalition %d TimeToClear = %d, want > 0", c.ID, c.TimeToClear)
		}
	}

	_, _, err = s.handleMergeStep(ctx, nil, MergeStepInput{Ego: 0, Opponent: 0})
	if !errors.Is(err, merge.ErrEpisodeTerminal) {
		t.Errorf("step after terminal error = %v, want ErrEpisodeTerminal", err)
	}

	// Reset clears the latch.
	if _, _, err := s.handleMergeReset(ctx, nil, MergeResetInput{}); err != nil {
		t.Fatalf("handleMergeReset() error = %v", err)
	}
	_, status, _ := s.handleMergeStatus(ctx, nil, MergeStatusInput{})
	if status.Terminal || status.Steps != 0 || status.Timestep != 0 {
		t.Errorf("status after reset = %+v, want fresh episode", status)
	}
}

func TestHandleMergeIsEnd(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, out, err := s.handleMergeIsEnd(ctx, nil, MergeIsEndInput{Coalition: coalition.Ego})
	if err != nil {
		t.Fatalf("handleMergeIsEnd() error = %v", err)
	}
	if out.Ended {
		t.Error("ego reported ended before any step")
	}

	if _, _, err := s.handleMergeStep(ctx, nil, MergeStepInput{Ego: 3, Opponent: 3}); err != nil {
		t.Fatalf("handleMergeStep() error = %v", err)
	}

	_, out, _ = s.handleMergeIsEnd(ctx, nil, MergeIsEndInput{Coalition: coalition.Ego})
	if !out.Ended {
		t.Error("ego should report ended once its vehicle left")
	}
	if out.TimeToClear != 2 {
		t.Errorf("TimeToClear = %d, want 2", out.TimeToClear)
	}

	_, out, _ = s.handleMergeIsEnd(ctx, nil, MergeIsEndInput{Coalition: coalition.Ego})
	if out.Ended {
		t.Error("IsEnd should report true only once per episode")
	}
}

func TestHandleMergeIsEnd_InvalidCoalition(t *testing.T) {
	s := newTestServer(t)

	for _, id := range []int{0, 3, -1} {
		if _, _, err := s.handleMergeIsEnd(context.Background(), nil, MergeIsEndInput{Coalition: id}); err == nil {
			t.Errorf("coalition %d: expected error", id)
		}
	}
}

func TestHandleMergeRender(t *testing.T) {
	s := newTestServer(t)

	res, out, err := s.handleMergeRender(context.Background(), nil, MergeRenderInput{})
	if err != nil {
		t.Fatalf("handleMergeRender() error = %v", err)
	}
	if res != nil {
		t.Errorf("CallToolResult = %v, want nil", res)
	}
	if out.Render != "|1|*|2|" && out.Render != "|2|*|1|" {
		t.Errorf("Render = %q, want one vehicle per lane", out.Render)
	}
}

func TestHandlers_AuditEachCall(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()

	s, err := NewServer(&Config{Name: "mergeq-test", Version: "v0.0.0-test", AuditDir: dir})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ctx := context.Background()

	s.handleMergeRender(ctx, nil, MergeRenderInput{})
	s.handleMergeStep(ctx, nil, MergeStepInput{Ego: 9})
	s.Close()

	entries := readAuditLines(t, dir)
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(entries))
	}
	if entries[0].Tool != "merge_render" || entries[0].Status != "success" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Tool != "merge_step" || entries[1].Status != "error" {
		t.Errorf("second entry = %+v", entries[1])
	}
	if entries[1].Params["ego"] != "9" {
		t.Errorf("params[ego] = %q, want 9", entries[1].Params["ego"])
	}
}
