package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/mergeq/internal/coalition"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStep(t *testing.T) {
	r := New()
	r.ObserveStep("no_progress", [2]float64{-1, -1})
	r.ObserveStep("no_progress", [2]float64{-1, -1})
	r.ObserveStep("credited_clearance", [2]float64{-2, 1})
	r.ObserveStep("made_up", [2]float64{0, 0})

	tests := []struct {
		outcome string
		want    float64
	}{
		{"no_progress", 2},
		{"credited_clearance", 1},
		{"unknown", 1},
		{"simultaneous_dual_exit", 0},
	}
	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			got := testutil.ToFloat64(r.stepsTotal.WithLabelValues(tt.outcome))
			if got != tt.want {
				t.Errorf("steps_total{outcome=%q} = %v, want %v", tt.outcome, got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(r.stepReward); n != 2 {
		t.Errorf("step_reward has %d series, want 2", n)
	}
}

func TestObserveEpisodeAndReset(t *testing.T) {
	r := New()
	r.ObserveEpisode(EndingTerminal, [2]float64{-4, -6}, 5)
	r.ObserveEpisode(EndingTruncated, [2]float64{-200, -200}, 100)
	r.ObserveReset(ResetMode(true, true))
	r.ObserveReset(ResetMode(false, true))

	if got := testutil.ToFloat64(r.episodesTotal.WithLabelValues(EndingTerminal)); got != 1 {
		t.Errorf("episodes_total{terminal} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.episodesTotal.WithLabelValues(EndingTruncated)); got != 1 {
		t.Errorf("episodes_total{truncated} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.resetsTotal.WithLabelValues("training")); got != 1 {
		t.Errorf("resets_total{training} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.resetsTotal.WithLabelValues("restore")); got != 1 {
		t.Errorf("resets_total{restore} = %v, want 1", got)
	}
}

func TestResetMode(t *testing.T) {
	tests := []struct {
		randomize, training bool
		want                string
	}{
		{false, false, "restore"},
		{false, true, "restore"},
		{true, false, "reshuffle"},
		{true, true, "training"},
	}
	for _, tt := range tests {
		if got := ResetMode(tt.randomize, tt.training); got != tt.want {
			t.Errorf("ResetMode(%v, %v) = %q, want %q", tt.randomize, tt.training, got, tt.want)
		}
	}
}

func TestOnClear_SkipsResets(t *testing.T) {
	r := New()
	r.OnClear(coalition.ClearEvent{Coalition: 1, Timestep: 4, Kind: coalition.ClearObserved})
	r.OnClear(coalition.ClearEvent{Coalition: 2, Timestep: 9, Kind: coalition.ClearEstimated})
	r.OnClear(coalition.ClearEvent{Coalition: 1, Kind: coalition.ClearReset})

	if n := testutil.CollectAndCount(r.clearTimesteps); n != 2 {
		t.Errorf("clear_timesteps has %d series, want 2", n)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.ObserveStep("no_progress", [2]float64{-1, -1})
	r.ObserveEpisode(EndingDrained, [2]float64{}, 1)
	r.ObserveReset("restore")
	r.OnClear(coalition.ClearEvent{Coalition: 1, Timestep: 1, Kind: coalition.ClearObserved})
	if r.Registry() != nil {
		t.Error("nil recorder should have a nil registry")
	}
}

func TestHandler_Exposition(t *testing.T) {
	r := New()
	r.ObserveStep("coalition_vanished", [2]float64{0, -1})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	want := `mergeq_steps_total{outcome="coalition_vanished"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("exposition missing %q:\n%s", want, body)
	}
}

func TestServe(t *testing.T) {
	r := New()
	r.ObserveEpisode(EndingDrained, [2]float64{1, 1}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	addr, done, err := r.Serve(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("GET error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `mergeq_episodes_total{ending="drained"} 1`) {
		t.Errorf("unexpected exposition:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("server exit error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestServe_BadAddress(t *testing.T) {
	r := New()
	if _, _, err := r.Serve(context.Background(), "not-an-address"); err == nil {
		t.Error("expected error for bad listen address")
	}
}
