// Package metrics exports merge simulation counters and histograms to
// Prometheus.
//
// Each Recorder owns its registry so tests and concurrent servers do not
// share global state. A nil *Recorder is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nvandessel/mergeq/internal/coalition"
	"github.com/nvandessel/mergeq/internal/constants"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Episode endings, used as the "ending" label.
const (
	EndingTerminal  = "terminal"
	EndingDrained   = "drained"
	EndingTruncated = "truncated"
)

// knownOutcomes bounds the "outcome" label.
var knownOutcomes = map[string]bool{
	"no_progress":            true,
	"simultaneous_dual_exit": true,
	"credited_clearance":     true,
	"coalition_vanished":     true,
}

func outcomeLabel(s string) string {
	if knownOutcomes[s] {
		return s
	}
	return "unknown"
}

var controllers = [2]string{"ego", "opponent"}

// Recorder holds the merge metrics.
type Recorder struct {
	reg *prometheus.Registry

	stepsTotal     *prometheus.CounterVec
	episodesTotal  *prometheus.CounterVec
	resetsTotal    *prometheus.CounterVec
	stepReward     *prometheus.HistogramVec
	episodeReturn  *prometheus.HistogramVec
	episodeSteps   prometheus.Histogram
	clearTimesteps *prometheus.HistogramVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		stepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "steps_total",
				Help:      "Total world steps by outcome kind",
			},
			[]string{"outcome"},
		),
		episodesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "episodes_total",
				Help:      "Total finished episodes by how they ended",
			},
			[]string{"ending"},
		),
		resetsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "resets_total",
				Help:      "Total world resets by mode",
			},
			[]string{"mode"},
		),
		stepReward: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "step_reward",
				Help:      "Per-step reward by controller",
				Buckets:   []float64{-3, -2, -1.5, -1, -0.5, 0, 0.5, 1},
			},
			[]string{"controller"},
		),
		episodeReturn: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "episode_return",
				Help:      "Undiscounted episode return by controller",
				Buckets:   prometheus.LinearBuckets(-50, 5, 12),
			},
			[]string{"controller"},
		),
		episodeSteps: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "episode_steps",
				Help:      "Steps per episode",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
			},
		),
		clearTimesteps: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "clear_timesteps",
				Help:      "Time-to-clear by coalition and how it was obtained",
				Buckets:   prometheus.LinearBuckets(0, 2, 12),
			},
			[]string{"coalition", "kind"},
		),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObserveStep records one step's outcome kind and reward.
func (r *Recorder) ObserveStep(outcome string, reward [2]float64) {
	if r == nil {
		return
	}
	r.stepsTotal.WithLabelValues(outcomeLabel(outcome)).Inc()
	for i, name := range controllers {
		r.stepReward.WithLabelValues(name).Observe(reward[i])
	}
}

// ObserveEpisode records a finished episode.
func (r *Recorder) ObserveEpisode(ending string, returns [2]float64, steps int) {
	if r == nil {
		return
	}
	r.episodesTotal.WithLabelValues(ending).Inc()
	for i, name := range controllers {
		r.episodeReturn.WithLabelValues(name).Observe(returns[i])
	}
	r.episodeSteps.Observe(float64(steps))
}

// ObserveReset counts a reset. Mode is "restore", "reshuffle" or "training".
func (r *Recorder) ObserveReset(mode string) {
	if r == nil {
		return
	}
	r.resetsTotal.WithLabelValues(mode).Inc()
}

// ResetMode names the reset flags for ObserveReset.
func ResetMode(randomize, training bool) string {
	switch {
	case randomize && training:
		return "training"
	case randomize:
		return "reshuffle"
	}
	return "restore"
}

// OnClear records observed and estimated clear times. Reset events are
// ignored.
func (r *Recorder) OnClear(ev coalition.ClearEvent) {
	if r == nil || ev.Kind == coalition.ClearReset {
		return
	}
	r.clearTimesteps.WithLabelValues(strconv.Itoa(ev.Coalition), string(ev.Kind)).Observe(float64(ev.Timestep))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve binds addr and exposes /metrics on it until ctx is cancelled. It
// returns the bound address and a channel that receives the server's exit
// error once it stops.
func (r *Recorder) Serve(ctx context.Context, addr string) (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return ln.Addr(), done, nil
}
