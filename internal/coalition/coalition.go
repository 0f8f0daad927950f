// Package coalition holds the coalition registry that a merge world is built
// from and the clear events the world reports back to it.
package coalition

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidRegistry is returned when a registry cannot drive a merge world.
var ErrInvalidRegistry = errors.New("invalid coalition registry")

// Ego and Opponent are the coalitions owned by controller 0 and controller 1.
const (
	Ego      = 1
	Opponent = 2
)

// Coalition describes one competing group of vehicles.
type Coalition struct {
	// ID is the coalition number, 1..N.
	ID int `json:"id" yaml:"id"`

	// Vehicles is the number of vehicles the coalition queues per episode.
	Vehicles int `json:"vehicles" yaml:"vehicles"`

	// TimeToClear is the timestep at which the coalition's last vehicle left
	// the merge. Zero means not yet recorded.
	TimeToClear int `json:"time_to_clear" yaml:"time_to_clear"`
}

// ClearKind says how a clear event's timestep was obtained.
type ClearKind string

const (
	// ClearObserved is stamped when the coalition was seen leaving the lanes.
	ClearObserved ClearKind = "observed"
	// ClearEstimated is stamped from the remaining-queue estimate at terminal time.
	ClearEstimated ClearKind = "estimated"
	// ClearReset zeroes the time-to-clear at episode reset.
	ClearReset ClearKind = "reset"
)

// ClearEvent reports a time-to-clear for a coalition.
type ClearEvent struct {
	Coalition int       `json:"coalition"`
	Timestep  int       `json:"timestep"`
	Kind      ClearKind `json:"kind"`
}

// ClearListener receives clear events from a merge world.
type ClearListener interface {
	OnClear(ev ClearEvent)
}

// ClearFunc adapts a function to ClearListener.
type ClearFunc func(ClearEvent)

// OnClear calls f(ev).
func (f ClearFunc) OnClear(ev ClearEvent) { f(ev) }

// Listeners fans an event out to every non-nil listener, in order.
type Listeners []ClearListener

// OnClear forwards ev.
func (ls Listeners) OnClear(ev ClearEvent) {
	for _, l := range ls {
		if l != nil {
			l.OnClear(ev)
		}
	}
}

// Registry is the caller-owned list of coalitions, ordered by ID.
type Registry struct {
	coalitions []Coalition
}

// NewRegistry builds a registry from vehicle counts. Coalition i+1 gets
// counts[i] vehicles.
func NewRegistry(counts ...int) (*Registry, error) {
	cs := make([]Coalition, len(counts))
	for i, n := range counts {
		cs[i] = Coalition{ID: i + 1, Vehicles: n}
	}
	return FromCoalitions(cs)
}

// FromCoalitions validates and copies cs into a registry.
func FromCoalitions(cs []Coalition) (*Registry, error) {
	sorted := make([]Coalition, len(cs))
	copy(sorted, cs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r := &Registry{coalitions: sorted}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that the registry describes exactly the ego and opponent
// coalitions, numbered 1 and 2, each with at least one vehicle.
func (r *Registry) Validate() error {
	if len(r.coalitions) != 2 {
		return fmt.Errorf("%w: need exactly 2 coalitions, got %d", ErrInvalidRegistry, len(r.coalitions))
	}
	for i, c := range r.coalitions {
		if c.ID != i+1 {
			return fmt.Errorf("%w: coalition ids must be contiguous from 1, got %d at position %d", ErrInvalidRegistry, c.ID, i)
		}
		if c.Vehicles < 1 {
			return fmt.Errorf("%w: coalition %d has %d vehicles", ErrInvalidRegistry, c.ID, c.Vehicles)
		}
	}
	return nil
}

// Len returns the number of coalitions.
func (r *Registry) Len() int { return len(r.coalitions) }

// Get returns the coalition with the given id.
func (r *Registry) Get(id int) (Coalition, bool) {
	if id < 1 || id > len(r.coalitions) {
		return Coalition{}, false
	}
	return r.coalitions[id-1], true
}

// Vehicles returns the vehicle count of coalition id, or 0 if unknown.
func (r *Registry) Vehicles(id int) int {
	c, _ := r.Get(id)
	return c.Vehicles
}

// TotalVehicles is the sum of every coalition's vehicle count.
func (r *Registry) TotalVehicles() int {
	total := 0
	for _, c := range r.coalitions {
		total += c.Vehicles
	}
	return total
}

// All returns a copy of the coalitions, ordered by id.
func (r *Registry) All() []Coalition {
	out := make([]Coalition, len(r.coalitions))
	copy(out, r.coalitions)
	return out
}

// OnClear applies a clear event to the registry's time-to-clear fields.
func (r *Registry) OnClear(ev ClearEvent) {
	if ev.Coalition < 1 || ev.Coalition > len(r.coalitions) {
		return
	}
	if ev.Kind == ClearReset {
		r.coalitions[ev.Coalition-1].TimeToClear = 0
		return
	}
	r.coalitions[ev.Coalition-1].TimeToClear = ev.Timestep
}

// String renders the registry as "1:6 2:6" (id:vehicles).
func (r *Registry) String() string {
	parts := make([]string, len(r.coalitions))
	for i, c := range r.coalitions {
		parts[i] = fmt.Sprintf("%d:%d", c.ID, c.Vehicles)
	}
	return strings.Join(parts, " ")
}
