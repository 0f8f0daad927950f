// Package policy provides simple controllers that pick a raw merge action
// from an observation. They drive `mergeq run` and exercise the world in
// tests; learning controllers live outside this module and talk to the world
// through the MCP tools.
package policy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/nvandessel/mergeq/internal/merge"
)

// ErrUnknownPolicy is returned by Parse for names it does not recognise.
var ErrUnknownPolicy = errors.New("unknown policy")

// Controller picks an action for one coalition.
type Controller interface {
	// Name returns the string the controller was parsed from.
	Name() string

	// Act returns the raw action for the given observation.
	Act(obs int) merge.Action
}

// Constant always plays the same action.
type Constant struct {
	Action merge.Action
	label  string
}

func (c Constant) Name() string {
	if c.label != "" {
		return c.label
	}
	return "constant:" + strconv.Itoa(int(c.Action))
}

func (c Constant) Act(int) merge.Action { return c.Action }

// Random plays a uniformly random action.
type Random struct {
	rng *rand.Rand
}

// NewRandom returns a Random controller drawing from rng.
func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Act(int) merge.Action {
	return merge.Action(r.rng.IntN(merge.NumActions))
}

// Names lists the controller specs Parse accepts, for help text.
func Names() []string {
	return []string{"random", "greedy", "yield", "constant:<0-3>"}
}

// Parse builds a controller from its spec:
//
//	random        uniform over the four actions
//	greedy        always go on both lanes (3)
//	yield         always hold (0)
//	constant:<a>  always play action a
func Parse(spec string, rng *rand.Rand) (Controller, error) {
	spec = strings.TrimSpace(strings.ToLower(spec))
	switch spec {
	case "random":
		if rng == nil {
			return nil, fmt.Errorf("random policy needs a random source")
		}
		return NewRandom(rng), nil
	case "greedy":
		return Constant{Action: merge.ActionBoth, label: "greedy"}, nil
	case "yield":
		return Constant{Action: merge.ActionHold, label: "yield"}, nil
	}

	if raw, ok := strings.CutPrefix(spec, "constant:"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrUnknownPolicy, spec, err)
		}
		a := merge.Action(n)
		if _, err := a.Decode(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", spec, err)
		}
		return Constant{Action: a}, nil
	}

	return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownPolicy, spec, strings.Join(Names(), ", "))
}
