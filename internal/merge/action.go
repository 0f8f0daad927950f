package merge

import (
	"fmt"

	"github.com/nvandessel/mergeq/internal/coalition"
)

// Action is a controller's raw action, 0..3.
//
//	0: (stop, stop)  1: (stop, go)  2: (go, stop)  3: (go, go)
type Action int

// Named raw actions.
const (
	ActionHold Action = iota
	ActionRight
	ActionLeft
	ActionBoth
)

// NumActions is the size of a controller's action set.
const NumActions = 4

// Decision is a per-lane go/no-go pair.
type Decision struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// String renders the decision as "(l,r)" with 1 for go.
func (d Decision) String() string {
	return fmt.Sprintf("(%d,%d)", b2i(d.Left), b2i(d.Right))
}

// Decode maps a raw action to its lane decisions.
func (a Action) Decode() (Decision, error) {
	switch a {
	case ActionHold:
		return Decision{}, nil
	case ActionRight:
		return Decision{Right: true}, nil
	case ActionLeft:
		return Decision{Left: true}, nil
	case ActionBoth:
		return Decision{Left: true, Right: true}, nil
	}
	return Decision{}, fmt.Errorf("%w: %d", ErrInvalidAction, int(a))
}

// JointAction carries one raw action per controller.
type JointAction struct {
	Ego      Action `json:"ego"`
	Opponent Action `json:"opponent"`
}

// Resolution is the effective per-lane decision after ownership of the lane
// heads has been taken into account.
type Resolution struct {
	Effective Decision
	SideEmpty Side
	// UpNext holds the head coalition of each lane (0 for an empty lane).
	// A lane granted passage alone only releases vehicles of this coalition.
	UpNext [2]int
}

// Resolve decides who controls each lane. When both lanes are occupied the
// left lane follows the controller owning the left head and the right lane
// the controller owning the right head; heads of the same coalition hand
// that controller both lanes. An empty lane forces passage on the other.
func Resolve(leftHead, rightHead int, ja JointAction) (Resolution, error) {
	switch {
	case leftHead == 0 && rightHead == 0:
		return Resolution{}, ErrBothQueuesEmpty
	case leftHead == 0:
		return Resolution{
			Effective: Decision{Right: true},
			SideEmpty: SideLeft,
			UpNext:    [2]int{0, rightHead},
		}, nil
	case rightHead == 0:
		return Resolution{
			Effective: Decision{Left: true},
			SideEmpty: SideRight,
			UpNext:    [2]int{leftHead, 0},
		}, nil
	}

	ego, err := ja.Ego.Decode()
	if err != nil {
		return Resolution{}, fmt.Errorf("ego: %w", err)
	}
	opp, err := ja.Opponent.Decode()
	if err != nil {
		return Resolution{}, fmt.Errorf("opponent: %w", err)
	}

	owner := func(head int) (Decision, error) {
		switch head {
		case coalition.Ego:
			return ego, nil
		case coalition.Opponent:
			return opp, nil
		}
		return Decision{}, fmt.Errorf("%w: %d", ErrUnknownCoalition, head)
	}
	leftOwner, err := owner(leftHead)
	if err != nil {
		return Resolution{}, err
	}
	rightOwner, err := owner(rightHead)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Effective: Decision{Left: leftOwner.Left, Right: rightOwner.Right},
		SideEmpty: SideNone,
		UpNext:    [2]int{leftHead, rightHead},
	}, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
