package merge

import (
	"fmt"

	"github.com/nvandessel/mergeq/internal/coalition"
)

// OutcomeKind classifies a step for reward purposes.
type OutcomeKind int

const (
	// NoProgress: both coalitions still have vehicles queued.
	NoProgress OutcomeKind = iota
	// SimultaneousDualExit: a contested step drained both coalitions at once.
	SimultaneousDualExit
	// CreditedClearance: a coalition previously reported by IsEnd is credited.
	CreditedClearance
	// CoalitionVanished: a coalition has no vehicles left.
	CoalitionVanished
)

// String returns the outcome kind's name.
func (k OutcomeKind) String() string {
	switch k {
	case SimultaneousDualExit:
		return "simultaneous_dual_exit"
	case CreditedClearance:
		return "credited_clearance"
	case CoalitionVanished:
		return "coalition_vanished"
	default:
		return "no_progress"
	}
}

// Outcome is the tagged result of a step.
type Outcome struct {
	Kind OutcomeKind
	// Pair is the last-popped pair for SimultaneousDualExit.
	Pair [2]int
	// Coalition is set for CreditedClearance and CoalitionVanished.
	Coalition int
}

// String renders the outcome with its payload.
func (o Outcome) String() string {
	switch o.Kind {
	case SimultaneousDualExit:
		return fmt.Sprintf("%s%v", o.Kind, o.Pair)
	case CreditedClearance, CoalitionVanished:
		return fmt.Sprintf("%s{%d}", o.Kind, o.Coalition)
	default:
		return o.Kind.String()
	}
}

// Reward is the per-controller reward, ego first.
type Reward [2]float64

// dualExitRewards maps the last-popped (left, right) pair of a simultaneous
// exit to its reward. Mixed exits favour the coalition that used the right lane.
var dualExitRewards = map[[2]int]Reward{
	{coalition.Opponent, coalition.Ego}:      {1, -2},
	{coalition.Ego, coalition.Opponent}:      {-2, 1},
	{coalition.Ego, coalition.Ego}:           {1, 0},
	{coalition.Opponent, coalition.Opponent}: {0, 1},
}

// RewardFor maps an outcome to its base reward, before any fairness penalty.
func RewardFor(o Outcome) Reward {
	switch o.Kind {
	case SimultaneousDualExit:
		return dualExitRewards[o.Pair]
	case CreditedClearance:
		if o.Coalition == coalition.Opponent {
			return Reward{-2, 1}
		}
		return Reward{1, -2}
	case CoalitionVanished:
		// Same vector whichever coalition vanished.
		return Reward{0, -1}
	default:
		return Reward{-1, -1}
	}
}

// fairnessShare is the divisor applied to the other coalition's vehicle count.
const fairnessShare = 12.0

// idleDivisor replaces the exited count when nobody moved.
const idleDivisor = 2.0 / 3.0

// FairnessPenalty computes the penalty subtracted from each controller when
// fairness shaping is on. A controller is penalised when only its own
// vehicles exited, in proportion to the other coalition's size, and when
// nothing exited while one of its vehicles held a lane head.
func FairnessPenalty(exited []int, leftHead, rightHead, egoVehicles, oppVehicles int) Reward {
	var p Reward
	egoShare := float64(oppVehicles) / fairnessShare
	oppShare := float64(egoVehicles) / fairnessShare

	if len(exited) == 0 {
		if leftHead == coalition.Ego || rightHead == coalition.Ego {
			p[0] = egoShare / idleDivisor
		}
		if leftHead == coalition.Opponent || rightHead == coalition.Opponent {
			p[1] = oppShare / idleDivisor
		}
		return p
	}

	switch {
	case allTags(exited, coalition.Ego):
		p[0] = egoShare / float64(len(exited))
	case allTags(exited, coalition.Opponent):
		p[1] = oppShare / float64(len(exited))
	}
	return p
}

func allTags(tags []int, c int) bool {
	for _, v := range tags {
		if v != c {
			return false
		}
	}
	return true
}
