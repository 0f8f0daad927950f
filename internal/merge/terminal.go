package merge

import "github.com/nvandessel/mergeq/internal/coalition"

// EstimateClearTime estimates how many timesteps it takes to drain lanes of
// the given lengths. Contested draining moves 3 vehicles every 2 timesteps;
// the remainder of each lane moves one per timestep.
func EstimateClearTime(leftLen, rightLen int) int {
	switch {
	case leftLen > 0 && rightLen > 0:
		r1 := leftLen % 3
		r2 := rightLen % 3
		return (leftLen-r1+rightLen-r2)/3*2 + r1 + r2
	case leftLen > 0:
		return leftLen/3*2 + leftLen%3
	case rightLen > 0:
		return rightLen/3*2 + rightLen%3
	}
	return 0
}

// clearance is the per-coalition credit latch. It only moves forward.
type clearance int

const (
	active clearance = iota
	cleared
	credited
)

// IsEnd reports whether coalition c has just left both lanes. It returns true
// once per episode per coalition, emitting an observed clear event at the
// current timestep.
func (w *World) IsEnd(c int) bool {
	if c != coalition.Ego && c != coalition.Opponent {
		return false
	}
	if w.left.Contains(c) || w.right.Contains(c) || w.latch[c-1] != active {
		return false
	}
	w.latch[c-1] = cleared
	w.emit(coalition.ClearEvent{Coalition: c, Timestep: w.timestep, Kind: coalition.ClearObserved})
	return true
}

// IsTerminal reports whether the ego or the opponent coalition is gone from
// both lanes. The first time it returns true it stamps the vanished
// coalition's time-to-clear and, if the other coalition has none yet,
// estimates it from the remaining queues. It stays true until Reset.
func (w *World) IsTerminal() bool {
	if w.terminal {
		return true
	}

	gone := w.vanished()
	if gone == 0 {
		return false
	}
	w.terminal = true

	ts := w.timestep
	// The clock counted a contested step for a vehicle that in fact left on
	// the left lane ahead of the right one.
	if w.lastPopped[0] == gone && w.lastPopped[1] != gone && w.sideEmpty == SideNone {
		ts--
	}
	w.emit(coalition.ClearEvent{Coalition: gone, Timestep: ts, Kind: coalition.ClearObserved})

	other := coalition.Ego + coalition.Opponent - gone
	if !w.recorded[other-1] {
		remaining := w.left.Count(other) + w.right.Count(other)
		est := w.timestep + 1
		if remaining != 1 {
			est = w.timestep + EstimateClearTime(w.left.Len(), w.right.Len())
		}
		w.emit(coalition.ClearEvent{Coalition: other, Timestep: est, Kind: coalition.ClearEstimated})
	}
	return true
}

// vanished returns the first of ego, opponent that has no queued vehicles,
// or 0 if both are present.
func (w *World) vanished() int {
	for _, c := range []int{coalition.Ego, coalition.Opponent} {
		if !w.left.Contains(c) && !w.right.Contains(c) {
			return c
		}
	}
	return 0
}
