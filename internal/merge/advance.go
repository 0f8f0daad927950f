package merge

// PlatoonCap is the most vehicles one lane may release in a single step.
const PlatoonCap = 3

// Advance reports what left the lanes during one step.
type Advance struct {
	Popped int
	// LastPopped holds the coalition of the last vehicle each lane released,
	// 0 if it released none.
	LastPopped [2]int
	// Exited lists released vehicles in the order they left.
	Exited []int
}

// advance applies a resolution to the lanes. Both lanes going releases one
// vehicle per occupied lane. A lane going alone releases a platoon of up to
// PlatoonCap vehicles, stopping at the first head that is not the coalition
// recorded in res.UpNext for that lane.
func advance(left, right *Lane, res Resolution) Advance {
	var out Advance

	release := func(l *Lane, side int) {
		out.LastPopped[side] = l.pop()
		out.Exited = append(out.Exited, out.LastPopped[side])
		out.Popped++
	}
	platoon := func(l *Lane, side int) {
		for i := 0; i < PlatoonCap && !l.Empty(); i++ {
			if l.Head() != res.UpNext[side] {
				break
			}
			release(l, side)
		}
	}

	switch d := res.Effective; {
	case d.Left && d.Right:
		if !left.Empty() {
			release(left, 0)
		}
		if !right.Empty() {
			release(right, 1)
		}
	case d.Left:
		platoon(left, 0)
	case d.Right:
		platoon(right, 1)
	}
	return out
}
