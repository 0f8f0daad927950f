package merge

// Side names an approach lane.
type Side int

const (
	// SideNone means neither lane, used when both lanes were contested.
	SideNone Side = iota
	SideLeft
	SideRight
)

// String returns "none", "left" or "right".
func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "none"
	}
}

// MarshalText encodes the side by name.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Lane is an approach queue of coalition tags, head first. Vehicles only
// leave from the head.
type Lane struct {
	cells []int
}

func newLane(tags []int) Lane {
	cells := make([]int, len(tags))
	copy(cells, tags)
	return Lane{cells: cells}
}

// Len is the number of vehicles still queued.
func (l *Lane) Len() int { return len(l.cells) }

// Empty reports whether the lane has no vehicles.
func (l *Lane) Empty() bool { return len(l.cells) == 0 }

// Head returns the coalition of the next vehicle, or 0 when empty.
func (l *Lane) Head() int {
	if len(l.cells) == 0 {
		return 0
	}
	return l.cells[0]
}

// pop removes and returns the head. The lane must be non-empty.
func (l *Lane) pop() int {
	head := l.cells[0]
	l.cells = l.cells[1:]
	return head
}

// Count returns how many queued vehicles belong to coalition c.
func (l *Lane) Count(c int) int {
	n := 0
	for _, v := range l.cells {
		if v == c {
			n++
		}
	}
	return n
}

// Contains reports whether any queued vehicle belongs to coalition c.
func (l *Lane) Contains(c int) bool {
	for _, v := range l.cells {
		if v == c {
			return true
		}
	}
	return false
}

// Cells returns a copy of the queued tags, head first.
func (l *Lane) Cells() []int {
	out := make([]int, len(l.cells))
	copy(out, l.cells)
	return out
}
