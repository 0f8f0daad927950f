// Package statespace enumerates the observation space of a two-lane merge.
//
// An observation is the contents of both lanes, each padded with zeros to its
// original length and concatenated (left first). Every cell holds a value in
// 0..N where 0 is an empty slot and 1..N are coalition ids. The space maps
// each such tuple to a dense index in [0, (N+1)^width) in lexicographic order,
// cell 0 being the most significant digit.
//
// The mapping is positional (mixed radix with a single base), so a Space holds
// no tables and is immutable after New. It may be shared freely.
package statespace

import (
	"errors"
	"fmt"
	"math"
)

// ErrTooLarge is returned when the space would not fit the index type or
// exceeds the configured maximum size.
var ErrTooLarge = errors.New("state space too large")

// ErrOutOfRange is returned for indices or cells outside the space.
var ErrOutOfRange = errors.New("out of state space range")

// Space is the observation space for fixed lane lengths and coalition count.
type Space struct {
	left, right int
	radix       int
	size        int
}

// New builds the space for lanes of the given original lengths holding
// coalitions 1..coalitions. maxSize bounds the number of states; zero means
// only overflow of int is rejected.
func New(left, right, coalitions, maxSize int) (*Space, error) {
	if left < 0 || right < 0 {
		return nil, fmt.Errorf("lane lengths must be non-negative, got %d and %d", left, right)
	}
	if coalitions < 1 {
		return nil, fmt.Errorf("need at least one coalition, got %d", coalitions)
	}

	radix := coalitions + 1
	size := 1
	for i := 0; i < left+right; i++ {
		if size > math.MaxInt/radix {
			return nil, fmt.Errorf("%w: %d^%d overflows", ErrTooLarge, radix, left+right)
		}
		size *= radix
		if maxSize > 0 && size > maxSize {
			return nil, fmt.Errorf("%w: %d^%d exceeds limit %d", ErrTooLarge, radix, left+right, maxSize)
		}
	}

	return &Space{left: left, right: right, radix: radix, size: size}, nil
}

// Size is the number of states, (N+1)^(left+right).
func (s *Space) Size() int { return s.size }

// Width is the number of cells in an observation tuple.
func (s *Space) Width() int { return s.left + s.right }

// LaneLengths returns the original left and right lane lengths.
func (s *Space) LaneLengths() (left, right int) { return s.left, s.right }

// Coalitions returns N, the highest coalition id a cell may hold.
func (s *Space) Coalitions() int { return s.radix - 1 }

// Encode maps a full observation tuple to its index.
func (s *Space) Encode(cells []int) (int, error) {
	if len(cells) != s.Width() {
		return 0, fmt.Errorf("%w: tuple has %d cells, want %d", ErrOutOfRange, len(cells), s.Width())
	}
	idx := 0
	for i, c := range cells {
		if c < 0 || c >= s.radix {
			return 0, fmt.Errorf("%w: cell %d holds %d, want 0..%d", ErrOutOfRange, i, c, s.radix-1)
		}
		idx = idx*s.radix + c
	}
	return idx, nil
}

// EncodeLanes pads the remaining lane contents with empty cells up to the
// original lengths and encodes the result.
func (s *Space) EncodeLanes(left, right []int) (int, error) {
	if len(left) > s.left || len(right) > s.right {
		return 0, fmt.Errorf("%w: lanes of %d and %d exceed original lengths %d and %d",
			ErrOutOfRange, len(left), len(right), s.left, s.right)
	}
	cells := make([]int, s.Width())
	copy(cells, left)
	copy(cells[s.left:], right)
	return s.Encode(cells)
}

// Decode maps an index back to its observation tuple.
func (s *Space) Decode(idx int) ([]int, error) {
	if idx < 0 || idx >= s.size {
		return nil, fmt.Errorf("%w: index %d, size %d", ErrOutOfRange, idx, s.size)
	}
	cells := make([]int, s.Width())
	for i := len(cells) - 1; i >= 0; i-- {
		cells[i] = idx % s.radix
		idx /= s.radix
	}
	return cells, nil
}

// Split divides a decoded tuple into its left and right lane cells.
func (s *Space) Split(cells []int) (left, right []int) {
	return cells[:s.left], cells[s.left:]
}
