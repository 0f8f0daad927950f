package constants

// StopRule decides when the episode runner ends an episode.
type StopRule string

const (
	// StopTerminal ends the episode as soon as the terminal check latches.
	StopTerminal StopRule = "terminal"

	// StopDrain keeps stepping after one coalition is gone, reporting
	// clearances through the end check, until both lanes are empty.
	StopDrain StopRule = "drain"
)

// Valid returns true if the rule is a recognized value.
func (s StopRule) Valid() bool {
	switch s {
	case StopTerminal, StopDrain:
		return true
	}
	return false
}

// String returns the string representation of the rule.
func (s StopRule) String() string {
	return string(s)
}
