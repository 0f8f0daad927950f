package policy

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/mergeq/internal/merge"
)

func TestParse(t *testing.T) {
	tests := []struct {
		spec     string
		wantName string
		want     merge.Action
	}{
		{"greedy", "greedy", merge.ActionBoth},
		{"yield", "yield", merge.ActionHold},
		{"constant:1", "constant:1", merge.ActionRight},
		{"constant:2", "constant:2", merge.ActionLeft},
		{" Greedy ", "greedy", merge.ActionBoth},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			c, err := Parse(tt.spec, nil)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.spec, err)
			}
			if c.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", c.Name(), tt.wantName)
			}
			for obs := 0; obs < 5; obs++ {
				if got := c.Act(obs); got != tt.want {
					t.Errorf("Act(%d) = %d, want %d", obs, got, tt.want)
				}
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr error
	}{
		{"unknown name", "aggressive", ErrUnknownPolicy},
		{"constant without number", "constant:x", ErrUnknownPolicy},
		{"constant out of range", "constant:4", merge.ErrInvalidAction},
		{"negative constant", "constant:-1", merge.ErrInvalidAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.spec, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestParse_RandomNeedsSource(t *testing.T) {
	if _, err := Parse("random", nil); err == nil {
		t.Error("expected error for random policy without a source")
	}
}

func TestRandom_CoversActionSet(t *testing.T) {
	c, err := Parse("random", rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("Parse(random) error: %v", err)
	}
	if c.Name() != "random" {
		t.Errorf("Name() = %q, want random", c.Name())
	}

	seen := make(map[merge.Action]int)
	for i := 0; i < 400; i++ {
		a := c.Act(0)
		if _, err := a.Decode(); err != nil {
			t.Fatalf("Act returned invalid action %d", a)
		}
		seen[a]++
	}
	if len(seen) != merge.NumActions {
		t.Errorf("saw %d distinct actions in 400 draws, want %d", len(seen), merge.NumActions)
	}
}
