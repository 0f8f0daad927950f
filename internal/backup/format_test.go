package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/mergeq/internal/store"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Runs: []RunRecord{
			{
				Run: store.Run{ID: "run-1", Seed: 1 << 63, EgoVehicles: 1, OpponentVehicles: 1},
				Episodes: []store.Episode{
					{ID: "ep-1", RunID: "run-1", Index: 0, Steps: 1, EgoReturn: -2, OpponentReturn: 1},
				},
			},
		},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.mqb")
	if err := Write(path, testSnapshot()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got.Runs) != 1 || got.Runs[0].Seed != 1<<63 {
		t.Fatalf("runs = %+v, want the one run with its seed", got.Runs)
	}
	ep := got.Runs[0].Episodes[0]
	if ep.EgoReturn != -2 || ep.OpponentReturn != 1 {
		t.Errorf("episode returns = %v/%v, want -2/1", ep.EgoReturn, ep.OpponentReturn)
	}
}

func TestReadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.mqb")
	if err := Write(path, testSnapshot()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if h.Version != FormatVersion {
		t.Errorf("Version = %d, want %d", h.Version, FormatVersion)
	}
	if h.RunCount != 1 || h.EpisodeCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", h.RunCount, h.EpisodeCount)
	}
	if !strings.HasPrefix(h.Checksum, "sha256:") {
		t.Errorf("Checksum = %q, want sha256 prefix", h.Checksum)
	}
}

func TestVerifyChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.mqb")
	if err := Write(path, testSnapshot()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := VerifyChecksum(path); err != nil {
		t.Fatalf("VerifyChecksum() on fresh file error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	if err := VerifyChecksum(path); err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("VerifyChecksum() on tampered file = %v, want checksum mismatch", err)
	}
	if _, err := Read(path); err == nil {
		t.Error("Read() should refuse a tampered file")
	}
}

func TestReadHeader_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"not json", "hello\n"},
		{"wrong version", `{"version":7}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.mqb")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadHeader(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}
