package backup

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	filePrefix = "mergeq-backup-"
	fileSuffix = ".mqb"
)

// Info describes a backup file found on disk.
type Info struct {
	Path      string
	Size      int64
	CreatedAt time.Time
	Runs      int
}

// RetentionPolicy picks the backups to keep from a newest-first list.
type RetentionPolicy interface {
	Apply(backups []Info) (keep []Info)
}

// CountPolicy keeps the MaxCount newest backups.
type CountPolicy struct {
	MaxCount int
}

// Apply implements RetentionPolicy.
func (p *CountPolicy) Apply(backups []Info) []Info {
	return backups[:min(len(backups), max(p.MaxCount, 0))]
}

// AgePolicy keeps backups created within MaxAge of now.
type AgePolicy struct {
	MaxAge time.Duration
}

// Apply implements RetentionPolicy.
func (p *AgePolicy) Apply(backups []Info) []Info {
	cutoff := time.Now().Add(-p.MaxAge)
	return slices.DeleteFunc(slices.Clone(backups), func(b Info) bool {
		return !b.CreatedAt.After(cutoff)
	})
}

// CompositePolicy keeps a backup when any of its policies keeps it.
type CompositePolicy struct {
	Policies []RetentionPolicy
}

// Apply implements RetentionPolicy. Order of the input is preserved.
func (p *CompositePolicy) Apply(backups []Info) []Info {
	kept := keptPaths(backups, p.Policies...)
	return slices.DeleteFunc(slices.Clone(backups), func(b Info) bool {
		return !kept[b.Path]
	})
}

func keptPaths(backups []Info, policies ...RetentionPolicy) map[string]bool {
	kept := make(map[string]bool)
	for _, policy := range policies {
		for _, b := range policy.Apply(backups) {
			kept[b.Path] = true
		}
	}
	return kept
}

// List returns the backups in dir, newest first. A missing directory holds
// no backups. CreatedAt and Runs come from the file header, or the
// modification time when the header cannot be read.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}

		b := Info{Path: filepath.Join(dir, name), Size: fi.Size(), CreatedAt: fi.ModTime()}
		if h, err := ReadHeader(b.Path); err == nil {
			b.CreatedAt, b.Runs = h.CreatedAt, h.RunCount
		}
		backups = append(backups, b)
	}

	slices.SortFunc(backups, func(a, b Info) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(filepath.Base(b.Path), filepath.Base(a.Path))
	})
	return backups, nil
}

// ApplyRetention removes every backup in dir that policy does not keep and
// returns the removed paths.
func ApplyRetention(dir string, policy RetentionPolicy) ([]string, error) {
	backups, err := List(dir)
	if err != nil {
		return nil, err
	}

	kept := keptPaths(backups, policy)
	var deleted []string
	for _, b := range backups {
		if kept[b.Path] {
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(b.Path), err)
		}
		deleted = append(deleted, b.Path)
	}
	return deleted, nil
}

// dayUnits extends time.ParseDuration with day and week suffixes.
var dayUnits = map[string]time.Duration{
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// ParseDuration accepts anything time.ParseDuration does plus whole days
// ("30d") and weeks ("2w").
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	for suffix, unit := range dayUnits {
		if num, ok := strings.CutSuffix(s, suffix); ok {
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			return time.Duration(n) * unit, nil
		}
	}
	return 0, fmt.Errorf("invalid duration %q (use e.g. 72h, 30d, 2w)", s)
}
