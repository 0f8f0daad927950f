package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "backups"), 0700); err != nil {
		t.Fatalf("failed to create backups dir: %v", err)
	}

	tests := []struct {
		name        string
		path        string
		roots       []string
		errContains string
	}{
		{"file in root", filepath.Join(root, "snap.mqb"), []string{root}, ""},
		{"file in subdirectory", filepath.Join(root, "backups", "snap.mqb"), []string{root}, ""},
		{"missing subdirectories", filepath.Join(root, "a", "b", "snap.mqb"), []string{root}, ""},
		{"root itself", root, []string{root}, ""},
		{"redundant separators", root + string(os.PathSeparator) + string(os.PathSeparator) + "snap.mqb", []string{root}, ""},
		{"second root matches", filepath.Join(other, "snap.mqb"), []string{root, other}, ""},
		{"dot-dot escape", filepath.Join(root, "..", "etc", "passwd"), []string{root}, "outside allowed directories"},
		{"embedded dot-dot escape", filepath.Join(root, "backups", "..", "..", "snap.mqb"), []string{root}, "outside allowed directories"},
		{"other directory", filepath.Join(other, "snap.mqb"), []string{root}, "outside allowed directories"},
		{"null byte", filepath.Join(root, "sn\x00ap.mqb"), []string{root}, "null byte"},
		{"empty path", "", []string{root}, "empty"},
		{"no roots", filepath.Join(root, "snap.mqb"), nil, "no allowed directories"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, tt.roots)
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("ValidatePath() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidatePath() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestValidatePath_ErrOutsideAllowed(t *testing.T) {
	err := ValidatePath(filepath.Join(t.TempDir(), "snap.mqb"), []string{t.TempDir()})
	if !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("error = %v, want ErrOutsideAllowed", err)
	}
}

func TestValidatePath_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on Windows")
	}

	root := t.TempDir()
	outside := t.TempDir()
	inside := filepath.Join(root, "real")
	if err := os.MkdirAll(inside, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(inside, filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	if err := ValidatePath(filepath.Join(root, "escape", "snap.mqb"), []string{root}); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("symlink out of root: error = %v, want ErrOutsideAllowed", err)
	}
	if err := ValidatePath(filepath.Join(root, "link", "snap.mqb"), []string{root}); err != nil {
		t.Errorf("symlink within root: unexpected error %v", err)
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"/home/user/.mergeq/results.db", ".../.mergeq/results.db"},
		{"/a/b/c/d/e.mqb", ".../d/e.mqb"},
		{"/file.mqb", "file.mqb"},
		{"dir/file.mqb", ".../dir/file.mqb"},
		{"file.mqb", "file.mqb"},
		{"/home/user/.mergeq/", ".../user/.mergeq"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := RedactPath(tt.input); got != tt.want {
				t.Errorf("RedactPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestResultsDirs(t *testing.T) {
	dirs := ResultsDirs("/srv/mergeq")
	if len(dirs) != 1 || dirs[0] != "/srv/mergeq" {
		t.Errorf("ResultsDirs() = %v", dirs)
	}
}
