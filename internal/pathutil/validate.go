// Package pathutil confines user-supplied file paths to known directories.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed is returned when a path resolves outside every allowed root.
var ErrOutsideAllowed = errors.New("outside allowed directories")

// RedactPath shortens a path to .../<parent>/<base> for error messages.
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// ValidatePath checks that path lies inside one of roots once cleaned and
// symlink-resolved. The file itself need not exist.
func ValidatePath(path string, roots []string) error {
	switch {
	case path == "":
		return fmt.Errorf("invalid path: empty")
	case len(roots) == 0:
		return fmt.Errorf("invalid path: no allowed directories")
	case strings.ContainsRune(path, '\x00'):
		return fmt.Errorf("invalid path: contains null byte")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	dir, err := resolve(filepath.Dir(abs))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	target := filepath.Join(dir, filepath.Base(abs))

	for _, root := range roots {
		rootAbs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			continue
		}
		resolved, err := resolve(rootAbs)
		if err != nil {
			continue
		}
		if within(target, resolved) {
			return nil
		}
	}
	return fmt.Errorf("%q is %w", RedactPath(abs), ErrOutsideAllowed)
}

// resolve evaluates symlinks on the deepest existing ancestor of dir and
// re-appends the missing tail.
func resolve(dir string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve %s", RedactPath(dir))
	}
	resolvedParent, err := resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(dir)), nil
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// ResultsDirs returns the roots backup files may be read from or written to:
// the store directory, which holds the default backups/ subdirectory.
func ResultsDirs(storeDir string) []string {
	return []string{storeDir}
}
