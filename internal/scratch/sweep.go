package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/xpand/internal/diag"
)

// Sweep removes leftovers from earlier runs in dir.
//
// Files named in legacy (the fixed artifact names older tooling wrote) are
// always removed. Per-run artifacts are removed only once their modification
// time is at least staleAfter before now, so a concurrent run's live files
// survive. A zero staleAfter disables per-run removal.
//
// It returns the removed paths. Removal failures are CleanupFailed errors;
// sweeping continues past them.
func Sweep(dir string, legacy []string, staleAfter time.Duration, now time.Time) ([]string, []error) {
	if dir == "" {
		dir = "."
	}

	var removed []string
	var errs []error

	for _, name := range legacy {
		path := filepath.Join(dir, name)
		err := os.Remove(path)
		switch {
		case err == nil:
			removed = append(removed, path)
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, diag.Wrap(diag.CleanupFailed, fmt.Sprintf("removing %s", path), err))
		}
	}

	if staleAfter <= 0 {
		return removed, errs
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, diag.Wrap(diag.CleanupFailed, fmt.Sprintf("scanning %s", dir), err))
		}
		return removed, errs
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), Prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < staleAfter {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, diag.Wrap(diag.CleanupFailed, fmt.Sprintf("removing %s", path), err))
			continue
		}
		removed = append(removed, path)
	}

	return removed, errs
}
