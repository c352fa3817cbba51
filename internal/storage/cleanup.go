package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tachyon-beep/storyteller/internal/logging"
)

// Folders holding files with these extensions are never removed.
var protectedExtensions = map[string]struct{}{
	".go":  {},
	".py":  {},
	".sh":  {},
	".cfg": {},
	".bat": {},
}

// CleanupOptions bounds which datetime folders survive. A folder is kept when
// it is among the MaxFolders newest or younger than MaxAge. At least one bound
// must be set.
type CleanupOptions struct {
	MaxFolders int
	MaxAge     time.Duration
}

// CleanupResult contains the outcome of a batch cleanup.
type CleanupResult struct {
	Removed []string
	Skipped []string
	Errors  []CleanupError
}

// CleanupError pairs a folder path with its removal error.
type CleanupError struct {
	Path  string
	Error error
}

func cleanupBatchRuns(ctx context.Context, root, current string, opts CleanupOptions, now time.Time, logger *slog.Logger) (CleanupResult, error) {
	result := CleanupResult{}
	if opts.MaxFolders <= 0 && opts.MaxAge <= 0 {
		return result, newError(TierBatch, "cleanup", root, ErrValidation, fmt.Errorf("max folders or max age required"))
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, newError(TierBatch, "cleanup", root, classify(err, ErrRead), err)
	}

	type folder struct {
		name    string
		created time.Time
	}
	var folders []folder
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		created, err := time.ParseInLocation(DatetimeLayout, entry.Name(), time.Local)
		if err != nil {
			logger.Debug("ignoring non-batch folder", logging.String("folder", entry.Name()))
			continue
		}
		folders = append(folders, folder{name: entry.Name(), created: created})
	}
	slices.SortFunc(folders, func(a, b folder) int { return strings.Compare(b.name, a.name) })

	cutoff := now.Add(-opts.MaxAge)
	for i, f := range folders {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		keep := f.name == current ||
			(opts.MaxFolders > 0 && i < opts.MaxFolders) ||
			(opts.MaxAge > 0 && !f.created.Before(cutoff))
		if keep {
			continue
		}
		path := filepath.Join(root, f.name)
		if reason := unsafeToRemove(path); reason != "" {
			result.Skipped = append(result.Skipped, path)
			logging.WarnWithContext(logger, "skipping batch folder cleanup", "batch_cleanup_skipped",
				logging.String("path", path),
				logging.String("reason", reason),
				logging.String(logging.FieldImpact, "folder kept on disk"),
				logging.String(logging.FieldErrorHint, "move unexpected files out of batch storage"),
			)
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			logging.WarnWithContext(logger, "failed to remove batch folder", "batch_cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check batch storage permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
		logger.Info("removed old batch folder",
			logging.String("path", path),
			logging.Duration("age", now.Sub(f.created)),
			logging.String(logging.FieldEventType, "batch_cleanup"),
		)
	}
	return result, nil
}

// unsafeToRemove returns a reason when a datetime folder holds anything other
// than batch run folders of plain content files.
func unsafeToRemove(path string) string {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err.Error()
	}
	for _, entry := range entries {
		child := filepath.Join(path, entry.Name())
		if !entry.IsDir() {
			if isProtected(entry.Name()) {
				return "protected file " + child
			}
			continue
		}
		runEntries, err := os.ReadDir(child)
		if err != nil {
			return err.Error()
		}
		for _, item := range runEntries {
			if item.IsDir() {
				return "unexpected subdirectory " + filepath.Join(child, item.Name())
			}
			if isProtected(item.Name()) {
				return "protected file " + filepath.Join(child, item.Name())
			}
		}
	}
	return ""
}

func isProtected(name string) bool {
	_, ok := protectedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}
