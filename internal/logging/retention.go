package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PruneOldLogs deletes log files older than days from the Logger's own
// LogDir. Adapted from file-maintenance/internal/maintenance.RemoveOldLogs:
// same non-recursive, best-effort, "skip what can't be deleted" behavior,
// now a method on Logger instead of a free function taking a path, since
// every caller in this codebase only ever prunes the logger's own
// directory.
//
// A no-op in NoLogs mode: there is no directory to prune.
func (l *Logger) PruneOldLogs(days int) error {
	if l.settings.NoLogs {
		return nil
	}

	logPath := l.settings.LogDir
	info, err := os.Stat(logPath)
	if err != nil {
		if err := os.MkdirAll(logPath, 0o755); err != nil {
			return fmt.Errorf("create log path: %w", err)
		}
		return nil
	}
	if !info.IsDir() {
		return fmt.Errorf("log path is not a directory: %s", logPath)
	}

	entries, err := os.ReadDir(logPath)
	if err != nil {
		return fmt.Errorf("read log folder contents: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if !fi.ModTime().Before(cutoff) {
			continue
		}

		_ = os.Remove(filepath.Join(logPath, entry.Name()))
	}

	return nil
}
