package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogSettings controls where logs go.
//
// Modes:
// - NoLogs=true  => console-only (stdout). No log files are created.
// - NoLogs=false => write logs to files under LogDir.
//
// Why this exists:
//   - Scheduled runs usually need file logs (inspect runs after the fact).
//   - Quick/manual runs sometimes prefer console-only output (no file I/O,
//     fewer permissions issues).
type LogSettings struct {
	NoLogs bool
	LogDir string
}

// Logger is the ambient process logger: startup, job resolution, and
// lifecycle narration (pause/resume, business-process detection, Phase 1
// failures) from arbitrary scheduler goroutines. It is distinct from
// LogManager, which fans individual per-file LogRecord values out to the
// local/remote sinks.
//
// File writes go through a cached *lumberjack.Logger per (level-bucket,
// calendar day), the same rotation/retention primitive LogManager's local
// sink uses: lumberjack caps each bucket's file at MaxSize and expires
// backups past MaxAge, instead of a hand-rolled open-append-close per
// call with no size or age bound of its own. The two loggers share the
// dependency rather than one another's cache, since LogManager buckets by
// wire format (JSON/XML) and this one buckets by level stream
// (scheduler/count/errors); folding them into one struct would conflate a
// per-file copy record with free-form operator narration.
type Logger struct {
	// ConfigDir is where we look for logging.json (enabled/disabled log levels).
	ConfigDir string

	// settings controls whether we log to stdout only or also to files.
	settings LogSettings

	// levels stores enabled log levels loaded once at startup from logging.json.
	levels map[string]bool

	// mu guards writers; lumberjack.Logger.Write is itself unsynchronized.
	mu      sync.Mutex
	writers map[string]*lumberjack.Logger
}

// New initializes a Logger.
//
// Behavior:
// - Reads configDir/logging.json (if present) to determine enabled log levels.
// - If logging.json is missing, sensible defaults are used (see loadLevels).
// - If settings.NoLogs is false:
//   - settings.LogDir must be set
//   - the directory is created if needed (fail early if invalid/unwritable)
//
// Notes:
//   - Creating LogDir early is helpful for Task Scheduler runs: if permissions are
//     wrong, we fail fast at startup instead of silently losing logs.
//   - For network paths, mkdir failure is a strong signal of access/permission problems.
func New(configDir string, settings LogSettings) (*Logger, error) {
	levels, err := loadLevels(configDir)
	if err != nil {
		return nil, err
	}

	// If file logging is enabled, ensure log directory exists.
	// If NoLogs is true, we intentionally skip all file/directory requirements.
	if !settings.NoLogs {
		if settings.LogDir == "" {
			return nil, fmt.Errorf("log dir is empty (settings.LogDir)")
		}
		if err := os.MkdirAll(settings.LogDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	return &Logger{
		ConfigDir: configDir,
		settings:  settings,
		levels:    levels,
		writers:   make(map[string]*lumberjack.Logger),
	}, nil
}

// loadLevels loads log-level enable/disable configuration from logging.json.
//
// If logging.json does not exist, default levels are returned:
// - INFO/WARN/ERROR/SUCCESS/FATAL enabled
// - COUNT enabled (used for end-of-run totals and summary counters)
// - DEBUG disabled (to avoid noisy scheduled runs)
//
// Policy for unknown levels (fail-open):
//   - If code introduces a new level and logging.json hasn't been updated yet,
//     it's safer to log than to silently drop messages.
func loadLevels(configDir string) (map[string]bool, error) {
	path := filepath.Join(configDir, "logging.json")

	// If config file is missing, return default levels.
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{
				"DEBUG":   false,
				"COUNT":   true,
				"INFO":    true,
				"WARN":    true,
				"ERROR":   true,
				"SUCCESS": true,
				"FATAL":   true,
			}, nil
		}
		return nil, fmt.Errorf("stat logging config: %w", err)
	}

	// Config exists: read and parse JSON.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read logging config: %w", err)
	}

	var levels map[string]bool
	if err := json.Unmarshal(b, &levels); err != nil {
		return nil, fmt.Errorf("parse logging config: %w", err)
	}
	return levels, nil
}

// Enabled returns whether a log level is enabled.
//
// Policy:
// - If the level exists in config and is false => disabled.
// - If the level does not exist in config => enabled (fail-open).
//
// This prevents new levels from being unintentionally dropped until logging.json is updated.
func (l *Logger) Enabled(level string) bool {
	level = strings.ToUpper(strings.TrimSpace(level))

	enabled, ok := l.levels[level]
	if ok && !enabled {
		return false
	}
	return true
}

// Log writes a single log line to either stdout (NoLogs mode) or a set of
// rotated, day-bucketed files.
//
// Output format:
//
//	[MM/DD/YY HH:MM:SS] [LEVEL] -> message
//
// File mode behavior:
// - Writes every line to the "scheduler" bucket.
// - Writes COUNT lines also to the "count" bucket (end-of-run totals per job).
// - Writes ERROR lines also to the "errors" bucket (quick place to scan failures).
//
// Each bucket is a lumberjack.Logger cached per calendar day (see
// writerFor), so a long-running process still gets one file per day
// rather than one unbounded file, with lumberjack enforcing the size cap
// and retention window instead of this package reimplementing either.
func (l *Logger) Log(level, msg string) {
	level = strings.ToUpper(strings.TrimSpace(level))

	// Respect configured levels.
	if !l.Enabled(level) {
		return
	}

	now := time.Now()
	timeStamp := now.Format("01/02/06 15:04:05")

	stamp := fmt.Sprintf("[%s] [%s]", timeStamp, level)
	line := fmt.Sprintf("%s -> %s\n", stamp, msg)

	// Console-only mode: do not touch filesystem.
	if l.settings.NoLogs {
		fmt.Print(line)
		return
	}

	day := now.Format("2006-01-02")

	if err := l.writeBucket("scheduler", day, line); err != nil {
		// If file logging fails, stdout is our fallback visibility.
		fmt.Printf("Error writing to log file: %v\n", err)
		return
	}

	// COUNT lines are duplicated into their own bucket for summary numbers.
	if level == "COUNT" {
		if err := l.writeBucket("count", day, line); err != nil {
			fmt.Printf("Error writing to count log file: %v\n", err)
			return
		}
	}

	// ERROR is duplicated into a dedicated bucket so failures are easy to scan.
	if level == "ERROR" {
		if err := l.writeBucket("errors", day, line); err != nil {
			fmt.Printf("Error writing to error log file: %v\n", err)
			return
		}
	}
}

// writeBucket appends line to the named level bucket's file for day,
// lazily creating and caching the lumberjack.Logger backing it.
func (l *Logger) writeBucket(bucket, day, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucket + "_" + day
	w, ok := l.writers[key]
	if !ok {
		w = &lumberjack.Logger{
			Filename: filepath.Join(l.settings.LogDir, fmt.Sprintf("%s_%s.log", bucket, day)),
			MaxSize:  16, // MB, before lumberjack rotates this bucket's file
			MaxAge:   30, // days of retention
			Compress: true,
		}
		l.writers[key] = w
	}

	_, err := w.Write([]byte(line))
	return err
}

// Close flushes and releases every cached bucket writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, w := range l.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Convenience methods avoid passing level strings everywhere.
// They also make it easier to refactor/rename levels later without touching call sites.
func (l *Logger) Debug(msg string)   { l.Log("DEBUG", msg) }
func (l *Logger) Info(msg string)    { l.Log("INFO", msg) }
func (l *Logger) Warn(msg string)    { l.Log("WARN", msg) }
func (l *Logger) Error(msg string)   { l.Log("ERROR", msg) }
func (l *Logger) Success(msg string) { l.Log("SUCCESS", msg) }
func (l *Logger) Count(msg string)   { l.Log("COUNT", msg) }

// Fatal logs the message and exits the process with code 1.
//
// IMPORTANT:
//   - os.Exit(1) terminates immediately (defers do NOT run).
//   - Use Fatal only for unrecoverable states where continuing could cause harm.
//     Example: the job store or state repository cannot be opened before the
//     scheduler starts resolving job ids.
func (l *Logger) Fatal(msg string) { l.Log("FATAL", msg); os.Exit(1) }

// Formatted helpers reduce repeated fmt.Sprintf usage at call sites.
func (l *Logger) Debugf(format string, args ...any)   { l.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)    { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)    { l.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any)   { l.Error(fmt.Sprintf(format, args...)) }
func (l *Logger) Successf(format string, args ...any) { l.Success(fmt.Sprintf(format, args...)) }
func (l *Logger) Countf(format string, args ...any)   { l.Count(fmt.Sprintf(format, args...)) }
func (l *Logger) Fatalf(format string, args ...any)   { l.Fatal(fmt.Sprintf(format, args...)) }
