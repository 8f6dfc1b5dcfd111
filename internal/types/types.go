// Package types defines the data model shared across the backup scheduler:
// job descriptions, live job state, per-file work items, and log records.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobKind identifies which Strategy variant a BackupJob runs under.
type JobKind int

const (
	KindFull JobKind = iota
	KindDifferential
)

func (k JobKind) String() string {
	switch k {
	case KindFull:
		return "Complete"
	case KindDifferential:
		return "Differential"
	default:
		return "Unknown"
	}
}

// ParseJobKind parses the wire representation used by the persisted job
// store and state file ("Complete" / "Differential", case-insensitive).
func ParseJobKind(s string) (JobKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "complete", "full":
		return KindFull, nil
	case "differential", "diff":
		return KindDifferential, nil
	default:
		return 0, fmt.Errorf("unknown job kind: %q", s)
	}
}

// MarshalJSON renders a JobKind as its persisted wire string ("Complete" /
// "Differential") rather than its underlying int.
func (k JobKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON parses the persisted wire string back into a JobKind.
func (k *JobKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseJobKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// BackupJob is the external, read-only job description the scheduler
// resolves job ids against. Ownership of this record lives in jobstore;
// the scheduler never mutates it.
type BackupJob struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	SourcePath string  `json:"sourcePath"`
	TargetPath string  `json:"targetPath"`
	Kind       JobKind `json:"type"`
}

// JobStatus is the lifecycle state of a single job within a run.
type JobStatus int

const (
	StatusInactive JobStatus = iota
	StatusActive
	StatusPaused
	StatusCompleted
	StatusError
)

func (s JobStatus) String() string {
	switch s {
	case StatusInactive:
		return "Inactive"
	case StatusActive:
		return "Active"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ParseJobStatus parses the wire representation used by the persisted
// state file ("Inactive"|"Active"|"Paused"|"Completed"|"Error").
func ParseJobStatus(s string) (JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inactive":
		return StatusInactive, nil
	case "active":
		return StatusActive, nil
	case "paused":
		return StatusPaused, nil
	case "completed":
		return StatusCompleted, nil
	case "error":
		return StatusError, nil
	default:
		return 0, fmt.Errorf("unknown job status: %q", s)
	}
}

// MarshalJSON renders a JobStatus as its persisted wire string.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the persisted wire string back into a JobStatus.
func (s *JobStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseJobStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// JobState is the live, mutable record tracked by JobStateTracker for the
// duration of a run. Only JobStateTracker mutates it; everyone else reads
// a snapshot copy.
type JobState struct {
	Name   string    `json:"name"`
	ID     int       `json:"id"`
	Source string    `json:"sourcePath"`
	Target string    `json:"targetPath"`
	Kind   JobKind   `json:"type"`
	Status JobStatus `json:"state"`

	TotalFiles     int64 `json:"totalFiles"`
	TotalSize      int64 `json:"totalSize"`
	RemainingFiles int64 `json:"remainingFiles"`
	RemainingSize  int64 `json:"remainingSize"`

	CurrentSource string `json:"currentSource"`
	CurrentTarget string `json:"currentTarget"`

	StartTimestamp      time.Time `json:"startTimestamp"`
	LastActionTimestamp time.Time `json:"lastActionTimestamp"`

	// RunID correlates this state (and every LogRecord emitted while
	// processing it) to a single Scheduler.Execute invocation.
	RunID uuid.UUID `json:"runId"`
}

// FileWorkItem is a single file copy produced by Strategy.Analyze and
// consumed exactly once by a scheduler worker.
type FileWorkItem struct {
	SourcePath         string
	DestinationPath    string
	JobName            string
	Size               int64
	IsPriority         bool
	RequiresEncryption bool
}

// LogRecord is emitted once per copy attempt (success or failure) and
// handed to the LogManager fan-out.
type LogRecord struct {
	RunID          uuid.UUID
	Name           string
	Source         string
	Target         string
	Size           int64
	Time           float64 // ms; -1 on failure
	EncryptionTime int64   // ms; 0 not encrypted, >0 success time, -1 error
	Timestamp      time.Time
	MachineName    string
	UserName       string
}

// SchedulerConfig is the configuration surface: max simultaneous jobs,
// the heavy-file threshold, and the priority/encryption extension sets.
// It is guarded by a single lock (see config.Store) and readers snapshot
// it under that lock.
type SchedulerConfig struct {
	MaxSimultaneousJobs  int
	SizeThresholdBytes   int64
	PriorityExtensions   map[string]struct{}
	EncryptionExtensions map[string]struct{}
	WatchedProcesses     []string
	EncryptionKey        string

	LogTarget    LogTarget
	LogFormat    LogFormat
	LogDirectory string
	ServerURL    string
}

// LogTarget selects where LogManager.Write fans records out to.
type LogTarget int

const (
	LogTargetLocal LogTarget = iota
	LogTargetServer
	LogTargetBoth
)

// LogFormat selects the local sink's serialization.
type LogFormat int

const (
	LogFormatJSON LogFormat = iota
	LogFormatXML
)

// Clamp enforces the valid range and defaults for the configuration
// surface.
func (c *SchedulerConfig) Clamp() {
	if c.MaxSimultaneousJobs < 1 {
		c.MaxSimultaneousJobs = 1
	}
	if c.MaxSimultaneousJobs > 10 {
		c.MaxSimultaneousJobs = 10
	}
	if c.SizeThresholdBytes <= 0 {
		c.SizeThresholdBytes = 10 * 1024 * 1024
	}
	if c.PriorityExtensions == nil {
		c.PriorityExtensions = map[string]struct{}{}
	}
	if c.EncryptionExtensions == nil {
		c.EncryptionExtensions = map[string]struct{}{}
	}
}

// NormalizeExt lower-cases an extension and ensures a single leading dot,
// so extensions can be compared case-insensitively with or without a
// leading dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
