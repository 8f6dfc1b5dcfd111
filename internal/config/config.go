// Package config loads the scheduler's configuration surface and job
// definitions from a single INI file: a [scheduler] section for the
// tunables guarded by the configuration lock, a [logging] section for
// the LogManager sinks, and one [job "<name>"] section per configured
// BackupJob.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/theweak1/backupsvc/internal/logging"
	"github.com/theweak1/backupsvc/internal/types"
)

// Store owns the single configuration lock: callers read a consistent
// snapshot of SchedulerConfig without holding the lock across their own
// work.
type Store struct {
	mu  sync.RWMutex
	cfg types.SchedulerConfig
}

// NewStore wraps an already-parsed SchedulerConfig.
func NewStore(cfg types.SchedulerConfig) *Store {
	cfg.Clamp()
	return &Store{cfg: cfg}
}

// Snapshot returns a copy of the current configuration, safe to use
// without further locking.
func (s *Store) Snapshot() types.SchedulerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.cfg
	cp.PriorityExtensions = cloneSet(s.cfg.PriorityExtensions)
	cp.EncryptionExtensions = cloneSet(s.cfg.EncryptionExtensions)
	cp.WatchedProcesses = append([]string(nil), s.cfg.WatchedProcesses...)
	return cp
}

// Replace swaps in a new configuration, clamped to its valid range.
func (s *Store) Replace(cfg types.SchedulerConfig) {
	cfg.Clamp()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src))
	for k := range src {
		dst[k] = struct{}{}
	}
	return dst
}

// LoadResult bundles the two outputs a config.ini yields: the scheduler's
// tunables plus every job definition found in it.
type LoadResult struct {
	Config types.SchedulerConfig
	Jobs   []types.BackupJob
}

// Load reads configDir/config.ini and returns the scheduler configuration
// and the ordered job list.
//
// File format:
//
//	; Comments start with semicolon
//	[scheduler]
//	max_simultaneous_jobs=3
//	size_threshold_mb=10
//	priority_extensions=.docx,.xlsx
//	encryption_extensions=.pdf
//	watched_processes=CalculatorApp
//	encryption_key=opaque-key-value
//
//	[logging]
//	target=Both        ; Local | Server | Both
//	format=JSON         ; JSON | XML
//	directory=C:\backups\logs
//	server_url=https://example.invalid/logs
//
//	[job "Documents"]
//	source=C:\Users\me\Documents
//	target=D:\backups
//	kind=Differential   ; Complete | Differential
//
// Errors:
//   - config.ini cannot be read.
//   - a [job "..."] section is missing source, target, or kind.
//   - kind does not parse via types.ParseJobKind.
func Load(configDir string, log *logging.Logger) (LoadResult, error) {
	configFile := filepath.Join(configDir, "config.ini")

	b, err := os.ReadFile(configFile)
	if err != nil {
		return LoadResult{}, fmt.Errorf("read config.ini: %w", err)
	}

	content := string(b)
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		content = content[3:]
	}

	sections, order, err := parseIniSections(content)
	if err != nil {
		return LoadResult{}, fmt.Errorf("parse config.ini: %w", err)
	}

	cfg, err := buildSchedulerConfig(sections["scheduler"], sections["logging"])
	if err != nil {
		return LoadResult{}, err
	}

	jobs, err := buildJobs(order, sections)
	if err != nil {
		return LoadResult{}, err
	}
	if len(jobs) == 0 {
		log.Warn("config.ini defines no [job \"...\"] sections; the scheduler will have nothing to run")
	}

	return LoadResult{Config: cfg, Jobs: jobs}, nil
}

// parseIniSections parses a simple INI-style config file (semicolon
// comments, "key=value", bracketed section headers), extended to accept
// a quoted section argument: [job "Documents"].
//
// order preserves section-header appearance order so job ids (the nth
// job definition encountered) are stable across runs of the same file.
func parseIniSections(content string) (map[string]map[string]string, []string, error) {
	sections := make(map[string]map[string]string)
	var order []string
	var current string

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(strings.Trim(line, "[]"))
			if name == "" {
				return nil, nil, fmt.Errorf("empty section name")
			}
			current = name
			if _, exists := sections[current]; !exists {
				sections[current] = make(map[string]string)
				order = append(order, current)
			}
			continue
		}

		if current == "" {
			return nil, nil, fmt.Errorf("line outside of section: %s", line)
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, nil, fmt.Errorf("malformed line in [%s]: %s", current, line)
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		// Inline comment stripping: "; rest of line" is dropped.
		if semi := strings.Index(value, ";"); semi >= 0 {
			value = strings.TrimSpace(value[:semi])
		}
		sections[current][key] = value
	}

	return sections, order, nil
}

func buildSchedulerConfig(scheduler, logSec map[string]string) (types.SchedulerConfig, error) {
	cfg := types.SchedulerConfig{}

	if v, ok := scheduler["max_simultaneous_jobs"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("scheduler.max_simultaneous_jobs: %w", err)
		}
		cfg.MaxSimultaneousJobs = n
	} else {
		cfg.MaxSimultaneousJobs = 3 // default, applied before Clamp would otherwise narrow an unset 0 to 1
	}

	if v, ok := scheduler["size_threshold_mb"]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("scheduler.size_threshold_mb: %w", err)
		}
		cfg.SizeThresholdBytes = n * 1024 * 1024
	} else {
		cfg.SizeThresholdBytes = 10 * 1024 * 1024
	}

	cfg.PriorityExtensions = parseExtSet(scheduler["priority_extensions"])
	cfg.EncryptionExtensions = parseExtSet(scheduler["encryption_extensions"])
	cfg.WatchedProcesses = parseList(scheduler["watched_processes"])
	cfg.EncryptionKey = scheduler["encryption_key"]

	cfg.LogTarget = parseLogTarget(logSec["target"])
	cfg.LogFormat = parseLogFormat(logSec["format"])
	cfg.LogDirectory = logSec["directory"]
	cfg.ServerURL = logSec["server_url"]

	cfg.Clamp()
	return cfg, nil
}

func parseExtSet(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range parseList(raw) {
		set[types.NormalizeExt(part)] = struct{}{}
	}
	return set
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogTarget(raw string) types.LogTarget {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "server":
		return types.LogTargetServer
	case "both":
		return types.LogTargetBoth
	default:
		return types.LogTargetLocal
	}
}

func parseLogFormat(raw string) types.LogFormat {
	if strings.EqualFold(strings.TrimSpace(raw), "xml") {
		return types.LogFormatXML
	}
	return types.LogFormatJSON
}

// buildJobs turns every [job "Name"] section into a types.BackupJob, in
// the order their headers first appeared in the file. Job ids are
// assigned sequentially starting at 1, matching the CLI grammar's
// 1-based "<start>-<end>" / "<a>;<b>" job-index references.
func buildJobs(order []string, sections map[string]map[string]string) ([]types.BackupJob, error) {
	var jobs []types.BackupJob
	id := 1
	for _, name := range order {
		jobName, ok := parseJobHeader(name)
		if !ok {
			continue
		}
		sec := sections[name]

		source := sec["source"]
		target := sec["target"]
		kindRaw := sec["kind"]
		if source == "" || target == "" || kindRaw == "" {
			return nil, fmt.Errorf("job %q: source, target, and kind are all required", jobName)
		}
		kind, err := types.ParseJobKind(kindRaw)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", jobName, err)
		}

		jobs = append(jobs, types.BackupJob{
			ID:         id,
			Name:       jobName,
			SourcePath: source,
			TargetPath: target,
			Kind:       kind,
		})
		id++
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// parseJobHeader extracts Name from a section header of the form
// `job "Name"`. Returns ok=false for any other section.
func parseJobHeader(header string) (string, bool) {
	const prefix = "job"
	if !strings.HasPrefix(strings.ToLower(header), prefix) {
		return "", false
	}
	rest := strings.TrimSpace(header[len(prefix):])
	rest = strings.Trim(rest, `"`)
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}
