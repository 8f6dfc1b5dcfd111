// Package staterepo persists JobState snapshots so a run's live progress
// can be inspected or recovered after the process exits. It mirrors
// jobstore's "read whole document, mutate, write whole document back"
// shape, applied here as the job state tracker's write-through target.
package staterepo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/theweak1/backupsvc/internal/types"
)

// Repository is the write-through target for JobStateTracker.
type Repository interface {
	Save(states map[string]types.JobState) error
	Load() (map[string]types.JobState, error)
}

// MemoryRepository is a Repository used by tests and by callers who don't
// need state to survive process restarts.
type MemoryRepository struct {
	mu     sync.Mutex
	states map[string]types.JobState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{states: make(map[string]types.JobState)}
}

func (r *MemoryRepository) Save(states map[string]types.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]types.JobState, len(states))
	for k, v := range states {
		cp[k] = v
	}
	r.states = cp
	return nil
}

func (r *MemoryRepository) Load() (map[string]types.JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]types.JobState, len(r.states))
	for k, v := range r.states {
		cp[k] = v
	}
	return cp, nil
}

// FileRepository persists the full state map as one JSON document,
// written atomically (tmp file + rename) under mu, the same tmp-then-
// rename idiom internal/scheduler's copyFile uses for file writes.
type FileRepository struct {
	mu   sync.Mutex
	path string
}

func NewFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create state repository directory")
	}
	return &FileRepository{path: path}, nil
}

// Save persists states as a JSON array of JobState objects, matching
// spec.md §6's "Persisted state file: a list of JobState objects" wire
// shape literally rather than an object keyed by name. The map is only
// this package's in-process convenience for lookup by job name; on disk
// it flattens to a list, ordered by Name for a stable diff across runs.
func (r *FileRepository) Save(states map[string]types.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := toList(states)

	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode job state snapshot")
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "write job state snapshot")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return errors.Wrap(err, "commit job state snapshot")
	}
	return nil
}

// Load reads the JSON array of JobState objects written by Save and
// rebuilds the name-keyed map JobStateTracker wants for lookup.
func (r *FileRepository) Load() (map[string]types.JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]types.JobState{}, nil
		}
		return nil, errors.Wrap(err, "read job state snapshot")
	}
	if len(b) == 0 {
		return map[string]types.JobState{}, nil
	}

	var list []types.JobState
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, errors.Wrap(err, "parse job state snapshot")
	}
	return toMap(list), nil
}

// toList flattens a name-keyed state map into the persisted list shape,
// sorted by Name for deterministic output.
func toList(states map[string]types.JobState) []types.JobState {
	list := make([]types.JobState, 0, len(states))
	for _, s := range states {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// toMap rebuilds the name-keyed lookup map from a persisted list.
func toMap(list []types.JobState) map[string]types.JobState {
	out := make(map[string]types.JobState, len(list))
	for _, s := range list {
		out[s.Name] = s
	}
	return out
}
