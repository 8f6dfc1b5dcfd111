// Package jobstate implements a concurrent name->JobState map whose every
// mutation is serialized by one tracker-wide mutex (so readers never see
// a state only half updated) and write-through persisted to a
// staterepo.Repository. It applies the same "one mutex guards every
// mutation" model the ambient process logger uses for its own appended
// lines, here applied to state instead of log lines.
package jobstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theweak1/backupsvc/internal/staterepo"
	"github.com/theweak1/backupsvc/internal/types"
)

// Tracker is the live-state authority for one Scheduler.Execute run.
type Tracker struct {
	mu     sync.Mutex
	states map[string]types.JobState
	repo   staterepo.Repository

	subsMu sync.Mutex
	subs   []chan types.JobState
}

// New constructs a Tracker backed by repo. A nil repo disables
// write-through, useful for tests that only care about in-memory state.
func New(repo staterepo.Repository) *Tracker {
	return &Tracker{
		states: make(map[string]types.JobState),
		repo:   repo,
	}
}

// Subscribe returns a channel that receives a copy of every JobState
// change this tracker makes, starting from the next mutation. The
// channel is never closed by the tracker; callers drop it by letting it
// be garbage collected after they stop reading.
func (t *Tracker) Subscribe() <-chan types.JobState {
	ch := make(chan types.JobState, 32)
	t.subsMu.Lock()
	t.subs = append(t.subs, ch)
	t.subsMu.Unlock()
	return ch
}

func (t *Tracker) notify(state types.JobState) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- state:
		default:
			// A slow subscriber must never block state mutation; drop for it.
		}
	}
}

// RegisterJob seeds the tracker with a job's starting state ahead of
// that job's analysis phase.
func (t *Tracker) RegisterJob(job types.BackupJob, runID uuid.UUID) {
	t.mu.Lock()
	state := types.JobState{
		Name:                job.Name,
		ID:                  job.ID,
		Source:              job.SourcePath,
		Target:              job.TargetPath,
		Kind:                job.Kind,
		Status:              types.StatusInactive,
		StartTimestamp:      time.Now(),
		LastActionTimestamp: time.Now(),
		RunID:               runID,
	}
	t.states[job.Name] = state
	t.mu.Unlock()

	t.persist()
	t.notify(state)
}

// Get returns a snapshot copy of a job's current state.
func (t *Tracker) Get(name string) (types.JobState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[name]
	return s, ok
}

// Snapshot returns a copy of every tracked job's state.
func (t *Tracker) Snapshot() map[string]types.JobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]types.JobState, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}

// Mutate applies fn to the named job's state under the tracker-wide lock,
// stamps LastActionTimestamp, persists the whole map, and notifies
// subscribers. This is the single choke point every state change in the
// scheduler funnels through.
func (t *Tracker) Mutate(name string, fn func(*types.JobState)) error {
	t.mu.Lock()
	state, ok := t.states[name]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("jobstate: unknown job %q", name)
	}
	fn(&state)
	state.LastActionTimestamp = time.Now()
	t.states[name] = state
	t.mu.Unlock()

	t.persist()
	t.notify(state)
	return nil
}

// UpdateAll applies fn to every tracked job's state as a single mutation,
// used for the global pause/resume/cancel status transitions that affect
// every job at once.
func (t *Tracker) UpdateAll(fn func(*types.JobState)) {
	t.mu.Lock()
	for name, state := range t.states {
		fn(&state)
		state.LastActionTimestamp = time.Now()
		t.states[name] = state
	}
	snapshot := make(map[string]types.JobState, len(t.states))
	for k, v := range t.states {
		snapshot[k] = v
	}
	t.mu.Unlock()

	t.persist()
	for _, s := range snapshot {
		t.notify(s)
	}
}

// Finalize marks a job Completed or Error and records its terminal
// timestamp.
func (t *Tracker) Finalize(name string, status types.JobStatus) error {
	return t.Mutate(name, func(s *types.JobState) {
		s.Status = status
	})
}

// Clear drops all tracked state, used when Scheduler.Execute resets
// before a new run.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.states = make(map[string]types.JobState)
	t.mu.Unlock()
	t.persist()
}

func (t *Tracker) persist() {
	if t.repo == nil {
		return
	}
	t.mu.Lock()
	snapshot := make(map[string]types.JobState, len(t.states))
	for k, v := range t.states {
		snapshot[k] = v
	}
	t.mu.Unlock()

	// A Save error is discarded here and is not reported anywhere: the
	// tracker never fails a state mutation because the repository
	// write-through failed.
	_ = t.repo.Save(snapshot)
}
