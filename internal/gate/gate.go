// Package gate implements a polling detector that pauses every worker
// while a configured "business" process is running. It is applied after
// the per-job pause gates in the checkpoint order workers evaluate:
// global pause, then per-job pause, then business-process gate, all
// between files, never mid-copy.
//
// Real OS process enumeration is an injectable ProcessDetector function.
// GopsutilDetector (gopsutil.go) is the production implementation, wired
// by cmd/backupsvc; NameListDetector is a stub that always reports
// "not running", used by New's nil default and by tests that don't want
// to depend on the host's actual process table.
package gate

import (
	"context"
	"time"
)

// ProcessDetector reports the name of a running watched process, if any.
// An empty name with a nil error means nothing watched is currently
// running.
type ProcessDetector func(watched []string) (name string, err error)

// PollInterval is the poll cadence while a watched process is running.
const PollInterval = 500 * time.Millisecond

// Notifier receives two notifications once per pause entry: a textual
// detection event, and the Active<->Paused state transition. A nil
// Notifier (or nil fields on one) makes the corresponding notification a
// no-op; implementations may be called from arbitrary worker goroutines
// and must be safe for concurrent use or marshal to their own thread.
type Notifier interface {
	// ProcessDetected fires once when a watched process is first seen
	// running, naming the job whose worker is pausing and the process
	// that was detected.
	ProcessDetected(jobName, processName string)
	// StateChanged fires the Active->Paused transition on entry and the
	// Paused->Active transition on clean exit (never on cancellation).
	StateChanged(jobName string, paused bool)
}

// BusinessProcessGate pauses callers of WaitIfBusinessProcess while
// Detect reports a watched process running.
type BusinessProcessGate struct {
	Detect  ProcessDetector
	Watched []string
	Notify  Notifier
}

// New constructs a BusinessProcessGate. A nil detect defaults to
// NameListDetector. notify may be nil; no notifications are emitted.
func New(detect ProcessDetector, watched []string, notify Notifier) *BusinessProcessGate {
	if detect == nil {
		detect = NameListDetector
	}
	return &BusinessProcessGate{Detect: detect, Watched: watched, Notify: notify}
}

// WaitIfBusinessProcess blocks, polling every PollInterval, for as long
// as Detect reports a watched process running. A detector error is
// treated as "not running" (fail-open) so a detection failure never
// wedges every job. jobName identifies the worker's job for the
// Notifier.
//
// On first detecting the process, emits a detection event and the
// Active->Paused transition (once per pause entry). On the condition
// clearing, emits Paused->Active and returns nil. If ctx is cancelled
// while waiting, returns immediately without emitting Paused->Active.
func (g *BusinessProcessGate) WaitIfBusinessProcess(ctx context.Context, jobName string) error {
	if len(g.Watched) == 0 {
		return nil
	}

	entered := false
	for {
		name, err := g.Detect(g.Watched)
		running := err == nil && name != ""
		if !running {
			if entered {
				g.stateChanged(jobName, false)
			}
			return nil
		}

		if !entered {
			entered = true
			g.processDetected(jobName, name)
			g.stateChanged(jobName, true)
		}

		select {
		case <-time.After(PollInterval):
			continue
		case <-ctx.Done():
			// Cancelled mid-pause: return without the Paused->Active
			// notification.
			return ctx.Err()
		}
	}
}

func (g *BusinessProcessGate) processDetected(jobName, processName string) {
	if g.Notify != nil {
		g.Notify.ProcessDetected(jobName, processName)
	}
}

func (g *BusinessProcessGate) stateChanged(jobName string, paused bool) {
	if g.Notify != nil {
		g.Notify.StateChanged(jobName, paused)
	}
}

// NameListDetector is a process-name-list stub that always reports "not
// running". It exists for New's nil default and for tests that want a
// deterministic detector without touching the host's real process
// table; production wiring uses GopsutilDetector instead.
func NameListDetector(_ []string) (string, error) {
	return "", nil
}
