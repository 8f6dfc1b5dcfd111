// Package scheduler implements the top-level orchestrator: a three-phase
// engine that resolves job ids, fans out analysis in parallel, drains
// the resulting GlobalFileQueue with a fixed worker pool, and finalizes
// job state.
//
// The parallel analysis fan-out uses golang.org/x/sync/errgroup to run
// one task per job and wait for all of them before advancing. The
// heavy-file semaphore is golang.org/x/sync/semaphore.Weighted(1),
// applied here to a single global permit instead of a tunable pool.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/theweak1/backupsvc/internal/config"
	"github.com/theweak1/backupsvc/internal/control"
	"github.com/theweak1/backupsvc/internal/encryption"
	"github.com/theweak1/backupsvc/internal/gate"
	"github.com/theweak1/backupsvc/internal/jobstate"
	"github.com/theweak1/backupsvc/internal/jobstore"
	"github.com/theweak1/backupsvc/internal/logging"
	"github.com/theweak1/backupsvc/internal/queue"
	"github.com/theweak1/backupsvc/internal/strategy"
	"github.com/theweak1/backupsvc/internal/types"
)

// dequeuePollInterval is the worker spin interval when the queue is
// transiently empty but producers are still active.
const dequeuePollInterval = time.Millisecond

// LogSink is the subset of LogManager.Write the scheduler depends on,
// narrowed to keep this package's tests free of the full logging stack.
type LogSink interface {
	Write(record types.LogRecord)
}

// Scheduler is the run orchestrator. One Scheduler is built per process
// and reused across Execute calls; each call resets the shared
// collaborators before running.
type Scheduler struct {
	Jobs     jobstore.Store
	Config   *config.Store
	Tracker  *jobstate.Tracker
	Queue    *queue.GlobalFileQueue
	Control  *control.Coordinator
	Business *gate.BusinessProcessGate
	Log      LogSink
	Logger   *logging.Logger

	heavySem *semaphore.Weighted

	// MachineName/UserName populate LogRecord's optional fields.
	MachineName string
	UserName    string
}

// New wires a Scheduler from its collaborators. Business may be nil, in
// which case the per-file pipeline skips the business-process check
// entirely.
func New(jobs jobstore.Store, cfg *config.Store, tracker *jobstate.Tracker, q *queue.GlobalFileQueue, ctrl *control.Coordinator, business *gate.BusinessProcessGate, log LogSink, logger *logging.Logger) *Scheduler {
	machine, _ := os.Hostname()
	return &Scheduler{
		Jobs:        jobs,
		Config:      cfg,
		Tracker:     tracker,
		Queue:       q,
		Control:     ctrl,
		Business:    business,
		Log:         log,
		Logger:      logger,
		heavySem:    semaphore.NewWeighted(1),
		MachineName: machine,
	}
}

// Execute runs one backup pass over jobIDs, 1-based job store ids
// typically produced by parsing the CLI's range/union grammar. Returns
// the concatenation of every accumulated error string, or "" on clean
// success.
func (s *Scheduler) Execute(ctx context.Context, jobIDs []int) (string, error) {
	runID := uuid.New()

	// Reset: cancel any previous run and start clean.
	s.Control.Reset()
	s.Tracker.Clear()
	s.Queue.Reset()

	var errs []string

	jobs, invalid := s.resolveJobs(jobIDs)
	for _, idx := range invalid {
		errs = append(errs, fmt.Sprintf("Invalid job index: %d", idx))
	}

	// Pre-registration: seed tracker/control state before analysis starts.
	for _, job := range jobs {
		s.Control.RegisterJob(job.Name)
		s.Tracker.RegisterJob(job, runID)
	}

	if len(jobs) == 0 {
		return strings.Join(errs, "; "), nil
	}

	// Phase 1: parallel analysis & enqueue.
	phaseErrs := s.runPhase1(ctx, jobs, runID)
	errs = append(errs, phaseErrs...)

	// Phase 3: worker pool drain.
	cfg := s.Config.Snapshot()
	s.runWorkers(ctx, cfg.MaxSimultaneousJobs, runID)

	// Finalization: settle every job's terminal status and release its
	// control handles. Jobs already unregistered in Phase 1 (empty
	// analysis or an analysis failure) simply no-op here.
	for _, job := range jobs {
		_ = s.Tracker.Mutate(job.Name, func(state *types.JobState) {
			if state.Status == types.StatusActive || state.Status == types.StatusPaused {
				if state.RemainingFiles == 0 {
					state.Status = types.StatusCompleted
				} else {
					state.Status = types.StatusInactive
				}
			}
		})
		s.Control.UnregisterJob(job.Name)
	}

	return strings.Join(errs, "; "), nil
}

// PauseAll pauses every job in the current run. The next Execute call
// resets the coordinator, so it starts with the global gate open.
func (s *Scheduler) PauseAll() { s.Control.PauseAll() }

// ResumeAll reopens the global pause gate.
func (s *Scheduler) ResumeAll() { s.Control.ResumeAll() }

// PauseJob pauses a single job without affecting any other job or the
// global gate.
func (s *Scheduler) PauseJob(name string) { s.Control.PauseJob(name) }

// ResumeJob resumes a single job.
func (s *Scheduler) ResumeJob(name string) { s.Control.ResumeJob(name) }

// StopJob cancels a single job's token. Other jobs in the same run
// continue.
func (s *Scheduler) StopJob(name string) { s.Control.StopJob(name) }

// StopAll cancels every job's token (via the linked global scope) and
// immediately transitions every currently Active or Paused job to
// Inactive through the Tracker. The coordinator is left reusable for the
// next Execute call.
func (s *Scheduler) StopAll() {
	s.Control.StopAll()
	s.Tracker.UpdateAll(func(state *types.JobState) {
		if state.Status == types.StatusActive || state.Status == types.StatusPaused {
			state.Status = types.StatusInactive
		}
	})
}

// resolveJobs looks up every requested id in the job store, separating
// hits from misses; invalid ids contribute an error string but do not
// abort the run.
func (s *Scheduler) resolveJobs(jobIDs []int) (resolved []types.BackupJob, invalid []int) {
	for _, id := range jobIDs {
		job, err := s.Jobs.Get(id)
		if err != nil {
			invalid = append(invalid, id)
			continue
		}
		resolved = append(resolved, job)
	}
	return resolved, invalid
}

// runPhase1 spawns one analysis task per job via errgroup and returns
// the accumulated per-job error strings (not the group's own error: a
// single job's failure must not cancel its siblings).
func (s *Scheduler) runPhase1(ctx context.Context, jobs []types.BackupJob, runID uuid.UUID) []string {
	var (
		errsMu sync.Mutex
		errs   []string
	)

	var g errgroup.Group // plain Group: one job's failure must never cancel its siblings

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := s.analyzeAndEnqueue(ctx, job); err != nil {
				errsMu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", job.Name, err))
				errsMu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait() // errors are already captured per-job above; g itself never returns one

	return errs
}

func (s *Scheduler) analyzeAndEnqueue(ctx context.Context, job types.BackupJob) error {
	// 3a: transition to Active.
	if err := s.Tracker.Mutate(job.Name, func(state *types.JobState) {
		state.Status = types.StatusActive
	}); err != nil {
		return err
	}

	// 3b: build Strategy, snapshotting extension sets under the config lock.
	cfg := s.Config.Snapshot()
	strat := strategy.New(job.Kind, strategy.Params{
		JobName:              job.Name,
		Source:               job.SourcePath,
		Target:               job.TargetPath,
		PriorityExtensions:   cfg.PriorityExtensions,
		EncryptionExtensions: cfg.EncryptionExtensions,
	})

	// 3c: analyze.
	items, err := strat.Analyze()
	if err != nil {
		err = errors.Wrapf(err, "analyze job %q", job.Name)
		s.failJob(job.Name, err)
		return err
	}
	if len(items) == 0 {
		_ = s.Tracker.Finalize(job.Name, types.StatusCompleted)
		s.Control.UnregisterJob(job.Name)
		return nil
	}

	// 3d: record totals.
	var totalSize int64
	for _, it := range items {
		totalSize += it.Size
	}
	if err := s.Tracker.Mutate(job.Name, func(state *types.JobState) {
		state.TotalFiles = int64(len(items))
		state.TotalSize = totalSize
		state.RemainingFiles = int64(len(items))
		state.RemainingSize = totalSize
	}); err != nil {
		return err
	}

	// 3e: prepare destination layout.
	if err := strat.Prepare(); err != nil {
		err = errors.Wrapf(err, "prepare job %q", job.Name)
		s.failJob(job.Name, err)
		return err
	}

	// 3f: publish to the shared queue.
	s.Queue.RegisterProducer()
	for _, it := range items {
		select {
		case <-ctx.Done():
			s.Queue.ProducerDone()
			return ctx.Err()
		default:
		}
		s.Queue.Enqueue(it)
	}
	s.Queue.ProducerDone()

	return nil
}

func (s *Scheduler) failJob(name string, err error) {
	_ = s.Tracker.Mutate(name, func(state *types.JobState) {
		state.Status = types.StatusError
	})
	if s.Logger != nil {
		s.Logger.Errorf("job %s failed during analysis: %v", name, err)
	}
	s.Control.UnregisterJob(name)
}

// runWorkers spawns N worker goroutines draining the shared queue and
// waits for all of them to exit.
func (s *Scheduler) runWorkers(ctx context.Context, n int, runID uuid.UUID) {
	if n < 1 {
		n = 1
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			s.workerLoop(ctx, runID)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context, runID uuid.UUID) {
	for {
		if s.Queue.IsCompleted() {
			return
		}

		item, ok := s.Queue.TryDequeue()
		if !ok {
			select {
			case <-time.After(dequeuePollInterval):
				continue
			case <-ctx.Done():
				return
			}
		}

		s.copyAndProcessFile(ctx, item, runID)
	}
}

// copyAndProcessFile runs a single file through the pause/cancel/business
// gates, the heavy-file semaphore, and the copy pipeline.
func (s *Scheduler) copyAndProcessFile(ctx context.Context, item types.FileWorkItem, runID uuid.UUID) {
	if s.Control.IsCancelled(item.JobName) {
		return
	}

	token := s.Control.GetToken(item.JobName)

	if err := s.Control.WaitForResume(token, item.JobName); err != nil {
		return
	}

	if s.Business != nil {
		if err := s.Business.WaitIfBusinessProcess(token, item.JobName); err != nil {
			return
		}
	}

	cfg := s.Config.Snapshot()
	heavy := item.Size > cfg.SizeThresholdBytes

	if heavy {
		if err := s.heavySem.Acquire(token, 1); err != nil {
			return
		}
		s.performCopy(token, item, runID)
		s.heavySem.Release(1)
		return
	}

	s.performCopy(token, item, runID)
}

// performCopy copies a file, optionally encrypts it, logs the attempt,
// and updates state, never propagating an error back to the worker loop.
func (s *Scheduler) performCopy(ctx context.Context, item types.FileWorkItem, runID uuid.UUID) {
	start := time.Now()
	copyErr := copyFile(item.SourcePath, item.DestinationPath)
	copyMS := float64(time.Since(start).Milliseconds())

	if copyErr != nil {
		s.emitLog(item, runID, -1, 0)
		_ = s.Tracker.Mutate(item.JobName, func(state *types.JobState) {
			state.Status = types.StatusError
		})
		return
	}

	var encMS int64
	if item.RequiresEncryption {
		encMS = encryption.Encrypt(ctx, item.DestinationPath)
	}

	s.emitLog(item, runID, copyMS, encMS)

	_ = s.Tracker.Mutate(item.JobName, func(state *types.JobState) {
		if state.RemainingFiles > 0 {
			state.RemainingFiles--
		}
		if state.RemainingSize >= item.Size {
			state.RemainingSize -= item.Size
		} else {
			state.RemainingSize = 0
		}
		state.CurrentSource = item.SourcePath
		state.CurrentTarget = item.DestinationPath
	})
}

func (s *Scheduler) emitLog(item types.FileWorkItem, runID uuid.UUID, copyMS float64, encMS int64) {
	if s.Log == nil {
		return
	}
	s.Log.Write(types.LogRecord{
		RunID:          runID,
		Name:           item.JobName,
		Source:         canonicalizeForLog(item.SourcePath, s.MachineName),
		Target:         canonicalizeForLog(item.DestinationPath, s.MachineName),
		Size:           item.Size,
		Time:           copyMS,
		EncryptionTime: encMS,
		Timestamp:      time.Now(),
		MachineName:    s.MachineName,
		UserName:       s.UserName,
	})
}

// ProcessDetected implements gate.Notifier, narrating the detection
// event through the ambient process Logger.
func (s *Scheduler) ProcessDetected(jobName, processName string) {
	if s.Logger != nil {
		s.Logger.Warnf("job %s pausing: business process %q is running", jobName, processName)
	}
}

// StateChanged implements gate.Notifier, flipping a job between Active
// and Paused around a business-process pause through the same Tracker
// every other state change funnels through.
func (s *Scheduler) StateChanged(jobName string, paused bool) {
	status := types.StatusActive
	if paused {
		status = types.StatusPaused
	}
	_ = s.Tracker.Mutate(jobName, func(state *types.JobState) {
		state.Status = status
	})
}

// canonicalizeForLog applies the UNC display convention: a drive-letter
// path is rewritten to \\<hostname>\<letter>$\<rest> for logging only;
// the copy itself always uses the original path.
func canonicalizeForLog(path, hostname string) string {
	if hostname == "" || len(path) < 3 || path[1] != ':' {
		return path
	}
	letter := path[0]
	if !((letter >= 'a' && letter <= 'z') || (letter >= 'A' && letter <= 'Z')) {
		return path
	}
	rest := strings.TrimPrefix(path[2:], `\`)
	rest = strings.TrimPrefix(rest, `/`)
	return fmt.Sprintf(`\\%s\%c$\%s`, hostname, letter, rest)
}
