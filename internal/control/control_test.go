package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_PauseAllBlocksUntilResume(t *testing.T) {
	c := New()
	c.RegisterJob("job-a")

	c.PauseAll()

	done := make(chan error, 1)
	go func() {
		done <- c.WaitForResume(context.Background(), "job-a")
	}()

	select {
	case <-done:
		t.Fatal("WaitForResume returned while globally paused")
	case <-time.After(30 * time.Millisecond):
	}

	c.ResumeAll()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForResume did not unblock after ResumeAll")
	}
}

func TestCoordinator_PerJobPauseIsIndependent(t *testing.T) {
	a := assert.New(t)
	c := New()
	c.RegisterJob("job-a")
	c.RegisterJob("job-b")

	c.PauseJob("job-a")

	// job-b must proceed immediately; only job-a is paused.
	err := c.WaitForResume(context.Background(), "job-b")
	a.NoError(err)

	done := make(chan struct{})
	go func() {
		_ = c.WaitForResume(context.Background(), "job-a")
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("job-a should still be paused")
	case <-time.After(20 * time.Millisecond):
	}

	c.ResumeJob("job-a")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job-a did not resume after ResumeJob")
	}
}

func TestCoordinator_ResumeAllDoesNotLiftPerJobPause(t *testing.T) {
	a := assert.New(t)
	c := New()
	c.RegisterJob("job-a")

	c.PauseAll()
	c.PauseJob("job-a")
	c.ResumeAll()

	done := make(chan struct{})
	go func() {
		_ = c.WaitForResume(context.Background(), "job-a")
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("job-a's own pause must survive a global ResumeAll")
	case <-time.After(20 * time.Millisecond):
	}
	c.ResumeJob("job-a")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job-a never resumed")
	}
	a.True(true)
}

func TestCoordinator_StopJobCancelsOnlyThatJob(t *testing.T) {
	a := assert.New(t)
	c := New()
	c.RegisterJob("job-a")
	c.RegisterJob("job-b")

	c.StopJob("job-a")

	a.True(c.IsCancelled("job-a"))
	a.False(c.IsCancelled("job-b"))
}

func TestCoordinator_StopAllKeepsCurrentJobsCancelled(t *testing.T) {
	a := assert.New(t)
	c := New()
	c.RegisterJob("job-a")
	c.StopAll()

	a.True(c.IsCancelled("job-a"), "a job stopped mid-run must stay cancelled for the rest of that run")

	// The pause gate itself must not be left closed, or a job that gets
	// re-registered without an intervening Reset would wedge.
	err := c.globalGate.wait(context.Background())
	a.NoError(err, "StopAll must leave the global gate open")
}

func TestCoordinator_StopAllThenResetAndReregister_IsReusable(t *testing.T) {
	a := assert.New(t)
	c := New()
	c.RegisterJob("job-a")
	c.StopAll()

	// The next Scheduler.Execute call always Resets before re-registering
	// jobs, which is how the Coordinator becomes reusable after a stop.
	c.Reset()
	c.RegisterJob("job-a")

	a.False(c.IsCancelled("job-a"), "a freshly re-registered job must start uncancelled")
	err := c.WaitForResume(context.Background(), "job-a")
	a.NoError(err)
}

func TestCoordinator_ResetDropsJobs(t *testing.T) {
	a := assert.New(t)
	c := New()
	c.RegisterJob("job-a")
	c.PauseJob("job-a")

	c.Reset()

	// job-a is no longer registered; WaitForResume falls back to the
	// (fresh, running) global gate only.
	err := c.WaitForResume(context.Background(), "job-a")
	a.NoError(err)
}
