package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theweak1/backupsvc/internal/types"
)

func TestGlobalFileQueue_PriorityDrainsFirst(t *testing.T) {
	a := assert.New(t)
	q := New()

	q.Enqueue(types.FileWorkItem{SourcePath: "normal-1"})
	q.Enqueue(types.FileWorkItem{SourcePath: "priority-1", IsPriority: true})
	q.Enqueue(types.FileWorkItem{SourcePath: "normal-2"})
	q.Enqueue(types.FileWorkItem{SourcePath: "priority-2", IsPriority: true})

	item, ok := q.TryDequeue()
	a.True(ok)
	a.Equal("priority-1", item.SourcePath)

	item, ok = q.TryDequeue()
	a.True(ok)
	a.Equal("priority-2", item.SourcePath)

	item, ok = q.TryDequeue()
	a.True(ok)
	a.Equal("normal-1", item.SourcePath)

	item, ok = q.TryDequeue()
	a.True(ok)
	a.Equal("normal-2", item.SourcePath)

	_, ok = q.TryDequeue()
	a.False(ok)
}

func TestGlobalFileQueue_IsCompleted(t *testing.T) {
	a := assert.New(t)
	q := New()

	a.True(q.IsCompleted(), "a fresh queue with no producers is trivially complete")

	q.RegisterProducer()
	a.False(q.IsCompleted())

	q.Enqueue(types.FileWorkItem{SourcePath: "a"})
	a.False(q.IsCompleted())

	q.ProducerDone()
	a.False(q.IsCompleted(), "items still pending even though the producer is done")

	_, ok := q.TryDequeue()
	require.True(t, ok)
	a.True(q.IsCompleted())
}

func TestGlobalFileQueue_WaitWakesOnEnqueue(t *testing.T) {
	q := New()
	done := make(chan struct{})

	woke := make(chan struct{})
	go func() {
		q.Wait(done)
		close(woke)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(types.FileWorkItem{SourcePath: "x"})

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up after Enqueue")
	}
}

func TestGlobalFileQueue_StatsAndReset(t *testing.T) {
	a := assert.New(t)
	q := New()

	q.Enqueue(types.FileWorkItem{IsPriority: true})
	q.Enqueue(types.FileWorkItem{})
	q.Enqueue(types.FileWorkItem{})
	_, _ = q.TryDequeue()

	stats := q.Stats()
	a.Equal(0, stats.PriorityPending)
	a.Equal(2, stats.NormalPending)
	a.EqualValues(1, stats.PriorityProcessed)
	a.EqualValues(0, stats.NormalProcessed)
	a.Equal(2, q.PendingCount())

	q.RegisterProducer()
	q.Reset()

	a.Equal(0, q.PendingCount())
	a.True(q.IsCompleted())
}
