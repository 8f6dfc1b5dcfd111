package jobstate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theweak1/backupsvc/internal/staterepo"
	"github.com/theweak1/backupsvc/internal/types"
)

func TestTracker_RegisterAndMutate(t *testing.T) {
	a := assert.New(t)
	tr := New(staterepo.NewMemoryRepository())

	job := types.BackupJob{ID: 1, Name: "Documents", SourcePath: "C:\\src", TargetPath: "D:\\dst"}
	runID := uuid.New()
	tr.RegisterJob(job, runID)

	state, ok := tr.Get("Documents")
	require.True(t, ok)
	a.Equal(types.StatusInactive, state.Status)
	a.Equal(runID, state.RunID)

	err := tr.Mutate("Documents", func(s *types.JobState) {
		s.Status = types.StatusActive
		s.TotalFiles = 3
	})
	require.NoError(t, err)

	state, _ = tr.Get("Documents")
	a.Equal(types.StatusActive, state.Status)
	a.EqualValues(3, state.TotalFiles)
}

func TestTracker_Mutate_UnknownJob(t *testing.T) {
	tr := New(nil)
	err := tr.Mutate("nope", func(s *types.JobState) {})
	assert.Error(t, err)
}

func TestTracker_Finalize(t *testing.T) {
	a := assert.New(t)
	tr := New(nil)
	tr.RegisterJob(types.BackupJob{Name: "Documents"}, uuid.New())

	require.NoError(t, tr.Finalize("Documents", types.StatusCompleted))

	state, _ := tr.Get("Documents")
	a.Equal(types.StatusCompleted, state.Status)
}

func TestTracker_UpdateAll(t *testing.T) {
	a := assert.New(t)
	tr := New(nil)
	tr.RegisterJob(types.BackupJob{Name: "A"}, uuid.New())
	tr.RegisterJob(types.BackupJob{Name: "B"}, uuid.New())

	tr.UpdateAll(func(s *types.JobState) { s.Status = types.StatusPaused })

	for _, name := range []string{"A", "B"} {
		state, ok := tr.Get(name)
		require.True(t, ok)
		a.Equal(types.StatusPaused, state.Status)
	}
}

func TestTracker_Clear(t *testing.T) {
	tr := New(nil)
	tr.RegisterJob(types.BackupJob{Name: "A"}, uuid.New())
	tr.Clear()

	_, ok := tr.Get("A")
	assert.False(t, ok)
	assert.Empty(t, tr.Snapshot())
}

func TestTracker_Subscribe_ReceivesMutations(t *testing.T) {
	tr := New(nil)
	ch := tr.Subscribe()

	tr.RegisterJob(types.BackupJob{Name: "Documents"}, uuid.New())

	select {
	case state := <-ch:
		assert.Equal(t, "Documents", state.Name)
	default:
		t.Fatal("want a state pushed to the subscriber channel")
	}
}

func TestTracker_PersistsThroughRepository(t *testing.T) {
	repo := staterepo.NewMemoryRepository()
	tr := New(repo)
	tr.RegisterJob(types.BackupJob{Name: "Documents"}, uuid.New())
	require.NoError(t, tr.Mutate("Documents", func(s *types.JobState) { s.Status = types.StatusActive }))

	persisted, err := repo.Load()
	require.NoError(t, err)
	require.Contains(t, persisted, "Documents")
	assert.Equal(t, types.StatusActive, persisted["Documents"].Status)
}
