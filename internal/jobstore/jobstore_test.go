package jobstore

import (
	"path/filepath"
	"testing"

	"github.com/theweak1/backupsvc/internal/types"
)

func TestMemoryStore_PutAssignsAndRoundTrips(t *testing.T) {
	s := NewMemoryStore(nil)

	job, err := s.Put(types.BackupJob{Name: "Documents", Kind: types.KindFull})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if job.ID != 1 {
		t.Fatalf("want auto-assigned ID 1, got %d", job.ID)
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Documents" {
		t.Fatalf("want Documents, got %+v", got)
	}
}

func TestMemoryStore_SeededIDsDoNotCollide(t *testing.T) {
	s := NewMemoryStore([]types.BackupJob{{ID: 5, Name: "Existing"}})

	job, err := s.Put(types.BackupJob{Name: "New"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if job.ID != 6 {
		t.Fatalf("want the next store to avoid colliding with a seeded ID 5, got %d", job.ID)
	}
}

func TestMemoryStore_DeleteUnknown(t *testing.T) {
	s := NewMemoryStore(nil)
	if err := s.Delete(99); err == nil {
		t.Fatal("want an error deleting an unknown job id")
	}
}

func TestMemoryStore_ListIsSortedByID(t *testing.T) {
	s := NewMemoryStore([]types.BackupJob{{ID: 3, Name: "c"}, {ID: 1, Name: "a"}, {ID: 2, Name: "b"}})

	jobs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i-1].ID > jobs[i].ID {
			t.Fatalf("want jobs sorted by ID, got %+v", jobs)
		}
	}
}

func TestFileStore_CreatesEmptyFileAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs", "jobs.json")
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	jobs, err := fs.List()
	if err != nil {
		t.Fatalf("List on a fresh store: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("want an empty job list, got %+v", jobs)
	}

	job, err := fs.Put(types.BackupJob{Name: "Documents", Kind: types.KindDifferential})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(job.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Name != "Documents" || got.Kind != types.KindDifferential {
		t.Fatalf("want the persisted job to survive a reopen, got %+v", got)
	}
}

func TestFileStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	job, err := fs.Put(types.BackupJob{Name: "Documents"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := fs.Delete(job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.Get(job.ID); err == nil {
		t.Fatal("want an error getting a deleted job")
	}
}
