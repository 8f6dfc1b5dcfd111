package staterepo

import (
	"path/filepath"
	"testing"

	"github.com/theweak1/backupsvc/internal/types"
)

func TestMemoryRepository_SaveLoadRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()

	in := map[string]types.JobState{
		"Documents": {Name: "Documents", Status: types.StatusActive, TotalFiles: 4},
	}
	if err := repo.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := repo.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out["Documents"].TotalFiles != 4 {
		t.Fatalf("want TotalFiles=4, got %+v", out["Documents"])
	}

	// Mutating the returned map must not affect the repository's own copy.
	out["Documents"] = types.JobState{Name: "tampered"}
	again, _ := repo.Load()
	if again["Documents"].Name != "Documents" {
		t.Fatalf("Load must return an isolated copy, got %+v", again["Documents"])
	}
}

func TestFileRepository_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "jobstate.json")
	repo, err := NewFileRepository(path)
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}

	in := map[string]types.JobState{
		"Documents": {Name: "Documents", Status: types.StatusCompleted, TotalSize: 1024},
	}
	if err := repo.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := repo.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out["Documents"].Status != types.StatusCompleted || out["Documents"].TotalSize != 1024 {
		t.Fatalf("want round-tripped state, got %+v", out["Documents"])
	}
}

func TestFileRepository_LoadMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "jobstate.json")
	repo, err := NewFileRepository(path)
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}

	out, err := repo.Load()
	if err != nil {
		t.Fatalf("Load on a never-written file must not error, got %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("want an empty map, got %+v", out)
	}
}
