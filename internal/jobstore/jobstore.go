// Package jobstore implements the persistent job configuration store:
// CRUD over named BackupJob definitions, independent of any single run.
// FileStore reads the whole JSON document under one lock and writes the
// whole document back on every mutation.
package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/theweak1/backupsvc/internal/types"
)

// Store is the CRUD surface over job definitions.
type Store interface {
	List() ([]types.BackupJob, error)
	Get(id int) (types.BackupJob, error)
	Put(job types.BackupJob) (types.BackupJob, error)
	Delete(id int) error
}

// MemoryStore is an in-process Store used by tests and by callers who
// only ever run against an in-memory job list loaded from config.ini.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[int]types.BackupJob
	next int
}

// NewMemoryStore seeds a MemoryStore with an initial job list, typically
// the one returned by config.Load.
func NewMemoryStore(jobs []types.BackupJob) *MemoryStore {
	m := &MemoryStore{jobs: make(map[int]types.BackupJob, len(jobs))}
	maxID := 0
	for _, j := range jobs {
		m.jobs[j.ID] = j
		if j.ID > maxID {
			maxID = j.ID
		}
	}
	m.next = maxID + 1
	return m
}

func (m *MemoryStore) List() ([]types.BackupJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.BackupJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *MemoryStore) Get(id int) (types.BackupJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return types.BackupJob{}, fmt.Errorf("job %d not found", id)
	}
	return j, nil
}

func (m *MemoryStore) Put(job types.BackupJob) (types.BackupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == 0 {
		job.ID = m.next
		m.next++
	} else if job.ID >= m.next {
		m.next = job.ID + 1
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *MemoryStore) Delete(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("job %d not found", id)
	}
	delete(m.jobs, id)
	return nil
}

// FileStore is a JSON-file-backed Store. Every mutation reads the whole
// file, applies the change, and writes the whole file back under mu.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens (creating if absent) a job store backed by path.
func NewFileStore(path string) (*FileStore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create job store directory: %w", err)
		}
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("initialize job store: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) readAll() ([]types.BackupJob, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read job store: %w", err)
	}
	var jobs []types.BackupJob
	if len(b) > 0 {
		if err := json.Unmarshal(b, &jobs); err != nil {
			return nil, fmt.Errorf("parse job store: %w", err)
		}
	}
	return jobs, nil
}

func (f *FileStore) writeAll(jobs []types.BackupJob) error {
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	b, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job store: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write job store: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) List() ([]types.BackupJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readAll()
}

func (f *FileStore) Get(id int) (types.BackupJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs, err := f.readAll()
	if err != nil {
		return types.BackupJob{}, err
	}
	for _, j := range jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return types.BackupJob{}, fmt.Errorf("job %d not found", id)
}

func (f *FileStore) Put(job types.BackupJob) (types.BackupJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs, err := f.readAll()
	if err != nil {
		return types.BackupJob{}, err
	}

	if job.ID == 0 {
		maxID := 0
		for _, j := range jobs {
			if j.ID > maxID {
				maxID = j.ID
			}
		}
		job.ID = maxID + 1
	}

	replaced := false
	for i, j := range jobs {
		if j.ID == job.ID {
			jobs[i] = job
			replaced = true
			break
		}
	}
	if !replaced {
		jobs = append(jobs, job)
	}

	if err := f.writeAll(jobs); err != nil {
		return types.BackupJob{}, err
	}
	return job, nil
}

func (f *FileStore) Delete(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs, err := f.readAll()
	if err != nil {
		return err
	}
	out := jobs[:0]
	found := false
	for _, j := range jobs {
		if j.ID == id {
			found = true
			continue
		}
		out = append(out, j)
	}
	if !found {
		return fmt.Errorf("job %d not found", id)
	}
	return f.writeAll(out)
}
