package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const storeVersion = 1

type storeDoc struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// Store owns the on-disk job list. Every mutation rewrites the whole file
// through a temp file and rename, so a crash never leaves a torn document.
type Store struct {
	mu   sync.Mutex
	path string
	jobs []Job
}

// OpenStore loads the store at path. A missing, empty or corrupt file is
// treated as an empty job list; the first write repairs it.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cron store: %w", err)
	}
	var doc storeDoc
	if len(data) == 0 || json.Unmarshal(data, &doc) != nil {
		return s, nil
	}
	s.jobs = doc.Jobs
	return s, nil
}

// Jobs returns a copy of all jobs.
func (s *Store) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Get returns the job with the given id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// Add appends a job and persists.
func (s *Store) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return s.persist()
}

// Update applies fn to the job with the given id and persists.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			fn(&s.jobs[i])
			return s.persist()
		}
	}
	return fmt.Errorf("cron job %s not found", id)
}

// Remove deletes the job with the given id and persists. Removing an absent
// id is not an error; the outcome is the same.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true, s.persist()
		}
	}
	return false, nil
}

// persist writes the whole document atomically. Caller holds s.mu.
func (s *Store) persist() error {
	doc := storeDoc{Version: storeVersion, Jobs: s.jobs}
	if doc.Jobs == nil {
		doc.Jobs = []Job{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cron store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cron dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "jobs-*.json")
	if err != nil {
		return fmt.Errorf("create temp cron store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cron store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cron store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cron store: %w", err)
	}
	return nil
}
