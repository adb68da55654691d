// Package checkpoint persists classification progress so an
// interrupted run can resume from the last completed record.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// ErrNotFound is returned by Load when no checkpoint exists for the
// job.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted progress marker.
type Checkpoint struct {
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	LastIndex int       `json:"last_index"`
	Processed int       `json:"processed_count"`
	Total     int       `json:"total"`
	Provider  string    `json:"provider"`
	// CompletedKeys are the canonical keys of every record whose final
	// state was made durable before this checkpoint was written. Resume
	// matches on keys, not indexes, so the next run's input ordering
	// does not matter.
	CompletedKeys []string       `json:"completed_keys,omitempty"`
	Stats         map[string]int `json:"stats,omitempty"`
}

// Store is resumable-progress storage.
type Store interface {
	Save(cp Checkpoint) error
	Load(jobID string) (*Checkpoint, error)
	Clear(jobID string) error
}

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileStore keeps one JSON file per job under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(jobID string) (string, error) {
	if !jobIDPattern.MatchString(jobID) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return filepath.Join(s.dir, jobID+".json"), nil
}

func (s *FileStore) Save(cp Checkpoint) error {
	path, err := s.path(cp.JobID)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", cp.JobID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", cp.JobID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish checkpoint %s: %w", cp.JobID, err)
	}
	return nil
}

func (s *FileStore) Load(jobID string) (*Checkpoint, error) {
	path, err := s.path(jobID)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", jobID, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", jobID, err)
	}
	return &cp, nil
}

func (s *FileStore) Clear(jobID string) error {
	path, err := s.path(jobID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear checkpoint %s: %w", jobID, err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu  sync.Mutex
	cps map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: make(map[string]Checkpoint)}
}

func (s *MemoryStore) Save(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[cp.JobID] = cp
	return nil
}

func (s *MemoryStore) Load(jobID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.cps[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cp, nil
}

func (s *MemoryStore) Clear(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cps, jobID)
	return nil
}
