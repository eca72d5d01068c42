package killswitch

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/yllada/vpn-guard/common"
)

// Record is the persisted kill-switch state. It is written on every
// engine transition and read once at startup to resume enforcement.
type Record struct {
	Mode      Mode      `json:"mode"`
	State     State     `json:"state"`
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the durable record abstraction. It is injected into the
// engine so tests can substitute an in-memory implementation.
type Store interface {
	// Load returns the last persisted record, or (nil, nil) when no
	// record exists yet (fresh install).
	Load() (*Record, error)
	// Save overwrites the record with the given mode and state,
	// incrementing the revision.
	Save(mode Mode, state State) error
}

// FileStore persists the record as JSON at an application-owned path.
// Writes are atomic (temp file + rename) and the read-modify-write is
// guarded by an exclusive file lock so a concurrently running main
// process and an emergency-release invocation cannot interleave.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore returns a store rooted in dir. The directory is created
// with owner-only permissions if missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, common.WrapError(err, "failed to create state directory")
	}
	return &FileStore{
		path: filepath.Join(dir, common.KillSwitchFileName),
		lock: flock.New(filepath.Join(dir, common.KillSwitchLockName)),
	}, nil
}

// Path returns the record file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record under the file lock. A missing file is a fresh
// install and yields (nil, nil). A corrupt record is reported so the
// caller can decide whether to fall back to defaults.
func (s *FileStore) Load() (*Record, error) {
	if err := s.lock.Lock(); err != nil {
		return nil, common.WrapError(err, "failed to lock state file")
	}
	defer s.lock.Unlock()

	return s.read()
}

// Save performs the locked read-modify-write: the previous revision is
// read, incremented, and the new record replaces the file atomically.
func (s *FileStore) Save(mode Mode, state State) error {
	if err := s.lock.Lock(); err != nil {
		return common.WrapError(err, "failed to lock state file")
	}
	defer s.lock.Unlock()

	var revision uint64
	if prev, err := s.read(); err == nil && prev != nil {
		revision = prev.Revision
	}

	rec := Record{
		Mode:      mode,
		State:     state,
		Revision:  revision + 1,
		UpdatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return common.WrapError(err, "failed to encode state record")
	}
	data = append(data, '\n')

	// Write-replace so a crash mid-write cannot corrupt the record.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".killswitch-*")
	if err != nil {
		return common.WrapError(err, "failed to create temp state file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return common.WrapError(err, "failed to write state record")
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return common.WrapError(err, "failed to set state file permissions")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return common.WrapError(err, "failed to close temp state file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return common.WrapError(err, "failed to replace state record")
	}
	return nil
}

func (s *FileStore) read() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, common.WrapError(err, "failed to read state record")
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, common.WrapError(err, "failed to parse state record")
	}
	return &rec, nil
}

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu  sync.Mutex
	rec *Record

	// SaveErr, when set, is returned by Save to simulate an
	// unwritable store.
	SaveErr error
}

// Load returns a copy of the current record.
func (s *MemoryStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	rec := *s.rec
	return &rec, nil
}

// Save replaces the record in memory.
func (s *MemoryStore) Save(mode Mode, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	var revision uint64
	if s.rec != nil {
		revision = s.rec.Revision
	}
	s.rec = &Record{
		Mode:      mode,
		State:     state,
		Revision:  revision + 1,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}
