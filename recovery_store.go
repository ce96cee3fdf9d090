package impersonate

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// RecoveryStore durably keeps the single RecoveryRecord slot of a client.
type RecoveryStore interface {
	// Load returns the stored record, or nil when the slot is empty.
	Load(ctx context.Context) (*RecoveryRecord, error)
	Save(ctx context.Context, record *RecoveryRecord) error
	Clear(ctx context.Context) error
}

// MemoryRecoveryStore keeps the record in memory. It does not survive a
// process restart and is meant for tests and short lived clients.
type MemoryRecoveryStore struct {
	mu     sync.Mutex
	record []byte
}

var _ RecoveryStore = (*MemoryRecoveryStore)(nil)

func NewMemoryRecoveryStore() *MemoryRecoveryStore {
	return &MemoryRecoveryStore{}
}

func (s *MemoryRecoveryStore) Load(ctx context.Context) (*RecoveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeRecoveryRecord(s.record)
}

func (s *MemoryRecoveryStore) Save(ctx context.Context, record *RecoveryRecord) error {
	raw, err := encodeRecoveryRecord(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.record = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryRecoveryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.record = nil
	s.mu.Unlock()
	return nil
}

// FileRecoveryStore keeps the record as a JSON file. Writes go through a
// temporary file and a rename so a crash never leaves a partial record.
type FileRecoveryStore struct {
	mu   sync.Mutex
	path string
}

var _ RecoveryStore = (*FileRecoveryStore)(nil)

func NewFileRecoveryStore(path string) *FileRecoveryStore {
	return &FileRecoveryStore{path: path}
}

func (s *FileRecoveryStore) Load(ctx context.Context) (*RecoveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read recovery record")
	}
	return decodeRecoveryRecord(raw)
}

func (s *FileRecoveryStore) Save(ctx context.Context, record *RecoveryRecord) error {
	raw, err := encodeRecoveryRecord(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create recovery directory")
	}

	tmp, err := os.CreateTemp(dir, ".recovery-*")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write recovery record")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write recovery record")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sync recovery record")
	}
	if err := tmp.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write recovery record")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write recovery record")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to commit recovery record")
	}
	return nil
}

func (s *FileRecoveryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear recovery record")
	}
	return nil
}

func encodeRecoveryRecord(record *RecoveryRecord) ([]byte, error) {
	if record == nil {
		return nil, goerrors.New("recovery record must not be nil", goerrors.CategoryInternal)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode recovery record")
	}
	return raw, nil
}

func decodeRecoveryRecord(raw []byte) (*RecoveryRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	record := &RecoveryRecord{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "corrupt recovery record").
			WithTextCode(TextCodeRestoration)
	}
	return record, nil
}
