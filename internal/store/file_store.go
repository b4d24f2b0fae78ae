package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kursadbilgin/order-notifier/internal/domain"
)

var _ SentRecordStore = (*FileStore)(nil)

// FileStore keeps the sent record in a human-readable JSON document and
// replaces it atomically with write-to-temp-then-rename.
type FileStore struct {
	path         string
	marketplaces []domain.Marketplace
	mu           sync.Mutex
}

func NewFileStore(path string, marketplaces ...domain.Marketplace) (*FileStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: state file path is required", domain.ErrValidation)
	}

	return &FileStore{
		path:         trimmed,
		marketplaces: marketplaces,
	}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (*domain.SentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewSentRecord(s.marketplaces...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrPersistenceFailed, s.path, err)
	}

	record := domain.NewSentRecord()
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrPersistenceFailed, s.path, err)
	}
	for _, m := range s.marketplaces {
		record.Ensure(m)
	}

	return record, nil
}

func (s *FileStore) Save(ctx context.Context, record *domain.SentRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", domain.ErrPersistenceFailed)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", domain.ErrPersistenceFailed, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", domain.ErrPersistenceFailed, s.path, err)
	}
	return nil
}

// writeFileAtomic writes into a temp file in the target directory, so the
// final rename never crosses filesystems.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}

	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
