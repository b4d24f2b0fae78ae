package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/order-notifier/internal/domain"
	"golang.org/x/sys/unix"
)

var _ Locker = (*FileLocker)(nil)

type lockFileContent struct {
	Token      string    `json:"token"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// FileLocker holds an exclusive flock(2) on a lock file. The kernel drops
// the lock when the holding process exits, so a crashed run never blocks
// the next one. The file is never removed: a contender may already have it
// open, and unlinking it would let two runs lock different inodes.
type FileLocker struct {
	path string
	now  func() time.Time

	mu    sync.Mutex
	file  *os.File
	token string
}

func NewFileLocker(path string) (*FileLocker, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: lock file path is required", domain.ErrValidation)
	}

	return &FileLocker{
		path: trimmed,
		now:  time.Now,
	}, nil
}

func (l *FileLocker) TryLock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return fmt.Errorf("lock %s is already held by this process", l.path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s%s", domain.ErrRunLocked, l.path, describeHolder(l.path))
		}
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}

	content := lockFileContent{
		Token:      uuid.NewString(),
		PID:        os.Getpid(),
		AcquiredAt: l.now().UTC(),
	}
	if err := writeHolder(f, content); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return err
	}

	l.file = f
	l.token = content.Token
	return nil
}

func (l *FileLocker) Unlock(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	l.token = ""

	// Clear the holder info while still locked; closing releases the flock.
	_ = f.Truncate(0)
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to release lock file: %w", err)
	}
	return nil
}

func writeHolder(f *os.File, content lockFileContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode lock holder: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if _, err := f.WriteAt(append(data, '\n'), 0); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// describeHolder reports who holds the lock, best effort.
func describeHolder(path string) string {
	content, err := readLockFile(path)
	if err != nil || content.PID == 0 {
		return ""
	}
	return fmt.Sprintf(" (pid %d since %s)", content.PID, content.AcquiredAt.Format(time.RFC3339))
}

func readLockFile(path string) (lockFileContent, error) {
	var content lockFileContent
	data, err := os.ReadFile(path)
	if err != nil {
		return content, err
	}
	if err := json.Unmarshal(data, &content); err != nil {
		return content, err
	}
	return content, nil
}
