package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/order-notifier/internal/domain"
)

func newTestFileLocker(t *testing.T, path string) *FileLocker {
	t.Helper()

	l, err := NewFileLocker(path)
	if err != nil {
		t.Fatalf("NewFileLocker() error = %v", err)
	}
	return l
}

func TestFileLockerExcludesSecondHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sent_records.lock")
	first := newTestFileLocker(t, path)
	second := newTestFileLocker(t, path)

	if err := first.TryLock(context.Background()); err != nil {
		t.Fatalf("first TryLock() error = %v", err)
	}
	err := second.TryLock(context.Background())
	if !errors.Is(err, domain.ErrRunLocked) {
		t.Fatalf("second TryLock() error = %v, want ErrRunLocked", err)
	}
	if !strings.Contains(err.Error(), "pid ") {
		t.Fatalf("locked error should name the holder, got %v", err)
	}

	content, err := readLockFile(path)
	if err != nil {
		t.Fatalf("readLockFile() error = %v", err)
	}
	if content.Token != first.token || content.PID != os.Getpid() {
		t.Fatalf("lock file content = %+v, want first holder", content)
	}

	if err := first.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := second.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	if err := second.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
}

func TestFileLockerSingleWinnerUnderContention(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sent_records.lock")
	// A lock file left by an earlier run must not change the outcome.
	if err := os.WriteFile(path, []byte(`{"token":"old","pid":1,"acquiredAt":"2000-01-01T00:00:00Z"}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	const contenders = 16
	lockers := make([]*FileLocker, contenders)
	for i := range lockers {
		lockers[i] = newTestFileLocker(t, path)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*FileLocker
		start   = make(chan struct{})
	)
	for _, l := range lockers {
		wg.Add(1)
		go func(l *FileLocker) {
			defer wg.Done()
			<-start
			err := l.TryLock(context.Background())
			switch {
			case err == nil:
				mu.Lock()
				winners = append(winners, l)
				mu.Unlock()
			case !errors.Is(err, domain.ErrRunLocked):
				t.Errorf("TryLock() error = %v", err)
			}
		}(l)
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("holders = %d, want exactly 1", len(winners))
	}
	if err := winners[0].Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
}

func TestFileLockerReleasedWhenHolderDies(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sent_records.lock")
	crashed := newTestFileLocker(t, path)
	if err := crashed.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	// Process exit closes the descriptor without Unlock.
	_ = crashed.file.Close()

	next := newTestFileLocker(t, path)
	if err := next.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() after holder exit error = %v", err)
	}
	if err := next.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
}

func TestFileLockerUnlockKeepsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sent_records.lock")
	l := newTestFileLocker(t, path)
	l.now = func() time.Time { return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) }

	if err := l.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	content, err := readLockFile(path)
	if err != nil {
		t.Fatalf("readLockFile() error = %v", err)
	}
	if !content.AcquiredAt.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("acquiredAt = %v", content.AcquiredAt)
	}

	if err := l.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("lock file should stay in place: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("holder info should be cleared, size = %d", info.Size())
	}
}

func TestFileLockerDoubleLockInSameProcess(t *testing.T) {
	t.Parallel()

	l := newTestFileLocker(t, filepath.Join(t.TempDir(), "sent_records.lock"))
	if err := l.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if err := l.TryLock(context.Background()); err == nil {
		t.Fatal("second TryLock() on the same locker should fail")
	}
	if err := l.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := l.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() without holding should be a no-op, got %v", err)
	}
}

func TestFileLockerCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := newTestFileLocker(t, filepath.Join(t.TempDir(), "sent_records.lock"))
	if err := l.TryLock(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("TryLock() error = %v, want context.Canceled", err)
	}
}

func TestNewFileLockerRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := NewFileLocker("  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("NewFileLocker() error = %v, want ErrValidation", err)
	}
}
