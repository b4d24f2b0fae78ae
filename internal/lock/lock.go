package lock

import (
	"context"
	"errors"
)

// ErrLockLost is returned by Unlock when the lock expired or was taken over
// before the holder released it.
var ErrLockLost = errors.New("run lock lost before release")

// Locker guards a notifier run against overlapping invocations. TryLock
// returns domain.ErrRunLocked when another holder owns the lock.
type Locker interface {
	TryLock(ctx context.Context) error
	Unlock(ctx context.Context) error
}
