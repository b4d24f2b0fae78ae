package store

import (
	"context"

	"github.com/kursadbilgin/order-notifier/internal/domain"
)

// SentRecordStore persists which orders have already been notified.
// Load returns an empty record when nothing was saved yet. Save replaces the
// persisted state as a whole and must never expose a partial write.
// Both wrap domain.ErrPersistenceFailed on failure.
type SentRecordStore interface {
	Load(ctx context.Context) (*domain.SentRecord, error)
	Save(ctx context.Context, record *domain.SentRecord) error
}
