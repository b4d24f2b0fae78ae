package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrSourceUnavailable = errors.New("order source unavailable")
	ErrDispatchFailed    = errors.New("notification dispatch failed")
	ErrPersistenceFailed = errors.New("sent record persistence failed")
	ErrRunLocked         = errors.New("another run holds the lock")
)

// ErrorKind classifies a failure for logging and per-marketplace results.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindSourceUnavailable ErrorKind = "SOURCE_UNAVAILABLE"
	KindDispatchFailed    ErrorKind = "DISPATCH_FAILED"
	KindPersistenceFailed ErrorKind = "PERSISTENCE_FAILED"
	KindInternal          ErrorKind = "INTERNAL"
)

func (k ErrorKind) String() string { return string(k) }

// KindOf maps an error onto the taxonomy. Unknown errors are INTERNAL.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrDispatchFailed):
		return KindDispatchFailed
	case errors.Is(err, ErrPersistenceFailed):
		return KindPersistenceFailed
	default:
		return KindInternal
	}
}
