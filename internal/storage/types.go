package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (default when empty)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is "none", storage is disabled and all state is memory-only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the minimal persistence API used by the services.
type Store interface {
	SaveRecipients(ctx context.Context, ids []int64) error
	LoadRecipients(ctx context.Context) ([]int64, error)

	SaveSnapshot(ctx context.Context, payload []byte, acceptedAt time.Time) error
	// LoadSnapshot returns ok=false when no snapshot has been stored yet.
	LoadSnapshot(ctx context.Context) (payload []byte, acceptedAt time.Time, ok bool, err error)
	// ClearSnapshot removes the stored snapshot; a no-op when none exists.
	ClearSnapshot(ctx context.Context) error

	Close() error
}
