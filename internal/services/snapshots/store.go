// Package snapshots holds the last accepted catalog snapshot and its
// acceptance timestamp, backed by external persistence so the baseline
// survives restarts.
package snapshots

import (
	"context"
	"sync"
	"time"

	"stickerbot/internal/catalog"
	"stickerbot/internal/storage"
	"stickerbot/pkg/logx"
)

type Store struct {
	log   logx.Logger
	store storage.Store

	mu         sync.RWMutex
	snap       *catalog.Snapshot
	acceptedAt time.Time
}

func New(store storage.Store, log logx.Logger) *Store {
	return &Store{log: log, store: store}
}

// Load restores the last persisted snapshot, if any. Call once at startup.
// A corrupt stored payload is logged and skipped, never fatal.
func (s *Store) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	payload, acceptedAt, ok, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	snap, err := catalog.ParseSnapshot(payload)
	if err != nil {
		s.log.Warn("stored snapshot is unreadable, starting empty", logx.Err(err))
		return nil
	}
	s.mu.Lock()
	s.snap = snap
	s.acceptedAt = acceptedAt
	s.mu.Unlock()
	s.log.Info("snapshot restored", logx.Int("collections", len(snap.Data)), logx.Time("accepted_at", acceptedAt))
	return nil
}

// Accept installs snap as the current baseline at the given time and writes
// it through to persistence. A persistence failure is returned to the caller
// but the in-memory baseline is already updated.
func (s *Store) Accept(ctx context.Context, snap *catalog.Snapshot, at time.Time) error {
	s.mu.Lock()
	s.snap = snap
	s.acceptedAt = at
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.SaveSnapshot(ctx, snap.Payload(), at); err != nil {
		s.log.Warn("snapshot save failed", logx.Err(err))
		return err
	}
	return nil
}

// Reset drops the baseline so the next snapshot is treated as the first.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.snap = nil
	s.acceptedAt = time.Time{}
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.ClearSnapshot(ctx); err != nil {
		s.log.Warn("snapshot clear failed", logx.Err(err))
		return err
	}
	s.log.Info("snapshot baseline reset")
	return nil
}

// RemoveItem deletes one collection from the baseline, so a re-appearance in
// the next snapshot is announced again. Returns false when the id is absent.
// The reduced baseline is installed as a fresh snapshot; pointers handed out
// by Current before the removal keep seeing the old, unmodified data.
func (s *Store) RemoveItem(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	if s.snap == nil {
		s.mu.Unlock()
		return false, nil
	}
	reduced, _, ok := s.snap.Without(id)
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	s.snap = reduced
	snap := reduced
	at := s.acceptedAt
	s.mu.Unlock()

	if s.store == nil {
		return true, nil
	}
	if err := s.store.SaveSnapshot(ctx, snap.Payload(), at); err != nil {
		s.log.Warn("snapshot save failed after item removal", logx.Err(err))
		return true, err
	}
	return true, nil
}

// Current returns the last accepted snapshot (nil if none yet) and its
// acceptance time.
func (s *Store) Current() (*catalog.Snapshot, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.acceptedAt
}
