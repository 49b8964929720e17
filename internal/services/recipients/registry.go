// Package recipients tracks the set of chats subscribed to change
// notifications. The in-memory set is authoritative; every mutation is
// mirrored to persistence, and a failed write keeps serving from memory while
// reporting the failure to the caller.
package recipients

import (
	"context"
	"sort"
	"sync"

	"stickerbot/internal/storage"
	"stickerbot/pkg/logx"
)

type Registry struct {
	log   logx.Logger
	store storage.Store

	mu  sync.RWMutex
	set map[int64]struct{}
}

func New(store storage.Store, log logx.Logger) *Registry {
	return &Registry{
		log:   log,
		store: store,
		set:   map[int64]struct{}{},
	}
}

// Load populates the registry from persistence. Call once at startup.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ids, err := r.store.LoadRecipients(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.set = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		r.set[id] = struct{}{}
	}
	r.mu.Unlock()
	r.log.Info("recipients loaded", logx.Int("count", len(ids)))
	return nil
}

// Add subscribes a chat. The bool reports whether the chat was newly added.
// A persistence failure is returned but the in-memory set keeps the change.
func (r *Registry) Add(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	if _, ok := r.set[id]; ok {
		r.mu.Unlock()
		return false, nil
	}
	r.set[id] = struct{}{}
	r.mu.Unlock()

	err := r.persist(ctx)
	if err != nil {
		r.log.Warn("recipient list save failed", logx.Int64("chat_id", id), logx.Err(err))
	}
	return true, err
}

// Remove unsubscribes a chat. The bool reports whether the chat was present.
func (r *Registry) Remove(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	if _, ok := r.set[id]; !ok {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.set, id)
	r.mu.Unlock()

	err := r.persist(ctx)
	if err != nil {
		r.log.Warn("recipient list save failed", logx.Int64("chat_id", id), logx.Err(err))
	}
	return true, err
}

// Contains reports whether the chat is subscribed.
func (r *Registry) Contains(id int64) bool {
	r.mu.RLock()
	_, ok := r.set[id]
	r.mu.RUnlock()
	return ok
}

// List returns all subscribed chat ids in ascending order.
func (r *Registry) List() []int64 {
	r.mu.RLock()
	out := make([]int64, 0, len(r.set))
	for id := range r.set {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.set)
}

func (r *Registry) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveRecipients(ctx, r.List())
}
