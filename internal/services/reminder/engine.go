// Package reminder implements the per-(recipient, item) reminder state
// machine: an announced collection is re-sent on a fixed cadence until the
// recipient acknowledges it.
//
// States: announced -> reminding -> acknowledged. Acknowledged is terminal
// and removes the state. Nothing here is persisted; reminders in flight when
// the process stops are lost (accepted limitation).
package reminder

import (
	"context"
	"sync"
	"time"

	"stickerbot/internal/catalog"
	kit "stickerbot/internal/transport"
	"stickerbot/pkg/logx"
	"stickerbot/pkg/tgui"
)

type Config struct {
	// Interval is the reminder cadence per outstanding announcement.
	Interval time.Duration
	// AppURL is the web-app base used for open-collection buttons.
	AppURL string
}

// Key identifies one live reminder: a recipient/item pair.
type Key struct {
	ChatID int64
	ItemID int64
}

type state struct {
	item      catalog.Collection
	chatID    int64
	startedAt time.Time

	// reminders counts repeat notifications sent so far.
	reminders int

	// stop cancels the repeating timer. Closed exactly once, with e.mu held.
	stop chan struct{}

	originals    []kit.MessageRef
	reminderMsgs []kit.MessageRef
	lastReminder *kit.MessageRef
}

type Engine struct {
	log     logx.Logger
	adapter kit.Adapter

	mu     sync.Mutex
	cfg    Config
	states map[Key]*state

	runCtx context.Context
	wg     sync.WaitGroup
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	return &Engine{
		log:     log,
		adapter: adapter,
		cfg:     cfg,
		states:  map[Key]*state{},
		runCtx:  context.Background(),
	}
}

// Start binds the engine's timers to ctx; cancelling it stops every timer.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()
}

// Apply updates the reminder cadence for timers started after the call.
// Running timers keep their original interval.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	if cfg.Interval > 0 {
		e.cfg.Interval = cfg.Interval
	}
	if cfg.AppURL != "" {
		e.cfg.AppURL = cfg.AppURL
	}
	e.mu.Unlock()
}

// Announce sends the "new collection" notification to one recipient and
// starts the reminder timer. Idempotent: if a live state already exists for
// this (recipient, item) key the call is a no-op, so overlapping deliveries
// of the same snapshot never double the timers.
func (e *Engine) Announce(ctx context.Context, chatID int64, item catalog.Collection) error {
	key := Key{ChatID: chatID, ItemID: item.ID}

	e.mu.Lock()
	if _, ok := e.states[key]; ok {
		e.mu.Unlock()
		e.log.Debug("announce skipped, reminder already live", logx.Int64("chat_id", chatID), logx.Int64("item_id", item.ID))
		return nil
	}
	st := &state{
		item:      item,
		chatID:    chatID,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}
	e.states[key] = st
	appURL := e.cfg.AppURL
	interval := e.cfg.Interval
	runCtx := e.runCtx
	e.mu.Unlock()

	to := kit.ChatTarget{ChatID: chatID}
	markup := catalog.AnnounceMarkup(appURL, item.ID).Markup()

	ref, degraded, err := e.sendChecked(ctx, to, catalog.FormatAnnouncement(item), markup)
	if err != nil {
		// No message means no reminder to manage; drop the state again.
		e.mu.Lock()
		if cur, ok := e.states[key]; ok && cur == st {
			delete(e.states, key)
			close(st.stop)
		}
		e.mu.Unlock()
		return err
	}
	if degraded {
		e.log.Warn("announcement sent without markup", logx.Int64("chat_id", chatID), logx.Int64("item_id", item.ID))
	}
	e.recordOriginal(key, st, ref)

	// Logo follow-up is best-effort; its message still carries the controls
	// so acknowledging cleans it up too.
	if logo, ok := item.Logo(); ok {
		opt := &kit.SendOptions{ReplyMarkupAdapter: markup}
		caption := "Logo of collection " + item.Title
		if pref, perr := e.adapter.SendPhoto(ctx, to, logo, caption, opt); perr != nil {
			e.log.Warn("logo send failed", logx.Int64("chat_id", chatID), logx.Int64("item_id", item.ID), logx.Err(perr))
		} else {
			e.recordOriginal(key, st, pref)
		}
	}

	e.wg.Add(1)
	go e.run(runCtx, key, st, interval)

	e.log.Info("announcement sent", logx.Int64("chat_id", chatID), logx.Int64("item_id", item.ID))
	return nil
}

// Acknowledge stops the reminder for one (recipient, item) key, deletes the
// reminder messages and strips the acknowledge control from the originals.
// The bool reports whether the key was already acknowledged (or never
// announced): that case is a no-op, not an error.
func (e *Engine) Acknowledge(ctx context.Context, chatID, itemID int64) (already bool) {
	key := Key{ChatID: chatID, ItemID: itemID}

	e.mu.Lock()
	st, ok := e.states[key]
	if !ok {
		e.mu.Unlock()
		return true
	}
	// Cancel before any cleanup so a racing tick loses: once the state is
	// gone, tick() aborts without touching messages.
	delete(e.states, key)
	close(st.stop)
	reminderMsgs := append([]kit.MessageRef(nil), st.reminderMsgs...)
	originals := append([]kit.MessageRef(nil), st.originals...)
	appURL := e.cfg.AppURL
	e.mu.Unlock()

	for _, ref := range reminderMsgs {
		if err := e.adapter.Delete(ctx, ref); err != nil {
			e.log.Debug("reminder delete failed", logx.Int("message_id", ref.MessageID), logx.Err(err))
		}
	}

	keep := &kit.SendOptions{ReplyMarkupAdapter: catalog.OpenMarkup(appURL, itemID).Markup()}
	for _, ref := range originals {
		if err := e.adapter.EditMarkup(ctx, ref, keep); err != nil {
			e.log.Debug("original markup edit failed", logx.Int("message_id", ref.MessageID), logx.Err(err))
		}
	}

	e.log.Info("reminder acknowledged", logx.Int64("chat_id", chatID), logx.Int64("item_id", itemID))
	return false
}

// StopAll cancels and removes every live reminder for one recipient,
// returning how many were stopped. Messages already sent are left in place.
func (e *Engine) StopAll(chatID int64) int {
	e.mu.Lock()
	n := 0
	for key, st := range e.states {
		if key.ChatID != chatID {
			continue
		}
		delete(e.states, key)
		close(st.stop)
		n++
	}
	e.mu.Unlock()

	if n > 0 {
		e.log.Info("reminders stopped", logx.Int64("chat_id", chatID), logx.Int("count", n))
	}
	return n
}

// ActiveFor returns the number of live reminders for one recipient.
func (e *Engine) ActiveFor(chatID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for key := range e.states {
		if key.ChatID == chatID {
			n++
		}
	}
	return n
}

// Count returns the total number of live reminders.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// Shutdown cancels every timer and waits for their goroutines to exit.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for key, st := range e.states {
		delete(e.states, key)
		close(st.stop)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, key Key, st *state, interval time.Duration) {
	defer e.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-st.stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			e.tick(ctx, key, st)
		}
	}
}

// tick performs one reminder cycle: delete the previous reminder message
// (best-effort), send a fresh one, record its id. Every step re-validates
// that the state is still live so a concurrent acknowledgment always wins.
func (e *Engine) tick(ctx context.Context, key Key, st *state) {
	e.mu.Lock()
	cur, ok := e.states[key]
	if !ok || cur != st {
		// Acknowledged (or replaced) since the timer fired: no message ops.
		e.mu.Unlock()
		return
	}
	cur.reminders++
	n := cur.reminders
	last := cur.lastReminder
	item := cur.item
	appURL := e.cfg.AppURL
	e.mu.Unlock()

	to := kit.ChatTarget{ChatID: key.ChatID}

	// Delete-then-resend keeps exactly one live reminder visible instead of
	// growing a thread. Deletion failure never blocks the resend.
	if last != nil {
		if err := e.adapter.Delete(ctx, *last); err != nil {
			e.log.Debug("previous reminder delete failed", logx.Int("message_id", last.MessageID), logx.Err(err))
		}
	}

	markup := catalog.AnnounceMarkup(appURL, item.ID).Markup()
	ref, _, err := e.sendChecked(ctx, to, catalog.FormatReminder(item, n), markup)
	if err != nil {
		e.log.Warn("reminder send failed", logx.Int64("chat_id", key.ChatID), logx.Int64("item_id", item.ID), logx.Err(err))
		return // next tick retries
	}

	e.mu.Lock()
	cur, ok = e.states[key]
	if ok && cur == st {
		cur.reminderMsgs = append(cur.reminderMsgs, ref)
		cur.lastReminder = &ref
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// Acknowledged while the send was in flight; remove the orphan so the
	// reminder does not resurrect after acknowledgment.
	if err := e.adapter.Delete(ctx, ref); err != nil {
		e.log.Debug("orphan reminder delete failed", logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}

// recordOriginal appends ref to the state's original messages, unless the
// state was acknowledged while the send was in flight.
func (e *Engine) recordOriginal(key Key, st *state, ref kit.MessageRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.states[key]; ok && cur == st {
		cur.originals = append(cur.originals, ref)
	}
}

// sendChecked sends HTML text and falls back once to plain text when the
// channel rejects the markup. The bool reports whether the fallback was used.
func (e *Engine) sendChecked(ctx context.Context, to kit.ChatTarget, html string, markup any) (kit.MessageRef, bool, error) {
	msg := tgui.Message{Text: html, Opt: &kit.SendOptions{
		ParseMode:          "HTML",
		DisablePreview:     true,
		ReplyMarkupAdapter: markup,
	}}
	ref, err := msg.Send(ctx, e.adapter, to)
	if err == nil {
		return ref, false, nil
	}
	if !kit.IsEntityParseError(err) {
		return kit.MessageRef{}, false, err
	}
	ref, err = msg.Plain().Send(ctx, e.adapter, to)
	if err != nil {
		return kit.MessageRef{}, false, err
	}
	return ref, true, nil
}
