package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"stickerbot/internal/catalog"
	kit "stickerbot/internal/transport"
	"stickerbot/pkg/logx"
)

// fakeAdapter records sends and deletions and can fail on demand.
type fakeAdapter struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMsg
	deleted []int
	edited  []int

	failText  error
	failFirst bool // fail only the first SendText call
}

type sentMsg struct {
	id        int
	chatID    int64
	text      string
	parseMode string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failText != nil {
		err := f.failText
		if f.failFirst {
			f.failText = nil
		}
		return kit.MessageRef{}, err
	}
	f.nextID++
	mode := ""
	if opt != nil {
		mode = opt.ParseMode
	}
	f.sent = append(f.sent, sentMsg{id: f.nextID, chatID: to.ChatID, text: text, parseMode: mode})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, url, caption string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMsg{id: f.nextID, chatID: to.ChatID, text: "photo:" + url})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) EditMarkup(_ context.Context, ref kit.MessageRef, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, ref.MessageID)
	return nil
}

func (f *fakeAdapter) Delete(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref.MessageID)
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func item(id int64, title string) catalog.Collection {
	var c catalog.Collection
	b, _ := json.Marshal(map[string]any{"id": id, "title": title})
	if err := json.Unmarshal(b, &c); err != nil {
		panic(err)
	}
	return c
}

func newTestEngine(ad kit.Adapter) *Engine {
	// Long interval so timers never fire on their own during a test.
	return New(Config{Interval: time.Hour, AppURL: "https://t.me/app"}, ad, logx.Nop())
}

func TestAnnounceIsIdempotent(t *testing.T) {
	ad := &fakeAdapter{}
	e := newTestEngine(ad)
	defer e.Shutdown()
	ctx := context.Background()

	if err := e.Announce(ctx, 10, item(1, "a")); err != nil {
		t.Fatalf("first announce: %v", err)
	}
	first := ad.sentCount()

	if err := e.Announce(ctx, 10, item(1, "a")); err != nil {
		t.Fatalf("second announce: %v", err)
	}
	if got := ad.sentCount(); got != first {
		t.Fatalf("duplicate announce sent messages: %d -> %d", first, got)
	}
	if e.Count() != 1 {
		t.Fatalf("expected exactly one live reminder, got %d", e.Count())
	}
}

func TestAnnounceFailureLeavesNoState(t *testing.T) {
	ad := &fakeAdapter{failText: errors.New("boom")}
	e := newTestEngine(ad)
	defer e.Shutdown()

	if err := e.Announce(context.Background(), 10, item(1, "a")); err == nil {
		t.Fatalf("announce should surface the send failure")
	}
	if e.Count() != 0 {
		t.Fatalf("failed announce must not leave a live state, got %d", e.Count())
	}
}

func TestTickDeletesPreviousReminder(t *testing.T) {
	ad := &fakeAdapter{}
	e := newTestEngine(ad)
	defer e.Shutdown()
	ctx := context.Background()

	if err := e.Announce(ctx, 10, item(1, "a")); err != nil {
		t.Fatalf("announce: %v", err)
	}
	key := Key{ChatID: 10, ItemID: 1}
	e.mu.Lock()
	st := e.states[key]
	e.mu.Unlock()

	e.tick(ctx, key, st)
	e.tick(ctx, key, st)

	ad.mu.Lock()
	defer ad.mu.Unlock()
	// One announcement plus two reminders sent; the first reminder deleted.
	if len(ad.sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(ad.sent))
	}
	if len(ad.deleted) != 1 {
		t.Fatalf("second tick should delete the first reminder, deleted=%v", ad.deleted)
	}
	for i, want := range []string{"#1", "#2"} {
		if got := ad.sent[i+1].text; !strings.Contains(got, want) {
			t.Fatalf("reminder %d missing ordinal %s: %q", i+1, want, got)
		}
	}
}

func TestAcknowledgeStopsAndCleansUp(t *testing.T) {
	ad := &fakeAdapter{}
	e := newTestEngine(ad)
	defer e.Shutdown()
	ctx := context.Background()

	if err := e.Announce(ctx, 10, item(1, "a")); err != nil {
		t.Fatalf("announce: %v", err)
	}
	key := Key{ChatID: 10, ItemID: 1}
	e.mu.Lock()
	st := e.states[key]
	e.mu.Unlock()
	e.tick(ctx, key, st)

	if already := e.Acknowledge(ctx, 10, 1); already {
		t.Fatalf("first acknowledge reported already-acked")
	}
	if e.Count() != 0 {
		t.Fatalf("state should be gone after acknowledge")
	}

	ad.mu.Lock()
	deleted := len(ad.deleted)
	edited := len(ad.edited)
	ad.mu.Unlock()
	if deleted == 0 {
		t.Fatalf("acknowledge should delete reminder messages")
	}
	if edited == 0 {
		t.Fatalf("acknowledge should edit the original announcement markup")
	}

	// Second acknowledge is a distinct no-op outcome.
	if already := e.Acknowledge(ctx, 10, 1); !already {
		t.Fatalf("second acknowledge should report already-acked")
	}
}

func TestTickAfterAcknowledgeDoesNothing(t *testing.T) {
	ad := &fakeAdapter{}
	e := newTestEngine(ad)
	defer e.Shutdown()
	ctx := context.Background()

	if err := e.Announce(ctx, 10, item(1, "a")); err != nil {
		t.Fatalf("announce: %v", err)
	}
	key := Key{ChatID: 10, ItemID: 1}
	e.mu.Lock()
	st := e.states[key]
	e.mu.Unlock()

	e.Acknowledge(ctx, 10, 1)
	before := ad.sentCount()
	e.tick(ctx, key, st)
	if got := ad.sentCount(); got != before {
		t.Fatalf("tick after acknowledge sent a message: %d -> %d", before, got)
	}
}

func TestStopAllOnlyAffectsOneRecipient(t *testing.T) {
	ad := &fakeAdapter{}
	e := newTestEngine(ad)
	defer e.Shutdown()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := e.Announce(ctx, 10, item(i, fmt.Sprintf("c%d", i))); err != nil {
			t.Fatalf("announce: %v", err)
		}
	}
	if err := e.Announce(ctx, 20, item(1, "c1")); err != nil {
		t.Fatalf("announce other chat: %v", err)
	}

	if n := e.StopAll(10); n != 3 {
		t.Fatalf("StopAll(10) = %d, want 3", n)
	}
	if e.ActiveFor(10) != 0 {
		t.Fatalf("chat 10 should have no live reminders")
	}
	if e.ActiveFor(20) != 1 {
		t.Fatalf("chat 20 must keep its reminder")
	}
}

func TestMarkupFallbackOnEntityError(t *testing.T) {
	ad := &fakeAdapter{failText: errors.New("telegram: can't parse entities"), failFirst: true}
	e := newTestEngine(ad)
	defer e.Shutdown()

	if err := e.Announce(context.Background(), 10, item(1, "a")); err != nil {
		t.Fatalf("announce should succeed via plain-text fallback: %v", err)
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.sent) == 0 || ad.sent[0].parseMode != "" {
		t.Fatalf("fallback send should carry no parse mode: %+v", ad.sent)
	}
}
