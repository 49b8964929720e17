// Package freshness watches how long ago the last snapshot was accepted and
// raises a one-shot alert when the feed goes quiet for too long.
package freshness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stickerbot/internal/services/recipients"
	kit "stickerbot/internal/transport"
	"stickerbot/pkg/logx"
	"stickerbot/pkg/tgui"
)

type Config struct {
	// StaleAfter is how long without a snapshot counts as a stale feed.
	StaleAfter time.Duration
	// CheckEvery is the polling cadence of the watchdog.
	CheckEvery time.Duration
	// Operators receives the alert; when empty it goes to all subscribers.
	Operators []int64
}

type Monitor struct {
	log        logx.Logger
	adapter    kit.Adapter
	recipients *recipients.Registry
	cfg        Config

	cron    *cron.Cron
	entryID cron.EntryID

	mu          sync.Mutex
	lastAccept  time.Time
	alertActive bool

	// now is swappable in tests.
	now func() time.Time
}

func New(cfg Config, adapter kit.Adapter, reg *recipients.Registry, log logx.Logger) *Monitor {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = 5 * time.Minute
	}
	return &Monitor{
		log:        log,
		adapter:    adapter,
		recipients: reg,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Start schedules the periodic staleness check. The watchdog stays silent
// until the first snapshot arrives: an empty feed at startup is not stale.
func (m *Monitor) Start(ctx context.Context) error {
	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", m.cfg.CheckEvery)
	id, err := m.cron.AddFunc(spec, func() { m.check(ctx) })
	if err != nil {
		return fmt.Errorf("schedule freshness check: %w", err)
	}
	m.entryID = id
	m.cron.Start()
	m.log.Info("freshness monitor started",
		logx.Duration("stale_after", m.cfg.StaleAfter),
		logx.Duration("check_every", m.cfg.CheckEvery))
	return nil
}

func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
}

// MarkFresh records a snapshot acceptance and clears any active alert
// immediately instead of waiting for the next poll.
func (m *Monitor) MarkFresh(t time.Time) {
	m.mu.Lock()
	m.lastAccept = t
	cleared := m.alertActive
	m.alertActive = false
	m.mu.Unlock()
	if cleared {
		m.log.Info("feed recovered, staleness alert cleared")
	}
}

// Stale reports whether the feed is currently past the threshold. False
// before the first snapshot.
func (m *Monitor) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastAccept.IsZero() {
		return false
	}
	return m.now().Sub(m.lastAccept) > m.cfg.StaleAfter
}

// LastAccept returns when the last snapshot was accepted; zero before the
// first one.
func (m *Monitor) LastAccept() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAccept
}

// check fires the alert at most once per stale episode: the latch resets
// only when MarkFresh observes a new snapshot.
func (m *Monitor) check(ctx context.Context) {
	m.mu.Lock()
	if m.lastAccept.IsZero() || m.alertActive {
		m.mu.Unlock()
		return
	}
	silence := m.now().Sub(m.lastAccept)
	if silence <= m.cfg.StaleAfter {
		m.mu.Unlock()
		return
	}
	m.alertActive = true
	last := m.lastAccept
	m.mu.Unlock()

	m.log.Warn("snapshot feed stale", logx.Duration("silence", silence), logx.Time("last_accept", last))
	m.alert(ctx, silence, last)
}

func (m *Monitor) alert(ctx context.Context, silence time.Duration, last time.Time) {
	targets := m.cfg.Operators
	if len(targets) == 0 {
		targets = m.recipients.List()
	}
	if len(targets) == 0 {
		return
	}

	text := string(tgui.JoinH("\n",
		tgui.B("⚠️ Snapshot feed is stale"),
		tgui.Esc(fmt.Sprintf("No snapshot received for %s.", silence.Round(time.Minute))),
		tgui.Esc("Last accepted: "+last.Format("2006-01-02 15:04:05 MST")),
	))
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	for _, chatID := range targets {
		if _, err := m.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt); err != nil {
			m.log.Warn("staleness alert send failed", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}
}
