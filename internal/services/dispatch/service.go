// Package dispatch fans a computed change set out to every subscribed chat.
//
// Delivery is paced with a shared rate limiter so bursts of changes do not
// trip the messaging platform's flood control, and every send failure is
// isolated: one blocked chat never stops delivery to the rest.
package dispatch

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"stickerbot/internal/catalog"
	"stickerbot/internal/services/recipients"
	"stickerbot/internal/services/reminder"
	kit "stickerbot/internal/transport"
	"stickerbot/pkg/logx"
	"stickerbot/pkg/tgui"
)

type Config struct {
	// RatePerSec caps outgoing messages per second across all recipients.
	RatePerSec float64
	// AnnounceDelay spaces consecutive new-collection announcements to one
	// recipient so the photo follow-ups land in order.
	AnnounceDelay time.Duration
}

type Dispatcher struct {
	log        logx.Logger
	adapter    kit.Adapter
	recipients *recipients.Registry
	reminders  *reminder.Engine
	limiter    *rate.Limiter
	cfg        Config
}

func New(cfg Config, adapter kit.Adapter, reg *recipients.Registry, rem *reminder.Engine, log logx.Logger) *Dispatcher {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.AnnounceDelay <= 0 {
		cfg.AnnounceDelay = 1500 * time.Millisecond
	}
	return &Dispatcher{
		log:        log,
		adapter:    adapter,
		recipients: reg,
		reminders:  rem,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		cfg:        cfg,
	}
}

// Dispatch delivers cs to every currently subscribed chat. Removed and
// updated collections (or generic field changes) go out as one summary
// message per chat; each added collection is announced separately through the
// reminder engine so it acquires its own acknowledgment cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, cs catalog.ChangeSet) {
	if cs.Empty() {
		return
	}
	chats := d.recipients.List()
	if len(chats) == 0 {
		d.log.Info("changes detected but no subscribers", logx.Int("added", len(cs.Added)))
		return
	}

	d.log.Info("dispatching changes",
		logx.Int("recipients", len(chats)),
		logx.Int("added", len(cs.Added)),
		logx.Int("removed", len(cs.Removed)),
		logx.Int("updated", len(cs.Updated)))

	summary := d.summaryText(cs)

	for _, chatID := range chats {
		if ctx.Err() != nil {
			d.log.Warn("dispatch aborted", logx.Err(ctx.Err()))
			return
		}
		d.deliverTo(ctx, chatID, cs, summary)
	}
}

func (d *Dispatcher) deliverTo(ctx context.Context, chatID int64, cs catalog.ChangeSet, summary string) {
	log := d.log.With(logx.Int64("chat_id", chatID))

	if summary != "" {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.sendSafe(ctx, chatID, summary); err != nil {
			log.Warn("summary send failed", logx.Err(err))
			// Fall through; announcements still get their chance.
		}
	}

	for i, item := range cs.Added {
		if i > 0 {
			select {
			case <-time.After(d.cfg.AnnounceDelay):
			case <-ctx.Done():
				return
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.reminders.Announce(ctx, chatID, item); err != nil {
			log.Warn("announce failed", logx.Int64("item_id", item.ID), logx.Err(err))
		}
	}
}

// summaryText renders the non-announcement part of the change set: removed
// and updated collections, or field-level changes for snapshots without an
// item list. Empty string means nothing to summarize.
func (d *Dispatcher) summaryText(cs catalog.ChangeSet) string {
	if cs.Generic {
		if len(cs.Fields) == 0 {
			return ""
		}
		return catalog.FormatFieldChanges(cs.Fields)
	}
	// Additions alone carry no summary; each one gets its own announcement.
	if len(cs.Removed) == 0 && len(cs.Updated) == 0 {
		return ""
	}
	return catalog.FormatChangeSummary(cs)
}

// sendSafe sends HTML text and retries once as plain text when the platform
// rejects the markup, so a hostile title never blocks delivery.
func (d *Dispatcher) sendSafe(ctx context.Context, chatID int64, html string) error {
	to := kit.ChatTarget{ChatID: chatID}
	msg := tgui.Message{Text: html, Opt: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}}
	_, err := msg.Send(ctx, d.adapter, to)
	if err == nil {
		return nil
	}
	if !kit.IsEntityParseError(err) {
		return err
	}
	d.log.Debug("markup rejected, retrying as plain text", logx.Int64("chat_id", chatID))
	_, err = msg.Plain().Send(ctx, d.adapter, to)
	return err
}
