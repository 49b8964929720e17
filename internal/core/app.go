// Package core wires the bot together: config, logging, storage, the
// Telegram adapter, the change-detection pipeline and the command surface.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stickerbot/internal/catalog"
	"stickerbot/internal/config"
	"stickerbot/internal/httpserver"
	"stickerbot/internal/services/dispatch"
	"stickerbot/internal/services/freshness"
	"stickerbot/internal/services/recipients"
	"stickerbot/internal/services/reminder"
	"stickerbot/internal/services/snapshots"
	"stickerbot/internal/storage"
	kit "stickerbot/internal/transport"
	"stickerbot/internal/transport/telegram"
	"stickerbot/pkg/logx"
)

type StopReason string

const (
	StopReasonSignal   StopReason = "signal"
	StopReasonFatal    StopReason = "fatal"
	StopReasonShutdown StopReason = "shutdown"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter
	store   storage.Store

	recipients *recipients.Registry
	snaps      *snapshots.Store
	reminders  *reminder.Engine
	dispatcher *dispatch.Dispatcher
	monitor    *freshness.Monitor
	httpSrv    *httpserver.Server

	cmdm *CommandManager

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(ctx, telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	var storeCfg storage.Config
	if cfg.Storage != nil {
		busy, derr := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if derr != nil {
			_ = logSvc.Close()
			return nil, derr
		}
		storeCfg = storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg := recipients.New(store, log.With(logx.String("comp", "recipients")))
	snaps := snapshots.New(store, log.With(logx.String("comp", "snapshots")))

	dur := func(field, raw string, def time.Duration) time.Duration {
		d, derr := config.DurationOr(field, raw, def)
		if derr != nil {
			log.Warn("invalid duration, using default", logx.String("field", field), logx.Err(derr))
			return def
		}
		return d
	}

	rem := reminder.New(reminder.Config{
		Interval: dur("catalog.reminder_interval", cfg.Catalog.ReminderInterval, 2*time.Minute),
		AppURL:   cfg.Catalog.AppURL,
	}, ad, log.With(logx.String("comp", "reminder")))

	disp := dispatch.New(dispatch.Config{
		RatePerSec:    cfg.Catalog.AnnounceRatePerSec,
		AnnounceDelay: dur("catalog.announce_delay", cfg.Catalog.AnnounceDelay, 1500*time.Millisecond),
	}, ad, reg, rem, log.With(logx.String("comp", "dispatch")))

	mon := freshness.New(freshness.Config{
		StaleAfter: dur("catalog.stale_after", cfg.Catalog.StaleAfter, time.Hour),
		CheckEvery: dur("catalog.check_every", cfg.Catalog.CheckEvery, 5*time.Minute),
		Operators:  cfg.Telegram.AdminUserIDs,
	}, ad, reg, log.With(logx.String("comp", "freshness")))

	cmdm := NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfgm, cfg.Telegram.AdminUserIDs)

	a := &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		adapter:    ad,
		store:      store,
		recipients: reg,
		snaps:      snaps,
		reminders:  rem,
		dispatcher: disp,
		monitor:    mon,
		cmdm:       cmdm,
		updates:    make(chan kit.Update, 256),
	}

	if cfg.HTTP.Enabled {
		a.httpSrv = httpserver.New(httpserver.Config{
			Addr:         cfg.HTTP.Addr,
			AllowOrigin:  cfg.HTTP.AllowOrigin,
			ReadTimeout:  dur("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second),
			WriteTimeout: dur("http.write_timeout", cfg.HTTP.WriteTimeout, 10*time.Second),
			IdleTimeout:  dur("http.idle_timeout", cfg.HTTP.IdleTimeout, time.Minute),
		}, a, log.With(logx.String("comp", "http")))
	}

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.recipients.Load(a.sup.Context()); err != nil {
		a.log.Warn("recipient restore failed, starting empty", logx.Err(err))
	}
	if err := a.snaps.Load(a.sup.Context()); err != nil {
		a.log.Warn("snapshot restore failed, starting empty", logx.Err(err))
	}
	if _, at := a.snaps.Current(); !at.IsZero() {
		a.monitor.MarkFresh(at)
	}

	a.reminders.Start(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.cmdm.SetRegistry(a.registry())
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		if err := mu.UpdateMenuCommands(a.sup.Context(), a.cmdm.MenuCommands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	}

	if err := a.monitor.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.httpSrv != nil {
		a.sup.Go("http.serve", func(c context.Context) error {
			return a.httpSrv.Run(c)
		})
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a hot-reloaded config into the running services.
// Settings that require a restart (token, storage driver, http addr) are
// deliberately left alone.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.cmdm.SetAdmins(cfg.Telegram.AdminUserIDs)

	interval, err := config.DurationOr("catalog.reminder_interval", cfg.Catalog.ReminderInterval, 2*time.Minute)
	if err == nil {
		a.reminders.Apply(reminder.Config{Interval: interval, AppURL: cfg.Catalog.AppURL})
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component cannot stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.httpSrv != nil {
		step("http", 2*time.Second, func(c context.Context) error { return a.httpSrv.Shutdown(c) })
	}
	step("freshness", time.Second, func(context.Context) error { a.monitor.Stop(); return nil })
	step("reminders", 2*time.Second, func(context.Context) error { a.reminders.Shutdown(); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

// IngestSnapshot runs the full snapshot pipeline: parse, diff against the
// current baseline, accept, mark the feed fresh and fan the changes out
// asynchronously. A malformed payload is rejected without touching state.
func (a *App) IngestSnapshot(ctx context.Context, payload []byte) (first bool, changes catalog.ChangeSet, err error) {
	snap, err := catalog.ParseSnapshot(payload)
	if err != nil {
		a.log.Warn("snapshot rejected", logx.Err(err))
		return false, catalog.ChangeSet{}, err
	}

	prev, _ := a.snaps.Current()
	now := time.Now()

	if prev == nil {
		if err := a.snaps.Accept(ctx, snap, now); err != nil {
			a.log.Warn("baseline persist failed", logx.Err(err))
		}
		a.monitor.MarkFresh(now)
		a.log.Info("first snapshot accepted", logx.Int("collections", len(snap.Data)))
		return true, catalog.ChangeSet{}, nil
	}

	cs := catalog.Diff(prev, snap)
	if err := a.snaps.Accept(ctx, snap, now); err != nil {
		a.log.Warn("snapshot persist failed", logx.Err(err))
	}
	a.monitor.MarkFresh(now)

	if cs.Empty() {
		a.log.Debug("snapshot accepted, no changes")
		return false, cs, nil
	}

	a.log.Info("snapshot accepted with changes",
		logx.Int("added", len(cs.Added)),
		logx.Int("removed", len(cs.Removed)),
		logx.Int("updated", len(cs.Updated)))

	a.sup.Go0("dispatch.changes", func(c context.Context) {
		a.dispatcher.Dispatch(c, cs)
	})
	return false, cs, nil
}

// CurrentSnapshot exposes the raw baseline payload for the read API.
func (a *App) CurrentSnapshot() (payload []byte, acceptedAt time.Time, ok bool) {
	snap, at := a.snaps.Current()
	if snap == nil {
		return nil, time.Time{}, false
	}
	return snap.Payload(), at, true
}

// ResetCache clears the baseline so the next snapshot is treated as first.
func (a *App) ResetCache(ctx context.Context) error {
	return a.snaps.Reset(ctx)
}
