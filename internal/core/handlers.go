package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stickerbot/internal/catalog"
	kit "stickerbot/internal/transport"
	"stickerbot/pkg/logx"
	"stickerbot/pkg/tgui"
)

// registry builds the full command and callback surface of the bot.
func (a *App) registry() ([]Command, []CallbackRoute) {
	cmds := []Command{
		{
			Name:        "start",
			Description: "subscribe to collection updates",
			Usage:       "/start",
			InMenu:      true,
			Handle:      a.cmdStart,
		},
		{
			Name:        "stop",
			Description: "unsubscribe from updates",
			Usage:       "/stop",
			InMenu:      true,
			Handle:      a.cmdStop,
		},
		{
			Name:        "status",
			Description: "show subscription and feed status",
			Usage:       "/status",
			InMenu:      true,
			Handle:      a.cmdStatus,
		},
		{
			Name:        "collections",
			Aliases:     []string{"list"},
			Description: "list known collections",
			Usage:       "/collections [page]",
			InMenu:      true,
			Handle:      a.cmdCollections,
		},
		{
			Name:        "collection",
			Description: "show one collection",
			Usage:       "/collection <id>",
			InMenu:      true,
			Handle:      a.cmdCollection,
		},
		{
			Name:        "data",
			Description: "show the raw snapshot",
			Usage:       "/data",
			Handle:      a.cmdData,
		},
		{
			Name:        "stopnotifications",
			Description: "stop all active reminders",
			Usage:       "/stopnotifications",
			InMenu:      true,
			Handle:      a.cmdStopNotifications,
		},
		{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "show help",
			Usage:       "/help",
			InMenu:      true,
			Handle:      a.cmdHelp,
		},
		{
			Name:        "chats",
			Description: "list subscribed chats",
			Usage:       "/chats",
			Access:      AccessAdminOnly,
			Handle:      a.cmdChats,
		},
		{
			Name:        "removecollection",
			Description: "drop one collection from the baseline",
			Usage:       "/removecollection <id>",
			Access:      AccessAdminOnly,
			Handle:      a.cmdRemoveCollection,
		},
		{
			Name:        "resetcache",
			Description: "clear the snapshot baseline",
			Usage:       "/resetcache",
			Access:      AccessAdminOnly,
			Handle:      a.cmdResetCache,
		},
	}

	cbs := []CallbackRoute{
		{Scope: catalog.CallbackScope, Action: catalog.ActionAck, Handle: a.cbAck},
		{Scope: catalog.CallbackScope, Action: catalog.ActionPage, Handle: a.cbPage},
		{Scope: catalog.CallbackScope, Action: catalog.ActionSubscribe, Handle: a.cbSubscribe},
		{Scope: catalog.CallbackScope, Action: catalog.ActionNoop, Handle: a.cbNoop},
	}
	return cmds, cbs
}

func htmlOpts() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
}

func (a *App) cmdStart(ctx context.Context, req *Request) error {
	added, err := a.recipients.Add(ctx, req.Chat.ChatID)
	if err != nil {
		req.Logger.Warn("subscription persist failed", logx.Err(err))
	}

	snap, _ := a.snaps.Current()
	known := 0
	if snap != nil {
		known = len(snap.Data)
	}

	b := tgui.New()
	if added {
		b.Title("👋", "Welcome!").Blank().
			Line("You are subscribed to sticker collection updates.")
	} else {
		b.Line("You are already subscribed.")
	}
	b.Line(fmt.Sprintf("Currently tracking %d collections.", known)).
		Line("Use /collections to browse them, /help for everything else.")
	if appURL := req.Config.Catalog.AppURL; appURL != "" {
		b.Inline(tgui.NewInline().Row(tgui.URLBtn("📲 Open sticker app", catalog.AppURL(appURL, 0))))
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (a *App) cmdStop(ctx context.Context, req *Request) error {
	removed, err := a.recipients.Remove(ctx, req.Chat.ChatID)
	if err != nil {
		req.Logger.Warn("unsubscribe persist failed", logx.Err(err))
	}
	stopped := a.reminders.StopAll(req.Chat.ChatID)

	text := "You were not subscribed."
	if removed {
		text = "🔕 Unsubscribed. You will not receive further updates."
		if stopped > 0 {
			text += fmt.Sprintf("\n%d active reminders were stopped.", stopped)
		}
	}
	opt := &kit.SendOptions{
		DisablePreview: true,
		ReplyMarkupAdapter: tgui.NewInline().
			Row(tgui.Btn("🔔 Subscribe again", tgui.Data(catalog.CallbackScope, catalog.ActionSubscribe, ""))).
			Markup(),
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, text, opt)
	return err
}

func (a *App) cmdStatus(ctx context.Context, req *Request) error {
	snap, at := a.snaps.Current()

	b := tgui.New().Title("ℹ️", "Status").Blank()
	if a.recipients.Contains(req.Chat.ChatID) {
		b.KV("Subscription", "active")
	} else {
		b.KV("Subscription", "none (use /start)")
	}
	if live := a.reminders.ActiveFor(req.Chat.ChatID); live > 0 {
		b.KV("Active reminders", fmt.Sprint(live))
	}
	if snap == nil {
		b.KV("Snapshot", "none received yet")
	} else {
		b.KV("Snapshot", fmt.Sprintf("%d collections, accepted %s ago",
			len(snap.Data), time.Since(at).Round(time.Second)))
		if a.monitor.Stale() {
			b.Line("⚠️ The snapshot feed looks stale.")
		}
	}
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (a *App) cmdCollections(ctx context.Context, req *Request) error {
	page := 1
	if len(req.Args) > 0 {
		if p, err := strconv.Atoi(req.Args[0]); err == nil {
			page = p
		}
	}
	snap, _ := a.snaps.Current()
	var items []catalog.Collection
	if snap != nil {
		items = snap.Data
	}

	pageSize := req.Config.Catalog.PageSize
	text, effPage, totalPages := catalog.FormatList(items, page, pageSize)

	opt := htmlOpts()
	if totalPages > 1 {
		opt.ReplyMarkupAdapter = catalog.ListNavMarkup(effPage, totalPages).Markup()
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, text, opt)
	return err
}

func (a *App) cmdCollection(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Usage: /collection <id>", nil)
		return err
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "Collection id must be a number.", nil)
		return serr
	}

	snap, _ := a.snaps.Current()
	var item *catalog.Collection
	if snap != nil {
		item = snap.Find(id)
	}
	if item == nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Collection %d not found.", id), nil)
		return serr
	}

	opt := htmlOpts()
	markup := catalog.OpenMarkup(req.Config.Catalog.AppURL, id).Markup()
	opt.ReplyMarkupAdapter = markup
	if _, err := req.Adapter.SendText(ctx, req.Chat, catalog.FormatCard(*item), opt); err != nil {
		return err
	}
	if logo, ok := item.Logo(); ok {
		caption := "Logo of collection " + item.Title
		if _, perr := req.Adapter.SendPhoto(ctx, req.Chat, logo, caption, &kit.SendOptions{ReplyMarkupAdapter: markup}); perr != nil {
			req.Logger.Warn("logo send failed", logx.Int64("item_id", id), logx.Err(perr))
		}
	}
	return nil
}

func (a *App) cmdData(ctx context.Context, req *Request) error {
	snap, at := a.snaps.Current()
	if snap == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "No snapshot received yet.", nil)
		return err
	}

	payload := string(snap.Payload())
	header := fmt.Sprintf("Snapshot accepted %s ago (%d bytes):\n", time.Since(at).Round(time.Second), len(payload))
	// Leave headroom for the header and the code tags.
	budget := tgui.MaxMessageLen - len(header) - 64
	body := tgui.TruncRunes(payload, budget)

	text := tgui.Esc(header).String() + tgui.Code(body).String()
	_, err := req.Adapter.SendText(ctx, req.Chat, text, htmlOpts())
	return err
}

func (a *App) cmdStopNotifications(ctx context.Context, req *Request) error {
	n := a.reminders.StopAll(req.Chat.ChatID)
	text := "No active reminders."
	if n > 0 {
		text = fmt.Sprintf("🔕 Stopped %d active reminders.", n)
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

func (a *App) cmdHelp(ctx context.Context, req *Request) error {
	b := tgui.New().Title("📖", "Commands").Blank()
	for _, c := range a.cmdm.snapshotCommands() {
		if c.Access == AccessAdminOnly && !a.cmdm.isAdmin(req.FromID) {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.RawLine(tgui.Code(usage).String() + " - " + tgui.Esc(c.Description).String())
	}
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (a *App) cmdChats(ctx context.Context, req *Request) error {
	ids := a.recipients.List()
	var b strings.Builder
	b.WriteString(fmt.Sprintf("👥 %d subscribed chats", len(ids)))
	for _, id := range ids {
		b.WriteString(fmt.Sprintf("\n- %d", id))
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, b.String(), nil)
	return err
}

func (a *App) cmdRemoveCollection(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Usage: /removecollection <id>", nil)
		return err
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "Collection id must be a number.", nil)
		return serr
	}

	removed, err := a.snaps.RemoveItem(ctx, id)
	if err != nil {
		req.Logger.Warn("baseline persist failed after removal", logx.Err(err))
	}
	text := fmt.Sprintf("Collection %d is not in the baseline.", id)
	if removed {
		text = fmt.Sprintf("🗑 Collection %d removed from the baseline. It will be re-announced if it appears in the next snapshot.", id)
	}
	_, serr := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return serr
}

func (a *App) cmdResetCache(ctx context.Context, req *Request) error {
	if err := a.snaps.Reset(ctx); err != nil {
		req.Logger.Warn("baseline reset persist failed", logx.Err(err))
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, "🧹 Baseline cleared. The next snapshot will be treated as the first.", nil)
	return err
}

// cbAck handles the "Got it" button under an announcement.
func (a *App) cbAck(ctx context.Context, req *Request, payload string) error {
	cb := req.Update.Callback
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return req.Adapter.AnswerCallback(ctx, cb.ID, "")
	}
	already := a.reminders.Acknowledge(ctx, cb.ChatID, id)
	if already {
		return req.Adapter.AnswerCallback(ctx, cb.ID, "Already acknowledged.")
	}
	return req.Adapter.AnswerCallback(ctx, cb.ID, "✅ Got it, reminders stopped.")
}

// cbPage re-renders the collections list in place for pagination buttons.
func (a *App) cbPage(ctx context.Context, req *Request, payload string) error {
	cb := req.Update.Callback
	page, err := strconv.Atoi(payload)
	if err != nil {
		return req.Adapter.AnswerCallback(ctx, cb.ID, "")
	}

	snap, _ := a.snaps.Current()
	var items []catalog.Collection
	if snap != nil {
		items = snap.Data
	}
	text, effPage, totalPages := catalog.FormatList(items, page, req.Config.Catalog.PageSize)

	opt := htmlOpts()
	if totalPages > 1 {
		opt.ReplyMarkupAdapter = catalog.ListNavMarkup(effPage, totalPages).Markup()
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := (tgui.Message{Text: text, Opt: opt}).Edit(ctx, req.Adapter, ref); err != nil {
		req.Logger.Debug("list page edit failed", logx.Err(err))
	}
	return req.Adapter.AnswerCallback(ctx, cb.ID, "")
}

func (a *App) cbSubscribe(ctx context.Context, req *Request, _ string) error {
	cb := req.Update.Callback
	added, err := a.recipients.Add(ctx, cb.ChatID)
	if err != nil {
		req.Logger.Warn("subscription persist failed", logx.Err(err))
	}
	if added {
		return req.Adapter.AnswerCallback(ctx, cb.ID, "🔔 Subscribed again.")
	}
	return req.Adapter.AnswerCallback(ctx, cb.ID, "Already subscribed.")
}

func (a *App) cbNoop(ctx context.Context, req *Request, _ string) error {
	return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "")
}
