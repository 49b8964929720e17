package catalog

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"stickerbot/pkg/tgui"
)

// Rendering bounds. Telegram caps one message at 4096 characters; free-text
// fields and link lists are truncated explicitly rather than trusting input.
const (
	descLimit      = 200
	urlLimit       = 50
	maxSocialLinks = 3

	// DefaultPageSize is how many collections a list page shows.
	DefaultPageSize = 5
)

// Callback data vocabulary ("catalog:<action>:<payload>").
const (
	CallbackScope   = "catalog"
	ActionAck       = "ack"
	ActionPage      = "page"
	ActionSubscribe = "sub"
	ActionNoop      = "noop"
)

// AppURL returns the deep link into the sticker web app for one collection,
// or the app root when id is 0.
func AppURL(base string, id int64) string {
	base = strings.TrimSpace(base)
	if id == 0 {
		return base
	}
	return fmt.Sprintf("%s?startapp=collection_%d", base, id)
}

// FormatCard renders the full collection card as Telegram-safe HTML.
func FormatCard(c Collection) string {
	var lines []string

	title := c.Title
	if title == "" {
		title = "Untitled"
	}
	lines = append(lines, "🏷 "+tgui.B(title).String())

	if c.Description != "" {
		lines = append(lines, "📝 "+tgui.I(tgui.TruncRunes(c.Description, descLimit)).String())
	}
	if c.Creator != nil && c.Creator.Name != "" {
		lines = append(lines, "👤 "+tgui.B("Creator").String()+": "+tgui.Esc(c.Creator.Name).String())
	}
	if c.ID != 0 {
		lines = append(lines, "🆔 "+tgui.B("ID").String()+": "+fmt.Sprint(c.ID))
	}
	if c.Status != "" {
		lines = append(lines, "📊 "+tgui.B("Status").String()+": "+tgui.Esc(c.Status).String())
	}
	if len(c.Badges) > 0 {
		badges := make([]tgui.H, 0, len(c.Badges))
		for _, b := range c.Badges {
			badges = append(badges, tgui.Esc(b))
		}
		lines = append(lines, "🏅 "+tgui.B("Badges").String()+": "+tgui.JoinH(", ", badges...).String())
	}
	if c.Creator != nil && len(c.Creator.SocialLinks) > 0 {
		lines = append(lines, "", "🔗 "+tgui.B("Social links").String()+":")
		rows := tgui.Enumerate(c.Creator.SocialLinks, maxSocialLinks, func(l SocialLink) string {
			return "- " + tgui.Esc(l.Type).String() + ": " + tgui.Link(tgui.TruncRunes(l.URL, urlLimit), l.URL).String()
		})
		lines = append(lines, rows...)
	}

	// Media URLs are deliberately not rendered in the card: they can be very
	// long and the logo is delivered as a photo follow-up instead.
	return strings.Join(lines, "\n")
}

// FormatAnnouncement renders the "new collection" notification body.
func FormatAnnouncement(c Collection) string {
	return "🎉 " + tgui.B("NEW COLLECTION ADDED!").String() + "\n\n" + FormatCard(c)
}

// FormatReminder renders the n-th repeat notification for an unacknowledged
// collection announcement.
func FormatReminder(c Collection, n int) string {
	title := c.Title
	if title == "" {
		title = "Untitled"
	}
	return "⚠️ " + tgui.B("REMINDER: NEW COLLECTION!").String() + "\n\n" +
		"Collection " + tgui.Esc(fmt.Sprintf("%q", title)).String() + " was added.\n" +
		tgui.Esc(fmt.Sprintf("This is reminder #%d", n)).String()
}

// FormatChangeSummary renders the removed/updated summary message.
// When the change-set also carries additions, a forward reference is appended
// because each addition is announced separately.
func FormatChangeSummary(cs ChangeSet) string {
	var b strings.Builder
	b.WriteString("🔔 " + tgui.B("Sticker collections updated").String() + "\n")

	writeItem := func(id int64, title string) {
		if title == "" {
			title = "Untitled"
		}
		b.WriteString("- ID " + fmt.Sprint(id) + ": " + tgui.Esc(title).String() + "\n")
	}

	if len(cs.Removed) > 0 {
		b.WriteString("\n❌ " + tgui.B(fmt.Sprintf("Removed collections (%d):", len(cs.Removed))).String() + "\n")
		for _, c := range cs.Removed {
			writeItem(c.ID, c.Title)
		}
	}
	if len(cs.Updated) > 0 {
		b.WriteString("\n📝 " + tgui.B(fmt.Sprintf("Updated collections (%d):", len(cs.Updated))).String() + "\n")
		for _, ch := range cs.Updated {
			writeItem(ch.ID, ch.New.Title)
		}
	}
	if len(cs.Added) > 0 {
		b.WriteString("\n✨ " + tgui.B(fmt.Sprintf("New collections (%d):", len(cs.Added))).String() + "\n")
		for _, c := range cs.Added {
			writeItem(c.ID, c.Title)
		}
		b.WriteString("\nEach new collection is announced separately.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatFieldChanges renders the generic fallback diff.
func FormatFieldChanges(fields []FieldChange) string {
	var b strings.Builder
	b.WriteString("🔔 " + tgui.B("Catalog data changed:").String() + "\n")
	for _, f := range fields {
		b.WriteString("\n" + tgui.B("Field").String() + ": " + tgui.Code(f.Key).String() + "\n")
		b.WriteString(tgui.B("Before").String() + ": " + tgui.Esc(tgui.TruncRunes(f.Old, descLimit)).String() + "\n")
		b.WriteString(tgui.B("After").String() + ": " + tgui.Esc(tgui.TruncRunes(f.New, descLimit)).String() + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatList renders one page of the collections list. Page numbers are
// 1-based and clamped into range; the effective page is returned.
func FormatList(items []Collection, page, pageSize int) (text string, effPage, totalPages int) {
	if len(items) == 0 {
		return "No collections found.", 1, 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	totalPages = (len(items) + pageSize - 1) / pageSize
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	var b strings.Builder
	b.WriteString("📋 " + tgui.B(fmt.Sprintf("Collections (page %d/%d)", page, totalPages)).String() + "\n\n")
	for _, c := range items[start:end] {
		title := c.Title
		if title == "" {
			title = "Untitled"
		}
		b.WriteString("🏷 " + tgui.B(title).String() + fmt.Sprintf(" (ID: %d)", c.ID) + "\n")
		if c.Description != "" {
			b.WriteString("📝 " + tgui.I(tgui.TruncRunes(c.Description, urlLimit)).String() + "\n")
		}
		creator := "Unknown"
		if c.Creator != nil && c.Creator.Name != "" {
			creator = c.Creator.Name
		}
		b.WriteString("👤 Creator: " + tgui.Esc(creator).String() + "\n\n")
	}
	b.WriteString("Use /collection <ID> to view one collection.")
	return b.String(), page, totalPages
}

// AnnounceMarkup builds the keyboard for an unacknowledged announcement:
// open-in-app plus the acknowledge control.
func AnnounceMarkup(appBase string, id int64) *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.URLBtn("📲 Open collection", AppURL(appBase, id))).
		Row(tgui.Btn("✅ Got it", tgui.Data(CallbackScope, ActionAck, fmt.Sprint(id))))
}

// OpenMarkup builds the permanent keyboard left after acknowledgment.
func OpenMarkup(appBase string, id int64) *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.URLBtn("📲 Open collection", AppURL(appBase, id)))
}

// ListNavMarkup builds prev/next pagination controls for the list view.
func ListNavMarkup(page, totalPages int) *tgui.Inline {
	var btns []tele.Btn
	if page > 1 {
		btns = append(btns, tgui.Btn("⬅️ Prev", tgui.Data(CallbackScope, ActionPage, fmt.Sprint(page-1))))
	}
	btns = append(btns, tgui.Btn(fmt.Sprintf("%d of %d", page, totalPages), tgui.Data(CallbackScope, ActionNoop, "")))
	if page < totalPages {
		btns = append(btns, tgui.Btn("Next ➡️", tgui.Data(CallbackScope, ActionPage, fmt.Sprint(page+1))))
	}
	return tgui.NewInline().Row(btns...)
}
