package tgui

import (
	"context"
	"strings"

	kit "stickerbot/internal/transport"
)

// Message is a rendered UI payload: text + send options.
// It is intended as a single ergonomic "unit" that handlers can build once and
// send/edit without repeating ParseMode/preview/markup boilerplate.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send sends the Message via the provided adapter.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

// Edit edits the message referred by ref in place.
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return ad.EditText(ctx, ref, m.Text, m.Opt)
}

// Plain returns a copy of the Message with all markup stripped and ParseMode
// cleared, for the one-shot fallback after a markup render failure.
func (m Message) Plain() Message {
	opt := &kit.SendOptions{DisablePreview: true}
	if m.Opt != nil {
		opt.DisablePreview = m.Opt.DisablePreview
		opt.ReplyMarkupAdapter = m.Opt.ReplyMarkupAdapter
	}
	return Message{Text: StripTags(m.Text), Opt: opt}
}

// Builder is the main ergonomic UI builder.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	parseMode      string
	disablePreview bool
	rm             any
	lines          []string
}

// New creates a new builder with sensible defaults for Telegram.
func New() *Builder {
	return &Builder{parseMode: "HTML", disablePreview: true}
}

// ParseMode overrides Telegram parse mode ("HTML", "Markdown", or empty).
func (b *Builder) ParseMode(mode string) *Builder {
	b.parseMode = strings.TrimSpace(mode)
	return b
}

// DisablePreview sets DisableWebPagePreview.
func (b *Builder) DisablePreview(v bool) *Builder {
	b.disablePreview = v
	return b
}

// Inline attaches an inline keyboard.
func (b *Builder) Inline(kb *Inline) *Builder {
	if kb == nil {
		b.rm = nil
		return b
	}
	b.rm = kb.Markup()
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		if e != "" {
			b.lines = append(b.lines, Esc(e).String()+" "+wrap("b", Esc(t)).String())
		} else {
			b.lines = append(b.lines, wrap("b", Esc(t)).String())
		}
		return b
	}
	if e != "" {
		b.lines = append(b.lines, e+" "+t)
	} else {
		b.lines = append(b.lines, t)
	}
	return b
}

// Section adds a section header.
func (b *Builder) Section(title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		b.lines = append(b.lines, wrap("b", Esc(t)).String())
		return b
	}
	b.lines = append(b.lines, t)
	return b
}

// Line adds a single line, escaping when ParseMode is HTML.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		b.lines = append(b.lines, Esc(s).String())
	} else {
		b.lines = append(b.lines, s)
	}
	return b
}

// RawLine appends a line without escaping. Only use with pre-escaped H content.
func (b *Builder) RawLine(s string) *Builder {
	b.lines = append(b.lines, s)
	return b
}

// Blank inserts an empty line.
func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullets adds bullet lines.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		b.Line("• " + it)
	}
	return b
}

// KV adds a "key: value" row with consistent formatting.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		// bold key, value escaped.
		b.lines = append(b.lines, "• "+wrap("b", Esc(key)).String()+": "+Esc(value).String())
		return b
	}
	if value == "" {
		b.lines = append(b.lines, "• "+key)
	} else {
		b.lines = append(b.lines, "• "+key+": "+value)
	}
	return b
}

// Build produces a ready-to-send Message.
func (b *Builder) Build() Message {
	text := strings.Join(b.lines, "\n")
	text = strings.Trim(text, "\n")

	opt := &kit.SendOptions{ParseMode: b.parseMode, DisablePreview: b.disablePreview}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{Text: text, Opt: opt}
}
