package tgui

import (
	"strings"
	"testing"
)

func TestEscIsIdempotentOnPlainText(t *testing.T) {
	in := "plain text, no markup"
	if got := Esc(in).String(); got != in {
		t.Fatalf("Esc changed plain text: %q", got)
	}
}

func TestEscNeutralizesMarkup(t *testing.T) {
	got := Esc(`<b>&"</b>`).String()
	if strings.ContainsAny(got, "<>") {
		t.Fatalf("Esc left raw angle brackets: %q", got)
	}
}

func TestStripTagsInvertsWrapping(t *testing.T) {
	in := "a <b> & c"
	wrapped := B(in).String()
	if got := StripTags(wrapped); got != in {
		t.Fatalf("StripTags(B(%q)) = %q", in, got)
	}
}

func TestStripTagsRemovesNestedTags(t *testing.T) {
	in := `<b>bold <i>both</i></b> tail`
	if got := StripTags(in); got != "bold both tail" {
		t.Fatalf("StripTags = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hell…"},
		{"héllo", 2, "hé…"},
		{"", 3, ""},
		{"abc", 0, ""},
	}
	for _, c := range cases {
		if got := TruncRunes(c.in, c.n); got != c.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}

func TestEnumerate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	out := Enumerate(items, 3, func(v int) string { return strings.Repeat("x", v) })
	if len(out) != 4 {
		t.Fatalf("expected 3 rendered rows plus remainder, got %d", len(out))
	}
	if out[3] != "…and 2 more" {
		t.Fatalf("remainder row = %q", out[3])
	}

	if out := Enumerate(items, 10, func(v int) string { return "r" }); len(out) != 5 {
		t.Fatalf("no remainder expected when everything fits, got %d rows", len(out))
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	data := Data("catalog", "ack", "42")
	scope, action, payload := SplitData(data)
	if scope != "catalog" || action != "ack" || payload != "42" {
		t.Fatalf("round trip = %q %q %q", scope, action, payload)
	}

	// Payload may contain the separator itself.
	scope, action, payload = SplitData(Data("s", "a", "x:y"))
	if scope != "s" || action != "a" || payload != "x:y" {
		t.Fatalf("payload with colon = %q %q %q", scope, action, payload)
	}
	if len(Data("catalog", "ack", "42")) > MaxCallbackDataLen {
		t.Fatalf("vocabulary exceeds Telegram callback data limit")
	}
}

func TestBuilderBuildsHTMLMessage(t *testing.T) {
	msg := New().
		Title("📖", "Head & tail").
		Blank().
		KV("Key", "<v>").
		Line("plain <line>").
		Build()

	if msg.Opt == nil || msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview {
		t.Fatalf("builder defaults wrong: %+v", msg.Opt)
	}
	if !strings.Contains(msg.Text, "<b>Head &amp; tail</b>") {
		t.Fatalf("title not rendered: %q", msg.Text)
	}
	if strings.Contains(msg.Text, "<line>") || strings.Contains(msg.Text, "<v>") {
		t.Fatalf("user text leaked unescaped: %q", msg.Text)
	}
}

func TestMessagePlainStripsMarkupAndParseMode(t *testing.T) {
	msg := New().Title("", "Bold & co").Build()
	plain := msg.Plain()
	if plain.Opt.ParseMode != "" {
		t.Fatalf("Plain should clear ParseMode, got %q", plain.Opt.ParseMode)
	}
	if plain.Text != "Bold & co" {
		t.Fatalf("Plain text = %q", plain.Text)
	}
}

func TestInlineKeyboardRows(t *testing.T) {
	kb := NewInline().
		Row(URLBtn("open", "https://example.com")).
		Row(Btn("ok", Data("catalog", "ack", "1")))
	rm := kb.Markup()
	if len(rm.InlineKeyboard) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rm.InlineKeyboard))
	}
	if rm.InlineKeyboard[1][0].Data == "" {
		t.Fatalf("callback button lost its data")
	}
}
