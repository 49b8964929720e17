package tgui

import (
	"fmt"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	// Single-pass implementation:
	//  - remember the byte index after the n-th rune
	//  - if there is an (n+1)-th rune, truncate + ellipsis
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// Enumerate renders at most limit items via render and appends an
// "…and N more" line when the list was cut. The remainder count is always
// reported, never silently dropped.
func Enumerate[T any](items []T, limit int, render func(T) string) []string {
	if limit <= 0 || len(items) == 0 {
		return nil
	}
	n := len(items)
	if n > limit {
		n = limit
	}
	out := make([]string, 0, n+1)
	for _, it := range items[:n] {
		out = append(out, render(it))
	}
	if rest := len(items) - n; rest > 0 {
		out = append(out, fmt.Sprintf("…and %d more", rest))
	}
	return out
}
