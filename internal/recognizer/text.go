package recognizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var wsRe = regexp.MustCompile(`\s+`)

// CleanSpan normalises one recognised span: NFC, zero width and control
// characters removed, whitespace collapsed and trimmed.
func CleanSpan(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)
	s = removeZeroWidth(s)
	s = removeControlChars(s)
	s = wsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// JoinSpans cleans every span, drops empty ones and joins the rest with a
// single space in their original order.
func JoinSpans(spans []string) string {
	kept := make([]string, 0, len(spans))
	for _, s := range spans {
		if c := CleanSpan(s); c != "" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, " ")
}

func removeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// removeZeroWidth removes common zero-width characters used in OCR noise.
func removeZeroWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
