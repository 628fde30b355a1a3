package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("🛬 landed", 10, "")
	if len(got) != 1 || got[0] != "🛬 landed" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")

	chunks := splitTelegramText(text, 70, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if utf8.RuneCountInString(c) > 70 {
			t.Fatalf("chunk %d too long: %d", i, utf8.RuneCountInString(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has stray newline: %q", i, c)
		}
	}
	if strings.Join(chunks, "\n") != text {
		t.Fatal("chunks do not reassemble to the original text")
	}
}

func TestSplitTelegramTextHTMLTag(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 18) + "<b>bold</b>"
	chunks := splitTelegramText(text, 20, "HTML")
	if len(chunks) < 2 {
		t.Fatalf("expected split, got %q", chunks)
	}
	if strings.Contains(chunks[0], "<") {
		t.Fatalf("first chunk cut inside a tag: %q", chunks[0])
	}
}
