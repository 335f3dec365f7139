package ingest

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitShortText(t *testing.T) {
	got := Split("  just a sentence.  ", 100, 20)
	if len(got) != 1 || got[0] != "just a sentence." {
		t.Errorf("Split = %q", got)
	}
}

func TestSplitEmpty(t *testing.T) {
	if got := Split(" \n\n ", 100, 10); len(got) != 0 {
		t.Errorf("Split(blank) = %q", got)
	}
}

func TestSplitWordsWithOverlap(t *testing.T) {
	words := make([]string, 30)
	for i := range words {
		words[i] = fmt.Sprintf("w%02d", i)
	}
	chunks := Split(strings.Join(words, " "), 20, 8)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 20 {
			t.Errorf("chunk %d has %d chars: %q", i, n, c)
		}
	}
	if chunks[0] != "w00 w01 w02 w03 w04" {
		t.Errorf("chunk 0 = %q", chunks[0])
	}
	if !strings.HasPrefix(chunks[1], "w03 w04") {
		t.Errorf("chunk 1 = %q, want overlap starting at w03", chunks[1])
	}
	if !strings.HasSuffix(chunks[len(chunks)-1], "w29") {
		t.Errorf("last chunk = %q", chunks[len(chunks)-1])
	}
}

func TestSplitPrefersParagraphs(t *testing.T) {
	text := "first paragraph here.\n\nsecond paragraph here."
	got := Split(text, 25, 0)
	want := []string{"first paragraph here.", "second paragraph here."}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Split = %q, want %q", got, want)
	}
}

func TestSplitLongWordFallsBackToCharacters(t *testing.T) {
	got := Split(strings.Repeat("é", 25), 10, 0)
	if len(got) != 3 || got[0] != strings.Repeat("é", 10) || got[2] != strings.Repeat("é", 5) {
		t.Errorf("Split = %q", got)
	}
}
