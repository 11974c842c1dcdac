package chunker

import (
	"strings"
	"testing"
)

func TestSplit_Empty(t *testing.T) {
	c := New(1000, 200, 1200)
	if got := c.Split("   \n\t  "); got != nil {
		t.Errorf("whitespace input should return nil, got %v", got)
	}
	if got := c.Split(""); got != nil {
		t.Errorf("empty input should return nil, got %v", got)
	}
}

func TestSplit_ShortBypass(t *testing.T) {
	c := New(1000, 200, 1200)
	text := strings.Repeat("a", 1200)
	chunks := c.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for input at threshold, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Error("single chunk should be the verbatim input")
	}
}

func TestSplit_CountFormula(t *testing.T) {
	// 3000 chars without boundaries: step 800 gives windows
	// 0-1000, 800-1800, 1600-2600, 2400-3000.
	c := New(1000, 200, 1200)
	chunks := c.Split(strings.Repeat("x", 3000))
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if n := len([]rune(ch)); n > 1000 {
			t.Errorf("chunk %d length %d exceeds size", i, n)
		}
	}
}

func TestSplit_LengthBound(t *testing.T) {
	sent := "Rice grows in flooded paddies near the river delta. "
	text := strings.Repeat(sent, 120)
	c := New(1000, 200, 1200)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	l := len([]rune(text))
	want := (l - 200 + 799) / 800
	if len(chunks) < want-1 || len(chunks) > want+1 {
		t.Errorf("chunk count %d outside ±1 of %d", len(chunks), want)
	}
	for i, ch := range chunks {
		if n := len([]rune(ch)); n > 1000 {
			t.Errorf("chunk %d length %d exceeds size", i, n)
		}
	}
}

func TestSplit_SentenceBoundary(t *testing.T) {
	// Two sentences inside the window: the cut should land after a
	// sentence end, not mid-word.
	first := strings.Repeat("b", 690) + ". "
	second := strings.Repeat("c", 600)
	c := New(1000, 200, 1200)
	chunks := c.Split(first + second)
	if len(chunks) < 2 {
		t.Fatalf("expected 2+ chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Errorf("first chunk should end at sentence boundary, got %q", chunks[0][len(chunks[0])-10:])
	}
}

func TestSplit_ParagraphPreferred(t *testing.T) {
	first := strings.Repeat("d", 640) + ".\n\n"
	rest := strings.Repeat("e", 320) + " " + strings.Repeat("f", 600)
	c := New(1000, 200, 1200)
	chunks := c.Split(first + rest)
	if len(chunks) < 2 {
		t.Fatalf("expected 2+ chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Errorf("paragraph break should win over later whitespace, first chunk ends %q", chunks[0][len(chunks[0])-5:])
	}
}

func TestSplit_Overlap(t *testing.T) {
	c := New(100, 20, 100)
	text := strings.Repeat("y", 300)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// Hard cuts on boundary-free text: the last 20 chars of one chunk are
	// the first 20 of the next.
	a, b := chunks[0], chunks[1]
	if a[len(a)-20:] != b[:20] {
		t.Error("consecutive chunks should share the overlap region")
	}
}
