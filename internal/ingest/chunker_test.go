package ingest

import (
	"strings"
	"testing"
)

func TestSplitEmpty(t *testing.T) {
	c := NewChunker()
	if got := c.Split("   \n\t  "); got != nil {
		t.Fatalf("expected nil for blank input, got %d chunks", len(got))
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c := NewChunker()
	got := c.Split("hello world")
	if len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestSplitRespectsMaxSize(t *testing.T) {
	c := NewChunker()
	text := strings.Repeat("abcdefghij", 1000) // 10k chars, no natural breaks
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) > c.Size {
			t.Errorf("chunk %d exceeds size: %d > %d", i, len(ch), c.Size)
		}
	}
}

func TestSplitOverlapCarriesText(t *testing.T) {
	c := Chunker{Size: 100, Overlap: 20}
	text := strings.Repeat("x", 300)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// With no natural breaks each boundary advances by size-overlap, so
	// the tail of one chunk reappears at the head of the next.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		tail := prev[len(prev)-c.Overlap:]
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with previous tail", i)
		}
	}
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	c := Chunker{Size: 100, Overlap: 10}
	para1 := strings.Repeat("a", 70)
	para2 := strings.Repeat("b", 80)
	chunks := c.Split(para1 + "\n\n" + para2)
	if len(chunks) < 2 {
		t.Fatalf("expected split at paragraph, got %d chunks", len(chunks))
	}
	if chunks[0] != para1 {
		t.Errorf("first chunk should end at paragraph break, got %q", chunks[0])
	}
}

func TestSplitPrefersSentenceBreak(t *testing.T) {
	c := Chunker{Size: 100, Overlap: 10}
	sentence := strings.Repeat("a", 80) + ". "
	rest := strings.Repeat("b", 80)
	chunks := c.Split(sentence + rest)
	if len(chunks) < 2 {
		t.Fatalf("expected split at sentence, got %d chunks", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Errorf("first chunk should end at sentence boundary, got %q", chunks[0])
	}
}

func TestSplitIgnoresEarlyBreaks(t *testing.T) {
	// A break before the halfway mark should not be used.
	c := Chunker{Size: 100, Overlap: 10}
	text := strings.Repeat("a", 20) + ". " + strings.Repeat("b", 200)
	chunks := c.Split(text)
	if len(chunks[0]) < 50 {
		t.Errorf("cut too early: first chunk is %d chars", len(chunks[0]))
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := NewChunker()
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200)
	a := c.Split(text)
	b := c.Split(text)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}
