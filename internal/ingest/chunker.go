package ingest

import "strings"

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 100
)

type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker() Chunker {
	return Chunker{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Split cuts text into chunks of at most Size characters with Overlap
// characters carried between neighbors. Cuts prefer a paragraph break, then
// a sentence break, as long as the break lands past the half-chunk mark, so
// chunks end on natural boundaries instead of mid-sentence.
func (c Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	size := c.Size
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	if len(text) <= size {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				out = append(out, chunk)
			}
			break
		}

		cut := breakPoint(text[start:end])
		if cut > 0 {
			end = start + cut
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			out = append(out, chunk)
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// breakPoint returns the index just after the best natural break in window,
// or 0 when no break lands past the halfway mark.
func breakPoint(window string) int {
	half := len(window) / 2

	if i := strings.LastIndex(window, "\n\n"); i >= half {
		return i + 2
	}
	best := 0
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.LastIndex(window, sep); i >= half {
			if end := i + len(sep); end > best {
				best = end
			}
		}
	}
	return best
}
