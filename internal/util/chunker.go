package util

import (
	"strings"
	"unicode"

	"paperdigest/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// Chunker splits page text into rune windows of at most Size runes. Adjacent
// chunks of the same page share exactly Overlap runes.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split chunks every page in order. Whitespace-only pages produce no chunks.
func (c Chunker) Split(pages []models.Page) []models.Chunk {
	c = NewChunker(c.Size, c.Overlap)
	out := make([]models.Chunk, 0)
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		runes := []rune(p.Text)
		for i, s := range c.spans(runes) {
			overlap := 0
			if i > 0 {
				overlap = c.Overlap
			}
			out = append(out, models.Chunk{
				Index:   len(out),
				Page:    p.Number,
				Overlap: overlap,
				Text:    string(runes[s[0]:s[1]]),
			})
		}
	}
	return out
}

func (c Chunker) spans(runes []rune) [][2]int {
	n := len(runes)
	out := make([][2]int, 0, n/c.Size+1)
	start := 0
	for {
		end := start + c.Size
		if end >= n {
			out = append(out, [2]int{start, n})
			return out
		}
		// Prefer ending right after whitespace, but never shrink below half a
		// window or below overlap+1, which would stall progress.
		minCut := start + c.Size/2
		if minCut < start+c.Overlap+1 {
			minCut = start + c.Overlap + 1
		}
		cut := end
		for i := end; i >= minCut; i-- {
			if unicode.IsSpace(runes[i-1]) {
				cut = i
				break
			}
		}
		out = append(out, [2]int{start, cut})
		start = cut - c.Overlap
	}
}

// ChunkText is the single-string form of Split.
func ChunkText(text string, chunkSize, overlap int) []string {
	chunks := NewChunker(chunkSize, overlap).Split([]models.Page{{Number: 1, Text: text}})
	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, ch.Text)
	}
	return out
}
