// Package chunker splits raw contract text into overlapping passages sized
// for embedding and retrieval. Splitting is recursive over a priority list of
// separators: paragraph breaks first, then lines, sentences, and words. A
// piece is only subdivided with a finer separator when it alone exceeds the
// chunk size, so natural boundaries are preserved wherever possible.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// separators are tried coarsest-first. A word that still exceeds the chunk
// size after the last separator is emitted whole rather than truncated.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunk is one bounded span of a document's text.
type Chunk struct {
	Document string
	Index    int
	Text     string
	// Overlap is the number of leading characters shared with the
	// previous chunk. The first chunk always has Overlap 0.
	Overlap   int
	CharCount int
	WordCount int
}

// Split breaks text into chunks of at most maxSize characters, with adjacent
// chunks sharing overlap trailing/leading characters. The output is
// deterministic: the same input and parameters always produce the same
// sequence. Empty input yields no chunks. Concatenating every chunk's text
// beyond its Overlap prefix reconstructs the input exactly.
func Split(document, text string, maxSize, overlap int) []Chunk {
	if text == "" || maxSize <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxSize {
		overlap = maxSize - 1
	}

	pieces := splitRecursive(text, separators, maxSize)
	return merge(document, pieces, maxSize, overlap)
}

// splitRecursive cuts text into pieces no longer than maxSize where the
// separator hierarchy allows it. Concatenating the pieces yields text
// unchanged: separators stay attached to the piece they terminate.
func splitRecursive(text string, seps []string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}
	if len(seps) == 0 {
		// Indivisible run longer than maxSize: keep it whole.
		return []string{text}
	}

	parts := splitAfter(text, seps[0])
	if len(parts) == 1 {
		return splitRecursive(text, seps[1:], maxSize)
	}

	pieces := make([]string, 0, len(parts))
	for _, part := range parts {
		if len(part) <= maxSize {
			pieces = append(pieces, part)
			continue
		}
		pieces = append(pieces, splitRecursive(part, seps[1:], maxSize)...)
	}
	return pieces
}

// splitAfter splits text on sep, keeping each separator attached to the
// preceding piece so no characters are lost.
func splitAfter(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	// SplitAfter leaves a trailing empty piece when text ends with sep.
	if len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// merge packs pieces into chunks up to maxSize characters, carrying the
// previous chunk's tail into the next chunk as shared context.
func merge(document string, pieces []string, maxSize, overlap int) []Chunk {
	chunks := make([]Chunk, 0, len(pieces))

	var (
		builder    strings.Builder
		overlapLen int
	)

	flush := func() {
		if builder.Len() == 0 {
			return
		}
		text := builder.String()
		chunks = append(chunks, Chunk{
			Document:  document,
			Index:     len(chunks),
			Text:      text,
			Overlap:   overlapLen,
			CharCount: len(text),
			WordCount: len(strings.Fields(text)),
		})

		builder.Reset()
		if overlap > 0 {
			tail := overlapTail(text, overlap)
			builder.WriteString(tail)
			overlapLen = len(tail)
		} else {
			overlapLen = 0
		}
	}

	for _, piece := range pieces {
		if builder.Len() > overlapLen && builder.Len()+len(piece) > maxSize {
			flush()
		}
		// Shrink the carried overlap when it would push the chunk past
		// maxSize. The overlap is context, never counted as content.
		if builder.Len() == overlapLen && overlapLen > 0 && overlapLen+len(piece) > maxSize {
			keep := maxSize - len(piece)
			if keep < 0 {
				keep = 0
			}
			tail := overlapTail(builder.String(), keep)
			builder.Reset()
			builder.WriteString(tail)
			overlapLen = len(tail)
		}
		builder.WriteString(piece)
		// An indivisible oversized piece becomes its own chunk.
		if builder.Len() > maxSize {
			flush()
		}
	}

	if builder.Len() > overlapLen {
		flush()
	}

	return chunks
}

// overlapTail returns at most the last n bytes of text, moved forward to the
// nearest rune boundary so a multibyte character is never cut in half.
func overlapTail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	start := len(text) - n
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	return text[start:]
}
