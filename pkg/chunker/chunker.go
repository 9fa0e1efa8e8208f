// Package chunker splits ingested documents into bounded-length text chunks
// suitable for embedding and retrieval.
//
// Splitting prefers natural boundaries: paragraphs first, then sentences,
// and only falls back to a hard character wrap for pathological inputs such
// as a single unbroken run of text. Every returned chunk is non-empty,
// trimmed, and at most maxChars characters long.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the chunk size used when callers pass a non-positive
// limit.
const DefaultMaxChars = 2000

// Split breaks text into chunks of at most maxChars characters.
//
// Paragraphs (separated by blank lines) are packed greedily into chunks.
// A paragraph that alone exceeds the limit is split at sentence boundaries;
// an oversized sentence is hard-wrapped. Whitespace-only input yields nil.
func Split(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range paragraphs(text) {
		if utf8.RuneCountInString(para) > maxChars {
			// Oversized paragraph: emit what we have, then split it finer.
			flush()
			chunks = append(chunks, splitLong(para, maxChars)...)
			continue
		}

		if current.Len() > 0 && utf8.RuneCountInString(current.String())+utf8.RuneCountInString(para)+2 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// paragraphs splits text on blank lines, trimming each piece and dropping
// empties.
func paragraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitLong splits a single oversized paragraph at sentence boundaries,
// hard-wrapping any sentence that still exceeds the limit.
func splitLong(para string, maxChars int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, sentence := range sentences(para) {
		if utf8.RuneCountInString(sentence) > maxChars {
			flush()
			chunks = append(chunks, hardWrap(sentence, maxChars)...)
			continue
		}
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+utf8.RuneCountInString(sentence)+1 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	flush()

	return chunks
}

// sentences splits a paragraph after terminal punctuation. It is a heuristic,
// not a linguistic segmenter; abbreviations may over-split, which only costs
// slightly smaller chunks.
func sentences(para string) []string {
	var out []string
	var current strings.Builder

	runes := []rune(para)
	for i, r := range runes {
		current.WriteRune(r)
		if isTerminal(r) {
			// Only break when followed by whitespace or end of text.
			if i == len(runes)-1 || runes[i+1] == ' ' || runes[i+1] == '\n' {
				s := strings.TrimSpace(current.String())
				if s != "" {
					out = append(out, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// hardWrap cuts text into fixed-size rune windows. Last resort for content
// with no usable boundaries.
func hardWrap(text string, maxChars int) []string {
	runes := []rune(strings.TrimSpace(text))
	var out []string
	for len(runes) > 0 {
		n := maxChars
		if n > len(runes) {
			n = len(runes)
		}
		piece := strings.TrimSpace(string(runes[:n]))
		if piece != "" {
			out = append(out, piece)
		}
		runes = runes[n:]
	}
	return out
}
