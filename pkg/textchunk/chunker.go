// Package textchunk splits arbitrary-length text into bounded synthesis units.
//
// Speech backends cap how much text they can render in one call, so a reply
// must be cut into chunks before synthesis. Chunking happens at sentence
// boundaries where possible, falling back to comma and then word boundaries
// for oversized sentences. Content is never truncated: a single token longer
// than the limit is kept whole in its own chunk.
//
// Split is a pure function of its inputs — the same text and limit always
// produce the same chunking, so a restarted request re-chunks identically.
package textchunk

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLen is the chunk length limit applied when the caller passes a
// non-positive maxLen.
const DefaultMaxLen = 200

// ErrEmptyInput is returned by [Split] when the input contains no synthesizable
// text. Callers must reject empty requests before attempting synthesis.
var ErrEmptyInput = errors.New("textchunk: input text is empty")

// Chunk is one bounded-length span of the input text, processed as a single
// synthesis unit. Index reflects the original ordering.
type Chunk struct {
	Index   int
	Content string

	// Length is the content length in runes. It exceeds the requested limit
	// only when Content is a single unsplittable token.
	Length int
}

// Split cuts text into chunks of at most maxLen runes each.
//
// Sentences (terminated by '.', '!' or '?' followed by whitespace or end of
// input) are greedily packed into chunks. A sentence that alone exceeds maxLen
// is split at comma boundaries, and a comma fragment that still exceeds maxLen
// is split at word boundaries. The terminating punctuation stays attached to
// the text it closes.
//
// Returns [ErrEmptyInput] if text is empty or whitespace-only.
func Split(text string, maxLen int) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	var parts []string
	for _, sentence := range sentences(text) {
		if utf8.RuneCountInString(sentence) <= maxLen {
			parts = append(parts, sentence)
			continue
		}
		for _, fragment := range commaFragments(sentence) {
			if utf8.RuneCountInString(fragment) <= maxLen {
				parts = append(parts, fragment)
				continue
			}
			parts = append(parts, strings.Fields(fragment)...)
		}
	}

	var (
		chunks []Chunk
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen == 0 {
			return
		}
		content := cur.String()
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Content: content,
			Length:  utf8.RuneCountInString(content),
		})
		cur.Reset()
		curLen = 0
	}

	for _, part := range parts {
		partLen := utf8.RuneCountInString(part)
		// +1 accounts for the joining space.
		if curLen > 0 && curLen+1+partLen > maxLen {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(part)
		curLen += partLen
	}
	flush()

	return chunks, nil
}

// sentences splits text at sentence-ending punctuation ('.', '!', '?') that is
// followed by whitespace or end of input, keeping the punctuation attached to
// the sentence it closes. Abbreviations like "Dr." mid-word and decimals like
// "3.14" are not treated as boundaries because the terminator is not followed
// by whitespace.
func sentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(text) {
			r, _ := utf8.DecodeRuneInString(text[i+1:])
			if !unicode.IsSpace(r) {
				continue
			}
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// commaFragments splits a sentence at commas, keeping each comma attached to
// the fragment it terminates.
func commaFragments(sentence string) []string {
	var out []string
	start := 0
	for i := 0; i < len(sentence); i++ {
		if sentence[i] != ',' {
			continue
		}
		if f := strings.TrimSpace(sentence[start : i+1]); f != "" {
			out = append(out, f)
		}
		start = i + 1
	}
	if f := strings.TrimSpace(sentence[start:]); f != "" {
		out = append(out, f)
	}
	return out
}
