// Package chunker splits note text into retrieval-sized chunks. All sizes and
// offsets count runes, so Hangul text is measured by characters, not bytes.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxChunk          = 500
	DefaultOverlap           = 50
	DefaultSentencesPerChunk = 3
)

// Span is a chunk with its rune offsets in the source text.
type Span struct {
	Text  string
	Start int
	End   int
}

// ByLength cuts text into windows of at most maxChunk runes. A window that is
// not the last is shortened to end after its last '.', '!', '?' or newline.
// The next window starts overlap runes before the previous end, but always
// after the previous start.
func ByLength(text string, maxChunk, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunk
	}
	if overlap < 0 {
		overlap = 0
	}
	rs := []rune(text)
	n := len(rs)
	var out []string
	start := 0
	for start < n {
		end := start + maxChunk
		if end < n {
			if bp := lastBreak(rs[start:end]); bp > 0 {
				end = start + bp + 1
			}
		} else {
			end = n
		}
		if c := strings.TrimSpace(string(rs[start:end])); c != "" {
			out = append(out, c)
		}
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return -1
}

// Sentences splits text after '.', '!' or '?' when followed by whitespace.
func Sentences(text string) []string {
	var out []string
	rs := []rune(text)
	from := 0
	for i := 0; i < len(rs); i++ {
		if rs[i] != '.' && rs[i] != '!' && rs[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(rs) && unicode.IsSpace(rs[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		if s := strings.TrimSpace(string(rs[from : i+1])); s != "" {
			out = append(out, s)
		}
		from = j
		i = j - 1
	}
	if from < len(rs) {
		if s := strings.TrimSpace(string(rs[from:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BySentences groups perChunk sentences per chunk, joined by a space.
func BySentences(text string, perChunk int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if perChunk <= 0 {
		perChunk = DefaultSentencesPerChunk
	}
	sentences := Sentences(text)
	var out []string
	for i := 0; i < len(sentences); i += perChunk {
		j := min(i+perChunk, len(sentences))
		out = append(out, strings.Join(sentences[i:j], " "))
	}
	return out
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// ByParagraphs splits on blank lines.
func ByParagraphs(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Auto prefers paragraphs, then three-sentence groups, and falls back to
// ByLength when neither keeps every chunk within maxChunk.
func Auto(text string, maxChunk int) []string {
	return AutoOverlap(text, maxChunk, DefaultOverlap)
}

// AutoOverlap is Auto with the given overlap for the ByLength fallback.
func AutoOverlap(text string, maxChunk, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunk
	}
	if ps := ByParagraphs(text); len(ps) > 1 && fits(ps, maxChunk) {
		return ps
	}
	if ss := BySentences(text, DefaultSentencesPerChunk); fits(ss, maxChunk) {
		return ss
	}
	return ByLength(text, maxChunk, overlap)
}

func fits(chunks []string, maxChunk int) bool {
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > maxChunk {
			return false
		}
	}
	return true
}

// Locate finds each chunk in text, searching forward from just after the
// previous match's start so overlapping windows resolve in order. Chunks that were
// rewritten (sentence groups re-joined with single spaces) may not occur
// verbatim; they are placed right after the previous chunk.
func Locate(text string, chunks []string) []Span {
	spans := make([]Span, 0, len(chunks))
	byteFrom, runeFrom, lastEnd := 0, 0, 0
	for _, c := range chunks {
		n := utf8.RuneCountInString(c)
		if i := strings.Index(text[byteFrom:], c); i >= 0 {
			start := runeFrom + utf8.RuneCountInString(text[byteFrom:byteFrom+i])
			spans = append(spans, Span{Text: c, Start: start, End: start + n})
			_, size := utf8.DecodeRuneInString(c)
			byteFrom += i + size
			runeFrom = start + 1
			lastEnd = start + n
			continue
		}
		spans = append(spans, Span{Text: c, Start: lastEnd, End: lastEnd + n})
		lastEnd += n
	}
	return spans
}

// Split runs AutoOverlap and Locate in one step.
func Split(text string, maxChunk, overlap int) []Span {
	return Locate(text, AutoOverlap(text, maxChunk, overlap))
}
