// Package title recognizes honorifics in detected person spans. It merges
// person spans that a detector split into title and name halves, and shifts
// span boundaries past leading titles so the visible text keeps "Dr. " while
// the masked span covers only the name.
package title

import (
	"strings"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

// DefaultMaxGap is the largest byte gap bridged when merging a title-only
// person span with the following person span.
const DefaultMaxGap = 3

// gapChars are the only characters allowed between a title span and the name
// span it merges with.
const gapChars = " \t\n\r.,;:!?"

// trailingPunct is stripped when testing whether a span is nothing but a
// title.
const trailingPunct = ".,;:!?"

// Extractor performs honorific recognition against the compiled multilingual
// title set. The zero value is not usable; call NewExtractor.
type Extractor struct {
	titles []string
}

// NewExtractor returns an Extractor over the built-in honorific set.
func NewExtractor() *Extractor {
	return &Extractor{titles: dedupedHonorifics()}
}

// IsOnlyTitle reports whether the text is exactly a known honorific, modulo
// trailing punctuation.
func (e *Extractor) IsOnlyTitle(text string) bool {
	probe := strings.ToLower(strings.TrimRight(strings.TrimSpace(text), trailingPunct))
	if probe == "" {
		return false
	}
	for _, t := range e.titles {
		if probe == strings.TrimRight(t, trailingPunct) {
			return true
		}
	}
	return false
}

// ExtractTitle checks whether text begins with a known honorific followed by
// whitespace and a non-empty remainder. It returns the title exactly as it
// appears, the remainder, and the title's byte length in text.
func (e *Extractor) ExtractTitle(text string) (title, remaining string, titleLen int, ok bool) {
	lower := strings.ToLower(text)
	for _, t := range e.titles {
		if !strings.HasPrefix(lower, t) {
			continue
		}
		end := len(t)
		// Abbreviated titles in the table may omit the period the text has.
		if end < len(text) && text[end] == '.' && !strings.HasSuffix(t, ".") {
			end++
		}
		if end >= len(text) || !isGapSpace(text[end]) {
			continue
		}
		rest := strings.TrimLeft(text[end:], " \t\n\r")
		if rest == "" {
			continue
		}
		return text[:end], rest, end, true
	}
	return "", "", 0, false
}

// MergeAdjacentTitleSpans combines a PERSON span whose entire text is an
// honorific with the next PERSON span when the two are separated by at most
// maxGap bytes of whitespace and punctuation. The combined span covers both
// with the source slice as text, the larger confidence, and HYBRID source
// when the halves came from different detectors. maxGap <= 0 selects
// DefaultMaxGap.
func (e *Extractor) MergeAdjacentTitleSpans(spans []pii.SpanMatch, text string, maxGap int) []pii.SpanMatch {
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}
	pii.SortSpans(spans)

	var out []pii.SpanMatch
	for i := 0; i < len(spans); i++ {
		s := spans[i]
		if s.Type == pii.TypePerson && e.IsOnlyTitle(s.Text) && i+1 < len(spans) {
			next := spans[i+1]
			gap := gapSlice(text, s.End, next.Start)
			if next.Type == pii.TypePerson && next.Start >= s.End &&
				next.Start-s.End <= maxGap && onlyGapChars(gap) {
				merged := pii.SpanMatch{
					Type:       pii.TypePerson,
					Start:      s.Start,
					End:        next.End,
					Confidence: maxFloat(s.Confidence, next.Confidence),
					Source:     s.Source,
					Text:       text[s.Start:next.End],
					Semantic:   next.Semantic,
				}
				if s.Source != next.Source {
					merged.Source = pii.SourceHybrid
				}
				out = append(out, merged)
				i++ // consumed the name half
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// ExtractTitlesFromSpans shifts each PERSON span that begins with an
// honorific forward past the title, recording the original honorific in the
// span's semantic attributes. The title characters stay in the surrounding
// text; only the span boundary moves. The remainder is re-anchored with an
// index search from the span start so unusual spacing cannot desynchronize
// the offsets.
func (e *Extractor) ExtractTitlesFromSpans(spans []pii.SpanMatch, text string) []pii.SpanMatch {
	out := make([]pii.SpanMatch, 0, len(spans))
	for _, s := range spans {
		if s.Type != pii.TypePerson {
			out = append(out, s)
			continue
		}
		title, remaining, _, ok := e.ExtractTitle(s.Text)
		if !ok {
			out = append(out, s)
			continue
		}
		idx := strings.Index(text[s.Start:s.End], remaining)
		if idx < 0 {
			out = append(out, s)
			continue
		}
		s.Start += idx
		s.Text = text[s.Start:s.End]
		sem := pii.Semantic{}
		if s.Semantic != nil {
			sem = *s.Semantic
		}
		sem.Title = strings.TrimRight(title, " \t")
		s.Semantic = &sem
		out = append(out, s)
	}
	return out
}

func gapSlice(text string, from, to int) string {
	if from < 0 || to > len(text) || from > to {
		return "\x00" // never passes onlyGapChars
	}
	return text[from:to]
}

func onlyGapChars(gap string) bool {
	for i := 0; i < len(gap); i++ {
		if !strings.ContainsRune(gapChars, rune(gap[i])) {
			return false
		}
	}
	return true
}

func isGapSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
