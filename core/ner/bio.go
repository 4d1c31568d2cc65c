package ner

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/policy"
	"github.com/rehydra-ai/rehydra-go/core/tokenizer"
)

// Decoder turns per-token logits into typed character spans by BIO assembly.
type Decoder struct {
	labels []string
}

// NewDecoder creates a Decoder over the given label order. Empty labels
// select DefaultLabels.
func NewDecoder(labels []string) *Decoder {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	return &Decoder{labels: labels}
}

// softmax computes probabilities with the max subtracted before
// exponentiation for numerical stability.
func softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// tokenLabel is the per-token classification result.
type tokenLabel struct {
	label      string
	confidence float64
}

// classify applies softmax+argmax to each token's logits. Rows beyond the
// label count or shorter than it are labeled O with zero confidence.
func (d *Decoder) classify(logits [][]float64) []tokenLabel {
	out := make([]tokenLabel, len(logits))
	for i, row := range logits {
		if len(row) != len(d.labels) {
			out[i] = tokenLabel{label: "O"}
			continue
		}
		probs := softmax(row)
		best := 0
		for j, v := range probs {
			if v > probs[best] {
				best = j
			}
		}
		out[i] = tokenLabel{label: d.labels[best], confidence: probs[best]}
	}
	return out
}

// openSpan tracks an in-progress BIO span during assembly.
type openSpan struct {
	entityLabel string
	typ         pii.Type
	start, end  int
	confidences []float64
}

// Decode assembles logits into spans over text: B-X opens a span, I-X
// extends it only when the token is a wordpiece continuation or immediately
// adjacent in character coordinates (at most one whitespace character of
// gap); anything else closes it. The result passes boundary cleanup,
// adjacent-span merging, and the NER-side policy filter.
func (d *Decoder) Decode(enc *tokenizer.Encoding, logits [][]float64, text string, p *policy.Policy) []pii.SpanMatch {
	labels := d.classify(logits)

	var spans []pii.SpanMatch
	var current *openSpan

	flush := func() {
		if current == nil {
			return
		}
		sum := 0.0
		for _, c := range current.confidences {
			sum += c
		}
		spans = append(spans, pii.SpanMatch{
			Type:       current.typ,
			Start:      current.start,
			End:        current.end,
			Confidence: sum / float64(len(current.confidences)),
			Source:     pii.SourceNER,
			Text:       text[current.start:current.end],
		})
		current = nil
	}

	n := enc.Len()
	if len(labels) < n {
		n = len(labels)
	}
	for i := 0; i < n; i++ {
		span := enc.Spans[i]
		if span == nil {
			// Special token: close any open span.
			flush()
			continue
		}
		lab := labels[i]

		prefix, entity, ok := splitBIO(lab.label)
		if !ok {
			flush()
			continue
		}
		typ, known := TypeForEntityLabel(entity)
		if !known {
			flush()
			continue
		}

		switch prefix {
		case "B":
			flush()
			current = &openSpan{
				entityLabel: entity,
				typ:         typ,
				start:       span.Start,
				end:         span.End,
				confidences: []float64{lab.confidence},
			}
		case "I":
			if current != nil && current.entityLabel == entity &&
				(enc.Continuation[i] || adjacent(text, current.end, span.Start)) {
				current.end = span.End
				current.confidences = append(current.confidences, lab.confidence)
				continue
			}
			// Mismatched or detached continuation: close and start fresh.
			flush()
			current = &openSpan{
				entityLabel: entity,
				typ:         typ,
				start:       span.Start,
				end:         span.End,
				confidences: []float64{lab.confidence},
			}
		}
	}
	flush()

	spans = CleanupBoundaries(spans, text)
	spans = MergeAdjacentSpans(spans, text, minNERThreshold(p))
	return filterNER(spans, p)
}

// splitBIO splits "B-PER" into ("B", "PER"). "O" and malformed labels return
// ok=false.
func splitBIO(label string) (prefix, entity string, ok bool) {
	if len(label) < 3 || label[1] != '-' {
		return "", "", false
	}
	prefix = label[:1]
	if prefix != "B" && prefix != "I" {
		return "", "", false
	}
	return prefix, label[2:], true
}

// adjacent reports whether two character positions are immediately adjacent,
// allowing at most one whitespace character between them.
func adjacent(text string, end, start int) bool {
	if start < end {
		return false
	}
	gap := start - end
	if gap == 0 {
		return true
	}
	if gap == 1 && end < len(text) && isASCIISpace(text[end]) {
		return true
	}
	return false
}

func isASCIISpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// CleanupBoundaries trims leading and trailing whitespace and punctuation
// from each span by shrinking its offsets. Spans that shrink to nothing are
// dropped.
func CleanupBoundaries(spans []pii.SpanMatch, text string) []pii.SpanMatch {
	out := spans[:0]
	for _, s := range spans {
		start, end := s.Start, s.End
		for start < end {
			r, size := utf8.DecodeRuneInString(text[start:end])
			if !trimmable(r) {
				break
			}
			start += size
		}
		for end > start {
			r, size := utf8.DecodeLastRuneInString(text[start:end])
			if !trimmable(r) {
				break
			}
			end -= size
		}
		if start >= end {
			continue
		}
		s.Start, s.End = start, end
		s.Text = text[start:end]
		out = append(out, s)
	}
	return out
}

func trimmable(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

// MergeAdjacentSpans coalesces same-type spans separated only by whitespace
// or hyphens when both sides meet the confidence threshold. The merged span
// carries the mean of the two confidences.
func MergeAdjacentSpans(spans []pii.SpanMatch, text string, threshold float64) []pii.SpanMatch {
	if len(spans) < 2 {
		return spans
	}
	pii.SortSpans(spans)

	out := []pii.SpanMatch{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.Type == last.Type &&
			last.Confidence >= threshold && s.Confidence >= threshold &&
			s.Start >= last.End && gapIsJoinable(text[min(last.End, len(text)):min(s.Start, len(text))]) {
			last.End = s.End
			last.Text = text[last.Start:last.End]
			last.Confidence = (last.Confidence + s.Confidence) / 2
			continue
		}
		out = append(out, s)
	}
	return out
}

// gapIsJoinable accepts an empty gap or one of only whitespace and hyphens.
func gapIsJoinable(gap string) bool {
	if gap == "" {
		return true
	}
	return strings.IndexFunc(gap, func(r rune) bool {
		return !unicode.IsSpace(r) && r != '-'
	}) == -1
}

// minNERThreshold returns the lowest configured threshold across the
// NER-enabled types; spans below it never survive any per-type filter.
func minNERThreshold(p *policy.Policy) float64 {
	min := math.Inf(1)
	for t, on := range p.NEREnabledTypes {
		if !on {
			continue
		}
		if th := p.Threshold(t); th < min {
			min = th
		}
	}
	if math.IsInf(min, 1) {
		return policy.DefaultConfidenceThreshold
	}
	return min
}

// filterNER keeps spans whose type is NER-enabled and whose confidence meets
// the global NER floor.
func filterNER(spans []pii.SpanMatch, p *policy.Policy) []pii.SpanMatch {
	floor := minNERThreshold(p)
	out := spans[:0]
	for _, s := range spans {
		if !p.NEREnabledTypes[s.Type] || !p.EnabledTypes[s.Type] {
			continue
		}
		if s.Confidence < floor {
			continue
		}
		out = append(out, s)
	}
	return out
}

