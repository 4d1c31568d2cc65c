// Package textspan provides text pre-normalization with a reversible offset
// mapping, plus the small pieces of span arithmetic shared by the detection
// pipeline. The rest of the pipeline works entirely in normalized coordinates;
// the mapping exists so callers can recover original-text offsets when needed.
package textspan

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Options control the normalization steps applied by Normalize. Line-ending
// normalization always runs; NFKC and trim are opt-in.
type Options struct {
	NFKC bool
	Trim bool
}

// checkpoint records one point where the original and normalized coordinate
// systems diverge. Offsets at or after Original map with the recorded delta.
type checkpoint struct {
	original   int
	normalized int
}

// Mapping translates offsets between the original and normalized texts. It is
// a monotonic function over a sorted sequence of checkpoints, one per
// line-ending collapse. NFKC and trim are applied after line-ending
// normalization; when they change the text the mapping is only exact up to
// the first such change.
type Mapping struct {
	checkpoints []checkpoint
}

// ToNormalized converts an original-text byte offset to its normalized-text
// position.
func (m *Mapping) ToNormalized(original int) int {
	i := sort.Search(len(m.checkpoints), func(i int) bool {
		return m.checkpoints[i].original > original
	})
	if i == 0 {
		return original
	}
	cp := m.checkpoints[i-1]
	return cp.normalized + (original - cp.original)
}

// ToOriginal converts a normalized-text byte offset back to the original
// text.
func (m *Mapping) ToOriginal(normalized int) int {
	i := sort.Search(len(m.checkpoints), func(i int) bool {
		return m.checkpoints[i].normalized > normalized
	})
	if i == 0 {
		return normalized
	}
	cp := m.checkpoints[i-1]
	return cp.original + (normalized - cp.normalized)
}

// Normalize rewrites text into the pipeline's normalized form: CRLF and lone
// CR become LF, then optional NFKC, then optional whitespace trim. The
// returned Mapping carries one checkpoint per CRLF collapse (delta -1 each).
func Normalize(text string, opts Options) (string, *Mapping) {
	var b strings.Builder
	b.Grow(len(text))
	mapping := &Mapping{}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\r' {
			if i+1 < len(text) && text[i+1] == '\n' {
				// CRLF collapses to LF: record the divergence point just
				// past the pair.
				b.WriteByte('\n')
				i++
				mapping.checkpoints = append(mapping.checkpoints, checkpoint{
					original:   i + 1,
					normalized: b.Len(),
				})
				continue
			}
			b.WriteByte('\n')
			continue
		}
		b.WriteByte(c)
	}

	out := b.String()
	if opts.NFKC {
		out = norm.NFKC.String(out)
	}
	if opts.Trim {
		out = strings.TrimSpace(out)
	}
	return out, mapping
}

// Splice replaces text[start:end] with repl and returns the result. Offsets
// are byte offsets; callers splice in reverse position order to keep earlier
// offsets valid.
func Splice(text string, start, end int, repl string) string {
	return text[:start] + repl + text[end:]
}
