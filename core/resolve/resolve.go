// Package resolve merges regex and neural detections into a single sorted,
// non-overlapping span list under the active policy: per-type filtering,
// allowlist exemptions, deterministic overlap arbitration, and denylist
// injection.
package resolve

import (
	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/policy"
)

// Resolve arbitrates the combined detections over the normalized text.
// The result is sorted by start ascending, length descending, and is
// pairwise non-overlapping (touching spans permitted).
func Resolve(regexMatches, nerMatches []pii.SpanMatch, p *policy.Policy, text string) []pii.SpanMatch {
	candidates := make([]pii.SpanMatch, 0, len(regexMatches)+len(nerMatches))
	candidates = append(candidates, filter(regexMatches, p)...)
	candidates = append(candidates, filter(nerMatches, p)...)

	pii.SortSpans(candidates)
	accepted := arbitrate(candidates, p)
	accepted = injectDenylist(accepted, p, text)
	accepted = dropDuplicates(accepted)
	pii.SortSpans(accepted)
	return accepted
}

// filter drops spans of disabled types, spans below the per-type threshold,
// and allowlisted terms.
func filter(spans []pii.SpanMatch, p *policy.Policy) []pii.SpanMatch {
	out := make([]pii.SpanMatch, 0, len(spans))
	for _, s := range spans {
		if !p.EnabledTypes[s.Type] {
			continue
		}
		if s.Confidence < p.Threshold(s.Type) {
			continue
		}
		if p.Allowlisted(s.Text) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// arbitrate walks the sorted candidates and resolves overlaps one duel at a
// time. A candidate that beats an accepted span evicts it and re-checks for
// further overlaps; a candidate that loses any duel is dropped.
func arbitrate(candidates []pii.SpanMatch, p *policy.Policy) []pii.SpanMatch {
	var accepted []pii.SpanMatch

	for _, cand := range candidates {
		rejected := false
		for {
			idx := findOverlap(accepted, cand)
			if idx < 0 {
				break
			}
			if candidateWins(accepted[idx], cand, p) {
				accepted = append(accepted[:idx], accepted[idx+1:]...)
				continue
			}
			rejected = true
			break
		}
		if !rejected {
			accepted = append(accepted, cand)
		}
	}
	return accepted
}

func findOverlap(accepted []pii.SpanMatch, cand pii.SpanMatch) int {
	for i, a := range accepted {
		if a.Overlaps(cand) {
			return i
		}
	}
	return -1
}

// candidateWins decides an overlap duel between an already-accepted span and
// a new candidate. The chain is: regex-beats-neural (when enabled), then the
// selected strategy, then the fixed tiebreakers longer span, higher
// confidence, higher type priority, and finally first-seen (the incumbent).
func candidateWins(incumbent, cand pii.SpanMatch, p *policy.Policy) bool {
	if p.RegexPriority {
		iRegex := incumbent.Source == pii.SourceRegex
		cRegex := cand.Source == pii.SourceRegex
		if iRegex != cRegex {
			return cRegex
		}
	}

	if win, decided := compareBy(p.OverlapStrategy, incumbent, cand, p); decided {
		return win
	}

	for _, strat := range []policy.OverlapStrategy{
		policy.StrategyLongerSpan,
		policy.StrategyHigherConfidence,
		policy.StrategyTypePriority,
	} {
		if strat == p.OverlapStrategy {
			continue
		}
		if win, decided := compareBy(strat, incumbent, cand, p); decided {
			return win
		}
	}

	// First-seen wins: the incumbent stays.
	return false
}

// compareBy applies one comparison dimension. decided is false on a tie.
func compareBy(strat policy.OverlapStrategy, incumbent, cand pii.SpanMatch, p *policy.Policy) (candWins, decided bool) {
	switch strat {
	case policy.StrategyLongerSpan:
		if cand.Len() != incumbent.Len() {
			return cand.Len() > incumbent.Len(), true
		}
	case policy.StrategyHigherConfidence:
		if cand.Confidence != incumbent.Confidence {
			return cand.Confidence > incumbent.Confidence, true
		}
	case policy.StrategyTypePriority:
		ci, ii := p.Priority(cand.Type), p.Priority(incumbent.Type)
		if ci != ii {
			return ci > ii, true
		}
	}
	return false, false
}

// injectDenylist scans the text with every denylist pattern and adds matches
// not already covered by an accepted span, with confidence 1.0 and the
// pattern's own type.
func injectDenylist(accepted []pii.SpanMatch, p *policy.Policy, text string) []pii.SpanMatch {
	for _, d := range p.DenylistPatterns {
		for _, loc := range d.Pattern.FindAllStringIndex(text, -1) {
			m := pii.SpanMatch{
				Type:       d.Type,
				Start:      loc[0],
				End:        loc[1],
				Confidence: 1.0,
				Source:     pii.SourceRegex,
				Text:       text[loc[0]:loc[1]],
			}
			if m.Type == "" {
				m.Type = pii.TypeCustomID
			}
			if findOverlap(accepted, m) >= 0 {
				continue
			}
			accepted = append(accepted, m)
		}
	}
	return accepted
}

// dropDuplicates removes spans that repeat an exact (start, end, type)
// triple, keeping the first.
func dropDuplicates(spans []pii.SpanMatch) []pii.SpanMatch {
	type key struct {
		start, end int
		typ        pii.Type
	}
	seen := make(map[key]bool, len(spans))
	out := spans[:0]
	for _, s := range spans {
		k := key{s.Start, s.End, s.Type}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
