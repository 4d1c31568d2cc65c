// Package recognizers implements pattern-based PII detection. Each PII type
// gets a Recognizer that pairs compiled regular expressions with a base
// confidence and optional validate/normalize hooks (checksums, structural
// checks). The Registry fans a text out to every recognizer and applies
// policy-driven filtering to the combined results.
package recognizers

import (
	"regexp"

	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/policy"
)

// Recognizer detects one PII type via regular expressions. Implementations
// must be safe for concurrent use after construction.
type Recognizer interface {
	// Type returns the PII type this recognizer produces.
	Type() pii.Type
	// Find returns all validated matches in text as REGEX-source spans.
	Find(text string) []pii.SpanMatch
}

// regexRecognizer is the standard Recognizer implementation: a set of
// patterns, a base confidence, and optional hooks. Validate rejects
// candidates that match a pattern but fail a structural or checksum test;
// normalize canonicalizes the candidate before validation (the emitted span
// text is always the exact source slice).
type regexRecognizer struct {
	typ        pii.Type
	patterns   []*regexp.Regexp
	confidence float64
	validate   func(string) bool
	normalize  func(string) string
}

func (r *regexRecognizer) Type() pii.Type { return r.typ }

func (r *regexRecognizer) Find(text string) []pii.SpanMatch {
	type span struct{ start, end int }
	seen := make(map[span]bool)
	var out []pii.SpanMatch

	for _, re := range r.patterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			key := span{loc[0], loc[1]}
			if seen[key] {
				continue
			}
			seen[key] = true

			candidate := text[loc[0]:loc[1]]
			if r.validate != nil {
				probe := candidate
				if r.normalize != nil {
					probe = r.normalize(candidate)
				}
				if !r.validate(probe) {
					continue
				}
			}

			out = append(out, pii.SpanMatch{
				Type:       r.typ,
				Start:      loc[0],
				End:        loc[1],
				Confidence: r.confidence,
				Source:     pii.SourceRegex,
				Text:       candidate,
			})
		}
	}
	return out
}

// Registry holds the active recognizers in registration order.
type Registry struct {
	recognizers []Recognizer
}

// NewRegistry returns a Registry pre-populated with the built-in recognizers.
func NewRegistry() *Registry {
	r := &Registry{}
	for _, rec := range builtinRecognizers() {
		r.Register(rec)
	}
	return r
}

// NewEmptyRegistry returns a Registry with no recognizers, for callers that
// assemble a fully custom set.
func NewEmptyRegistry() *Registry {
	return &Registry{}
}

// Register appends a recognizer. Multiple recognizers may share a type.
func (r *Registry) Register(rec Recognizer) {
	r.recognizers = append(r.recognizers, rec)
}

// Recognizers returns the registered recognizers in order. The caller must
// not modify the returned slice.
func (r *Registry) Recognizers() []Recognizer { return r.recognizers }

// FindAll runs every recognizer over text and filters the results by policy:
// a match survives only if its type is enabled for regex detection and its
// confidence meets the per-type threshold.
func (r *Registry) FindAll(text string, p *policy.Policy) []pii.SpanMatch {
	var out []pii.SpanMatch
	for _, rec := range r.recognizers {
		t := rec.Type()
		if !p.EnabledTypes[t] || !p.RegexEnabledTypes[t] {
			continue
		}
		threshold := p.Threshold(t)
		for _, m := range rec.Find(text) {
			if m.Confidence < threshold {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}
