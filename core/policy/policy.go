// Package policy defines the detection policy that drives every stage of the
// anonymization pipeline: which PII types are active, per-type confidence
// thresholds, overlap arbitration, allowlist and denylist handling, and the
// behavioral flags for id reuse, leak scanning, and semantic masking.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

// OverlapStrategy selects the primary criterion used when two detected spans
// overlap and one must be dropped.
type OverlapStrategy string

// Overlap arbitration strategies.
const (
	StrategyLongerSpan       OverlapStrategy = "longer_span"
	StrategyHigherConfidence OverlapStrategy = "higher_confidence"
	StrategyTypePriority     OverlapStrategy = "type_priority"
)

// DefaultConfidenceThreshold applies to any type with no explicit threshold.
const DefaultConfidenceThreshold = 0.5

// DenylistPattern is a caller-supplied always-PII pattern. Matches are
// injected with confidence 1.0 when not already covered by another span.
// Each pattern carries its own type; an empty type falls back to CUSTOM_ID.
type DenylistPattern struct {
	Pattern *regexp.Regexp
	Type    pii.Type
}

// Policy is the full detection configuration for one anonymize call.
type Policy struct {
	EnabledTypes      map[pii.Type]bool
	RegexEnabledTypes map[pii.Type]bool
	NEREnabledTypes   map[pii.Type]bool

	// ConfidenceThresholds maps each type to its minimum accepted
	// confidence. Types without an entry use DefaultConfidenceThreshold.
	ConfidenceThresholds map[pii.Type]float64

	// TypePriority orders types for overlap arbitration; a higher index
	// means higher priority.
	TypePriority []pii.Type

	// AllowlistTerms holds case-folded exact terms exempted from detection.
	AllowlistTerms map[string]bool

	DenylistPatterns []DenylistPattern

	OverlapStrategy OverlapStrategy

	// RegexPriority makes REGEX spans win overlap arbitration against
	// non-REGEX spans before the selected strategy applies.
	RegexPriority bool

	ReuseIDsForRepeatedPII bool
	EnableLeakScan         bool
	EnableSemanticMasking  bool

	Version string
}

// Default returns the instance default policy: all built-in types enabled,
// structured types handled by regex, neural types by NER, id reuse and leak
// scanning on.
func Default() *Policy {
	enabled := make(map[pii.Type]bool, len(pii.AllTypes))
	for _, t := range pii.AllTypes {
		enabled[t] = true
	}
	nerEnabled := map[pii.Type]bool{
		pii.TypePerson:   true,
		pii.TypeOrg:      true,
		pii.TypeLocation: true,
	}
	regexEnabled := make(map[pii.Type]bool, len(pii.AllTypes))
	for _, t := range pii.AllTypes {
		if !nerEnabled[t] {
			regexEnabled[t] = true
		}
	}

	return &Policy{
		EnabledTypes:      enabled,
		RegexEnabledTypes: regexEnabled,
		NEREnabledTypes:   nerEnabled,
		ConfidenceThresholds: map[pii.Type]float64{
			pii.TypePerson:   0.6,
			pii.TypeOrg:      0.6,
			pii.TypeLocation: 0.6,
		},
		TypePriority: []pii.Type{
			pii.TypeOrg, pii.TypeLocation, pii.TypePerson,
			pii.TypeURL, pii.TypeIPAddress, pii.TypePhone,
			pii.TypeCustomerID, pii.TypeCaseID, pii.TypeCustomID,
			pii.TypeCreditCard, pii.TypeBICSwift, pii.TypeIBAN,
			pii.TypeEmail,
		},
		AllowlistTerms:         make(map[string]bool),
		OverlapStrategy:        StrategyLongerSpan,
		RegexPriority:          true,
		ReuseIDsForRepeatedPII: true,
		EnableLeakScan:         true,
		Version:                "1",
	}
}

// Threshold returns the confidence threshold for a type, falling back to
// DefaultConfidenceThreshold.
func (p *Policy) Threshold(t pii.Type) float64 {
	if v, ok := p.ConfidenceThresholds[t]; ok {
		return v
	}
	return DefaultConfidenceThreshold
}

// Priority returns the arbitration priority of a type: its index in
// TypePriority, or -1 for types not listed.
func (p *Policy) Priority(t pii.Type) int {
	for i, pt := range p.TypePriority {
		if pt == t {
			return i
		}
	}
	return -1
}

// Allowlisted reports whether the given span text is exempted. Comparison is
// against case-folded, whitespace-trimmed terms.
func (p *Policy) Allowlisted(text string) bool {
	return p.AllowlistTerms[foldTerm(text)]
}

func foldTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// Patch is a partial policy supplied per call and deep-merged over the
// instance default: ConfidenceThresholds merge entry-wise, every other set
// field replaces its counterpart wholesale.
type Patch struct {
	EnabledTypes      []pii.Type
	RegexEnabledTypes []pii.Type
	NEREnabledTypes   []pii.Type

	ConfidenceThresholds map[pii.Type]float64

	TypePriority     []pii.Type
	AllowlistTerms   []string
	DenylistPatterns []DenylistPattern

	OverlapStrategy OverlapStrategy
	RegexPriority   *bool

	ReuseIDsForRepeatedPII *bool
	EnableLeakScan         *bool
	EnableSemanticMasking  *bool
}

// Merge applies the patch over base and returns a new Policy. base is not
// modified.
func Merge(base *Policy, patch *Patch) *Policy {
	out := base.clone()
	if patch == nil {
		return out
	}

	if patch.EnabledTypes != nil {
		out.EnabledTypes = typeSet(patch.EnabledTypes)
	}
	if patch.RegexEnabledTypes != nil {
		out.RegexEnabledTypes = typeSet(patch.RegexEnabledTypes)
	}
	if patch.NEREnabledTypes != nil {
		out.NEREnabledTypes = typeSet(patch.NEREnabledTypes)
	}
	for t, v := range patch.ConfidenceThresholds {
		out.ConfidenceThresholds[t] = v
	}
	if patch.TypePriority != nil {
		out.TypePriority = append([]pii.Type(nil), patch.TypePriority...)
	}
	if patch.AllowlistTerms != nil {
		out.AllowlistTerms = make(map[string]bool, len(patch.AllowlistTerms))
		for _, term := range patch.AllowlistTerms {
			out.AllowlistTerms[foldTerm(term)] = true
		}
	}
	if patch.DenylistPatterns != nil {
		out.DenylistPatterns = append([]DenylistPattern(nil), patch.DenylistPatterns...)
	}
	if patch.OverlapStrategy != "" {
		out.OverlapStrategy = patch.OverlapStrategy
	}
	if patch.RegexPriority != nil {
		out.RegexPriority = *patch.RegexPriority
	}
	if patch.ReuseIDsForRepeatedPII != nil {
		out.ReuseIDsForRepeatedPII = *patch.ReuseIDsForRepeatedPII
	}
	if patch.EnableLeakScan != nil {
		out.EnableLeakScan = *patch.EnableLeakScan
	}
	if patch.EnableSemanticMasking != nil {
		out.EnableSemanticMasking = *patch.EnableSemanticMasking
	}
	return out
}

// CompileDenylist compiles raw pattern strings into DenylistPattern values.
// An invalid pattern aborts compilation with an error naming the pattern.
func CompileDenylist(entries map[string]pii.Type) ([]DenylistPattern, error) {
	out := make([]DenylistPattern, 0, len(entries))
	for expr, t := range entries {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling denylist pattern %q: %w", expr, err)
		}
		if t == "" {
			t = pii.TypeCustomID
		}
		out = append(out, DenylistPattern{Pattern: re, Type: t})
	}
	return out, nil
}

func (p *Policy) clone() *Policy {
	out := *p
	out.EnabledTypes = copySet(p.EnabledTypes)
	out.RegexEnabledTypes = copySet(p.RegexEnabledTypes)
	out.NEREnabledTypes = copySet(p.NEREnabledTypes)
	out.ConfidenceThresholds = make(map[pii.Type]float64, len(p.ConfidenceThresholds))
	for t, v := range p.ConfidenceThresholds {
		out.ConfidenceThresholds[t] = v
	}
	out.TypePriority = append([]pii.Type(nil), p.TypePriority...)
	out.AllowlistTerms = make(map[string]bool, len(p.AllowlistTerms))
	for term := range p.AllowlistTerms {
		out.AllowlistTerms[term] = true
	}
	out.DenylistPatterns = append([]DenylistPattern(nil), p.DenylistPatterns...)
	return &out
}

func copySet(in map[pii.Type]bool) map[pii.Type]bool {
	out := make(map[pii.Type]bool, len(in))
	for t, v := range in {
		out[t] = v
	}
	return out
}

func typeSet(types []pii.Type) map[pii.Type]bool {
	out := make(map[pii.Type]bool, len(types))
	for _, t := range types {
		out[t] = true
	}
	return out
}
