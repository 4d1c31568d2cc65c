// Package tag turns resolved spans into placeholder tags: it assigns stable
// per-type ids (reusing ids for repeated values and across session calls),
// builds the raw PII map, and splices the canonical tag syntax into the
// text. The validator half checks the finished output for tag/map
// consistency and residual PII leaks.
package tag

import (
	"fmt"
	"strings"

	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/policy"
	"github.com/rehydra-ai/rehydra-go/core/textspan"
)

// Generate renders the canonical placeholder tag. Attribute order is fixed:
// type, gender, scope, id. Gender and scope appear only when set to a real
// value; the title attribute is never emitted because the honorific stays in
// the visible text.
func Generate(t pii.Type, id int, sem *pii.Semantic) string {
	var b strings.Builder
	b.WriteString(`<PII type="`)
	b.WriteString(string(t))
	b.WriteString(`"`)
	if sem != nil {
		if sem.Gender != "" && sem.Gender != pii.GenderUnknown {
			fmt.Fprintf(&b, ` gender="%s"`, sem.Gender)
		}
		if sem.Scope != "" && sem.Scope != pii.ScopeUnknown {
			fmt.Fprintf(&b, ` scope="%s"`, sem.Scope)
		}
	}
	fmt.Fprintf(&b, ` id="%d"/>`, id)
	return b.String()
}

// Result is the tagger output for one call.
type Result struct {
	AnonymizedText string
	Entities       []pii.DetectedEntity
	Map            *pii.RawMap
}

// Apply walks the resolved spans in position order, assigns ids, builds the
// raw map, and splices tags into the text. existing seeds the per-type id
// counters and the value-reuse index from a prior session map; pass nil for
// a standalone call.
func Apply(text string, spans []pii.SpanMatch, p *policy.Policy, existing *pii.RawMap) *Result {
	pii.SortSpans(spans)

	counters := make(map[pii.Type]int)
	var reuse map[pii.Type]map[string]string
	if existing != nil {
		for t, max := range existing.MaxIDs() {
			counters[t] = max
		}
		reuse = existing.ReverseIndex()
	}

	rawMap := pii.NewRawMap()
	entities := make([]pii.DetectedEntity, 0, len(spans))
	// callIndex tracks values first seen in this call, per type.
	callIndex := make(map[pii.Type]map[string]int)

	for _, s := range spans {
		id := 0
		if p.ReuseIDsForRepeatedPII {
			if key, ok := lookupReuse(reuse, s.Type, s.Text); ok {
				if _, parsedID, valid := pii.ParseMapKey(key); valid {
					id = parsedID
				}
			}
			if id == 0 {
				if prior, ok := callIndex[s.Type][s.Text]; ok {
					id = prior
				}
			}
		}
		if id == 0 {
			counters[s.Type]++
			id = counters[s.Type]
		}

		if callIndex[s.Type] == nil {
			callIndex[s.Type] = make(map[string]int)
		}
		if _, seen := callIndex[s.Type][s.Text]; !seen {
			callIndex[s.Type][s.Text] = id
		}

		entities = append(entities, pii.DetectedEntity{
			Type:       s.Type,
			ID:         id,
			Start:      s.Start,
			End:        s.End,
			Confidence: s.Confidence,
			Source:     s.Source,
			Semantic:   s.Semantic,
		})
		rawMap.Set(pii.MapKey(s.Type, id), s.Text)
	}

	// Splice tags back-to-front so earlier offsets stay valid.
	anonymized := text
	for i := len(entities) - 1; i >= 0; i-- {
		e := entities[i]
		anonymized = textspan.Splice(anonymized, e.Start, e.End, Generate(e.Type, e.ID, e.Semantic))
	}

	return &Result{
		AnonymizedText: anonymized,
		Entities:       entities,
		Map:            rawMap,
	}
}

func lookupReuse(reuse map[pii.Type]map[string]string, t pii.Type, value string) (string, bool) {
	if reuse == nil {
		return "", false
	}
	byValue, ok := reuse[t]
	if !ok {
		return "", false
	}
	key, ok := byValue[value]
	return key, ok
}
