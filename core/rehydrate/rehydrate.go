// Package rehydrate recognizes PII placeholder tags in anonymized text and
// reverses them from a decrypted raw map. Two parsers exist: the strict one
// accepts exactly the canonical syntax the tagger emits, the tolerant one
// survives the quote substitution, case drift, attribute reordering, and
// whitespace mangling that machine translation inflicts on pass-through
// markup.
package rehydrate

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

// ParsedTag is one recognized placeholder tag.
type ParsedTag struct {
	Type        pii.Type
	ID          int
	Semantic    *pii.Semantic
	MatchedText string
	Position    int
}

// Key returns the raw-map key the tag refers to.
func (t ParsedTag) Key() string { return pii.MapKey(t.Type, t.ID) }

// strictTagRe matches the canonical tag syntax with fixed attribute order.
var strictTagRe = regexp.MustCompile(
	`<PII type="([A-Z_]+)"(?: gender="(male|female|neutral)")?(?: scope="(city|region|country)")? id="([0-9]+)"/>`)

// ParseStrict extracts canonical tags in position order.
func ParseStrict(text string) []ParsedTag {
	var out []ParsedTag
	for _, m := range strictTagRe.FindAllStringSubmatchIndex(text, -1) {
		typ := text[m[2]:m[3]]
		id, err := strconv.Atoi(text[m[8]:m[9]])
		if err != nil || id < 1 {
			continue
		}
		tag := ParsedTag{
			Type:        pii.Type(typ),
			ID:          id,
			MatchedText: text[m[0]:m[1]],
			Position:    m[0],
		}
		sem := pii.Semantic{}
		hasSem := false
		if m[4] >= 0 {
			sem.Gender = text[m[4]:m[5]]
			hasSem = true
		}
		if m[6] >= 0 {
			sem.Scope = text[m[6]:m[7]]
			hasSem = true
		}
		if hasSem {
			tag.Semantic = &sem
		}
		out = append(out, tag)
	}
	return out
}

// quoteClass enumerates every quote character translators substitute for
// plain double quotes: ASCII double and single quotes, curly doubles and
// singles, low-9 quotes, and guillemets.
const quoteClass = "[\"'“”„‘’«»]"

// tolerantTagRe matches a pii tag with arbitrary attribute content; the
// attributes are picked apart separately so they may appear in any order.
// The closing slash is optional: some translators drop it, and older tagger
// output without it must still rehydrate.
var tolerantTagRe = regexp.MustCompile(`(?i)<\s*pii\b([^<>]*?)/?\s*>`)

// tolerantAttrRe matches one attribute with any accepted quote style and
// arbitrary whitespace around the equals sign.
var tolerantAttrRe = regexp.MustCompile(
	`(?i)(type|gender|scope|id)\s*=\s*` + quoteClass + `\s*([^"'\x{201C}\x{201D}\x{201E}\x{2018}\x{2019}\x{00AB}\x{00BB}]*?)\s*` + quoteClass)

// ParseTolerant extracts tags with translator-grade leniency. A candidate
// needs at least a type and a numeric id to qualify; anything else inside
// the angle brackets is ignored.
func ParseTolerant(text string) []ParsedTag {
	var out []ParsedTag
	for _, m := range tolerantTagRe.FindAllStringSubmatchIndex(text, -1) {
		body := text[m[2]:m[3]]

		var typ string
		var id int
		sem := pii.Semantic{}
		hasSem := false
		for _, attr := range tolerantAttrRe.FindAllStringSubmatch(body, -1) {
			value := strings.TrimSpace(attr[2])
			switch strings.ToLower(attr[1]) {
			case "type":
				typ = strings.ToUpper(value)
			case "id":
				if n, err := strconv.Atoi(value); err == nil {
					id = n
				}
			case "gender":
				sem.Gender = strings.ToLower(value)
				hasSem = true
			case "scope":
				sem.Scope = strings.ToLower(value)
				hasSem = true
			}
		}
		if typ == "" || id < 1 {
			continue
		}

		tag := ParsedTag{
			Type:        pii.Type(typ),
			ID:          id,
			MatchedText: text[m[0]:m[1]],
			Position:    m[0],
		}
		if hasSem {
			tag.Semantic = &sem
		}
		out = append(out, tag)
	}
	return out
}

// Rehydrate reverses tags in anonymizedText from the raw map. Tags whose key
// is missing from the map are left in place so a later pass with a fuller
// map can still succeed. Tolerant parsing is the default; strict=true
// reverses only canonical tags.
func Rehydrate(anonymizedText string, rawMap *pii.RawMap, strict bool) string {
	if rawMap == nil || rawMap.Len() == 0 {
		return anonymizedText
	}

	var tags []ParsedTag
	if strict {
		tags = ParseStrict(anonymizedText)
	} else {
		tags = ParseTolerant(anonymizedText)
	}
	if len(tags) == 0 {
		return anonymizedText
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Position < tags[j].Position })

	var b strings.Builder
	b.Grow(len(anonymizedText))
	prev := 0
	for _, tag := range tags {
		if tag.Position < prev {
			continue
		}
		original, ok := rawMap.Get(tag.Key())
		if !ok {
			continue
		}
		b.WriteString(anonymizedText[prev:tag.Position])
		b.WriteString(original)
		prev = tag.Position + len(tag.MatchedText)
	}
	b.WriteString(anonymizedText[prev:])
	return b.String()
}
