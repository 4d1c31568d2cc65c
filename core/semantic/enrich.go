package semantic

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

// bigCityPopulation is the population floor above which a city lookup wins
// over a region of the same name.
const bigCityPopulation = 500_000

// variationConfidence caps the confidence of spans whose location resolved
// only through a lookup variation (article stripped or diacritics folded).
const variationConfidence = 0.9

// titlePrefixes are stripped from person spans before the first-name lookup.
// Each may be followed by a period.
var titlePrefixes = []string{
	"dr", "mr", "mrs", "ms", "prof", "rev", "fr", "sr", "br",
	"sir", "dame", "lord", "lady",
}

// trailingLocationWords are dropped from the end of a location name before
// lookup ("New York City" -> "new york"); when the stripped name misses, the
// full name is looked up as well.
var trailingLocationWords = []string{
	"city", "town", "village", "state", "province", "region", "county",
}

// leadingArticles are tried as drop-candidates in lookup variations.
var leadingArticles = []string{
	"the ", "la ", "le ", "les ", "el ", "los ", "las ",
	"der ", "die ", "das ", "den ", "de ", "il ", "lo ",
}

// Options adjust one enrichment pass.
type Options struct {
	// Locale is a BCP-47 tag; only the language subtag participates in
	// per-language gender overrides.
	Locale string
}

// Enricher annotates spans with semantic attributes out of a loaded
// Database. Safe for concurrent use; the database is never mutated.
type Enricher struct {
	db *Database
}

// NewEnricher wraps a loaded database.
func NewEnricher(db *Database) *Enricher {
	return &Enricher{db: db}
}

// Enrich annotates PERSON spans with gender and LOCATION spans with scope.
// Other spans pass through unchanged. The input slice is not modified.
func (e *Enricher) Enrich(spans []pii.SpanMatch, opts Options) []pii.SpanMatch {
	lang := languageSubtag(opts.Locale)
	out := make([]pii.SpanMatch, len(spans))
	for i, s := range spans {
		switch s.Type {
		case pii.TypePerson:
			out[i] = e.enrichPerson(s, lang)
		case pii.TypeLocation:
			out[i] = e.enrichLocation(s)
		default:
			out[i] = s
		}
	}
	return out
}

func (e *Enricher) enrichPerson(s pii.SpanMatch, lang string) pii.SpanMatch {
	first := firstName(s.Text)
	if first != "" {
		if entry, ok := e.db.Names[strings.ToLower(first)]; ok {
			gender := entry.Gender
			if lang != "" {
				if override, ok := entry.LocaleOverrides[lang]; ok {
					gender = override
				}
			}
			return withGender(s, gender)
		}
	}
	// Name lookup missed: a gendered honorific extracted earlier still
	// settles it.
	if s.Semantic != nil && s.Semantic.Title != "" {
		if gender, ok := titleGender(s.Semantic.Title); ok {
			return withGender(s, gender)
		}
	}
	return withGender(s, pii.GenderUnknown)
}

// genderedTitles maps honorifics that imply a gender. Gender-neutral titles
// (Dr., Prof., Mx.) are deliberately absent.
var genderedTitles = map[string]string{
	"mr": pii.GenderMale, "sir": pii.GenderMale, "lord": pii.GenderMale,
	"herr": pii.GenderMale, "monsieur": pii.GenderMale, "m": pii.GenderMale,
	"señor": pii.GenderMale, "don": pii.GenderMale, "signor": pii.GenderMale,
	"senhor": pii.GenderMale, "dhr": pii.GenderMale, "meneer": pii.GenderMale,
	"kungs": pii.GenderMale, "先生": pii.GenderMale,
	"mrs": pii.GenderFemale, "ms": pii.GenderFemale, "miss": pii.GenderFemale,
	"dame": pii.GenderFemale, "lady": pii.GenderFemale, "madam": pii.GenderFemale,
	"frau": pii.GenderFemale, "fräulein": pii.GenderFemale,
	"madame": pii.GenderFemale, "mme": pii.GenderFemale, "mlle": pii.GenderFemale,
	"mademoiselle": pii.GenderFemale, "señora": pii.GenderFemale,
	"señorita": pii.GenderFemale, "doña": pii.GenderFemale,
	"signora": pii.GenderFemale, "signorina": pii.GenderFemale,
	"senhora": pii.GenderFemale, "mevrouw": pii.GenderFemale,
	"kundze": pii.GenderFemale, "女士": pii.GenderFemale, "小姐": pii.GenderFemale,
	"太太": pii.GenderFemale, "夫人": pii.GenderFemale,
}

func titleGender(title string) (string, bool) {
	key := strings.ToLower(strings.TrimRight(strings.TrimSpace(title), "."))
	g, ok := genderedTitles[key]
	return g, ok
}

// firstName strips a leading title (with optional period) and returns the
// first remaining word.
func firstName(text string) string {
	words := strings.Fields(text)
	for len(words) > 0 {
		w := strings.ToLower(strings.TrimSuffix(words[0], "."))
		if !containsString(titlePrefixes, w) {
			break
		}
		words = words[1:]
	}
	if len(words) == 0 {
		return ""
	}
	return strings.Trim(words[0], ".,;:!?")
}

func (e *Enricher) enrichLocation(s pii.SpanMatch) pii.SpanMatch {
	name := normalizeLocationName(s.Text)
	if name == "" {
		return withScope(s, pii.ScopeUnknown, false)
	}

	if scope, ok := e.lookupLocation(name); ok {
		return withScope(s, scope, false)
	}
	// Names indexed with their generic word ("new york city") match only
	// unstripped.
	if full := strings.Join(strings.Fields(strings.ToLower(s.Text)), " "); full != name {
		if scope, ok := e.lookupLocation(full); ok {
			return withScope(s, scope, false)
		}
	}

	for _, variant := range e.variations(name) {
		if scope, ok := e.lookupLocation(variant); ok {
			return withScope(s, scope, true)
		}
	}
	return withScope(s, pii.ScopeUnknown, false)
}

// lookupLocation resolves a normalized name. Countries take priority (so
// "USA" is a country even though a city of that name could exist), then
// big cities, then regions, then any city.
func (e *Enricher) lookupLocation(name string) (string, bool) {
	if _, ok := e.db.Countries[name]; ok {
		return pii.ScopeCountry, true
	}
	city, isCity := e.db.Cities[name]
	if isCity && city.Population >= bigCityPopulation {
		return pii.ScopeCity, true
	}
	if _, ok := e.db.Regions[name]; ok {
		return pii.ScopeRegion, true
	}
	if isCity {
		return pii.ScopeCity, true
	}
	return "", false
}

// variations yields alternate lookup keys: the name without a leading
// article, with diacritics folded, and both combined.
func (e *Enricher) variations(name string) []string {
	var out []string
	add := func(v string) {
		if v == "" || v == name {
			return
		}
		for _, existing := range out {
			if existing == v {
				return
			}
		}
		out = append(out, v)
	}

	stripped := name
	for _, article := range leadingArticles {
		if strings.HasPrefix(name, article) {
			stripped = strings.TrimSpace(strings.TrimPrefix(name, article))
			add(stripped)
			break
		}
	}
	add(foldDiacritics(name))
	add(foldDiacritics(stripped))
	return out
}

// normalizeLocationName lowercases, trims, drops a trailing generic word,
// and collapses internal whitespace.
func normalizeLocationName(text string) string {
	name := strings.ToLower(strings.TrimSpace(text))
	name = strings.Join(strings.Fields(name), " ")
	for _, suffix := range trailingLocationWords {
		if strings.HasSuffix(name, " "+suffix) {
			name = strings.TrimSpace(strings.TrimSuffix(name, " "+suffix))
			break
		}
	}
	return name
}

var diacriticsFolder = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// foldDiacritics strips combining marks: "münchen" -> "munchen".
func foldDiacritics(s string) string {
	out, _, err := transform.String(diacriticsFolder, s)
	if err != nil {
		return s
	}
	return out
}

func withGender(s pii.SpanMatch, gender string) pii.SpanMatch {
	sem := pii.Semantic{}
	if s.Semantic != nil {
		sem = *s.Semantic
	}
	sem.Gender = gender
	s.Semantic = &sem
	return s
}

func withScope(s pii.SpanMatch, scope string, viaVariation bool) pii.SpanMatch {
	sem := pii.Semantic{}
	if s.Semantic != nil {
		sem = *s.Semantic
	}
	sem.Scope = scope
	s.Semantic = &sem
	if viaVariation && s.Confidence > variationConfidence {
		s.Confidence = variationConfidence
	}
	return s
}

func languageSubtag(locale string) string {
	if locale == "" {
		return ""
	}
	lang := locale
	if i := strings.IndexAny(locale, "-_"); i >= 0 {
		lang = locale[:i]
	}
	return strings.ToLower(lang)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
