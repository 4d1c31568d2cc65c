package recognizers

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

// Base confidences reflect how specifically each pattern identifies its
// target type: checksum-validated formats score high, broad numeric patterns
// score low and rely on the per-type threshold for gating.
const (
	confEmail      = 0.95
	confPhone      = 0.65
	confPhoneIntl  = 0.80
	confIBAN       = 0.95
	confBIC        = 0.85
	confCreditCard = 0.90
	confIPAddress  = 0.85
	confURL        = 0.90
	confCustomID   = 0.85
)

func builtinRecognizers() []Recognizer {
	return []Recognizer{
		emailRecognizer(),
		phoneRecognizer(),
		ibanRecognizer(),
		bicRecognizer(),
		creditCardRecognizer(),
		ipAddressRecognizer(),
		urlRecognizer(),
	}
}

func emailRecognizer() Recognizer {
	return &regexRecognizer{
		typ: pii.TypeEmail,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		},
		confidence: confEmail,
	}
}

func phoneRecognizer() Recognizer {
	return &regexRecognizer{
		typ: pii.TypePhone,
		patterns: []*regexp.Regexp{
			// International with explicit country code.
			regexp.MustCompile(`\+\d{1,3}[ \-.]?\(?\d{1,4}\)?(?:[ \-.]?\d{2,4}){2,4}`),
			// North-American style, optionally parenthesized area code.
			regexp.MustCompile(`\(?\d{3}\)?[ \-.]\d{3}[ \-.]\d{4}`),
		},
		confidence: confPhone,
		validate:   validPhone,
	}
}

// validPhone requires 7-15 digits, the E.164 envelope.
func validPhone(s string) bool {
	digits := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	return digits >= 7 && digits <= 15
}

func ibanRecognizer() Recognizer {
	return &regexRecognizer{
		typ: pii.TypeIBAN,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
			// Print format with groups of four separated by spaces.
			regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: [A-Z0-9]{4}){2,7}(?: [A-Z0-9]{1,4})?\b`),
		},
		confidence: confIBAN,
		normalize:  stripSpaces,
		validate:   validIBAN,
	}
}

func stripSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "")
}

// validIBAN applies the ISO 13616 mod-97 check: rotate the first four
// characters to the end, expand letters to 10..35, and require a remainder
// of 1.
func validIBAN(s string) bool {
	if len(s) < 15 || len(s) > 34 {
		return false
	}
	rearranged := s[4:] + s[:4]
	rem := 0
	for i := 0; i < len(rearranged); i++ {
		c := rearranged[i]
		switch {
		case c >= '0' && c <= '9':
			rem = (rem*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			v := int(c-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return false
		}
	}
	return rem == 1
}

func bicRecognizer() Recognizer {
	return &regexRecognizer{
		typ: pii.TypeBICSwift,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}(?:[A-Z0-9]{3})?\b`),
		},
		confidence: confBIC,
		validate:   validBIC,
	}
}

// iso3166Alpha2 holds the assigned country codes plus XK (Kosovo), which
// appears in real BICs.
var iso3166Alpha2 = func() map[string]bool {
	const codes = "AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ " +
		"BA BB BD BE BF BG BH BI BJ BL BM BN BO BQ BR BS BT BV BW BY BZ " +
		"CA CC CD CF CG CH CI CK CL CM CN CO CR CU CV CW CX CY CZ " +
		"DE DJ DK DM DO DZ EC EE EG EH ER ES ET FI FJ FK FM FO FR " +
		"GA GB GD GE GF GG GH GI GL GM GN GP GQ GR GS GT GU GW GY " +
		"HK HM HN HR HT HU ID IE IL IM IN IO IQ IR IS IT JE JM JO JP " +
		"KE KG KH KI KM KN KP KR KW KY KZ LA LB LC LI LK LR LS LT LU LV LY " +
		"MA MC MD ME MF MG MH MK ML MM MN MO MP MQ MR MS MT MU MV MW MX MY MZ " +
		"NA NC NE NF NG NI NL NO NP NR NU NZ OM PA PE PF PG PH PK PL PM PN PR PS PT PW PY " +
		"QA RE RO RS RU RW SA SB SC SD SE SG SH SI SJ SK SL SM SN SO SR SS ST SV SX SY SZ " +
		"TC TD TF TG TH TJ TK TL TM TN TO TR TT TV TW TZ UA UG UM US UY UZ " +
		"VA VC VE VG VI VN VU WF WS XK YE YT ZA ZM ZW"
	set := make(map[string]bool)
	for _, c := range strings.Fields(codes) {
		set[c] = true
	}
	return set
}()

// validBIC checks the 8-or-11 length and that positions 5-6 hold a real
// country code.
func validBIC(s string) bool {
	if len(s) != 8 && len(s) != 11 {
		return false
	}
	return iso3166Alpha2[s[4:6]]
}

func creditCardRecognizer() Recognizer {
	return &regexRecognizer{
		typ: pii.TypeCreditCard,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:\d{4}[ \-]?){3}\d{1,7}\b`),
		},
		confidence: confCreditCard,
		normalize:  stripSeparators,
		validate:   validLuhn,
	}
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, s)
}

// validLuhn applies the Luhn checksum over 13-19 digits.
func validLuhn(s string) bool {
	if len(s) < 13 || len(s) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func ipAddressRecognizer() Recognizer {
	return &regexRecognizer{
		typ: pii.TypeIPAddress,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			// IPv6, longest alternatives first so greedy matching picks the
			// most complete address.
			regexp.MustCompile(`(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}` +
				`|(?:[0-9a-fA-F]{1,4}:){1,7}:(?:[0-9a-fA-F]{1,4})?` +
				`|(?:[0-9a-fA-F]{1,4}:){1,6}(?::[0-9a-fA-F]{1,4}){1,6}` +
				`|::(?:[0-9a-fA-F]{1,4}(?::[0-9a-fA-F]{1,4}){0,6})?`),
		},
		confidence: confIPAddress,
		validate:   validIP,
	}
}

func validIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

func urlRecognizer() Recognizer {
	return &regexRecognizer{
		typ: pii.TypeURL,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b[a-z][a-z0-9+.\-]*://[^\s<>"']+`),
			regexp.MustCompile(`\bwww\.[^\s<>"']+`),
			regexp.MustCompile(`\bmailto:[^\s<>"']+`),
		},
		confidence: confURL,
	}
}

// NewCustomRecognizer builds a recognizer for caller-defined identifier types
// (CUSTOM_ID, CASE_ID, CUSTOMER_ID, or an extension type). Patterns compile
// eagerly; an invalid pattern fails construction.
func NewCustomRecognizer(t pii.Type, patterns []string, confidence float64) (Recognizer, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("recognizer for %s needs at least one pattern", t)
	}
	if confidence <= 0 {
		confidence = confCustomID
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q for %s: %w", p, t, err)
		}
		compiled = append(compiled, re)
	}
	return &regexRecognizer{typ: t, patterns: compiled, confidence: confidence}, nil
}
