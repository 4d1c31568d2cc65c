package tag

import (
	"fmt"

	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/policy"
	"github.com/rehydra-ai/rehydra-go/core/recognizers"
	"github.com/rehydra-ai/rehydra-go/core/rehydrate"
)

// Validation error codes. Messages built from these never contain the
// original PII, only tag keys and positions.
const (
	CodeUnknownTag   = "TAG_WITHOUT_MAP_KEY"
	CodeMissingTag   = "MAP_KEY_WITHOUT_TAG"
	CodeDuplicateTag = "MAP_KEY_TAGGED_TWICE"
	CodeLeakedPII    = "PII_OUTSIDE_TAG"
)

// ValidationError is one non-fatal finding from the output validator.
type ValidationError struct {
	Code    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationResult is the combined outcome of the consistency checks and the
// leak scan.
type ValidationResult struct {
	Valid          bool
	Errors         []ValidationError
	LeakScanPassed bool
}

// Validate checks the anonymized text against the map keys: every tag in the
// text must have a key, every key at least one tag (exactly one when id
// reuse for repeated PII is off). With leak scanning
// enabled it re-runs the enabled recognizers over the anonymized text and
// flags matches outside tag boundaries.
func Validate(anonymizedText string, entities []pii.DetectedEntity, piiKeys []string, p *policy.Policy, registry *recognizers.Registry) *ValidationResult {
	result := &ValidationResult{Valid: true, LeakScanPassed: true}

	known := make(map[string]bool, len(piiKeys))
	for _, k := range piiKeys {
		known[k] = true
	}

	tags := rehydrate.ParseStrict(anonymizedText)
	occurrences := make(map[string]int, len(tags))
	for _, tag := range tags {
		key := tag.Key()
		occurrences[key]++
		if !known[key] {
			result.Errors = append(result.Errors, ValidationError{
				Code:    CodeUnknownTag,
				Message: fmt.Sprintf("tag %s at offset %d has no map entry", key, tag.Position),
			})
		}
	}
	for _, k := range piiKeys {
		switch n := occurrences[k]; {
		case n == 0:
			result.Errors = append(result.Errors, ValidationError{
				Code:    CodeMissingTag,
				Message: fmt.Sprintf("map key %s has no tag in output", k),
			})
		case n > 1 && !p.ReuseIDsForRepeatedPII:
			result.Errors = append(result.Errors, ValidationError{
				Code:    CodeDuplicateTag,
				Message: fmt.Sprintf("map key %s appears %d times", k, n),
			})
		}
	}

	if p.EnableLeakScan && registry != nil {
		leaks := leakScan(anonymizedText, tags, p, registry)
		if len(leaks) > 0 {
			result.LeakScanPassed = false
			result.Errors = append(result.Errors, leaks...)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// leakScan re-detects over the anonymized text. A regex match that is not
// fully inside a tag is residual PII. Messages report type and offsets only.
func leakScan(anonymizedText string, tags []rehydrate.ParsedTag, p *policy.Policy, registry *recognizers.Registry) []ValidationError {
	matches := registry.FindAll(anonymizedText, p)

	var leaks []ValidationError
	for _, m := range matches {
		if insideAnyTag(m.Start, m.End, tags) {
			continue
		}
		leaks = append(leaks, ValidationError{
			Code:    CodeLeakedPII,
			Message: fmt.Sprintf("%s match at [%d,%d) outside any tag", m.Type, m.Start, m.End),
		})
	}
	return leaks
}

func insideAnyTag(start, end int, tags []rehydrate.ParsedTag) bool {
	for _, tag := range tags {
		tagEnd := tag.Position + len(tag.MatchedText)
		if start >= tag.Position && end <= tagEnd {
			return true
		}
	}
	return false
}
