// Package ner provides neural named-entity detection: BIO decoding over
// per-token logits and the uniform predict interface that wraps a local
// logit source, a remote inference server, or a stub.
package ner

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

// DefaultLabels is the standard CoNLL-style label order used when no
// label-map file is supplied.
var DefaultLabels = []string{
	"O",
	"B-PER", "I-PER",
	"B-ORG", "I-ORG",
	"B-LOC", "I-LOC",
	"B-MISC", "I-MISC",
}

// TypeForEntityLabel maps a model entity label (without the B-/I- prefix) to
// a PII type. MISC folds into ORG.
func TypeForEntityLabel(label string) (pii.Type, bool) {
	switch strings.ToUpper(label) {
	case "PER", "PERSON":
		return pii.TypePerson, true
	case "ORG", "ORGANIZATION":
		return pii.TypeOrg, true
	case "LOC", "LOCATION":
		return pii.TypeLocation, true
	case "MISC":
		return pii.TypeOrg, true
	}
	return "", false
}

// LoadLabelMap reads a label-map JSON file. Two shapes are accepted: a plain
// array of labels in index order, or an object mapping index strings to
// labels (the Hugging Face id2label shape).
func LoadLabelMap(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading label map %s: %w", path, err)
	}

	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var labels []string
		if err := json.Unmarshal(data, &labels); err != nil {
			return nil, fmt.Errorf("parsing label map %s: %w", path, err)
		}
		return labels, nil
	}

	var byIndex map[string]string
	if err := json.Unmarshal(data, &byIndex); err != nil {
		return nil, fmt.Errorf("parsing label map %s: %w", path, err)
	}

	type entry struct {
		idx   int
		label string
	}
	entries := make([]entry, 0, len(byIndex))
	for k, v := range byIndex {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("label map %s: non-numeric index %q", path, k)
		}
		entries = append(entries, entry{idx, v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	labels := make([]string, len(entries))
	for i, e := range entries {
		if e.idx != i {
			return nil, fmt.Errorf("label map %s: index gap at %d", path, e.idx)
		}
		labels[i] = e.label
	}
	return labels, nil
}
