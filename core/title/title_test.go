package title

import (
	"testing"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

func TestIsOnlyTitle(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		text string
		want bool
	}{
		{"Dr.", true},
		{"Dr", true},
		{"Mrs.", true},
		{"Herr", true},
		{"Madame", true},
		{"先生", true},
		{"Dr.,", true}, // trailing punctuation tolerated
		{"Dr. Smith", false},
		{"Smith", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := e.IsOnlyTitle(tt.text); got != tt.want {
			t.Fatalf("IsOnlyTitle(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestExtractTitle(t *testing.T) {
	e := NewExtractor()

	t.Run("simple", func(t *testing.T) {
		title, remaining, n, ok := e.ExtractTitle("Dr. Smith")
		if !ok || title != "Dr." || remaining != "Smith" || n != 3 {
			t.Fatalf("ExtractTitle = %q, %q, %d, %v", title, remaining, n, ok)
		}
	})

	t.Run("longest title wins", func(t *testing.T) {
		title, remaining, _, ok := e.ExtractTitle("Professor Jones")
		if !ok || title != "Professor" || remaining != "Jones" {
			t.Fatalf("ExtractTitle = %q, %q, %v", title, remaining, ok)
		}
	})

	t.Run("case preserved", func(t *testing.T) {
		title, _, _, ok := e.ExtractTitle("MRS. SMITH")
		if !ok || title != "MRS." {
			t.Fatalf("ExtractTitle = %q, %v", title, ok)
		}
	})

	t.Run("no title", func(t *testing.T) {
		if _, _, _, ok := e.ExtractTitle("John Smith"); ok {
			t.Fatal("unexpected title in plain name")
		}
	})

	t.Run("title without name", func(t *testing.T) {
		if _, _, _, ok := e.ExtractTitle("Dr."); ok {
			t.Fatal("bare title must not extract")
		}
	})

	t.Run("title-like word prefix", func(t *testing.T) {
		if _, _, _, ok := e.ExtractTitle("Drew Barrymore"); ok {
			t.Fatal("'Drew' must not match the Dr honorific")
		}
	})
}

func TestMergeAdjacentTitleSpans(t *testing.T) {
	e := NewExtractor()

	t.Run("merges split title and name", func(t *testing.T) {
		text := "Hello Mrs. Smith!"
		spans := []pii.SpanMatch{
			{Type: pii.TypePerson, Start: 6, End: 10, Text: "Mrs.", Confidence: 0.7, Source: pii.SourceNER},
			{Type: pii.TypePerson, Start: 11, End: 16, Text: "Smith", Confidence: 0.9, Source: pii.SourceNER},
		}
		out := e.MergeAdjacentTitleSpans(spans, text, 0)
		if len(out) != 1 {
			t.Fatalf("expected merged span, got %+v", out)
		}
		m := out[0]
		if m.Text != "Mrs. Smith" || m.Start != 6 || m.End != 16 {
			t.Fatalf("unexpected merged span %+v", m)
		}
		if m.Confidence != 0.9 {
			t.Fatalf("merged confidence = %v, want max 0.9", m.Confidence)
		}
		if m.Source != pii.SourceNER {
			t.Fatalf("same-source merge must keep source, got %s", m.Source)
		}
	})

	t.Run("hybrid source on mixed detectors", func(t *testing.T) {
		text := "Hello Mrs. Smith!"
		spans := []pii.SpanMatch{
			{Type: pii.TypePerson, Start: 6, End: 10, Text: "Mrs.", Confidence: 0.7, Source: pii.SourceRegex},
			{Type: pii.TypePerson, Start: 11, End: 16, Text: "Smith", Confidence: 0.9, Source: pii.SourceNER},
		}
		out := e.MergeAdjacentTitleSpans(spans, text, 0)
		if len(out) != 1 || out[0].Source != pii.SourceHybrid {
			t.Fatalf("expected HYBRID source, got %+v", out)
		}
	})

	t.Run("gap too large", func(t *testing.T) {
		text := "Mrs.     Smith"
		spans := []pii.SpanMatch{
			{Type: pii.TypePerson, Start: 0, End: 4, Text: "Mrs.", Confidence: 0.7, Source: pii.SourceNER},
			{Type: pii.TypePerson, Start: 9, End: 14, Text: "Smith", Confidence: 0.9, Source: pii.SourceNER},
		}
		out := e.MergeAdjacentTitleSpans(spans, text, 3)
		if len(out) != 2 {
			t.Fatalf("expected no merge across wide gap, got %+v", out)
		}
	})

	t.Run("non-person next span", func(t *testing.T) {
		text := "Mrs. Berlin"
		spans := []pii.SpanMatch{
			{Type: pii.TypePerson, Start: 0, End: 4, Text: "Mrs.", Confidence: 0.7, Source: pii.SourceNER},
			{Type: pii.TypeLocation, Start: 5, End: 11, Text: "Berlin", Confidence: 0.9, Source: pii.SourceNER},
		}
		out := e.MergeAdjacentTitleSpans(spans, text, 0)
		if len(out) != 2 {
			t.Fatalf("expected no merge with LOCATION, got %+v", out)
		}
	})

	t.Run("intervening word blocks merge", func(t *testing.T) {
		text := "Mrs. or Smith"
		spans := []pii.SpanMatch{
			{Type: pii.TypePerson, Start: 0, End: 4, Text: "Mrs.", Confidence: 0.7, Source: pii.SourceNER},
			{Type: pii.TypePerson, Start: 8, End: 13, Text: "Smith", Confidence: 0.9, Source: pii.SourceNER},
		}
		out := e.MergeAdjacentTitleSpans(spans, text, 10)
		if len(out) != 2 {
			t.Fatalf("expected no merge across a word, got %+v", out)
		}
	})
}

func TestExtractTitlesFromSpans(t *testing.T) {
	e := NewExtractor()

	t.Run("shifts start past title", func(t *testing.T) {
		text := "Hello Mrs. Smith from Berlin!"
		spans := []pii.SpanMatch{
			{Type: pii.TypePerson, Start: 6, End: 16, Text: "Mrs. Smith", Confidence: 0.9, Source: pii.SourceNER},
		}
		out := e.ExtractTitlesFromSpans(spans, text)
		if len(out) != 1 {
			t.Fatalf("unexpected output %+v", out)
		}
		s := out[0]
		if s.Text != "Smith" || text[s.Start:s.End] != "Smith" {
			t.Fatalf("span not shifted past title: %+v", s)
		}
		if s.Semantic == nil || s.Semantic.Title != "Mrs." {
			t.Fatalf("title not recorded: %+v", s.Semantic)
		}
	})

	t.Run("plain names untouched", func(t *testing.T) {
		text := "John Smith"
		spans := []pii.SpanMatch{
			{Type: pii.TypePerson, Start: 0, End: 10, Text: "John Smith", Confidence: 0.9, Source: pii.SourceNER},
		}
		out := e.ExtractTitlesFromSpans(spans, text)
		if out[0].Start != 0 || out[0].Semantic != nil {
			t.Fatalf("plain name modified: %+v", out[0])
		}
	})

	t.Run("non-person untouched", func(t *testing.T) {
		text := "Dr. Pepper Street"
		spans := []pii.SpanMatch{
			{Type: pii.TypeLocation, Start: 0, End: 17, Text: text, Confidence: 0.9, Source: pii.SourceNER},
		}
		out := e.ExtractTitlesFromSpans(spans, text)
		if out[0].Start != 0 {
			t.Fatalf("non-person span modified: %+v", out[0])
		}
	})

	t.Run("existing semantic preserved", func(t *testing.T) {
		text := "Dr. Jane"
		spans := []pii.SpanMatch{
			{
				Type: pii.TypePerson, Start: 0, End: 8, Text: "Dr. Jane",
				Confidence: 0.9, Source: pii.SourceNER,
				Semantic: &pii.Semantic{Gender: pii.GenderFemale},
			},
		}
		out := e.ExtractTitlesFromSpans(spans, text)
		if out[0].Semantic.Gender != pii.GenderFemale || out[0].Semantic.Title != "Dr." {
			t.Fatalf("semantic attributes lost: %+v", out[0].Semantic)
		}
	})
}
