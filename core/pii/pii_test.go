package pii

import "testing"

func TestSpanMatch_Overlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b SpanMatch
		want bool
	}{
		{"disjoint", SpanMatch{Start: 0, End: 5}, SpanMatch{Start: 10, End: 15}, false},
		{"touching", SpanMatch{Start: 0, End: 5}, SpanMatch{Start: 5, End: 10}, false},
		{"partial", SpanMatch{Start: 0, End: 6}, SpanMatch{Start: 5, End: 10}, true},
		{"contained", SpanMatch{Start: 0, End: 10}, SpanMatch{Start: 3, End: 7}, true},
		{"identical", SpanMatch{Start: 2, End: 8}, SpanMatch{Start: 2, End: 8}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Fatalf("a.Overlaps(b) = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Fatalf("b.Overlaps(a) = %v, want %v (must be symmetric)", got, tt.want)
			}
		})
	}
}

func TestSortSpans(t *testing.T) {
	spans := []SpanMatch{
		{Start: 10, End: 12, Type: TypeEmail},
		{Start: 0, End: 4, Type: TypePerson},
		{Start: 10, End: 20, Type: TypeURL},
		{Start: 0, End: 8, Type: TypeOrg},
	}
	SortSpans(spans)

	if spans[0].Start != 0 || spans[0].End != 8 {
		t.Fatalf("expected longest span at start 0 first, got %+v", spans[0])
	}
	if spans[1].Start != 0 || spans[1].End != 4 {
		t.Fatalf("expected shorter span at start 0 second, got %+v", spans[1])
	}
	if spans[2].Start != 10 || spans[2].End != 20 {
		t.Fatalf("expected longest span at start 10 third, got %+v", spans[2])
	}
}

func TestParseMapKey(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		typ, id, ok := ParseMapKey("PERSON_3")
		if !ok || typ != TypePerson || id != 3 {
			t.Fatalf("ParseMapKey(PERSON_3) = %v, %v, %v", typ, id, ok)
		}
	})

	t.Run("type with underscore", func(t *testing.T) {
		typ, id, ok := ParseMapKey("BIC_SWIFT_12")
		if !ok || typ != TypeBICSwift || id != 12 {
			t.Fatalf("ParseMapKey(BIC_SWIFT_12) = %v, %v, %v", typ, id, ok)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, key := range []string{"", "PERSON", "PERSON_", "_3", "PERSON_zero", "PERSON_0"} {
			if _, _, ok := ParseMapKey(key); ok {
				t.Fatalf("expected ParseMapKey(%q) to fail", key)
			}
		}
	})
}

func TestRawMap_InsertionOrderAndFirstWins(t *testing.T) {
	m := NewRawMap()
	m.Set("EMAIL_1", "a@b.com")
	m.Set("PERSON_1", "John")
	m.Set("EMAIL_1", "other@b.com") // ignored

	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "EMAIL_1" || keys[1] != "PERSON_1" {
		t.Fatalf("unexpected key order: %v", keys)
	}
	if v, _ := m.Get("EMAIL_1"); v != "a@b.com" {
		t.Fatalf("first insertion must win, got %q", v)
	}
}

func TestRawMap_MaxIDs(t *testing.T) {
	m := NewRawMap()
	m.Set("EMAIL_1", "a")
	m.Set("EMAIL_7", "b")
	m.Set("PERSON_2", "c")
	m.Set("garbage", "d")

	ids := m.MaxIDs()
	if ids[TypeEmail] != 7 {
		t.Fatalf("expected max EMAIL id 7, got %d", ids[TypeEmail])
	}
	if ids[TypePerson] != 2 {
		t.Fatalf("expected max PERSON id 2, got %d", ids[TypePerson])
	}
}

func TestRawMap_ReverseIndex(t *testing.T) {
	m := NewRawMap()
	m.Set("PERSON_1", "John Smith")
	m.Set("PERSON_2", "Jane Doe")
	m.Set("PERSON_3", "John Smith") // duplicate value, later key

	idx := m.ReverseIndex()
	if idx[TypePerson]["John Smith"] != "PERSON_1" {
		t.Fatalf("earliest key must win for duplicate values, got %s", idx[TypePerson]["John Smith"])
	}
	if idx[TypePerson]["Jane Doe"] != "PERSON_2" {
		t.Fatalf("unexpected key for Jane Doe: %s", idx[TypePerson]["Jane Doe"])
	}
}

func TestRawMap_Merge(t *testing.T) {
	a := NewRawMap()
	a.Set("EMAIL_1", "a@b.com")

	b := NewRawMap()
	b.Set("EMAIL_1", "tampered")
	b.Set("EMAIL_2", "c@d.com")

	a.Merge(b)
	if a.Len() != 2 {
		t.Fatalf("expected 2 entries after merge, got %d", a.Len())
	}
	if v, _ := a.Get("EMAIL_1"); v != "a@b.com" {
		t.Fatalf("existing key must keep first-seen original, got %q", v)
	}
	if v, _ := a.Get("EMAIL_2"); v != "c@d.com" {
		t.Fatalf("new key missing after merge, got %q", v)
	}
}

func TestCountByType(t *testing.T) {
	entities := []DetectedEntity{
		{Type: TypeEmail, ID: 1},
		{Type: TypeEmail, ID: 2},
		{Type: TypePerson, ID: 1},
	}
	counts := CountByType(entities)
	if counts[TypeEmail] != 2 || counts[TypePerson] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
