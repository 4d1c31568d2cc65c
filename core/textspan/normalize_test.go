package textspan

import "testing"

func TestNormalize_LineEndings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"lone cr", "a\rb", "a\nb"},
		{"mixed", "a\r\nb\rc\nd", "a\nb\nc\nd"},
		{"none", "plain text", "plain text"},
		{"trailing crlf", "line\r\n", "line\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Normalize(tt.in, Options{})
			if got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_NFKC(t *testing.T) {
	// U+FB01 LATIN SMALL LIGATURE FI decomposes to "fi" under NFKC.
	got, _ := Normalize("ﬁle", Options{NFKC: true})
	if got != "file" {
		t.Fatalf("expected NFKC to decompose ligature, got %q", got)
	}
}

func TestNormalize_Trim(t *testing.T) {
	got, _ := Normalize("  hello \n", Options{Trim: true})
	if got != "hello" {
		t.Fatalf("expected trimmed text, got %q", got)
	}
}

func TestMapping_RoundTrip(t *testing.T) {
	in := "ab\r\ncd\r\nef"
	normalized, m := Normalize(in, Options{})
	if normalized != "ab\ncd\nef" {
		t.Fatalf("unexpected normalized text %q", normalized)
	}

	// "e" is at original offset 8, normalized offset 6.
	if got := m.ToNormalized(8); got != 6 {
		t.Fatalf("ToNormalized(8) = %d, want 6", got)
	}
	if got := m.ToOriginal(6); got != 8 {
		t.Fatalf("ToOriginal(6) = %d, want 8", got)
	}

	// Offsets before the first collapse map identically.
	if got := m.ToNormalized(1); got != 1 {
		t.Fatalf("ToNormalized(1) = %d, want 1", got)
	}
	if got := m.ToOriginal(1); got != 1 {
		t.Fatalf("ToOriginal(1) = %d, want 1", got)
	}

	// Every normalized offset must round-trip through the original.
	for n := 0; n <= len(normalized); n++ {
		if back := m.ToNormalized(m.ToOriginal(n)); back != n {
			t.Fatalf("round trip failed at %d: got %d", n, back)
		}
	}
}

func TestSplice(t *testing.T) {
	got := Splice("hello world", 6, 11, "there")
	if got != "hello there" {
		t.Fatalf("Splice = %q", got)
	}
	if got := Splice("abc", 0, 0, "x"); got != "xabc" {
		t.Fatalf("insert at 0 = %q", got)
	}
	if got := Splice("abc", 3, 3, "x"); got != "abcx" {
		t.Fatalf("append = %q", got)
	}
}
