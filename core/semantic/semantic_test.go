package semantic

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

func testDatabase(t *testing.T) *Database {
	t.Helper()
	db := NewDatabase()

	namDict := strings.Join([]string{
		"# comment line",
		"M  John      4",
		"F  Mary      5",
		"?F Jamie     2",
		"?  Alex      3",
		"M  Andrea    1",
		"F  Andrea    1",
		"M  Jean+Pierre 1",
	}, "\n")
	if err := db.ParseNamDict(strings.NewReader(namDict)); err != nil {
		t.Fatalf("ParseNamDict: %v", err)
	}

	cities := strings.Join([]string{
		"2950159\tBerlin\tBerlin\t\t52.5\t13.4\tP\tPPLC\tDE\t\t16\t\t\t\t3426354\t\t74\tEurope/Berlin\t2024-01-01",
		"5083330\tBerlin\tBerlin\t\t44.4\t-71.1\tP\tPPL\tUS\t\tNH\t\t\t\t9367\t\t311\tAmerica/New_York\t2024-01-01",
		"2867714\tMünchen\tMunich\t\t48.1\t11.5\tP\tPPLA\tDE\t\t02\t\t\t\t1260391\t\t524\tEurope/Berlin\t2024-01-01",
		"5128581\tNew York City\tNew York City\t\t40.7\t-74.0\tP\tPPL\tUS\t\tNY\t\t\t\t8804190\t\t10\tAmerica/New_York\t2024-01-01",
		"3621841\tSan Ramón\tSan Ramon\t\t10.1\t-84.5\tP\tPPL\tCR\t\t02\t\t\t\t10916\t\t1057\tAmerica/Costa_Rica\t2024-01-01",
	}, "\n")
	if err := db.ParseCities(strings.NewReader(cities)); err != nil {
		t.Fatalf("ParseCities: %v", err)
	}

	countryInfo := strings.Join([]string{
		"#ISO\tISO3\tISO-Numeric\tfips\tCountry\tCapital",
		"DE\tDEU\t276\tGM\tGermany\tBerlin",
		"US\tUSA\t840\tUS\tUnited States\tWashington",
		"FR\tFRA\t250\tFR\tFrance\tParis",
	}, "\n")
	if err := db.ParseCountryInfo(strings.NewReader(countryInfo)); err != nil {
		t.Fatalf("ParseCountryInfo: %v", err)
	}

	admin1 := strings.Join([]string{
		"US.CA\tCalifornia\tCalifornia\t5332921",
		"DE.02\tBavaria\tBavaria\t2951839",
	}, "\n")
	if err := db.ParseAdmin1(strings.NewReader(admin1)); err != nil {
		t.Fatalf("ParseAdmin1: %v", err)
	}

	return db
}

func personSpan(text string) pii.SpanMatch {
	return pii.SpanMatch{Type: pii.TypePerson, Text: text, Confidence: 0.95, Source: pii.SourceNER}
}

func locationSpan(text string) pii.SpanMatch {
	return pii.SpanMatch{Type: pii.TypeLocation, Text: text, Confidence: 0.95, Source: pii.SourceNER}
}

func TestParseNamDict(t *testing.T) {
	db := testDatabase(t)

	tests := []struct {
		name, gender string
	}{
		{"john", pii.GenderMale},
		{"mary", pii.GenderFemale},
		{"jamie", pii.GenderFemale},
		{"alex", pii.GenderNeutral},
		{"andrea", pii.GenderNeutral}, // conflicting entries collapse
		{"jean pierre", pii.GenderMale},
	}
	for _, tt := range tests {
		entry, ok := db.Names[tt.name]
		if !ok {
			t.Fatalf("name %q not indexed", tt.name)
		}
		if entry.Gender != tt.gender {
			t.Fatalf("gender of %q = %s, want %s", tt.name, entry.Gender, tt.gender)
		}
	}
}

func TestParseCities_HigherPopulationWins(t *testing.T) {
	db := testDatabase(t)
	berlin, ok := db.Cities["berlin"]
	if !ok {
		t.Fatal("berlin not indexed")
	}
	if berlin.CountryCode != "DE" {
		t.Fatalf("berlin resolved to %s, want DE (larger population)", berlin.CountryCode)
	}
}

func TestParseCountryInfo_Variants(t *testing.T) {
	db := testDatabase(t)
	if db.Countries["germany"] != "DE" {
		t.Fatal("countryInfo row not indexed")
	}
	if db.Countries["usa"] != "US" {
		t.Fatal("manual variant usa->US missing")
	}
}

func TestEnrich_PersonGender(t *testing.T) {
	e := NewEnricher(testDatabase(t))

	tests := []struct {
		text, want string
	}{
		{"John Smith", pii.GenderMale},
		{"Mary Jones", pii.GenderFemale},
		{"Mrs. Mary Jones", pii.GenderFemale}, // leading title stripped
		{"Dr. John Watson", pii.GenderMale},
		{"Alex Taylor", pii.GenderNeutral},
		{"Zorblax Quux", pii.GenderUnknown},
	}
	for _, tt := range tests {
		out := e.Enrich([]pii.SpanMatch{personSpan(tt.text)}, Options{})
		if out[0].Semantic == nil || out[0].Semantic.Gender != tt.want {
			t.Fatalf("gender of %q = %+v, want %s", tt.text, out[0].Semantic, tt.want)
		}
	}
}

func TestEnrich_PersonLocaleOverride(t *testing.T) {
	db := testDatabase(t)
	entry := db.Names["andrea"]
	entry.LocaleOverrides = map[string]string{"it": pii.GenderMale}
	db.Names["andrea"] = entry

	e := NewEnricher(db)
	out := e.Enrich([]pii.SpanMatch{personSpan("Andrea Rossi")}, Options{Locale: "it-IT"})
	if out[0].Semantic.Gender != pii.GenderMale {
		t.Fatalf("expected italian override male, got %s", out[0].Semantic.Gender)
	}

	out = e.Enrich([]pii.SpanMatch{personSpan("Andrea Rossi")}, Options{Locale: "de-DE"})
	if out[0].Semantic.Gender != pii.GenderNeutral {
		t.Fatalf("expected global neutral without override, got %s", out[0].Semantic.Gender)
	}
}

func TestEnrich_LocationScope(t *testing.T) {
	e := NewEnricher(testDatabase(t))

	tests := []struct {
		text, want string
	}{
		{"Berlin", pii.ScopeCity},
		{"Germany", pii.ScopeCountry},
		{"USA", pii.ScopeCountry}, // country beats any city lookup
		{"California", pii.ScopeRegion},
		{"New York City", pii.ScopeCity}, // stripped "new york" misses, full name hits
		{"Atlantis", pii.ScopeUnknown},
	}
	for _, tt := range tests {
		out := e.Enrich([]pii.SpanMatch{locationSpan(tt.text)}, Options{})
		if out[0].Semantic == nil || out[0].Semantic.Scope != tt.want {
			t.Fatalf("scope of %q = %+v, want %s", tt.text, out[0].Semantic, tt.want)
		}
	}
}

func TestEnrich_LocationVariations(t *testing.T) {
	e := NewEnricher(testDatabase(t))

	t.Run("diacritics folded", func(t *testing.T) {
		// The database indexes "münchen", its folded form "munchen", and
		// "munich"; probe a spelling that only resolves after folding.
		out := e.Enrich([]pii.SpanMatch{locationSpan("Münchén")}, Options{})
		if out[0].Semantic.Scope != pii.ScopeCity {
			t.Fatalf("expected city via folding, got %+v", out[0].Semantic)
		}
		if out[0].Confidence != 0.9 {
			t.Fatalf("variation hit must cap confidence at 0.9, got %v", out[0].Confidence)
		}
	})

	t.Run("leading article dropped", func(t *testing.T) {
		out := e.Enrich([]pii.SpanMatch{locationSpan("The United States")}, Options{})
		if out[0].Semantic.Scope != pii.ScopeCountry {
			t.Fatalf("expected country via article drop, got %+v", out[0].Semantic)
		}
	})

	t.Run("direct hit keeps confidence", func(t *testing.T) {
		out := e.Enrich([]pii.SpanMatch{locationSpan("Berlin")}, Options{})
		if out[0].Confidence != 0.95 {
			t.Fatalf("direct hit must keep confidence, got %v", out[0].Confidence)
		}
	})
}

func TestEnrich_TitleGenderFallback(t *testing.T) {
	e := NewEnricher(testDatabase(t))

	t.Run("gendered title settles unknown name", func(t *testing.T) {
		s := personSpan("Smith")
		s.Semantic = &pii.Semantic{Title: "Mrs."}
		out := e.Enrich([]pii.SpanMatch{s}, Options{})
		if out[0].Semantic.Gender != pii.GenderFemale {
			t.Fatalf("expected female from Mrs. title, got %s", out[0].Semantic.Gender)
		}
	})

	t.Run("neutral title stays unknown", func(t *testing.T) {
		s := personSpan("Smith")
		s.Semantic = &pii.Semantic{Title: "Dr."}
		out := e.Enrich([]pii.SpanMatch{s}, Options{})
		if out[0].Semantic.Gender != pii.GenderUnknown {
			t.Fatalf("Dr. must not imply a gender, got %s", out[0].Semantic.Gender)
		}
	})

	t.Run("name lookup beats title", func(t *testing.T) {
		s := personSpan("John")
		s.Semantic = &pii.Semantic{Title: "Mrs."}
		out := e.Enrich([]pii.SpanMatch{s}, Options{})
		if out[0].Semantic.Gender != pii.GenderMale {
			t.Fatalf("dictionary hit must win over title, got %s", out[0].Semantic.Gender)
		}
	})
}

func TestEnrich_OtherTypesUntouched(t *testing.T) {
	e := NewEnricher(testDatabase(t))
	in := pii.SpanMatch{Type: pii.TypeEmail, Text: "a@b.com", Confidence: 0.95}
	out := e.Enrich([]pii.SpanMatch{in}, Options{})
	if out[0].Semantic != nil {
		t.Fatalf("email span must pass through, got %+v", out[0])
	}
}

func TestLoad_MissingData(t *testing.T) {
	_, err := Load(t.TempDir())
	var unavailable *DataUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected DataUnavailableError, got %v", err)
	}
}

func TestLoad_FromFiles(t *testing.T) {
	dir := t.TempDir()
	// nam_dict is latin-1 on disk; "José" carries 0xE9.
	namDict := []byte("M  Jos\xe9   2\n")
	os.WriteFile(filepath.Join(dir, NamDictFile), namDict, 0o644)
	os.WriteFile(filepath.Join(dir, CitiesFile), []byte(
		"1\tParis\tParis\t\t48.8\t2.3\tP\tPPLC\tFR\t\t11\t\t\t\t2138551\t\t35\tEurope/Paris\t2024-01-01\n"), 0o644)
	os.WriteFile(filepath.Join(dir, CountryInfoFile), []byte(
		"FR\tFRA\t250\tFR\tFrance\tParis\n"), 0o644)

	db, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry, ok := db.Names["josé"]; !ok || entry.Gender != pii.GenderMale {
		t.Fatalf("latin-1 name not decoded: %+v", db.Names)
	}
	if db.Cities["paris"].CountryCode != "FR" {
		t.Fatal("cities not loaded")
	}
}
