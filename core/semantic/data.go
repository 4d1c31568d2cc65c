// Package semantic enriches detected spans with demographic attributes from
// bundled auxiliary data: first-name gender from the nam_dict dictionary and
// location scope (city, region, country) from GeoNames extracts. The
// database loads once and is read-only afterwards.
package semantic

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

// Data file names inside the semantic-data cache directory.
const (
	NamDictFile     = "nam_dict.txt"
	CitiesFile      = "cities15000.txt"
	CountryInfoFile = "countryInfo.txt"
	Admin1File      = "admin1CodesASCII.txt"
)

// DataUnavailableError reports that semantic masking was requested but the
// auxiliary data is not present and downloading is disabled.
type DataUnavailableError struct {
	Path string
	Err  error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("semantic data unavailable at %s: %v", e.Path, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// NameEntry records the gender for a first name, with optional per-language
// overrides for names whose gender flips between languages.
type NameEntry struct {
	Gender          string
	LocaleOverrides map[string]string
}

// CityEntry records a city's country and population.
type CityEntry struct {
	CountryCode string
	Population  int64
}

// RegionEntry records a first-level administrative division.
type RegionEntry struct {
	CountryCode string
}

// Database is the in-memory semantic lookup store. All keys are lowercased.
type Database struct {
	Names     map[string]NameEntry
	Cities    map[string]CityEntry
	Countries map[string]string
	Regions   map[string]RegionEntry
}

// NewDatabase returns an empty Database.
func NewDatabase() *Database {
	return &Database{
		Names:     make(map[string]NameEntry),
		Cities:    make(map[string]CityEntry),
		Countries: make(map[string]string),
		Regions:   make(map[string]RegionEntry),
	}
}

// Load reads every data file from dir. nam_dict, cities, and countryInfo are
// required; admin1 codes are optional. A missing required file surfaces as a
// DataUnavailableError.
func Load(dir string) (*Database, error) {
	db := NewDatabase()

	namPath := filepath.Join(dir, NamDictFile)
	f, err := os.Open(namPath)
	if err != nil {
		return nil, &DataUnavailableError{Path: namPath, Err: err}
	}
	err = db.ParseNamDict(charmap.ISO8859_1.NewDecoder().Reader(f))
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", namPath, err)
	}

	citiesPath := filepath.Join(dir, CitiesFile)
	f, err = os.Open(citiesPath)
	if err != nil {
		return nil, &DataUnavailableError{Path: citiesPath, Err: err}
	}
	err = db.ParseCities(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", citiesPath, err)
	}

	countryPath := filepath.Join(dir, CountryInfoFile)
	f, err = os.Open(countryPath)
	if err != nil {
		return nil, &DataUnavailableError{Path: countryPath, Err: err}
	}
	err = db.ParseCountryInfo(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", countryPath, err)
	}

	admin1Path := filepath.Join(dir, Admin1File)
	if f, err = os.Open(admin1Path); err == nil {
		err = db.ParseAdmin1(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", admin1Path, err)
		}
	}

	return db, nil
}

// genderForCode maps nam_dict gender codes to the pipeline's gender values.
// The ?-prefixed codes mean "mostly"; the bare ? marks unisex names.
func genderForCode(code string) (string, bool) {
	switch code {
	case "M", "1M", "?M":
		return pii.GenderMale, true
	case "F", "1F", "?F":
		return pii.GenderFemale, true
	case "?":
		return pii.GenderNeutral, true
	}
	return "", false
}

// ParseNamDict reads the nam_dict first-name dictionary. The caller is
// responsible for latin-1 decoding (Load wraps the file in a charmap
// decoder). Lines start with a gender code, then the name; '+' inside a name
// joins compound parts and is indexed as a space. A name seen with
// conflicting genders collapses to neutral.
func (db *Database) ParseNamDict(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		gender, ok := genderForCode(fields[0])
		if !ok {
			// Equivalence records (=) and sort markers are skipped.
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(fields[1], "+", " "))
		if name == "" {
			continue
		}

		entry, seen := db.Names[name]
		if !seen {
			db.Names[name] = NameEntry{Gender: gender}
			continue
		}
		if entry.Gender != gender {
			entry.Gender = pii.GenderNeutral
			db.Names[name] = entry
		}
	}
	return sc.Err()
}

// ParseCities reads a GeoNames cities extract (tab-separated). The name, its
// diacritic-folded form, and the ASCII name index the entry; on collisions
// the higher population wins.
func (db *Database) ParseCities(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 15 {
			continue
		}
		population, _ := strconv.ParseInt(fields[14], 10, 64)
		entry := CityEntry{CountryCode: fields[8], Population: population}

		for _, name := range []string{fields[1], foldDiacritics(fields[1]), fields[2]} {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			if existing, ok := db.Cities[key]; ok && existing.Population >= population {
				continue
			}
			db.Cities[key] = entry
		}
	}
	return sc.Err()
}

// countryVariants maps common informal country names to ISO codes, covering
// spellings countryInfo.txt does not list.
var countryVariants = map[string]string{
	"usa":                      "US",
	"u.s.":                     "US",
	"u.s.a.":                   "US",
	"america":                  "US",
	"united states of america": "US",
	"uk":                       "GB",
	"u.k.":                     "GB",
	"great britain":            "GB",
	"britain":                  "GB",
	"england":                  "GB",
	"scotland":                 "GB",
	"wales":                    "GB",
	"holland":                  "NL",
	"the netherlands":          "NL",
	"uae":                      "AE",
	"russia":                   "RU",
	"south korea":              "KR",
	"north korea":              "KP",
	"czechia":                  "CZ",
	"ivory coast":              "CI",
	"burma":                    "MM",
	"deutschland":              "DE",
	"españa":                   "ES",
	"italia":                   "IT",
}

// ParseCountryInfo reads the GeoNames countryInfo.txt table and merges the
// manual variant list on top.
func (db *Database) ParseCountryInfo(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			continue
		}
		iso := strings.TrimSpace(fields[0])
		name := strings.ToLower(strings.TrimSpace(fields[4]))
		if iso == "" || name == "" {
			continue
		}
		db.Countries[name] = iso
	}
	if err := sc.Err(); err != nil {
		return err
	}

	for variant, iso := range countryVariants {
		if _, ok := db.Countries[variant]; !ok {
			db.Countries[variant] = iso
		}
	}
	return nil
}

// ParseAdmin1 reads admin1CodesASCII.txt (code, name, ascii name,
// geonameid). Both name columns index the region.
func (db *Database) ParseAdmin1(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		code := fields[0]
		dot := strings.IndexByte(code, '.')
		if dot <= 0 {
			continue
		}
		entry := RegionEntry{CountryCode: code[:dot]}
		for _, name := range []string{fields[1], fields[2]} {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			if _, ok := db.Regions[key]; !ok {
				db.Regions[key] = entry
			}
		}
	}
	return sc.Err()
}
