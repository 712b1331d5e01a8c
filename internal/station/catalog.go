package station

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
)

// ErrCatalogLoad is matched by every error returned from the catalog loaders.
// A catalog that fails to load must never be used to serve requests.
var ErrCatalogLoad = errors.New("station: catalog load failed")

// LoadError describes why a catalog source was rejected.
type LoadError struct {
	// Line is the 1-based source line of the offending row, or 0 when the
	// failure is not tied to a single row.
	Line int

	// Reason is a short human-readable description.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *LoadError) Error() string {
	msg := "station: load catalog: " + e.Reason
	if e.Line > 0 {
		msg = fmt.Sprintf("station: load catalog: line %d: %s", e.Line, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match both [ErrCatalogLoad] and the underlying cause.
func (e *LoadError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCatalogLoad, e.Err}
	}
	return []error{ErrCatalogLoad}
}

// Catalog is an immutable, indexed set of [Station] records. Iteration order
// is the order of the source rows.
//
// All methods are safe for concurrent use.
type Catalog struct {
	stations []Station
	byName   map[string]int
	byCode   map[string]int
}

// New builds a catalog from stations, validating every record. Codes are
// upper-cased and names trimmed. Duplicate codes, empty names, malformed
// codes and an empty input are all rejected with a [*LoadError].
func New(stations []Station) (*Catalog, error) {
	if len(stations) == 0 {
		return nil, &LoadError{Reason: "catalog is empty"}
	}

	c := &Catalog{
		stations: make([]Station, 0, len(stations)),
		byName:   make(map[string]int, len(stations)),
		byCode:   make(map[string]int, len(stations)),
	}
	for i, s := range stations {
		if err := c.add(s, i+1); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// add validates and appends a single record. line is used for error
// reporting only.
func (c *Catalog) add(s Station, line int) error {
	name := strings.TrimSpace(s.Name)
	code := strings.ToUpper(strings.TrimSpace(s.Code))

	if name == "" {
		return &LoadError{Line: line, Reason: "missing display name"}
	}
	if code == "" {
		return &LoadError{Line: line, Reason: fmt.Sprintf("station %q is missing its code", name)}
	}
	if !validCode(code) {
		return &LoadError{Line: line, Reason: fmt.Sprintf("station %q has malformed code %q", name, code)}
	}
	if prev, dup := c.byCode[code]; dup {
		return &LoadError{
			Line:   line,
			Reason: fmt.Sprintf("duplicate code %q (already used by %q)", code, c.stations[prev].Name),
		}
	}

	idx := len(c.stations)
	c.stations = append(c.stations, Station{Name: name, Code: code})
	c.byCode[code] = idx
	if _, seen := c.byName[name]; !seen {
		c.byName[name] = idx
	}
	return nil
}

// validCode reports whether code is exactly three ASCII letters.
func validCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// Load parses a catalog from r. Each row holds "display_name,code"; there is
// no header. Blank lines and lines starting with '#' are ignored.
func Load(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var stations []Station
	var lines []int
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &LoadError{Line: pe.Line, Reason: "malformed row", Err: pe.Err}
			}
			return nil, &LoadError{Reason: "read source", Err: err}
		}
		line, _ := cr.FieldPos(0)
		stations = append(stations, Station{Name: rec[0], Code: rec[1]})
		lines = append(lines, line)
	}

	if len(stations) == 0 {
		return nil, &LoadError{Reason: "catalog is empty"}
	}

	c := &Catalog{
		stations: make([]Station, 0, len(stations)),
		byName:   make(map[string]int, len(stations)),
		byCode:   make(map[string]int, len(stations)),
	}
	for i, s := range stations {
		if err := c.add(s, lines[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadFile reads and parses the catalog file at path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Reason: fmt.Sprintf("open %q", path), Err: err}
	}
	defer f.Close()
	return Load(f)
}

//go:embed stations.csv
var embeddedCSV []byte

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return Load(bytes.NewReader(embeddedCSV))
})

// Default returns the catalog embedded in the binary. It is parsed on first
// use and shared afterwards.
func Default() (*Catalog, error) {
	return loadDefault()
}

// LookupByName returns the station whose display name equals name exactly
// (case-sensitive). It is the fast path tried before any fuzzy scoring.
func (c *Catalog) LookupByName(name string) (Station, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return Station{}, false
	}
	return c.stations[idx], true
}

// LookupByCode returns the station with the given CRS code. The lookup is
// case-insensitive.
func (c *Catalog) LookupByCode(code string) (Station, bool) {
	idx, ok := c.byCode[strings.ToUpper(code)]
	if !ok {
		return Station{}, false
	}
	return c.stations[idx], true
}

// Stations returns a copy of all records in catalog order.
func (c *Catalog) Stations() []Station {
	return slices.Clone(c.stations)
}

// Len returns the number of stations in the catalog.
func (c *Catalog) Len() int {
	return len(c.stations)
}
