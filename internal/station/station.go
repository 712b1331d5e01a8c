// Package station holds the reference catalog of rail stations that spoken
// station names are resolved against.
//
// A [Catalog] is loaded once per process from a flat "display_name,code"
// table and never mutated afterwards, so a single instance can be shared by
// concurrent requests without locking.
//
// Supported sources:
//   - CSV readers and files ([Load], [LoadFile])
//   - The table embedded in this package ([Default])
//   - The station map shipped with the National Rail client ([FromNationalRail])
package station

// Station is a single catalog record: the canonical display name of a station
// and its three-letter CRS code.
type Station struct {
	// Name is the display name, e.g. "Birmingham New Street".
	Name string `json:"name" yaml:"name"`

	// Code is the unique three-letter CRS code, e.g. "BHM".
	Code string `json:"code" yaml:"code"`
}

// String returns "Name (CODE)".
func (s Station) String() string {
	return s.Name + " (" + s.Code + ")"
}

// IsZero reports whether s is the zero Station.
func (s Station) IsZero() bool {
	return s.Name == "" && s.Code == ""
}
