package station

import (
	"cmp"
	"slices"
	"strings"

	nr "github.com/martinsirbe/go-national-rail-client/nationalrail"
)

// FromNationalRail builds a catalog from the station map bundled with the
// National Rail client library. Rows are ordered by CRS code so the result is
// deterministic across runs. Entries without a name or with a code that is
// not three letters are skipped.
func FromNationalRail() (*Catalog, error) {
	stations := make([]Station, 0, len(nr.StationCodeToNameMap))
	for code, name := range nr.StationCodeToNameMap {
		c := strings.ToUpper(strings.TrimSpace(string(code)))
		if strings.TrimSpace(name) == "" || !validCode(c) {
			continue
		}
		stations = append(stations, Station{Name: name, Code: c})
	}
	slices.SortFunc(stations, func(a, b Station) int {
		return cmp.Compare(a.Code, b.Code)
	})
	return New(stations)
}
