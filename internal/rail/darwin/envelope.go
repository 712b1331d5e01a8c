package darwin

import (
	"strings"

	"github.com/MrWong99/railuk/internal/rail"
)

// envelope is the subset of an OpenLDBWS SOAP response the client reads.
// Field tags carry local names only, so any namespace prefix matches.
type envelope struct {
	Body struct {
		Fault   *fault        `xml:"Fault"`
		Board   *stationBoard `xml:"GetDepartureBoardResponse>GetStationBoardResult"`
		Fastest *fastestBoard `xml:"GetFastestDeparturesResponse>DeparturesBoard"`
	} `xml:"Body"`
}

type fault struct {
	Code   string `xml:"Code>Value"`
	Reason string `xml:"Reason>Text"`
}

// apiError maps a SOAP fault to a rail error. Sender faults mean our
// request was rejected; anything else is the provider's problem.
func (f *fault) apiError() *rail.APIError {
	code := strings.TrimSpace(f.Code)
	reason := strings.TrimSpace(f.Reason)
	if code == "" && reason == "" {
		return rail.ProviderError(Provider, "Could not parse response.", nil)
	}
	if _, local, _ := strings.Cut(code, ":"); local == "Sender" || code == "Sender" {
		return rail.ClientError(Provider, reason)
	}
	return rail.ProviderError(Provider, reason, nil)
}

type stationBoard struct {
	LocationName string    `xml:"locationName"`
	CRS          string    `xml:"crs"`
	Services     []service `xml:"trainServices>service"`
}

type fastestBoard struct {
	Destinations []struct {
		CRS     string  `xml:"crs,attr"`
		Service service `xml:"service"`
	} `xml:"departures>destination"`
}

type service struct {
	Nil          string   `xml:"nil,attr"`
	STD          string   `xml:"std"`
	ETD          string   `xml:"etd"`
	Operator     string   `xml:"operator"`
	Destinations []string `xml:"destination>location>locationName"`
}

func (s service) departure() rail.Departure {
	return rail.Departure{
		Scheduled:   s.STD,
		Estimated:   s.ETD,
		Operator:    s.Operator,
		Destination: strings.Join(s.Destinations, " and "),
		Live:        true,
	}
}
