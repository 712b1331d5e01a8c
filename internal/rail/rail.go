// Package rail answers departure questions using two upstream providers:
// a real-time departure board (OpenLDBWS, package darwin) and a scheduled
// timetable (TransportAPI, package transportapi).
//
// [Service] combines them behind per-provider rate limiters and circuit
// breakers. Provider failures surface as [*APIError] values that distinguish
// requests the provider rejected ([ErrClient]) from failures on the
// provider's side ([ErrProvider]).
package rail

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/railuk/internal/station"
)

// OnTime is the estimate a live board reports for a punctual service.
const OnTime = "On time"

// Departure is one train leaving the origin station.
type Departure struct {
	// Scheduled is the booked departure time, "HH:MM".
	Scheduled string

	// Estimated is the live estimate: "On time", "Delayed", "Cancelled" or
	// an "HH:MM" time. For timetable results it repeats Scheduled.
	Estimated string

	// Operator is the train operating company name.
	Operator string

	// Destination is the service's final destination, which may lie beyond
	// the station the user asked about.
	Destination string

	// InPast is set when the departure already left today.
	InPast bool

	// Live is set when Estimated comes from the real-time board.
	Live bool
}

// Query is a departure question between two resolved stations.
type Query struct {
	Origin      station.Station
	Destination station.Station

	// OffsetMinutes shifts the search window into the future, e.g. the time
	// it takes the user to walk to their home station.
	OffsetMinutes int
}

// BoardRequest is a live departure board request.
type BoardRequest struct {
	// Origin and Destination are CRS codes. Only services calling at
	// Destination are returned.
	Origin      string
	Destination string

	// OffsetMinutes and WindowMinutes bound the board in time relative to
	// now. The provider accepts offsets in -120..119 and windows in 0..120.
	OffsetMinutes int
	WindowMinutes int

	// Rows caps the number of services returned.
	Rows int
}

// TimetableEntry is one scheduled departure from a timetable.
type TimetableEntry struct {
	// AimedDeparture is the booked departure time, "HH:MM".
	AimedDeparture string
	Operator       string
	Destination    string
}

// LiveBoard is a real-time departure board provider.
type LiveBoard interface {
	// Departures returns services matching req in board order. An empty
	// board is not an error.
	Departures(ctx context.Context, req BoardRequest) ([]Departure, error)

	// FastestDeparture returns the service that arrives first at
	// req.Destination, or nil when there is none.
	FastestDeparture(ctx context.Context, req BoardRequest) (*Departure, error)
}

// Timetable is a scheduled timetable provider.
type Timetable interface {
	// Timetable returns scheduled departures from origin calling at
	// callingAt in the two hours following at.
	Timetable(ctx context.Context, origin, callingAt string, at time.Time) ([]TimetableEntry, error)
}

// Kind classifies an [APIError].
type Kind int

const (
	// KindClient means the provider rejected the request.
	KindClient Kind = iota

	// KindProvider means the provider failed or answered unexpectedly.
	KindProvider
)

func (k Kind) String() string {
	if k == KindClient {
		return "client"
	}
	return "provider"
}

var (
	// ErrClient is matched by errors.Is for every client-side [APIError].
	ErrClient = errors.New("rail: request rejected by provider")

	// ErrProvider is matched by errors.Is for every provider-side [APIError].
	ErrProvider = errors.New("rail: provider failure")
)

// APIError is returned by the upstream clients.
type APIError struct {
	// Provider names the upstream, e.g. "Darwin" or "TransportAPI".
	Provider string
	Kind     Kind

	// Msg is the provider's reason or a short description of what went
	// wrong.
	Msg string

	// Err is the underlying transport or decoding error, if any.
	Err error
}

// ClientError returns a [KindClient] error.
func ClientError(provider, msg string) *APIError {
	return &APIError{Provider: provider, Kind: KindClient, Msg: msg}
}

// ProviderError returns a [KindProvider] error wrapping err, which may be nil.
func ProviderError(provider, msg string, err error) *APIError {
	return &APIError{Provider: provider, Kind: KindProvider, Msg: msg, Err: err}
}

func (e *APIError) Error() string {
	s := "Request to " + e.Provider + " failed - " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is matches [ErrClient] or [ErrProvider] according to Kind.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrClient:
		return e.Kind == KindClient
	case ErrProvider:
		return e.Kind == KindProvider
	}
	return false
}

func (e *APIError) Unwrap() error { return e.Err }

// IsProviderFailure reports whether err should count against a provider's
// circuit breaker. Rejected requests and caller cancellation do not.
func IsProviderFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClient) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
