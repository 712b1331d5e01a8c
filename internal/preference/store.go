// Package preference persists each user's home station: the station used
// as the origin when a departure question names only a destination, and
// how many minutes it takes the user to get there.
//
// Backends:
//   - [MemStore]: in process, for tests and local runs
//   - [PostgresStore]: PostgreSQL through pgx
//   - [RedisStore]: a Redis hash per user
//   - [DynamoStore]: a DynamoDB table keyed by user ID
//
// Every backend failure matches [ErrStore] via errors.Is.
package preference

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/railuk/internal/observe"
	"github.com/MrWong99/railuk/internal/station"
)

// ErrStore is matched by every backend failure.
var ErrStore = errors.New("preference: store failure")

// HomeStation is a user's stored home station.
type HomeStation struct {
	Station station.Station

	// Distance is the time in minutes it takes the user to reach the
	// station. Departure searches start this far in the future.
	Distance int
}

// Result tells whether [Store.Set] created or replaced a record.
type Result string

const (
	ResultSet     Result = "set"
	ResultUpdated Result = "updated"
)

// Store reads and writes home stations.
type Store interface {
	// Get returns the user's home station, or nil, nil when none is stored.
	Get(ctx context.Context, userID string) (*HomeStation, error)

	// Set stores home for the user and reports whether it replaced an
	// existing record.
	Set(ctx context.Context, userID string, home HomeStation) (Result, error)
}

// Pinger is implemented by backends that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreError wraps a backend failure.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return "preference: " + e.Backend + " " + e.Op + ": " + e.Err.Error()
}

// Unwrap matches both [ErrStore] and the backend error.
func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

func storeErr(backend, op string, err error) error {
	return &StoreError{Backend: backend, Op: op, Err: err}
}

// Instrumented records latency and status of every call on s.
type Instrumented struct {
	store   Store
	backend string
	metrics *observe.Metrics
}

// Compile-time interface check.
var _ Store = (*Instrumented)(nil)

// Instrument wraps s so that calls are recorded under backend. A nil m uses
// [observe.DefaultMetrics].
func Instrument(s Store, backend string, m *observe.Metrics) *Instrumented {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Instrumented{store: s, backend: backend, metrics: m}
}

func (i *Instrumented) Get(ctx context.Context, userID string) (*HomeStation, error) {
	start := time.Now()
	home, err := i.store.Get(ctx, userID)
	i.record(ctx, "get", err, start)
	return home, err
}

func (i *Instrumented) Set(ctx context.Context, userID string, home HomeStation) (Result, error) {
	start := time.Now()
	res, err := i.store.Set(ctx, userID, home)
	i.record(ctx, "set", err, start)
	return res, err
}

// Ping forwards to the wrapped store when it is a [Pinger].
func (i *Instrumented) Ping(ctx context.Context) error {
	if p, ok := i.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (i *Instrumented) record(ctx context.Context, op string, err error, start time.Time) {
	status := "ok"
	if err != nil {
		status = "error"
		observe.Logger(ctx).Error("preference store call failed", "backend", i.backend, "op", op, "error", err)
	}
	i.metrics.RecordStoreOperation(ctx, i.backend, op, status, time.Since(start))
}
