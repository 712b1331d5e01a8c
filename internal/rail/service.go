package rail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/MrWong99/railuk/internal/observe"
	"github.com/MrWong99/railuk/internal/resilience"
)

// Board parameters used for departure questions.
const (
	// NextRows is the number of services requested for "next train".
	NextRows = 3

	// BoardWindow is the live board look-ahead in minutes.
	BoardWindow = 120

	// MaxOffset is the largest time offset the live board accepts.
	MaxOffset = 119

	// liveEstimateHorizon is how far ahead the live board can see.
	liveEstimateHorizon = 2 * time.Hour

	// Last-train matching board: it starts lastBoardLead minutes before the
	// scheduled departure and spans lastBoardWindow minutes.
	lastBoardLead   = 10
	lastBoardWindow = 20
	lastBoardRows   = 10
)

// Timetable walk bounds for the last train of the day, as minutes after
// midnight.
const (
	lastWalkStart  = 21*60 + 59
	lastWalkCutoff = 10 * 60
	lastWalkStep   = 2 * 60
)

// Provider names used for breakers and metrics.
const (
	LiveProvider      = "live"
	TimetableProvider = "timetable"
)

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone departure times are expressed in.
// Default: time.Local.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) { s.loc = loc }
}

// WithRateLimit limits calls to the named provider ([LiveProvider] or
// [TimetableProvider]) to r per second with the given burst.
func WithRateLimit(provider string, r rate.Limit, burst int) ServiceOption {
	return func(s *Service) { s.limiters[provider] = rate.NewLimiter(r, burst) }
}

// WithBreaker tunes the circuit breakers. Name and IsFailure are set by the
// service.
func WithBreaker(cfg resilience.CircuitBreakerConfig) ServiceOption {
	return func(s *Service) { s.breakerCfg = cfg }
}

// WithMetrics records upstream errors on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// Service answers next, fastest and last train questions.
//
// Each provider sits behind its own circuit breaker and optional rate
// limiter. "Next train" prefers the live board and falls back to the
// timetable when the live board is failing.
type Service struct {
	live      LiveBoard
	timetable Timetable

	now        func() time.Time
	loc        *time.Location
	limiters   map[string]*rate.Limiter
	breakerCfg resilience.CircuitBreakerConfig
	breakers   map[string]*resilience.CircuitBreaker
	next       *resilience.FallbackGroup[nextFinder]
	metrics    *observe.Metrics
	tracer     trace.Tracer
}

// nextFinder finds the next departure for q from one provider.
type nextFinder func(ctx context.Context, q Query) (*Departure, error)

// NewService wires a live board and a timetable into a [Service].
func NewService(live LiveBoard, timetable Timetable, opts ...ServiceOption) *Service {
	s := &Service{
		live:      live,
		timetable: timetable,
		now:       time.Now,
		loc:       time.Local,
		limiters:  make(map[string]*rate.Limiter),
		tracer:    otel.Tracer("github.com/MrWong99/railuk/internal/rail"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.breakers = make(map[string]*resilience.CircuitBreaker, 2)
	for _, name := range []string{LiveProvider, TimetableProvider} {
		cfg := s.breakerCfg
		cfg.Name = name
		cfg.IsFailure = IsProviderFailure
		cfg.OnStateChange = s.breakerChanged
		s.breakers[name] = resilience.NewCircuitBreaker(cfg)
	}

	s.next = resilience.NewFallbackGroup[nextFinder](s.nextLive, LiveProvider, resilience.FallbackConfig{
		Breakers:  s.breakers,
		Retryable: IsProviderFailure,
	})
	s.next.AddFallback(TimetableProvider, s.nextScheduled)
	return s
}

func (s *Service) breakerChanged(provider string, from, to resilience.State) {
	s.metrics.RecordBreakerTransition(context.Background(), provider, from.String(), to.String())
}

// Breaker returns the circuit breaker guarding provider, or nil.
func (s *Service) Breaker(provider string) *resilience.CircuitBreaker {
	return s.breakers[provider]
}

// Next returns the next departure for q, or nil when no service runs in the
// next two hours.
func (s *Service) Next(ctx context.Context, q Query) (*Departure, error) {
	ctx, span := s.startSpan(ctx, "rail.next", q)
	defer span.End()

	q.OffsetMinutes = clampOffset(q.OffsetMinutes)
	dep, source, err := resilience.ExecuteWithResult(s.next, func(find nextFinder) (*Departure, error) {
		return find(ctx, q)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rail: next departure: %w", err)
	}
	span.SetAttributes(attribute.String("rail.source", source))
	return dep, nil
}

// Fastest returns the departure that arrives first at q.Destination, or nil
// when none runs in the next two hours.
func (s *Service) Fastest(ctx context.Context, q Query) (*Departure, error) {
	ctx, span := s.startSpan(ctx, "rail.fastest", q)
	defer span.End()

	var dep *Departure
	err := s.call(ctx, LiveProvider, func() error {
		var err error
		dep, err = s.live.FastestDeparture(ctx, BoardRequest{
			Origin:        q.Origin.Code,
			Destination:   q.Destination.Code,
			OffsetMinutes: clampOffset(q.OffsetMinutes),
			WindowMinutes: BoardWindow,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rail: fastest departure: %w", err)
	}
	return dep, nil
}

// Last returns today's last departure from q.Origin calling at
// q.Destination, or nil when the timetable has none.
//
// The timetable is read in two-hour pages walking backwards from late
// evening. A departure that already left is marked InPast. One leaving
// within two hours gets a live estimate when the live board lists it; a
// live board failure leaves the timetable estimate in place.
func (s *Service) Last(ctx context.Context, q Query) (*Departure, error) {
	ctx, span := s.startSpan(ctx, "rail.last", q)
	defer span.End()

	now := s.now().In(s.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	var entries []TimetableEntry
	for m := lastWalkStart; m >= lastWalkCutoff && len(entries) == 0; m -= lastWalkStep {
		at := midnight.Add(time.Duration(m) * time.Minute)
		err := s.call(ctx, TimetableProvider, func() error {
			var err error
			entries, err = s.timetable.Timetable(ctx, q.Origin.Code, q.Destination.Code, at)
			return err
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("rail: last departure: %w", err)
		}
		if len(entries) == 0 {
			observe.Logger(ctx).Info("no timetabled departures, walking back", "at", at.Format("15:04"))
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}

	latest := entries[0]
	for _, e := range entries[1:] {
		if e.AimedDeparture > latest.AimedDeparture {
			latest = e
		}
	}
	dep := &Departure{
		Scheduled:   latest.AimedDeparture,
		Estimated:   latest.AimedDeparture,
		Operator:    latest.Operator,
		Destination: latest.Destination,
	}

	if dep.Scheduled < now.Format("15:04") {
		dep.InPast = true
		return dep, nil
	}

	departs, err := time.ParseInLocation("15:04", dep.Scheduled, s.loc)
	if err != nil {
		return dep, nil
	}
	until := midnight.Add(time.Duration(departs.Hour())*time.Hour + time.Duration(departs.Minute())*time.Minute).Sub(now.Truncate(time.Minute))
	if until > liveEstimateHorizon {
		return dep, nil
	}

	if etd, ok := s.liveEstimate(ctx, q, dep, int(until.Minutes())); ok {
		dep.Estimated = etd
		dep.Live = true
	}
	return dep, nil
}

// liveEstimate looks dep up on the live board around its scheduled time.
func (s *Service) liveEstimate(ctx context.Context, q Query, dep *Departure, minutesUntil int) (string, bool) {
	var board []Departure
	err := s.call(ctx, LiveProvider, func() error {
		var err error
		board, err = s.live.Departures(ctx, BoardRequest{
			Origin:        q.Origin.Code,
			Destination:   q.Destination.Code,
			OffsetMinutes: minutesUntil - lastBoardLead,
			WindowMinutes: lastBoardWindow,
			Rows:          lastBoardRows,
		})
		return err
	})
	if err != nil {
		observe.Logger(ctx).Warn("live estimate for last train unavailable", "error", err)
		return "", false
	}
	for _, b := range board {
		if b.Scheduled == dep.Scheduled && b.Operator == dep.Operator && b.Destination == dep.Destination {
			return b.Estimated, true
		}
	}
	observe.Logger(ctx).Warn("last train not found on live board", "scheduled", dep.Scheduled)
	return "", false
}

// nextLive is the primary next-train source.
func (s *Service) nextLive(ctx context.Context, q Query) (*Departure, error) {
	if err := s.wait(ctx, LiveProvider); err != nil {
		return nil, err
	}
	deps, err := s.live.Departures(ctx, BoardRequest{
		Origin:        q.Origin.Code,
		Destination:   q.Destination.Code,
		OffsetMinutes: q.OffsetMinutes,
		WindowMinutes: BoardWindow,
		Rows:          NextRows,
	})
	if err != nil {
		s.recordError(ctx, LiveProvider, err)
		return nil, err
	}
	if len(deps) == 0 {
		return nil, nil
	}
	return &deps[0], nil
}

// nextScheduled answers "next train" from the timetable. The result carries
// no live estimate.
func (s *Service) nextScheduled(ctx context.Context, q Query) (*Departure, error) {
	if err := s.wait(ctx, TimetableProvider); err != nil {
		return nil, err
	}
	at := s.now().In(s.loc).Add(time.Duration(q.OffsetMinutes) * time.Minute)
	entries, err := s.timetable.Timetable(ctx, q.Origin.Code, q.Destination.Code, at)
	if err != nil {
		s.recordError(ctx, TimetableProvider, err)
		return nil, err
	}
	from := at.Format("15:04")
	for _, e := range entries {
		if e.AimedDeparture >= from {
			return &Departure{
				Scheduled:   e.AimedDeparture,
				Estimated:   e.AimedDeparture,
				Operator:    e.Operator,
				Destination: e.Destination,
			}, nil
		}
	}
	return nil, nil
}

// call runs fn behind provider's limiter and breaker.
func (s *Service) call(ctx context.Context, provider string, fn func() error) error {
	if err := s.wait(ctx, provider); err != nil {
		return err
	}
	err := s.breakers[provider].Execute(fn)
	if err != nil {
		s.recordError(ctx, provider, err)
	}
	return err
}

func (s *Service) wait(ctx context.Context, provider string) error {
	l, ok := s.limiters[provider]
	if !ok {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rail: %s rate limit: %w", provider, err)
	}
	return nil
}

func (s *Service) recordError(ctx context.Context, provider string, err error) {
	kind := "provider"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		kind = "circuit_open"
	case errors.Is(err, ErrClient):
		kind = "client"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = "canceled"
	}
	s.metrics.RecordUpstreamError(ctx, provider, kind)
}

func (s *Service) startSpan(ctx context.Context, name string, q Query) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("rail.origin", q.Origin.Code),
		attribute.String("rail.destination", q.Destination.Code),
		attribute.Int("rail.offset_minutes", q.OffsetMinutes),
	))
}

func clampOffset(m int) int {
	return min(max(m, 0), MaxOffset)
}
