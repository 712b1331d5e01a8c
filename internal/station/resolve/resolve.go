// Package resolve turns a voice slot into a canonical catalog station.
//
// Resolution order:
//
//  1. A slot the platform already resolved is trusted as-is.
//  2. An absent slot yields NotFound.
//  3. Free text that equals a catalog display name exactly (case-sensitive)
//     resolves without scoring.
//  4. Anything else is scored by the fuzzy matcher and classified. On the
//     first attempt at a slot, near-ties raise [*AmbiguousError]; on a retry
//     the best candidate wins.
//
// The package performs no I/O and a [Resolver] is safe for concurrent use.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/railuk/internal/observe"
	"github.com/MrWong99/railuk/internal/station"
	"github.com/MrWong99/railuk/internal/station/fuzzy"
)

// Catalog is the subset of [*station.Catalog] the resolver needs.
type Catalog interface {
	LookupByName(name string) (station.Station, bool)
	Stations() []station.Station
}

// Matcher ranks stations against a query. [*fuzzy.Matcher] implements it.
type Matcher interface {
	Match(query string, stations []station.Station, limit int) []fuzzy.Candidate
}

// Resolution paths, reported as the "path" metric attribute.
const (
	pathPlatform = "platform"
	pathAbsent   = "absent"
	pathExact    = "exact"
	pathFuzzy    = "fuzzy"
)

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithLimit sets how many candidates the matcher returns. Values <= 0 use
// [fuzzy.DefaultLimit].
func WithLimit(n int) Option {
	return func(r *Resolver) {
		r.limit = n
	}
}

// WithMetrics records outcomes on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// Resolver resolves slots against a fixed catalog.
type Resolver struct {
	catalog  Catalog
	stations []station.Station
	matcher  Matcher
	limit    int
	metrics  *observe.Metrics
}

// New returns a Resolver over catalog. The station list is captured once;
// catalog must not change afterwards.
func New(catalog Catalog, matcher Matcher, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:  catalog,
		stations: catalog.Stations(),
		matcher:  matcher,
		limit:    fuzzy.DefaultLimit,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Resolve maps state to an [Outcome] for the named slot.
//
// When firstAttempt is true and the fuzzy candidates are ambiguous, the
// returned error is an [*AmbiguousError]. With firstAttempt false, ambiguity
// is never reported: the best candidate is returned instead.
func (r *Resolver) Resolve(ctx context.Context, state SlotState, slot string, firstAttempt bool) (Outcome, error) {
	ctx, span := observe.StartSpan(ctx, "resolve.station",
		trace.WithAttributes(
			attribute.String("slot", slot),
			attribute.String("slot_kind", state.Kind.String()),
			attribute.Bool("first_attempt", firstAttempt),
		),
	)
	defer span.End()

	out, path, err := r.resolve(state, slot, firstAttempt)

	outcome := out.Kind.String()
	var amb *AmbiguousError
	switch {
	case errors.As(err, &amb):
		outcome = Ambiguous.String()
		span.SetAttributes(attribute.Int("candidate_count", amb.CandidateCount))
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", outcome), attribute.String("path", path))
	r.metrics.RecordResolution(ctx, slot, outcome, path)

	observe.Logger(ctx).LogAttrs(ctx, slog.LevelDebug, "station slot resolved",
		slog.String("slot", slot),
		slog.String("path", path),
		slog.String("outcome", outcome),
		slog.String("station", out.Station.Code),
	)
	return out, err
}

func (r *Resolver) resolve(state SlotState, slot string, firstAttempt bool) (Outcome, string, error) {
	switch state.Kind {
	case SlotPlatformResolved:
		return Outcome{Kind: Resolved, Station: state.Station}, pathPlatform, nil

	case SlotFreeText:
		if strings.TrimSpace(state.Raw) == "" {
			return Outcome{Kind: NotFound}, pathAbsent, nil
		}
		if s, ok := r.catalog.LookupByName(state.Raw); ok {
			return Outcome{Kind: Resolved, Station: s}, pathExact, nil
		}
		cands := r.matcher.Match(state.Raw, r.stations, r.limit)
		out, err := gate{firstAttempt: firstAttempt}.apply(cands, slot)
		return out, pathFuzzy, err

	default:
		return Outcome{Kind: NotFound}, pathAbsent, nil
	}
}
