// Package skill handles voice requests: it dispatches intents, resolves the
// station slots, asks the departure service and renders the reply.
//
// Ambiguous station names are turned into a clarification question here
// and nowhere else. Every other failure maps to one of three apologies:
// data provider, storage, or generic.
package skill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/railuk/internal/alexa"
	"github.com/MrWong99/railuk/internal/dialog"
	"github.com/MrWong99/railuk/internal/observe"
	"github.com/MrWong99/railuk/internal/preference"
	"github.com/MrWong99/railuk/internal/rail"
	"github.com/MrWong99/railuk/internal/resilience"
	"github.com/MrWong99/railuk/internal/station"
	"github.com/MrWong99/railuk/internal/station/resolve"
)

// Intent names.
const (
	IntentNextTrain      = "NextTrain"
	IntentFastestTrain   = "FastestTrain"
	IntentLastTrain      = "LastTrain"
	IntentSetHomeStation = "SetHomeStation"
	IntentHelp           = "AMAZON.HelpIntent"
	IntentCancel         = "AMAZON.CancelIntent"
	IntentStop           = "AMAZON.StopIntent"
)

// SlotDistance holds the minutes it takes the user to reach their home
// station.
const SlotDistance = "distance"

var (
	// ErrApplicationID is returned for requests addressed to another skill.
	ErrApplicationID = errors.New("skill: application ID mismatch")

	errUnknownIntent  = errors.New("skill: unknown intent")
	errUnknownRequest = errors.New("skill: unknown request type")
)

// Departures answers departure questions. [*rail.Service] implements it.
type Departures interface {
	Next(ctx context.Context, q rail.Query) (*rail.Departure, error)
	Fastest(ctx context.Context, q rail.Query) (*rail.Departure, error)
	Last(ctx context.Context, q rail.Query) (*rail.Departure, error)
}

// Resolver resolves station slots. [*resolve.Resolver] implements it.
type Resolver interface {
	Resolve(ctx context.Context, state resolve.SlotState, slot string, firstAttempt bool) (resolve.Outcome, error)
}

// Option configures a [Handler].
type Option func(*Handler)

// WithApplicationID rejects requests for any other application ID. Without
// it every application ID is accepted.
func WithApplicationID(id string) Option {
	return func(h *Handler) { h.appID = id }
}

// WithMetrics records requests on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler turns request envelopes into response envelopes. It is safe for
// concurrent use.
type Handler struct {
	resolver   Resolver
	departures Departures
	store      preference.Store
	appID      string
	metrics    *observe.Metrics
	tracer     trace.Tracer
}

// New creates a Handler.
func New(resolver Resolver, departures Departures, store preference.Store, opts ...Option) *Handler {
	h := &Handler{
		resolver:   resolver,
		departures: departures,
		store:      store,
		tracer:     otel.Tracer("github.com/MrWong99/railuk/internal/skill"),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Handle answers one request. The only error it returns is
// [ErrApplicationID]; every other failure becomes a spoken apology.
func (h *Handler) Handle(ctx context.Context, env *alexa.RequestEnvelope) (*alexa.ResponseEnvelope, error) {
	if h.appID != "" && env.Session.Application.ApplicationID != h.appID {
		observe.Logger(ctx).Error("invalid application ID", "application_id", env.Session.Application.ApplicationID)
		return nil, ErrApplicationID
	}

	intent := ""
	if env.Request.Intent != nil {
		intent = env.Request.Intent.Name
	}
	ctx, span := h.tracer.Start(ctx, "skill.handle", trace.WithAttributes(
		attribute.String("skill.request_type", env.Request.Type),
		attribute.String("skill.intent", intent),
		attribute.String("skill.session_id", env.Session.SessionID),
	))
	defer span.End()

	h.metrics.ActiveRequests.Add(ctx, 1)
	defer h.metrics.ActiveRequests.Add(ctx, -1)

	start := time.Now()
	ctx = observe.WithLogAttrs(ctx, slog.String("session_id", env.Session.SessionID))
	log := observe.Logger(ctx)
	if env.Session.New {
		log.Info("session started")
	}

	var (
		resp   *alexa.ResponseEnvelope
		status = "ok"
	)
	switch env.Request.Type {
	case alexa.TypeLaunch:
		log.Info("launched without intent")
		resp = dialog.Welcome()
	case alexa.TypeIntent:
		log.Info("intent", "intent", intent)
		resp, status = h.onIntent(ctx, env)
	case alexa.TypeSessionEnded:
		log.Info("session ended", "reason", env.Request.Reason)
		resp = dialog.Ended()
	default:
		resp, status = h.fail(ctx, fmt.Errorf("%w: %q", errUnknownRequest, env.Request.Type))
	}

	if status != "ok" && status != "clarify" && status != "elicit" {
		span.SetStatus(codes.Error, status)
	}
	h.metrics.RecordSkillRequest(ctx, env.Request.Type, intent, status, time.Since(start))
	return resp, nil
}

// onIntent dispatches an intent. An ambiguous station name is answered with
// a clarification question; other errors become apologies.
func (h *Handler) onIntent(ctx context.Context, env *alexa.RequestEnvelope) (*alexa.ResponseEnvelope, string) {
	resp, err := h.dispatch(ctx, env)
	if err == nil {
		if len(resp.Response.Directives) > 0 {
			return resp, "elicit"
		}
		return resp, "ok"
	}

	var amb *resolve.AmbiguousError
	if errors.As(err, &amb) {
		observe.Logger(ctx).Info("station name is ambiguous",
			"slot", amb.Slot, "candidates", amb.CandidateCount)
		return dialog.Clarification(amb, env.Session.Attributes), "clarify"
	}
	return h.fail(ctx, err)
}

func (h *Handler) dispatch(ctx context.Context, env *alexa.RequestEnvelope) (*alexa.ResponseEnvelope, error) {
	intent := env.Request.Intent
	if intent == nil {
		return nil, fmt.Errorf("%w: missing intent", errUnknownIntent)
	}
	switch intent.Name {
	case IntentNextTrain:
		return h.departure(ctx, env, h.departures.Next, func(q rail.Query, d *rail.Departure) string {
			return dialog.DepartureSpeech(dialog.Next, q, d)
		})
	case IntentFastestTrain:
		return h.departure(ctx, env, h.departures.Fastest, func(q rail.Query, d *rail.Departure) string {
			return dialog.DepartureSpeech(dialog.Fastest, q, d)
		})
	case IntentLastTrain:
		return h.departure(ctx, env, h.departures.Last, dialog.LastDepartureSpeech)
	case IntentSetHomeStation:
		return h.setHomeStation(ctx, env)
	case IntentHelp:
		return dialog.Welcome(), nil
	case IntentCancel, IntentStop:
		return dialog.Goodbye(), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownIntent, intent.Name)
	}
}

// departure answers a departure question with ask and renders it with say.
func (h *Handler) departure(
	ctx context.Context,
	env *alexa.RequestEnvelope,
	ask func(context.Context, rail.Query) (*rail.Departure, error),
	say func(rail.Query, *rail.Departure) string,
) (*alexa.ResponseEnvelope, error) {
	q, elicit, err := h.query(ctx, env)
	if err != nil || elicit != nil {
		return elicit, err
	}
	dep, err := ask(ctx, q)
	if err != nil {
		return nil, err
	}
	return dialog.Tell(say(q, dep)), nil
}

// query builds the departure query from the intent slots. When the origin
// slot is empty the user's home station and its walking distance are used.
// A non-nil response asks the user for a missing station.
func (h *Handler) query(ctx context.Context, env *alexa.RequestEnvelope) (rail.Query, *alexa.ResponseEnvelope, error) {
	attrs := env.Session.Attributes
	var q rail.Query

	origin, err := h.resolveSlot(ctx, env, dialog.SlotOrigin)
	if err != nil {
		return q, nil, err
	}
	if origin == nil {
		home, err := h.store.Get(ctx, env.Session.User.UserID)
		if err != nil {
			return q, nil, err
		}
		if home == nil {
			return q, dialog.ElicitSlot(dialog.SlotOrigin, dialog.Prompt(dialog.SlotOrigin), attrs), nil
		}
		origin = &home.Station
		q.OffsetMinutes = home.Distance
	}

	dest, err := h.resolveSlot(ctx, env, dialog.SlotDestination)
	if err != nil {
		return q, nil, err
	}
	if dest == nil {
		return q, dialog.ElicitSlot(dialog.SlotDestination, dialog.Prompt(dialog.SlotDestination), attrs), nil
	}

	q.Origin, q.Destination = *origin, *dest
	return q, nil, nil
}

func (h *Handler) setHomeStation(ctx context.Context, env *alexa.RequestEnvelope) (*alexa.ResponseEnvelope, error) {
	home, err := h.resolveSlot(ctx, env, dialog.SlotHome)
	if err != nil {
		return nil, err
	}
	if home == nil {
		return dialog.ElicitSlot(dialog.SlotHome, dialog.Prompt(dialog.SlotHome), env.Session.Attributes), nil
	}

	distance := parseDistance(alexa.SlotValue(env.Request.Intent, SlotDistance))
	res, err := h.store.Set(ctx, env.Session.User.UserID, preference.HomeStation{Station: *home, Distance: distance})
	if err != nil {
		return nil, err
	}
	observe.Logger(ctx).Info("home station stored", "station", home.Code, "distance", distance, "result", res)
	return dialog.Tell(dialog.HomeStationSpeech(string(res))), nil
}

// resolveSlot resolves a station slot. A slot that was already clarified in
// this session is resolved without raising ambiguity again. It returns nil
// when the slot is empty.
func (h *Handler) resolveSlot(ctx context.Context, env *alexa.RequestEnvelope, slot string) (*station.Station, error) {
	state := alexa.SlotState(env.Request.Intent, slot)
	first := !dialog.IsClarified(env.Session.Attributes, slot)
	out, err := h.resolver.Resolve(ctx, state, slot, first)
	if err != nil {
		return nil, err
	}
	if out.Kind != resolve.Resolved {
		return nil, nil
	}
	s := out.Station
	return &s, nil
}

// fail logs err and picks the apology for it.
func (h *Handler) fail(ctx context.Context, err error) (*alexa.ResponseEnvelope, string) {
	log := observe.Logger(ctx)
	switch {
	case errors.Is(err, rail.ErrProvider),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrAllFailed):
		log.Error("departure provider failed", "error", err)
		return dialog.APIError(), "api_error"
	case errors.Is(err, preference.ErrStore):
		log.Error("preference store failed", "error", err)
		return dialog.StoreError(), "store_error"
	default:
		log.Error("request failed", "error", err)
		return dialog.GenericError(), "error"
	}
}

// parseDistance reads the distance slot as whole minutes. Missing,
// malformed or negative values mean zero.
func parseDistance(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
