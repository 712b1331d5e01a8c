package skill_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/railuk/internal/alexa"
	"github.com/MrWong99/railuk/internal/dialog"
	"github.com/MrWong99/railuk/internal/preference"
	"github.com/MrWong99/railuk/internal/rail"
	"github.com/MrWong99/railuk/internal/resilience"
	"github.com/MrWong99/railuk/internal/skill"
	"github.com/MrWong99/railuk/internal/station"
	"github.com/MrWong99/railuk/internal/station/fuzzy"
	"github.com/MrWong99/railuk/internal/station/resolve"
)

const appID = "amzn1.ask.skill.test"

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeDepartures struct {
	mu      sync.Mutex
	dep     *rail.Departure
	err     error
	queries []rail.Query
	called  []string
}

func (f *fakeDepartures) answer(kind string, q rail.Query) (*rail.Departure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	f.called = append(f.called, kind)
	return f.dep, f.err
}

func (f *fakeDepartures) Next(_ context.Context, q rail.Query) (*rail.Departure, error) {
	return f.answer("next", q)
}

func (f *fakeDepartures) Fastest(_ context.Context, q rail.Query) (*rail.Departure, error) {
	return f.answer("fastest", q)
}

func (f *fakeDepartures) Last(_ context.Context, q rail.Query) (*rail.Departure, error) {
	return f.answer("last", q)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*preference.HomeStation, error) {
	return nil, &preference.StoreError{Backend: "test", Op: "get", Err: errors.New("down")}
}

func (brokenStore) Set(context.Context, string, preference.HomeStation) (preference.Result, error) {
	return "", &preference.StoreError{Backend: "test", Op: "set", Err: errors.New("down")}
}

// ── helpers ──────────────────────────────────────────────────────────────────

type slotValue func(name string) alexa.Slot

func freeText(raw string) slotValue {
	return func(name string) alexa.Slot { return alexa.Slot{Name: name, Value: raw} }
}

func resolved(s station.Station) slotValue {
	return func(name string) alexa.Slot {
		return alexa.Slot{
			Name:  name,
			Value: strings.ToLower(s.Name),
			Resolutions: &alexa.Resolutions{PerAuthority: []alexa.Authority{{
				Authority: "amzn1.er-authority.echo-sdk.test.STATION",
				Status:    alexa.AuthorityStatus{Code: alexa.StatusMatch},
				Values:    []alexa.AuthorityValue{{Value: alexa.Entity{Name: s.Name, ID: s.Code}}},
			}}},
		}
	}
}

func intentRequest(name string, attrs map[string]any, slots map[string]slotValue) *alexa.RequestEnvelope {
	intent := &alexa.Intent{Name: name, Slots: map[string]alexa.Slot{}}
	for k, v := range slots {
		intent.Slots[k] = v(k)
	}
	return &alexa.RequestEnvelope{
		Version: "1.0",
		Session: alexa.Session{
			SessionID:   "SessionId.1",
			Application: alexa.Application{ApplicationID: appID},
			User:        alexa.User{UserID: "amzn1.ask.account.user"},
			Attributes:  attrs,
		},
		Request: alexa.Request{Type: alexa.TypeIntent, RequestID: "EdwRequestId.1", Intent: intent},
	}
}

type fixture struct {
	handler    *skill.Handler
	departures *fakeDepartures
	store      preference.Store
}

func newFixture(t *testing.T, store preference.Store) *fixture {
	t.Helper()
	cat, err := station.Default()
	if err != nil {
		t.Fatalf("Default catalog: %v", err)
	}
	if store == nil {
		store = preference.NewMemStore()
	}
	deps := &fakeDepartures{dep: &rail.Departure{
		Scheduled: "22:00", Estimated: "On time", Operator: "Train Operator Limited", Destination: "London Euston", Live: true,
	}}
	h := skill.New(resolve.New(cat, fuzzy.New()), deps, store, skill.WithApplicationID(appID))
	return &fixture{handler: h, departures: deps, store: store}
}

func (f *fixture) handle(t *testing.T, env *alexa.RequestEnvelope) *alexa.ResponseEnvelope {
	t.Helper()
	resp, err := f.handler.Handle(context.Background(), env)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	return resp
}

func speech(resp *alexa.ResponseEnvelope) string {
	if resp.Response.OutputSpeech == nil || resp.Response.OutputSpeech.Text == nil {
		return ""
	}
	return *resp.Response.OutputSpeech.Text
}

var (
	bhm = station.Station{Name: "Birmingham New Street", Code: "BHM"}
	eus = station.Station{Name: "London Euston", Code: "EUS"}
	lds = station.Station{Name: "Leeds", Code: "LDS"}
)

// ── request types ────────────────────────────────────────────────────────────

func TestHandle_Launch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	env := intentRequest("", nil, nil)
	env.Request = alexa.Request{Type: alexa.TypeLaunch}
	resp := f.handle(t, env)
	if speech(resp) != dialog.WelcomeSpeech || resp.Response.ShouldEndSession {
		t.Errorf("unexpected launch response: %q end=%v", speech(resp), resp.Response.ShouldEndSession)
	}
}

func TestHandle_SessionEnded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	env := intentRequest("", nil, nil)
	env.Request = alexa.Request{Type: alexa.TypeSessionEnded, Reason: "USER_INITIATED"}
	resp := f.handle(t, env)
	if resp.Response.OutputSpeech != nil {
		t.Errorf("session end must not speak, got %q", speech(resp))
	}
}

func TestHandle_UnknownRequestType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	env := intentRequest("", nil, nil)
	env.Request = alexa.Request{Type: "Display.ElementSelected"}
	if got := speech(f.handle(t, env)); got != dialog.GenericErrorSpeech {
		t.Errorf("speech = %q", got)
	}
}

func TestHandle_ApplicationIDMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	env := intentRequest(skill.IntentHelp, nil, nil)
	env.Session.Application.ApplicationID = "amzn1.ask.skill.other"
	if _, err := f.handler.Handle(context.Background(), env); !errors.Is(err, skill.ErrApplicationID) {
		t.Errorf("err = %v, want ErrApplicationID", err)
	}
}

func TestHandle_SimpleIntents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		intent string
		speech string
		end    bool
	}{
		{skill.IntentHelp, dialog.WelcomeSpeech, false},
		{skill.IntentCancel, "Travel safe.", true},
		{skill.IntentStop, "Travel safe.", true},
		{"FlyMeToTheMoon", dialog.GenericErrorSpeech, true},
	}
	for _, tc := range tests {
		t.Run(tc.intent, func(t *testing.T) {
			t.Parallel()

			resp := newFixture(t, nil).handle(t, intentRequest(tc.intent, nil, nil))
			if speech(resp) != tc.speech || resp.Response.ShouldEndSession != tc.end {
				t.Errorf("got %q end=%v", speech(resp), resp.Response.ShouldEndSession)
			}
		})
	}
}

// ── departures ───────────────────────────────────────────────────────────────

func TestDepartureIntents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		intent string
		kind   string
		speech string
	}{
		{skill.IntentNextTrain, "next",
			"The next train to London Euston from Birmingham New Street is the 22:00 Train Operator Limited service to London Euston, which is running on time."},
		{skill.IntentFastestTrain, "fastest",
			"The fastest train to London Euston from Birmingham New Street is the 22:00 Train Operator Limited service to London Euston, which is running on time."},
		{skill.IntentLastTrain, "last",
			"The last train to London Euston from Birmingham New Street is the 22:00 Train Operator Limited service to London Euston, which is running on time."},
	}
	for _, tc := range tests {
		t.Run(tc.intent, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			resp := f.handle(t, intentRequest(tc.intent, nil, map[string]slotValue{
				"origin":      resolved(bhm),
				"destination": resolved(eus),
			}))
			if got := speech(resp); got != tc.speech {
				t.Errorf("speech =\n%q\nwant\n%q", got, tc.speech)
			}
			if !resp.Response.ShouldEndSession {
				t.Error("answer must end the session")
			}
			if f.departures.called[0] != tc.kind {
				t.Errorf("called %v, want %s", f.departures.called, tc.kind)
			}
			want := rail.Query{Origin: bhm, Destination: eus}
			if f.departures.queries[0] != want {
				t.Errorf("query = %+v, want %+v", f.departures.queries[0], want)
			}
		})
	}
}

func TestDeparture_FreeTextResolves(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.handle(t, intentRequest(skill.IntentNextTrain, nil, map[string]slotValue{
		"origin":      freeText("leads"),
		"destination": freeText("London Euston"),
	}))
	want := rail.Query{Origin: lds, Destination: eus}
	if got := f.departures.queries[0]; got != want {
		t.Errorf("query = %+v, want %+v", got, want)
	}
}

func TestDeparture_NoTrain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.departures.dep = nil
	resp := f.handle(t, intentRequest(skill.IntentNextTrain, nil, map[string]slotValue{
		"origin":      resolved(bhm),
		"destination": resolved(eus),
	}))
	if got, want := speech(resp), "I cannot find a train to London Euston from Birmingham New Street at this time."; got != want {
		t.Errorf("speech = %q, want %q", got, want)
	}
}

func TestDeparture_HomeStationFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if _, err := f.store.Set(context.Background(), "amzn1.ask.account.user",
		preference.HomeStation{Station: lds, Distance: 12}); err != nil {
		t.Fatal(err)
	}
	f.handle(t, intentRequest(skill.IntentNextTrain, nil, map[string]slotValue{
		"destination": resolved(eus),
	}))
	want := rail.Query{Origin: lds, Destination: eus, OffsetMinutes: 12}
	if got := f.departures.queries[0]; got != want {
		t.Errorf("query = %+v, want %+v", got, want)
	}
}

func TestDeparture_ElicitsMissingStations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		slots map[string]slotValue
		slot  string
	}{
		{"no origin and no home", map[string]slotValue{"destination": resolved(eus)}, "origin"},
		{"no destination", map[string]slotValue{"origin": resolved(bhm)}, "destination"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			resp := f.handle(t, intentRequest(skill.IntentNextTrain, nil, tc.slots))
			d := resp.Response.Directives
			if len(d) != 1 || d[0].Type != alexa.DirectiveElicitSlot || d[0].SlotToElicit != tc.slot {
				t.Fatalf("directives = %+v, want elicit %s", d, tc.slot)
			}
			if got := speech(resp); got != dialog.Prompt(tc.slot) {
				t.Errorf("speech = %q", got)
			}
			if resp.Response.ShouldEndSession {
				t.Error("elicitation must keep the session open")
			}
			if len(f.departures.queries) != 0 {
				t.Error("departures queried without both stations")
			}
		})
	}
}

// ── clarification loop ───────────────────────────────────────────────────────

func TestClarification_AskOnceThenTakeBest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	slots := map[string]slotValue{
		"origin":      freeText("birmingham"),
		"destination": resolved(eus),
	}

	first := f.handle(t, intentRequest(skill.IntentNextTrain, nil, slots))
	if got, want := speech(first), "I found 3 stations matching that name. Which station would you like to travel from?"; got != want {
		t.Fatalf("speech = %q, want %q", got, want)
	}
	if d := first.Response.Directives; len(d) != 1 || d[0].SlotToElicit != "origin" {
		t.Fatalf("directives = %+v", d)
	}
	if first.Response.ShouldEndSession {
		t.Fatal("clarification must keep the session open")
	}
	if len(f.departures.queries) != 0 {
		t.Fatal("departures queried before clarification")
	}

	// The platform echoes session attributes back through JSON.
	raw, err := json.Marshal(first.SessionAttributes)
	if err != nil {
		t.Fatal(err)
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		t.Fatal(err)
	}

	second := f.handle(t, intentRequest(skill.IntentNextTrain, attrs, slots))
	if len(second.Response.Directives) != 0 {
		t.Fatalf("asked again: %q", speech(second))
	}
	if len(f.departures.queries) != 1 {
		t.Fatalf("departures queried %d times, want 1", len(f.departures.queries))
	}
	if got := f.departures.queries[0].Origin.Code; got != "BSW" {
		t.Errorf("origin = %s, want the best scoring BSW", got)
	}
}

func TestClarification_OtherSlotStillAsks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	attrs := map[string]any{dialog.AttrClarified: []any{"origin"}}
	resp := f.handle(t, intentRequest(skill.IntentNextTrain, attrs, map[string]slotValue{
		"origin":      resolved(eus),
		"destination": freeText("birmingham"),
	}))
	if d := resp.Response.Directives; len(d) != 1 || d[0].SlotToElicit != "destination" {
		t.Fatalf("directives = %+v, want destination clarification", d)
	}
	if got := dialog.Clarified(resp.SessionAttributes); len(got) != 2 {
		t.Errorf("clarified = %v, want origin and destination", got)
	}
}

// ── home station ─────────────────────────────────────────────────────────────

func TestSetHomeStation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	req := intentRequest(skill.IntentSetHomeStation, nil, map[string]slotValue{
		"home":     resolved(bhm),
		"distance": freeText("15"),
	})

	if got := speech(f.handle(t, req)); got != "Your home station has been set." {
		t.Errorf("first speech = %q", got)
	}
	if got := speech(f.handle(t, req)); got != "Your home station has been updated." {
		t.Errorf("second speech = %q", got)
	}
	home, _ := f.store.Get(context.Background(), "amzn1.ask.account.user")
	if home == nil || home.Station != bhm || home.Distance != 15 {
		t.Errorf("stored = %+v", home)
	}
}

func TestSetHomeStation_BadDistanceIsZero(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.handle(t, intentRequest(skill.IntentSetHomeStation, nil, map[string]slotValue{
		"home":     resolved(bhm),
		"distance": freeText("?"),
	}))
	home, _ := f.store.Get(context.Background(), "amzn1.ask.account.user")
	if home == nil || home.Distance != 0 {
		t.Errorf("stored = %+v", home)
	}
}

func TestSetHomeStation_ElicitsHome(t *testing.T) {
	t.Parallel()

	resp := newFixture(t, nil).handle(t, intentRequest(skill.IntentSetHomeStation, nil, nil))
	if d := resp.Response.Directives; len(d) != 1 || d[0].SlotToElicit != "home" {
		t.Errorf("directives = %+v", d)
	}
}

// ── error mapping ────────────────────────────────────────────────────────────

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		speech string
	}{
		{"provider", rail.ProviderError("Darwin", "Unexpected server error", nil), dialog.APIErrorSpeech},
		{"circuit open", resilience.ErrCircuitOpen, dialog.APIErrorSpeech},
		{"all failed", resilience.ErrAllFailed, dialog.APIErrorSpeech},
		{"client", rail.ClientError("Darwin", "Invalid crs code supplied"), dialog.GenericErrorSpeech},
		{"other", errors.New("boom"), dialog.GenericErrorSpeech},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			f.departures.err = tc.err
			resp := f.handle(t, intentRequest(skill.IntentFastestTrain, nil, map[string]slotValue{
				"origin":      resolved(bhm),
				"destination": resolved(eus),
			}))
			if got := speech(resp); got != tc.speech {
				t.Errorf("speech = %q, want %q", got, tc.speech)
			}
			if !resp.Response.ShouldEndSession {
				t.Error("apology must end the session")
			}
		})
	}
}

func TestErrorMapping_Store(t *testing.T) {
	t.Parallel()

	f := newFixture(t, brokenStore{})
	resp := f.handle(t, intentRequest(skill.IntentSetHomeStation, nil, map[string]slotValue{
		"home": resolved(bhm),
	}))
	if got := speech(resp); got != dialog.StoreErrorSpeech {
		t.Errorf("speech = %q", got)
	}

	resp = f.handle(t, intentRequest(skill.IntentNextTrain, nil, map[string]slotValue{
		"destination": resolved(eus),
	}))
	if got := speech(resp); got != dialog.StoreErrorSpeech {
		t.Errorf("home lookup speech = %q", got)
	}
}
