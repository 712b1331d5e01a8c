package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// transitionLog records OnStateChange callbacks.
type transitionLog struct {
	mu  sync.Mutex
	got []string
}

func (l *transitionLog) record(name string, from, to State) {
	l.mu.Lock()
	l.got = append(l.got, name+":"+from.String()+"->"+to.String())
	l.mu.Unlock()
}

func (l *transitionLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

func newTestBreaker(clock *fakeClock, log *transitionLog) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:          "live",
		MaxFailures:   3,
		ResetTimeout:  30 * time.Second,
		HalfOpenMax:   2,
		Now:           clock.Now,
		OnStateChange: log.record,
	})
}

func fail() error    { return errTest }
func succeed() error { return nil }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ── configuration ───────────────────────────────────────────────────────────

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "timetable"})
	if cb.cfg.MaxFailures != 5 || cb.cfg.ResetTimeout != 30*time.Second || cb.cfg.HalfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.cfg.MaxFailures, cb.cfg.ResetTimeout, cb.cfg.HalfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "timetable" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// ── state machine ───────────────────────────────────────────────────────────

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	t.Parallel()
	clock, log := newFakeClock(), &transitionLog{}
	cb := newTestBreaker(clock, log)

	// Two failures and a success keep it closed and reset the streak.
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("closed breaker rejected a call: %v", err)
	}
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after a broken streak, want closed", cb.State())
	}

	// The third consecutive failure opens it.
	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("tripping call err = %v, want the call's own error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker: err = %v, called = %v", err, called)
	}

	// After the reset timeout it reports half-open and admits probes.
	clock.Advance(30 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v after reset timeout, want half-open", cb.State())
	}
	for i := range 2 {
		if err := cb.Execute(succeed); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after successful probes, want closed", cb.State())
	}

	want := []string{"live:closed->open", "live:open->half-open", "live:half-open->closed"}
	if got := log.list(); !equalStrings(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	clock, log := newFakeClock(), &transitionLog{}
	cb := newTestBreaker(clock, log)
	for range 3 {
		_ = cb.Execute(fail)
	}

	clock.Advance(31 * time.Second)
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after a failed probe, want open", cb.State())
	}

	// The reset timeout restarts from the failed probe.
	clock.Advance(29 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen before the new timeout", err)
	}

	want := []string{"live:closed->open", "live:open->half-open", "live:half-open->open"}
	if got := log.list(); !equalStrings(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, &transitionLog{})
	for range 3 {
		_ = cb.Execute(fail)
	}
	clock.Advance(time.Minute)

	// Two probes in flight exhaust the budget; a third call is rejected.
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("state = %v after both probes succeeded, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	clock, log := newFakeClock(), &transitionLog{}
	cb := newTestBreaker(clock, log)
	for range 3 {
		_ = cb.Execute(fail)
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after Reset, want closed", cb.State())
	}
	// Reset clears the failure streak.
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
	// Resetting a closed breaker reports nothing.
	cb.Reset()
	want := []string{"live:closed->open", "live:open->closed"}
	if got := log.list(); !equalStrings(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

// ── failure classification ──────────────────────────────────────────────────

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	t.Parallel()
	errClient := errors.New("bad request")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "darwin",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
		IsFailure:    func(err error) bool { return !errors.Is(err, errClient) },
	})

	for i := range 5 {
		if err := cb.Execute(func() error { return errClient }); !errors.Is(err, errClient) {
			t.Fatalf("call %d: err = %v, want the client error passed through", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed: client errors must not trip the breaker", cb.State())
	}

	// A client error between provider failures resets the streak.
	_ = cb.Execute(fail)
	_ = cb.Execute(func() error { return errClient })
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after consecutive provider failures", cb.State())
	}
}

func TestCircuitBreaker_OpenErrorNamesBreaker(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "transportapi", MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)

	err := cb.Execute(succeed)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := err.Error(); got != "resilience: transportapi: circuit breaker is open" {
		t.Errorf("Error() = %q", got)
	}
}
