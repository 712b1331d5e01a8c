package preference_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/railuk/internal/observe"
	"github.com/MrWong99/railuk/internal/preference"
	"github.com/MrWong99/railuk/internal/station"
)

var (
	bhm = preference.HomeStation{Station: station.Station{Name: "Birmingham New Street", Code: "BHM"}, Distance: 15}
	eus = preference.HomeStation{Station: station.Station{Name: "London Euston", Code: "EUS"}}
)

// ── MemStore ─────────────────────────────────────────────────────────────────

func TestMemStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := preference.NewMemStore()

	got, err := s.Get(ctx, "user-1")
	if err != nil || got != nil {
		t.Fatalf("Get on empty store = %+v, %v; want nil, nil", got, err)
	}

	res, err := s.Set(ctx, "user-1", bhm)
	if err != nil || res != preference.ResultSet {
		t.Fatalf("first Set = %q, %v; want set", res, err)
	}
	res, err = s.Set(ctx, "user-1", eus)
	if err != nil || res != preference.ResultUpdated {
		t.Fatalf("second Set = %q, %v; want updated", res, err)
	}

	got, err = s.Get(ctx, "user-1")
	if err != nil || got == nil || *got != eus {
		t.Errorf("Get = %+v, %v; want %+v", got, err, eus)
	}
	if other, _ := s.Get(ctx, "user-2"); other != nil {
		t.Errorf("other user sees %+v", other)
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := preference.NewMemStore()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Set(ctx, "user", bhm)
			_, _ = s.Get(ctx, "user")
		}()
	}
	wg.Wait()
	if got, _ := s.Get(ctx, "user"); got == nil || *got != bhm {
		t.Errorf("Get = %+v", got)
	}
}

// ── StoreError ───────────────────────────────────────────────────────────────

func TestStoreError_MatchesSentinelAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := error(&preference.StoreError{Backend: "redis", Op: "get", Err: cause})
	if !errors.Is(err, preference.ErrStore) || !errors.Is(err, cause) {
		t.Errorf("errors.Is failed for %v", err)
	}
	if got := err.Error(); got != "preference: redis get: connection reset" {
		t.Errorf("Error() = %q", got)
	}
}

// ── Instrumented ─────────────────────────────────────────────────────────────

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) (*preference.HomeStation, error) { return nil, f.err }
func (f failingStore) Set(context.Context, string, preference.HomeStation) (preference.Result, error) {
	return "", f.err
}

func TestInstrumented_RecordsOperations(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ok := preference.Instrument(preference.NewMemStore(), "memory", m)
	_, _ = ok.Set(ctx, "u", bhm)
	_, _ = ok.Get(ctx, "u")

	bad := preference.Instrument(failingStore{err: errors.New("down")}, "memory", m)
	if _, err := bad.Get(ctx, "u"); err == nil {
		t.Fatal("expected error to pass through")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "railuk.store.operations" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				op, _ := dp.Attributes.Value(attribute.Key("operation"))
				st, _ := dp.Attributes.Value(attribute.Key("status"))
				counts[op.AsString()+"/"+st.AsString()] += dp.Value
			}
		}
	}
	want := map[string]int64{"set/ok": 1, "get/ok": 1, "get/error": 1}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("%s = %d, want %d (all: %v)", k, counts[k], v, counts)
		}
	}
}

func TestInstrumented_PingForwards(t *testing.T) {
	t.Parallel()

	i := preference.Instrument(preference.NewMemStore(), "memory", nil)
	if err := i.Ping(context.Background()); err != nil {
		t.Errorf("Ping on non-pinger = %v, want nil", err)
	}
}
