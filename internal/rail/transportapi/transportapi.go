// Package transportapi is a client for the TransportAPI scheduled timetable
// endpoint. Successful responses are kept in an in-process LRU cache with a
// short TTL since the same origin and hour are queried repeatedly while
// walking a day's timetable.
package transportapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"github.com/MrWong99/railuk/internal/observe"
	"github.com/MrWong99/railuk/internal/rail"
)

// DefaultBaseURL is the public TransportAPI root.
const DefaultBaseURL = "https://transportapi.com/v3"

// Provider is the provider name reported in errors and metrics.
const Provider = "TransportAPI"

const (
	// DefaultCacheSize is the number of timetable pages kept in memory.
	DefaultCacheSize = 512

	// DefaultCacheTTL is how long a cached timetable page stays valid.
	DefaultCacheTTL = 5 * time.Minute

	// window is the timetable span requested after the given time.
	window = "PT02:00:00"

	maxResponseBytes = 4 << 20
)

// Ensure Client implements rail.Timetable at compile time.
var _ rail.Timetable = (*Client)(nil)

// Client fetches timetables. It is safe for concurrent use.
type Client struct {
	baseURL    string
	appID      string
	appKey     string
	httpClient *http.Client
	cache      gcache.Cache
}

type config struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	cacheSize  int
	cacheTTL   time.Duration
}

// Option configures a [Client].
type Option func(*config)

// WithBaseURL overrides [DefaultBaseURL].
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the HTTP client timeout. Ignored when [WithHTTPClient] is
// also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithCache sets the cache capacity and entry TTL. A size <= 0 disables
// caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *config) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// New creates a client authenticated with appID and appKey.
func New(appID, appKey string, opts ...Option) (*Client, error) {
	if appID == "" || appKey == "" {
		return nil, errors.New("transportapi: app ID and key must not be empty")
	}
	cfg := config{
		baseURL:   DefaultBaseURL,
		timeout:   10 * time.Second,
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
	}
	for _, o := range opts {
		o(&cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}
	c := &Client{
		baseURL:    cfg.baseURL,
		appID:      appID,
		appKey:     appKey,
		httpClient: hc,
	}
	if cfg.cacheSize > 0 {
		c.cache = gcache.New(cfg.cacheSize).
			LRU().
			Expiration(cfg.cacheTTL).
			Build()
	}
	return c, nil
}

// timetableResponse mirrors the parts of the timetable document in use.
// Pointers distinguish a missing key from an empty list.
type timetableResponse struct {
	Departures *struct {
		All *[]struct {
			AimedDepartureTime string `json:"aimed_departure_time"`
			OperatorName       string `json:"operator_name"`
			DestinationName    string `json:"destination_name"`
		} `json:"all"`
	} `json:"departures"`
}

// Timetable returns passenger services from origin calling at callingAt in
// the two hours after at. Times are interpreted in at's location.
func (c *Client) Timetable(ctx context.Context, origin, callingAt string, at time.Time) ([]rail.TimetableEntry, error) {
	date, clock := at.Format(time.DateOnly), at.Format("15:04")
	key := origin + "|" + callingAt + "|" + date + "|" + clock

	if c.cache != nil {
		if v, err := c.cache.Get(key); err == nil {
			return v.([]rail.TimetableEntry), nil
		}
	}

	start := time.Now()
	entries, err := c.fetch(ctx, origin, callingAt, date, clock)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observe.DefaultMetrics().RecordUpstreamRequest(ctx, Provider, "timetable", status, time.Since(start))
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		_ = c.cache.Set(key, entries)
	}
	return entries, nil
}

func (c *Client) fetch(ctx context.Context, origin, callingAt, date, clock string) ([]rail.TimetableEntry, error) {
	endpoint := fmt.Sprintf("%s/uk/train/station/%s/%s/%s/timetable.json",
		c.baseURL, url.PathEscape(origin), date, clock)
	q := url.Values{
		"app_id":       {c.appID},
		"app_key":      {c.appKey},
		"calling_at":   {callingAt},
		"to_offset":    {window},
		"train_status": {"passenger"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("transportapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rail.ProviderError(Provider, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, rail.ProviderError(Provider, http.StatusText(resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, rail.ClientError(Provider, http.StatusText(resp.StatusCode))
	case resp.StatusCode >= http.StatusMultipleChoices:
		return nil, rail.ProviderError(Provider, http.StatusText(resp.StatusCode), nil)
	}

	var body timetableResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, rail.ProviderError(Provider, "Could not parse response.", err)
	}
	if body.Departures == nil {
		return nil, rail.ProviderError(Provider, "unexpected response - 'departures' not found", nil)
	}
	if body.Departures.All == nil {
		return nil, rail.ProviderError(Provider, "unexpected response - 'all' not found", nil)
	}

	all := *body.Departures.All
	entries := make([]rail.TimetableEntry, 0, len(all))
	for _, d := range all {
		entries = append(entries, rail.TimetableEntry{
			AimedDeparture: d.AimedDepartureTime,
			Operator:       d.OperatorName,
			Destination:    d.DestinationName,
		})
	}
	return entries, nil
}
