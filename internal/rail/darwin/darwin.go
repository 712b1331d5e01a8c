// Package darwin is a client for the National Rail OpenLDBWS live departure
// board web service (the public face of the Darwin real-time feed).
//
// Requests are SOAP 1.2 envelopes rendered from embedded templates;
// responses are decoded by element local name so the namespace prefixes the
// service happens to use do not matter.
//
// Example usage:
//
//	c, err := darwin.New(token, darwin.WithTimeout(5*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	deps, err := c.Departures(ctx, rail.BoardRequest{Origin: "BHM", Destination: "EUS", Rows: 3, WindowMinutes: 120})
package darwin

import (
	"bytes"
	"context"
	"embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/MrWong99/railuk/internal/observe"
	"github.com/MrWong99/railuk/internal/rail"
)

// DefaultEndpoint is the public OpenLDBWS SOAP endpoint.
const DefaultEndpoint = "https://lite.realtime.nationalrail.co.uk/OpenLDBWS/ldb9.asmx"

// Provider is the provider name reported in errors and metrics.
const Provider = "Darwin"

const (
	ldbNamespace   = "http://thalesgroup.com/RTTI/2016-02-16/ldb/"
	tokenNamespace = "http://thalesgroup.com/RTTI/2013-11-28/Token/types"
	contentType    = "application/soap+xml; charset=utf-8"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

//go:embed templates/*.xml.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"xml": escape,
}).ParseFS(templateFS, "templates/*.xml.tmpl"))

func escape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Ensure Client implements rail.LiveBoard at compile time.
var _ rail.LiveBoard = (*Client)(nil)

// Client talks to OpenLDBWS. It is safe for concurrent use.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*config)

// WithEndpoint overrides [DefaultEndpoint].
func WithEndpoint(url string) Option {
	return func(c *config) {
		c.endpoint = url
	}
}

// WithTimeout sets a per-request timeout. Ignored when [WithHTTPClient] is
// also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient uses hc for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Client authenticating with token. token must not be
// empty.
func New(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("darwin: access token must not be empty")
	}
	cfg := &config{endpoint: DefaultEndpoint, timeout: 10 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}
	return &Client{endpoint: cfg.endpoint, token: token, httpClient: hc}, nil
}

// templateData is the input to the request templates.
type templateData struct {
	rail.BoardRequest
	Token   string
	LDBNS   string
	TokenNS string
}

// Departures fetches the departure board at req.Origin filtered to services
// calling at req.Destination.
func (c *Client) Departures(ctx context.Context, req rail.BoardRequest) ([]rail.Departure, error) {
	env, err := c.call(ctx, "departure_board.xml.tmpl", req)
	if err != nil {
		return nil, err
	}
	if env.Body.Board == nil {
		return nil, rail.ProviderError(Provider, "Could not parse response.", nil)
	}

	services := env.Body.Board.Services
	if req.Rows > 0 && len(services) > req.Rows {
		services = services[:req.Rows]
	}
	out := make([]rail.Departure, 0, len(services))
	for _, s := range services {
		out = append(out, s.departure())
	}
	return out, nil
}

// FastestDeparture fetches the service from req.Origin that arrives first at
// req.Destination. It returns nil, nil when no such service runs inside the
// window.
func (c *Client) FastestDeparture(ctx context.Context, req rail.BoardRequest) (*rail.Departure, error) {
	env, err := c.call(ctx, "fastest_departures.xml.tmpl", req)
	if err != nil {
		return nil, err
	}
	if env.Body.Fastest == nil {
		return nil, rail.ProviderError(Provider, "Could not parse response.", nil)
	}
	for _, d := range env.Body.Fastest.Destinations {
		if d.Service.Nil == "true" || d.Service.STD == "" {
			continue
		}
		dep := d.Service.departure()
		return &dep, nil
	}
	return nil, nil
}

// call renders tmpl, posts it and decodes the envelope. SOAP faults and
// transport failures are returned as [*rail.APIError].
func (c *Client) call(ctx context.Context, tmpl string, req rail.BoardRequest) (*envelope, error) {
	start := time.Now()
	env, err := c.roundTrip(ctx, tmpl, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	op, _, _ := strings.Cut(tmpl, ".")
	observe.DefaultMetrics().RecordUpstreamRequest(ctx, Provider, op, status, time.Since(start))
	return env, err
}

func (c *Client) roundTrip(ctx context.Context, tmpl string, req rail.BoardRequest) (*envelope, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, templateData{
		BoardRequest: req,
		Token:        c.token,
		LDBNS:        ldbNamespace,
		TokenNS:      tokenNamespace,
	}); err != nil {
		return nil, fmt.Errorf("darwin: render %s: %w", tmpl, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("darwin: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	observe.Logger(ctx).Debug("darwin request",
		"template", tmpl, "origin", req.Origin, "destination", req.Destination,
		"offset", req.OffsetMinutes, "window", req.WindowMinutes)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rail.ProviderError(Provider, "transport error", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, rail.ProviderError(Provider, "read response", err)
	}

	var env envelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, rail.ProviderError(Provider, "Could not parse response.", nil)
	}
	if f := env.Body.Fault; f != nil {
		return nil, f.apiError()
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, rail.ProviderError(Provider, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	return &env, nil
}
