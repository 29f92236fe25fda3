// Package lyapi is a typed client for the Legislative Yuan open-data API
// (https://ly.govapi.tw/v2).
//
// Responses are returned as [gjson.Result] values: the upstream payloads use
// Chinese field names and vary between endpoints, so callers pick the fields
// they need by path rather than through fixed structs. Every request goes
// through a circuit breaker, is traced via otelhttp and counted in
// lybot.upstream.requests.
//
// Failures are reported as [UpstreamError], [NotFoundError] or
// [ValidationError]; see [IsDataError].
package lyapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/internal/resilience"
)

// ---- constants ----

const (
	// DefaultBaseURL is the public v2 API root.
	DefaultBaseURL = "https://ly.govapi.tw/v2"

	// DefaultTerm is the legislative term (屆) used when a tool argument
	// omits it.
	DefaultTerm = 11

	// DefaultLimit is the page size used when a caller does not set one.
	DefaultLimit = 200

	// MaxLimit caps the page size a caller may request.
	MaxLimit = 1000

	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 16 << 20
	snippetLen     = 256
	userAgent      = "lybot/1.0 (+https://github.com/MrWong99/lybot)"
)

// ---- options ----

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for API calls. The caller is
// responsible for its transport; no otelhttp wrapping is applied.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDefaultTerm sets the term applied when a caller passes 0.
func WithDefaultTerm(term int) Option {
	return func(c *Client) {
		if term > 0 {
			c.term = term
		}
	}
}

// WithBreaker overrides the circuit breaker settings. IsFailure is always
// replaced so that 404s and argument errors never trip the breaker.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) { c.breakerCfg = cfg }
}

// WithMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithInsecureTLSHosts lists hosts whose certificates are not verified when
// downloading documents with [Client.FetchDocument]. The government PDF host
// serves a chain Go cannot verify. API calls never use relaxed TLS.
func WithInsecureTLSHosts(hosts ...string) Option {
	return func(c *Client) {
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				c.insecureHosts[h] = true
			}
		}
	}
}

// ---- client ----

// Client talks to the open-data API. It is safe for concurrent use.
type Client struct {
	baseURL       string
	term          int
	timeout       time.Duration
	http          *http.Client
	docs          *http.Client
	breakerCfg    resilience.CircuitBreakerConfig
	breaker       *resilience.CircuitBreaker
	docBreaker    *resilience.CircuitBreaker
	metrics       *observe.Metrics
	insecureHosts map[string]bool
}

// New creates a [Client] for baseURL. An empty baseURL selects
// [DefaultBaseURL].
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		term:          DefaultTerm,
		timeout:       defaultTimeout,
		insecureHosts: make(map[string]bool),
		breakerCfg: resilience.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   c.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	c.docs = &http.Client{
		Timeout:   2 * c.timeout,
		Transport: otelhttp.NewTransport(newDocTransport(c.insecureHosts)),
	}

	c.breakerCfg.Name = "upstream"
	c.breakerCfg.IsFailure = countsAgainstBreaker
	c.breaker = resilience.NewCircuitBreaker(c.breakerCfg)

	docCfg := c.breakerCfg
	docCfg.Name = "documents"
	c.docBreaker = resilience.NewCircuitBreaker(docCfg)
	return c
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Term returns term, or the default term when term is not positive.
func (c *Client) Term(term int) int {
	if term > 0 {
		return term
	}
	return c.term
}

// URL returns the absolute URL of an API path.
func (c *Client) URL(path string) string { return c.baseURL + path }

// Check reports an error while the upstream breaker is open.
func (c *Client) Check(ctx context.Context) error { return c.breaker.Check(ctx) }

// BreakerState exposes the breaker state for diagnostics.
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }

// Get fetches path (already escaped) with the query q. route is the path
// template used for metrics, spans and error messages.
func (c *Client) Get(ctx context.Context, route, path string, q *Query) (gjson.Result, error) {
	ctx, span := observe.StartSpan(ctx, "lyapi GET "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("lyapi.route", route)),
	)
	var (
		res gjson.Result
		err error
	)
	defer func() { observe.EndSpan(span, err) }()

	err = c.breaker.Execute(func() error {
		var callErr error
		res, callErr = c.do(ctx, route, path, q)
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.metrics.RecordUpstreamRequest(ctx, route, "circuit_open")
		err = fmt.Errorf("lyapi: %s: upstream temporarily unavailable: %w", route, err)
		return gjson.Result{}, err
	}
	return res, err
}

func (c *Client) do(ctx context.Context, route, path string, q *Query) (gjson.Result, error) {
	u := c.baseURL + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("lyapi: create request for %s: %w", route, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	observe.Logger(ctx).Debug("upstream request", "route", route, "url", u)

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamRequest(ctx, route, "error")
		return gjson.Result{}, fmt.Errorf("lyapi: GET %s: %w", route, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstreamRequest(ctx, route, strconv.Itoa(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("lyapi: read %s response: %w", route, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, &NotFoundError{Endpoint: route, ID: lastSegment(path)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return gjson.Result{}, &UpstreamError{Endpoint: route, StatusCode: resp.StatusCode, Body: snippet(body)}
	case len(body) > maxBodyBytes:
		return gjson.Result{}, &UpstreamError{Endpoint: route, Body: "response exceeds size limit"}
	case !gjson.ValidBytes(body):
		return gjson.Result{}, &UpstreamError{Endpoint: route, Body: "invalid JSON payload"}
	}
	return gjson.ParseBytes(body), nil
}

// PathSegment escapes a single path segment such as a legislator name.
func PathSegment(s string) string { return url.PathEscape(strings.TrimSpace(s)) }

func lastSegment(path string) string {
	seg := path[strings.LastIndexByte(path, '/')+1:]
	if un, err := url.PathUnescape(seg); err == nil {
		return un
	}
	return seg
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= snippetLen {
		return s
	}
	// Cut on a rune boundary.
	cut := snippetLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
