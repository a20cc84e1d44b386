// Package gateway talks to remote STAC catalogs and the geocoding service.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/whatnick/aws-tf-vibe/internal/core/observability"
)

// ErrLocationNotFound is returned when the geocoder has no match for a query.
var ErrLocationNotFound = errors.New("Location not found") //nolint:staticcheck // user-visible message

// StatusError is a non-2xx upstream response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d from %s", e.Code, e.URL)
	}
	return fmt.Sprintf("upstream status %d from %s: %s", e.Code, e.URL, e.Body)
}

// Options tunes outbound calls. Zero values pick the defaults.
type Options struct {
	// Upstream is the metrics label, e.g. "stac" or "nominatim".
	Upstream        string
	UserAgent       string
	RPS             float64
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// transport rate limits every call and runs it behind a breaker per host.
type transport struct {
	logger  *slog.Logger
	client  *http.Client
	limiter *rate.Limiter
	opts    Options

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

func newTransport(logger *slog.Logger, client *http.Client, opts Options) *transport {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Upstream == "" {
		opts.Upstream = "upstream"
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &transport{
		logger:   logger,
		client:   client,
		limiter:  lim,
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

// callerDone marks a failure caused by the caller's own context ending, e.g.
// a per-collection timeout. It says nothing about the upstream's health.
type callerDone struct{ err error }

func (e *callerDone) Error() string { return e.err.Error() }
func (e *callerDone) Unwrap() error { return e.err }

// breaker returns the breaker for host and op. Listing and searching get
// separate breakers so trouble on one path never blocks the other.
func (t *transport) breaker(host, op string) *gobreaker.CircuitBreaker[[]byte] {
	key := host + "|" + op
	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok := t.breakers[key]; ok {
		return cb
	}
	name := t.opts.Upstream + ":" + host + ":" + op
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     t.opts.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= t.opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("breaker state change", "name", name, "from", from.String(), "to", to.String())
			observability.IncBreakerTransition(name, to.String())
		},
		// any HTTP status means the host answered; a failing collection
		// must not open the breaker for its neighbours
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || errors.As(err, &se)
		},
		IsExcluded: func(err error) bool {
			var cd *callerDone
			return errors.As(err, &cd) || errors.Is(err, context.Canceled)
		},
	})
	t.breakers[key] = cb
	return cb
}

// fetch performs one request and returns the response body of a 2xx reply.
func (t *transport) fetch(ctx context.Context, op, method, rawURL string, body []byte) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	b, err := t.breaker(u.Host, op).Execute(func() ([]byte, error) {
		b, err := t.do(ctx, method, u, body)
		if err != nil && ctx.Err() != nil {
			return nil, &callerDone{err: err}
		}
		return b, err
	})
	dur := time.Since(start)
	observability.ObserveUpstreamLatency(t.opts.Upstream, op, dur.Seconds())
	if err != nil {
		observability.IncUpstreamError(t.opts.Upstream, op)
		return nil, err
	}
	t.logger.Debug("upstream call done", "op", op, "url", u.Redacted(), "duration", dur)
	return b, nil
}

func (t *transport) do(ctx context.Context, method string, u *url.URL, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.opts.UserAgent != "" {
		req.Header.Set("User-Agent", t.opts.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &StatusError{URL: u.Redacted(), Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}
