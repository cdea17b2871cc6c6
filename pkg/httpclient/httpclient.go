// Package httpclient wraps the standard http.Client for talking to upstreams
// that fail. Requests are retried with exponential backoff, a circuit breaker
// sheds load after repeated failures, compressed responses are decompressed
// transparently, and every attempt is logged through slog.
//
// Only transport errors and the classic busy statuses (429, 502, 503, 504)
// are retried. Every other response is handed to the caller as is; the
// breaker still counts non-2xx responses as failures.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Errors surfaced to callers.
var (
	// ErrCircuitOpen marks an attempt that was shed without reaching the wire.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrMaxRetries wraps the last failure once every attempt is spent.
	ErrMaxRetries = errors.New("max retries exceeded")
	// ErrResponseTooLarge is returned by the response body once the
	// decompressed size passes Config.MaxResponseSize.
	ErrResponseTooLarge = errors.New("response body exceeds maximum size")
)

// Defaults applied by DefaultConfig.
const (
	DefaultTimeout            = 30 * time.Second
	DefaultRetryAttempts      = 3
	DefaultRetryDelay         = time.Second
	DefaultRetryMaxDelay      = 30 * time.Second
	DefaultBackoffMultiplier  = 2.0
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = 30 * time.Second
	DefaultCircuitHalfOpenMax = 1
	DefaultUserAgent          = "compressarr/1.0"
)

// Header names the client reads or sets.
const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderContentType     = "Content-Type"
	HeaderUserAgent       = "User-Agent"
)

// acceptedEncodings is offered to the upstream when decompression is on.
const acceptedEncodings = "gzip, deflate, br"

// Config tunes the client. Zero values fall back to the defaults above.
type Config struct {
	// Timeout bounds a single attempt, not the whole retry loop.
	Timeout time.Duration

	// RetryAttempts is how many times a failed request is retried.
	RetryAttempts int

	// RetryDelay is the pause before the first retry; each further retry
	// multiplies it by BackoffMultiplier up to RetryMaxDelay.
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	// CircuitThreshold is the consecutive failure count that opens the
	// breaker; CircuitTimeout how long it stays open; CircuitHalfOpenMax
	// how many probes the half-open state admits.
	CircuitThreshold   int
	CircuitTimeout     time.Duration
	CircuitHalfOpenMax int

	// UserAgent is set on requests that do not carry one.
	UserAgent string

	// Logger receives per-attempt debug and warning lines.
	Logger *slog.Logger

	// EnableDecompression unpacks gzip, deflate, and brotli bodies.
	EnableDecompression bool

	// MaxResponseSize caps the decompressed body size in bytes; reading past
	// it yields ErrResponseTooLarge. Zero means no cap. The cap is applied
	// after decompression so a small compressed payload cannot balloon.
	MaxResponseSize int64
}

// DefaultConfig returns the tuning used when callers have no opinion.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           DefaultUserAgent,
		EnableDecompression: true,
	}
}

// Client is the resilient HTTP client.
type Client struct {
	cfg     Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// Do executes the request with retries and breaker protection. Responses
// with statuses 429, 502, 503, and 504 are retried; everything else is
// returned to the caller, who owns closing the body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if c.cfg.UserAgent != "" && req.Header.Get(HeaderUserAgent) == "" {
		req.Header.Set(HeaderUserAgent, c.cfg.UserAgent)
	}
	if c.cfg.EnableDecompression && req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, acceptedEncodings)
	}

	delay := c.cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(time.Duration(float64(delay)*c.cfg.BackoffMultiplier), c.cfg.RetryMaxDelay)

			// A consumed POST body has to be rewound or the retry sends
			// nothing.
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewinding request body: %w", err)
				}
				req.Body = body
			}

			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.String("url", req.URL.String()),
			)
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			continue
		}

		resp, err := c.attempt(req, attempt)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

// Get fetches url with the client's resilience applied.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// CircuitStats snapshots the breaker under the given upstream name.
func (c *Client) CircuitStats(name string) BreakerStats {
	return c.breaker.Stats(name)
}

// attempt runs one round trip, records the outcome on the breaker, and
// returns an error only when the attempt should be retried.
func (c *Client) attempt(req *http.Request, attempt int) (*http.Response, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		c.breaker.RecordFailure(categorize(err))
		c.logger.Warn("request failed",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Duration("duration", elapsed),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if retryableStatus(resp.StatusCode) {
		c.breaker.RecordFailure(CategoryServerError)
		c.logger.Warn("upstream busy",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt),
		)
		resp.Body.Close()
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.breaker.RecordSuccess()
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.breaker.RecordFailure(CategoryClientError)
	default:
		c.breaker.RecordFailure(CategoryServerError)
	}

	c.logger.Debug("request completed",
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", elapsed),
	)

	if c.cfg.EnableDecompression {
		resp.Body = decompress(resp, c.logger)
	}
	if c.cfg.MaxResponseSize > 0 {
		resp.Body = &cappedBody{body: resp.Body, remaining: c.cfg.MaxResponseSize}
	}
	return resp, nil
}

// retryableStatus reports whether the upstream asked us to come back later.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// categorize maps a transport error onto a breaker tally bucket.
func categorize(err error) ErrorCategory {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	return CategoryNetwork
}

// decompress swaps the body for a decoding reader when the upstream
// compressed it. Unknown encodings pass through untouched.
func decompress(resp *http.Response, logger *slog.Logger) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get(HeaderContentEncoding)) {
	case "":
		return resp.Body
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warn("broken gzip body, passing through raw",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decodedBody{decoder: zr, raw: resp.Body}
	case "deflate":
		return &decodedBody{decoder: flate.NewReader(resp.Body), raw: resp.Body}
	case "br":
		return &decodedBody{decoder: brotli.NewReader(resp.Body), raw: resp.Body}
	default:
		return resp.Body
	}
}

// decodedBody reads through the decoder but closes both it and the network
// body underneath.
type decodedBody struct {
	decoder io.Reader
	raw     io.Closer
}

func (d *decodedBody) Read(p []byte) (int, error) { return d.decoder.Read(p) }

func (d *decodedBody) Close() error {
	if closer, ok := d.decoder.(io.Closer); ok {
		closer.Close()
	}
	return d.raw.Close()
}

// cappedBody fails the read once more than `remaining` bytes came through.
type cappedBody struct {
	body      io.ReadCloser
	remaining int64
	tripped   bool
}

func (c *cappedBody) Read(p []byte) (int, error) {
	if c.tripped {
		return 0, ErrResponseTooLarge
	}
	n, err := c.body.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		c.tripped = true
		return n, ErrResponseTooLarge
	}
	return n, err
}

func (c *cappedBody) Close() error { return c.body.Close() }
