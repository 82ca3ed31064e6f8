// Package httpclient provides the resilient HTTP client used to pull reel
// manifests and chunks from a remote origin.
//
// Requests are guarded by a circuit breaker, retried with exponential backoff
// on transient failures, transparently decompressed (gzip, deflate, brotli)
// and size-limited so a misbehaving origin cannot exhaust memory.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Common errors returned by the client.
var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrResponseTooLarge = errors.New("response body exceeds size limit")
)

// Default configuration values.
const (
	DefaultTimeout              = 30 * time.Second
	DefaultRetryAttempts        = 2
	DefaultRetryDelay           = 500 * time.Millisecond
	DefaultRetryMaxDelay        = 10 * time.Second
	DefaultCircuitThreshold     = 5
	DefaultCircuitTimeout       = 30 * time.Second
	DefaultCircuitHalfOpenMax   = 1
	DefaultBackoffMultiplier    = 2.0
	DefaultAcceptEncodingHeader = "gzip, deflate, br"
)

// HTTP header constants.
const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// StatusError reports a non-retryable, non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Config holds the configuration for the HTTP client.
type Config struct {
	Timeout           time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	CircuitThreshold   int
	CircuitTimeout     time.Duration
	CircuitHalfOpenMax int

	// MaxBodySize caps the decompressed body read by Fetch. Zero disables the cap.
	MaxBodySize int64

	UserAgent string
	// Header is added to every request that does not already set the key.
	Header http.Header
	Logger *slog.Logger

	// BaseClient is the underlying http.Client. If nil, one is created with Timeout.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:            DefaultTimeout,
		RetryAttempts:      DefaultRetryAttempts,
		RetryDelay:         DefaultRetryDelay,
		RetryMaxDelay:      DefaultRetryMaxDelay,
		BackoffMultiplier:  DefaultBackoffMultiplier,
		CircuitThreshold:   DefaultCircuitThreshold,
		CircuitTimeout:     DefaultCircuitTimeout,
		CircuitHalfOpenMax: DefaultCircuitHalfOpenMax,
		Logger:             slog.Default(),
	}
}

// Client is a resilient HTTP client with circuit breaker and retry support.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a new resilient HTTP client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.CircuitHalfOpenMax <= 0 {
		cfg.CircuitHalfOpenMax = DefaultCircuitHalfOpenMax
	}

	baseClient := cfg.BaseClient
	if baseClient == nil {
		baseClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		config:  cfg,
		client:  baseClient,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// Do executes a request with circuit breaker protection and automatic retries.
// Bodies of successful responses are transparently decompressed.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get(HeaderUserAgent) == "" && c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}
	for key, values := range c.config.Header {
		if req.Header.Get(key) == "" {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
	}

	target := obfuscateURL(req.URL)
	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", target),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			delay = min(time.Duration(float64(delay)*c.config.BackoffMultiplier), c.config.RetryMaxDelay)
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			c.logger.Warn("circuit breaker open, skipping request",
				slog.String("url", target),
				slog.String("state", c.breaker.State().String()),
			)
			continue
		}

		start := time.Now()
		resp, err := c.client.Do(req.WithContext(ctx))
		duration := time.Since(start)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.breaker.RecordFailure()
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", target),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastErr = &StatusError{URL: target, StatusCode: resp.StatusCode}
			c.logger.Warn("retryable status code",
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", duration),
				slog.Int("attempt", attempt),
			)
			_ = resp.Body.Close()
			continue
		}

		// A definitive answer from the origin, even a 404, means it is healthy.
		c.breaker.RecordSuccess()
		c.logger.Debug("request completed",
			slog.String("url", target),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", duration),
			slog.Int64("content_length", resp.ContentLength),
		)

		resp.Body = c.wrapDecompression(resp)
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// Get performs a GET request to the specified URL.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(ctx, req)
}

// Fetch GETs rawURL and returns the whole body. Non-2xx answers become a
// *StatusError and bodies over MaxBodySize fail with ErrResponseTooLarge.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u, _ := url.Parse(rawURL)
		return nil, &StatusError{URL: obfuscateURL(u), StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if c.config.MaxBodySize > 0 {
		body = &limitedReader{reader: resp.Body, remaining: c.config.MaxBodySize}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// ResetCircuit resets the circuit breaker to closed state.
func (c *Client) ResetCircuit() {
	c.breaker.Reset()
}

// wrapDecompression wraps the response body with appropriate decompression.
func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	encoding := resp.Header.Get(HeaderContentEncoding)
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}

	case EncodingDeflate:
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}

	case EncodingBrotli:
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}

	default:
		c.logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		_ = closer.Close()
	}
	return d.closer.Close()
}

// limitedReader fails with ErrResponseTooLarge once more than remaining bytes are read.
type limitedReader struct {
	reader    io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	n, err := l.reader.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrResponseTooLarge
	}
	return n, err
}

// isRetryableStatus returns true if the HTTP status code is retryable.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
	"signature", "sig", "x-amz-signature",
}

// obfuscateURL returns a URL string with credentials and sensitive query
// parameters masked. Signed CDN URLs carry their secrets in the query.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	sanitized := *u
	if sanitized.User != nil {
		sanitized.User = url.User("***")
	}

	query := sanitized.Query()
	for name := range query {
		for _, param := range sensitiveParams {
			if strings.EqualFold(name, param) {
				query.Set(name, "***")
			}
		}
	}
	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}
