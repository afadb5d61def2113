// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package license exchanges CDM license requests with an HTTP license server.
package license

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/ManuGH/emecore/internal/drm/model"
	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/resilience"
)

// HeaderMessageType carries the CDM message type of a license request.
const HeaderMessageType = "X-License-Message-Type"

const (
	defaultTimeout        = 10 * time.Second
	defaultRateLimit      = 10
	defaultRateLimitBurst = 20
	maxLicenseSize        = 1 << 20
)

// Options configures the license client.
type Options struct {
	Timeout        time.Duration
	RateLimit      rate.Limit
	RateLimitBurst int
	UserAgent      string
	Headers        map[string]string

	// BreakerThreshold opens the circuit after that many consecutive
	// outages (transport errors or 5xx). Zero disables the breaker.
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
}

// StatusError is a non-successful license server response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("license server answered %d: %s", e.StatusCode, e.Body)
}

// Client posts CDM messages to a license server.
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	headers    map[string]string
	breaker    *resilience.CircuitBreaker
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "emecore"
	}
	return opts
}

func NewClient(url string, opts Options) *Client {
	nopts := normalizeOptions(opts)
	c := &Client{
		url: url,
		httpClient: &http.Client{
			Timeout:   nopts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:   rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		userAgent: nopts.UserAgent,
		headers:   nopts.Headers,
	}
	if nopts.BreakerThreshold > 0 {
		c.breaker = resilience.NewCircuitBreaker("license", nopts.BreakerThreshold, nopts.BreakerResetTimeout,
			resilience.WithFailureFilter(isOutage))
	}
	return c
}

// GetLicense implements model.GetLicenseFunc. A 204 answer withholds the
// license. Client errors (4xx) are not retried. While the circuit breaker
// is open, requests fail fast with a retryable error.
func (c *Client) GetLicense(ctx context.Context, message []byte, messageType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("license rate limit: %w", err)
	}
	if c.breaker == nil {
		return c.exchange(ctx, message, messageType)
	}

	var license []byte
	err := c.breaker.Do(func() error {
		var err error
		license, err = c.exchange(ctx, message, messageType)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("license server unavailable: %w", err)
	}
	return license, err
}

// isOutage reports whether err means the license server is unreachable or
// failing, as opposed to a rejected request or a cancelled caller.
func isOutage(err error) bool {
	if errors.Is(err, context.Canceled) || model.IsNoRetry(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return true
}

func (c *Client) exchange(ctx context.Context, message []byte, messageType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(message))
	if err != nil {
		return nil, model.NoRetry(fmt.Errorf("build license request: %w", err))
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderMessageType, messageType)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("license request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLicenseSize))
	if err != nil {
		return nil, fmt.Errorf("read license: %w", err)
	}

	logger := xglog.WithComponent("license")
	switch {
	case resp.StatusCode == http.StatusNoContent:
		logger.Debug().Str(xglog.FieldMessageType, messageType).Msg("license withheld by server")
		return nil, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, model.NoRetry(&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}
