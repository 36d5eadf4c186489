// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/memchat/internal/credential"
	"github.com/jeranaias/memchat/internal/logging"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/telemetry"
)

// Configuration constants for the agent service.
const (
	// DefaultBaseURL is the address of a locally running agent server.
	DefaultBaseURL = "http://localhost:8283"

	// DefaultMaxRetries is the default number of retry attempts for transient errors.
	DefaultMaxRetries = 3

	// DefaultRetryRate is the default number of open attempts allowed per second.
	DefaultRetryRate = 4

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// maxErrorBodySize caps how much of an error response is read.
	maxErrorBodySize = 64 * 1024

	userAgent = "memchat/0.1.0"
)

// sharedStreamingClient has no overall timeout; streams live as long as
// their context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	},
}

// =============================================================================
// REQUEST
// =============================================================================

// Request is one message sent to the agent.
type Request struct {
	Message string     `json:"message"`
	Role    model.Role `json:"role"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client opens reply streams against one agent.
type Client struct {
	baseURL    string
	agentID    string
	creds      credential.Source
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	limiter    *rate.Limiter
	recorder   telemetry.Recorder
	logger     zerolog.Logger
}

// NewClient creates a client for the agent at baseURL.
func NewClient(baseURL, agentID string, creds credential.Source) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		agentID:    agentID,
		creds:      creds,
		httpClient: sharedStreamingClient,
		maxRetries: DefaultMaxRetries,
		baseDelay:  retryBaseDelay,
		limiter:    rate.NewLimiter(rate.Limit(DefaultRetryRate), 1),
		recorder:   telemetry.Nop{},
		logger:     zerolog.Nop(),
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithMaxRetries sets the maximum number of retry attempts.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	c.maxRetries = maxRetries
	return c
}

// WithRetryDelay sets the base delay for exponential backoff.
func (c *Client) WithRetryDelay(d time.Duration) *Client {
	c.baseDelay = d
	return c
}

// WithRateLimit caps open attempts (including retries) per second.
// A non-positive rate disables the limit.
func (c *Client) WithRateLimit(perSecond float64) *Client {
	if perSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return c
}

// WithRecorder sets the metrics recorder.
func (c *Client) WithRecorder(r telemetry.Recorder) *Client {
	if r != nil {
		c.recorder = r
	}
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.logger = l.With().Str("component", "agent").Logger()
	return c
}

// AgentID returns the configured agent id.
func (c *Client) AgentID() string {
	return c.agentID
}

// BaseURL returns the configured service address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// endpoint returns the message URL for the configured agent.
func (c *Client) endpoint() string {
	return c.baseURL + "/api/agents/" + url.PathEscape(c.agentID) + "/message"
}

// =============================================================================
// OPEN
// =============================================================================

// Open sends req and returns the reply stream once the server has answered
// with a 2xx event stream. Transient failures are retried with exponential
// backoff. The stream is bound to ctx: cancelling ctx aborts a blocked Next.
func (c *Client) Open(ctx context.Context, req Request) (*EventStream, error) {
	if c.agentID == "" {
		return nil, ErrNoAgent
	}
	defer logging.TraceDuration(c.logger, "agent.Open")()

	if req.Role == "" {
		req.Role = model.RoleUser
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		// Apply backoff delay after first attempt
		if attempt > 0 {
			delay := c.calculateBackoff(attempt-1, lastErr)
			c.logger.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying stream open")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		stream, err := c.openOnce(ctx, body, token)
		if err == nil {
			c.recorder.OpenAttempt(telemetry.OpenOK)
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			c.recorder.OpenAttempt(telemetry.OpenRejected)
			return nil, err
		}

		var ce *connError
		if errors.As(err, &ce) {
			c.recorder.OpenAttempt(telemetry.OpenError)
		} else {
			c.recorder.OpenAttempt(telemetry.OpenRetry)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.maxRetries+1, lastErr)
}

// openOnce performs a single request.
func (c *Client) openOnce(ctx context.Context, body []byte, token string) (*EventStream, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, token)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &connError{err: err}
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("agent_id", c.agentID).
		Msg("stream open response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		return nil, handleErrorResponse(resp.StatusCode, resp.Header, data)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: got %q", ErrNotEventStream, resp.Header.Get("Content-Type"))
	}

	return newEventStream(resp.Body), nil
}

// setHeaders applies the headers every stream request carries.
func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", userAgent)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// connError marks a failure to reach the server at all.
type connError struct {
	err error
}

func (e *connError) Error() string { return "request failed: " + e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

// retryAfterError carries a server-requested delay.
type retryAfterError struct {
	error
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.error }

// serviceError is the error body FastAPI-style services return.
type serviceError struct {
	Detail any `json:"detail"`
}

// handleErrorResponse maps a non-2xx response to an error.
func handleErrorResponse(status int, header http.Header, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var svcErr serviceError
	if err := json.Unmarshal(body, &svcErr); err == nil && svcErr.Detail != nil {
		if s, ok := svcErr.Detail.(string); ok {
			msg = s
		} else if b, err := json.Marshal(svcErr.Detail); err == nil {
			msg = string(b)
		}
	}

	statusErr := &StatusError{Status: status, Message: msg}

	var err error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		err = fmt.Errorf("%w: %w", ErrAuthFailed, statusErr)
	case http.StatusNotFound:
		err = fmt.Errorf("%w: %w", ErrAgentNotFound, statusErr)
	case http.StatusTooManyRequests:
		err = fmt.Errorf("%w: %w", ErrRateLimited, statusErr)
	default:
		return statusErr
	}

	if after := parseRetryAfter(header.Get("Retry-After")); after > 0 {
		return &retryAfterError{error: err, after: after}
	}
	return err
}

// parseRetryAfter reads a delay-seconds Retry-After header.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Connection issues are retried
	var ce *connError
	if errors.As(err, &ce) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return false
}

// calculateBackoff returns the delay to wait before the next retry.
// A Retry-After hint from the server takes precedence, capped at the max.
func (c *Client) calculateBackoff(attempt int, lastErr error) time.Duration {
	var ra *retryAfterError
	if errors.As(lastErr, &ra) {
		return min(ra.after, retryMaxDelay)
	}

	if c.baseDelay <= 0 {
		return 0
	}
	if attempt >= 30 {
		return retryMaxDelay
	}

	// Exponential backoff: 500ms, 1000ms, 2000ms, etc.
	delay := c.baseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}
