// Package scorer implements the AI scoring service client.
// The backend wraps a language model behind a small JSON API and returns
// a quality assessment for one question candidate per call. Requests run
// under a quota-aware rate limiter, a circuit breaker and bounded
// retries; a failure here is never fatal for the pipeline, the caller
// falls back to heuristic moderation.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/pkg/circuitbreaker"
	"github.com/medquiz-hub/medquiz-content-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the scoring service client.
// The resilience knobs default to the scorer presets when left zero.
type ClientConfig struct {
	// BaseURL is the scoring service base URL
	BaseURL string

	// APIKey is the API key for authentication
	APIKey string

	// Model is the default model requested for assessments
	Model string

	// Temperature is the default sampling temperature
	Temperature float64

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiter protects the backend's request quota
	RateLimiter RateLimiterConfig

	// MaxRetries is how many retries follow a failed attempt
	MaxRetries int

	// RetryBaseDelay is the pause before the first retry
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the retry backoff
	RetryMaxDelay time.Duration

	// BreakerThreshold is the failure streak that opens the circuit
	BreakerThreshold int

	// BreakerTimeout is the open-circuit cool-down
	BreakerTimeout time.Duration

	// BreakerHalfOpenMax caps in-flight recovery probes
	BreakerHalfOpenMax int

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:     baseURL,
		Model:       "gemini-2.0-flash",
		Temperature: 0.2,
		Timeout:     20 * time.Second,
		RateLimiter: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the scoring service API client.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
	mapper      *Mapper
}

// NewClient creates a new scoring service client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger

	breaker := circuitbreaker.ScorerBreaker(
		circuitbreaker.WithFailureThreshold(config.BreakerThreshold),
		circuitbreaker.WithTimeout(config.BreakerTimeout),
		circuitbreaker.WithMaxHalfOpenRequests(config.BreakerHalfOpenMax),
		circuitbreaker.WithIsFailure(countsAgainstBreaker),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("scorer circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)

	retryOpts := []retry.Option{
		retry.WithInitialDelay(config.RetryBaseDelay),
		retry.WithMaxDelay(config.RetryMaxDelay),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Debug("scorer retry", "attempt", attempt, "delay", delay, "error", err)
		}),
	}
	if config.MaxRetries > 0 {
		retryOpts = append(retryOpts, retry.WithMaxAttempts(config.MaxRetries+1))
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiter),
		breaker:     breaker,
		retrier:     retry.ScorerRetrier(retryOpts...),
		mapper:      NewMapper(),
	}
}

// Mapper returns the DTO mapper of this client.
func (c *Client) Mapper() *Mapper {
	return c.mapper
}

// countsAgainstBreaker decides which errors indict the backend. Quota
// responses and caller cancellations are excluded: neither says the
// service is down.
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rateLimitErr *RateLimitError
	return !errors.As(err, &rateLimitErr)
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSESSMENT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// AssessQuestion submits one candidate for assessment.
func (c *Client) AssessQuestion(ctx context.Context, req ScoreRequestDTO) (*AssessmentDTO, error) {
	if req.Model == "" {
		req.Model = c.config.Model
	}
	if req.Temperature == 0 {
		req.Temperature = c.config.Temperature
	}

	var response APIResponse[AssessmentDTO]
	if err := c.doRequest(ctx, http.MethodPost, "/v1/assessments", req, &response); err != nil {
		return nil, fmt.Errorf("assess question: %w", err)
	}

	if !response.Success {
		return nil, fmt.Errorf("api error: %s", response.Error)
	}

	return &response.Data, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest runs one logical API call: admitted once by the circuit
// breaker, each attempt paced by the rate limiter, transient failures
// retried with backoff.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				// The wait budget is spent; more attempts would only queue.
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}

			err := c.doSingleRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
			}

			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
				return retry.Retryable(err)
			}
			if isRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		})
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Debug {
		c.logger.Debug("scorer api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			RetryAfter: retryAfterHeader(resp, 60*time.Second),
			Message:    "rate limit exceeded",
		}
	}

	if resp.StatusCode >= 400 {
		var apiErr APIErrorDTO
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// retryAfterHeader reads the Retry-After header, falling back when it is
// absent or malformed.
func retryAfterHeader(resp *http.Response, fallback time.Duration) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(ra)
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// isRetryable reports whether an error is worth another attempt.
func isRetryable(err error) bool {
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "SERVER_ERROR", "MODEL_OVERLOADED", "TEMPORARILY_UNAVAILABLE":
			return true
		}
		return false
	}

	// Transport-level failures are worth another try.
	msg := err.Error()
	for _, marker := range []string{"timeout", "connection refused", "temporary", "reset", "EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks if the scoring service is reachable. The probe goes
// straight to the backend, bypassing the breaker and the quota limiter.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var response APIResponse[HealthDTO]
	err := c.doSingleRequest(ctx, http.MethodGet, "/v1/health", nil, &response)
	return err == nil && response.Success && response.Data.IsOK()
}
