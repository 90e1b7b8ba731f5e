// Package ocr implements the document recognition service client.
// The OCR service turns uploaded PDFs and photos into plain text for the
// extraction pipeline. Calls are slow (scanned pages take tens of seconds),
// so the client retries sparingly and fails loudly: an upload without text
// cannot proceed, there is no heuristic fallback for recognition.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/pkg/circuitbreaker"
	"github.com/medquiz-hub/medquiz-content-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the OCR service client.
type ClientConfig struct {
	// BaseURL is the OCR service base URL
	BaseURL string

	// APIKey is the API key for authentication
	APIKey string

	// Timeout is the HTTP request timeout. Recognition of a scanned
	// multi-page PDF legitimately takes over a minute.
	Timeout time.Duration

	// MaxRetries is how many retries follow a failed attempt; zero keeps
	// the OCR retry preset
	MaxRetries int

	// RetryBaseDelay is the pause before the first retry
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the retry backoff
	RetryMaxDelay time.Duration

	// Languages is the comma-separated recognition language list
	Languages string

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		Timeout:   90 * time.Second,
		Languages: "en",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DTOs
// ══════════════════════════════════════════════════════════════════════════════

// RecognizeRequestDTO represents one document sent for recognition.
type RecognizeRequestDTO struct {
	// Kind is the document kind: "pdf" or "photo"
	Kind string `json:"kind"`

	// ContentBase64 is the document content, base64-encoded
	ContentBase64 string `json:"content_base64"`

	// Languages is the comma-separated recognition language list
	Languages string `json:"languages,omitempty"`

	// Filename is the original filename, used by the backend for format hints
	Filename string `json:"filename,omitempty"`
}

// RecognizedDTO represents the recognition result.
type RecognizedDTO struct {
	// Text is the recognized plain text of the whole document
	Text string `json:"text"`

	// Pages is the number of processed pages
	Pages int `json:"pages"`

	// MeanConfidence is the average word confidence [0, 1]
	MeanConfidence float64 `json:"mean_confidence"`

	// DurationMS is the backend processing time in milliseconds
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// IsEmpty returns true when recognition produced no usable text.
func (r *RecognizedDTO) IsEmpty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// APIErrorDTO represents an error response from the OCR service.
type APIErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the OCR service API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient creates a new OCR service client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger
	breaker := circuitbreaker.OCRBreaker(
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("ocr circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)

	retryOpts := []retry.Option{
		retry.WithInitialDelay(config.RetryBaseDelay),
		retry.WithMaxDelay(config.RetryMaxDelay),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Debug("ocr retry", "attempt", attempt, "delay", delay, "error", err)
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
		logger:  logger,
		retrier: retry.OCRRetrier(retryOpts...),
		breaker: breaker,
	}
}

// Recognize submits a document for text recognition.
func (c *Client) Recognize(ctx context.Context, kind string, content []byte, filename string) (*RecognizedDTO, error) {
	req := RecognizeRequestDTO{
		Kind:          kind,
		ContentBase64: base64.StdEncoding.EncodeToString(content),
		Languages:     c.config.Languages,
		Filename:      filename,
	}

	var result RecognizedDTO

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			err := c.doRecognize(ctx, req, &result)
			if err == nil {
				return nil
			}
			if isRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("recognize %s document: %w", kind, err)
	}

	return &result, nil
}

// doRecognize performs a single recognition request.
func (c *Client) doRecognize(ctx context.Context, reqDTO RecognizeRequestDTO, result *RecognizedDTO) error {
	jsonBody, err := json.Marshal(reqDTO)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/recognize", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Debug {
		c.logger.Debug("ocr request", "kind", reqDTO.Kind, "bytes", len(reqDTO.ContentBase64))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIErrorDTO
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if c.config.Debug {
		c.logger.Debug("ocr response", "pages", result.Pages, "confidence", result.MeanConfidence, "took", time.Since(start))
	}

	return nil
}

// IsHealthy checks if the OCR service is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/v1/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// isRetryable reports whether a recognition error is worth another attempt.
// Client mistakes (unsupported format, oversized document) are not.
func isRetryable(err error) bool {
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "UNSUPPORTED_FORMAT", "DOCUMENT_TOO_LARGE", "INVALID_REQUEST":
			return false
		}
		return true
	}

	msg := err.Error()
	for _, marker := range []string{"timeout", "connection refused", "temporary", "reset", "EOF", "status 5"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
