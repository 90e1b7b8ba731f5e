package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/pkg/circuitbreaker"
)

func TestAssessmentDTO_Parsing(t *testing.T) {
	jsonData := `{
    "success": true,
    "data": {
        "score": 85,
        "action": "accept",
        "comments": "Clinically accurate stem; distractor B is implausible for the stated age group",
        "model": "gemini-2.0-flash",
        "usage": {
            "prompt_tokens": 412,
            "completion_tokens": 96,
            "total_tokens": 508
        }
    }
}`

	var resp APIResponse[AssessmentDTO]
	err := json.Unmarshal([]byte(jsonData), &resp)
	assert.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, 85, resp.Data.Score)
	assert.Equal(t, "accept", resp.Data.Action)
	assert.Contains(t, resp.Data.Comments, "distractor B")
	assert.Equal(t, "gemini-2.0-flash", resp.Data.Model)
	assert.NotNil(t, resp.Data.Usage)
	assert.Equal(t, 508, resp.Data.Usage.TotalTokens)
}

func TestAssessmentDTO_ErrorResponse(t *testing.T) {
	jsonData := `{
    "success": false,
    "error": "model overloaded, try again later"
}`

	var resp APIResponse[AssessmentDTO]
	err := json.Unmarshal([]byte(jsonData), &resp)
	assert.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, "model overloaded, try again later", resp.Error)
	assert.Zero(t, resp.Data.Score)
}

func TestMapper_ScoreResultFromDTO(t *testing.T) {
	mapper := NewMapper()

	dto := &AssessmentDTO{
		Score:    72,
		Action:   "flag",
		Comments: "Ambiguous option wording",
		Model:    "gemini-2.0-flash",
	}

	result, err := mapper.ScoreResultFromDTO(dto)
	assert.NoError(t, err)
	assert.Equal(t, 72, result.Score.Int())
	assert.Equal(t, "Ambiguous option wording", result.Comments)
}

func TestMapper_ScoreResultFromDTO_OutOfRange(t *testing.T) {
	mapper := NewMapper()

	// An out-of-range score is a broken response, not a clampable one.
	_, err := mapper.ScoreResultFromDTO(&AssessmentDTO{Score: 140})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAssessment))

	_, err = mapper.ScoreResultFromDTO(nil)
	assert.True(t, errors.Is(err, ErrInvalidAssessment))
}

// testClientConfig returns a config with a wide-open quota and millisecond
// retry delays, so client tests exercise the real resilience wiring
// without sleeping.
func testClientConfig(baseURL string) ClientConfig {
	cfg := DefaultClientConfig(baseURL)
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.RateLimiter = RateLimiterConfig{
		RequestsPerSecond: 1000,
		BurstSize:         100,
		WaitTimeout:       time.Second,
		RetryAfter:        50 * time.Millisecond,
	}
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	return cfg
}

func TestClient_AssessQuestion(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq ScoreRequestDTO

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"score":91,"action":"accept","comments":"solid stem"}}`))
	}))
	defer server.Close()

	cfg := testClientConfig(server.URL)
	cfg.APIKey = "sk-test"
	client := NewClient(cfg)

	dto, err := client.AssessQuestion(context.Background(), ScoreRequestDTO{
		Question:     "First-line treatment for anaphylaxis?",
		Options:      []string{"Adrenaline IM", "Prednisolone PO", "Loratadine PO", "Salbutamol inh"},
		CorrectIndex: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, 91, dto.Score)
	assert.Equal(t, "solid stem", dto.Comments)
	assert.Equal(t, "/v1/assessments", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	// Model and temperature come from the client defaults when the
	// request leaves them empty.
	assert.Equal(t, "gemini-2.0-flash", gotReq.Model)
	assert.InDelta(t, 0.2, gotReq.Temperature, 0.001)
}

func TestClient_RetriesTransientBackendError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":"SERVER_ERROR","message":"model crashed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"score":64,"action":"flag"}}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	dto, err := client.AssessQuestion(context.Background(), ScoreRequestDTO{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, 64, dto.Score)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_DoesNotRetryClientMistakes(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"INVALID_REQUEST","message":"options must have four entries"}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	_, err := client.AssessQuestion(context.Background(), ScoreRequestDTO{Question: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_QuotaResponseStopsAttempts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	_, err := client.AssessQuestion(context.Background(), ScoreRequestDTO{Question: "q"})
	require.Error(t, err)

	// The limiter honors the advertised two-second pause; with a
	// one-second wait budget the retry gives up without hitting the
	// backend again.
	var rateLimitErr *RateLimitError
	assert.True(t, errors.As(err, &rateLimitErr))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_CircuitOpensAndFailsFast(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"SERVER_ERROR","message":"model crashed"}`))
	}))
	defer server.Close()

	cfg := testClientConfig(server.URL)
	cfg.BreakerThreshold = 1
	cfg.MaxRetries = 1
	client := NewClient(cfg)

	_, err := client.AssessQuestion(context.Background(), ScoreRequestDTO{Question: "q"})
	require.Error(t, err)
	require.Equal(t, int32(2), hits.Load(), "one attempt plus one retry")

	_, err = client.AssessQuestion(context.Background(), ScoreRequestDTO{Question: "q"})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load(), "an open circuit must not reach the backend")
}

func TestClient_IsHealthy(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":{"status":"ok"}}`))
	}))
	defer healthy.Close()

	assert.True(t, NewClient(testClientConfig(healthy.URL)).IsHealthy(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	assert.False(t, NewClient(testClientConfig(down.URL)).IsHealthy(context.Background()))
}
