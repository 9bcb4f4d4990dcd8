package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-fix/internal/domain/ai"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func apiError(typ, msg string) string {
	return `{"error":{"message":"` + msg + `","type":"` + typ + `","code":"` + typ + `"}}`
}

func newTestClient(t *testing.T, h http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Retry: fastRetry(retries)})
}

func request() ai.FixRequest {
	return ai.FixRequest{
		FindingID:   "48213",
		Name:        "SQL_INJECTION",
		Explanation: "Query built from user input",
		File:        "src/Foo.java",
		Content:     "class Foo {}\n",
		StartLine:   1,
		EndLine:     1,
		Snippet:     "class Foo {}\n",
		Attempt:     1,
	}
}

func TestPropose_ExtractsCodeBlock(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("Here is the fix:\n```java\nclass Foo { }\n```\nDone.")))
	}, 0)

	code, err := c.Propose(context.Background(), request())

	require.NoError(t, err)
	assert.Equal(t, "class Foo { }\n", code)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].(map[string]any)["content"], "Query built from user input")
}

func TestPropose_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(apiError("rate_limit_exceeded", "slow down")))
		case 2:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(apiError("server_error", "upstream")))
		default:
			_, _ = w.Write([]byte(completion("```\nfixed\n```")))
		}
	}, 5)

	code, err := c.Propose(context.Background(), request())

	require.NoError(t, err)
	assert.Equal(t, "fixed\n", code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPropose_TransientExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(apiError("server_error", "down")))
	}, 2)

	_, err := c.Propose(context.Background(), request())

	assert.ErrorIs(t, err, ai.ErrTransient)
	assert.False(t, ai.IsFatal(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPropose_AuthFailsFast(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(apiError("invalid_request_error", "Incorrect API key provided")))
	}, 5)

	_, err := c.Propose(context.Background(), request())

	assert.ErrorIs(t, err, ai.ErrAuth)
	assert.True(t, ai.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPropose_QuotaIsFatal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(apiError("insufficient_quota", "You exceeded your current quota")))
	}, 5)

	_, err := c.Propose(context.Background(), request())

	assert.ErrorIs(t, err, ai.ErrQuotaExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPropose_NoCodeBlock(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("I cannot help with that.")))
	}, 0)

	_, err := c.Propose(context.Background(), request())

	assert.ErrorIs(t, err, ai.ErrNoCodeBlock)
}

func TestPropose_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Propose(ctx, request())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	n, err := retry(context.Background(), fastRetry(3), func(ctx context.Context, attempt int) error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestWithJitter_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := withJitter(100*time.Millisecond, 1.0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 200*time.Millisecond)
	}
	assert.Equal(t, 32*time.Second, nextBackoff(20*time.Second, 2, 32*time.Second))
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o3-mini"))
	assert.True(t, isReasoningModel("gpt-5"))
	assert.False(t, isReasoningModel("gpt-4o-mini"))
	assert.False(t, strings.HasPrefix(defaultModel, "o"))
}
