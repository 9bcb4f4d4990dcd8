package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(ClientFromContext(r.Context())))
})

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"ci": "s3cret"})(ok)

	cases := []struct {
		name   string
		path   string
		header map[string]string
		code   int
		body   string
	}{
		{"missing", "/v1/findings", nil, http.StatusUnauthorized, ""},
		{"wrong", "/v1/findings", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"bearer", "/v1/findings", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK, "ci"},
		{"bare", "/v1/findings", map[string]string{"Authorization": "s3cret"}, http.StatusOK, "ci"},
		{"x-api-key", "/v1/findings", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK, "ci"},
		{"health is open", "/health", nil, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuth_DisabledWithoutKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	APIKeyAuth(nil)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attempts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, 1)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per client")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(bucketIdle + time.Second)
	assert.Equal(t, 0, rl.Sweep())
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(NewRateLimiter(1, 0.5))(ok)

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.7:51000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("/v1/findings").Code)
	limited := do("/v1/findings")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "3", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("/health").Code)
}

func TestHealthHandler(t *testing.T) {
	ledger := filepath.Join(t.TempDir(), "findings.json")
	require.NoError(t, os.WriteFile(ledger, []byte("[]"), 0o644))

	h := HealthHandler(map[string]HealthChecker{
		"ledger": &FileHealthChecker{Path: ledger},
		"audit":  CheckFunc(func(ctx context.Context) error { return nil }),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = HealthHandler(map[string]HealthChecker{
		"audit": CheckFunc(func(ctx context.Context) error { return errors.New("db down") }),
	})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "db down", status.Checks["audit"].Message)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveAttempt(patches.StateAccepted, 3*time.Second)
	m.ObserveAttempt(patches.StateBuildFailed, time.Second)
	m.AddOracleCalls(2)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/findings/{id}", func(w http.ResponseWriter, r *http.Request) {})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/findings/48213", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `autofix_patch_attempts_total{state="accepted"} 1`)
	assert.Contains(t, body, `autofix_patch_attempts_total{state="build_failed"} 1`)
	assert.Contains(t, body, `autofix_oracle_calls_total 2`)
	assert.Contains(t, body, `autofix_http_requests_total{code="200",method="GET",route="/v1/findings/{id}"} 1`)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateFindingID("48213"))
	assert.Error(t, ValidateFindingID(""))
	assert.Error(t, ValidateFindingID("a/b"))

	assert.NoError(t, ValidateRunID(""))
	assert.NoError(t, ValidateRunID("0b6f4c1e-8d1a-4f7e-9a43-2f1c9d3e5a10"))
	assert.Error(t, ValidateRunID("run-1"))

	assert.NoError(t, ValidateDiffName("Foo_patch_48213_attempt_2.diff"))
	assert.Error(t, ValidateDiffName("../Foo.diff"))
	assert.Error(t, ValidateDiffName("Foo.txt"))

	assert.NoError(t, ValidateRelativePath("src/main/java/Foo.java"))
	assert.Error(t, ValidateRelativePath("../etc/passwd"))
	assert.Error(t, ValidateRelativePath("/etc/passwd"))
	assert.Error(t, ValidateRelativePath("a;rm -rf"))

	n, err := ParseLimit("")
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	n, err = ParseLimit("5000")
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	_, err = ParseLimit("ten")
	assert.Error(t, err)

	assert.Equal(t, "ab", SanitizeString(" a\x00b\x07 "))
	assert.True(t, strings.HasPrefix(SanitizeString("x\ty"), "x\t"))
}
