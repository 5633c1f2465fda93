package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1 req/sec, burst 2
	handler := NewRateLimiter(ctx, 1, 2).Middleware(okHandler())
	get := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/v1/experts", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get("10.0.0.1:1234").Code, "within burst")
	}
	w := get("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "burst exceeded")
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get("10.0.0.2:1234").Code, "other clients have their own bucket")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", clientIP(req))
	req.RemoteAddr = "192.0.2.7"
	assert.Equal(t, "192.0.2.7", clientIP(req))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "client-42")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "client-42", seen)
	assert.Equal(t, "client-42", w.Header().Get("X-Request-ID"))

	assert.Empty(t, RequestID(context.Background()))
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), RequestIDMiddleware, LoggingMiddleware(logger))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/health", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.NotEmpty(t, line["request_id"])
}

func TestIdempotencyMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	handler := IdempotencyMiddleware(NewIdempotencyStore(ctx, time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
	}))
	post := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", path, strings.NewReader(`{}`))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	first := post("/v1/readings", "k1")
	second := post("/v1/readings", "k1")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	post("/v1/entitlements", "k1")
	assert.Equal(t, int32(2), calls.Load(), "keys are scoped by path")

	post("/v1/readings", "")
	post("/v1/readings", "")
	assert.Equal(t, int32(4), calls.Load(), "requests without a key always run")
}

func TestIdempotencyMiddleware_SkipsFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	handler := IdempotencyMiddleware(NewIdempotencyStore(ctx, time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/readings", nil)
		req.Header.Set("Idempotency-Key", "k")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, int32(2), calls.Load())
}

// echoUser answers with the user_id of the JSON body and counts calls.
func echoUser(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			UserID string `json:"user_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"user":%q}`, body.UserID)
	})
}

func postJSON(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/v1/readings", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", key)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIdempotencyMiddleware_ScopedByUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	h := IdempotencyMiddleware(NewIdempotencyStore(ctx, time.Hour))(echoUser(&calls))

	alice := postJSON(h, "k1", `{"user_id":"alice","expert":"tarot"}`)
	bob := postJSON(h, "k1", `{"user_id":"bob","expert":"tarot"}`)
	assert.Equal(t, int32(2), calls.Load())
	assert.JSONEq(t, `{"user":"alice"}`, alice.Body.String())
	assert.JSONEq(t, `{"user":"bob"}`, bob.Body.String())
	assert.Empty(t, bob.Header().Get("Idempotent-Replayed"))

	again := postJSON(h, "k1", `{"user_id":"bob","expert":"tarot"}`)
	assert.Equal(t, int32(2), calls.Load())
	assert.JSONEq(t, `{"user":"bob"}`, again.Body.String())
}

func TestIdempotencyMiddleware_KeyReuseWithOtherBody(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	h := IdempotencyMiddleware(NewIdempotencyStore(ctx, time.Hour))(echoUser(&calls))

	postJSON(h, "k1", `{"user_id":"alice","nonce":1}`)
	w := postJSON(h, "k1", `{"user_id":"alice","nonce":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, int32(1), calls.Load())

	var p ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "idempotency_mismatch", p.Code)
}

func TestIdempotencyMiddleware_DuplicateWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h := IdempotencyMiddleware(NewIdempotencyStore(ctx, time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"charged":true}`))
	}))

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- postJSON(h, "k1", `{"user_id":"alice"}`) }()
	<-entered

	dup := postJSON(h, "k1", `{"user_id":"alice"}`)
	assert.Equal(t, http.StatusConflict, dup.Code)
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(dup.Body.Bytes(), &p))
	assert.Equal(t, "idempotency_in_flight", p.Code)

	close(release)
	assert.Equal(t, http.StatusOK, (<-first).Code)

	replay := postJSON(h, "k1", `{"user_id":"alice"}`)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewIdempotencyStore(ctx, time.Hour)
	s.now = func() time.Time { return now }

	stored, err := s.Begin("k", "d1")
	require.NoError(t, err)
	assert.Nil(t, stored)
	s.Finish("k", &StoredResponse{StatusCode: http.StatusOK, Body: []byte("ok")})

	stored, err = s.Begin("k", "d1")
	require.NoError(t, err)
	require.NotNil(t, stored)

	now = now.Add(time.Hour)
	stored, err = s.Begin("k", "d2")
	require.NoError(t, err, "expired keys may be reused with a new body")
	assert.Nil(t, stored)

	// An abandoned reservation is released.
	s.Finish("k", nil)
	_, err = s.Begin("k", "d3")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	s.evict()
	_, err = s.Begin("k", "d3")
	assert.ErrorIs(t, err, ErrIdempotencyInFlight, "running requests are never evicted")
}
