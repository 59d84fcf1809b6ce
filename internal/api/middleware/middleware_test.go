package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/bookcars/internal/api/middleware"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	// Arrange
	var captured string
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = middleware.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	// Act
	h.ServeHTTP(w, req)

	// Assert
	_, err := uuid.Parse(captured)
	assert.NoError(t, err, "generated request ID should be a valid UUID")
	assert.Equal(t, captured, w.Header().Get(middleware.RequestIDHeader))
}

func TestRequestID_KeepsCallerID(t *testing.T) {
	var captured string
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = middleware.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	req.Header.Set(middleware.RequestIDHeader, "lb-7f3a9c")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, "lb-7f3a9c", captured)
	assert.Equal(t, "lb-7f3a9c", w.Header().Get(middleware.RequestIDHeader))
}

func TestRequestID_ReplacesUnusableCallerID(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "contains spaces", id: "abc def"},
		{name: "control characters", id: "abc\x01"},
		{name: "too long", id: strings.Repeat("a", 129)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				captured = middleware.GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set(middleware.RequestIDHeader, tt.id)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			_, err := uuid.Parse(captured)
			assert.NoError(t, err)
			assert.Equal(t, captured, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	h := middleware.RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	seen := map[string]bool{}

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(middleware.RequestIDHeader)
		assert.False(t, seen[id], "request IDs should be unique")
		seen[id] = true
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.Equal(t, "", middleware.GetRequestID(req.Context()))
}

func TestRecovery_NoPanic(t *testing.T) {
	h := middleware.Recovery(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecovery_HandlesPanic(t *testing.T) {
	// Arrange: chain RequestID -> Recovery -> panicking handler
	h := middleware.RequestID(middleware.Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	w := httptest.NewRecorder()

	// Act
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	// Assert
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Nil(t, env["data"])

	apiErr := env["error"].(map[string]interface{})
	assert.Equal(t, "INTERNAL_ERROR", apiErr["code"])

	meta := env["meta"].(map[string]interface{})
	assert.Equal(t, w.Header().Get(middleware.RequestIDHeader), meta["requestId"])
}

func TestRecovery_RepanicsOnAbort(t *testing.T) {
	h := middleware.Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	})
}
