package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/daap14/bookcars/internal/api/middleware"
	"github.com/daap14/bookcars/internal/api/response"
	"github.com/daap14/bookcars/internal/bootstrap"
)

// StatusChecker reports the database initialization state.
type StatusChecker interface {
	Status() bootstrap.Status
}

// DBPinger checks that the database answers.
type DBPinger interface {
	Ping(ctx context.Context) error
}

const pingTimeout = 2 * time.Second

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	checker StatusChecker
	pinger  DBPinger
	version string
}

// NewHealthHandler creates a new HealthHandler. pinger may be nil.
func NewHealthHandler(checker StatusChecker, pinger DBPinger, version string) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		pinger:  pinger,
		version: version,
	}
}

type databaseStatus struct {
	Connected      bool    `json:"connected"`
	Initialized    bool    `json:"initialized"`
	Runs           int     `json:"runs"`
	LastRun        *string `json:"lastRun"`
	LastDurationMs int64   `json:"lastDurationMs"`
}

type healthData struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Database databaseStatus `json:"database"`
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	st := h.checker.Status()
	connected := st.Connected
	if connected && h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			slog.Warn("database ping failed", "error", err, "requestId", requestID)
			connected = false
		}
	}

	status := "healthy"
	if !connected || !st.Ready {
		status = "degraded"
	}

	var lastRun *string
	if !st.LastRun.IsZero() {
		s := st.LastRun.UTC().Format(time.RFC3339)
		lastRun = &s
	}

	data := healthData{
		Status:  status,
		Version: h.version,
		Database: databaseStatus{
			Connected:      connected,
			Initialized:    st.Ready,
			Runs:           st.Runs,
			LastRun:        lastRun,
			LastDurationMs: st.LastDuration.Milliseconds(),
		},
	}

	response.Success(w, http.StatusOK, data, requestID)
}

// ReadyHandler handles the GET /ready endpoint.
type ReadyHandler struct {
	checker StatusChecker
}

// NewReadyHandler creates a new ReadyHandler.
func NewReadyHandler(checker StatusChecker) *ReadyHandler {
	return &ReadyHandler{checker: checker}
}

type readyData struct {
	Ready bool `json:"ready"`
}

// ServeHTTP answers 200 once initialization succeeded and 503 before that
// or after a failed run.
func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if !h.checker.Status().Ready {
		response.Err(w, http.StatusServiceUnavailable, "NOT_READY", "Database initialization has not succeeded", requestID)
		return
	}

	response.Success(w, http.StatusOK, readyData{Ready: true}, requestID)
}
