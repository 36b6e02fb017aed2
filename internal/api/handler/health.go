package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
)

// DBPinger checks database connectivity.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	db      DBPinger
	version string
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db DBPinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

type databaseStatus struct {
	Connected bool `json:"connected"`
}

type healthData struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Database databaseStatus `json:"database"`
}

// ServeHTTP reports "healthy", or "degraded" with 503 when the database
// does not answer within two seconds.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	data := healthData{Status: "healthy", Version: h.version, Database: databaseStatus{Connected: true}}
	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		slog.Warn("health check: database ping failed", "error", err)
		data.Status = "degraded"
		data.Database.Connected = false
		status = http.StatusServiceUnavailable
	}

	response.Success(w, status, data, requestID)
}
