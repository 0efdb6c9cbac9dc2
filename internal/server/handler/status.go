package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves runtime information about this instance for dashboards
// and deploy checks.
type StatusHandler struct {
	mode          string
	oracleEnabled bool
	startedAt     time.Time
}

// NewStatusHandler creates a StatusHandler for the given runtime mode.
func NewStatusHandler(mode string, oracleEnabled bool, startedAt time.Time) *StatusHandler {
	return &StatusHandler{
		mode:          mode,
		oracleEnabled: oracleEnabled,
		startedAt:     startedAt,
	}
}

// GetStatus responds with the instance mode, oracle availability, and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"oracle_enabled": h.oracleEnabled,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
