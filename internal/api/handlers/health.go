// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rental-code-manager/backend/internal/storage"
	"github.com/rental-code-manager/backend/internal/transport"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
	HAConnected bool   `json:"ha_connected"`
}

// HealthCheck returns a handler that performs a health check. An
// unreachable Home Assistant degrades the status without failing it;
// queued operations keep retrying on their own.
func HealthCheck(db *storage.DB, device transport.LockTransport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.Ping() == nil

		pingCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		haConnected := device.Ping(pingCtx) == nil

		status := "healthy"
		if !haConnected {
			status = "degraded"
		}
		if !dbConnected {
			status = "unhealthy"
		}

		response := HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
			HAConnected: haConnected,
		}

		w.Header().Set("Content-Type", "application/json")
		if !dbConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}
