package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rental-code-manager/backend/internal/api/middleware"
	"github.com/rental-code-manager/backend/internal/storage"
	enginesync "github.com/rental-code-manager/backend/internal/sync"
	"github.com/rental-code-manager/backend/internal/websocket"
)

// StatusResponse represents the system status response.
type StatusResponse struct {
	OperationCounts    map[string]int `json:"operation_counts"`
	FailedOperations   int            `json:"failed_operations"`
	FailedBatches      []string       `json:"failed_batches"`
	CalendarsTotal     int            `json:"calendars_total"`
	CalendarsDegraded  int            `json:"calendars_degraded"`
	ConnectedDashboard int            `json:"connected_clients"`
}

// Status returns a handler that provides system status information.
func Status(orch *enginesync.Orchestrator, calendars *storage.CalendarRepository, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		engine, err := orch.Status(ctx)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to read engine status")
			return
		}

		cals, err := calendars.List(ctx)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list calendars")
			return
		}

		degraded := 0
		for i := range cals {
			if cals[i].Degraded() {
				degraded++
			}
		}

		failedBatches := []string{}
		seen := make(map[string]bool)
		for i := range engine.Failed {
			if b := engine.Failed[i].BatchID; b != nil && !seen[*b] {
				seen[*b] = true
				failedBatches = append(failedBatches, *b)
			}
		}

		response := StatusResponse{
			OperationCounts:    engine.Counts,
			FailedOperations:   len(engine.Failed),
			FailedBatches:      failedBatches,
			CalendarsTotal:     len(cals),
			CalendarsDegraded:  degraded,
			ConnectedDashboard: hub.ClientCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
