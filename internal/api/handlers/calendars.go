package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rental-code-manager/backend/internal/api/middleware"
	"github.com/rental-code-manager/backend/internal/calendar"
	"github.com/rental-code-manager/backend/internal/config"
	"github.com/rental-code-manager/backend/internal/storage"
	enginesync "github.com/rental-code-manager/backend/internal/sync"
	ws "github.com/rental-code-manager/backend/internal/websocket"
)

// ListCalendars returns every configured calendar with its fetch state.
func ListCalendars(calendars *storage.CalendarRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := calendars.List(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list calendars")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}

// SyncAllCalendars refreshes every calendar feed now, then reconciles so
// new bookings take effect without waiting for the next tick.
func SyncAllCalendars(ingestor *calendar.Ingestor, orch *enginesync.Orchestrator, events *ws.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		results := ingestor.SyncAll(ctx)
		for _, result := range results {
			events.CalendarSynced(result)
		}

		if err := orch.Reconcile(ctx); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to reconcile")
			return
		}
		orch.DispatchDue(ctx)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

// SyncCalendar refreshes one calendar feed now.
func SyncCalendar(layout *config.Layout, ingestor *calendar.Ingestor, orch *enginesync.Orchestrator, events *ws.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ctx := r.Context()

		var target *config.CalendarLayout
		for i := range layout.Calendars {
			if layout.Calendars[i].ID == id {
				target = &layout.Calendars[i]
				break
			}
		}
		if target == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Calendar not found")
			return
		}

		result := ingestor.SyncCalendar(ctx, *target)
		events.CalendarSynced(result)

		if err := orch.Reconcile(ctx); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to reconcile")
			return
		}
		orch.DispatchDue(ctx)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
