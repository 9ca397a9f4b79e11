package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rental-code-manager/backend/internal/api/middleware"
	"github.com/rental-code-manager/backend/internal/code"
	"github.com/rental-code-manager/backend/internal/config"
	"github.com/rental-code-manager/backend/internal/storage"
	"github.com/rental-code-manager/backend/internal/storage/models"
	enginesync "github.com/rental-code-manager/backend/internal/sync"
)

// ListBookings returns upcoming bookings, optionally filtered by calendar.
func ListBookings(bookings *storage.BookingRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var (
			list []models.Booking
			err  error
		)
		if calendarID := r.URL.Query().Get("calendar"); calendarID != "" {
			list, err = bookings.ListByCalendar(ctx, calendarID)
		} else {
			list, err = bookings.ListUpcoming(ctx, time.Now().UTC())
		}
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list bookings")
			return
		}

		if list == nil {
			list = []models.Booking{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}

// GetBooking returns one booking by id.
func GetBooking(bookings *storage.BookingRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		booking, err := bookings.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query booking")
			return
		}
		if booking == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Booking not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(booking)
	}
}

// BookingTimes is one lock's effective activation window for a booking.
type BookingTimes struct {
	LockID       string     `json:"lock_id"`
	LockName     string     `json:"lock_name"`
	ActivateAt   *time.Time `json:"activate_at,omitempty"`
	DeactivateAt *time.Time `json:"deactivate_at,omitempty"`
	Overridden   bool       `json:"overridden"`
}

// GetBookingTimes returns the resolved activation window on every lock
// serving the booking's calendar, overrides applied.
func GetBookingTimes(bookings *storage.BookingRepository, locks *storage.LockRepository, layout *config.Layout) http.HandlerFunc {
	resolver := code.NewResolver(time.Local)

	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ctx := r.Context()

		booking, err := bookings.GetByID(ctx, id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query booking")
			return
		}
		if booking == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Booking not found")
			return
		}

		times := []BookingTimes{}
		for _, ll := range layout.LocksForCalendar(booking.CalendarID) {
			lock, err := locks.GetByID(ctx, ll.ID)
			if err != nil || lock == nil {
				continue
			}

			override, err := bookings.GetOverride(ctx, booking.ID, lock.ID)
			if err != nil {
				middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query override")
				return
			}

			entry := BookingTimes{
				LockID:     lock.ID,
				LockName:   lock.Name,
				Overridden: override != nil,
			}
			if win := resolver.Resolve(booking, lock, override); !win.Empty() {
				activate, deactivate := win.ActivateAt, win.DeactivateAt
				entry.ActivateAt = &activate
				entry.DeactivateAt = &deactivate
			}
			times = append(times, entry)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(times)
	}
}

// DisableResponse reports the batch created by a code disable.
type DisableResponse struct {
	BatchID string `json:"batch_id"`
}

// DisableBookingCode suppresses a booking's code and clears it from every
// slot holding it.
func DisableBookingCode(orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		batchID, err := orch.DisableBookingCode(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrValidation, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(DisableResponse{BatchID: batchID})
	}
}

// EnableBookingCode lifts a booking's code suppression.
func EnableBookingCode(orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := orch.EnableBookingCode(r.Context(), id); err != nil {
			middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrValidation, err.Error())
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// ListOverrides returns the time overrides stored for one booking.
func ListOverrides(bookings *storage.BookingRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		overrides, err := bookings.ListOverrides(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list overrides")
			return
		}

		if overrides == nil {
			overrides = []models.TimeOverride{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(overrides)
	}
}

// OverrideRequest is the body for storing a time override. A nil bound
// falls back to the lock-type default.
type OverrideRequest struct {
	ActivateAt   *time.Time `json:"activate_at,omitempty"`
	DeactivateAt *time.Time `json:"deactivate_at,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	CreatedBy    *string    `json:"created_by,omitempty"`
}

// PutOverride stores a time override for one booking on one lock and
// reconciles so the changed window takes effect immediately.
func PutOverride(orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		var req OverrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		override := &models.TimeOverride{
			BookingID:    vars["id"],
			LockID:       vars["lockId"],
			ActivateAt:   req.ActivateAt,
			DeactivateAt: req.DeactivateAt,
			Notes:        req.Notes,
			CreatedBy:    req.CreatedBy,
		}

		if err := orch.SetOverride(r.Context(), override); err != nil {
			middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrValidation, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(override)
	}
}

// DeleteOverride removes a time override and reconciles back to the
// lock-type default window.
func DeleteOverride(bookings *storage.BookingRepository, orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		ctx := r.Context()

		if err := bookings.DeleteOverride(ctx, vars["id"], vars["lockId"]); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to delete override")
			return
		}

		if err := orch.Reconcile(ctx); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to reconcile")
			return
		}
		orch.DispatchDue(ctx)

		w.WriteHeader(http.StatusNoContent)
	}
}
