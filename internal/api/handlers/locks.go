package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rental-code-manager/backend/internal/api/middleware"
	"github.com/rental-code-manager/backend/internal/audit"
	"github.com/rental-code-manager/backend/internal/storage"
	"github.com/rental-code-manager/backend/internal/storage/models"
	enginesync "github.com/rental-code-manager/backend/internal/sync"
	"github.com/rental-code-manager/backend/internal/transport"
)

// ListLocks returns all configured locks.
func ListLocks(locks *storage.LockRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := locks.List(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list locks")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}

// GetLock returns one lock by id.
func GetLock(locks *storage.LockRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		lock, err := locks.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query lock")
			return
		}
		if lock == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Lock not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(lock)
	}
}

// ListLockSlots returns the 20 slot states of one lock.
func ListLockSlots(locks *storage.LockRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		lock, err := locks.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query lock")
			return
		}
		if lock == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Lock not found")
			return
		}

		slots, err := locks.ListSlots(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list slots")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(slots)
	}
}

// SetSlotCodeRequest is the body for a direct slot code write.
type SetSlotCodeRequest struct {
	Code string `json:"code"`
}

// SetSlotCode programs a code into a slot directly, outside booking-derived
// state.
func SetSlotCode(orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lockID, slot, ok := slotVars(w, r)
		if !ok {
			return
		}

		var req SetSlotCodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		if err := orch.SetSlotCode(r.Context(), lockID, slot, req.Code); err != nil {
			middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrValidation, err.Error())
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// ClearSlotCode clears a slot directly.
func ClearSlotCode(orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lockID, slot, ok := slotVars(w, r)
		if !ok {
			return
		}

		if err := orch.ClearSlotCode(r.Context(), lockID, slot); err != nil {
			middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrValidation, err.Error())
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// RetrySlot re-sends the desired state for one slot immediately.
func RetrySlot(orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lockID, slot, ok := slotVars(w, r)
		if !ok {
			return
		}

		err := orch.RetrySlot(r.Context(), lockID, slot)
		if errors.Is(err, enginesync.ErrOutsideWindow) {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "Booking window is not open")
			return
		}
		if err != nil {
			middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrValidation, err.Error())
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// AutoLockRequest is the body for toggling a lock's auto-lock behavior.
type AutoLockRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoLock toggles a lock's auto-lock on the device and records the
// new state.
func SetAutoLock(locks *storage.LockRepository, device transport.LockTransport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req AutoLockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		lock, err := locks.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query lock")
			return
		}
		if lock == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Lock not found")
			return
		}

		if err := device.SetAutoLock(r.Context(), lock.EntityID, req.Enabled); err != nil {
			middleware.WriteError(w, http.StatusBadGateway, middleware.ErrInternalError, err.Error())
			return
		}
		if err := locks.UpdateAutoLock(r.Context(), id, req.Enabled); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to record auto-lock state")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// LockActionRequest is the body for an immediate lock or unlock.
type LockActionRequest struct {
	Action string `json:"action"`
}

// LockAction engages or disengages a lock immediately and records the
// action in the audit trail.
func LockAction(locks *storage.LockRepository, device transport.LockTransport, recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ctx := r.Context()

		var req LockActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		lock, err := locks.GetByID(ctx, id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query lock")
			return
		}
		if lock == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Lock not found")
			return
		}

		switch req.Action {
		case "lock":
			err = device.Lock(ctx, lock.EntityID)
		case "unlock":
			err = device.Unlock(ctx, lock.EntityID)
		default:
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Action must be lock or unlock")
			return
		}

		e := audit.Entry(models.AuditLockAction)
		e.LockID = &id
		e = audit.WithDetails(e, req.Action)
		if err != nil {
			recorder.Record(ctx, audit.Failed(e, err.Error()))
			middleware.WriteError(w, http.StatusBadGateway, middleware.ErrInternalError, err.Error())
			return
		}
		recorder.Record(ctx, e)

		w.WriteHeader(http.StatusNoContent)
	}
}

// slotVars extracts and validates the {id} and {slot} route variables.
func slotVars(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	vars := mux.Vars(r)
	slot, err := strconv.Atoi(vars["slot"])
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Slot number must be an integer")
		return "", 0, false
	}
	return vars["id"], slot, true
}
