package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rental-code-manager/backend/internal/api/middleware"
	"github.com/rental-code-manager/backend/internal/storage"
	"github.com/rental-code-manager/backend/internal/storage/models"
	enginesync "github.com/rental-code-manager/backend/internal/sync"
)

// BatchResponse reports a freshly created batch.
type BatchResponse struct {
	BatchID string `json:"batch_id"`
}

// GetBatchSummary returns aggregate counts for one batch.
func GetBatchSummary(coord *enginesync.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		summary, err := coord.Summary(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to read batch summary")
			return
		}
		if summary == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Batch not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	}
}

// ListBatchOperations returns the operations issued under one batch.
func ListBatchOperations(ops *storage.OperationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		list, err := ops.ListByBatch(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list batch operations")
			return
		}

		if list == nil {
			list = []models.SyncOperation{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}

// RetryBatch re-dispatches every failed operation in a batch.
func RetryBatch(coord *enginesync.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		retried, err := coord.RetryBatch(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RetryAllResponse{Retried: retried})
	}
}

// MasterCodeRequest is the body for a master code rollout.
type MasterCodeRequest struct {
	Code string `json:"code"`
}

// SetMasterCode fans a new master code out to slot 1 of every lock.
func SetMasterCode(coord *enginesync.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MasterCodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		batchID, err := coord.SetMasterCode(r.Context(), req.Code)
		if err != nil {
			middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrValidation, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(BatchResponse{BatchID: batchID})
	}
}

// RandomizeEmergencyCodes rotates slot 20 of every lock to a fresh random
// code.
func RandomizeEmergencyCodes(coord *enginesync.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := coord.RandomizeEmergencyCodes(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(BatchResponse{BatchID: batchID})
	}
}

// WholeHouseCheckIn runs the whole-house arrival routine for a house.
func WholeHouseCheckIn(coord *enginesync.Coordinator) http.HandlerFunc {
	return wholeHouseRoutine(coord.WholeHouseCheckIn)
}

// WholeHouseCheckOut runs the whole-house departure routine for a house.
func WholeHouseCheckOut(coord *enginesync.Coordinator) http.HandlerFunc {
	return wholeHouseRoutine(coord.WholeHouseCheckOut)
}

func wholeHouseRoutine(run func(ctx context.Context, houseCode string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		house := mux.Vars(r)["house"]

		batchID, err := run(r.Context(), house)
		if err != nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(BatchResponse{BatchID: batchID})
	}
}
