package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rental-code-manager/backend/internal/api/middleware"
	"github.com/rental-code-manager/backend/internal/storage"
	"github.com/rental-code-manager/backend/internal/storage/models"
	enginesync "github.com/rental-code-manager/backend/internal/sync"
)

// ListOperations returns recent sync operations, newest first.
func ListOperations(ops *storage.OperationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Limit must be a positive integer")
				return
			}
			limit = n
		}

		list, err := ops.ListRecent(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list operations")
			return
		}

		if list == nil {
			list = []models.SyncOperation{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}

// ListFailedOperations returns the non-dismissed failed operations.
func ListFailedOperations(ops *storage.OperationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := ops.ListFailed(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list failed operations")
			return
		}

		if list == nil {
			list = []models.SyncOperation{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}

// RetryOperation re-dispatches one operation immediately.
func RetryOperation(orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := orch.RetryOperation(r.Context(), id); err != nil {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, err.Error())
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// RetryAllResponse reports how many operations were re-dispatched.
type RetryAllResponse struct {
	Retried int `json:"retried"`
}

// RetryAllFailed re-dispatches every non-dismissed failed operation.
func RetryAllFailed(orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		retried, err := orch.RetryAllFailed(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to retry operations")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RetryAllResponse{Retried: retried})
	}
}

// DismissOperation hides a failed operation from the operator queue.
func DismissOperation(orch *enginesync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := orch.DismissOperation(r.Context(), id); err != nil {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
