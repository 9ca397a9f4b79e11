package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rental-code-manager/backend/internal/api/middleware"
	"github.com/rental-code-manager/backend/internal/storage"
	"github.com/rental-code-manager/backend/internal/storage/models"
)

func auditLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Limit must be a positive integer")
			return 0, false
		}
		limit = n
	}
	return limit, true
}

// ListAudit returns the most recent audit entries.
func ListAudit(audit *storage.AuditRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := auditLimit(w, r)
		if !ok {
			return
		}

		entries, err := audit.List(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list audit entries")
			return
		}

		writeAudit(w, entries)
	}
}

// ListAuditByBatch returns the audit entries recorded under one batch.
func ListAuditByBatch(audit *storage.AuditRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		entries, err := audit.ListByBatch(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list audit entries")
			return
		}

		writeAudit(w, entries)
	}
}

// ListAuditByLock returns the most recent audit entries for one lock.
func ListAuditByLock(audit *storage.AuditRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		limit, ok := auditLimit(w, r)
		if !ok {
			return
		}

		entries, err := audit.ListByLock(r.Context(), id, limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list audit entries")
			return
		}

		writeAudit(w, entries)
	}
}

func writeAudit(w http.ResponseWriter, entries []models.AuditEntry) {
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
