// Package audit records the engine's immutable action history.
package audit

import (
	"context"
	"log"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

// Store is the append-only sink audit entries are written to.
type Store interface {
	Append(ctx context.Context, e *models.AuditEntry) error
}

// Recorder appends audit entries. A failed append is logged and swallowed
// so auditing can never break the reconciliation loop.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder writing to the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends an entry.
func (r *Recorder) Record(ctx context.Context, e *models.AuditEntry) {
	if err := r.store.Append(ctx, e); err != nil {
		log.Printf("Failed to record audit entry %s: %v", e.Action, err)
	}
}

// Entry starts a successful entry for an action.
func Entry(action string) *models.AuditEntry {
	return &models.AuditEntry{Action: action, Success: true}
}

// ForOperation builds an entry describing a sync operation.
func ForOperation(action string, op *models.SyncOperation) *models.AuditEntry {
	e := Entry(action)
	lockID := op.LockID
	slot := op.SlotNumber
	e.LockID = &lockID
	e.SlotNumber = &slot
	e.BookingID = op.BookingID
	e.BatchID = op.BatchID
	e.Code = op.DesiredCode
	return e
}

// Failed marks an entry unsuccessful with the given message.
func Failed(e *models.AuditEntry, message string) *models.AuditEntry {
	e.Success = false
	e.ErrorMessage = &message
	return e
}

// WithDetails attaches free-text details to an entry.
func WithDetails(e *models.AuditEntry, details string) *models.AuditEntry {
	e.Details = &details
	return e
}
