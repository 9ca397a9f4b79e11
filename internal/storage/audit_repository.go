package storage

import (
	"context"
	"fmt"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

// AuditRepository provides append-only access to the audit log.
type AuditRepository struct {
	BaseRepository
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const auditColumns = `id, timestamp, action, lock_id, slot_number, booking_id, code, details, success, error_message, batch_id`

// Append records an audit entry. Entries are never updated or deleted.
func (r *AuditRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = GenerateID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.Now()
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Timestamp, e.Action, e.LockID, e.SlotNumber, e.BookingID,
		e.Code, e.Details, e.Success, e.ErrorMessage, e.BatchID)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List retrieves the most recent audit entries up to limit.
func (r *AuditRepository) List(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return r.list(ctx,
		`SELECT `+auditColumns+` FROM audit_log ORDER BY timestamp DESC LIMIT ?`,
		limit)
}

// ListByBatch retrieves audit entries for a batch, oldest first.
func (r *AuditRepository) ListByBatch(ctx context.Context, batchID string) ([]models.AuditEntry, error) {
	return r.list(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE batch_id = ? ORDER BY timestamp`,
		batchID)
}

// ListByLock retrieves the most recent audit entries for a lock up to limit.
func (r *AuditRepository) ListByLock(ctx context.Context, lockID string, limit int) ([]models.AuditEntry, error) {
	return r.list(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE lock_id = ? ORDER BY timestamp DESC LIMIT ?`,
		lockID, limit)
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]models.AuditEntry, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.LockID, &e.SlotNumber,
			&e.BookingID, &e.Code, &e.Details, &e.Success, &e.ErrorMessage, &e.BatchID); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
