package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

// OperationRepository provides data access for sync operations.
type OperationRepository struct {
	BaseRepository
}

// NewOperationRepository creates a new operation repository.
func NewOperationRepository(db *DB) *OperationRepository {
	return &OperationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const operationColumns = `id, lock_id, slot_number, action, desired_code, state,
	attempt_count, next_retry_at, last_error, booking_id, batch_id, dismissed_at,
	created_at, updated_at`

func scanOperation(row interface{ Scan(...any) error }) (*models.SyncOperation, error) {
	op := &models.SyncOperation{}
	err := row.Scan(
		&op.ID, &op.LockID, &op.SlotNumber, &op.Action, &op.DesiredCode, &op.State,
		&op.AttemptCount, &op.NextRetryAt, &op.LastError, &op.BookingID, &op.BatchID,
		&op.DismissedAt, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// Create persists a new sync operation in the pending state.
func (r *OperationRepository) Create(ctx context.Context, op *models.SyncOperation) error {
	if op.ID == "" {
		op.ID = GenerateID()
	}
	if op.State == "" {
		op.State = models.OpStatePending
	}
	now := r.Now()
	op.CreatedAt = now
	op.UpdatedAt = now

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO sync_operations (id, lock_id, slot_number, action, desired_code, state,
			attempt_count, next_retry_at, last_error, booking_id, batch_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.LockID, op.SlotNumber, op.Action, op.DesiredCode, op.State,
		op.AttemptCount, op.NextRetryAt, op.LastError, op.BookingID, op.BatchID,
		op.CreatedAt, op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting sync operation: %w", err)
	}
	return nil
}

// GetByID retrieves a sync operation by its ID.
func (r *OperationRepository) GetByID(ctx context.Context, id string) (*models.SyncOperation, error) {
	row := r.DB().QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM sync_operations WHERE id = ?`, id)

	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying sync operation: %w", err)
	}
	return op, nil
}

// GetActive retrieves the non-terminal operation for a slot, if one exists.
// The engine guarantees at most one.
func (r *OperationRepository) GetActive(ctx context.Context, lockID string, slotNumber int) (*models.SyncOperation, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+operationColumns+` FROM sync_operations
		WHERE lock_id = ? AND slot_number = ? AND state IN (?, ?)
		ORDER BY created_at LIMIT 1
	`, lockID, slotNumber, models.OpStatePending, models.OpStateInFlight)

	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active operation: %w", err)
	}
	return op, nil
}

// ListDue retrieves pending operations eligible for dispatch at the given
// time, oldest first so per-slot ordering is preserved.
func (r *OperationRepository) ListDue(ctx context.Context, now time.Time) ([]models.SyncOperation, error) {
	return r.list(ctx, `
		SELECT `+operationColumns+` FROM sync_operations
		WHERE state = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at
	`, models.OpStatePending, now)
}

// ListFailed retrieves failed operations that have not been dismissed,
// newest first.
func (r *OperationRepository) ListFailed(ctx context.Context) ([]models.SyncOperation, error) {
	return r.list(ctx, `
		SELECT `+operationColumns+` FROM sync_operations
		WHERE state = ? AND dismissed_at IS NULL
		ORDER BY updated_at DESC
	`, models.OpStateFailed)
}

// ListByBatch retrieves all operations issued under a batch id.
func (r *OperationRepository) ListByBatch(ctx context.Context, batchID string) ([]models.SyncOperation, error) {
	return r.list(ctx, `
		SELECT `+operationColumns+` FROM sync_operations
		WHERE batch_id = ? ORDER BY created_at
	`, batchID)
}

// ListRecent retrieves the most recently updated operations up to limit.
func (r *OperationRepository) ListRecent(ctx context.Context, limit int) ([]models.SyncOperation, error) {
	return r.list(ctx, `
		SELECT `+operationColumns+` FROM sync_operations
		ORDER BY updated_at DESC LIMIT ?
	`, limit)
}

func (r *OperationRepository) list(ctx context.Context, query string, args ...any) ([]models.SyncOperation, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sync operations: %w", err)
	}
	defer rows.Close()

	var ops []models.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// Update persists the mutable fields of an operation.
func (r *OperationRepository) Update(ctx context.Context, op *models.SyncOperation) error {
	op.UpdatedAt = r.Now()
	res, err := r.DB().ExecContext(ctx, `
		UPDATE sync_operations SET
			action = ?, desired_code = ?, state = ?, attempt_count = ?,
			next_retry_at = ?, last_error = ?, booking_id = ?, batch_id = ?,
			dismissed_at = ?, updated_at = ?
		WHERE id = ?
	`, op.Action, op.DesiredCode, op.State, op.AttemptCount,
		op.NextRetryAt, op.LastError, op.BookingID, op.BatchID,
		op.DismissedAt, op.UpdatedAt, op.ID)
	if err != nil {
		return fmt.Errorf("updating sync operation: %w", err)
	}
	return requireRow(res, "sync operation", op.ID)
}

// ClaimInFlight transitions a pending operation to in_flight. It returns
// false when the operation was not pending, so two dispatchers never run
// the same operation.
func (r *OperationRepository) ClaimInFlight(ctx context.Context, id string) (bool, error) {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE sync_operations SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, models.OpStateInFlight, r.Now(), id, models.OpStatePending)
	if err != nil {
		return false, fmt.Errorf("claiming operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Dismiss hides a failed operation from the failed list. Audit history is
// untouched.
func (r *OperationRepository) Dismiss(ctx context.Context, id string) error {
	now := r.Now()
	res, err := r.DB().ExecContext(ctx, `
		UPDATE sync_operations SET dismissed_at = ?, updated_at = ?
		WHERE id = ? AND state = ? AND dismissed_at IS NULL
	`, now, now, id, models.OpStateFailed)
	if err != nil {
		return fmt.Errorf("dismissing operation: %w", err)
	}
	return requireRow(res, "failed sync operation", id)
}

// BatchSummary counts the operations in a batch by state.
func (r *OperationRepository) BatchSummary(ctx context.Context, batchID string) (*models.BatchSummary, error) {
	ops, err := r.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}

	summary := &models.BatchSummary{BatchID: batchID, Total: len(ops)}
	for _, op := range ops {
		switch op.State {
		case models.OpStateSucceeded:
			summary.Succeeded++
		case models.OpStateFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

// CountByState returns the number of operations in each state.
func (r *OperationRepository) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT state, COUNT(*) FROM sync_operations GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("counting operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
