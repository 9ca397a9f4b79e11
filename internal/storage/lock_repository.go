package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rental-code-manager/backend/internal/config"
	"github.com/rental-code-manager/backend/internal/storage/models"
)

// LockRepository provides data access for locks and their code slots.
type LockRepository struct {
	BaseRepository
}

// NewLockRepository creates a new lock repository.
func NewLockRepository(db *DB) *LockRepository {
	return &LockRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// SeedFromLayout inserts locks from the layout that do not yet exist,
// creating all 20 code slots for each new lock. A lock and its slots are
// written in one transaction so a half-seeded lock never persists.
// Existing locks keep their stored codes and slot state.
func (r *LockRepository) SeedFromLayout(ctx context.Context, layout *config.Layout) error {
	for _, lc := range layout.Locks {
		existing, err := r.GetByID(ctx, lc.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		now := r.Now()
		err = r.Transaction(func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO locks (id, house_code, entity_id, name, lock_type, stagger_minutes, auto_lock, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
			`, lc.ID, lc.HouseCode, lc.EntityID, lc.Name, lc.LockType, lc.StaggerMinutes, now, now)
			if err != nil {
				return fmt.Errorf("inserting lock %s: %w", lc.ID, err)
			}

			for slot := 1; slot <= models.MaxSlotNumber; slot++ {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO slots (lock_id, slot_number, updated_at) VALUES (?, ?, ?)
				`, lc.ID, slot, now)
				if err != nil {
					return fmt.Errorf("inserting slot %d for lock %s: %w", slot, lc.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

const lockColumns = `id, house_code, entity_id, name, lock_type, stagger_minutes, auto_lock, master_code, emergency_code, created_at, updated_at`

func scanLock(row interface{ Scan(...any) error }) (*models.Lock, error) {
	lock := &models.Lock{}
	err := row.Scan(
		&lock.ID, &lock.HouseCode, &lock.EntityID, &lock.Name, &lock.LockType,
		&lock.StaggerMinutes, &lock.AutoLock, &lock.MasterCode, &lock.EmergencyCode,
		&lock.CreatedAt, &lock.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// GetByID retrieves a lock by its ID.
func (r *LockRepository) GetByID(ctx context.Context, id string) (*models.Lock, error) {
	row := r.DB().QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE id = ?`, id)

	lock, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying lock: %w", err)
	}
	return lock, nil
}

// List retrieves all locks ordered by house and name.
func (r *LockRepository) List(ctx context.Context) ([]models.Lock, error) {
	rows, err := r.DB().QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks ORDER BY house_code, name`)
	if err != nil {
		return nil, fmt.Errorf("querying locks: %w", err)
	}
	defer rows.Close()

	var locks []models.Lock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lock: %w", err)
		}
		locks = append(locks, *lock)
	}
	return locks, rows.Err()
}

// UpdateMasterCode stores the master code for a lock.
func (r *LockRepository) UpdateMasterCode(ctx context.Context, lockID, code string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE locks SET master_code = ?, updated_at = ? WHERE id = ?
	`, code, r.Now(), lockID)
	if err != nil {
		return fmt.Errorf("updating master code: %w", err)
	}
	return nil
}

// UpdateEmergencyCode stores the emergency code for a lock.
func (r *LockRepository) UpdateEmergencyCode(ctx context.Context, lockID, code string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE locks SET emergency_code = ?, updated_at = ? WHERE id = ?
	`, code, r.Now(), lockID)
	if err != nil {
		return fmt.Errorf("updating emergency code: %w", err)
	}
	return nil
}

// UpdateAutoLock toggles the auto-lock flag for a lock.
func (r *LockRepository) UpdateAutoLock(ctx context.Context, lockID string, enabled bool) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE locks SET auto_lock = ?, updated_at = ? WHERE id = ?
	`, enabled, r.Now(), lockID)
	if err != nil {
		return fmt.Errorf("updating auto-lock: %w", err)
	}
	return nil
}

// ListSlots retrieves all slots for a lock ordered by slot number.
func (r *LockRepository) ListSlots(ctx context.Context, lockID string) ([]models.Slot, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT lock_id, slot_number, current_code, assigned_code, updated_at, last_synced_at
		FROM slots WHERE lock_id = ? ORDER BY slot_number
	`, lockID)
	if err != nil {
		return nil, fmt.Errorf("querying slots: %w", err)
	}
	defer rows.Close()

	var slots []models.Slot
	for rows.Next() {
		var s models.Slot
		if err := rows.Scan(&s.LockID, &s.SlotNumber, &s.CurrentCode, &s.AssignedCode, &s.UpdatedAt, &s.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// GetSlot retrieves a single slot.
func (r *LockRepository) GetSlot(ctx context.Context, lockID string, slotNumber int) (*models.Slot, error) {
	var s models.Slot
	err := r.DB().QueryRowContext(ctx, `
		SELECT lock_id, slot_number, current_code, assigned_code, updated_at, last_synced_at
		FROM slots WHERE lock_id = ? AND slot_number = ?
	`, lockID, slotNumber).Scan(&s.LockID, &s.SlotNumber, &s.CurrentCode, &s.AssignedCode, &s.UpdatedAt, &s.LastSyncedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying slot: %w", err)
	}
	return &s, nil
}

// UpdateSlotAssigned records the desired code pending delivery for a slot.
func (r *LockRepository) UpdateSlotAssigned(ctx context.Context, lockID string, slotNumber int, code *string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE slots SET assigned_code = ?, updated_at = ?
		WHERE lock_id = ? AND slot_number = ?
	`, code, r.Now(), lockID, slotNumber)
	if err != nil {
		return fmt.Errorf("updating assigned code: %w", err)
	}
	return nil
}

// ConfirmSlotCode records a confirmed delivery: current_code takes the
// delivered value and the sync timestamp is updated.
func (r *LockRepository) ConfirmSlotCode(ctx context.Context, lockID string, slotNumber int, code *string) error {
	now := r.Now()
	_, err := r.DB().ExecContext(ctx, `
		UPDATE slots SET current_code = ?, assigned_code = NULL, updated_at = ?, last_synced_at = ?
		WHERE lock_id = ? AND slot_number = ?
	`, code, now, now, lockID, slotNumber)
	if err != nil {
		return fmt.Errorf("confirming slot code: %w", err)
	}
	return nil
}
