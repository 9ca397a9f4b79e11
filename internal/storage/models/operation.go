package models

import (
	"time"
)

// Sync operation states. An operation is terminal once it reaches
// succeeded, or failed with its retry budget exhausted.
const (
	OpStatePending   = "pending"
	OpStateInFlight  = "in_flight"
	OpStateSucceeded = "succeeded"
	OpStateFailed    = "failed"
)

// Sync operation actions. The check-in and check-out actions address the
// lock itself (auto-lock plus engage or disengage) and carry no code.
const (
	OpActionSet      = "set"
	OpActionClear    = "clear"
	OpActionCheckIn  = "check_in"
	OpActionCheckOut = "check_out"
)

// SyncOperation is the retry unit: one desired change to one slot on one
// lock. At most one non-terminal operation exists per (lock, slot).
type SyncOperation struct {
	ID           string     `json:"id"`
	LockID       string     `json:"lock_id"`
	SlotNumber   int        `json:"slot_number"`
	Action       string     `json:"action"`
	DesiredCode  *string    `json:"desired_code,omitempty"`
	State        string     `json:"state"`
	AttemptCount int        `json:"attempt_count"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	BookingID    *string    `json:"booking_id,omitempty"`
	BatchID      *string    `json:"batch_id,omitempty"`
	DismissedAt  *time.Time `json:"dismissed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Terminal reports whether the operation will never be dispatched again
// automatically.
func (o *SyncOperation) Terminal() bool {
	return o.State == OpStateSucceeded || o.State == OpStateFailed
}

// Due reports whether a pending operation is eligible for dispatch at now.
func (o *SyncOperation) Due(now time.Time) bool {
	if o.State != OpStatePending {
		return false
	}
	return o.NextRetryAt == nil || !o.NextRetryAt.After(now)
}

// AuditEntry is an immutable record of one engine action. Entries are
// append-only; dismissing a failed operation never removes its entries.
type AuditEntry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	LockID       *string   `json:"lock_id,omitempty"`
	SlotNumber   *int      `json:"slot_number,omitempty"`
	BookingID    *string   `json:"booking_id,omitempty"`
	Code         *string   `json:"code,omitempty"`
	Details      *string   `json:"details,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	BatchID      *string   `json:"batch_id,omitempty"`
}

// Audit action labels used by the engine.
const (
	AuditOpCreated        = "op_created"
	AuditCodeSet          = "code_set"
	AuditCodeCleared      = "code_cleared"
	AuditSyncFailed       = "code_sync_failed"
	AuditBookingConflict  = "booking_conflict"
	AuditUnmappedBooking  = "unmapped_booking"
	AuditCodeFinalized    = "code_finalized"
	AuditCodeDisabled     = "code_disabled"
	AuditCodeEnabled      = "code_enabled"
	AuditMasterCodeSet    = "master_code_set"
	AuditEmergencyRotated = "emergency_code_randomized"
	AuditLockAction       = "lock_action"
	AuditWholeHouse       = "whole_house_routine"
	AuditManagedSlotWrite = "managed_slot_write"
	AuditOverrideSet      = "time_override_set"
)

// BatchSummary aggregates the operations issued under one batch id.
type BatchSummary struct {
	BatchID   string `json:"batch_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Pending   int    `json:"pending"`
}

// Done reports whether every operation in the batch is terminal.
func (b *BatchSummary) Done() bool {
	return b.Pending == 0
}
