// Package models defines the data structures shared across the application.
package models

import (
	"time"
)

// Lock types determine the default activation window for guest codes.
const (
	LockTypeRoom     = "room"
	LockTypeBathroom = "bathroom"
	LockTypeKitchen  = "kitchen"
	LockTypeFront    = "front"
	LockTypeBack     = "back" // master code only, no guest windows
	LockTypeStorage  = "storage"
)

// Reserved slot numbers, uniform across every lock. RoutineSlot marks
// operations addressed to the lock itself rather than a code slot.
const (
	RoutineSlot       = 0
	MasterCodeSlot    = 1
	EmergencyCodeSlot = 20
	MaxSlotNumber     = 20
)

// Lock represents a physical lock device managed by the engine.
type Lock struct {
	ID             string    `json:"id"`
	HouseCode      string    `json:"house_code"`
	EntityID       string    `json:"entity_id"`
	Name           string    `json:"name"`
	LockType       string    `json:"lock_type"`
	StaggerMinutes int       `json:"stagger_minutes"`
	AutoLock       bool      `json:"auto_lock"`
	MasterCode     *string   `json:"master_code,omitempty"`
	EmergencyCode  *string   `json:"emergency_code,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsInternal reports whether the lock is inside the house (affected by
// whole-house check-in/check-out routines).
func (l *Lock) IsInternal() bool {
	switch l.LockType {
	case LockTypeRoom, LockTypeBathroom, LockTypeKitchen, LockTypeStorage:
		return true
	}
	return false
}

// Slot is one of the 20 code positions on a lock. CurrentCode is the code
// last confirmed on the device; AssignedCode is the desired code pending
// delivery. CurrentCode changes only when a sync operation succeeds.
type Slot struct {
	LockID       string     `json:"lock_id"`
	SlotNumber   int        `json:"slot_number"`
	CurrentCode  *string    `json:"current_code,omitempty"`
	AssignedCode *string    `json:"assigned_code,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// HasCode reports whether a code is currently confirmed on the device.
func (s *Slot) HasCode() bool {
	return s.CurrentCode != nil && *s.CurrentCode != ""
}
