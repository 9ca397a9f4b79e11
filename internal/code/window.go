package code

import (
	"time"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

// Window is the interval during which a slot's code should be present on
// the device. A zero Window means the code is never active.
type Window struct {
	ActivateAt   time.Time
	DeactivateAt time.Time
}

// Empty reports whether the window admits no activation at all.
func (w Window) Empty() bool {
	return w.ActivateAt.IsZero() && w.DeactivateAt.IsZero()
}

// Active reports whether now falls within [ActivateAt, DeactivateAt).
func (w Window) Active(now time.Time) bool {
	if w.Empty() {
		return false
	}
	return !now.Before(w.ActivateAt) && now.Before(w.DeactivateAt)
}

// Resolver computes the effective activation window for a booking on a
// lock, applying manual overrides over lock-type defaults.
type Resolver struct {
	loc *time.Location
}

// NewResolver creates a resolver that composes wall-clock bounds in the
// given location.
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{loc: loc}
}

// Resolve computes the window for a booking on a lock. Each bound
// independently takes the override value when present, otherwise the
// lock-type default. Defaults are computed from the booking's check-in and
// check-out dates, never from the current time. A disabled booking
// resolves to an empty window regardless of override.
func (r *Resolver) Resolve(booking *models.Booking, lock *models.Lock, override *models.TimeOverride) Window {
	if booking.CodeDisabled || booking.IsBlocked {
		return Window{}
	}

	activate, deactivate, ok := r.defaults(lock.LockType, booking.CheckInDate, booking.CheckOutDate)
	if !ok {
		return Window{}
	}

	if override != nil {
		if override.ActivateAt != nil {
			activate = *override.ActivateAt
		}
		if override.DeactivateAt != nil {
			deactivate = *override.DeactivateAt
		}
	}

	if !activate.Before(deactivate) {
		return Window{}
	}
	return Window{ActivateAt: activate, DeactivateAt: deactivate}
}

// defaults returns the lock-type default bounds. Back door locks carry
// the master code only and never get a guest window.
func (r *Resolver) defaults(lockType string, checkIn, checkOut time.Time) (time.Time, time.Time, bool) {
	switch lockType {
	case models.LockTypeRoom:
		return r.at(checkIn, 12, 0), r.at(checkOut.AddDate(0, 0, 1), 11, 0), true
	case models.LockTypeBathroom, models.LockTypeKitchen:
		return r.at(checkIn, 15, 0), r.at(checkOut.AddDate(0, 0, 1), 11, 0), true
	case models.LockTypeFront:
		return r.at(checkIn, 11, 0), r.at(checkOut, 14, 0), true
	case models.LockTypeStorage:
		return r.at(checkIn, 1, 0), r.at(checkOut, 23, 59), true
	default:
		return time.Time{}, time.Time{}, false
	}
}

func (r *Resolver) at(date time.Time, hour, minute int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, r.loc)
}
