package models

import (
	"time"
)

// Booking is a reservation sourced from a calendar feed. Bookings are
// matched across refreshes by content key (guest, check-in, check-out)
// because some channels rewrite event UIDs on every fetch.
type Booking struct {
	ID            string     `json:"id"`
	CalendarID    string     `json:"calendar_id"`
	EventUID      string     `json:"event_uid"`
	GuestName     string     `json:"guest_name"`
	Phone         *string    `json:"phone,omitempty"`
	Channel       *string    `json:"channel,omitempty"`
	ReservationID *string    `json:"reservation_id,omitempty"`
	CheckInDate   time.Time  `json:"check_in_date"`
	CheckOutDate  time.Time  `json:"check_out_date"`
	IsBlocked     bool       `json:"is_blocked"`
	CodeDisabled  bool       `json:"code_disabled"`
	LockedCode    *string    `json:"locked_code,omitempty"`
	CodeLockedAt  *time.Time `json:"code_locked_at,omitempty"`
	FallbackCode  *string    `json:"fallback_code,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CodeLocked reports whether the booking's code has been finalized and
// must no longer be regenerated.
func (b *Booking) CodeLocked() bool {
	return b.LockedCode != nil && *b.LockedCode != ""
}

// ContentKey identifies a booking independent of its event UID.
func (b *Booking) ContentKey() string {
	return ContentKey(b.GuestName, b.CheckInDate, b.CheckOutDate)
}

// ContentKey builds the dedup key used to match bookings across fetches.
func ContentKey(guestName string, checkIn, checkOut time.Time) string {
	return guestName + "|" + checkIn.Format("2006-01-02") + "|" + checkOut.Format("2006-01-02")
}

// TimeOverride is a manual adjustment of the activation window for one
// booking on one lock. A nil bound means "use the lock-type default."
type TimeOverride struct {
	ID           string     `json:"id"`
	BookingID    string     `json:"booking_id"`
	LockID       string     `json:"lock_id"`
	ActivateAt   *time.Time `json:"activate_at,omitempty"`
	DeactivateAt *time.Time `json:"deactivate_at,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	CreatedBy    *string    `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BookingRecord is a booking as parsed from a calendar feed, before it is
// persisted.
type BookingRecord struct {
	UID           string
	GuestName     string
	Phone         string
	Channel       string
	ReservationID string
	CheckInDate   time.Time
	CheckOutDate  time.Time
	IsBlocked     bool
}
