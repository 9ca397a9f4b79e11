package code

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testBooking() *models.Booking {
	return &models.Booking{
		GuestName:    "Alice",
		CheckInDate:  date(2024, time.June, 1),
		CheckOutDate: date(2024, time.June, 3),
	}
}

func TestResolveRoomDefaults(t *testing.T) {
	r := NewResolver(time.UTC)
	lock := &models.Lock{ID: "room_1", LockType: models.LockTypeRoom}

	w := r.Resolve(testBooking(), lock, nil)

	assert.Equal(t, time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC), w.ActivateAt)
	assert.Equal(t, time.Date(2024, time.June, 4, 11, 0, 0, 0, time.UTC), w.DeactivateAt)
}

func TestResolveTypeDefaults(t *testing.T) {
	r := NewResolver(time.UTC)

	tests := []struct {
		lockType       string
		wantActivate   time.Time
		wantDeactivate time.Time
	}{
		{
			lockType:       models.LockTypeBathroom,
			wantActivate:   time.Date(2024, time.June, 1, 15, 0, 0, 0, time.UTC),
			wantDeactivate: time.Date(2024, time.June, 4, 11, 0, 0, 0, time.UTC),
		},
		{
			lockType:       models.LockTypeKitchen,
			wantActivate:   time.Date(2024, time.June, 1, 15, 0, 0, 0, time.UTC),
			wantDeactivate: time.Date(2024, time.June, 4, 11, 0, 0, 0, time.UTC),
		},
		{
			lockType:       models.LockTypeFront,
			wantActivate:   time.Date(2024, time.June, 1, 11, 0, 0, 0, time.UTC),
			wantDeactivate: time.Date(2024, time.June, 3, 14, 0, 0, 0, time.UTC),
		},
		{
			lockType:       models.LockTypeStorage,
			wantActivate:   time.Date(2024, time.June, 1, 1, 0, 0, 0, time.UTC),
			wantDeactivate: time.Date(2024, time.June, 3, 23, 59, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.lockType, func(t *testing.T) {
			lock := &models.Lock{ID: "lock", LockType: tt.lockType}
			w := r.Resolve(testBooking(), lock, nil)
			assert.Equal(t, tt.wantActivate, w.ActivateAt)
			assert.Equal(t, tt.wantDeactivate, w.DeactivateAt)
		})
	}
}

func TestResolveBackDoorHasNoGuestWindow(t *testing.T) {
	r := NewResolver(time.UTC)
	lock := &models.Lock{ID: "back", LockType: models.LockTypeBack}

	w := r.Resolve(testBooking(), lock, nil)
	assert.True(t, w.Empty())
}

func TestResolveOverrideSingleBound(t *testing.T) {
	r := NewResolver(time.UTC)
	lock := &models.Lock{ID: "room_1", LockType: models.LockTypeRoom}

	early := time.Date(2024, time.June, 1, 9, 30, 0, 0, time.UTC)
	override := &models.TimeOverride{ActivateAt: &early}

	w := r.Resolve(testBooking(), lock, override)

	// Overridden bound moves; the other still equals the type default.
	assert.Equal(t, early, w.ActivateAt)
	assert.Equal(t, time.Date(2024, time.June, 4, 11, 0, 0, 0, time.UTC), w.DeactivateAt)
}

func TestResolveOverrideBothBounds(t *testing.T) {
	r := NewResolver(time.UTC)
	lock := &models.Lock{ID: "room_1", LockType: models.LockTypeRoom}

	activate := time.Date(2024, time.June, 2, 8, 0, 0, 0, time.UTC)
	deactivate := time.Date(2024, time.June, 2, 20, 0, 0, 0, time.UTC)
	override := &models.TimeOverride{ActivateAt: &activate, DeactivateAt: &deactivate}

	w := r.Resolve(testBooking(), lock, override)
	assert.Equal(t, activate, w.ActivateAt)
	assert.Equal(t, deactivate, w.DeactivateAt)
}

func TestResolveDisabledBookingIsEmpty(t *testing.T) {
	r := NewResolver(time.UTC)
	lock := &models.Lock{ID: "room_1", LockType: models.LockTypeRoom}

	booking := testBooking()
	booking.CodeDisabled = true

	early := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	w := r.Resolve(booking, lock, &models.TimeOverride{ActivateAt: &early})
	assert.True(t, w.Empty())
}

func TestResolveBlockedBookingIsEmpty(t *testing.T) {
	r := NewResolver(time.UTC)
	lock := &models.Lock{ID: "room_1", LockType: models.LockTypeRoom}

	booking := testBooking()
	booking.IsBlocked = true

	w := r.Resolve(booking, lock, nil)
	assert.True(t, w.Empty())
}

func TestResolveInvertedOverrideIsEmpty(t *testing.T) {
	r := NewResolver(time.UTC)
	lock := &models.Lock{ID: "room_1", LockType: models.LockTypeRoom}

	activate := time.Date(2024, time.June, 5, 12, 0, 0, 0, time.UTC)
	deactivate := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	w := r.Resolve(testBooking(), lock, &models.TimeOverride{
		ActivateAt:   &activate,
		DeactivateAt: &deactivate,
	})
	assert.True(t, w.Empty())
}

func TestWindowActive(t *testing.T) {
	w := Window{
		ActivateAt:   time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC),
		DeactivateAt: time.Date(2024, time.June, 4, 11, 0, 0, 0, time.UTC),
	}

	assert.False(t, w.Active(time.Date(2024, time.June, 1, 11, 59, 0, 0, time.UTC)))
	assert.True(t, w.Active(time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)))
	assert.True(t, w.Active(time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Active(time.Date(2024, time.June, 4, 11, 0, 0, 0, time.UTC)))
	assert.False(t, Window{}.Active(time.Date(2024, time.June, 2, 0, 0, 0, 0, time.UTC)))
}
