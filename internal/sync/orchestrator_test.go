package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rental-code-manager/backend/internal/audit"
	"github.com/rental-code-manager/backend/internal/code"
	"github.com/rental-code-manager/backend/internal/config"
	"github.com/rental-code-manager/backend/internal/storage/models"
)

func engineLayout(t *testing.T) *config.Layout {
	t.Helper()

	layout, err := config.ParseLayout([]byte(`
locks:
  - id: room_1
    entity_id: lock.room_1
    name: Room 1
    house: main
    type: room
    calendars: [cal_room_1]
  - id: front_door
    entity_id: lock.front_door
    name: Front Door
    house: main
    type: front
    calendars: [cal_room_1]
calendars:
  - id: cal_room_1
    name: Room 1
    type: room
    url: http://example.com/room1.ics
    slots: {a: 2, b: 3}
`))
	require.NoError(t, err)
	return layout
}

func testSettings() *config.Settings {
	return &config.Settings{
		MaxRetries:         3,
		BackoffBaseSeconds: 30,
		BackoffCapSeconds:  600,
		DispatchTimeoutSec: 5,
		HouseWorkers:       2,
		CodeMinLength:      4,
		CodeMaxLength:      8,
		TieBreak:           config.TieBreakEarliestCheckIn,
	}
}

type engine struct {
	orch  *Orchestrator
	store *memStore
	dev   *fakeTransport
	clock *time.Time
}

// newEngine builds an orchestrator over in-memory stores with a
// controllable clock, seeded with a room lock and a front door.
func newEngine(t *testing.T) *engine {
	t.Helper()

	store := newMemStore()
	dev := newFakeTransport()
	orch := NewOrchestrator(
		store, bookingAdapter{store}, opAdapter{store},
		audit.NewRecorder(store), dev,
		engineLayout(t), testSettings(),
	)

	now := time.Date(2024, time.June, 2, 12, 0, 0, 0, time.UTC)
	clock := &now
	orch.now = func() time.Time { return *clock }
	orch.windows = code.NewResolver(time.UTC)

	store.addLock(&models.Lock{
		ID: "room_1", HouseCode: "main", EntityID: "lock.room_1",
		Name: "Room 1", LockType: models.LockTypeRoom, AutoLock: true,
	})
	store.addLock(&models.Lock{
		ID: "front_door", HouseCode: "main", EntityID: "lock.front_door",
		Name: "Front Door", LockType: models.LockTypeFront, AutoLock: true,
	})

	return &engine{orch: orch, store: store, dev: dev, clock: clock}
}

func (e *engine) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}

// currentBooking is checked in and inside every default window at the
// engine's initial clock (2024-06-02 12:00).
func (e *engine) currentBooking(t *testing.T) (*models.Booking, int) {
	t.Helper()

	booking := &models.Booking{
		CalendarID:   "cal_room_1",
		EventUID:     "evt-1",
		GuestName:    "Alice",
		Phone:        strPtr("+1 555-123-4821"),
		CheckInDate:  time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		CheckOutDate: time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC),
	}
	e.store.addBooking(booking)

	slot, err := e.orch.alloc.SlotFor("cal_room_1", booking.CheckInDate)
	require.NoError(t, err)
	return booking, slot
}

func strPtr(s string) *string { return &s }

func TestReconcileSetsActiveBookingCode(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, slot := e.currentBooking(t)

	require.NoError(t, e.orch.Reconcile(ctx))
	e.orch.DispatchDue(ctx)

	assert.Equal(t, "4821", e.store.currentCode("room_1", slot))
	assert.Equal(t, "4821", e.store.currentCode("front_door", slot))
	assert.Equal(t, "4821", e.dev.deviceCode("lock.room_1", slot))
	assert.Len(t, e.store.auditsByAction(models.AuditOpCreated), 2)
	assert.Len(t, e.store.auditsByAction(models.AuditCodeSet), 2)
}

func TestReconcileIsIdempotent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.currentBooking(t)

	require.NoError(t, e.orch.Reconcile(ctx))
	e.orch.DispatchDue(ctx)

	require.NoError(t, e.orch.Reconcile(ctx))
	e.orch.DispatchDue(ctx)

	counts, err := e.store.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{models.OpStateSucceeded: 2}, counts)
}

func TestReconcileBeforeWindowCreatesNothing(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.store.addBooking(&models.Booking{
		CalendarID:   "cal_room_1",
		GuestName:    "Bob",
		Phone:        strPtr("555-9001"),
		CheckInDate:  time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC),
		CheckOutDate: time.Date(2024, time.July, 3, 0, 0, 0, 0, time.UTC),
	})

	require.NoError(t, e.orch.Reconcile(ctx))

	counts, err := e.store.CountByState(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestRetrySlotOutsideWindow(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	booking := &models.Booking{
		CalendarID:   "cal_room_1",
		GuestName:    "Bob",
		Phone:        strPtr("555-9001"),
		CheckInDate:  time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC),
		CheckOutDate: time.Date(2024, time.July, 3, 0, 0, 0, 0, time.UTC),
	}
	e.store.addBooking(booking)
	slot, err := e.orch.alloc.SlotFor("cal_room_1", booking.CheckInDate)
	require.NoError(t, err)

	err = e.orch.RetrySlot(ctx, "room_1", slot)
	assert.ErrorIs(t, err, ErrOutsideWindow)
}

func TestRetryBudgetThenManualRetry(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.currentBooking(t)

	e.dev.failNext(100)
	require.NoError(t, e.orch.Reconcile(ctx))

	// Three failing attempts exhaust the budget.
	e.orch.DispatchDue(ctx)
	e.advance(time.Minute)
	e.orch.DispatchDue(ctx)
	e.advance(2 * time.Minute)
	e.orch.DispatchDue(ctx)

	failed, err := e.store.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	for _, op := range failed {
		assert.Equal(t, 3, op.AttemptCount)
		assert.Nil(t, op.NextRetryAt)
	}
	assert.Len(t, e.store.auditsByAction(models.AuditSyncFailed), 2)
	assert.NotEmpty(t, e.dev.notices, "terminal failures raise a device notification")

	// A failed operation is never re-dispatched automatically.
	before := e.dev.calls
	e.advance(time.Hour)
	e.orch.DispatchDue(ctx)
	assert.Equal(t, before, e.dev.calls)

	// Manual retry gets one more attempt and succeeds.
	e.dev.failNext(0)
	target := failed[0]
	require.NoError(t, e.orch.RetryOperation(ctx, target.ID))

	op, err := e.store.GetOp(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OpStateSucceeded, op.State)
	assert.Equal(t, "4821", e.store.currentCode(op.LockID, op.SlotNumber))

	failed, err = e.store.ListFailed(ctx)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.NotEmpty(t, e.store.auditsByAction(models.AuditCodeSet))
}

func TestBackoffScheduleOnFailure(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.currentBooking(t)

	e.dev.failNext(100)
	require.NoError(t, e.orch.Reconcile(ctx))
	e.orch.DispatchDue(ctx)

	due, err := e.store.ListDue(ctx, e.orch.now())
	require.NoError(t, err)
	assert.Empty(t, due, "retry must wait out the backoff delay")

	due, err = e.store.ListDue(ctx, e.orch.now().Add(31*time.Second))
	require.NoError(t, err)
	assert.Len(t, due, 2)
	for _, op := range due {
		assert.Equal(t, 1, op.AttemptCount)
		assert.NotNil(t, op.LastError)
	}
}

func TestAtMostOneNonTerminalOperationPerSlot(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.currentBooking(t)

	// Keep operations non-terminal while reconciles race.
	e.dev.failNext(1000)

	var wg gosync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.orch.Reconcile(ctx)
			e.orch.DispatchDue(ctx)
		}()
	}
	wg.Wait()

	for ref, n := range e.store.nonTerminalPerSlot() {
		assert.LessOrEqual(t, n, 1, "slot %v has %d non-terminal operations", ref, n)
	}
}

func TestDismissPreservesAuditTrail(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.currentBooking(t)

	e.dev.failNext(100)
	require.NoError(t, e.orch.Reconcile(ctx))
	for i := 0; i < 3; i++ {
		e.orch.DispatchDue(ctx)
		e.advance(10 * time.Minute)
	}

	failed, err := e.store.ListFailed(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, failed)

	require.NoError(t, e.orch.DismissOperation(ctx, failed[0].ID))

	remaining, err := e.store.ListFailed(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, len(failed)-1)

	op, err := e.store.GetOp(ctx, failed[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, op.DismissedAt)
	assert.Equal(t, models.OpStateFailed, op.State)
	assert.NotEmpty(t, e.store.auditsByAction(models.AuditSyncFailed))
}

func TestOverlappingBookingsTieBreak(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	first := &models.Booking{
		CalendarID:   "cal_room_1",
		GuestName:    "Alice",
		Phone:        strPtr("555-1111"),
		CheckInDate:  time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		CheckOutDate: time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC),
	}
	// Same slot parity, overlapping dates.
	second := &models.Booking{
		CalendarID:   "cal_room_1",
		GuestName:    "Mallory",
		Phone:        strPtr("555-2222"),
		CheckInDate:  time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC),
		CheckOutDate: time.Date(2024, time.June, 6, 0, 0, 0, 0, time.UTC),
	}
	e.store.addBooking(first)
	e.store.addBooking(second)

	slotA, err := e.orch.alloc.SlotFor("cal_room_1", first.CheckInDate)
	require.NoError(t, err)
	slotB, err := e.orch.alloc.SlotFor("cal_room_1", second.CheckInDate)
	require.NoError(t, err)
	require.Equal(t, slotA, slotB)

	require.NoError(t, e.orch.Reconcile(ctx))
	e.orch.DispatchDue(ctx)

	assert.Equal(t, "1111", e.store.currentCode("room_1", slotA))

	conflicts := e.store.auditsByAction(models.AuditBookingConflict)
	require.NotEmpty(t, conflicts)
	assert.Equal(t, second.ID, *conflicts[0].BookingID)
	assert.Contains(t, *conflicts[0].Details, "Alice", "the winning booking is named by guest and dates")
}

func TestDisableAndEnableBookingCode(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, slot := e.currentBooking(t)

	bookings, err := e.store.ListActiveForCalendar(ctx, "cal_room_1", e.orch.now())
	require.NoError(t, err)
	bookingID := bookings[0].ID

	require.NoError(t, e.orch.Reconcile(ctx))
	e.orch.DispatchDue(ctx)
	require.Equal(t, "4821", e.store.currentCode("room_1", slot))

	batchID, err := e.orch.DisableBookingCode(ctx, bookingID)
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	assert.Empty(t, e.store.currentCode("room_1", slot))
	assert.Empty(t, e.store.currentCode("front_door", slot))

	disabled := e.store.auditsByAction(models.AuditCodeDisabled)
	require.Len(t, disabled, 2)
	for _, entry := range disabled {
		require.NotNil(t, entry.BatchID)
		assert.Equal(t, batchID, *entry.BatchID)
	}

	// Re-enabling inside the window re-dispatches immediately.
	require.NoError(t, e.orch.EnableBookingCode(ctx, bookingID))
	assert.Equal(t, "4821", e.store.currentCode("room_1", slot))
}

func TestEnableOutsideWindowSchedulesOnly(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	booking := &models.Booking{
		CalendarID:   "cal_room_1",
		GuestName:    "Bob",
		Phone:        strPtr("555-9001"),
		CheckInDate:  time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC),
		CheckOutDate: time.Date(2024, time.July, 3, 0, 0, 0, 0, time.UTC),
		CodeDisabled: true,
	}
	e.store.addBooking(booking)

	require.NoError(t, e.orch.EnableBookingCode(ctx, booking.ID))

	counts, err := e.store.CountByState(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts, "nothing dispatched before the window opens")

	// Once the window opens, the regular tick programs the code.
	*e.clock = time.Date(2024, time.July, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, e.orch.Reconcile(ctx))
	e.orch.DispatchDue(ctx)

	slot, err := e.orch.alloc.SlotFor("cal_room_1", booking.CheckInDate)
	require.NoError(t, err)
	assert.Equal(t, "9001", e.store.currentCode("room_1", slot))
}

func TestSetAndClearSlotCodeDirect(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.orch.SetSlotCode(ctx, "room_1", 7, "9999"))
	assert.Equal(t, "9999", e.store.currentCode("room_1", 7))
	assert.Equal(t, "9999", e.dev.deviceCode("lock.room_1", 7))

	require.NoError(t, e.orch.ClearSlotCode(ctx, "room_1", 7))
	assert.Empty(t, e.store.currentCode("room_1", 7))
	assert.Empty(t, e.dev.deviceCode("lock.room_1", 7))
}

func TestSetSlotCodeRejectsInvalidInput(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	var verr *code.ValidationError
	assert.ErrorAs(t, e.orch.SetSlotCode(ctx, "room_1", 7, "12"), &verr)
	assert.ErrorAs(t, e.orch.SetSlotCode(ctx, "room_1", 7, "abcd"), &verr)
	assert.ErrorAs(t, e.orch.SetSlotCode(ctx, "room_1", 99, "1234"), &verr)
	assert.Error(t, e.orch.SetSlotCode(ctx, "no_such_lock", 7, "1234"))
}

func TestSetSlotCodeWarnsOnManagedSlot(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	// Slot 2 belongs to cal_room_1's pair; slot 7 is unmanaged.
	require.NoError(t, e.orch.SetSlotCode(ctx, "room_1", 2, "9999"))
	entries := e.store.auditsByAction(models.AuditManagedSlotWrite)
	require.Len(t, entries, 1)
	assert.Contains(t, *entries[0].Details, "cal_room_1")

	require.NoError(t, e.orch.SetSlotCode(ctx, "room_1", 7, "8888"))
	assert.Len(t, e.store.auditsByAction(models.AuditManagedSlotWrite), 1)
}

func TestSetOverrideValidatesBounds(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.currentBooking(t)

	bookings, err := e.store.ListActiveForCalendar(ctx, "cal_room_1", e.orch.now())
	require.NoError(t, err)
	bookingID := bookings[0].ID

	activate := time.Date(2024, time.June, 5, 12, 0, 0, 0, time.UTC)
	deactivate := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	err = e.orch.SetOverride(ctx, &models.TimeOverride{
		BookingID:    bookingID,
		LockID:       "room_1",
		ActivateAt:   &activate,
		DeactivateAt: &deactivate,
	})
	var verr *code.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestOverrideNarrowsWindow(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, slot := e.currentBooking(t)

	bookings, err := e.store.ListActiveForCalendar(ctx, "cal_room_1", e.orch.now())
	require.NoError(t, err)
	bookingID := bookings[0].ID

	require.NoError(t, e.orch.Reconcile(ctx))
	e.orch.DispatchDue(ctx)
	require.Equal(t, "4821", e.store.currentCode("room_1", slot))

	// Deactivate before "now": the room code must be cleared.
	deactivate := time.Date(2024, time.June, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, e.orch.SetOverride(ctx, &models.TimeOverride{
		BookingID:    bookingID,
		LockID:       "room_1",
		DeactivateAt: &deactivate,
	}))

	assert.Empty(t, e.store.currentCode("room_1", slot))
	// The front door keeps its default window.
	assert.Equal(t, "4821", e.store.currentCode("front_door", slot))
}
