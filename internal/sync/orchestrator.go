package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/rental-code-manager/backend/internal/audit"
	"github.com/rental-code-manager/backend/internal/code"
	"github.com/rental-code-manager/backend/internal/config"
	"github.com/rental-code-manager/backend/internal/storage/models"
	"github.com/rental-code-manager/backend/internal/transport"
)

// ErrOutsideWindow is returned for a manual re-send when the slot's
// booking exists but its activation window has not opened.
var ErrOutsideWindow = errors.New("booking window not open")

// LockStore is the lock and slot state the orchestrator reads and, on
// operation success, updates.
type LockStore interface {
	List(ctx context.Context) ([]models.Lock, error)
	GetByID(ctx context.Context, id string) (*models.Lock, error)
	GetSlot(ctx context.Context, lockID string, slotNumber int) (*models.Slot, error)
	UpdateSlotAssigned(ctx context.Context, lockID string, slotNumber int, code *string) error
	ConfirmSlotCode(ctx context.Context, lockID string, slotNumber int, code *string) error
}

// BookingStore is the booking state the orchestrator reconciles against.
type BookingStore interface {
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	ListActiveForCalendar(ctx context.Context, calendarID string, asOf time.Time) ([]models.Booking, error)
	GetOverride(ctx context.Context, bookingID, lockID string) (*models.TimeOverride, error)
	PutOverride(ctx context.Context, o *models.TimeOverride) error
	SetFallbackCode(ctx context.Context, id, code string) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
}

// OperationStore persists sync operations.
type OperationStore interface {
	Create(ctx context.Context, op *models.SyncOperation) error
	GetByID(ctx context.Context, id string) (*models.SyncOperation, error)
	GetActive(ctx context.Context, lockID string, slotNumber int) (*models.SyncOperation, error)
	ListDue(ctx context.Context, now time.Time) ([]models.SyncOperation, error)
	ListFailed(ctx context.Context) ([]models.SyncOperation, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.SyncOperation, error)
	Update(ctx context.Context, op *models.SyncOperation) error
	ClaimInFlight(ctx context.Context, id string) (bool, error)
	Dismiss(ctx context.Context, id string) error
	BatchSummary(ctx context.Context, batchID string) (*models.BatchSummary, error)
	CountByState(ctx context.Context) (map[string]int, error)
}

// Notifier receives operation and batch state changes for live dashboards.
type Notifier interface {
	OperationUpdated(op *models.SyncOperation)
	BatchUpdated(summary *models.BatchSummary)
}

// Orchestrator is the retry state machine. It diffs desired slot state
// against last-confirmed device state, dispatches operations through the
// transport, and drives pending -> in_flight -> succeeded/failed.
type Orchestrator struct {
	locks    LockStore
	bookings BookingStore
	ops      OperationStore
	recorder *audit.Recorder
	device   transport.LockTransport

	alloc    *code.Allocator
	gen      *code.Generator
	windows  *code.Resolver
	layout   *config.Layout
	settings *config.Settings

	notifier Notifier
	now      func() time.Time

	// slotLocks serializes all mutation of one (lock, slot); opLocks
	// serializes manual and automatic retries of one operation.
	slotLocks keyedMutex
	opLocks   keyedMutex

	houseMu  gosync.Mutex
	houseSem map[string]chan struct{}
}

// NewOrchestrator creates the orchestrator and its allocation, code
// generation, and window resolution helpers.
func NewOrchestrator(
	locks LockStore,
	bookings BookingStore,
	ops OperationStore,
	recorder *audit.Recorder,
	device transport.LockTransport,
	layout *config.Layout,
	settings *config.Settings,
) *Orchestrator {
	return &Orchestrator{
		locks:    locks,
		bookings: bookings,
		ops:      ops,
		recorder: recorder,
		device:   device,
		alloc:    code.NewAllocator(layout),
		gen:      code.NewGenerator(settings.CodeMinLength, settings.CodeMaxLength),
		windows:  code.NewResolver(time.Local),
		layout:   layout,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		houseSem: make(map[string]chan struct{}),
	}
}

// SetNotifier attaches a notifier for operation state changes.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// Generator exposes the code generator for callers that validate manual
// code input.
func (o *Orchestrator) Generator() *code.Generator {
	return o.gen
}

func (o *Orchestrator) notify(op *models.SyncOperation) {
	if o.notifier != nil {
		o.notifier.OperationUpdated(op)
	}
}

// notifyBatch pushes fresh aggregate counts whenever a batch member
// reaches a new state.
func (o *Orchestrator) notifyBatch(ctx context.Context, op *models.SyncOperation) {
	if o.notifier == nil || op.BatchID == nil {
		return
	}
	summary, err := o.ops.BatchSummary(ctx, *op.BatchID)
	if err != nil || summary == nil {
		return
	}
	o.notifier.BatchUpdated(summary)
}

type slotRef struct {
	LockID string
	Slot   int
}

type slotTarget struct {
	Code      string
	BookingID string
}

// Reconcile recomputes desired slot state from bookings and overrides and
// emits corrective operations for every mismatch. An error on one slot is
// isolated; it never stops processing of other slots.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	now := o.now()

	locks, err := o.locks.List(ctx)
	if err != nil {
		return fmt.Errorf("listing locks: %w", err)
	}
	lockByID := make(map[string]*models.Lock, len(locks))
	for i := range locks {
		lockByID[locks[i].ID] = &locks[i]
	}

	desired := make(map[slotRef]slotTarget)
	tracked := make(map[slotRef]bool)

	for _, cal := range o.layout.Calendars {
		pair, err := o.alloc.PairFor(cal.ID)
		if err != nil {
			continue
		}

		var serving []*models.Lock
		for _, ll := range o.layout.LocksForCalendar(cal.ID) {
			lock := lockByID[ll.ID]
			if lock == nil || lock.LockType == models.LockTypeBack {
				continue
			}
			serving = append(serving, lock)
			tracked[slotRef{lock.ID, pair.A}] = true
			tracked[slotRef{lock.ID, pair.B}] = true
		}

		bookings, err := o.bookings.ListActiveForCalendar(ctx, cal.ID, now)
		if err != nil {
			log.Printf("Reconcile: listing bookings for calendar %s: %v", cal.ID, err)
			continue
		}

		for slot, candidates := range o.slotCandidates(ctx, cal.ID, bookings) {
			for _, booking := range candidates {
				for _, lock := range serving {
					ref := slotRef{lock.ID, slot}
					if _, claimed := desired[ref]; claimed {
						continue
					}

					override, err := o.bookings.GetOverride(ctx, booking.ID, lock.ID)
					if err != nil {
						log.Printf("Reconcile: override lookup for booking %s: %v", booking.ID, err)
						continue
					}

					w := o.windows.Resolve(booking, lock, override)
					if !w.Active(now) {
						continue
					}

					codeVal, err := o.deriveCode(ctx, booking, lock)
					if err != nil {
						log.Printf("Reconcile: deriving code for booking %s: %v", booking.ID, err)
						continue
					}
					desired[ref] = slotTarget{Code: codeVal, BookingID: booking.ID}
				}
			}
		}
	}

	for ref := range tracked {
		slotState, err := o.locks.GetSlot(ctx, ref.LockID, ref.Slot)
		if err != nil || slotState == nil {
			log.Printf("Reconcile: reading slot %s/%d: %v", ref.LockID, ref.Slot, err)
			continue
		}

		target, want := desired[ref]
		switch {
		case want && (!slotState.HasCode() || *slotState.CurrentCode != target.Code):
			codeVal := target.Code
			bookingID := target.BookingID
			if _, err := o.ensureOperation(ctx, ref.LockID, ref.Slot, models.OpActionSet, &codeVal, &bookingID, nil, nil); err != nil {
				log.Printf("Reconcile: creating set operation for %s/%d: %v", ref.LockID, ref.Slot, err)
			}
		case !want && slotState.HasCode():
			if _, err := o.ensureOperation(ctx, ref.LockID, ref.Slot, models.OpActionClear, nil, nil, nil, nil); err != nil {
				log.Printf("Reconcile: creating clear operation for %s/%d: %v", ref.LockID, ref.Slot, err)
			}
		}
	}

	return nil
}

// deriveCode computes a booking's code against a lock's reserved codes,
// persisting a freshly generated fallback so it stays stable.
func (o *Orchestrator) deriveCode(ctx context.Context, booking *models.Booking, lock *models.Lock) (string, error) {
	codeVal, generated := o.gen.Derive(booking, reservedCodes(lock))
	if generated {
		if err := o.bookings.SetFallbackCode(ctx, booking.ID, codeVal); err != nil {
			return "", fmt.Errorf("storing fallback code: %w", err)
		}
		booking.FallbackCode = &codeVal
	}
	return codeVal, nil
}

// slotCandidates groups a calendar's bookings by slot, ordered by the
// configured tie-break. When two bookings with overlapping date ranges
// land on one slot, the loser is dropped and a conflict audit entry is
// recorded; the engine never fails outright on a data conflict.
func (o *Orchestrator) slotCandidates(ctx context.Context, calendarID string, bookings []models.Booking) map[int][]*models.Booking {
	bySlot := make(map[int][]*models.Booking)

	for i := range bookings {
		b := &bookings[i]
		if b.IsBlocked || b.CodeDisabled {
			continue
		}

		slot, err := o.alloc.SlotFor(calendarID, b.CheckInDate)
		if err != nil {
			e := audit.Entry(models.AuditUnmappedBooking)
			e.BookingID = &b.ID
			o.recorder.Record(ctx, audit.Failed(e, err.Error()))
			continue
		}
		bySlot[slot] = append(bySlot[slot], b)
	}

	for slot, list := range bySlot {
		sort.SliceStable(list, func(i, j int) bool {
			return o.precedes(list[i], list[j])
		})

		kept := list[:0]
		for _, b := range list {
			conflict := false
			for _, winner := range kept {
				if overlaps(winner, b) {
					conflict = true
					s := slot
					e := audit.Entry(models.AuditBookingConflict)
					e.BookingID = &b.ID
					e.SlotNumber = &s
					o.recorder.Record(ctx, audit.WithDetails(e,
						fmt.Sprintf("overlaps booking %s; %s precedence applied", winner.ContentKey(), o.settings.TieBreak)))
					break
				}
			}
			if !conflict {
				kept = append(kept, b)
			}
		}
		bySlot[slot] = kept
	}

	return bySlot
}

func (o *Orchestrator) precedes(a, b *models.Booking) bool {
	if o.settings.TieBreak == config.TieBreakEarliestCreated {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CheckInDate.Before(b.CheckInDate)
	}
	if !a.CheckInDate.Equal(b.CheckInDate) {
		return a.CheckInDate.Before(b.CheckInDate)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func overlaps(a, b *models.Booking) bool {
	return a.CheckInDate.Before(b.CheckOutDate) && b.CheckInDate.Before(a.CheckOutDate)
}

func reservedCodes(lock *models.Lock) []string {
	var reserved []string
	if lock.MasterCode != nil && *lock.MasterCode != "" {
		reserved = append(reserved, *lock.MasterCode)
	}
	if lock.EmergencyCode != nil && *lock.EmergencyCode != "" {
		reserved = append(reserved, *lock.EmergencyCode)
	}
	return reserved
}

// ensureOperation creates the pending operation for a slot, or folds the
// new desire into the existing non-terminal one so at most one exists per
// (lock, slot).
func (o *Orchestrator) ensureOperation(ctx context.Context, lockID string, slot int, action string, codeVal, bookingID, batchID *string, notBefore *time.Time) (*models.SyncOperation, error) {
	unlock := o.slotLocks.Lock(slotKey(lockID, slot))
	defer unlock()

	active, err := o.ops.GetActive(ctx, lockID, slot)
	if err != nil {
		return nil, err
	}

	if active != nil {
		if active.State == models.OpStateInFlight {
			return active, nil
		}
		if active.Action == action && sameCode(active.DesiredCode, codeVal) {
			return active, nil
		}
		active.Action = action
		active.DesiredCode = codeVal
		active.BookingID = bookingID
		if batchID != nil {
			active.BatchID = batchID
		}
		if err := o.ops.Update(ctx, active); err != nil {
			return nil, err
		}
		if slot != models.RoutineSlot {
			if err := o.locks.UpdateSlotAssigned(ctx, lockID, slot, codeVal); err != nil {
				log.Printf("Updating assigned code for %s/%d: %v", lockID, slot, err)
			}
		}
		o.notify(active)
		return active, nil
	}

	op := &models.SyncOperation{
		LockID:      lockID,
		SlotNumber:  slot,
		Action:      action,
		DesiredCode: codeVal,
		BookingID:   bookingID,
		BatchID:     batchID,
		NextRetryAt: notBefore,
	}
	if err := o.ops.Create(ctx, op); err != nil {
		return nil, err
	}
	if slot != models.RoutineSlot {
		if err := o.locks.UpdateSlotAssigned(ctx, lockID, slot, codeVal); err != nil {
			log.Printf("Updating assigned code for %s/%d: %v", lockID, slot, err)
		}
	}

	o.recorder.Record(ctx, audit.ForOperation(models.AuditOpCreated, op))
	o.notify(op)
	return op, nil
}

// DispatchDue sends every due pending operation through the transport.
// Dispatch is concurrent across slots but bounded per house, and strictly
// serialized per slot.
func (o *Orchestrator) DispatchDue(ctx context.Context) {
	due, err := o.ops.ListDue(ctx, o.now())
	if err != nil {
		log.Printf("Dispatch: listing due operations: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	var wg gosync.WaitGroup
	for i := range due {
		op := due[i]

		lock, err := o.locks.GetByID(ctx, op.LockID)
		if err != nil || lock == nil {
			log.Printf("Dispatch: unknown lock %s for operation %s", op.LockID, op.ID)
			continue
		}

		sem := o.houseSemaphore(lock.HouseCode)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.dispatchOne(ctx, &op, lock)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) houseSemaphore(houseCode string) chan struct{} {
	o.houseMu.Lock()
	defer o.houseMu.Unlock()

	sem, ok := o.houseSem[houseCode]
	if !ok {
		workers := o.settings.HouseWorkers
		if workers < 1 {
			workers = 1
		}
		sem = make(chan struct{}, workers)
		o.houseSem[houseCode] = sem
	}
	return sem
}

// dispatchOne performs a single transport attempt for an operation and
// applies the resulting state transition. A transport timeout is a
// failure like any other and never corrupts slot state.
func (o *Orchestrator) dispatchOne(ctx context.Context, op *models.SyncOperation, lock *models.Lock) {
	unlock := o.slotLocks.Lock(slotKey(op.LockID, op.SlotNumber))
	defer unlock()

	claimed, err := o.ops.ClaimInFlight(ctx, op.ID)
	if err != nil {
		log.Printf("Dispatch: claiming operation %s: %v", op.ID, err)
		return
	}
	if !claimed {
		return
	}
	op.State = models.OpStateInFlight

	callCtx, cancel := context.WithTimeout(ctx, o.settings.DispatchTimeout())
	defer cancel()

	var callErr error
	switch op.Action {
	case models.OpActionSet:
		if op.DesiredCode == nil {
			callErr = fmt.Errorf("set operation %s has no desired code", op.ID)
		} else {
			callErr = o.device.SetCode(callCtx, lock.EntityID, op.SlotNumber, *op.DesiredCode)
		}
	case models.OpActionClear:
		callErr = o.device.ClearCode(callCtx, lock.EntityID, op.SlotNumber)
	case models.OpActionCheckIn:
		if callErr = o.device.SetAutoLock(callCtx, lock.EntityID, false); callErr == nil {
			callErr = o.device.Unlock(callCtx, lock.EntityID)
		}
	case models.OpActionCheckOut:
		if callErr = o.device.SetAutoLock(callCtx, lock.EntityID, true); callErr == nil {
			callErr = o.device.Lock(callCtx, lock.EntityID)
		}
	default:
		callErr = fmt.Errorf("unknown action %q", op.Action)
	}

	if callErr != nil {
		o.completeFailure(ctx, op, callErr)
		return
	}
	o.completeSuccess(ctx, op)
}

func (o *Orchestrator) completeSuccess(ctx context.Context, op *models.SyncOperation) {
	op.State = models.OpStateSucceeded
	op.NextRetryAt = nil
	op.LastError = nil
	if err := o.ops.Update(ctx, op); err != nil {
		log.Printf("Dispatch: recording success for operation %s: %v", op.ID, err)
		return
	}

	switch op.Action {
	case models.OpActionCheckIn, models.OpActionCheckOut:
		o.recorder.Record(ctx, audit.WithDetails(audit.ForOperation(models.AuditWholeHouse, op), op.Action))
	default:
		var confirmed *string
		action := models.AuditCodeCleared
		if op.Action == models.OpActionSet {
			confirmed = op.DesiredCode
			action = models.AuditCodeSet
		}
		if err := o.locks.ConfirmSlotCode(ctx, op.LockID, op.SlotNumber, confirmed); err != nil {
			log.Printf("Dispatch: confirming slot %s/%d: %v", op.LockID, op.SlotNumber, err)
		}
		o.recorder.Record(ctx, audit.ForOperation(action, op))
	}

	o.notify(op)
	o.notifyBatch(ctx, op)
}

func (o *Orchestrator) completeFailure(ctx context.Context, op *models.SyncOperation, callErr error) {
	op.AttemptCount++
	msg := callErr.Error()
	op.LastError = &msg

	if op.AttemptCount < o.settings.MaxRetries {
		op.State = models.OpStatePending
		next := o.now().Add(Backoff(op.AttemptCount, o.settings.BackoffBase(), o.settings.BackoffCap()))
		op.NextRetryAt = &next
		log.Printf("Operation %s failed (attempt %d/%d), retrying at %s: %v",
			op.ID, op.AttemptCount, o.settings.MaxRetries, next.Format(time.RFC3339), callErr)
	} else {
		op.State = models.OpStateFailed
		op.NextRetryAt = nil
		log.Printf("Operation %s failed permanently after %d attempts: %v", op.ID, op.AttemptCount, callErr)
		o.recorder.Record(ctx, audit.Failed(audit.ForOperation(models.AuditSyncFailed, op), msg))
		if err := o.device.Notify(ctx, "Code sync failed",
			fmt.Sprintf("Lock %s slot %d: %s", op.LockID, op.SlotNumber, msg)); err != nil {
			log.Printf("Failure notification for operation %s: %v", op.ID, err)
		}
	}

	if err := o.ops.Update(ctx, op); err != nil {
		log.Printf("Dispatch: recording failure for operation %s: %v", op.ID, err)
	}
	o.notify(op)
	o.notifyBatch(ctx, op)
}

// RetryOperation re-dispatches one operation immediately, outside the
// backoff schedule. A failed operation gets one more attempt without its
// budget being reset.
func (o *Orchestrator) RetryOperation(ctx context.Context, id string) error {
	unlock := o.opLocks.Lock(id)
	defer unlock()

	op, err := o.ops.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if op == nil {
		return fmt.Errorf("operation not found: %s", id)
	}

	switch op.State {
	case models.OpStateSucceeded:
		return fmt.Errorf("operation %s already succeeded", id)
	case models.OpStateInFlight:
		return fmt.Errorf("operation %s is in flight", id)
	}

	op.State = models.OpStatePending
	op.NextRetryAt = nil
	op.DismissedAt = nil
	if err := o.ops.Update(ctx, op); err != nil {
		return err
	}

	lock, err := o.locks.GetByID(ctx, op.LockID)
	if err != nil {
		return err
	}
	if lock == nil {
		return fmt.Errorf("lock not found: %s", op.LockID)
	}

	o.dispatchOne(ctx, op, lock)
	return nil
}

// RetryAllFailed re-dispatches every non-dismissed failed operation.
func (o *Orchestrator) RetryAllFailed(ctx context.Context) (int, error) {
	failed, err := o.ops.ListFailed(ctx)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, op := range failed {
		if err := o.RetryOperation(ctx, op.ID); err != nil {
			log.Printf("Retry all: operation %s: %v", op.ID, err)
			continue
		}
		retried++
	}
	return retried, nil
}

// RetrySlot re-sends the desired state for one slot. When no operation is
// outstanding it recomputes the desired code; a booking whose window has
// not opened yields ErrOutsideWindow rather than an error state.
func (o *Orchestrator) RetrySlot(ctx context.Context, lockID string, slot int) error {
	active, err := o.ops.GetActive(ctx, lockID, slot)
	if err != nil {
		return err
	}
	if active != nil {
		return o.RetryOperation(ctx, active.ID)
	}

	lock, err := o.locks.GetByID(ctx, lockID)
	if err != nil {
		return err
	}
	if lock == nil {
		return fmt.Errorf("lock not found: %s", lockID)
	}

	target, outsideWindow, err := o.desiredForSlot(ctx, lock, slot)
	if err != nil {
		return err
	}

	slotState, err := o.locks.GetSlot(ctx, lockID, slot)
	if err != nil {
		return err
	}
	if slotState == nil {
		return fmt.Errorf("slot not found: %s/%d", lockID, slot)
	}

	switch {
	case target != nil && (!slotState.HasCode() || *slotState.CurrentCode != target.Code):
		codeVal := target.Code
		bookingID := target.BookingID
		op, err := o.ensureOperation(ctx, lockID, slot, models.OpActionSet, &codeVal, &bookingID, nil, nil)
		if err != nil {
			return err
		}
		o.dispatchOne(ctx, op, lock)
		return nil
	case target == nil && slotState.HasCode():
		op, err := o.ensureOperation(ctx, lockID, slot, models.OpActionClear, nil, nil, nil, nil)
		if err != nil {
			return err
		}
		o.dispatchOne(ctx, op, lock)
		return nil
	case outsideWindow:
		return ErrOutsideWindow
	}
	return nil
}

// desiredForSlot computes the booking-derived target for one slot on one
// lock. The second result reports that a booking maps to the slot but its
// window is not currently open.
func (o *Orchestrator) desiredForSlot(ctx context.Context, lock *models.Lock, slot int) (*slotTarget, bool, error) {
	now := o.now()
	outsideWindow := false

	for _, cal := range o.layout.Calendars {
		pair, err := o.alloc.PairFor(cal.ID)
		if err != nil || !pair.Contains(slot) {
			continue
		}
		if !servesLock(o.layout.LocksForCalendar(cal.ID), lock.ID) {
			continue
		}

		bookings, err := o.bookings.ListActiveForCalendar(ctx, cal.ID, now)
		if err != nil {
			return nil, false, err
		}

		for _, candidates := range o.slotCandidates(ctx, cal.ID, bookings) {
			for _, booking := range candidates {
				assigned, err := o.alloc.SlotFor(cal.ID, booking.CheckInDate)
				if err != nil || assigned != slot {
					continue
				}

				override, err := o.bookings.GetOverride(ctx, booking.ID, lock.ID)
				if err != nil {
					return nil, false, err
				}
				w := o.windows.Resolve(booking, lock, override)
				if !w.Active(now) {
					if !w.Empty() {
						outsideWindow = true
					}
					continue
				}

				codeVal, err := o.deriveCode(ctx, booking, lock)
				if err != nil {
					return nil, false, err
				}
				return &slotTarget{Code: codeVal, BookingID: booking.ID}, false, nil
			}
		}
	}

	return nil, outsideWindow, nil
}

func servesLock(locks []config.LockLayout, lockID string) bool {
	for _, ll := range locks {
		if ll.ID == lockID {
			return true
		}
	}
	return false
}

// DismissOperation hides a failed operation from the operator queue. Its
// audit trail is preserved.
func (o *Orchestrator) DismissOperation(ctx context.Context, id string) error {
	unlock := o.opLocks.Lock(id)
	defer unlock()
	return o.ops.Dismiss(ctx, id)
}

// SetSlotCode programs a code directly, bypassing booking-derived state.
// A write to a calendar-managed slot leaves a warning audit entry, since
// reconciliation will reassert booking state there.
func (o *Orchestrator) SetSlotCode(ctx context.Context, lockID string, slot int, codeVal string) error {
	if err := o.gen.Validate(codeVal); err != nil {
		return err
	}
	if slot < models.MasterCodeSlot || slot > models.MaxSlotNumber {
		return &code.ValidationError{Message: fmt.Sprintf("slot number %d out of range", slot)}
	}

	lock, err := o.locks.GetByID(ctx, lockID)
	if err != nil {
		return err
	}
	if lock == nil {
		return fmt.Errorf("lock not found: %s", lockID)
	}

	if calID, managed := o.alloc.CalendarForSlot(slot); managed {
		s := slot
		lid := lockID
		e := audit.Entry(models.AuditManagedSlotWrite)
		e.LockID = &lid
		e.SlotNumber = &s
		o.recorder.Record(ctx, audit.WithDetails(e,
			fmt.Sprintf("slot belongs to calendar %s; the next reconcile may replace this code", calID)))
	}

	op, err := o.ensureOperation(ctx, lockID, slot, models.OpActionSet, &codeVal, nil, nil, nil)
	if err != nil {
		return err
	}
	o.dispatchOne(ctx, op, lock)
	return nil
}

// ClearSlotCode clears a slot directly, bypassing booking-derived state.
func (o *Orchestrator) ClearSlotCode(ctx context.Context, lockID string, slot int) error {
	lock, err := o.locks.GetByID(ctx, lockID)
	if err != nil {
		return err
	}
	if lock == nil {
		return fmt.Errorf("lock not found: %s", lockID)
	}

	op, err := o.ensureOperation(ctx, lockID, slot, models.OpActionClear, nil, nil, nil, nil)
	if err != nil {
		return err
	}
	o.dispatchOne(ctx, op, lock)
	return nil
}

// SetOverride validates and stores a time override, then reconciles so
// the widened or narrowed window takes effect immediately.
func (o *Orchestrator) SetOverride(ctx context.Context, override *models.TimeOverride) error {
	if override.ActivateAt != nil && override.DeactivateAt != nil &&
		!override.ActivateAt.Before(*override.DeactivateAt) {
		return &code.ValidationError{Message: "override activate_at must be before deactivate_at"}
	}

	booking, err := o.bookings.GetByID(ctx, override.BookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		return fmt.Errorf("booking not found: %s", override.BookingID)
	}

	if err := o.bookings.PutOverride(ctx, override); err != nil {
		return err
	}

	e := audit.Entry(models.AuditOverrideSet)
	e.BookingID = &override.BookingID
	e.LockID = &override.LockID
	o.recorder.Record(ctx, e)

	if err := o.Reconcile(ctx); err != nil {
		return err
	}
	o.DispatchDue(ctx)
	return nil
}

// DisableBookingCode suppresses a booking's code and clears it from every
// slot currently holding it, under one batch id.
func (o *Orchestrator) DisableBookingCode(ctx context.Context, bookingID string) (string, error) {
	booking, err := o.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if booking == nil {
		return "", fmt.Errorf("booking not found: %s", bookingID)
	}

	if err := o.bookings.SetDisabled(ctx, bookingID, true); err != nil {
		return "", err
	}
	booking.CodeDisabled = true

	batchID := uuid.NewString()

	slot, err := o.alloc.SlotFor(booking.CalendarID, booking.CheckInDate)
	if err != nil {
		return batchID, err
	}

	var created []*models.SyncOperation
	for _, ll := range o.layout.LocksForCalendar(booking.CalendarID) {
		lock, err := o.locks.GetByID(ctx, ll.ID)
		if err != nil || lock == nil || lock.LockType == models.LockTypeBack {
			continue
		}

		slotState, err := o.locks.GetSlot(ctx, lock.ID, slot)
		if err != nil || slotState == nil || !slotState.HasCode() {
			continue
		}

		derived, _ := o.gen.Derive(booking, reservedCodes(lock))
		if *slotState.CurrentCode != derived {
			continue
		}

		op, err := o.ensureOperation(ctx, lock.ID, slot, models.OpActionClear, nil, &bookingID, &batchID, nil)
		if err != nil {
			log.Printf("Disable booking %s: slot %s/%d: %v", bookingID, lock.ID, slot, err)
			continue
		}
		created = append(created, op)

		s := slot
		lockID := lock.ID
		e := audit.Entry(models.AuditCodeDisabled)
		e.BookingID = &bookingID
		e.LockID = &lockID
		e.SlotNumber = &s
		e.BatchID = &batchID
		o.recorder.Record(ctx, e)
	}

	for _, op := range created {
		lock, err := o.locks.GetByID(ctx, op.LockID)
		if err != nil || lock == nil {
			continue
		}
		o.dispatchOne(ctx, op, lock)
	}

	return batchID, nil
}

// EnableBookingCode lifts a booking's suppression. Inside the active
// window the code is re-dispatched immediately; outside it, the next
// reconciliation after the window opens will program it.
func (o *Orchestrator) EnableBookingCode(ctx context.Context, bookingID string) error {
	booking, err := o.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		return fmt.Errorf("booking not found: %s", bookingID)
	}

	if err := o.bookings.SetDisabled(ctx, bookingID, false); err != nil {
		return err
	}

	e := audit.Entry(models.AuditCodeEnabled)
	e.BookingID = &bookingID
	o.recorder.Record(ctx, e)

	if err := o.Reconcile(ctx); err != nil {
		return err
	}
	o.DispatchDue(ctx)
	return nil
}

// Status summarizes engine state for the dashboard.
type Status struct {
	Counts map[string]int         `json:"counts"`
	Failed []models.SyncOperation `json:"failed"`
}

// Status reports operation counts by state and the open failed list.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	counts, err := o.ops.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := o.ops.ListFailed(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{Counts: counts, Failed: failed}, nil
}

func slotKey(lockID string, slot int) string {
	return fmt.Sprintf("%s/%d", lockID, slot)
}

func sameCode(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// keyedMutex provides one mutex per string key.
type keyedMutex struct {
	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

// Lock acquires the mutex for a key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*gosync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &gosync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
