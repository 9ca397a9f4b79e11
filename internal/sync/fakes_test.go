package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

// memStore is an in-memory stand-in for the SQLite repositories.
type memStore struct {
	mu        gosync.Mutex
	locks     map[string]*models.Lock
	slots     map[slotRef]*models.Slot
	bookings  map[string]*models.Booking
	overrides map[string]*models.TimeOverride
	ops       map[string]*models.SyncOperation
	audits    []models.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		locks:     make(map[string]*models.Lock),
		slots:     make(map[slotRef]*models.Slot),
		bookings:  make(map[string]*models.Booking),
		overrides: make(map[string]*models.TimeOverride),
		ops:       make(map[string]*models.SyncOperation),
	}
}

func (m *memStore) addLock(lock *models.Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[lock.ID] = lock
	for slot := 1; slot <= models.MaxSlotNumber; slot++ {
		m.slots[slotRef{lock.ID, slot}] = &models.Slot{LockID: lock.ID, SlotNumber: slot}
	}
}

func (m *memStore) addBooking(b *models.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	m.bookings[b.ID] = b
}

func (m *memStore) List(ctx context.Context) ([]models.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var locks []models.Lock
	for _, l := range m.locks {
		locks = append(locks, *l)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].ID < locks[j].ID })
	return locks, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) GetSlot(ctx context.Context, lockID string, slotNumber int) (*models.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotRef{lockID, slotNumber}]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) UpdateSlotAssigned(ctx context.Context, lockID string, slotNumber int, code *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[slotRef{lockID, slotNumber}]; ok {
		s.AssignedCode = code
	}
	return nil
}

func (m *memStore) ConfirmSlotCode(ctx context.Context, lockID string, slotNumber int, code *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotRef{lockID, slotNumber}]
	if !ok {
		return fmt.Errorf("slot not found")
	}
	s.CurrentCode = code
	s.AssignedCode = nil
	now := time.Now()
	s.LastSyncedAt = &now
	return nil
}

func (m *memStore) UpdateMasterCode(ctx context.Context, lockID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[lockID]; ok {
		l.MasterCode = &code
	}
	return nil
}

func (m *memStore) UpdateEmergencyCode(ctx context.Context, lockID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[lockID]; ok {
		l.EmergencyCode = &code
	}
	return nil
}

func (m *memStore) UpdateAutoLock(ctx context.Context, lockID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[lockID]; ok {
		l.AutoLock = enabled
	}
	return nil
}

func (m *memStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) ListActiveForCalendar(ctx context.Context, calendarID string, asOf time.Time) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bookings []models.Booking
	for _, b := range m.bookings {
		if b.CalendarID != calendarID || b.IsBlocked {
			continue
		}
		if b.CheckOutDate.Before(asOf.Truncate(24 * time.Hour)) {
			continue
		}
		bookings = append(bookings, *b)
	}
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].CheckInDate.Before(bookings[j].CheckInDate)
	})
	return bookings, nil
}

func (m *memStore) GetOverride(ctx context.Context, bookingID, lockID string) (*models.TimeOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.overrides[bookingID+"/"+lockID]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) PutOverride(ctx context.Context, o *models.TimeOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.overrides[o.BookingID+"/"+o.LockID] = &cp
	return nil
}

func (m *memStore) SetFallbackCode(ctx context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bookings[id]; ok {
		b.FallbackCode = &code
	}
	return nil
}

func (m *memStore) SetDisabled(ctx context.Context, id string, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bookings[id]; ok {
		b.CodeDisabled = disabled
	}
	return nil
}

func (m *memStore) Create(ctx context.Context, op *models.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.State == "" {
		op.State = models.OpStatePending
	}
	now := time.Now()
	op.CreatedAt = now
	op.UpdatedAt = now
	cp := *op
	m.ops[op.ID] = &cp
	return nil
}

func (m *memStore) GetOp(ctx context.Context, id string) (*models.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, nil
	}
	cp := *op
	return &cp, nil
}

func (m *memStore) GetActive(ctx context.Context, lockID string, slotNumber int) (*models.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.SyncOperation
	for _, op := range m.ops {
		if op.LockID != lockID || op.SlotNumber != slotNumber || op.Terminal() {
			continue
		}
		if found == nil || op.CreatedAt.Before(found.CreatedAt) {
			found = op
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (m *memStore) ListDue(ctx context.Context, now time.Time) ([]models.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.SyncOperation
	for _, op := range m.ops {
		if op.Due(now) {
			due = append(due, *op)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due, nil
}

func (m *memStore) ListFailed(ctx context.Context) ([]models.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var failed []models.SyncOperation
	for _, op := range m.ops {
		if op.State == models.OpStateFailed && op.DismissedAt == nil {
			failed = append(failed, *op)
		}
	}
	return failed, nil
}

func (m *memStore) ListByBatch(ctx context.Context, batchID string) ([]models.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ops []models.SyncOperation
	for _, op := range m.ops {
		if op.BatchID != nil && *op.BatchID == batchID {
			ops = append(ops, *op)
		}
	}
	return ops, nil
}

func (m *memStore) Update(ctx context.Context, op *models.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[op.ID]; !ok {
		return fmt.Errorf("operation not found: %s", op.ID)
	}
	op.UpdatedAt = time.Now()
	cp := *op
	m.ops[op.ID] = &cp
	return nil
}

func (m *memStore) ClaimInFlight(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok || op.State != models.OpStatePending {
		return false, nil
	}
	op.State = models.OpStateInFlight
	return true, nil
}

func (m *memStore) Dismiss(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok || op.State != models.OpStateFailed || op.DismissedAt != nil {
		return fmt.Errorf("failed sync operation not found: %s", id)
	}
	now := time.Now()
	op.DismissedAt = &now
	return nil
}

func (m *memStore) BatchSummary(ctx context.Context, batchID string) (*models.BatchSummary, error) {
	ops, err := m.ListByBatch(ctx, batchID)
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

func (m *memStore) CountByState(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, op := range m.ops {
		counts[op.State]++
	}
	return counts, nil
}

func (m *memStore) Append(ctx context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.audits = append(m.audits, *e)
	return nil
}

func (m *memStore) auditsByAction(action string) []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range m.audits {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) currentCode(lockID string, slot int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotRef{lockID, slot}]
	if !ok || s.CurrentCode == nil {
		return ""
	}
	return *s.CurrentCode
}

func (m *memStore) nonTerminalPerSlot() map[slotRef]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[slotRef]int)
	for _, op := range m.ops {
		if !op.Terminal() {
			counts[slotRef{op.LockID, op.SlotNumber}]++
		}
	}
	return counts
}

// bookingAdapter narrows memStore's booking method names to BookingStore.
type bookingAdapter struct{ *memStore }

func (a bookingAdapter) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	return a.GetBooking(ctx, id)
}

// opAdapter narrows memStore's operation method names to OperationStore.
type opAdapter struct{ *memStore }

func (a opAdapter) GetByID(ctx context.Context, id string) (*models.SyncOperation, error) {
	return a.GetOp(ctx, id)
}

// fakeTransport acks or fails device calls on demand.
type fakeTransport struct {
	mu       gosync.Mutex
	failures int
	calls    int
	codes    map[string]string
	locked   map[string]bool
	autoLock map[string]bool
	notices  []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		codes:    make(map[string]string),
		locked:   make(map[string]bool),
		autoLock: make(map[string]bool),
	}
}

// failNext makes the next n device calls fail.
func (t *fakeTransport) failNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
}

func (t *fakeTransport) attempt() error {
	t.calls++
	if t.failures > 0 {
		t.failures--
		return fmt.Errorf("device unreachable")
	}
	return nil
}

func (t *fakeTransport) SetCode(ctx context.Context, entityID string, slot int, code string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.attempt(); err != nil {
		return err
	}
	t.codes[fmt.Sprintf("%s/%d", entityID, slot)] = code
	return nil
}

func (t *fakeTransport) ClearCode(ctx context.Context, entityID string, slot int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.attempt(); err != nil {
		return err
	}
	delete(t.codes, fmt.Sprintf("%s/%d", entityID, slot))
	return nil
}

func (t *fakeTransport) Lock(ctx context.Context, entityID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.attempt(); err != nil {
		return err
	}
	t.locked[entityID] = true
	return nil
}

func (t *fakeTransport) Unlock(ctx context.Context, entityID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.attempt(); err != nil {
		return err
	}
	t.locked[entityID] = false
	return nil
}

func (t *fakeTransport) SetAutoLock(ctx context.Context, entityID string, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.attempt(); err != nil {
		return err
	}
	t.autoLock[entityID] = enabled
	return nil
}

func (t *fakeTransport) Notify(ctx context.Context, title, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notices = append(t.notices, title+": "+message)
	return nil
}

func (t *fakeTransport) Ping(ctx context.Context) error {
	return nil
}

func (t *fakeTransport) deviceCode(entityID string, slot int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.codes[fmt.Sprintf("%s/%d", entityID, slot)]
}

// fakeNotifier records operation and batch events.
type fakeNotifier struct {
	mu      gosync.Mutex
	ops     []models.SyncOperation
	batches []models.BatchSummary
}

func (n *fakeNotifier) OperationUpdated(op *models.SyncOperation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, *op)
}

func (n *fakeNotifier) BatchUpdated(summary *models.BatchSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, *summary)
}

func (n *fakeNotifier) lastBatch() *models.BatchSummary {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.batches) == 0 {
		return nil
	}
	cp := n.batches[len(n.batches)-1]
	return &cp
}
