package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rental-code-manager/backend/internal/audit"
	"github.com/rental-code-manager/backend/internal/storage/models"
)

// MasterCodeStore persists the reserved codes the coordinator fans out.
type MasterCodeStore interface {
	UpdateMasterCode(ctx context.Context, lockID, code string) error
	UpdateEmergencyCode(ctx context.Context, lockID, code string) error
	UpdateAutoLock(ctx context.Context, lockID string, enabled bool) error
}

// Coordinator groups multi-lock actions under one batch id so they are
// reported and retried as a unit.
type Coordinator struct {
	orch     *Orchestrator
	reserved MasterCodeStore
}

// NewCoordinator creates a batch coordinator on top of the orchestrator.
func NewCoordinator(orch *Orchestrator, reserved MasterCodeStore) *Coordinator {
	return &Coordinator{orch: orch, reserved: reserved}
}

// SetMasterCode fans the master code out to slot 1 of every lock. Each
// lock's configured stagger delays its operation so a burst of code
// writes does not saturate the device network. Returns the batch id.
func (c *Coordinator) SetMasterCode(ctx context.Context, codeVal string) (string, error) {
	if err := c.orch.Generator().Validate(codeVal); err != nil {
		return "", err
	}

	locks, err := c.orch.locks.List(ctx)
	if err != nil {
		return "", err
	}

	batchID := uuid.NewString()
	now := c.orch.now()

	for i := range locks {
		lock := &locks[i]

		if err := c.reserved.UpdateMasterCode(ctx, lock.ID, codeVal); err != nil {
			log.Printf("Batch %s: storing master code for %s: %v", batchID, lock.ID, err)
			continue
		}

		var notBefore *time.Time
		if lock.StaggerMinutes > 0 {
			t := now.Add(time.Duration(lock.StaggerMinutes) * time.Minute)
			notBefore = &t
		}

		code := codeVal
		if _, err := c.orch.ensureOperation(ctx, lock.ID, models.MasterCodeSlot,
			models.OpActionSet, &code, nil, &batchID, notBefore); err != nil {
			log.Printf("Batch %s: master code operation for %s: %v", batchID, lock.ID, err)
		}
	}

	e := audit.Entry(models.AuditMasterCodeSet)
	e.BatchID = &batchID
	c.orch.recorder.Record(ctx, audit.WithDetails(e, fmt.Sprintf("%d locks", len(locks))))

	c.orch.DispatchDue(ctx)
	return batchID, nil
}

// RandomizeEmergencyCodes assigns a fresh random code to slot 20 of every
// lock under one batch id. Returns the batch id.
func (c *Coordinator) RandomizeEmergencyCodes(ctx context.Context) (string, error) {
	locks, err := c.orch.locks.List(ctx)
	if err != nil {
		return "", err
	}

	batchID := uuid.NewString()

	for i := range locks {
		lock := &locks[i]
		codeVal := c.orch.Generator().RandomCode()

		if err := c.reserved.UpdateEmergencyCode(ctx, lock.ID, codeVal); err != nil {
			log.Printf("Batch %s: storing emergency code for %s: %v", batchID, lock.ID, err)
			continue
		}

		if _, err := c.orch.ensureOperation(ctx, lock.ID, models.EmergencyCodeSlot,
			models.OpActionSet, &codeVal, nil, &batchID, nil); err != nil {
			log.Printf("Batch %s: emergency code operation for %s: %v", batchID, lock.ID, err)
			continue
		}

		lockID := lock.ID
		e := audit.Entry(models.AuditEmergencyRotated)
		e.LockID = &lockID
		e.BatchID = &batchID
		c.orch.recorder.Record(ctx, e)
	}

	c.orch.DispatchDue(ctx)
	return batchID, nil
}

// WholeHouseCheckIn prepares a house for a whole-house arrival: auto-lock
// off and internal locks unlocked, under one batch id.
func (c *Coordinator) WholeHouseCheckIn(ctx context.Context, houseCode string) (string, error) {
	return c.wholeHouse(ctx, houseCode, models.OpActionCheckIn)
}

// WholeHouseCheckOut restores a house after a whole-house departure:
// auto-lock back on and internal locks engaged, under one batch id.
func (c *Coordinator) WholeHouseCheckOut(ctx context.Context, houseCode string) (string, error) {
	return c.wholeHouse(ctx, houseCode, models.OpActionCheckOut)
}

// wholeHouse issues one retryable routine operation per internal lock in
// the house, so the batch reports aggregate counts and failed members can
// be re-run like any other operation.
func (c *Coordinator) wholeHouse(ctx context.Context, houseCode, action string) (string, error) {
	locks, err := c.orch.locks.List(ctx)
	if err != nil {
		return "", err
	}

	batchID := uuid.NewString()
	autoLock := action == models.OpActionCheckOut
	matched := 0

	for i := range locks {
		lock := &locks[i]
		if lock.HouseCode != houseCode || !lock.IsInternal() {
			continue
		}
		matched++

		if err := c.reserved.UpdateAutoLock(ctx, lock.ID, autoLock); err != nil {
			log.Printf("Batch %s: storing auto-lock for %s: %v", batchID, lock.ID, err)
		}
		if _, err := c.orch.ensureOperation(ctx, lock.ID, models.RoutineSlot,
			action, nil, nil, &batchID, nil); err != nil {
			log.Printf("Batch %s: %s operation for %s: %v", batchID, action, lock.ID, err)
		}
	}

	if matched == 0 {
		return "", fmt.Errorf("no internal locks in house %q", houseCode)
	}

	c.orch.DispatchDue(ctx)
	return batchID, nil
}

// Summary reports aggregate counts for a batch.
func (c *Coordinator) Summary(ctx context.Context, batchID string) (*models.BatchSummary, error) {
	return c.orch.ops.BatchSummary(ctx, batchID)
}

// RetryBatch re-dispatches every failed operation in a batch.
func (c *Coordinator) RetryBatch(ctx context.Context, batchID string) (int, error) {
	ops, err := c.orch.ops.ListByBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, fmt.Errorf("batch not found: %s", batchID)
	}

	retried := 0
	for _, op := range ops {
		if op.State != models.OpStateFailed {
			continue
		}
		if err := c.orch.RetryOperation(ctx, op.ID); err != nil {
			log.Printf("Retry batch %s: operation %s: %v", batchID, op.ID, err)
			continue
		}
		retried++
	}
	return retried, nil
}
