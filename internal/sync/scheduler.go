package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler drives the periodic reconciliation tick and the weekly
// emergency code rotation.
type Scheduler struct {
	cron             *cron.Cron
	orch             *Orchestrator
	coord            *Coordinator
	reconcileSeconds int
}

// NewScheduler creates the reconciliation scheduler.
func NewScheduler(orch *Orchestrator, coord *Coordinator, reconcileSeconds int) *Scheduler {
	if reconcileSeconds < 5 {
		reconcileSeconds = 5
	}
	return &Scheduler{
		cron:             cron.New(cron.WithSeconds()),
		orch:             orch,
		coord:            coord,
		reconcileSeconds: reconcileSeconds,
	}
}

// Start begins the reconciliation scheduler.
func (s *Scheduler) Start() {
	log.Println("Starting sync scheduler...")

	// Reconcile desired slot state and dispatch due operations
	s.cron.AddFunc(fmt.Sprintf("@every %ds", s.reconcileSeconds), func() {
		s.tick()
	})

	// Rotate emergency codes Monday 03:00
	s.cron.AddFunc("0 0 3 * * 1", func() {
		ctx := context.Background()
		batchID, err := s.coord.RandomizeEmergencyCodes(ctx)
		if err != nil {
			log.Printf("Emergency code rotation failed: %v", err)
			return
		}
		log.Printf("Emergency codes rotated, batch %s", batchID)
	})

	s.cron.Start()
	log.Println("Sync scheduler started")
}

// Stop gracefully shuts down the scheduler, letting a running tick finish.
func (s *Scheduler) Stop() {
	log.Println("Stopping sync scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Sync scheduler stopped")
}

// RunNow performs one reconcile-and-dispatch pass outside the schedule.
func (s *Scheduler) RunNow() {
	s.tick()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if err := s.orch.Reconcile(ctx); err != nil {
		log.Printf("Reconcile failed: %v", err)
		return
	}
	s.orch.DispatchDue(ctx)
}
