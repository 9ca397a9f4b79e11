package calendar

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler polls the calendar feeds on a fixed interval.
type Scheduler struct {
	cron        *cron.Cron
	ingestor    *Ingestor
	pollMinutes int
}

// NewScheduler creates a calendar polling scheduler.
func NewScheduler(ingestor *Ingestor, pollMinutes int) *Scheduler {
	if pollMinutes < 1 {
		pollMinutes = 1
	}
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		ingestor:    ingestor,
		pollMinutes: pollMinutes,
	}
}

// Start begins calendar polling, running one refresh immediately.
func (s *Scheduler) Start() {
	log.Println("Starting calendar scheduler...")

	s.cron.AddFunc(fmt.Sprintf("@every %dm", s.pollMinutes), func() {
		s.ingestor.SyncAll(context.Background())
	})

	s.cron.Start()
	go s.ingestor.SyncAll(context.Background())

	log.Println("Calendar scheduler started")
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	log.Println("Stopping calendar scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Calendar scheduler stopped")
}
