package calendar

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rental-code-manager/backend/internal/audit"
	"github.com/rental-code-manager/backend/internal/code"
	"github.com/rental-code-manager/backend/internal/config"
	"github.com/rental-code-manager/backend/internal/storage/models"
)

// BookingSink receives parsed bookings and code finalization updates.
type BookingSink interface {
	Upsert(ctx context.Context, calendarID string, rec models.BookingRecord) (*models.Booking, bool, error)
	ListUpcoming(ctx context.Context, asOf time.Time) ([]models.Booking, error)
	SetLockedCode(ctx context.Context, id, code string) error
	SetFallbackCode(ctx context.Context, id, code string) error
}

// FetchState records per-calendar freshness.
type FetchState interface {
	RecordFetchSuccess(ctx context.Context, id string, at time.Time) error
	RecordFetchError(ctx context.Context, id, message string) error
}

// SyncResult summarizes one calendar refresh.
type SyncResult struct {
	CalendarID      string    `json:"calendar_id"`
	EventsFound     int       `json:"events_found"`
	BookingsCreated int       `json:"bookings_created"`
	BookingsUpdated int       `json:"bookings_updated"`
	SyncedAt        time.Time `json:"synced_at"`
	Error           string    `json:"error,omitempty"`
}

// Ingestor refreshes bookings from the configured calendar feeds. A feed
// failure marks that calendar degraded and keeps the last known bookings;
// it is never a reason to clear codes.
type Ingestor struct {
	layout   *config.Layout
	bookings BookingSink
	state    FetchState
	recorder *audit.Recorder
	parser   *Parser
	gen      *code.Generator

	now func() time.Time
	loc *time.Location
}

// NewIngestor creates a calendar ingestor.
func NewIngestor(layout *config.Layout, bookings BookingSink, state FetchState, recorder *audit.Recorder, gen *code.Generator) *Ingestor {
	return &Ingestor{
		layout:   layout,
		bookings: bookings,
		state:    state,
		recorder: recorder,
		parser:   NewParser(),
		gen:      gen,
		now:      func() time.Time { return time.Now().UTC() },
		loc:      time.Local,
	}
}

// SyncAll refreshes every configured calendar, then finalizes any codes
// whose lock-in time has arrived.
func (i *Ingestor) SyncAll(ctx context.Context) []SyncResult {
	results := make([]SyncResult, 0, len(i.layout.Calendars))
	for _, cal := range i.layout.Calendars {
		result := i.SyncCalendar(ctx, cal)
		results = append(results, result)
	}

	if err := i.FinalizeDueCodes(ctx); err != nil {
		log.Printf("Finalizing codes: %v", err)
	}

	return results
}

// SyncCalendar refreshes one calendar feed. Transient HTTP failures are
// retried with exponential backoff before the calendar is marked degraded.
func (i *Ingestor) SyncCalendar(ctx context.Context, cal config.CalendarLayout) SyncResult {
	result := SyncResult{CalendarID: cal.ID, SyncedAt: i.now()}

	events, err := backoff.Retry(ctx, func() ([]Event, error) {
		return i.parser.Fetch(cal.URL)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	if err != nil {
		log.Printf("Calendar %s fetch failed: %v", cal.ID, err)
		result.Error = err.Error()
		if stateErr := i.state.RecordFetchError(ctx, cal.ID, err.Error()); stateErr != nil {
			log.Printf("Recording fetch error for %s: %v", cal.ID, stateErr)
		}
		return result
	}

	result.EventsFound = len(events)

	for _, event := range FilterFutureEvents(events, i.now()) {
		rec := ToBookingRecord(event)
		if rec.CheckInDate.IsZero() || rec.CheckOutDate.IsZero() {
			continue
		}

		_, created, err := i.bookings.Upsert(ctx, cal.ID, rec)
		if err != nil {
			log.Printf("Calendar %s: upserting booking %q: %v", cal.ID, rec.GuestName, err)
			continue
		}
		if created {
			result.BookingsCreated++
		} else {
			result.BookingsUpdated++
		}
	}

	if err := i.state.RecordFetchSuccess(ctx, cal.ID, result.SyncedAt); err != nil {
		log.Printf("Recording fetch success for %s: %v", cal.ID, err)
	}

	return result
}

// FinalizeDueCodes locks in the code for every booking past its
// finalization time, 11:00 the day before check-in. A finalized code is
// never regenerated, even if the feed later changes the phone number.
func (i *Ingestor) FinalizeDueCodes(ctx context.Context) error {
	now := i.now()

	bookings, err := i.bookings.ListUpcoming(ctx, now)
	if err != nil {
		return fmt.Errorf("listing upcoming bookings: %w", err)
	}

	for idx := range bookings {
		booking := &bookings[idx]
		if booking.IsBlocked || booking.CodeLocked() {
			continue
		}
		if now.Before(i.finalizeAt(booking.CheckInDate)) {
			continue
		}

		codeVal, generated := i.gen.Derive(booking, nil)
		if generated {
			if err := i.bookings.SetFallbackCode(ctx, booking.ID, codeVal); err != nil {
				log.Printf("Storing fallback code for booking %s: %v", booking.ID, err)
				continue
			}
		}
		if err := i.bookings.SetLockedCode(ctx, booking.ID, codeVal); err != nil {
			log.Printf("Locking code for booking %s: %v", booking.ID, err)
			continue
		}

		bookingID := booking.ID
		e := audit.Entry(models.AuditCodeFinalized)
		e.BookingID = &bookingID
		e.Code = &codeVal
		i.recorder.Record(ctx, e)
	}

	return nil
}

// finalizeAt returns 11:00 local time on the day before check-in.
func (i *Ingestor) finalizeAt(checkIn time.Time) time.Time {
	day := checkIn.AddDate(0, 0, -1)
	return time.Date(day.Year(), day.Month(), day.Day(), 11, 0, 0, 0, i.loc)
}
