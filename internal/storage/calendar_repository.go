package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rental-code-manager/backend/internal/config"
	"github.com/rental-code-manager/backend/internal/storage/models"
)

// CalendarRepository tracks the fetch state of configured calendar feeds.
type CalendarRepository struct {
	BaseRepository
}

// NewCalendarRepository creates a new calendar repository.
func NewCalendarRepository(db *DB) *CalendarRepository {
	return &CalendarRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// SeedFromLayout upserts calendar rows from the layout. Names, types, and
// URLs follow the layout; fetch state is preserved.
func (r *CalendarRepository) SeedFromLayout(ctx context.Context, layout *config.Layout) error {
	for _, cal := range layout.Calendars {
		_, err := r.DB().ExecContext(ctx, `
			INSERT INTO calendars (id, name, calendar_type, url) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				calendar_type = excluded.calendar_type,
				url = excluded.url
		`, cal.ID, cal.Name, cal.CalendarType, cal.URL)
		if err != nil {
			return fmt.Errorf("seeding calendar %s: %w", cal.ID, err)
		}
	}
	return nil
}

const calendarColumns = `id, name, calendar_type, url, last_fetched, last_fetch_error`

// GetByID retrieves a calendar by its ID.
func (r *CalendarRepository) GetByID(ctx context.Context, id string) (*models.Calendar, error) {
	var c models.Calendar
	err := r.DB().QueryRowContext(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.CalendarType, &c.URL, &c.LastFetched, &c.LastFetchError)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying calendar: %w", err)
	}
	return &c, nil
}

// List retrieves all calendars ordered by name.
func (r *CalendarRepository) List(ctx context.Context) ([]models.Calendar, error) {
	rows, err := r.DB().QueryContext(ctx,
		`SELECT `+calendarColumns+` FROM calendars ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying calendars: %w", err)
	}
	defer rows.Close()

	var calendars []models.Calendar
	for rows.Next() {
		var c models.Calendar
		if err := rows.Scan(&c.ID, &c.Name, &c.CalendarType, &c.URL, &c.LastFetched, &c.LastFetchError); err != nil {
			return nil, fmt.Errorf("scanning calendar: %w", err)
		}
		calendars = append(calendars, c)
	}
	return calendars, rows.Err()
}

// RecordFetchSuccess marks a calendar as freshly fetched.
func (r *CalendarRepository) RecordFetchSuccess(ctx context.Context, id string, at time.Time) error {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE calendars SET last_fetched = ?, last_fetch_error = NULL WHERE id = ?
	`, at, id)
	if err != nil {
		return fmt.Errorf("recording fetch success: %w", err)
	}
	return requireRow(res, "calendar", id)
}

// RecordFetchError marks a calendar degraded. last_fetched keeps the time
// of the last successful fetch.
func (r *CalendarRepository) RecordFetchError(ctx context.Context, id, message string) error {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE calendars SET last_fetch_error = ? WHERE id = ?
	`, message, id)
	if err != nil {
		return fmt.Errorf("recording fetch error: %w", err)
	}
	return requireRow(res, "calendar", id)
}
