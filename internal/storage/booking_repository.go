package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

// BookingRepository provides data access for bookings and time overrides.
type BookingRepository struct {
	BaseRepository
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const bookingColumns = `id, calendar_id, event_uid, guest_name, phone, channel, reservation_id,
	check_in_date, check_out_date, is_blocked, code_disabled,
	locked_code, code_locked_at, fallback_code, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	b := &models.Booking{}
	err := row.Scan(
		&b.ID, &b.CalendarID, &b.EventUID, &b.GuestName, &b.Phone, &b.Channel, &b.ReservationID,
		&b.CheckInDate, &b.CheckOutDate, &b.IsBlocked, &b.CodeDisabled,
		&b.LockedCode, &b.CodeLockedAt, &b.FallbackCode, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetByID retrieves a booking by its ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	row := r.DB().QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)

	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking: %w", err)
	}
	return b, nil
}

// GetByContentKey retrieves a booking matching the dedup key on a calendar.
func (r *BookingRepository) GetByContentKey(ctx context.Context, calendarID, guestName string, checkIn, checkOut time.Time) (*models.Booking, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE calendar_id = ? AND guest_name = ? AND check_in_date = ? AND check_out_date = ?
	`, calendarID, guestName, dateOnly(checkIn), dateOnly(checkOut))

	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking by content key: %w", err)
	}
	return b, nil
}

// Upsert stores a parsed booking, matching existing rows by content key so
// that UID churn across calendar refreshes does not duplicate bookings.
// It returns the persisted booking and whether a new row was created.
func (r *BookingRepository) Upsert(ctx context.Context, calendarID string, rec models.BookingRecord) (*models.Booking, bool, error) {
	existing, err := r.GetByContentKey(ctx, calendarID, rec.GuestName, rec.CheckInDate, rec.CheckOutDate)
	if err != nil {
		return nil, false, err
	}

	now := r.Now()
	if existing != nil {
		_, err = r.DB().ExecContext(ctx, `
			UPDATE bookings SET
				event_uid = ?,
				phone = COALESCE(NULLIF(?, ''), phone),
				channel = COALESCE(NULLIF(?, ''), channel),
				reservation_id = COALESCE(NULLIF(?, ''), reservation_id),
				is_blocked = ?,
				updated_at = ?
			WHERE id = ?
		`, rec.UID, rec.Phone, rec.Channel, rec.ReservationID, rec.IsBlocked, now, existing.ID)
		if err != nil {
			return nil, false, fmt.Errorf("updating booking: %w", err)
		}
		updated, err := r.GetByID(ctx, existing.ID)
		return updated, false, err
	}

	id := GenerateID()
	_, err = r.DB().ExecContext(ctx, `
		INSERT INTO bookings (id, calendar_id, event_uid, guest_name, phone, channel, reservation_id,
			check_in_date, check_out_date, is_blocked, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?)
	`, id, calendarID, rec.UID, rec.GuestName, rec.Phone, rec.Channel, rec.ReservationID,
		dateOnly(rec.CheckInDate), dateOnly(rec.CheckOutDate), rec.IsBlocked, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("inserting booking: %w", err)
	}

	created, err := r.GetByID(ctx, id)
	return created, true, err
}

// ListByCalendar retrieves all bookings for a calendar ordered by check-in.
func (r *BookingRepository) ListByCalendar(ctx context.Context, calendarID string) ([]models.Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE calendar_id = ? ORDER BY check_in_date`,
		calendarID)
}

// ListUpcoming retrieves bookings whose stay has not ended as of the given
// date, across all calendars.
func (r *BookingRepository) ListUpcoming(ctx context.Context, asOf time.Time) ([]models.Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE check_out_date >= ? ORDER BY check_in_date`,
		dateOnly(asOf))
}

// ListActiveForCalendar retrieves non-blocked bookings on a calendar whose
// stay overlaps or follows the given date. Blocked spans never carry codes.
func (r *BookingRepository) ListActiveForCalendar(ctx context.Context, calendarID string, asOf time.Time) ([]models.Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE calendar_id = ? AND is_blocked = 0 AND check_out_date >= ?
		ORDER BY check_in_date, created_at
	`, calendarID, dateOnly(asOf))
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// SetDisabled toggles whether the booking's code is administratively disabled.
func (r *BookingRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE bookings SET code_disabled = ?, updated_at = ? WHERE id = ?
	`, disabled, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating code_disabled: %w", err)
	}
	return requireRow(res, "booking", id)
}

// SetLockedCode finalizes the booking's code. A finalized code is never
// regenerated even if the phone number later changes.
func (r *BookingRepository) SetLockedCode(ctx context.Context, id, code string) error {
	now := r.Now()
	res, err := r.DB().ExecContext(ctx, `
		UPDATE bookings SET locked_code = ?, code_locked_at = ?, updated_at = ? WHERE id = ?
	`, code, now, now, id)
	if err != nil {
		return fmt.Errorf("locking code: %w", err)
	}
	return requireRow(res, "booking", id)
}

// SetFallbackCode stores a generated code for a booking with no usable phone
// number, so the same code is reused across refreshes.
func (r *BookingRepository) SetFallbackCode(ctx context.Context, id, code string) error {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE bookings SET fallback_code = ?, updated_at = ? WHERE id = ?
	`, code, r.Now(), id)
	if err != nil {
		return fmt.Errorf("storing fallback code: %w", err)
	}
	return requireRow(res, "booking", id)
}

// GetOverride retrieves the time override for a booking on a lock, if any.
func (r *BookingRepository) GetOverride(ctx context.Context, bookingID, lockID string) (*models.TimeOverride, error) {
	var o models.TimeOverride
	err := r.DB().QueryRowContext(ctx, `
		SELECT id, booking_id, lock_id, activate_at, deactivate_at, notes, created_by, created_at, updated_at
		FROM time_overrides WHERE booking_id = ? AND lock_id = ?
	`, bookingID, lockID).Scan(&o.ID, &o.BookingID, &o.LockID, &o.ActivateAt, &o.DeactivateAt,
		&o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying time override: %w", err)
	}
	return &o, nil
}

// ListOverrides retrieves all time overrides for a booking.
func (r *BookingRepository) ListOverrides(ctx context.Context, bookingID string) ([]models.TimeOverride, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, booking_id, lock_id, activate_at, deactivate_at, notes, created_by, created_at, updated_at
		FROM time_overrides WHERE booking_id = ? ORDER BY lock_id
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("querying time overrides: %w", err)
	}
	defer rows.Close()

	var overrides []models.TimeOverride
	for rows.Next() {
		var o models.TimeOverride
		if err := rows.Scan(&o.ID, &o.BookingID, &o.LockID, &o.ActivateAt, &o.DeactivateAt,
			&o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning time override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// PutOverride inserts or replaces the time override for a booking on a lock.
func (r *BookingRepository) PutOverride(ctx context.Context, o *models.TimeOverride) error {
	if o.ID == "" {
		o.ID = GenerateID()
	}
	now := r.Now()
	o.UpdatedAt = now
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO time_overrides (id, booking_id, lock_id, activate_at, deactivate_at, notes, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (booking_id, lock_id) DO UPDATE SET
			activate_at = excluded.activate_at,
			deactivate_at = excluded.deactivate_at,
			notes = excluded.notes,
			created_by = excluded.created_by,
			updated_at = excluded.updated_at
	`, o.ID, o.BookingID, o.LockID, o.ActivateAt, o.DeactivateAt, o.Notes, o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving time override: %w", err)
	}
	return nil
}

// DeleteOverride removes the time override for a booking on a lock.
func (r *BookingRepository) DeleteOverride(ctx context.Context, bookingID, lockID string) error {
	_, err := r.DB().ExecContext(ctx, `
		DELETE FROM time_overrides WHERE booking_id = ? AND lock_id = ?
	`, bookingID, lockID)
	if err != nil {
		return fmt.Errorf("deleting time override: %w", err)
	}
	return nil
}

func dateOnly(t time.Time) string {
	return t.Format("2006-01-02")
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
