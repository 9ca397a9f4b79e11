// Package code implements slot allocation, guest code derivation, and
// activation window resolution.
package code

import (
	"fmt"
	"time"

	"github.com/rental-code-manager/backend/internal/config"
)

// UnknownCalendarError indicates a booking arrived on a calendar with no
// configured slot pair. It is non-retryable and must be surfaced: an
// unmapped booking would otherwise never get a code.
type UnknownCalendarError struct {
	CalendarID string
}

func (e *UnknownCalendarError) Error() string {
	return fmt.Sprintf("no slot pair configured for calendar %q", e.CalendarID)
}

// Allocator maps calendar identifiers to slot numbers. The mapping is
// built once from the layout and is identical across every lock.
type Allocator struct {
	table map[string]config.SlotPair
}

// NewAllocator builds an allocator from a validated layout.
func NewAllocator(layout *config.Layout) *Allocator {
	return &Allocator{table: layout.SlotTable()}
}

// PairFor returns the slot pair configured for a calendar.
func (a *Allocator) PairFor(calendarID string) (config.SlotPair, error) {
	pair, ok := a.table[calendarID]
	if !ok {
		return config.SlotPair{}, &UnknownCalendarError{CalendarID: calendarID}
	}
	return pair, nil
}

// SlotFor returns the slot a booking occupies. Consecutive check-in dates
// alternate between the pair members so a departing guest's code can stay
// programmed while the arriving guest's code is set on the sibling slot.
func (a *Allocator) SlotFor(calendarID string, checkIn time.Time) (int, error) {
	pair, err := a.PairFor(calendarID)
	if err != nil {
		return 0, err
	}

	days := checkIn.Unix() / 86400
	if days%2 == 0 {
		return pair.A, nil
	}
	return pair.B, nil
}

// Sibling returns the other member of the slot's pair, or 0 when the slot
// is not part of any configured pair.
func (a *Allocator) Sibling(calendarID string, slot int) int {
	pair, ok := a.table[calendarID]
	if !ok {
		return 0
	}
	switch slot {
	case pair.A:
		return pair.B
	case pair.B:
		return pair.A
	}
	return 0
}

// CalendarForSlot returns the calendar owning a slot number, if any.
// Shared whole-house/both-houses pairs return the first match.
func (a *Allocator) CalendarForSlot(slot int) (string, bool) {
	for calID, pair := range a.table {
		if pair.Contains(slot) {
			return calID, true
		}
	}
	return "", false
}
