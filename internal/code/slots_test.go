package code

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rental-code-manager/backend/internal/config"
)

func testLayout(t *testing.T) *config.Layout {
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
    calendars: [cal_room_1, cal_whole_house]
calendars:
  - id: cal_room_1
    name: Room 1
    type: room
    url: http://example.com/room1.ics
    slots: {a: 2, b: 3}
  - id: cal_whole_house
    name: Whole House
    type: whole_house
    url: http://example.com/whole.ics
    slots: {a: 18, b: 19}
  - id: cal_both_houses
    name: Both Houses
    type: both_houses
    url: http://example.com/both.ics
    slots: {a: 18, b: 19}
`))
	require.NoError(t, err)
	return layout
}

func TestSlotForAlternatesWithinPair(t *testing.T) {
	a := NewAllocator(testLayout(t))

	day1 := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	s1, err := a.SlotFor("cal_room_1", day1)
	require.NoError(t, err)
	s2, err := a.SlotFor("cal_room_1", day2)
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.Contains(t, []int{2, 3}, s1)
	assert.Contains(t, []int{2, 3}, s2)

	// Same check-in date always maps to the same slot.
	again, err := a.SlotFor("cal_room_1", day1)
	require.NoError(t, err)
	assert.Equal(t, s1, again)
}

func TestSlotForUnknownCalendar(t *testing.T) {
	a := NewAllocator(testLayout(t))

	_, err := a.SlotFor("cal_missing", time.Now())
	require.Error(t, err)

	var unknownErr *UnknownCalendarError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "cal_missing", unknownErr.CalendarID)
}

func TestWholeHouseSharesPairWithBothHouses(t *testing.T) {
	a := NewAllocator(testLayout(t))

	whole, err := a.PairFor("cal_whole_house")
	require.NoError(t, err)
	both, err := a.PairFor("cal_both_houses")
	require.NoError(t, err)

	assert.Equal(t, whole, both)
}

func TestSibling(t *testing.T) {
	a := NewAllocator(testLayout(t))

	assert.Equal(t, 3, a.Sibling("cal_room_1", 2))
	assert.Equal(t, 2, a.Sibling("cal_room_1", 3))
	assert.Equal(t, 0, a.Sibling("cal_room_1", 7))
	assert.Equal(t, 0, a.Sibling("cal_missing", 2))
}

func TestLayoutValidationRejectsSlotCollision(t *testing.T) {
	_, err := config.ParseLayout([]byte(`
locks:
  - id: room_1
    entity_id: lock.room_1
    name: Room 1
    house: main
    type: room
calendars:
  - id: cal_a
    name: A
    type: room
    url: http://example.com/a.ics
    slots: {a: 2, b: 3}
  - id: cal_b
    name: B
    type: room
    url: http://example.com/b.ics
    slots: {a: 3, b: 4}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot 3")
}

func TestLayoutValidationRejectsReservedSlots(t *testing.T) {
	_, err := config.ParseLayout([]byte(`
locks:
  - id: room_1
    entity_id: lock.room_1
    name: Room 1
    house: main
    type: room
calendars:
  - id: cal_a
    name: A
    type: room
    url: http://example.com/a.ics
    slots: {a: 1, b: 2}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside guest range")
}
