package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, ":8099", s.Addr)
	assert.Equal(t, 15, s.CalendarPollMinutes)
	assert.Equal(t, 3, s.MaxRetries)
	assert.Equal(t, 30*time.Second, s.BackoffBase())
	assert.Equal(t, 10*time.Minute, s.BackoffCap())
	assert.Equal(t, 2*time.Minute, s.DispatchTimeout())
	assert.Equal(t, TieBreakEarliestCheckIn, s.TieBreak)
}

func TestLoadSettingsFromEnvironment(t *testing.T) {
	t.Setenv("RENTAL_ADDR", ":9000")
	t.Setenv("RENTAL_MAX_RETRIES", "5")
	t.Setenv("RENTAL_TIE_BREAK", "earliest_created")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, ":9000", s.Addr)
	assert.Equal(t, 5, s.MaxRetries)
	assert.Equal(t, TieBreakEarliestCreated, s.TieBreak)
}

func TestLoadSettingsClampsCodeLengths(t *testing.T) {
	t.Setenv("RENTAL_CODE_MIN_LENGTH", "2")
	t.Setenv("RENTAL_CODE_MAX_LENGTH", "12")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, 4, s.CodeMinLength)
	assert.Equal(t, 8, s.CodeMaxLength)
}

func TestLoadSettingsRejectsUnknownTieBreak(t *testing.T) {
	t.Setenv("RENTAL_TIE_BREAK", "coin_flip")

	_, err := LoadSettings()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tie-break")
}

const validLayout = `
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
    stagger_minutes: 10
    calendars: [cal_room_1]
calendars:
  - id: cal_room_1
    name: Room 1
    type: room
    url: http://example.com/room1.ics
    slots: {a: 2, b: 3}
`

func TestParseLayout(t *testing.T) {
	layout, err := ParseLayout([]byte(validLayout))
	require.NoError(t, err)

	require.Len(t, layout.Locks, 2)
	require.Len(t, layout.Calendars, 1)
	assert.Equal(t, 10, layout.Locks[1].StaggerMinutes)
	assert.Equal(t, SlotPair{A: 2, B: 3}, layout.Calendars[0].Slots)
}

func TestParseLayoutRejectsDuplicateLock(t *testing.T) {
	_, err := ParseLayout([]byte(`
locks:
  - {id: room_1, entity_id: lock.a, name: A, house: main, type: room}
  - {id: room_1, entity_id: lock.b, name: B, house: main, type: room}
calendars:
  - {id: cal_a, name: A, type: room, url: "http://example.com/a.ics", slots: {a: 2, b: 3}}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate lock")
}

func TestParseLayoutRejectsUnknownLockType(t *testing.T) {
	_, err := ParseLayout([]byte(`
locks:
  - {id: room_1, entity_id: lock.a, name: A, house: main, type: garage}
calendars:
  - {id: cal_a, name: A, type: room, url: "http://example.com/a.ics", slots: {a: 2, b: 3}}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown lock type")
}

func TestParseLayoutRejectsUnknownCalendarReference(t *testing.T) {
	_, err := ParseLayout([]byte(`
locks:
  - {id: room_1, entity_id: lock.a, name: A, house: main, type: room, calendars: [cal_missing]}
calendars:
  - {id: cal_a, name: A, type: room, url: "http://example.com/a.ics", slots: {a: 2, b: 3}}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown calendar")
}

func TestParseLayoutRejectsDegeneratePair(t *testing.T) {
	_, err := ParseLayout([]byte(`
locks:
  - {id: room_1, entity_id: lock.a, name: A, house: main, type: room}
calendars:
  - {id: cal_a, name: A, type: room, url: "http://example.com/a.ics", slots: {a: 2, b: 2}}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "distinct")
}

func TestParseLayoutAllowsWholeHouseShare(t *testing.T) {
	layout, err := ParseLayout([]byte(`
locks:
  - {id: front, entity_id: lock.front, name: Front, house: main, type: front}
calendars:
  - {id: cal_whole, name: Whole, type: whole_house, url: "http://example.com/w.ics", slots: {a: 18, b: 19}}
  - {id: cal_both, name: Both, type: both_houses, url: "http://example.com/b.ics", slots: {a: 18, b: 19}}
`))
	require.NoError(t, err)
	assert.Equal(t, layout.Calendars[0].Slots, layout.Calendars[1].Slots)
}

func TestLocksForCalendar(t *testing.T) {
	layout, err := ParseLayout([]byte(validLayout))
	require.NoError(t, err)

	locks := layout.LocksForCalendar("cal_room_1")
	require.Len(t, locks, 2)
	assert.Empty(t, layout.LocksForCalendar("cal_missing"))
}
