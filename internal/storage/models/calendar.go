package models

import (
	"time"
)

// Calendar types. Whole-house and both-houses calendars share a slot pair
// and trigger the whole-house check-in/check-out routines.
const (
	CalendarTypeRoom       = "room"
	CalendarTypeSuite      = "suite"
	CalendarTypeWholeHouse = "whole_house"
	CalendarTypeBothHouses = "both_houses"
)

// Calendar tracks the fetch state of one configured calendar feed. A fetch
// failure only marks the calendar degraded; it never clears codes derived
// from the last successful fetch.
type Calendar struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	CalendarType   string     `json:"calendar_type"`
	URL            string     `json:"url"`
	LastFetched    *time.Time `json:"last_fetched,omitempty"`
	LastFetchError *string    `json:"last_fetch_error,omitempty"`
}

// Degraded reports whether the most recent fetch attempt failed.
func (c *Calendar) Degraded() bool {
	return c.LastFetchError != nil && *c.LastFetchError != ""
}
