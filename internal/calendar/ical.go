// Package calendar fetches and parses iCal booking feeds and turns their
// events into booking records.
package calendar

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

// Event is a single VEVENT from an iCal feed.
type Event struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Parser parses iCal/ICS calendar feeds.
type Parser struct {
	httpClient *http.Client
}

// NewParser creates a new iCal parser.
func NewParser() *Parser {
	return &Parser{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch downloads and parses an iCal feed from a URL.
func (p *Parser) Fetch(url string) ([]Event, error) {
	resp, err := p.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar returned status %d", resp.StatusCode)
	}

	return p.Parse(resp.Body)
}

// Parse reads and parses iCal data from a reader.
func (p *Parser) Parse(r io.Reader) ([]Event, error) {
	var events []Event
	var currentEvent *Event
	var currentField string
	var multilineValue strings.Builder

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		// Line continuations start with space or tab
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if currentField != "" {
				multilineValue.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, " "), "\t"))
			}
			continue
		}

		if currentField != "" && currentEvent != nil {
			p.setEventField(currentEvent, currentField, multilineValue.String())
		}
		currentField = ""
		multilineValue.Reset()

		colonIdx := strings.Index(line, ":")
		if colonIdx == -1 {
			continue
		}

		field := line[:colonIdx]
		value := line[colonIdx+1:]

		// Strip property parameters (e.g. DTSTART;VALUE=DATE:20231215)
		if semicolonIdx := strings.Index(field, ";"); semicolonIdx != -1 {
			field = field[:semicolonIdx]
		}

		switch field {
		case "BEGIN":
			if value == "VEVENT" {
				currentEvent = &Event{}
			}
		case "END":
			if value == "VEVENT" && currentEvent != nil {
				if !currentEvent.Start.IsZero() && !currentEvent.End.IsZero() {
					events = append(events, *currentEvent)
				}
				currentEvent = nil
			}
		case "UID", "SUMMARY", "DESCRIPTION", "DTSTART", "DTEND":
			if currentEvent != nil {
				currentField = field
				multilineValue.WriteString(value)
			}
		}
	}

	if currentField != "" && currentEvent != nil {
		p.setEventField(currentEvent, currentField, multilineValue.String())
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading calendar: %w", err)
	}

	return events, nil
}

func (p *Parser) setEventField(event *Event, field, value string) {
	value = strings.ReplaceAll(value, "\\n", "\n")
	value = strings.ReplaceAll(value, "\\,", ",")
	value = strings.ReplaceAll(value, "\\;", ";")
	value = strings.ReplaceAll(value, "\\\\", "\\")

	switch field {
	case "UID":
		event.UID = value
	case "SUMMARY":
		event.Summary = value
	case "DESCRIPTION":
		event.Description = value
	case "DTSTART":
		event.Start = p.parseDateTime(value)
	case "DTEND":
		event.End = p.parseDateTime(value)
	}
}

func (p *Parser) parseDateTime(value string) time.Time {
	formats := []string{
		"20060102T150405Z",
		"20060102T150405",
		"20060102",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t
		}
	}

	return time.Time{}
}

// Booking channel metadata embedded in event descriptions.
var (
	phonePattern         = regexp.MustCompile(`Phone:\s*(\+?[\d\s-]+)`)
	channelPattern       = regexp.MustCompile(`Channel:\s*(\S+)`)
	reservationIDPattern = regexp.MustCompile(`ReservationID:\s*(\S+)`)
)

// ToBookingRecord converts an event into a booking record. An event with
// an empty summary or a "blocked" marker is a calendar placeholder, not a
// real guest.
func ToBookingRecord(e Event) models.BookingRecord {
	summary := strings.TrimSpace(e.Summary)
	blocked := summary == "" || strings.EqualFold(summary, "blocked")

	rec := models.BookingRecord{
		UID:          e.UID,
		GuestName:    summary,
		CheckInDate:  e.Start,
		CheckOutDate: e.End,
		IsBlocked:    blocked,
	}
	if blocked && rec.GuestName == "" {
		rec.GuestName = "blocked"
	}

	if m := phonePattern.FindStringSubmatch(e.Description); m != nil {
		rec.Phone = strings.TrimSpace(m[1])
	}
	if m := channelPattern.FindStringSubmatch(e.Description); m != nil {
		rec.Channel = m[1]
	}
	if m := reservationIDPattern.FindStringSubmatch(e.Description); m != nil {
		rec.ReservationID = m[1]
	}

	return rec
}

// FilterFutureEvents returns only events that haven't ended yet.
func FilterFutureEvents(events []Event, now time.Time) []Event {
	var future []Event
	for _, e := range events {
		if e.End.After(now) {
			future = append(future, e)
		}
	}
	return future
}
