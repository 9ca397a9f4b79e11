// Package config loads process settings from the environment and the
// house layout (locks, calendars, slot table) from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

// Tie-break policies for overlapping bookings mapped to one slot.
const (
	TieBreakEarliestCheckIn = "earliest_checkin"
	TieBreakEarliestCreated = "earliest_created"
)

// Settings holds process configuration, read from RENTAL_-prefixed
// environment variables.
type Settings struct {
	Addr       string `envconfig:"ADDR" default:":8099"`
	DataDir    string `envconfig:"DATA_DIR" default:"/data"`
	LayoutPath string `envconfig:"LAYOUT_PATH" default:"/data/layout.yaml"`
	StaticDir  string `envconfig:"STATIC_DIR" default:"./static"`

	HAURL   string `envconfig:"HA_URL" default:"http://supervisor/core"`
	HAToken string `envconfig:"HA_TOKEN"`

	CalendarPollMinutes int `envconfig:"CALENDAR_POLL_MINUTES" default:"15"`
	ReconcileSeconds    int `envconfig:"RECONCILE_SECONDS" default:"30"`

	MaxRetries         int `envconfig:"MAX_RETRIES" default:"3"`
	BackoffBaseSeconds int `envconfig:"BACKOFF_BASE_SECONDS" default:"30"`
	BackoffCapSeconds  int `envconfig:"BACKOFF_CAP_SECONDS" default:"600"`
	DispatchTimeoutSec int `envconfig:"DISPATCH_TIMEOUT_SECONDS" default:"120"`
	HouseWorkers       int `envconfig:"HOUSE_WORKERS" default:"2"`

	CodeMinLength int `envconfig:"CODE_MIN_LENGTH" default:"4"`
	CodeMaxLength int `envconfig:"CODE_MAX_LENGTH" default:"8"`

	TieBreak string `envconfig:"TIE_BREAK" default:"earliest_checkin"`
}

// LoadSettings reads settings from the environment.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("RENTAL", &s); err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	if s.CodeMinLength < 4 {
		s.CodeMinLength = 4
	}
	if s.CodeMaxLength > 8 {
		s.CodeMaxLength = 8
	}
	if s.CodeMaxLength < s.CodeMinLength {
		s.CodeMaxLength = s.CodeMinLength
	}
	if s.TieBreak != TieBreakEarliestCheckIn && s.TieBreak != TieBreakEarliestCreated {
		return nil, fmt.Errorf("unknown tie-break policy %q", s.TieBreak)
	}

	return &s, nil
}

// BackoffBase returns the base retry delay as a duration.
func (s *Settings) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseSeconds) * time.Second
}

// BackoffCap returns the retry delay cap as a duration.
func (s *Settings) BackoffCap() time.Duration {
	return time.Duration(s.BackoffCapSeconds) * time.Second
}

// DispatchTimeout returns the per-operation transport timeout.
func (s *Settings) DispatchTimeout() time.Duration {
	return time.Duration(s.DispatchTimeoutSec) * time.Second
}

// SlotPair is the pair of slot numbers a calendar may occupy. Two slots
// per calendar allow back-to-back bookings to hold codes simultaneously.
type SlotPair struct {
	A int `yaml:"a"`
	B int `yaml:"b"`
}

// Contains reports whether the pair includes the given slot number.
func (p SlotPair) Contains(slot int) bool {
	return slot == p.A || slot == p.B
}

// LockLayout configures a single lock.
type LockLayout struct {
	ID             string   `yaml:"id"`
	EntityID       string   `yaml:"entity_id"`
	Name           string   `yaml:"name"`
	HouseCode      string   `yaml:"house"`
	LockType       string   `yaml:"type"`
	StaggerMinutes int      `yaml:"stagger_minutes"`
	Calendars      []string `yaml:"calendars"`
}

// CalendarLayout configures a single calendar feed.
type CalendarLayout struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	CalendarType string   `yaml:"type"`
	URL          string   `yaml:"url"`
	Slots        SlotPair `yaml:"slots"`
}

// Layout is the full house configuration.
type Layout struct {
	Locks     []LockLayout     `yaml:"locks"`
	Calendars []CalendarLayout `yaml:"calendars"`
}

// LoadLayout reads and validates the layout YAML file.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout file: %w", err)
	}

	return ParseLayout(data)
}

// ParseLayout parses and validates layout YAML.
func ParseLayout(data []byte) (*Layout, error) {
	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}

	if err := layout.Validate(); err != nil {
		return nil, err
	}

	return &layout, nil
}

// Validate checks the slot table and lock/calendar references. The slot
// table must be injective on slots 2-19, with one documented exception:
// a whole-house calendar may share its pair with a both-houses calendar.
func (l *Layout) Validate() error {
	if len(l.Locks) == 0 {
		return fmt.Errorf("layout has no locks")
	}
	if len(l.Calendars) == 0 {
		return fmt.Errorf("layout has no calendars")
	}

	calTypes := make(map[string]string, len(l.Calendars))
	slotOwner := make(map[int]string)

	for _, cal := range l.Calendars {
		if _, dup := calTypes[cal.ID]; dup {
			return fmt.Errorf("duplicate calendar id %q", cal.ID)
		}
		calTypes[cal.ID] = cal.CalendarType

		if cal.Slots.A == cal.Slots.B {
			return fmt.Errorf("calendar %q: slot pair must be two distinct slots", cal.ID)
		}

		for _, slot := range []int{cal.Slots.A, cal.Slots.B} {
			if slot <= models.MasterCodeSlot || slot >= models.EmergencyCodeSlot {
				return fmt.Errorf(
					"calendar %q: slot %d outside guest range 2-19", cal.ID, slot)
			}
			if owner, taken := slotOwner[slot]; taken {
				if !slotShareAllowed(calTypes[owner], cal.CalendarType) {
					return fmt.Errorf(
						"slot %d assigned to both %q and %q", slot, owner, cal.ID)
				}
				continue
			}
			slotOwner[slot] = cal.ID
		}
	}

	lockIDs := make(map[string]bool, len(l.Locks))
	for _, lock := range l.Locks {
		if lockIDs[lock.ID] {
			return fmt.Errorf("duplicate lock id %q", lock.ID)
		}
		lockIDs[lock.ID] = true

		switch lock.LockType {
		case models.LockTypeRoom, models.LockTypeBathroom, models.LockTypeKitchen,
			models.LockTypeFront, models.LockTypeBack, models.LockTypeStorage:
		default:
			return fmt.Errorf("lock %q: unknown lock type %q", lock.ID, lock.LockType)
		}

		for _, calID := range lock.Calendars {
			if _, ok := calTypes[calID]; !ok {
				return fmt.Errorf("lock %q references unknown calendar %q", lock.ID, calID)
			}
		}
	}

	return nil
}

// slotShareAllowed reports whether two calendar types may share a slot
// pair. Only the whole-house/both-houses combination is permitted.
func slotShareAllowed(a, b string) bool {
	if a == models.CalendarTypeWholeHouse && b == models.CalendarTypeBothHouses {
		return true
	}
	if a == models.CalendarTypeBothHouses && b == models.CalendarTypeWholeHouse {
		return true
	}
	return false
}

// SlotTable returns the calendar-to-slot-pair mapping.
func (l *Layout) SlotTable() map[string]SlotPair {
	table := make(map[string]SlotPair, len(l.Calendars))
	for _, cal := range l.Calendars {
		table[cal.ID] = cal.Slots
	}
	return table
}

// LocksForCalendar returns the lock layouts granting access for a calendar.
func (l *Layout) LocksForCalendar(calendarID string) []LockLayout {
	var locks []LockLayout
	for _, lock := range l.Locks {
		for _, calID := range lock.Calendars {
			if calID == calendarID {
				locks = append(locks, lock)
				break
			}
		}
	}
	return locks
}
