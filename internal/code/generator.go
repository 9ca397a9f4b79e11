package code

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rental-code-manager/backend/internal/storage/models"
)

// ValidationError reports input rejected at a boundary. Validation is
// synchronous; a rejected value never becomes a sync operation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Generator derives guest codes from bookings and validates code values.
type Generator struct {
	minLength int
	maxLength int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator enforcing the configured length bounds.
func NewGenerator(minLength, maxLength int) *Generator {
	return &Generator{
		minLength: minLength,
		maxLength: maxLength,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Validate checks that a code is a numeric string within the configured
// length bounds.
func (g *Generator) Validate(code string) error {
	if len(code) < g.minLength || len(code) > g.maxLength {
		return &ValidationError{Message: fmt.Sprintf("code must be %d-%d digits, got %d", g.minLength, g.maxLength, len(code))}
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return &ValidationError{Message: "code must contain only digits"}
		}
	}
	return nil
}

// Derive computes the code for a booking. A finalized code always wins.
// Otherwise the last four digits of the guest phone number are used; when
// the phone yields fewer than four digits the booking's stored fallback
// code is reused, or a fresh random one is generated. The second return
// value reports that a new fallback was generated and should be persisted
// so the booking's code stays stable across refreshes.
//
// The returned code never equals any of the reserved codes: on collision
// it is perturbed by incrementing with wraparound, which keeps
// re-derivation deterministic.
func (g *Generator) Derive(booking *models.Booking, reserved []string) (string, bool) {
	if booking.CodeLocked() {
		return avoidReserved(*booking.LockedCode, reserved), false
	}

	if booking.Phone != nil {
		digits := digitsOf(*booking.Phone)
		if len(digits) >= 4 {
			return avoidReserved(digits[len(digits)-4:], reserved), false
		}
	}

	if booking.FallbackCode != nil && *booking.FallbackCode != "" {
		return avoidReserved(*booking.FallbackCode, reserved), false
	}

	return avoidReserved(g.randomCode(), reserved), true
}

// RandomCode returns a random four-digit code in 1000-9999, suitable for
// emergency code rotation and phone-less bookings.
func (g *Generator) RandomCode() string {
	return g.randomCode()
}

func (g *Generator) randomCode() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("%04d", 1000+g.rng.Intn(9000))
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// avoidReserved perturbs a code away from reserved values by incrementing
// it with wraparound at its digit width, preserving the length.
func avoidReserved(code string, reserved []string) string {
	for i := 0; i < len(reserved)+1; i++ {
		if !contains(reserved, code) {
			return code
		}
		code = incrementCode(code)
	}
	return code
}

func incrementCode(code string) string {
	limit := 1
	for range code {
		limit *= 10
	}

	var num int
	fmt.Sscanf(code, "%d", &num)
	num = (num + 1) % limit

	return fmt.Sprintf("%0*d", len(code), num)
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
