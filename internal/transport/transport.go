// Package transport abstracts the device command channel used to program
// lock codes.
package transport

import (
	"context"
	"fmt"
)

// LockTransport is the device command channel. All calls are safe to
// retry; the engine relies on at-least-once delivery with an observable
// acknowledgment, never on exactly-once.
type LockTransport interface {
	SetCode(ctx context.Context, entityID string, slot int, code string) error
	ClearCode(ctx context.Context, entityID string, slot int) error
	Lock(ctx context.Context, entityID string) error
	Unlock(ctx context.Context, entityID string) error
	SetAutoLock(ctx context.Context, entityID string, enabled bool) error
	Notify(ctx context.Context, title, message string) error
	Ping(ctx context.Context) error
}

// Error is the single failure shape the retry state machine reasons
// about. Timeouts, rejections, and malformed responses are all normalized
// into it at the transport boundary.
type Error struct {
	Op       string
	EntityID string
	Timeout  bool
	Err      error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timed out: %v", e.Op, e.EntityID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
