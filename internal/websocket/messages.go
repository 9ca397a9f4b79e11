package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	TypeOperationUpdated      MessageType = "operation.updated"
	TypeBatchUpdated          MessageType = "batch.updated"
	TypeCalendarSyncCompleted MessageType = "calendar.sync_completed"
	TypeCalendarSyncError     MessageType = "calendar.sync_error"
	TypeNotification          MessageType = "notification"
)

// Message is the WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// OperationPayload is the payload for operation.updated events.
type OperationPayload struct {
	OperationID  string  `json:"operation_id"`
	LockID       string  `json:"lock_id"`
	SlotNumber   int     `json:"slot_number"`
	Action       string  `json:"action"`
	State        string  `json:"state"`
	AttemptCount int     `json:"attempt_count"`
	LastError    *string `json:"last_error,omitempty"`
	BatchID      *string `json:"batch_id,omitempty"`
}

// BatchPayload is the payload for batch.updated events.
type BatchPayload struct {
	BatchID   string `json:"batch_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Pending   int    `json:"pending"`
}

// CalendarSyncPayload is the payload for calendar.sync_completed events.
type CalendarSyncPayload struct {
	CalendarID      string `json:"calendar_id"`
	EventsFound     int    `json:"events_found"`
	BookingsCreated int    `json:"bookings_created"`
	BookingsUpdated int    `json:"bookings_updated"`
}

// CalendarSyncErrorPayload is the payload for calendar.sync_error events.
type CalendarSyncErrorPayload struct {
	CalendarID string `json:"calendar_id"`
	Message    string `json:"message"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}
