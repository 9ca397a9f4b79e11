package websocket

import (
	"log"

	"github.com/rental-code-manager/backend/internal/calendar"
	"github.com/rental-code-manager/backend/internal/storage/models"
)

// EventBroadcaster turns engine state changes into WebSocket messages.
// It satisfies the orchestrator's Notifier interface.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// OperationUpdated broadcasts a sync operation state change.
func (b *EventBroadcaster) OperationUpdated(op *models.SyncOperation) {
	payload := OperationPayload{
		OperationID:  op.ID,
		LockID:       op.LockID,
		SlotNumber:   op.SlotNumber,
		Action:       op.Action,
		State:        op.State,
		AttemptCount: op.AttemptCount,
		LastError:    op.LastError,
		BatchID:      op.BatchID,
	}
	b.broadcast(NewMessage(TypeOperationUpdated, payload))
}

// BatchUpdated broadcasts aggregate batch counts.
func (b *EventBroadcaster) BatchUpdated(summary *models.BatchSummary) {
	payload := BatchPayload{
		BatchID:   summary.BatchID,
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Pending:   summary.Pending,
	}
	b.broadcast(NewMessage(TypeBatchUpdated, payload))
}

// CalendarSynced broadcasts the outcome of one calendar refresh.
func (b *EventBroadcaster) CalendarSynced(result calendar.SyncResult) {
	if result.Error != "" {
		b.broadcast(NewMessage(TypeCalendarSyncError, CalendarSyncErrorPayload{
			CalendarID: result.CalendarID,
			Message:    result.Error,
		}))
		return
	}

	b.broadcast(NewMessage(TypeCalendarSyncCompleted, CalendarSyncPayload{
		CalendarID:      result.CalendarID,
		EventsFound:     result.EventsFound,
		BookingsCreated: result.BookingsCreated,
		BookingsUpdated: result.BookingsUpdated,
	}))
}

// Notify broadcasts a free-form notification to all clients.
func (b *EventBroadcaster) Notify(level, title, message string) {
	b.broadcast(NewMessage(TypeNotification, NotificationPayload{
		Level:   level,
		Title:   title,
		Message: message,
	}))
}

func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		log.Printf("Error encoding WebSocket message: %v", err)
		return
	}
	b.hub.Broadcast(data)
}
