// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rental-code-manager/backend/internal/api/handlers"
	"github.com/rental-code-manager/backend/internal/api/middleware"
	"github.com/rental-code-manager/backend/internal/audit"
	"github.com/rental-code-manager/backend/internal/calendar"
	"github.com/rental-code-manager/backend/internal/config"
	"github.com/rental-code-manager/backend/internal/storage"
	enginesync "github.com/rental-code-manager/backend/internal/sync"
	"github.com/rental-code-manager/backend/internal/transport"
	"github.com/rental-code-manager/backend/internal/websocket"
)

// Deps bundles the services and repositories the routes dispatch to.
type Deps struct {
	DB     *storage.DB
	Layout *config.Layout

	Locks      *storage.LockRepository
	Bookings   *storage.BookingRepository
	Operations *storage.OperationRepository
	Calendars  *storage.CalendarRepository
	Audit      *storage.AuditRepository

	Orchestrator *enginesync.Orchestrator
	Coordinator  *enginesync.Coordinator
	Ingestor     *calendar.Ingestor
	Device       transport.LockTransport
	Recorder     *audit.Recorder

	Hub    *websocket.Hub
	Events *websocket.EventBroadcaster

	StaticDir string
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(d.DB, d.Device)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(d.Orchestrator, d.Calendars, d.Hub)).Methods("GET")

	// WebSocket endpoint
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(d.Hub)).Methods("GET")

	// Lock and slot endpoints
	api.HandleFunc("/locks", handlers.ListLocks(d.Locks)).Methods("GET")
	api.HandleFunc("/locks/{id}", handlers.GetLock(d.Locks)).Methods("GET")
	api.HandleFunc("/locks/{id}/slots", handlers.ListLockSlots(d.Locks)).Methods("GET")
	api.HandleFunc("/locks/{id}/slots/{slot}/set", handlers.SetSlotCode(d.Orchestrator)).Methods("POST")
	api.HandleFunc("/locks/{id}/slots/{slot}/clear", handlers.ClearSlotCode(d.Orchestrator)).Methods("POST")
	api.HandleFunc("/locks/{id}/slots/{slot}/retry", handlers.RetrySlot(d.Orchestrator)).Methods("POST")
	api.HandleFunc("/locks/{id}/action", handlers.LockAction(d.Locks, d.Device, d.Recorder)).Methods("POST")
	api.HandleFunc("/locks/{id}/auto-lock", handlers.SetAutoLock(d.Locks, d.Device)).Methods("PUT")
	api.HandleFunc("/locks/{id}/audit", handlers.ListAuditByLock(d.Audit)).Methods("GET")

	// Booking endpoints
	api.HandleFunc("/bookings", handlers.ListBookings(d.Bookings)).Methods("GET")
	api.HandleFunc("/bookings/{id}", handlers.GetBooking(d.Bookings)).Methods("GET")
	api.HandleFunc("/bookings/{id}/times", handlers.GetBookingTimes(d.Bookings, d.Locks, d.Layout)).Methods("GET")
	api.HandleFunc("/bookings/{id}/disable", handlers.DisableBookingCode(d.Orchestrator)).Methods("PUT")
	api.HandleFunc("/bookings/{id}/enable", handlers.EnableBookingCode(d.Orchestrator)).Methods("PUT")
	api.HandleFunc("/bookings/{id}/overrides", handlers.ListOverrides(d.Bookings)).Methods("GET")
	api.HandleFunc("/bookings/{id}/overrides/{lockId}", handlers.PutOverride(d.Orchestrator)).Methods("PUT")
	api.HandleFunc("/bookings/{id}/overrides/{lockId}", handlers.DeleteOverride(d.Bookings, d.Orchestrator)).Methods("DELETE")

	// Operation endpoints
	api.HandleFunc("/operations", handlers.ListOperations(d.Operations)).Methods("GET")
	api.HandleFunc("/operations/failed", handlers.ListFailedOperations(d.Operations)).Methods("GET")
	api.HandleFunc("/operations/retry-all", handlers.RetryAllFailed(d.Orchestrator)).Methods("POST")
	api.HandleFunc("/operations/{id}/retry", handlers.RetryOperation(d.Orchestrator)).Methods("POST")
	api.HandleFunc("/operations/{id}/dismiss", handlers.DismissOperation(d.Orchestrator)).Methods("POST")

	// Batch endpoints
	api.HandleFunc("/batches/{id}", handlers.GetBatchSummary(d.Coordinator)).Methods("GET")
	api.HandleFunc("/batches/{id}/operations", handlers.ListBatchOperations(d.Operations)).Methods("GET")
	api.HandleFunc("/batches/{id}/retry", handlers.RetryBatch(d.Coordinator)).Methods("POST")

	// Reserved code and whole-house routines
	api.HandleFunc("/master-code", handlers.SetMasterCode(d.Coordinator)).Methods("POST")
	api.HandleFunc("/emergency-codes/randomize", handlers.RandomizeEmergencyCodes(d.Coordinator)).Methods("POST")
	api.HandleFunc("/houses/{house}/check-in", handlers.WholeHouseCheckIn(d.Coordinator)).Methods("POST")
	api.HandleFunc("/houses/{house}/check-out", handlers.WholeHouseCheckOut(d.Coordinator)).Methods("POST")

	// Calendar endpoints
	api.HandleFunc("/calendars", handlers.ListCalendars(d.Calendars)).Methods("GET")
	api.HandleFunc("/calendars/sync", handlers.SyncAllCalendars(d.Ingestor, d.Orchestrator, d.Events)).Methods("POST")
	api.HandleFunc("/calendars/{id}/sync", handlers.SyncCalendar(d.Layout, d.Ingestor, d.Orchestrator, d.Events)).Methods("POST")

	// Audit endpoints
	api.HandleFunc("/audit", handlers.ListAudit(d.Audit)).Methods("GET")
	api.HandleFunc("/audit/batch/{id}", handlers.ListAuditByBatch(d.Audit)).Methods("GET")

	// Serve static frontend files
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(d.StaticDir)))

	return r
}
