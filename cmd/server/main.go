// Package main is the entry point for the rental code manager server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rental-code-manager/backend/internal/api"
	"github.com/rental-code-manager/backend/internal/audit"
	"github.com/rental-code-manager/backend/internal/calendar"
	"github.com/rental-code-manager/backend/internal/config"
	"github.com/rental-code-manager/backend/internal/storage"
	enginesync "github.com/rental-code-manager/backend/internal/sync"
	"github.com/rental-code-manager/backend/internal/transport"
	"github.com/rental-code-manager/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(settings.Addr); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}
	log.Printf("Starting Rental Code Manager (version: %s)...", version)

	layout, err := config.LoadLayout(settings.LayoutPath)
	if err != nil {
		log.Fatalf("Failed to load layout: %v", err)
	}
	log.Printf("Layout loaded: %d locks, %d calendars", len(layout.Locks), len(layout.Calendars))

	// Initialize database
	db, err := storage.NewDB(filepath.Join(settings.DataDir, "rental-code-manager.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations complete")

	// Initialize repositories and seed them from the layout
	lockRepo := storage.NewLockRepository(db)
	bookingRepo := storage.NewBookingRepository(db)
	operationRepo := storage.NewOperationRepository(db)
	calendarRepo := storage.NewCalendarRepository(db)
	auditRepo := storage.NewAuditRepository(db)

	ctx := context.Background()
	if err := lockRepo.SeedFromLayout(ctx, layout); err != nil {
		log.Fatalf("Failed to seed locks: %v", err)
	}
	if err := calendarRepo.SeedFromLayout(ctx, layout); err != nil {
		log.Fatalf("Failed to seed calendars: %v", err)
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()
	events := websocket.NewEventBroadcaster(hub)

	// Initialize the engine
	recorder := audit.NewRecorder(auditRepo)
	device := transport.NewHAClient(transport.Config{
		BaseURL: settings.HAURL,
		Token:   settings.HAToken,
		Timeout: settings.DispatchTimeout(),
	})

	orchestrator := enginesync.NewOrchestrator(
		lockRepo, bookingRepo, operationRepo, recorder, device, layout, settings)
	orchestrator.SetNotifier(events)
	coordinator := enginesync.NewCoordinator(orchestrator, lockRepo)

	ingestor := calendar.NewIngestor(
		layout, bookingRepo, calendarRepo, recorder, orchestrator.Generator())

	// Start schedulers
	calendarScheduler := calendar.NewScheduler(ingestor, settings.CalendarPollMinutes)
	syncScheduler := enginesync.NewScheduler(orchestrator, coordinator, settings.ReconcileSeconds)
	calendarScheduler.Start()
	syncScheduler.Start()

	// Converge slot state immediately after a restart instead of waiting
	// for the first scheduled tick.
	go syncScheduler.RunNow()

	// Initialize HTTP router
	router := api.NewRouter(api.Deps{
		DB:           db,
		Layout:       layout,
		Locks:        lockRepo,
		Bookings:     bookingRepo,
		Operations:   operationRepo,
		Calendars:    calendarRepo,
		Audit:        auditRepo,
		Orchestrator: orchestrator,
		Coordinator:  coordinator,
		Ingestor:     ingestor,
		Device:       device,
		Recorder:     recorder,
		Hub:          hub,
		Events:       events,
		StaticDir:    settings.StaticDir,
	})

	server := &http.Server{
		Addr:         settings.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Server listening on %s", settings.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	calendarScheduler.Stop()
	syncScheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.ErrAbortHandler
	}
	return nil
}
