package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/revguard/revguard/internal/alerts/adapters"
	"github.com/revguard/revguard/internal/config"
	"github.com/revguard/revguard/internal/database"
	"github.com/revguard/revguard/internal/handlers"
	"github.com/revguard/revguard/internal/jobs"
	"github.com/revguard/revguard/internal/middleware"
	"github.com/revguard/revguard/internal/notify"
	"github.com/revguard/revguard/internal/services"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting RevGuard...")

	// Initialize JWT authentication middleware
	if cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD is not set")
	}

	// Hash the admin password
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to hash admin password: %v", err)
	}

	jwtAuthMiddleware := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/webhook/*",
			"/auth/login",
			"/ws/*",
		},
	})
	log.Printf("JWT authentication enabled for user: %s", cfg.AdminUsername)

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Printf("Database connection established")

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize default database records
	if err := database.InitializeDefaults(); err != nil {
		log.Fatalf("Failed to initialize database defaults: %v", err)
	}

	db := database.GetDB()

	// Apply declarative provisioning (teams, users, assignment rules)
	if err := config.ApplyProvisioningFromFile(db, cfg.RulesFile); err != nil {
		log.Fatalf("Failed to apply provisioning: %v", err)
	}

	// Initialize services
	historyService := services.NewHistoryService(db)
	assignmentService := services.NewAssignmentService(db)
	lifecycleService := services.NewLifecycleService(db)
	correlationService := services.NewCorrelationService(db, historyService, assignmentService, lifecycleService)
	log.Printf("Correlation services initialized")

	// Initialize event sinks
	eventsHandler := handlers.NewEventsWSHandler()
	lifecycleService.AddSink(eventsHandler)

	if notifier := notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackAlertsChannel); notifier != nil {
		lifecycleService.AddSink(notifier)
		log.Printf("Slack notifications enabled for channel %s", cfg.SlackAlertsChannel)
	} else {
		log.Printf("Slack notifications disabled (set SLACK_TOKEN and SLACK_ALERTS_CHANNEL to enable)")
	}

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(adapters.NewGrafanaAdapter(), correlationService, cfg.WebhookSecret)
	caseHandler := handlers.NewCaseHandler(db, historyService, lifecycleService)
	authHandler := handlers.NewAuthHandler(jwtAuthMiddleware)
	httpHandler := handlers.NewHTTPHandler(webhookHandler, caseHandler, authHandler, eventsHandler)

	// Set up HTTP server routes
	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)

	// Wrap all routes with CORS middleware first, then JWT authentication
	corsMiddleware := middleware.NewCORSMiddleware() // Allow all origins
	handler := middleware.RequestIDMiddleware(corsMiddleware.Wrap(jwtAuthMiddleware.Wrap(mux)))

	// Start SLA monitor
	stopMonitor := make(chan struct{})
	slaMonitor := jobs.NewSLAMonitor(db, lifecycleService)
	go slaMonitor.Start(time.Duration(cfg.SLACheckIntervalSeconds)*time.Second, stopMonitor)
	log.Printf("SLA monitor started (interval %ds)", cfg.SLACheckIntervalSeconds)

	// Start HTTP server in goroutine
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler,
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Alert webhook endpoint: http://localhost:%d/webhook/alert/grafana", cfg.HTTPPort)
	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api", cfg.HTTPPort)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, cleaning up...")

	close(stopMonitor)

	log.Println("Shutting down HTTP server...")
	if err := httpServer.Close(); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("Shutdown complete")
}
