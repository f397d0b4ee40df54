package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/civicqo/be-billing/internal/client"
	"github.com/civicqo/be-billing/internal/config"
	"github.com/civicqo/be-billing/internal/database"
	"github.com/civicqo/be-billing/internal/handler"
	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/middleware"
	"github.com/civicqo/be-billing/internal/pricing"
	"github.com/civicqo/be-billing/internal/repository"
	"github.com/civicqo/be-billing/internal/scheduler"
	"github.com/civicqo/be-billing/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Billing Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	sequenceRepo := repository.NewSequenceRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	tenantRepo := repository.NewTenantRepository(db)
	quoteRepo := repository.NewQuoteRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	// Initialize collaborator clients
	var mailer client.Mailer
	if cfg.Email.ResendAPIKey != "" {
		mailer, err = client.NewResendMailer(cfg.Email.ResendAPIKey, cfg.Email.FromName, cfg.Email.FromEmail, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create mailer")
		}
	} else {
		log.Warn().Msg("RESEND_API_KEY not set, emails will be logged only")
		mailer = client.NewLogMailer(log.Logger)
	}

	pdfRenderer := client.NewHTTPPDFRenderer(cfg.PDF.RenderURL, cfg.PDF.Timeout)
	siretValidator := client.NewSIRETValidator(cfg.SIRET.SireneURL, cfg.SIRET.Token, cfg.SIRET.Timeout, log.Logger)

	// Initialize services
	catalog := pricing.DefaultCatalog()
	portalURL := cfg.Email.PortalBaseURL

	leadService := service.NewLeadService(leadRepo, tenantRepo, siretValidator, log)
	quoteService := service.NewQuoteService(quoteRepo, leadRepo, tenantRepo, sequenceRepo,
		catalog, mailer, pdfRenderer, cfg.Billing, portalURL, log)
	subscriptionService := service.NewSubscriptionService(subscriptionRepo, tenantRepo, leadRepo, cfg.Billing, log)
	orderService := service.NewOrderService(orderRepo, invoiceRepo, leadRepo, tenantRepo, sequenceRepo,
		subscriptionService, mailer, pdfRenderer, cfg.Billing, log)
	reminderService := service.NewReminderService(reminderRepo, subscriptionRepo, tenantRepo,
		mailer, cfg.Scheduler, portalURL, log)

	// Start the renewal reminder scheduler
	worker := scheduler.New(reminderService, cfg.Scheduler.Interval, log)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Setup HTTP routes
	mux := handler.Routes(
		handler.NewLeadHandler(leadService, log),
		handler.NewQuoteHandler(quoteService, log),
		handler.NewOrderHandler(orderService, log),
		handler.NewSubscriptionHandler(subscriptionService, reminderService, log),
		handler.NewWebhookHandler(subscriptionService, cfg.Server.WebhookSecret, log),
	)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop the scheduler and wait for an in-flight cycle
	cancel()
	wg.Wait()

	log.Info().Msg("Server stopped")
}
