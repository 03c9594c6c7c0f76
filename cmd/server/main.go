package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/joho/godotenv"

	"github.com/shehryarbajwa/bottle-rewards/internal/api"
	"github.com/shehryarbajwa/bottle-rewards/internal/backend"
	"github.com/shehryarbajwa/bottle-rewards/internal/config"
	"github.com/shehryarbajwa/bottle-rewards/internal/details"
	"github.com/shehryarbajwa/bottle-rewards/internal/events"
	"github.com/shehryarbajwa/bottle-rewards/internal/ratelimit"
	"github.com/shehryarbajwa/bottle-rewards/internal/records"
	"github.com/shehryarbajwa/bottle-rewards/internal/session"
	"github.com/shehryarbajwa/bottle-rewards/internal/stream"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg)

	if envErr != nil {
		log.Info("No .env file found, using system environment variables")
	}

	log.Info("Starting bottle rewards dashboard...")

	// Backend client shared by detection and records
	client := backend.NewClient(cfg.BackendURL, backend.NewHTTPClient(cfg.BackendTimeout))
	log.Infof("Detection backend at %s", client.BaseURL())

	// Records poller
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	poller := records.NewPoller(client, cfg.RecordsPollInterval)
	go poller.Run(ctx)
	log.Infof("Records poller started (every %s)", cfg.RecordsPollInterval)

	// Optional event publisher
	var notifier details.Notifier
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			log.WithError(err).Fatal("Failed to create event publisher")
		}
		defer publisher.Close()
		log.Infof("Publishing detection events to exchange %s", publisher.Exchange())
		notifier = publisher
	} else {
		log.Info("AMQP_URL not set, detection events are not published")
	}

	detailsMgr := details.NewManager(cfg.DetailsTTL, notifier)
	defer detailsMgr.Close()

	sessionMgr := session.NewManager(client, detailsMgr, session.Config{
		Mode: cfg.DetectionMode,
		Timings: session.Timings{
			StartingDelay:      cfg.StageStartingDelay,
			ScanningDelay:      cfg.StageScanningDelay,
			ProcessingDelay:    cfg.StageProcessingDelay,
			AnalyzeDelay:       cfg.AnalyzeDelay,
			NoDetectionDismiss: cfg.NoDetectionDismissDelay,
			FailureDismiss:     cfg.FailureDismissDelay,
		},
		MaxViewsPerClient:       cfg.MaxViewsPerClient,
		MaxConcurrentDetections: cfg.MaxConcurrentDetections,
		IdleTimeout:             cfg.SessionIdleTimeout,
	})
	defer sessionMgr.Close()

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	streamServer := stream.NewServer(sessionMgr, rateLimiter)

	// Setup HTTP handlers
	sessionHandler := api.NewHandler(sessionMgr)
	router := sessionHandler.SetupRoutes(
		api.NewDetailsHandler(detailsMgr),
		api.NewRecordsHandler(poller, client),
		streamServer,
		rateLimiter,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Server starting on :%s", cfg.Port)
		log.Infof("Rate limit: %d requests/hour per client", cfg.RateLimitPerHour)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server gracefully...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server stopped cleanly")
}

func setupLogging(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.SetHandler(jsonhandler.New(os.Stderr))
	} else {
		log.SetHandler(text.New(os.Stderr))
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
