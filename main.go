package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"runclub-milestones/internal/config"
	"runclub-milestones/internal/database"
	"runclub-milestones/internal/handlers"
	"runclub-milestones/internal/metrics"
	"runclub-milestones/internal/middleware"
	"runclub-milestones/internal/milestones"
	"runclub-milestones/internal/secretbox"
	"runclub-milestones/internal/strava"
	"runclub-milestones/internal/tokens"
	"runclub-milestones/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting runclub-milestones server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"season_timezone", cfg.SeasonTimezone.String(),
		"log_level", cfg.LogLevel)

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	// Wire up components
	box, err := secretbox.New(cfg.TokenCryptoKey)
	if err != nil {
		logger.Error("Failed to initialize token encryption", "error", err)
		os.Exit(1)
	}

	stravaClient := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret)
	tokenManager := tokens.NewManager(db, stravaClient, box)
	evaluator := milestones.NewEvaluator(db, cfg.SeasonTimezone)
	workerInstance := worker.NewWorker(db, stravaClient, tokenManager, evaluator, cfg)

	// Create handlers
	webhookHandler := handlers.NewWebhookHandler(db, cfg)
	cronHandler := handlers.NewCronHandler(workerInstance, cfg)
	oauthHandler := handlers.NewOAuthHandler(stravaClient, tokenManager, cfg)

	// Set up HTTP routes
	mux := http.NewServeMux()

	mux.Handle("/webhooks", middleware.WrapHandler(metrics.EndpointWebhook, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			webhookHandler.HandleVerification(w, r)
		case http.MethodPost:
			webhookHandler.HandleEvent(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	mux.Handle("/cron/process-queue", middleware.WrapHandler(metrics.EndpointCron, cronHandler.HandleProcessQueue))

	mux.Handle("/oauth/connect", middleware.WrapHandler(metrics.EndpointOAuthConnect, oauthHandler.HandleConnect))
	mux.Handle("/oauth/callback", middleware.WrapHandler(metrics.EndpointOAuthCallback, oauthHandler.HandleCallback))

	mux.Handle("/health", middleware.WrapHandler(metrics.EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(); err != nil {
			http.Error(w, "Unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  35 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	// Internal scheduler is optional; most deployments drive the worker via
	// the cron endpoint instead
	if cfg.WorkerInterval > 0 {
		go func() {
			if err := workerInstance.Start(backgroundCtx); err != nil && err != context.Canceled {
				logger.Error("Queue worker failed", "error", err)
			}
		}()
	}

	// Start queue depth collector if metrics are enabled
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting queue depth collector")
			metrics.StartQueueDepthCollector(backgroundCtx, db, 15*time.Second)
		}()
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	backgroundCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
