// Package main is the entry point for the session sync daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/session-sync/internal/broadcast"
	"github.com/capitalize-ai/session-sync/internal/config"
	"github.com/capitalize-ai/session-sync/internal/controller"
	"github.com/capitalize-ai/session-sync/internal/durable"
	"github.com/capitalize-ai/session-sync/internal/handler"
	"github.com/capitalize-ai/session-sync/internal/llm"
	"github.com/capitalize-ai/session-sync/internal/middleware"
	natsclient "github.com/capitalize-ai/session-sync/internal/nats"
	"github.com/capitalize-ai/session-sync/pkg/logger"
	"github.com/capitalize-ai/session-sync/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if cfg.UserID == "" {
		log.Error("SYNC_USER_ID is required: the daemon serves exactly one logged-in user")
		os.Exit(1)
	}

	log.Info("starting sync daemon", zap.String("user_id", cfg.UserID))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "session-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Durable document store over JetStream
	store := durable.NewJetStreamStore(natsClient, log)
	if err := store.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure document stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize the generation source
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	}
	if err != nil {
		log.Warn("failed to create LLM client, generation disabled", zap.Error(err))
	}

	// Build the per-login engine and start it
	engine := controller.NewEngine(controller.EngineConfig{
		UserID:            cfg.UserID,
		RecentIDExpiry:    cfg.RecentIDExpiry,
		RepublishInterval: cfg.RepublishInterval,
		DefaultModel:      cfg.DefaultModel,
	}, store, store, broadcast.NewNATSTransport(natsClient.Conn()), log)
	engine.Start(ctx)
	defer engine.Close()

	ctrl := controller.NewController(engine, llmClient, cfg.RepublishInterval, cfg.DefaultModel, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, engine)
	threadHandler := handler.NewThreadHandler(engine, ctrl, log)
	messageHandler := handler.NewMessageHandler(engine, ctrl, log)
	streamHandler := handler.NewStreamHandler(engine, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireUser(cfg.UserID))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", threadHandler.List)
			r.Post("/", threadHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", threadHandler.Update)
				r.Delete("/", threadHandler.Delete)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/stop", messageHandler.Stop)
				r.Post("/retry", messageHandler.Retry)

				r.Get("/stream", streamHandler.Stream)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
