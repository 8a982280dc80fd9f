// Package main is the entry point for the generation API server.
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

	"github.com/capitalize-ai/generation-orchestrator/internal/config"
	"github.com/capitalize-ai/generation-orchestrator/internal/generation"
	"github.com/capitalize-ai/generation-orchestrator/internal/handler"
	"github.com/capitalize-ai/generation-orchestrator/internal/middleware"
	natsclient "github.com/capitalize-ai/generation-orchestrator/internal/nats"
	"github.com/capitalize-ai/generation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/generation-orchestrator/internal/registry"
	"github.com/capitalize-ai/generation-orchestrator/internal/store"
	"github.com/capitalize-ai/generation-orchestrator/internal/throttle"
	"github.com/capitalize-ai/generation-orchestrator/internal/version"
	"github.com/capitalize-ai/generation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/generation-orchestrator/pkg/tracing"
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

	log.Info("starting generation API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "generation-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	nc, err := natsclient.Connect(natsclient.Config{
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
	defer nc.Close()

	// Ensure the JetStream stream backing the persistence hook exists
	streamManager := natsclient.NewStreamManager(nc)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize provider adapters
	var providers []generation.Service
	if cfg.AnthropicAPIKey != "" {
		svc, err := generation.NewAnthropicService(cfg.AnthropicAPIKey, cfg.ProxyURL)
		if err != nil {
			log.Warn("failed to create Anthropic service", zap.Error(err))
		} else {
			providers = append(providers, svc)
		}
	}
	if cfg.OpenAIAPIKey != "" {
		svc, err := generation.NewOpenAIService(cfg.OpenAIAPIKey, cfg.ProxyURL)
		if err != nil {
			log.Warn("failed to create OpenAI service", zap.Error(err))
		} else {
			providers = append(providers, svc)
		}
	}
	if len(providers) == 0 {
		log.Warn("no provider configured, generation requests will be rejected")
	}
	service := generation.NewRouter(providers...)

	// Initialize orchestration components
	sessionStore := store.New(streamManager.PersistHook(), log)
	ledger := version.NewLedger()
	throttler := throttle.New(log)
	jobRegistry := registry.New(log)
	credentials := generation.NewKeyPool(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	titles := generation.NewServiceTitleGenerator(service, cfg.DefaultModel, "")

	orch := orchestrator.New(
		sessionStore,
		ledger,
		throttler,
		jobRegistry,
		service,
		generation.TextContentBuilder{},
		credentials,
		titles,
		orchestrator.Defaults{
			ModelID:         cfg.DefaultModel,
			MaxOutputTokens: cfg.MaxOutputTokens,
			RequestTimeout:  cfg.RequestTimeout,
		},
		log,
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(nc)
	conversationHandler := handler.NewConversationHandler(sessionStore, log)
	generateHandler := handler.NewGenerateHandler(orch, sessionStore, streamManager, log)

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
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/generate", generateHandler.Send)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/loading", generateHandler.Loading)
			r.Post("/{id}/cancel", generateHandler.Cancel)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Post("/messages/{messageID}/version", conversationHandler.RestoreVersion)
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

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
