// Package main is the entry point for the API server.
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
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/bridge"
	"github.com/convohub/messaging-platform/internal/channel"
	"github.com/convohub/messaging-platform/internal/config"
	"github.com/convohub/messaging-platform/internal/events"
	"github.com/convohub/messaging-platform/internal/handler"
	"github.com/convohub/messaging-platform/internal/incident"
	"github.com/convohub/messaging-platform/internal/llm"
	"github.com/convohub/messaging-platform/internal/middleware"
	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/service"
	"github.com/convohub/messaging-platform/internal/signing"
	"github.com/convohub/messaging-platform/internal/store"
	"github.com/convohub/messaging-platform/pkg/logger"
	"github.com/convohub/messaging-platform/pkg/tracing"
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

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the store
	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}

	// Mirror ops events to NATS when configured
	var mirror incident.Mirror
	if cfg.NATSURL != "" {
		pub, err := events.Connect(ctx, events.Config{URL: cfg.NATSURL, Token: cfg.NATSToken}, log)
		if err != nil {
			log.Warn("failed to connect to NATS, ops event mirroring disabled", zap.Error(err))
		} else {
			defer pub.Close()
			mirror = pub
		}
	}

	correlator := incident.New(st, mirror, log, cfg.IncidentWindow, cfg.IncidentThreshold)

	// Channel senders
	senders := channel.NewRegistry()
	senders.Register(model.ChannelWidget, channel.WidgetSender{})
	if cfg.WhatsAppAccessToken != "" {
		senders.Register(model.ChannelWhatsApp, channel.NewWhatsAppSender(cfg.WhatsAppAPIBaseURL, cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneID))
	}

	// Automation dispatch bridge
	tokens := signing.NewTokenIssuer(cfg.CallbackJWTSecret)
	var dispatcher *bridge.Dispatcher
	if cfg.BridgeEndpoint != "" {
		dispatcher = bridge.New(bridge.Config{
			Endpoint:         cfg.BridgeEndpoint,
			Secret:           cfg.BridgeSecret,
			Timeout:          cfg.BridgeTimeout,
			MaxRetries:       cfg.BridgeMaxRetries,
			BackoffBase:      cfg.BridgeBackoffBase,
			CallbackURL:      cfg.PublicBaseURL + "/internal/automation/callback",
			CallbackTokenTTL: cfg.CallbackTokenTTL,
			SweepHorizon:     cfg.RunSweepHorizon,
		}, st, tokens, senders, correlator, log)
	}

	// Built-in responder for bots without automation
	var responder *llm.Responder
	if cfg.AnthropicAPIKey != "" || cfg.OpenAIAPIKey != "" {
		provider, key := llm.ProviderAnthropic, cfg.AnthropicAPIKey
		if cfg.DefaultLLM == "openai" || cfg.AnthropicAPIKey == "" {
			provider, key = llm.ProviderOpenAI, cfg.OpenAIAPIKey
		}
		llmClient, err := llm.NewClient(provider, key)
		if err != nil {
			log.Warn("failed to create LLM client, built-in responder disabled", zap.Error(err))
		} else {
			responder = llm.NewResponder(llmClient)
		}
	}

	// Initialize services
	conversationSvc := service.NewConversationService(st, senders, log)
	inboundSvc := service.NewInboundService(conversationSvc, dispatcher, responder, senders, correlator, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st)
	webhookHandler := handler.NewWebhookHandler(inboundSvc, st, correlator, cfg.WebhookSecret, cfg.WhatsAppVerifyToken, log)
	widgetHandler := handler.NewWidgetHandler(inboundSvc, conversationSvc, st, log)
	operatorHandler := handler.NewOperatorHandler(conversationSvc, log)

	// Pending-run timeout sweep
	sweeper := cron.New()
	if dispatcher != nil {
		sweeper.AddFunc("@every 1m", func() {
			dispatcher.SweepTimeouts(context.Background())
		})
	}
	sweeper.Start()
	defer sweeper.Stop()

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Bot-Key"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Channel provider webhooks (signature-authenticated)
	r.Route("/webhooks/whatsapp/{botID}", func(r chi.Router) {
		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Receive)
	})

	// Workflow engine callback (token-authenticated)
	if dispatcher != nil {
		callbackHandler := handler.NewCallbackHandler(dispatcher, log)
		r.Post("/internal/automation/callback", callbackHandler.Handle)
	}

	// Public widget API (bot-key scoped, rate limited)
	r.Route("/widget/v1", func(r chi.Router) {
		r.Use(middleware.WidgetRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/init", widgetHandler.Init)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Post("/messages", widgetHandler.Send)
			r.Get("/messages", widgetHandler.Messages)
		})
	})

	// Operator API with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.OperatorJWTSecret))
		r.Use(middleware.RequireScope("operator"))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Post("/takeover", operatorHandler.Takeover)
			r.Post("/release", operatorHandler.Release)
			r.Post("/messages", operatorHandler.Send)
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
