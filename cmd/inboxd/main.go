// Package main is the entry point for the inbox sync service.
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

	"github.com/atendai/inbox-core/internal/agent"
	"github.com/atendai/inbox-core/internal/bus"
	"github.com/atendai/inbox-core/internal/client"
	"github.com/atendai/inbox-core/internal/config"
	"github.com/atendai/inbox-core/internal/handler"
	"github.com/atendai/inbox-core/internal/llm"
	"github.com/atendai/inbox-core/internal/middleware"
	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/internal/presence"
	"github.com/atendai/inbox-core/internal/rules"
	"github.com/atendai/inbox-core/internal/service"
	"github.com/atendai/inbox-core/internal/store"
	"github.com/atendai/inbox-core/pkg/logger"
	"github.com/atendai/inbox-core/pkg/tracing"
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

	log.Info("starting inbox sync service", zap.String("org_id", cfg.OrgID))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "inbox-core", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to the event bus
	busClient, err := bus.Connect(bus.Config{
		URL:              cfg.NATSURL,
		CAFile:           cfg.NATSCAFile,
		CertFile:         cfg.NATSCertFile,
		KeyFile:          cfg.NATSKeyFile,
		Token:            cfg.NATSToken,
		ReconnectMaxWait: cfg.NATSReconnectMaxWait,
	}, log)
	if err != nil {
		log.Error("failed to connect to event bus", zap.Error(err))
		os.Exit(1)
	}
	defer busClient.Close()

	// Boundary collaborators
	api := client.New(cfg.APIBaseURL, cfg.APIToken)

	// Conversation state store + durable preferences
	st := store.New(api, log)
	prefs, err := store.OpenPrefs(cfg.PrefsDBPath)
	if err != nil {
		log.Error("failed to open preferences store", zap.Error(err))
		os.Exit(1)
	}
	defer prefs.Close()

	// Outbound send path
	outbound := service.NewOutboundService(st, api, log)

	// Rule engine
	engine := rules.New(rules.Config{
		Store:                 st,
		Source:                api,
		Assigner:              api,
		Switcher:              api,
		Tagger:                api,
		Sender:                outbound,
		CountOperatorMessages: cfg.CountOperatorMessages,
		Logger:                log,
		OnError: func(contactID string, rule model.AutomationRule, err error) {
			log.Warn("rule action delivery failed",
				zap.String("contact_id", contactID),
				zap.String("rule_id", rule.ID),
				zap.Error(err))
		},
	})

	// AI auto-responder (disabled when no provider key is configured)
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" || cfg.OpenAIAPIKey != "" {
		provider, apiKey := llm.ProviderAnthropic, cfg.AnthropicAPIKey
		if apiKey == "" {
			provider, apiKey = llm.ProviderOpenAI, cfg.OpenAIAPIKey
		}
		llmClient, err = llm.NewClient(provider, apiKey)
		if err != nil {
			log.Warn("failed to create LLM client, auto-responder disabled", zap.Error(err))
			llmClient = nil
		}
	}
	responder := agent.NewResponder(llmClient, st, engine, outbound, cfg.AgentModel, log)

	// Presence tracker
	tracker := presence.NewTracker(cfg.OperatorID, api, cfg.TypingExpiry, log)
	presenceCtx, stopPresence := context.WithCancel(ctx)
	defer stopPresence()
	go tracker.Run(presenceCtx, cfg.PresenceTickDur)
	prompter := presence.NewPrompter(prefs, cfg.PromptEveryN)

	// Subscribe to the org event stream. Handlers run serialized.
	sub, err := busClient.Subscribe(cfg.OrgID, bus.Handlers{
		OnNewMessage: func(ev model.NewMessageEvent) {
			st.ApplyInbound(ev.ContactID, ev.Message, ev.Contact)
			fired := engine.HandleMessage(ctx, ev)
			responder.HandleMessage(ctx, ev, fired)
		},
		OnConversationUpdated: func(ev model.ConversationUpdatedEvent) {
			st.ApplyConversationUpdate(ev.ContactID, ev.Patch)
		},
		OnPresence: func(eventType model.EventType, ev model.PresenceEvent) {
			tracker.ApplyRemote(eventType, ev)
		},
	})
	if err != nil {
		log.Error("failed to subscribe to org events", zap.Error(err))
		os.Exit(1)
	}
	defer sub.Close()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(busClient)
	inboxHandler := handler.NewInboxHandler(st, outbound, engine, tracker, prompter, log)
	streamHandler := handler.NewStreamHandler(st, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
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

		r.Route("/inbox", func(r chi.Router) {
			r.Get("/", inboxHandler.List)
			r.Get("/stream", streamHandler.Stream)

			r.Route("/{contactID}", func(r chi.Router) {
				r.Post("/select", inboxHandler.Select)
				r.Get("/messages", inboxHandler.Messages)
				r.Post("/messages", inboxHandler.Send)
				r.Post("/typing", inboxHandler.Typing)
				r.Post("/leave", inboxHandler.Leave)
				r.Get("/presence", inboxHandler.Presence)
				r.Post("/bot/reset", inboxHandler.ResetBot)
				r.Post("/assign-prompt/dismiss", inboxHandler.DismissPrompt)
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
