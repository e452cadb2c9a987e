// Package main is the RelayDesk server entry point: one binary hosting the
// chat socket, the routing engine and the document store gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/accuracy"
	"github.com/relaydesk/relaydesk/internal/agent/registry"
	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/common/config"
	"github.com/relaydesk/relaydesk/internal/common/httpmw"
	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/common/ratelimit"
	"github.com/relaydesk/relaydesk/internal/common/tracing"
	"github.com/relaydesk/relaydesk/internal/events/bus"
	gateway "github.com/relaydesk/relaydesk/internal/gateway/websocket"
	"github.com/relaydesk/relaydesk/internal/llm"
	"github.com/relaydesk/relaydesk/internal/responder"
	"github.com/relaydesk/relaydesk/internal/routing"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/store"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting RelayDesk...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus: in-memory for a single node, NATS when configured
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
		defer natsEventBus.Close()
	} else {
		log.Info("Using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}

	// 4. At-rest encryption
	var cipher *store.Cipher
	masterKey, err := cfg.Encryption.MasterKeyBytes()
	if err != nil {
		log.Fatal("Invalid encryption master key", zap.Error(err))
	}
	if masterKey != nil {
		cipher, err = store.NewCipher(masterKey, cfg.Encryption.RedactPII)
		if err != nil {
			log.Fatal("Failed to initialize cipher", zap.Error(err))
		}
		log.Info("Message encryption enabled", zap.Bool("redact_pii", cfg.Encryption.RedactPII))
	}

	// 5. Document store. A failed connection degrades to memory-only so the
	// socket keeps answering; transcripts resume on the next restart.
	gw := openStore(ctx, cfg, cipher, log)
	defer func() { _ = gw.Close() }()

	// 6. Core components
	assignments := session.NewCache(gw)
	agents := registry.New(eventBus, log)
	matcher := responder.NewMatcher(ctx, gw, log)
	llmGateway := llm.NewGateway(gw, cipher, cfg.LLM, cfg.Chat, log)
	recorder := accuracy.NewRecorder(gw, log)
	authenticator := auth.New(gw, cfg.Auth.AdminSecret)

	engine := routing.NewEngine(gw, assignments, agents, matcher, llmGateway,
		recorder, eventBus, cfg.Chat, log)

	// 7. Socket gateway
	limiter := ratelimit.New(cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests)
	wsRouter := gateway.NewRouter(gw, assignments, agents, engine,
		authenticator, matcher, eventBus, limiter, cfg.Chat, log)
	hub := gateway.NewHub(log)
	wsRouter.SetHub(hub)
	go hub.Run(ctx)

	if _, err := hub.AttachBus(eventBus); err != nil {
		log.Error("Failed to subscribe admin feed to event bus", zap.Error(err))
	}

	// 8. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "relaydesk"))
	router.Use(httpmw.OtelTracing("relaydesk"))
	router.Use(corsMiddleware())

	wsHandler := gateway.NewHandler(hub, wsRouter, log)
	wsHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("RelayDesk listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down RelayDesk...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("RelayDesk stopped")
}

// openStore selects the configured backend. sqlite is the embedded default;
// postgres serves multi-node deployments; memory is the degraded fallback.
func openStore(ctx context.Context, cfg *config.Config, cipher *store.Cipher, log *logger.Logger) store.Gateway {
	switch cfg.Store.Backend {
	case "postgres":
		gw, err := store.NewPostgres(ctx, cfg.Store.DSN(), cipher)
		if err != nil {
			log.Error("Postgres unavailable, degrading to in-memory store", zap.Error(err))
			return store.NewMemory()
		}
		log.Info("Connected to Postgres store", zap.String("db", cfg.Store.DBName))
		return gw

	case "memory":
		log.Warn("Using in-memory store; transcripts will not survive a restart")
		return store.NewMemory()

	default:
		gw, err := store.NewSQLite(cfg.Store.Path, cipher)
		if err != nil {
			log.Error("SQLite unavailable, degrading to in-memory store", zap.Error(err))
			return store.NewMemory()
		}
		log.Info("SQLite store initialized", zap.String("path", cfg.Store.Path))
		return gw
	}
}

// corsMiddleware allows the embedded widget to connect from any origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
