package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kkkkikiki/dropsminer/internal/api"
	"github.com/kkkkikiki/dropsminer/internal/config"
	"github.com/kkkkikiki/dropsminer/internal/database"
	"github.com/kkkkikiki/dropsminer/internal/events"
	"github.com/kkkkikiki/dropsminer/internal/logging"
	"github.com/kkkkikiki/dropsminer/internal/miner"
	"github.com/kkkkikiki/dropsminer/internal/service"
	"github.com/kkkkikiki/dropsminer/internal/twitch"
)

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("drops-miner", cfg.App.Environment, cfg.App.EffectiveLogLevel())
	logger.Info("starting drops miner", "environment", cfg.App.Environment)

	// Initialize checkpoint database
	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database connection", "error", err)
		}
	}()

	checkpoints := service.NewCheckpointService(db.Conn)

	// Claim events go to the audit table, the log and optionally a Redis stream
	sinks := events.Multi{checkpoints, events.NewLogSink(logger)}
	if cfg.Redis.Enabled() {
		redisSink, err := events.NewRedisSink(ctx, cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
		logger.Info("publishing claim events to redis", "stream", cfg.Redis.Stream)
	}

	registry := miner.NewRegistry(miner.RegistryConfig{
		Interval:           cfg.Miner.Interval,
		ErrorBackoff:       cfg.Miner.ErrorBackoff,
		CheckpointInterval: cfg.Miner.CheckpointInterval,
		MaxClaimRetries:    cfg.Miner.MaxClaimRetries,
		ExpiryThreshold:    cfg.Miner.ExpiryThreshold,
		ClaimRate:          cfg.Miner.ClaimRate,
		ClaimBurst:         cfg.Miner.ClaimBurst,
		Checkpointer:       checkpoints,
		Sink:               sinks,
		Logger:             logger,
	})

	newClient := func(sessionID, token string) (miner.Client, error) {
		client, err := twitch.NewClient(twitch.Config{
			URL:               cfg.Twitch.GQLURL,
			ClientID:          cfg.Twitch.ClientID,
			Token:             token,
			Timeout:           cfg.Twitch.RequestTimeout,
			RequestsPerWindow: cfg.Twitch.RateLimitRequests,
			Window:            cfg.Twitch.RateLimitWindow,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	if err := bootstrapSessions(ctx, registry, cfg, newClient, logger); err != nil {
		logger.Error("failed to create sessions", "error", err)
		os.Exit(1)
	}

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register session control service handler
	minerService := service.NewMinerServer(registry, newClient, checkpoints, logger)
	path, handler := service.NewMinerServiceHandler(minerService)
	mux.Handle(path, handler)

	// Dashboard JSON API
	mux.Handle("/api/", api.New(api.Config{Registry: registry, History: checkpoints}).Handler())

	// Add health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		response := fmt.Sprintf(`{"status":"ok","service":"drops-miner","hostname":"%s","sessions":%d}`, hostname, len(registry.List()))
		w.Write([]byte(response))
	})

	// Add database health check endpoint
	mux.HandleFunc("/health/db", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(fmt.Sprintf(`{"status":"error","message":"%s unavailable"}`, db.Driver)))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(fmt.Sprintf(`{"status":"ok","%s":"connected"}`, db.Driver)))
	})

	// Add Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// Start server in goroutine
	go func() {
		logger.Info("serving http", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	// Graceful shutdown: stop accepting commands, then drain every session loop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Error("sessions did not stop cleanly", "error", err)
	}

	logger.Info("drops miner exited gracefully")
}

// bootstrapSessions creates one session per configured account, in id order,
// and starts them when auto start is enabled.
func bootstrapSessions(ctx context.Context, registry *miner.Registry, cfg *config.Config, newClient service.ClientFactory, logger *slog.Logger) error {
	ids := make([]string, 0, len(cfg.Twitch.Accounts))
	for id := range cfg.Twitch.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		client, err := newClient(id, cfg.Twitch.Accounts[id])
		if err != nil {
			return fmt.Errorf("failed to build client for session %s: %w", id, err)
		}
		if _, err := registry.Create(ctx, id, client); err != nil {
			return fmt.Errorf("failed to create session %s: %w", id, err)
		}
		if cfg.Miner.AutoStart {
			if err := registry.Start(id); err != nil {
				return fmt.Errorf("failed to start session %s: %w", id, err)
			}
		}
	}
	logger.Info("sessions created", "count", len(ids), "auto_start", cfg.Miner.AutoStart)
	return nil
}
