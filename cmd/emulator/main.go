// Message Bus Emulator
//
// Standalone in-memory emulator of the SQS/SNS wire protocols, for local
// development and integration testing without a real AWS account.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.msgemu.dev/internal/bus"
	"go.msgemu.dev/internal/clock"
	"go.msgemu.dev/internal/common/health"
	"go.msgemu.dev/internal/common/lifecycle"
	"go.msgemu.dev/internal/emuconfig"
	"go.msgemu.dev/internal/wire/snsxml"
	"go.msgemu.dev/internal/wire/sqsjson"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	setupLogging()

	slog.Info("Starting message bus emulator",
		"version", version,
		"build_time", buildTime,
		"component", "emulator")

	cfg, err := emuconfig.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	clk := clock.NewReal()
	b := bus.New(bus.BusConfig{
		Region:                   cfg.Bus.Region,
		Account:                  cfg.Bus.Account,
		ServiceURL:               cfg.Bus.ServiceURL,
		DefaultVisibilityTimeout: cfg.Bus.DefaultVisibilityTimeout,
		DefaultMessageRetention:  cfg.Bus.DefaultMessageRetention,
		DefaultReceiveWaitTime:   cfg.Bus.DefaultReceiveWaitTime,
		MaxMoveTaskRate:          cfg.Bus.MaxMoveTaskRate,
	}, clk)

	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.BusCheck(func() (int, error) {
		total, token := 0, ""
		for {
			names, next, err := b.ListQueues("", 0, token)
			if err != nil {
				return total, err
			}
			total += len(names)
			if next == "" {
				return total, nil
			}
			token = next
		}
	}))
	healthChecker.AddLivenessCheck(health.MoveTasksCheck(b.ActiveMoveTaskCount))

	httpRouter := setupHTTPRouter(cfg, healthChecker, b)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      httpRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lifecycleMgr := lifecycle.NewManager()
	lifecycleMgr.RegisterHTTPShutdown("http-server", httpServer.Shutdown)
	lifecycleMgr.RegisterMoveTaskShutdown("move-tasks", func(ctx context.Context) error {
		return cancelAllMoveTasks(ctx, b)
	})

	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTP.Port, "account", cfg.Bus.Account, "region", cfg.Bus.Region)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			lifecycleMgr.Shutdown()
		}
	}()

	if err := lifecycleMgr.Run(); err != nil {
		slog.Error("Shutdown did not complete cleanly", "error", err)
		os.Exit(1)
	}

	slog.Info("Message bus emulator stopped")
}

// setupLogging configures the slog default logger.
func setupLogging() {
	logLevel := slog.LevelInfo
	if os.Getenv("EMULATOR_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// cancelAllMoveTasks stops every still-running move task so the process
// doesn't hang waiting on background rate-limited drains during shutdown.
func cancelAllMoveTasks(_ context.Context, b *bus.Bus) error {
	token := ""
	for {
		names, next, err := b.ListQueues("", 0, token)
		if err != nil {
			return err
		}
		for _, name := range names {
			q, err := b.GetQueue(name)
			if err != nil {
				continue
			}
			for _, t := range b.ListMessageMoveTasks(q.Arn()) {
				if t.Status() == bus.MoveTaskRunning {
					_ = b.CancelMessageMoveTask(t.Handle)
				}
			}
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

// setupHTTPRouter wires the SQS JSON-protocol adapter as the catch-all
// endpoint (queue urls are plain account/name paths at the service root)
// and the SNS Query/XML adapter under /sns, alongside health and metrics.
func setupHTTPRouter(cfg *emuconfig.Config, healthChecker *health.Checker, b *bus.Bus) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Amz-Target", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())

	serviceURL := cfg.Bus.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
	}
	sqsAdapter := sqsjson.New(b, serviceURL)
	snsAdapter := snsxml.New(b)

	r.Handle("/sns", snsAdapter)
	r.Handle("/sns/", snsAdapter)
	r.Post("/*", sqsAdapter.ServeHTTP)

	return r
}
