// Command mcpfleetd is the main entry point for the mcpfleet aggregating
// MCP proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/mcpfleet/internal/endpoint"
	"github.com/MrWong99/mcpfleet/internal/eventbus"
	"github.com/MrWong99/mcpfleet/internal/health"
	"github.com/MrWong99/mcpfleet/internal/mcpservice"
	"github.com/MrWong99/mcpfleet/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ───────────────────────────────────────────────
	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mcpfleetd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mcpfleetd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Info("mcpfleetd starting",
		"config", *configPath,
		"listen_addr", cfg.ListenAddr,
		"endpoints", len(cfg.Endpoints),
		"servers", len(cfg.Servers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "mcpfleet"})
	if err != nil {
		slog.Error("failed to init metrics provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Error("metrics shutdown error", "err", err)
		}
	}()

	// ── Core wiring ──────────────────────────────────────────────────────
	bus := eventbus.New()
	serviceManager := mcpservice.NewServiceManager(bus)
	cfgManager := newMemConfigManager(cfg.Endpoints, cfg.Servers)

	added := serviceManager.AddServiceConfigs(cfgManager.GetMcpServers())
	slog.Info("downstream services registered", "count", len(added))
	if err := serviceManager.StartAll(ctx); err != nil {
		slog.Warn("one or more downstream services failed to start", "err", err)
	}

	endpointManager := endpoint.NewManager(bus, serviceManager, cfgManager, cfg.Options)
	if err := endpointManager.Initialize(cfgManager.GetMcpEndpoints()); err != nil {
		slog.Warn("one or more endpoint urls rejected", "err", err)
	}
	if err := endpointManager.Connect(ctx); err != nil {
		slog.Warn("endpoint fleet connect reported failures", "err", err)
	}

	// ── HTTP surface: health, readiness, metrics ─────────────────────────
	healthHandler := health.New(
		health.Checker{
			Name: "endpoints",
			Check: func(context.Context) error {
				if !endpointManager.IsAnyConnected() {
					return fmt.Errorf("no endpoint is currently connected")
				}
				return nil
			},
		},
		health.Checker{
			Name: "services",
			Check: func(context.Context) error {
				if len(serviceManager.ServiceNames()) == 0 {
					return fmt.Errorf("no downstream service configured")
				}
				return nil
			},
		},
	)

	mux := http.NewServeMux()
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		slog.Info("http server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()

	slog.Info("mcpfleetd ready — press Ctrl+C to shut down")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "err", err)
	}
	if err := endpointManager.Disconnect(); err != nil {
		slog.Error("endpoint disconnect error", "err", err)
	}
	endpointManager.Close()
	if err := serviceManager.StopAll(); err != nil {
		slog.Error("service manager stop error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
