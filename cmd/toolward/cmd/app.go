package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/toolward/toolward/internal/adapter/outbound/fsnap"
	"github.com/toolward/toolward/internal/adapter/outbound/local"
	"github.com/toolward/toolward/internal/adapter/outbound/memory"
	"github.com/toolward/toolward/internal/adapter/outbound/sqlite"
	"github.com/toolward/toolward/internal/config"
	"github.com/toolward/toolward/internal/domain/audit"
	"github.com/toolward/toolward/internal/domain/catalog"
	"github.com/toolward/toolward/internal/service"
	"github.com/toolward/toolward/internal/telemetry"
)

// app holds the wired pipeline for CLI commands.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       audit.Store
	auditor     *service.AuditService
	registry    *catalog.Registry
	coordinator *service.Coordinator
}

// buildApp loads configuration and assembles the full pipeline: catalog,
// policy engine, audit writer, snapshot service, and the local execution
// adapters behind the coordinator.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel)

	if cfg.Tracing.Enabled {
		if err := telemetry.InitTracing("toolward", Version, cfg.Tracing.OutputFile); err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	store, err := openAuditStore(cfg)
	if err != nil {
		return nil, err
	}

	auditor, err := service.NewAuditService(ctx, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry, err := catalog.NewRegistry(catalog.BuiltinDescriptors())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build tool catalog: %w", err)
	}

	rules := cfg.Rules()
	if len(rules) == 0 {
		rules = service.DefaultRules()
	}
	engine, err := service.NewPolicyService(ctx, service.StaticRules(rules), logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build policy engine: %w", err)
	}

	snapshots, err := fsnap.NewService(cfg.Snapshots.Dir, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	commands := cfg.Exec.AllowedCommands
	if len(commands) == 0 {
		commands = local.DefaultCommands()
	}
	guard := local.NewGuard(cfg.Exec.AllowedPaths, commands)

	coordinator := service.NewCoordinator(service.CoordinatorDeps{
		Registry:  registry,
		Engine:    engine,
		Simulator: local.NewSimulator(guard),
		Gateway:   local.NewGateway(guard, snapshots, logger),
		Snapshots: snapshots,
		Auditor:   auditor,
		Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
		Logger:    logger,
	},
		service.WithTokenTTL(cfg.Approval.TokenTTLDuration()),
		service.WithPendingTTL(cfg.Approval.PendingTTLDuration()),
	)

	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		auditor:     auditor,
		registry:    registry,
		coordinator: coordinator,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing audit store", "error", err)
	}
}

func openAuditStore(cfg *config.Config) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "memory":
		return memory.NewAuditStore(), nil
	default:
		store, err := sqlite.NewAuditStore(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		return store, nil
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
