package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/finagent/internal/agents"
	"github.com/haasonsaas/finagent/internal/config"
	"github.com/haasonsaas/finagent/internal/findata"
	"github.com/haasonsaas/finagent/internal/gateway"
	"github.com/haasonsaas/finagent/internal/observability"
	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/internal/sessions"
	"github.com/haasonsaas/finagent/pkg/models"
)

// buildServeCmd creates the "serve" command that starts the gateway server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the finagent gateway server",
		Long: `Start the gateway server.

The server loads configuration, opens the session store, registers the
agent runtimes and finance data tools, and serves HTTP and WebSocket
transports until SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  finagent serve

  # Start with custom config
  finagent serve --config /etc/finagent/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "finagent.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// runServe wires up all components and blocks until a shutdown signal.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	logger.Info("starting finagent gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
		"llm_provider", cfg.LLM.DefaultProvider,
	)

	metrics := observability.NewMetrics()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Data.ReportDir != "" {
		if err := os.MkdirAll(cfg.Data.ReportDir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	tools := runtime.NewToolRegistry()
	registerDataTools(cfg, tools, logger)

	factory := agents.NewFactory(agents.FactoryOptions{
		Config:  cfg,
		Tools:   tools,
		Metrics: metrics,
		Logger:  logger,
	})
	logger.Info("agent types registered", "types", factory.Types())

	registry := sessions.NewRegistry(sessions.RegistryConfig{
		Factory: factory,
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		Defaults: sessions.Defaults{
			AgentType: cfg.Session.DefaultAgentType,
			AgentConfig: models.AgentConfig{
				Profile:   cfg.Session.DefaultProfile,
				ReportDir: cfg.Data.ReportDir,
			},
			MaxTurns: cfg.Session.MaxTurns,
		},
	})

	server := gateway.NewServer(gateway.Options{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Registry: registry,
		Store:    store,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown error", "error", err)
	}
	logger.Info("finagent gateway stopped")
	return nil
}

// openStore picks SQLite when a storage path is configured, in-memory
// otherwise.
func openStore(cfg *config.Config, logger *slog.Logger) (sessions.Store, error) {
	if cfg.Storage.Path == "" {
		logger.Info("using in-memory session store")
		return sessions.NewMemoryStore(), nil
	}
	store, err := sessions.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	logger.Info("using sqlite session store", "path", cfg.Storage.Path)
	return store, nil
}

// registerDataTools wires the finance data connectors into the tool
// registry. Without an FMP key only the keyless history tool is available.
func registerDataTools(cfg *config.Config, tools *runtime.ToolRegistry, logger *slog.Logger) {
	var fmp *findata.FMPClient
	if key := cfg.FMPKey(); key != "" {
		fmp = findata.NewFMPClient(findata.FMPOptions{
			APIKey:   key,
			CacheTTL: cfg.Data.CacheTTL,
		})
	} else {
		logger.Warn("no FMP API key configured; fundamentals tools disabled")
	}

	history := findata.NewHistoryClient(findata.HistoryOptions{CacheTTL: cfg.Data.CacheTTL})

	findata.RegisterTools(tools, fmp, history)
	names := make([]string, 0)
	for _, t := range tools.List() {
		names = append(names, t.Name())
	}
	logger.Info("finance data tools registered", "tools", names)
}
