// Package main provides the CLI entry point for the Switchboard tool server.
//
// The tool server owns the tool registry and executes effectors over HTTP:
// network time via NTP, sunrise/sunset lookup, host reachability checks,
// and Home Assistant device state and control. The orchestrator process
// calls it to run tools on behalf of chat sessions.
//
// # Basic Usage
//
// Start the server:
//
//	switchboard serve --config switchboard.yaml
//
// Inspect the registered tools without starting the server:
//
//	switchboard tools
//
// # Environment Variables
//
// Configuration can be provided via environment variables:
//
//   - SERVER_PORT: HTTP listen port (default: 8000)
//   - NTP_SERVER / NTP_BACKUP_SERVER: time sources for get_network_time
//   - LOCAL_TIMEZONE: timezone for readable timestamps
//   - REDIS_HOST / REDIS_PORT: backend for the Home Assistant state cache
//   - HA_URL / HA_TOKEN: Home Assistant connection (unset leaves the
//     device tools in the not_configured state)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/homeassistant"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/tools"
	"github.com/haasonsaas/switchboard/internal/tools/clock"
	"github.com/haasonsaas/switchboard/internal/tools/netping"
	"github.com/haasonsaas/switchboard/internal/toolserver"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "switchboard",
		Short: "Switchboard - tool server for chat-driven home automation",
		Long: `Switchboard executes tools on behalf of the chat orchestrator.

Registered tools: get_network_time, get_sun_times, ping_host,
ha_get_device_state, ha_control_light, ha_control_switch.

The orchestrator reaches this server over HTTP; see the companion
switchboard-orchestrator binary for the chat-facing API.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
	)

	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Switchboard tool server",
		Long: `Start the tool server with every effector registered.

The server will:
1. Load configuration from the specified file (or defaults plus environment)
2. Connect the Home Assistant state cache (Redis, or in-process if Redis is down)
3. Start the Home Assistant synchronizer when HA_URL and HA_TOKEN are set
4. Register the time, sun, ping and Home Assistant tools
5. Serve the tool API and Prometheus metrics over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  switchboard serve

  # Start with custom config
  switchboard serve --config /etc/switchboard/production.yaml

  # Start with debug logging
  switchboard serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (optional)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// runServe implements the serve command logic.
// It handles configuration loading, component wiring, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting Switchboard tool server",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"home_assistant_configured", cfg.HomeAssistant.Configured(),
		"redis_addr", cfg.Redis.Addr(),
	)

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics()
	tracer, shutdownTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "switchboard",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cache := homeassistant.NewStateCache(ctx, rdb, cfg.HomeAssistant.CacheTTL, logger)

	var haClient *homeassistant.Client
	if cfg.HomeAssistant.Configured() {
		haClient, err = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, nil)
		if err != nil {
			return fmt.Errorf("failed to configure home assistant client: %w", err)
		}
	}
	synchronizer := homeassistant.NewSynchronizer(haClient, cache, logger, metrics)
	synchronizer.Start(ctx)

	registry, err := buildRegistry(cfg, synchronizer, logger)
	if err != nil {
		return err
	}

	dispatcher := tools.NewDispatcher(registry, logger, metrics, tracer)
	srv := toolserver.NewServer(dispatcher, synchronizer, version, logger)
	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := srv.Start(addr); err != nil {
		return err
	}

	slog.Info("Switchboard tool server started",
		"addr", addr,
		"tools", len(registry.Descriptors()),
		"cache_backend", cache.Backend(),
	)

	// Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the HTTP surface first so no call races the synchronizer teardown.
	srv.Stop(shutdownCtx)
	synchronizer.Stop()
	if err := rdb.Close(); err != nil {
		logger.Warn("redis close failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}

	slog.Info("Switchboard tool server stopped gracefully")
	return nil
}

// buildRegistry registers every tool the server exposes. The Home
// Assistant tools are always registered; when HA is not configured they
// answer with a typed effector_unavailable error instead of vanishing
// from the list, so clients see a stable tool set.
func buildRegistry(cfg *config.Server, synchronizer *homeassistant.Synchronizer, logger *slog.Logger) (*tools.Registry, error) {
	timeTool := clock.NewTimeTool(cfg.NTP, logger)

	registry := tools.NewRegistry()
	for _, tool := range []tools.Tool{
		timeTool,
		clock.NewSunTool(cfg.Sun, timeTool.Location(), nil),
		netping.NewPingTool(logger),
		homeassistant.NewGetDeviceStateTool(synchronizer, logger),
		homeassistant.NewControlLightTool(synchronizer, logger),
		homeassistant.NewControlSwitchTool(synchronizer, logger),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("failed to register tool: %w", err)
		}
	}
	return registry, nil
}

// buildToolsCmd creates the "tools" command. It prints the descriptors
// the serve command would register, in the same shape as the
// /v1/tools/list endpoint, without starting the server or touching any
// effector.
func buildToolsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered tools and their argument schemas",
		Example: `  # Print tool descriptors as JSON
  switchboard tools`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := observability.NewLogger("error")

			// A synchronizer with no client stays not_configured; the
			// descriptors do not depend on a live connection.
			synchronizer := homeassistant.NewSynchronizer(nil,
				homeassistant.NewMemoryStateCache(cfg.HomeAssistant.CacheTTL), logger, nil)
			registry, err := buildRegistry(cfg, synchronizer, logger)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(map[string]any{"tools": registry.Descriptors()}, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode descriptors: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (optional)")

	return cmd
}
