// Package main provides the CLI entry point for the Switchboard
// orchestrator.
//
// The orchestrator serves the chat API: it routes each message either
// straight to a tool (shortcut) or through the LLM tool-calling
// pipeline, records every turn in the ephemeral interaction log, applies
// user feedback against the durable archive, and transcribes WAV uploads
// through the speech bridge. Tool execution itself happens in the
// companion switchboard tool server.
//
// # Basic Usage
//
// Start the orchestrator:
//
//	switchboard-orchestrator serve --config orchestrator.yaml
//
// # Environment Variables
//
// Configuration can be provided via environment variables:
//
//   - CLIENT_PORT: HTTP listen port (default: 8001)
//   - LLM_PROVIDER / LLM_URL / LLM_MODEL: completion backend (default:
//     ollama at localhost:11434 with llama3.2)
//   - TOOL_SERVER_URL: base URL of the switchboard tool server
//   - WHISPER_URL: TCP address of the speech transcription bridge
//   - REDIS_HOST / REDIS_PORT: ephemeral interaction log backend
//   - MYSQL_HOST / MYSQL_DATABASE / MYSQL_USER: durable feedback archive
//     (unset disables persistence, chat still works)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/interaction"
	"github.com/haasonsaas/switchboard/internal/llm"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/orchestrator"
	"github.com/haasonsaas/switchboard/internal/router"
	"github.com/haasonsaas/switchboard/internal/transcribe"
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
		Use:   "switchboard-orchestrator",
		Short: "Switchboard orchestrator - chat API with LLM tool routing",
		Long: `The orchestrator answers chat messages by routing them to tools.

Messages matching a shortcut pattern (time, lights, switches, ping) call
their tool directly and skip the LLM. Everything else takes one LLM pass;
when the model requests tools, their results feed a second synthesis pass.

Requires a running switchboard tool server (see TOOL_SERVER_URL).`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
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
		Short: "Start the Switchboard orchestrator",
		Long: `Start the orchestrator with the configured LLM provider.

The server will:
1. Load configuration from the specified file (or defaults plus environment)
2. Connect the LLM provider (Ollama or OpenAI-compatible)
3. Open the ephemeral interaction log (Redis)
4. Open the durable feedback archive and stats schedule (MySQL, if configured)
5. Connect the speech transcription bridge (if configured)
6. Serve the chat, feedback and transcription API over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  switchboard-orchestrator serve

  # Start with custom config
  switchboard-orchestrator serve --config /etc/switchboard/orchestrator.yaml

  # Start with debug logging
  switchboard-orchestrator serve --debug`,
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

	slog.Info("starting Switchboard orchestrator",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	cfg, err := config.LoadOrchestrator(configPath)
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
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"tool_server_url", cfg.ToolServerURL,
		"mysql_configured", cfg.MySQL.Configured(),
	)

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics()
	tracer, shutdownTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "switchboard-orchestrator",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	provider, err := llm.New(llm.Config{
		Provider: cfg.LLM.Provider,
		URL:      cfg.LLM.URL,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to configure llm provider: %w", err)
	}
	provider = llm.WithMetrics(provider, metrics)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ephemeral := interaction.NewEphemeralStore(rdb)

	// The durable archive is optional: without MySQL the orchestrator
	// still chats, it just cannot keep thumbs-up interactions.
	var (
		store   *interaction.DurableStore
		archive interaction.Archive
		stats   *interaction.StatsAggregator
	)
	if cfg.MySQL.Configured() {
		store, err = interaction.NewDurableStore(cfg.MySQL.DSN(), cfg.MySQL.PoolSize)
		if err != nil {
			return fmt.Errorf("failed to open durable store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure durable store schema: %w", err)
		}
		archive = store

		stats, err = interaction.NewStatsAggregator(store, cfg.StatsSchedule, logger)
		if err != nil {
			return fmt.Errorf("failed to configure stats aggregator: %w", err)
		}
		stats.Start(ctx)
	} else {
		logger.Warn("mysql not configured; feedback archive and stats aggregation disabled")
	}

	feedback := interaction.NewFeedbackService(ephemeral, archive, metrics, logger)

	var transcriber *transcribe.Client
	if cfg.WhisperURL != "" {
		transcriber = transcribe.NewClient(cfg.WhisperURL, metrics, logger)
	}

	toolClient := router.NewToolClient(cfg.ToolServerURL)
	chat := router.NewChatService(buildRules(cfg.Router), provider, toolClient,
		ephemeral, metrics, tracer, logger)

	srv := orchestrator.NewServer(orchestrator.Config{
		Chat:        chat,
		ToolClient:  toolClient,
		Provider:    provider,
		Feedback:    feedback,
		Log:         ephemeral,
		Transcriber: transcriber,
		Version:     version,
		Logger:      logger,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := srv.Start(addr); err != nil {
		return err
	}

	slog.Info("Switchboard orchestrator started",
		"addr", addr,
		"provider", provider.Name(),
		"model", provider.Model(),
	)

	// Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the HTTP surface first so no in-flight request races the
	// stores going away.
	srv.Stop(shutdownCtx)
	if stats != nil {
		stats.Stop()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("durable store close failed", "error", err)
		}
	}
	if err := rdb.Close(); err != nil {
		logger.Warn("redis close failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}

	slog.Info("Switchboard orchestrator stopped gracefully")
	return nil
}

// buildRules applies the configured keyword lists over the defaults.
// Empty lists keep the stock table rather than disabling the rule, so a
// config file only has to name the lists it tunes.
func buildRules(cfg config.Router) router.Rules {
	rules := router.DefaultRules()
	if len(cfg.TimeKeywords) > 0 {
		rules.TimeKeywords = cfg.TimeKeywords
	}
	if len(cfg.LightKeywords) > 0 {
		rules.LightKeywords = cfg.LightKeywords
	}
	if len(cfg.SwitchKeywords) > 0 {
		rules.SwitchKeywords = cfg.SwitchKeywords
	}
	if len(cfg.PingKeywords) > 0 {
		rules.PingKeywords = cfg.PingKeywords
	}
	return rules
}
