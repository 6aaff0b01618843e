package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/itak-ai/itak/internal/agent"
	"github.com/itak-ai/itak/internal/agent/providers"
	"github.com/itak-ai/itak/internal/channels"
	"github.com/itak-ai/itak/internal/channels/cli"
	"github.com/itak-ai/itak/internal/channels/discord"
	"github.com/itak-ai/itak/internal/channels/slack"
	"github.com/itak-ai/itak/internal/channels/telegram"
	"github.com/itak-ai/itak/internal/checkpoint"
	"github.com/itak-ai/itak/internal/config"
	"github.com/itak-ai/itak/internal/extensions"
	"github.com/itak-ai/itak/internal/guard"
	"github.com/itak-ai/itak/internal/heartbeat"
	"github.com/itak-ai/itak/internal/mcp"
	"github.com/itak-ai/itak/internal/memory"
	"github.com/itak-ai/itak/internal/metrics"
	"github.com/itak-ai/itak/internal/observability"
	"github.com/itak-ai/itak/internal/progress"
	"github.com/itak-ai/itak/internal/ratelimit"
	"github.com/itak-ai/itak/internal/secrets"
	"github.com/itak-ai/itak/internal/selfheal"
	"github.com/itak-ai/itak/internal/tools"
	"github.com/itak-ai/itak/internal/tools/builtin"
	"github.com/itak-ai/itak/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent and its channel adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			for _, warning := range cfg.Warnings {
				slog.Warn("config override skipped", "detail", warning)
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "itak.yaml", "Path to configuration file")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := slog.Default()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sec := secrets.NewManager(logger)
	if err := sec.LoadEnvFile(cfg.EnvFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	resolveWellKnown(cfg, sec)

	g := guard.New(logger, sec)
	m := metrics.New()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	events, err := observability.NewEventLogger(observability.Config{
		Dir:        cfg.Logging.Dir,
		DBPath:     cfg.Logging.DBPath,
		BufferSize: cfg.Logging.BufferSize,
	}, logger, sec)
	if err != nil {
		return fmt.Errorf("open event logger: %w", err)
	}
	defer events.Close()

	store := memory.NewSQLiteStore(cfg.Storage.MemoryDBPath, logger)
	if err := store.Connect(ctx); err != nil {
		return fmt.Errorf("connect memory store: %w", err)
	}
	defer store.Close()

	router, err := buildRouter(cfg.Provider)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit, logger)
	healer := selfheal.NewEngine(store, agent.HealClient{Router: router}, m, logger)

	mcpManager := mcp.NewManager(sec, m, logger)
	mcpManager.ConnectAll(ctx, cfg.MCP)
	defer mcpManager.Close()

	registry := tools.NewRegistry(mcpManager, m, logger)
	registry.Register(builtin.NewResponseTool())
	registry.Register(builtin.NewMemorySaveTool(store))
	registry.Register(builtin.NewMemorySearchTool(store))
	registry.Register(builtin.NewUnknownTool(registry.Names))

	checkpoints := checkpoint.NewManager(cfg.Storage.CheckpointDir, logger)
	tracker := progress.NewTracker(logger)
	monitor := heartbeat.NewMonitor(cfg.Heartbeat, limiter, store, logger)

	engine := agent.NewEngine(cfg.Agent, agent.Deps{
		Router:      router,
		Registry:    registry,
		Pipeline:    extensions.NewPipeline(logger),
		Limiter:     limiter,
		Healer:      healer,
		Checkpoints: checkpoints,
		Progress:    tracker,
		Events:      events,
		Metrics:     m,
		Activity:    monitor.Activity,
		Logger:      logger,
	})

	gateway := channels.NewGateway(g, engine, events, m, logger)
	if err := registerAdapters(gateway, cfg, logger); err != nil {
		return err
	}

	// Headline updates reach the originating room as presence lines;
	// Deliver sanitizes and chunks them like any outbound text.
	tracker.Register(func(e *progress.Event) {
		if e.Type == progress.EventProgress {
			gateway.Notify(ctx, e.RoomID, e.Message)
		}
	})

	monitor.OnStall = func() {
		for _, actx := range gateway.Running() {
			engine.SaveCheckpoint(actx)
		}
	}

	restoreInterrupted(engine, gateway, checkpoints, logger)

	if err := gateway.StartAll(ctx); err != nil {
		return err
	}
	monitor.Start(ctx)
	logger.Info("itak started", "provider", cfg.Provider.Kind)
	events.Emit(observability.EventSystem, "", "", "agent started")

	<-ctx.Done()
	logger.Info("shutting down")
	gateway.StopAll()
	monitor.Stop()
	return nil
}

// resolveWellKnown fills empty credentials from the secret stores using
// their conventional environment names.
func resolveWellKnown(cfg *config.Config, sec *secrets.Manager) {
	fill := func(target *string, name string) {
		if *target != "" {
			return
		}
		if value, ok := sec.Resolve(name); ok {
			*target = value
		}
	}
	switch cfg.Provider.Kind {
	case "openai":
		fill(&cfg.Provider.APIKey, "OPENAI_API_KEY")
	default:
		fill(&cfg.Provider.APIKey, "ANTHROPIC_API_KEY")
	}
	fill(&cfg.Channels.DiscordToken, "DISCORD_BOT_TOKEN")
	fill(&cfg.Channels.TelegramToken, "TELEGRAM_BOT_TOKEN")
	fill(&cfg.Channels.Slack.BotToken, "SLACK_BOT_TOKEN")
	fill(&cfg.Channels.Slack.AppToken, "SLACK_APP_TOKEN")
}

func buildRouter(provider config.Provider) (agent.ModelRouter, error) {
	switch provider.Kind {
	case "", "anthropic":
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:    provider.APIKey,
			BaseURL:   provider.BaseURL,
			Model:     provider.Model,
			MaxTokens: provider.MaxTokens,
		})
	case "openai":
		return providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:  provider.APIKey,
			BaseURL: provider.BaseURL,
			Model:   provider.Model,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", provider.Kind)
	}
}

func registerAdapters(gateway *channels.Gateway, cfg *config.Config, logger *slog.Logger) error {
	registered := 0
	if cfg.Channels.CLI {
		gateway.Register(cli.New(nil, nil, logger))
		registered++
	}
	if cfg.Channels.DiscordToken != "" {
		gateway.Register(discord.New(cfg.Channels.DiscordToken, logger))
		registered++
	}
	if cfg.Channels.TelegramToken != "" {
		gateway.Register(telegram.New(cfg.Channels.TelegramToken, logger))
		registered++
	}
	if cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != "" {
		gateway.Register(slack.New(slack.Config{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
		}, logger))
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("no channel adapters configured")
	}
	return nil
}

// restoreInterrupted reattaches a crash checkpoint, if one exists, to the
// room it belongs to.
func restoreInterrupted(engine *agent.Engine, gateway *channels.Gateway, checkpoints *checkpoint.Manager, logger *slog.Logger) {
	if !checkpoints.Restorable() {
		return
	}
	snapshot, err := checkpoints.Load()
	if err != nil {
		logger.Warn("checkpoint unreadable, skipping restore", "error", err)
		return
	}
	actx := gateway.Context(models.ChannelType(snapshot.Adapter), snapshot.RoomID)
	if engine.Restore(actx) {
		logger.Info("restored interrupted session", "room_id", snapshot.RoomID, "iteration", snapshot.Iteration)
	}
}
