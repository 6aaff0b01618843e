package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/itak-ai/itak/internal/config"
	"github.com/itak-ai/itak/internal/memory"
	"github.com/itak-ai/itak/internal/secrets"
)

func buildCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify configuration and environment without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "itak.yaml", "Path to configuration file")
	return cmd
}

func runCheck(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	failures := 0

	report := func(ok bool, format string, args ...any) {
		mark := "ok"
		if !ok {
			mark = "FAIL"
			failures++
		}
		fmt.Fprintf(out, "[%4s] %s\n", mark, fmt.Sprintf(format, args...))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		report(false, "config %s: %v", configPath, err)
		return fmt.Errorf("preflight failed")
	}
	report(true, "config %s", configPath)
	for _, warning := range cfg.Warnings {
		report(false, "override: %s", warning)
	}

	sec := secrets.NewManager(nil)
	if err := sec.LoadEnvFile(cfg.EnvFile); err != nil {
		report(false, "env file %s: %v", cfg.EnvFile, err)
	} else {
		report(true, "env file %s", cfg.EnvFile)
	}
	resolveWellKnown(cfg, sec)

	report(cfg.Provider.APIKey != "", "provider %s credentials", providerKind(cfg))

	hasChannel := cfg.Channels.CLI || cfg.Channels.DiscordToken != "" ||
		cfg.Channels.TelegramToken != "" ||
		(cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != "")
	report(hasChannel, "at least one channel configured")

	for _, dir := range []string{cfg.Logging.Dir, cfg.Storage.CheckpointDir, filepath.Dir(cfg.Storage.MemoryDBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			report(false, "data dir %s: %v", dir, err)
		} else {
			report(true, "data dir %s", dir)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store := memory.NewSQLiteStore(cfg.Storage.MemoryDBPath, nil)
	if err := store.Connect(ctx); err != nil {
		report(false, "memory store %s: %v", cfg.Storage.MemoryDBPath, err)
	} else {
		report(true, "memory store %s", cfg.Storage.MemoryDBPath)
		store.Close()
	}

	for _, server := range cfg.MCP {
		if _, err := os.Stat(server.Command); err != nil && !filepath.IsAbs(server.Command) {
			// Relative commands resolve through PATH at spawn time.
			report(true, "mcp server %s (command resolved at start)", server.Name)
			continue
		} else if err != nil {
			report(false, "mcp server %s: %v", server.Name, err)
			continue
		}
		report(true, "mcp server %s", server.Name)
	}

	if failures > 0 {
		return fmt.Errorf("preflight failed: %d problem(s)", failures)
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}

func providerKind(cfg *config.Config) string {
	if cfg.Provider.Kind == "" {
		return "anthropic"
	}
	return cfg.Provider.Kind
}
