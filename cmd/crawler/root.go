package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"animestream/catalogservice/internal/app"
)

type commandContext struct {
	backend       string
	providersFile string
	logLevel      string
	jsonOutput    bool

	once    sync.Once
	runtime *app.Runtime
	err     error
}

// ensureRuntime builds the service once per invocation; flags override the
// environment.
func (c *commandContext) ensureRuntime(ctx context.Context) (*app.Runtime, error) {
	c.once.Do(func() {
		cfg := app.LoadConfig()
		if v := strings.TrimSpace(c.backend); v != "" {
			cfg.CacheBackend = strings.ToLower(v)
		}
		if v := strings.TrimSpace(c.providersFile); v != "" {
			cfg.ProvidersFile = v
		}
		if v := strings.TrimSpace(c.logLevel); v != "" {
			cfg.LogLevel = v
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
		slog.SetDefault(logger)
		c.runtime, c.err = app.Build(ctx, cfg, logger)
	})
	return c.runtime, c.err
}

func (c *commandContext) close() {
	if c.runtime != nil {
		_ = c.runtime.Close()
	}
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "crawler",
		Short:         "Populate and query the catalog cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.backend, "backend", "", "Cache backend: memory, redis, mongo or sqlite (default $CACHE_BACKEND)")
	rootCmd.PersistentFlags().StringVar(&ctx.providersFile, "providers-file", "", "Provider tuning TOML file (default $PROVIDERS_FILE)")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level (default $LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOutput, "json", false, "Print JSON instead of text")

	rootCmd.AddCommand(newCrawlCommand(ctx))
	rootCmd.AddCommand(newGetCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))
	rootCmd.AddCommand(newProvidersCommand(ctx))

	return rootCmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
