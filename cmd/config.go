package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/config"
	"github.com/kyleking/fedquery/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags.`,
		Action: withConfig(func(ctx context.Context, cmd *cli.Command, _ *config.Config) error {
			return runConfig(ctx, cmd.Root().Writer)
		}),
	}
}

func runConfig(ctx context.Context, w io.Writer) error {
	return RunConfigWithConfig(w, getConfigFromContext(ctx))
}

// RunConfigWithConfig prints cfg to w
func RunConfigWithConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nDatabase:")
	fmt.Fprintf(w, "  Path: %s\n", cfg.Database.Path)
	fmt.Fprintf(w, "  Max Connections: %d\n", cfg.Database.MaxConnections)
	fmt.Fprintf(w, "  Query Timeout: %s\n", cfg.Database.QueryTimeout)

	fmt.Fprintln(w, "\nSources:")

	if len(cfg.Sources) == 0 {
		fmt.Fprintln(w, "  (none)")
	}

	for _, src := range cfg.Sources {
		fmt.Fprintf(w, "  %s: %s\n", src.Name, src.Driver)
	}

	fmt.Fprintln(w, "\nCache:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Cache.Enabled)
	fmt.Fprintf(w, "  TTL: %s\n", cfg.Cache.TTL)
	fmt.Fprintf(w, "  Max Entry Size: %d MB\n", cfg.Cache.MaxEntrySizeMB)
	fmt.Fprintf(w, "  Max Total Size: %d MB\n", cfg.Cache.MaxTotalSizeMB)
	fmt.Fprintf(w, "  Max Entries: %d\n", cfg.Cache.MaxEntries)

	if cfg.Cache.RedisAddr != "" {
		fmt.Fprintf(w, "  Redis: %s (db %d)\n", cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
	}

	fmt.Fprintln(w, "\nSearch:")
	fmt.Fprintf(w, "  Leg Timeout: %s\n", cfg.Search.LegTimeout)
	fmt.Fprintf(w, "  Max Concurrent Sources: %d\n", cfg.Search.MaxConcurrentSources)
	fmt.Fprintf(w, "  Limit Per Source: %d\n", cfg.Search.LimitPerSource)
	fmt.Fprintf(w, "  Page Size: %d\n", cfg.Search.PageSize)

	fmt.Fprintln(w, "\nGenerator:")
	fmt.Fprintf(w, "  Use Model: %t\n", cfg.Generator.UseModel)
	fmt.Fprintf(w, "  Top K: %d\n", cfg.Generator.TopK)

	if cfg.Generator.UseModel {
		fmt.Fprintf(w, "  LLM Provider: %s\n", cfg.LLM.Provider)
		fmt.Fprintf(w, "  LLM Model: %s\n", cfg.LLM.Model)
	}

	fmt.Fprintln(w, "\nEmbedding:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Embedding.Provider)
	fmt.Fprintf(w, "  Dimensions: %d\n", cfg.Embedding.Dimensions)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintf(w, "  Add Source: %t\n", cfg.Logging.AddSource)

	fmt.Fprintln(w, "\nDebug:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Debug.Enabled)
	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Debug.Verbose)

	if cfg.Debug.Enabled {
		fmt.Fprintln(w, "\nRaw Configuration (JSON):")
		fmt.Fprintln(w, "==========================")

		redacted := *cfg
		redacted.LLM.APIKey = redact(cfg.LLM.APIKey)
		redacted.Embedding.APIKey = redact(cfg.Embedding.APIKey)
		redacted.Cache.RedisPassword = redact(cfg.Cache.RedisPassword)

		jsonData, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(jsonData))
	}

	return nil
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}

	return "****"
}
