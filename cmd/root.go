package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/logging"
)

type configKey struct{}

// RootCommand assembles the fedquery command tree
func RootCommand() *cli.Command {
	return &cli.Command{
		Name:  "fedquery",
		Usage: "Ask questions across SQL databases and documents in natural language",
		Description: `fedquery indexes the schemas of configured SQL sources, turns natural-language
questions into read-only SQL, and ranks the resulting tables together with
semantically matching documents.

Sources are declared as name=driver:dsn, for example:
  fedquery --source shop=sqlite:./shop.db search "count orders"`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to the JSON config file"},
			&cli.StringFlag{Name: "db-path", Usage: "DuckDB file holding schema descriptors and documents"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
			&cli.StringFlag{Name: "log-format", Usage: "Log format: text or json"},
			&cli.StringSliceFlag{Name: "source", Aliases: []string{"s"}, Usage: "Data source as name=driver:dsn (repeatable)"},
			&cli.BoolFlag{Name: "use-model", Usage: "Refine generated SQL with the configured language model"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug mode"},
			&cli.BoolFlag{Name: "verbose", Usage: "Verbose output"},
		},
		Commands: []*cli.Command{
			IndexCommand(),
			QueryCommand(),
			SearchCommand(),
			SQLCommand(),
			SourcesCommand(),
			CacheCommand(),
			DocsCommand(),
			StatsCommand(),
			ServeCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the CLI against os.Args
func Execute() error {
	ctx := context.Background()

	if err := RootCommand().Run(ctx, os.Args); err != nil {
		printError(os.Stderr, err)
		return err
	}

	return nil
}

// printError writes err and any suggestions attached to it
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var typed *apperrors.Error
	if apperrors.As(err, &typed) {
		for _, s := range typed.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}

// withConfig loads the configuration from the root flags, initializes logging
// and hands both to fn. A configuration already present in ctx is reused.
func withConfig(fn func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if cfg := getConfigFromContext(ctx); cfg != nil {
			return fn(ctx, cmd, cfg)
		}

		cfg, err := loadConfig(cmd.Root())
		if err != nil {
			return err
		}

		if err := logging.InitializeLogger(cfg.Logging); err != nil {
			logging.SetupFallbackLogger()
			logging.GetLogger().WithError(err).Warn("Falling back to default logger")
		}

		return fn(contextWithConfig(ctx, cfg), cmd, cfg)
	}
}

func loadConfig(root *cli.Command) (*config.Config, error) {
	if path := root.String("config"); path != "" {
		if err := os.Setenv("FEDQUERY_CONFIG", path); err != nil {
			return nil, err
		}
	}

	overrides := map[string]interface{}{
		"db-path":    root.String("db-path"),
		"log-level":  root.String("log-level"),
		"log-format": root.String("log-format"),
		"source":     root.StringSlice("source"),
	}

	for _, name := range []string{"use-model", "debug", "verbose"} {
		if root.IsSet(name) {
			overrides[name] = root.Bool(name)
		}
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		return nil, err
	}

	cfg.ExpandAllPaths()

	return cfg, nil
}

func contextWithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func getConfigFromContext(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}
