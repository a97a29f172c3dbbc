package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/formatter"
)

func CacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and invalidate the result cache",
		Description: `The in-process tier only lives as long as one command, so stats and list are
mostly useful from a long-running "serve". Invalidate also clears the shared
Redis tier when FEDQUERY_CACHE_REDIS_ADDR is set.`,
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show hit rate, size and entry count",
				Action: withCache(func(_ context.Context, cmd *cli.Command, a *app) error {
					fmt.Fprintln(cmd.Root().Writer, formatter.NewFormatter().FormatCacheStats(a.cache.Stats()))
					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "List cached queries",
				Action: withCache(func(_ context.Context, cmd *cli.Command, a *app) error {
					fmt.Fprintln(cmd.Root().Writer, formatter.NewFormatter().FormatCachedQueries(a.cache.CachedQueries()))
					return nil
				}),
			},
			{
				Name:      "invalidate",
				Usage:     "Drop cached entries whose key starts with a prefix",
				ArgsUsage: "[source]",
				Description: `With no argument every entry is dropped. A source name drops only that
source's entries; --prefix matches raw key prefixes.`,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "prefix", Usage: "Raw key prefix"},
				},
				Action: withCache(func(ctx context.Context, cmd *cli.Command, a *app) error {
					prefix := cmd.String("prefix")
					if source := cmd.Args().First(); source != "" {
						prefix = source + ":"
					}

					return runCacheInvalidate(ctx, cmd.Root().Writer, a, prefix)
				}),
			},
		},
	}
}

// withCache builds the app and fails when caching is disabled
func withCache(fn func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
		if !cfg.Cache.Enabled {
			return apperrors.New(apperrors.ErrTypeDependencyUnavailable, "result cache is disabled").
				WithSuggestion("Set FEDQUERY_CACHE_ENABLED=true")
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, cmd, a)
	})
}

func runCacheInvalidate(ctx context.Context, w io.Writer, a *app, prefix string) error {
	n := a.cache.Invalidate(ctx, prefix)

	if prefix == "" {
		fmt.Fprintf(w, "Invalidated %d entries\n", n)
	} else {
		fmt.Fprintf(w, "Invalidated %d entries matching %q\n", n, prefix)
	}

	return nil
}
