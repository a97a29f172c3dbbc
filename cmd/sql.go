package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/formatter"
)

func SQLCommand() *cli.Command {
	return &cli.Command{
		Name:      "sql",
		Usage:     "Run read-only SQL against one source",
		ArgsUsage: "<source> <sql>",
		Description: `Execute a SELECT (or WITH, VALUES, SHOW, DESCRIBE, EXPLAIN) statement against
a configured source. Write statements are rejected. Results go through the
result cache unless --no-cache is given.

Example:
  fedquery sql shop "SELECT status, COUNT(*) FROM orders GROUP BY status"`,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum rows returned (default 1000)"},
			&cli.IntFlag{Name: "max-rows", Value: formatter.DefaultMaxRows, Usage: "Rows rendered"},
			&cli.BoolFlag{Name: "no-cache", Usage: "Bypass the result cache"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
			if cmd.Args().Len() < 2 {
				return apperrors.NewValidationError("arguments", "expected <source> <sql>")
			}

			source := cmd.Args().First()
			sql := strings.Join(cmd.Args().Tail(), " ")

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runSQL(ctx, cmd.Root().Writer, a, sqlOptions{
				source:   source,
				sql:      sql,
				limit:    int(cmd.Int("limit")),
				maxRows:  int(cmd.Int("max-rows")),
				useCache: !cmd.Bool("no-cache"),
			})
		}),
	}
}

type sqlOptions struct {
	source   string
	sql      string
	limit    int
	maxRows  int
	useCache bool
}

func runSQL(ctx context.Context, w io.Writer, a *app, opts sqlOptions) error {
	table, cached, err := a.orch.ExecuteSQL(ctx, opts.source, opts.sql, opts.limit, opts.useCache)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, formatter.NewFormatter().WithMaxRows(opts.maxRows).FormatTable(table))

	if cached {
		fmt.Fprintln(w, "(cached)")
	}

	return nil
}
