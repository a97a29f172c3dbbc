package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/pool"
	"github.com/kyleking/fedquery/internal/schema"
)

const defaultIndexWorkers = 4

func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Index the table schemas of configured sources",
		ArgsUsage: "[source...]",
		Description: `Describe every table of the named sources (all sources when none are given),
embed a descriptor per table and persist it for query generation.

Re-indexing a source replaces its descriptors. Use --reset to also drop
descriptors of tables that no longer exist.`,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Value: defaultIndexWorkers, Usage: "Tables described in parallel"},
			&cli.BoolFlag{Name: "reset", Usage: "Remove existing descriptors of each source first"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runIndex(ctx, cmd.Root().Writer, a, indexOptions{
				sources:  cmd.Args().Slice(),
				workers:  int(cmd.Int("workers")),
				reset:    cmd.Bool("reset"),
				progress: true,
			})
		}),
	}
}

type indexOptions struct {
	sources  []string
	workers  int
	reset    bool
	progress bool
}

func runIndex(ctx context.Context, w io.Writer, a *app, opts indexOptions) error {
	sources := opts.sources
	if len(sources) == 0 {
		sources = a.exec.Sources()
	}

	if len(sources) == 0 {
		return apperrors.NewConfigError("no sources configured", "sources").
			WithSuggestion("Pass --source name=driver:dsn or set FEDQUERY_SOURCES")
	}

	wp := pool.NewWorkerPool(opts.workers, pool.WithRetries(2, 100*time.Millisecond, time.Second))

	var failedSources int

	for _, source := range sources {
		if opts.reset {
			if _, err := a.schemas.RemoveSource(ctx, source); err != nil {
				return err
			}
		}

		report, err := indexWithSpinner(ctx, a, source, wp, opts.progress)
		if err != nil {
			failedSources++

			fmt.Fprintf(w, "%s: %v\n", source, err)

			continue
		}

		printIndexReport(w, report)
	}

	if failedSources == len(sources) {
		return apperrors.Newf(apperrors.ErrTypeDatabase, "indexing failed for every source (%d)", failedSources)
	}

	return nil
}

func indexWithSpinner(ctx context.Context, a *app, source string, wp *pool.WorkerPool, progress bool) (*schema.IndexReport, error) {
	if progress {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		s.Suffix = fmt.Sprintf(" Indexing %s...", source)
		s.Start()

		defer s.Stop()
	}

	return a.schemas.IndexSource(ctx, a.exec, source, wp)
}

func printIndexReport(w io.Writer, report *schema.IndexReport) {
	fmt.Fprintf(w, "%s: indexed %d tables", report.Source, len(report.Indexed))

	if len(report.Failed) == 0 {
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, ", %d failed\n", len(report.Failed))

	tables := make([]string, 0, len(report.Failed))
	for table := range report.Failed {
		tables = append(tables, table)
	}

	sort.Strings(tables)

	for _, table := range tables {
		fmt.Fprintf(w, "  %s: %s\n", table, report.Failed[table])
	}
}
