package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/formatter"
	"github.com/kyleking/fedquery/internal/search"
)

func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search structured sources and documents with a question",
		ArgsUsage: "<question>",
		Description: `Generate and run SQL against every source, search the document index, and
print one ranked list. Failures in one source or leg are reported alongside
the results of the others.

Examples:
  fedquery search "orders shipped last month"
  fedquery search --no-documents --only shop "count orders"
  fedquery search --export csv --output results.csv "customers in London"`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "only", Usage: "Search only these sources (repeatable)"},
			&cli.BoolFlag{Name: "no-tables", Usage: "Skip structured sources"},
			&cli.BoolFlag{Name: "no-documents", Usage: "Skip the document index"},
			&cli.IntFlag{Name: "limit", Usage: "Rows per source (default from config)"},
			&cli.IntFlag{Name: "page", Value: 1, Usage: "Result page"},
			&cli.IntFlag{Name: "page-size", Usage: "Results per page (default from config)"},
			&cli.BoolFlag{Name: "long", Usage: "Render full tables and documents"},
			&cli.StringFlag{Name: "export", Usage: "Write all ranked results as csv or json instead"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Export file (default stdout)"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
			text, err := questionArg(cmd)
			if err != nil {
				return err
			}

			opts := searchFlags{
				options: search.Options{
					SearchStructured:   !cmd.Bool("no-tables"),
					SearchUnstructured: !cmd.Bool("no-documents"),
					SourceNames:        cmd.StringSlice("only"),
					LimitPerSource:     int(cmd.Int("limit")),
					Page:               int(cmd.Int("page")),
					PageSize:           int(cmd.Int("page-size")),
				},
				long:   cmd.Bool("long"),
				export: cmd.String("export"),
				output: cmd.String("output"),
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runSearch(ctx, cmd.Root().Writer, a, text, opts)
		}),
	}
}

type searchFlags struct {
	options search.Options
	long    bool
	export  string
	output  string
}

func runSearch(ctx context.Context, w io.Writer, a *app, text string, flags searchFlags) error {
	var exportFormat formatter.ExportFormat

	if flags.export != "" {
		var err error

		exportFormat, err = formatter.ParseExportFormat(flags.export)
		if err != nil {
			return err
		}
	}

	resp, err := a.orch.Search(ctx, text, flags.options)
	if err != nil {
		return err
	}

	if exportFormat != "" {
		return exportResults(w, resp, exportFormat, flags.output)
	}

	format := formatter.FormatShort
	if flags.long {
		format = formatter.FormatLong
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatResponse(resp, format))

	return nil
}

// exportResults writes the current page of ranked results to path, or to w
// when path is empty
func exportResults(w io.Writer, resp *search.Response, format formatter.ExportFormat, path string) error {
	if path == "" {
		return formatter.Export(w, resp.RankedResults, format)
	}

	f, err := os.Create(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrTypeFileSystem, "failed to create %s", path)
	}

	if err := formatter.Export(f, resp.RankedResults, format); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrTypeFileSystem, "failed to write %s", path)
	}

	fmt.Fprintf(w, "Exported %d results to %s\n", len(resp.RankedResults), path)

	return nil
}
