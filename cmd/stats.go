package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/config"
	"github.com/kyleking/fedquery/internal/schema"
	"github.com/kyleking/fedquery/internal/storage"
)

func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:        "stats",
		Usage:       "Display index statistics",
		Description: `Show how many tables and documents are indexed, when indexing last ran, and a per-source breakdown of tables, columns, rows and keys.`,
		Action: withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			stored, err := a.repo.GetStats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get statistics: %w", err)
			}

			printStats(cmd.Root().Writer, stored, a.schemas.Statistics(""))

			return nil
		}),
	}
}

func printStats(w io.Writer, stored *storage.Stats, index schema.Statistics) {
	fmt.Fprintf(w, "Index Statistics\n")
	fmt.Fprintf(w, "================\n\n")

	fmt.Fprintf(w, "Indexed Tables: %s\n", humanize.Comma(int64(stored.TotalDescriptors)))
	fmt.Fprintf(w, "Documents: %s\n", humanize.Comma(int64(stored.TotalDocuments)))
	fmt.Fprintf(w, "Database Size: %.2f MB\n", stored.DatabaseSizeMB)

	if !stored.LastIndexedAt.IsZero() {
		fmt.Fprintf(w, "Last Indexed: %s\n", stored.LastIndexedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(w, "Last Indexed: Never\n")
	}

	if len(index.Sources) == 0 {
		return
	}

	fmt.Fprintf(w, "\nSources:\n")

	names := make([]string, 0, len(index.Sources))
	for name := range index.Sources {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		s := index.Sources[name]
		fmt.Fprintf(w, "  %-15s %3d tables  %4d columns  %10s rows  %d with primary key  %d foreign keys\n",
			name, s.Tables, s.TotalColumns, humanize.Comma(s.TotalRows), s.TablesWithPK, s.TotalForeignKeys)
	}
}
