package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/config"
	"github.com/kyleking/fedquery/internal/formatter"
)

func SourcesCommand() *cli.Command {
	return &cli.Command{
		Name:  "sources",
		Usage: "List configured sources and their indexed tables",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "ping", Usage: "Check that each source is reachable"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runSources(ctx, cmd.Root().Writer, a, cmd.Bool("ping"))
		}),
	}
}

func runSources(ctx context.Context, w io.Writer, a *app, ping bool) error {
	sources := a.exec.Sources()
	fmt.Fprintln(w, formatter.NewFormatter().FormatSources(sources, a.tableCounts()))

	if !ping {
		return nil
	}

	for _, name := range sources {
		if err := a.exec.Ping(ctx, name); err != nil {
			fmt.Fprintf(w, "%s: unreachable: %v\n", name, err)
			continue
		}

		fmt.Fprintf(w, "%s: ok\n", name)
	}

	return nil
}
