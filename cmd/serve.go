package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/api"
	"github.com/kyleking/fedquery/internal/config"
)

const memorySampleInterval = 15 * time.Second

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the search API over HTTP",
		Description: `Start the JSON API with Prometheus metrics on /metrics. The server keeps one
result cache for its lifetime and shuts down gracefully on SIGINT or SIGTERM.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (default from config)"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
			if addr := cmd.String("addr"); addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runServe(ctx, a)
		}),
	}
}

func runServe(ctx context.Context, a *app) error {
	memory := a.metrics.Memory()
	memory.Start(ctx, memorySampleInterval)

	defer memory.Stop()

	return api.NewServer(api.Config{
		Addr:         a.cfg.Server.Addr,
		Orchestrator: a.orch,
		Schemas:      a.schemas,
		Documents:    a.documents,
		Metrics:      a.metrics,
	}).Serve(ctx)
}
