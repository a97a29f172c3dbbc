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

func QueryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Generate SQL for a question without running it",
		ArgsUsage: "<question>",
		Description: `Show the SQL the generator would run for a natural-language question, with
the tables it drew on, the generation stage and its confidence.

Examples:
  fedquery query "how many orders per status"
  fedquery query --from shop "top 5 customers by amount"`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "Restrict table lookup to one source"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
			text, err := questionArg(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runQuery(ctx, cmd.Root().Writer, a, text, cmd.String("from"))
		}),
	}
}

func runQuery(ctx context.Context, w io.Writer, a *app, text, source string) error {
	q, err := a.orch.GenerateQuery(ctx, text, source)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatQuery(q))

	return nil
}

// questionArg joins the positional arguments into the question text
func questionArg(cmd *cli.Command) (string, error) {
	text := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if text == "" {
		return "", apperrors.NewValidationError("question", "is required").
			WithSuggestion(fmt.Sprintf("Usage: fedquery %s <question>", cmd.Name))
	}

	return text, nil
}
