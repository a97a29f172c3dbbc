package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/fedquery/internal/config"
	"github.com/kyleking/fedquery/internal/documents"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/search"
)

const defaultDocsLimit = 20

func DocsCommand() *cli.Command {
	return &cli.Command{
		Name:  "docs",
		Usage: "Manage the document index searched alongside SQL sources",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Index text, Markdown or HTML files",
				ArgsUsage: "<file...>",
				Description: `HTML is converted to Markdown before embedding. Without --title the first
Markdown heading becomes the title.`,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source-name", Value: "documents", Usage: "Source label shown in results"},
					&cli.StringFlag{Name: "title", Usage: "Title for a single file"},
				},
				Action: withDocs(func(ctx context.Context, cmd *cli.Command, a *app) error {
					if cmd.Args().Len() == 0 {
						return apperrors.NewValidationError("file", "at least one path is required")
					}

					return runDocsAdd(ctx, cmd.Root().Writer, a, cmd.Args().Slice(),
						cmd.String("source-name"), cmd.String("title"))
				}),
			},
			{
				Name:  "list",
				Usage: "List indexed documents",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: defaultDocsLimit, Usage: "Documents shown"},
					&cli.IntFlag{Name: "offset", Usage: "Documents skipped"},
				},
				Action: withDocs(func(ctx context.Context, cmd *cli.Command, a *app) error {
					return runDocsList(ctx, cmd.Root().Writer, a, int(cmd.Int("limit")), int(cmd.Int("offset")))
				}),
			},
			{
				Name:      "search",
				Usage:     "Search documents only",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 10, Usage: "Hits shown"},
				},
				Action: withDocs(func(ctx context.Context, cmd *cli.Command, a *app) error {
					text, err := questionArg(cmd)
					if err != nil {
						return err
					}

					return runDocsSearch(ctx, cmd.Root().Writer, a, text, int(cmd.Int("limit")))
				}),
			},
			{
				Name:      "delete",
				Usage:     "Remove a document by id",
				ArgsUsage: "<id>",
				Action: withDocs(func(ctx context.Context, cmd *cli.Command, a *app) error {
					id := cmd.Args().First()
					if id == "" {
						return apperrors.NewValidationError("id", "is required")
					}

					if err := a.documents.Delete(ctx, id); err != nil {
						return err
					}

					fmt.Fprintf(cmd.Root().Writer, "Deleted %s\n", id)

					return nil
				}),
			},
		},
	}
}

func withDocs(fn func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, cmd, a)
	})
}

func runDocsAdd(ctx context.Context, w io.Writer, a *app, paths []string, sourceName, title string) error {
	if title != "" && len(paths) > 1 {
		return apperrors.NewValidationError("title", "can only be set when adding one file")
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return apperrors.Wrapf(err, apperrors.ErrTypeFileSystem, "failed to read %s", path)
		}

		content := string(data)

		id, err := a.documents.Add(ctx, documents.Document{
			SourceName:  sourceName,
			Title:       title,
			Content:     content,
			ContentType: documents.DetectContentType(filepath.Base(path), content),
			Metadata:    map[string]string{"path": path},
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "Added %s (%s) as %s\n", path, humanize.Bytes(uint64(len(data))), id)
	}

	return nil
}

func runDocsList(ctx context.Context, w io.Writer, a *app, limit, offset int) error {
	docs, err := a.documents.List(ctx, limit, offset)
	if err != nil {
		return err
	}

	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents indexed")
		return nil
	}

	for _, d := range docs {
		fmt.Fprintf(w, "%s  [%s] %s  %s  added %s\n",
			d.ID, d.SourceName, d.Title,
			humanize.Bytes(uint64(len(d.Content))),
			humanize.Time(d.CreatedAt))
	}

	return nil
}

func runDocsSearch(ctx context.Context, w io.Writer, a *app, text string, limit int) error {
	hits, err := a.documents.Search(ctx, text, limit)
	if err != nil {
		return err
	}

	if len(hits) == 0 {
		fmt.Fprintln(w, "No matching documents")
		return nil
	}

	for i, h := range hits {
		preview := strings.SplitN(search.TextPreview(h.Content, search.PreviewChars), "\n", 2)[0]
		fmt.Fprintf(w, "%d. [%s] %v  Score:%.2f  %s\n", i+1, h.SourceName, h.Metadata["title"], h.Score, preview)
	}

	return nil
}
