package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"medrag/internal/domain"
	"medrag/internal/logging"
)

func cmdSearch(g *globals) *cli.Command {
	var k int
	return &cli.Command{
		Name:      "search",
		Aliases:   []string{"q"},
		Usage:     "Print the facts most similar to a question",
		ArgsUsage: "QUESTION...",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "k",
				Usage:       "Number of facts to return, defaults to retrieval.top_k",
				Sources:     cli.EnvVars("MEDRAG_TOP_K"),
				Destination: &k,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return goerr.Wrap(domain.ErrInvalidArgument, "a question is required")
			}
			rt, err := assemble(ctx, g.cfg, false)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					logging.From(ctx).Warn("failed to close runtime", logging.ErrAttrs(err)...)
				}
			}()

			if _, err := rt.chat.LoadOrRebuild(ctx); err != nil {
				return err
			}
			sources, err := rt.chat.Search(ctx, query, k)
			if err != nil {
				return err
			}
			w := c.Root().Writer
			if len(sources) == 0 {
				fmt.Fprintln(w, "no matching facts")
				return nil
			}
			for i, s := range sources {
				fmt.Fprintf(w, "%2d. [%.4f] %s\n", i+1, s.Score, s.Text)
			}
			return nil
		},
	}
}
