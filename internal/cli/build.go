package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"medrag/internal/logging"
)

func cmdBuild(g *globals) *cli.Command {
	return &cli.Command{
		Name:    "build",
		Aliases: []string{"b"},
		Usage:   "Normalize the corpus, build a new index generation and publish it",
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := assemble(ctx, g.cfg, false)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					logging.From(ctx).Warn("failed to close runtime", logging.ErrAttrs(err)...)
				}
			}()

			report, err := rt.chat.Rebuild(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "published generation %s: %d facts embedded with %s\n",
				report.Generation, report.Sentences, report.Model)
			return nil
		},
	}
}
