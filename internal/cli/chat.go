package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"medrag/internal/logging"
	"medrag/internal/tui"
)

func cmdChat(g *globals) *cli.Command {
	var userID string
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with the assistant in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "User id whose stored health profile personalizes answers",
				Value:       "guest",
				Sources:     cli.EnvVars("MEDRAG_USER"),
				Destination: &userID,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if g.logFile == "" {
				// the TUI owns the terminal
				logger, err := logging.New(io.Discard, 0, logging.FormatJSON)
				if err != nil {
					return err
				}
				logging.SetDefault(logger)
				ctx = logging.With(ctx, logger)
			}

			rt, err := assemble(ctx, g.cfg, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					logging.From(ctx).Warn("failed to close runtime", logging.ErrAttrs(err)...)
				}
			}()

			report, err := rt.chat.LoadOrRebuild(ctx)
			if err != nil {
				return err
			}
			sess := rt.chat.StartSession(userID)
			defer func() { _ = rt.chat.EndSession(sess.ID) }()

			summary := fmt.Sprintf("%d facts, generation %s, model %s, user %s",
				report.Sentences, report.Generation, report.Model, userID)
			m := tui.New(ctx, rt.chat, sess.ID, nil, summary)
			if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(os.Stdout)).Run(); err != nil {
				return goerr.Wrap(err, "terminal chat failed")
			}
			return nil
		},
	}
}
