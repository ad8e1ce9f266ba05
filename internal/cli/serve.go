package cli

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"medrag/internal/logging"
	"medrag/internal/server"
	"medrag/internal/watcher"
)

func cmdServe(g *globals) *cli.Command {
	var (
		addr  string
		watch bool
	)
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP chat server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP server address, overrides server.addr",
				Sources:     cli.EnvVars("MEDRAG_ADDR"),
				Destination: &addr,
			},
			&cli.BoolFlag{
				Name:        "watch",
				Usage:       "Rebuild the index when the corpus file changes",
				Sources:     cli.EnvVars("MEDRAG_WATCH"),
				Destination: &watch,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := g.cfg
			if addr == "" {
				addr = cfg.Server.Addr
			}
			watch = watch || cfg.Server.Watch
			log := logging.From(ctx)

			rt, err := assemble(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					log.Warn("failed to close runtime", logging.ErrAttrs(err)...)
				}
			}()

			// Serve even without an index: queries answer 503 until a rebuild succeeds.
			if report, err := rt.chat.LoadOrRebuild(ctx); err != nil {
				log.Error("no index available at startup", logging.ErrAttrs(err)...)
			} else {
				log.Info("index ready", "generation", report.Generation, "facts", report.Sentences, "model", report.Model)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if watch {
				w, err := watcher.New(cfg.Corpus.Path, time.Duration(cfg.Server.DebounceMillis)*time.Millisecond,
					func(ctx context.Context) error {
						report, err := rt.chat.Rebuild(ctx)
						if err != nil {
							return err
						}
						logging.From(ctx).Info("index rebuilt", "generation", report.Generation, "facts", report.Sentences)
						return nil
					})
				if err != nil {
					return goerr.Wrap(err, "failed to start corpus watcher")
				}
				go func() { _ = w.Run(ctx) }()
				log.Info("watching corpus", "path", cfg.Corpus.Path)
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.New(rt.chat, rt.profiles),
				ReadHeaderTimeout: 30 * time.Second,
				BaseContext:       func(_ net.Listener) context.Context { return logging.With(context.Background(), log) },
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("starting HTTP server", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server", goerr.V("addr", addr))
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info("received shutdown signal")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}
				log.Info("server shutdown completed")
				return nil
			}
		},
	}
}
