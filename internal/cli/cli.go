// Package cli implements the medrag command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"medrag/internal/config"
	"medrag/internal/logging"
)

// globals holds the flags shared by every sub-command.
type globals struct {
	configPath string
	corpusPath string
	logLevel   string
	logFormat  string
	logFile    string

	cfg     *config.AppConfig
	logSink io.Closer
}

func (g *globals) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to a YAML or TOML config file (default ./config.yaml, then ~/.config/medrag/config.yaml)",
			Sources:     cli.EnvVars("MEDRAG_CONFIG"),
			Destination: &g.configPath,
		},
		&cli.StringFlag{
			Name:        "corpus",
			Usage:       "Corpus JSON file, overrides corpus.path",
			Sources:     cli.EnvVars("MEDRAG_CORPUS"),
			Destination: &g.corpusPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error), overrides log.level",
			Category:    "Logging",
			Sources:     cli.EnvVars("MEDRAG_LOG_LEVEL"),
			Destination: &g.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json), overrides log.format",
			Category:    "Logging",
			Sources:     cli.EnvVars("MEDRAG_LOG_FORMAT"),
			Destination: &g.logFormat,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "Write logs to this file instead of stderr",
			Category:    "Logging",
			Sources:     cli.EnvVars("MEDRAG_LOG_FILE"),
			Destination: &g.logFile,
		},
	}
}

// configure loads the config file, applies flag overrides and installs the
// process logger.
func (g *globals) configure() error {
	var (
		cfg  *config.AppConfig
		path = g.configPath
		err  error
	)
	if path == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return goerr.Wrap(err, "failed to load config")
	}
	if g.corpusPath != "" {
		cfg.Corpus.Path = g.corpusPath
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	g.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	var w io.Writer = os.Stderr
	if g.logFile != "" {
		f, err := os.OpenFile(g.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return goerr.Wrap(err, "failed to open log file", goerr.V("path", g.logFile))
		}
		g.logSink = f
		w = f
	}
	logger, err := logging.New(w, level, logging.Format(cfg.Log.Format))
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	logger.Debug("config loaded", "path", path, "corpus", cfg.Corpus.Path, "embedder", cfg.Embedder.Type, "store", cfg.Index.Store)
	return nil
}

// Run executes the command line in args.
func Run(ctx context.Context, args []string, version string) error {
	g := &globals{}

	app := &cli.Command{
		Name:    "medrag",
		Usage:   "Retrieval-augmented medical question answering over an illness corpus",
		Version: version,
		Flags:   g.flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := g.configure(); err != nil {
				return ctx, err
			}
			return logging.With(ctx, logging.Default()), nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if g.logSink != nil {
				return g.logSink.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			cmdBuild(g),
			cmdSearch(g),
			cmdChat(g),
			cmdServe(g),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		if g.cfg == nil {
			// the logger is not installed before the config loads
			fmt.Fprintln(os.Stderr, "medrag:", err)
			return err
		}
		logging.Default().Error("failed to run medrag", logging.ErrAttrs(err)...)
		return err
	}
	return nil
}
