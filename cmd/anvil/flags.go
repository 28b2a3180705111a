package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/anvilml/anvil/internal/logger"
)

var (
	graphPath string
	graphName string
	logLevel  string
	logFormat string
	debug     bool
)

func graphFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "graph",
			Aliases:     []string{"g"},
			Usage:       "path to portable graph JSON",
			Destination: &graphPath,
		},
		&cli.StringFlag{
			Name:        "name",
			Usage:       "override the target graph name",
			Destination: &graphName,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// buildLogger assembles the logger from the logging flags. Pretty
// output falls back to plain text when stderr is not a terminal.
func buildLogger() logger.Logger {
	lvl := logger.ParseLevel(logLevel)
	if debug {
		lvl = slog.LevelDebug
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, lvl)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	default:
		if stderrIsTTY() {
			return logger.Pretty(os.Stderr, lvl)
		}
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	}
}
