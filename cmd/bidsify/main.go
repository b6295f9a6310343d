package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	internalcli "github.com/bidsify/bidsify/internal/cli"
	"github.com/bidsify/bidsify/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	Version   = "0.1.0-beta"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	app := &cli.App{
		Name:      "bidsify",
		Usage:     "Convert DICOM studies into BIDS datasets",
		Version:   fmt.Sprintf("%s (built: %s, commit: %s)", Version, BuildDate, GitCommit),
		Authors:   []*cli.Author{{Name: "bidsify contributors"}},
		Copyright: "Licensed under the MIT License",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Configuration file path", Value: "bidsify.yaml"},
			&cli.StringFlag{Name: "log-file", Usage: "Log file path"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level (DEBUG, INFO, WARNING, ERROR; unrecognized values fall back to INFO)", Value: "INFO"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				logrus.Warnf("Failed to load config file %s: %v", c.String("config"), err)
				cfg = config.DefaultConfig()
			}
			if c.String("log-file") != "" {
				cfg.Logging.File = c.String("log-file")
			}
			if c.String("log-level") != "" {
				cfg.Logging.Level = c.String("log-level")
			}
			if err := initLogging(cfg.Logging); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			c.Context = context.WithValue(c.Context, "config", cfg)
			return nil
		},
		Commands: []*cli.Command{
			internalcli.ConvertCommand(),
			internalcli.HeuristicsCommand(),
			internalcli.PopulateTemplatesCommand(),
			internalcli.VersionCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func initLogging(cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		logrus.SetOutput(file)
	}
	return nil
}
