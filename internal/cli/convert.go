// Package cli wires the engine's internal packages (C1-C8) into the
// urfave/cli/v2 command tree (spec.md's external interface): one file per
// command, config pulled from c.Context, flags overriding the loaded
// config, logrus narration with emoji-prefixed log lines.
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/bidsify/bidsify/internal/config"
)

// ConvertCommand returns the convert command: discovery through top-level
// aggregation for one subject/session (spec.md C1-C8 end to end).
func ConvertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a subject's DICOM files into a BIDS dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "Subject identifier", Required: true},
			&cli.StringFlag{Name: "session", Usage: "Session identifier"},
			&cli.StringSliceFlag{Name: "files", Usage: "Source templates/paths with {subject}/{session} placeholders"},
			&cli.StringSliceFlag{Name: "path", Usage: "Explicit file or directory, used verbatim alongside --files"},
			&cli.StringFlag{Name: "heuristic", Aliases: []string{"f"}, Usage: "Heuristic name or path (overrides config)"},
			&cli.StringFlag{Name: "output-dir", Usage: "Dataset root (overrides config output_root)"},
			&cli.StringFlag{Name: "grouping", Usage: "Grouping mode: accession_number, studyUID, all, custom"},
			&cli.StringFlag{Name: "converter", Usage: "Converter: dcm2niix, none"},
			&cli.StringFlag{Name: "dcm2niix-dir", Usage: "Bundled dcm2niix install dir, used when not found on PATH"},
			&cli.BoolFlag{Name: "bids", Usage: "Emit BIDS layout"},
			&cli.BoolFlag{Name: "bids-notop", Usage: "Skip top-level file writes (pair with a later populate-templates run)"},
			&cli.BoolFlag{Name: "minmeta", Usage: "Restrict sidecars to the declared BIDS vocabulary"},
			&cli.BoolFlag{Name: "overwrite", Usage: "Overwrite existing outputs and top-level files"},
			&cli.BoolFlag{Name: "split-by-echo", Usage: "Split multi-echo series into separate stable sub-series", Value: true},
			&cli.BoolFlag{Name: "dry-run", Usage: "Plan conversions without invoking the transcoder or writing files"},
			&cli.StringFlag{Name: "group", Usage: "participants.tsv group column value for this subject"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Enable verbose output"},
		},
		Action: convertAction,
	}
}

func convertAction(c *cli.Context) error {
	cfg, ok := c.Context.Value("config").(*config.Config)
	if !ok {
		return fmt.Errorf("❌ configuration not found in context")
	}

	if v := c.String("heuristic"); v != "" {
		cfg.Heuristic = v
	}
	if v := c.String("output-dir"); v != "" {
		cfg.OutputRoot = v
	}
	if v := c.String("grouping"); v != "" {
		cfg.Grouping = v
	}
	if v := c.String("converter"); v != "" {
		cfg.Converter = v
	}
	if c.IsSet("bids") {
		cfg.BIDS = c.Bool("bids")
	}
	if c.IsSet("bids-notop") {
		cfg.BIDSNoTop = c.Bool("bids-notop")
	}
	if c.IsSet("minmeta") {
		cfg.MinMeta = c.Bool("minmeta")
	}
	if c.IsSet("overwrite") {
		cfg.Overwrite = c.Bool("overwrite")
	}
	if c.Bool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	return runConvert(c.Context, convertRequest{
		cfg:         cfg,
		subject:     c.String("subject"),
		session:     c.String("session"),
		files:       c.StringSlice("files"),
		paths:       c.StringSlice("path"),
		dcm2niixDir: c.String("dcm2niix-dir"),
		splitByEcho: c.Bool("split-by-echo"),
		dryRun:      c.Bool("dry-run"),
		group:       c.String("group"),
	})
}
