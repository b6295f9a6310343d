package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"

	"github.com/bidsify/bidsify/internal/config"
)

func TestConvertCommandFlags(t *testing.T) {
	cmd := ConvertCommand()

	expectedFlags := []string{
		"subject", "session", "files", "path", "heuristic", "output-dir",
		"grouping", "converter", "dcm2niix-dir", "bids", "bids-notop",
		"minmeta", "overwrite", "split-by-echo", "dry-run", "group", "verbose",
	}
	for _, name := range expectedFlags {
		found := false
		for _, flag := range cmd.Flags {
			if flag.Names()[0] == name {
				found = true
				break
			}
		}
		assert.True(t, found, "expected flag %s not found", name)
	}
}

func TestConvertCommandSplitByEchoDefaultsTrue(t *testing.T) {
	cmd := ConvertCommand()
	for _, flag := range cmd.Flags {
		if b, ok := flag.(*cli.BoolFlag); ok && b.Name == "split-by-echo" {
			assert.True(t, b.Value)
			return
		}
	}
	t.Fatal("split-by-echo flag not found")
}

func TestConvertActionMissingConfig(t *testing.T) {
	app := &cli.App{
		Name:     "bidsify-test",
		Commands: []*cli.Command{ConvertCommand()},
	}
	err := app.Run([]string{"bidsify-test", "convert", "--subject", "01"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "configuration not found")
}

func TestConvertActionMissingOutputRoot(t *testing.T) {
	cfg := config.DefaultConfig()
	app := &cli.App{
		Name:     "bidsify-test",
		Commands: []*cli.Command{ConvertCommand()},
		Before: func(c *cli.Context) error {
			c.Context = context.WithValue(c.Context, "config", cfg)
			return nil
		},
	}
	err := app.Run([]string{"bidsify-test", "convert", "--subject", "01"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "output_root")
}

func TestConvertActionAppliesFlagOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	outputDir := t.TempDir()
	app := &cli.App{
		Name:     "bidsify-test",
		Commands: []*cli.Command{ConvertCommand()},
		Before: func(c *cli.Context) error {
			c.Context = context.WithValue(c.Context, "config", cfg)
			return nil
		},
	}
	// No source files/paths resolve to anything, so discovery finds
	// nothing and runConvert returns nil without touching the transcoder.
	err := app.Run([]string{
		"bidsify-test", "convert",
		"--subject", "01",
		"--output-dir", outputDir,
		"--grouping", "all",
		"--converter", "none",
		"--bids",
	})
	assert.NoError(t, err)
	assert.Equal(t, outputDir, cfg.OutputRoot)
	assert.Equal(t, "all", cfg.Grouping)
	assert.Equal(t, "none", cfg.Converter)
	assert.True(t, cfg.BIDS)
}

func TestVersionCommand(t *testing.T) {
	app := &cli.App{
		Name:     "bidsify-test",
		Version:  "1.2.3",
		Commands: []*cli.Command{VersionCommand()},
	}
	assert.NoError(t, app.Run([]string{"bidsify-test", "version"}))
}

func TestHeuristicsListCommand(t *testing.T) {
	app := &cli.App{
		Name:     "bidsify-test",
		Commands: []*cli.Command{HeuristicsCommand()},
	}
	assert.NoError(t, app.Run([]string{"bidsify-test", "heuristics", "list"}))
}
