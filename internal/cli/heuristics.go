package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/bidsify/bidsify/internal/heuristic"
)

// HeuristicsCommand enumerates the bundled reference heuristics
// (supplemented feature: spec.md's C3 assumes bundled heuristics exist but
// never names a way to enumerate them).
func HeuristicsCommand() *cli.Command {
	return &cli.Command{
		Name:  "heuristics",
		Usage: "Inspect bundled heuristics",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List bundled heuristic short names usable with convert --heuristic",
				Action: listHeuristicsAction,
			},
		},
	}
}

func listHeuristicsAction(c *cli.Context) error {
	names := heuristic.BundledNames()
	if len(names) == 0 {
		fmt.Println("no bundled heuristics registered")
		return nil
	}
	fmt.Println("📋 bundled heuristics:")
	for _, n := range names {
		fmt.Printf("   - %s\n", n)
	}
	return nil
}
