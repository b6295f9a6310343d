package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// VersionCommand prints the app's version string, alongside the standard
// --version/-v global flag urfave/cli already provides.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the bidsify version",
		Action: func(c *cli.Context) error {
			fmt.Println(c.App.Version)
			return nil
		},
	}
}
