package commands

import (
	"github.com/urfave/cli/v3"
)

// DefaultConfigPath is where dispatchd looks for its config when --config is
// not given.
const DefaultConfigPath = "dispatchd.jsonc"

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "dispatchd",
		Usage: "Single-worker FIFO task dispatcher",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   DefaultConfigPath,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewRunCommand(),
			NewInitCommand(),
		},
	}
}
