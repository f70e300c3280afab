package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// NewInitCommand returns the init subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Write a default config and jobfile in the current directory",
		Action: runInit,
	}
}

func runInit(_ context.Context, cmd *cli.Command) error {
	created := false

	configPath := cmd.String("config")
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	if _, err := os.Stat("jobs.yaml"); err != nil {
		if err := os.WriteFile("jobs.yaml", []byte(defaultJobfile), 0o644); err != nil {
			return fmt.Errorf("write jobfile: %w", err)
		}
		fmt.Println("  Created jobs.yaml")
		created = true
	}

	if !created {
		fmt.Println("Already initialized. Nothing to do.")
		return nil
	}

	fmt.Println("Run `dispatchd run` to start dispatching.")
	return nil
}

const defaultConfig = `{
	// dispatchd configuration

	"log_level": "info",

	"worker": {
		// "timed" wakes the idle worker periodically, "block" waits for a
		// notification, "busy" polls without sleeping.
		"wait_mode": "timed",
		"wait_timeout": "500ms",

		// Keep the worker alive when a job panics.
		"recover_panics": false
	},

	"events": {
		"buffer_size": 1024
	},

	"jobfile": "jobs.yaml"
}
`

const defaultJobfile = `jobs:
  - name: hello
    command: ["echo", "hello from dispatchd"]

  - name: heartbeat
    command: ["date"]
    every: 10s

  - name: countdown
    command: ["echo", "tick"]
    times: 3
`
