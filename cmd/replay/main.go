package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"route-replay/internal/platform/config"
)

func main() {
	_ = config.Load()

	app := &cli.App{
		Name:                 "replay",
		Usage:                "resolve drive routes and load their segments",
		EnableBashCompletion: true,
		Flags:                globalFlags,
		Commands: []*cli.Command{
			manifestCmd,
			loadCmd,
		},
	}

	app.Setup()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}
