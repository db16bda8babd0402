package main

import (
	"fmt"
	"os"

	"wg-peerctl/peerctl/internal/cli"
	"wg-peerctl/peerctl/internal/config"
)

func main() {
	defaults, err := config.LoadDefaults()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cli.NewRootCommand(defaults).Execute(); err != nil {
		os.Exit(1)
	}
}
