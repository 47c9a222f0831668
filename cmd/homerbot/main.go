package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

const defaultConfigPath = "homerbot.yaml"

func main() {
	root := &cobra.Command{
		Use:     "homerbot",
		Short:   "Homer, the donut-obsessed chat relay",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newStatsCmd(),
		newCacheCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
