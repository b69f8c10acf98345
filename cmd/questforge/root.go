package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "questforge",
	Short: "Questforge generates tabletop campaigns with a human in the loop",
	Long: `Questforge plans a campaign, pauses for review, then builds the party,
paints portraits and writes the narrative. Settings come from an optional
YAML file and QUESTFORGE_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.Version = version
}
