// Command atisbot polls an ATIS provider and republishes changed reports to
// a Telegram channel.
//
// Usage:
//
//	atisbot run -c config.yaml        # Run the relay
//	atisbot validate -c config.yaml   # Validate configuration
//	atisbot fetch -c config.yaml      # Fetch once and print the message
//	atisbot version                   # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "atisbot",
	Short: "Relay ATIS reports to a Telegram channel",
	Long: `atisbot polls an ATIS provider for one airport and posts the report to a
Telegram channel whenever it changes.

Quick start:
  1. Create a config file (config.yaml) with telegram.token and telegram.channel
  2. Run: atisbot validate -c config.yaml
  3. Run: atisbot run -c config.yaml`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "atisbot %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
