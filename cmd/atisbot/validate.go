package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"atisbot/internal/atis"
	"atisbot/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate an atisbot configuration file without connecting to Telegram.

The file is parsed strictly (unknown keys are errors), environment variables
are expanded and every field is checked.

Example:
  atisbot validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ac, err := cfg.ATISClient()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	endpoint, _ := atis.BuildURL(ac.BaseURL, ac.ICAO, ac.Source)
	rc, err := cfg.RelayLoop()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Endpoint:  %s\n", endpoint)
	fmt.Fprintf(out, "  Channel:   %s\n", rc.Channel)
	fmt.Fprintf(out, "  Threshold: %s\n", rc.Threshold)
	fmt.Fprintf(out, "  Schedule:  %s\n", cfg.Relay.Schedule)
	fmt.Fprintf(out, "  Metrics:   %t\n", cfg.Metrics.Enabled)
	return nil
}
