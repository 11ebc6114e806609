package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"atisbot/internal/atis"
	"atisbot/internal/config"
	"atisbot/internal/relay"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the current ATIS once and print the chat message",
	Long: `Fetch the configured airport's ATIS once and print the message the bot
would post. Nothing is sent to Telegram, so telegram.token may be empty.

Example:
  atisbot fetch -c config.yaml`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = fetchCmd.MarkFlagRequired("config")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ac, err := cfg.ATISClient()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	client, err := atis.NewClient(ac)
	if err != nil {
		return err
	}

	text := ""
	rep, err := client.Fetch(cmd.Context())
	switch {
	case err == nil:
		text = rep.Text
	case atis.IsMissing(err):
		text = cfg.Relay.MissingText
		if text == "" {
			text = relay.DefaultMissingText
		}
	default:
		return fmt.Errorf("fetch %s: %w", client.Endpoint(), err)
	}

	prefix := cfg.Relay.Prefix
	if prefix == "" {
		prefix = relay.DefaultPrefix
	}
	msg, n, truncated := relay.FormatMessage(prefix, text, cfg.Relay.MaxMessageLen)
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	if truncated {
		fmt.Fprintf(cmd.ErrOrStderr(), "(truncated from %d characters)\n", n)
	}
	return nil
}
