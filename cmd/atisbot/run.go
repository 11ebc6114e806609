package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"atisbot/internal/app"
	logx "atisbot/pkg/logx"
)

const defaultCrashFile = "error_log.txt"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay",
	Long: `Connect to Telegram and relay ATIS reports until interrupted (Ctrl+C or SIGTERM).

If the bot fails, the error is written to the crash file (overwriting it)
and the bot is started once more. A second failure exits with status 1.

Example:
  atisbot run -c config.yaml
  atisbot run -c /etc/atisbot/config.yaml --crash-file /var/log/atisbot/error_log.txt`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	runCmd.Flags().String("crash-file", defaultCrashFile, "file that receives the last fatal error")
	_ = runCmd.MarkFlagRequired("config")
}

// runner is the part of *app.App the run command drives.
type runner interface {
	Run(ctx context.Context) error
}

var newRunner = func(cfgPath string) (runner, error) { return app.New(cfgPath) }

func runRun(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	crashFile, _ := cmd.Flags().GetString("crash-file")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logx.NewConsole("info").With(logx.String("comp", "main"))

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = runOnce(ctx, cfgPath)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		log.Error("bot failed", logx.Int("attempt", attempt), logx.Err(err))
		if werr := writeCrashFile(crashFile, err); werr != nil {
			log.Warn("could not write crash file", logx.String("path", crashFile), logx.Err(werr))
		}
	}
	return err
}

func runOnce(ctx context.Context, cfgPath string) error {
	r, err := newRunner(cfgPath)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

// writeCrashFile replaces the crash file content with err.
func writeCrashFile(path string, err error) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%v\n", err)), 0o644)
}
