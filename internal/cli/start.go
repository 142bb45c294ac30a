package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minibot-ai/minibot/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the minibot daemon",
	Long: `Start the minibot daemon in the foreground. The daemon processes
messages from the configured channels, fires scheduled jobs, and runs the
heartbeat until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := pidFilePath(cfg)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (pid file: %s)", pidFile)
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log.GetZerolog())
	if err != nil {
		return err
	}

	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer os.Remove(pidFile)

	return d.Run(context.Background())
}
