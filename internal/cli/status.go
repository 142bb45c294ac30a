package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/minibot-ai/minibot/internal/config"
	"github.com/minibot-ai/minibot/pkg/bus"
	"github.com/minibot-ai/minibot/pkg/cron"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and job state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if isRunning(pidFilePath(cfg)) {
		pid, _ := readPID(pidFilePath(cfg))
		fmt.Fprintf(out, "Daemon: running (pid %d)\n", pid)
	} else {
		fmt.Fprintln(out, "Daemon: not running")
	}

	fmt.Fprintf(out, "Sessions: %d\n", countSessions(cfg))

	// Read the job store without arming any timers.
	scheduler, err := offlineScheduler(cfg)
	if err != nil {
		return err
	}
	jobs := scheduler.List()
	fmt.Fprintf(out, "Scheduled jobs: %d\n", len(jobs))
	if next, ok := scheduler.NextFire(); ok {
		fmt.Fprintf(out, "Next fire: %s\n", next.Format(time.RFC3339))
	}
	return nil
}

func countSessions(cfg *config.Config) int {
	entries, err := os.ReadDir(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jsonl") {
			count++
		}
	}
	return count
}

// offlineScheduler opens the job store for inspection and mutation from the
// CLI. It is never started, so nothing fires.
func offlineScheduler(cfg *config.Config) (*cron.Service, error) {
	return cron.NewService(cron.ServiceOptions{
		StorePath:      filepath.Join(cfg.DataDir, "jobs.json"),
		Deliver:        func(context.Context, bus.OutboundMessage) error { return nil },
		PublishInbound: func(bus.InboundMessage) {},
		Logger:         zerolog.Nop(),
	})
}
