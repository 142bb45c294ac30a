package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/minibot-ai/minibot/pkg/cron"
)

var (
	cronName    string
	cronMessage string
	cronEvery   int64
	cronExpr    string
	cronAt      string
	cronMode    string
	cronChannel string
	cronChat    string
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled jobs",
}

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled job",
	Long: `Add a scheduled job. Exactly one of --every, --cron, or --at selects
the schedule. A reminder delivers its message verbatim; a task runs the
message through the agent.`,
	RunE: runCronAdd,
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs ordered by next run",
	RunE:  runCronList,
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRemove,
}

func init() {
	cronAddCmd.Flags().StringVar(&cronName, "name", "", "job name")
	cronAddCmd.Flags().StringVarP(&cronMessage, "message", "m", "", "job message")
	cronAddCmd.Flags().Int64Var(&cronEvery, "every", 0, "run every N seconds")
	cronAddCmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression (minute hour dom month dow)")
	cronAddCmd.Flags().StringVar(&cronAt, "at", "", "run once at an RFC3339 time")
	cronAddCmd.Flags().StringVar(&cronMode, "mode", "reminder", "reminder or task")
	cronAddCmd.Flags().StringVar(&cronChannel, "channel", "cli", "target channel")
	cronAddCmd.Flags().StringVar(&cronChat, "chat", "direct", "target chat id")
	_ = cronAddCmd.MarkFlagRequired("message")

	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronRemoveCmd)
	rootCmd.AddCommand(cronCmd)
}

func runCronAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	schedule, err := scheduleFromFlags()
	if err != nil {
		return err
	}

	scheduler, err := offlineScheduler(cfg)
	if err != nil {
		return err
	}

	job, err := scheduler.Add(cron.AddParams{
		Name:     cronName,
		Schedule: schedule,
		Message:  cronMessage,
		Mode:     cron.Mode(cronMode),
		Channel:  cronChannel,
		ChatID:   cronChat,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added job %s (next run %s)\n",
		job.ID, time.UnixMilli(job.NextRunAtMs).Format(time.RFC3339))
	return nil
}

func runCronList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scheduler, err := offlineScheduler(cfg)
	if err != nil {
		return err
	}

	jobs := scheduler.List()
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No scheduled jobs")
		return nil
	}
	for _, job := range jobs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %-8s next %s  %q\n",
			job.ID, job.Name, job.Mode,
			time.UnixMilli(job.NextRunAtMs).Format(time.RFC3339), job.Message)
	}
	return nil
}

func runCronRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scheduler, err := offlineScheduler(cfg)
	if err != nil {
		return err
	}

	if err := scheduler.Remove(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
	return nil
}

func scheduleFromFlags() (cron.Schedule, error) {
	set := 0
	if cronEvery > 0 {
		set++
	}
	if cronExpr != "" {
		set++
	}
	if cronAt != "" {
		set++
	}
	if set != 1 {
		return cron.Schedule{}, fmt.Errorf("exactly one of --every, --cron, or --at is required")
	}

	switch {
	case cronEvery > 0:
		return cron.Schedule{Kind: cron.ScheduleKindEvery, EverySeconds: cronEvery}, nil
	case cronExpr != "":
		return cron.Schedule{Kind: cron.ScheduleKindCron, Expr: cronExpr}, nil
	default:
		at, err := time.Parse(time.RFC3339, cronAt)
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("invalid --at time: %w", err)
		}
		return cron.Schedule{Kind: cron.ScheduleKindAt, AtMs: at.UnixMilli()}, nil
	}
}
