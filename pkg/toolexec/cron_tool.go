package toolexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minibot-ai/minibot/pkg/cron"
)

// RegisterCronTool registers the cron tool bound to the scheduler. Jobs are
// targeted at the current session's channel and chat.
func RegisterCronTool(executor *Executor, scheduler *cron.Service) error {
	return executor.Register(ToolDefinition{
		Name:        "cron",
		Description: "Manage scheduled jobs: add a reminder or task, list jobs, or remove one.",
		Parameters: []ToolParameter{
			{Name: "action", Type: "string", Description: "Operation to perform", Required: true, Enum: []string{"add", "list", "remove"}},
			{Name: "name", Type: "string", Description: "Job name (for add)", Required: false},
			{Name: "message", Type: "string", Description: "Reminder text or task instructions (for add)", Required: false},
			{Name: "mode", Type: "string", Description: "reminder: deliver the message verbatim; task: run it as an agent instruction (default reminder)", Required: false, Enum: []string{"reminder", "task"}},
			{Name: "every_seconds", Type: "integer", Description: "Recurring interval in seconds", Required: false},
			{Name: "cron_expr", Type: "string", Description: "5-field cron expression", Required: false},
			{Name: "at", Type: "string", Description: "One-shot time, RFC 3339", Required: false},
			{Name: "job_id", Type: "string", Description: "Job id (for remove)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			action, _ := params["action"].(string)
			switch action {
			case "add":
				return cronAdd(ctx, scheduler, params)
			case "list":
				return cronList(scheduler), nil
			case "remove":
				jobID, _ := params["job_id"].(string)
				if jobID == "" {
					return nil, fmt.Errorf("job_id is required for remove")
				}
				if err := scheduler.Remove(jobID); err != nil {
					return nil, err
				}
				return fmt.Sprintf("Removed job %s", jobID), nil
			default:
				return nil, fmt.Errorf("unknown action: %s", action)
			}
		},
	})
}

func cronAdd(ctx context.Context, scheduler *cron.Service, params map[string]interface{}) (interface{}, error) {
	execCtx := ExecContextFromContext(ctx)
	if execCtx == nil {
		return nil, fmt.Errorf("no session context for cron add")
	}

	message, _ := params["message"].(string)
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message is required for add")
	}
	name, _ := params["name"].(string)
	if name == "" {
		name = message
		if len(name) > 40 {
			name = name[:40]
		}
	}
	mode := cron.ModeReminder
	if raw, _ := params["mode"].(string); raw == string(cron.ModeTask) {
		mode = cron.ModeTask
	}

	schedule, err := scheduleFromParams(params)
	if err != nil {
		return nil, err
	}

	job, err := scheduler.Add(cron.AddParams{
		Name:     name,
		Schedule: schedule,
		Message:  message,
		Mode:     mode,
		Channel:  execCtx.Channel,
		ChatID:   execCtx.ChatID,
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Scheduled job %s (%s), next run %s",
		job.ID, job.Name, time.UnixMilli(job.NextRunAtMs).Format(time.RFC3339)), nil
}

func scheduleFromParams(params map[string]interface{}) (cron.Schedule, error) {
	if raw, ok := params["every_seconds"].(float64); ok && raw > 0 {
		return cron.Schedule{Kind: cron.ScheduleKindEvery, EverySeconds: int64(raw)}, nil
	}
	if expr, ok := params["cron_expr"].(string); ok && strings.TrimSpace(expr) != "" {
		return cron.Schedule{Kind: cron.ScheduleKindCron, Expr: expr}, nil
	}
	if at, ok := params["at"].(string); ok && strings.TrimSpace(at) != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("invalid 'at' time: %w", err)
		}
		return cron.Schedule{Kind: cron.ScheduleKindAt, AtMs: t.UnixMilli()}, nil
	}
	return cron.Schedule{}, fmt.Errorf("one of every_seconds, cron_expr, or at is required")
}

func cronList(scheduler *cron.Service) string {
	jobs := scheduler.List()
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	var b strings.Builder
	for _, job := range jobs {
		fmt.Fprintf(&b, "%s  %s  [%s]  next: %s\n",
			job.ID, job.Name, job.Mode,
			time.UnixMilli(job.NextRunAtMs).Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}
