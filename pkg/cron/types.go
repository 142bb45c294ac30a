package cron

import "time"

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule represents a time specification for job execution
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "at" schedule
	AtMs int64 `json:"atMs,omitempty"` // One-shot time in epoch milliseconds

	// For "every" schedule
	EverySeconds int64 `json:"everySeconds,omitempty"`

	// For "cron" schedule
	Expr string `json:"expr,omitempty"` // 5-field cron expression
	TZ   string `json:"tz,omitempty"`   // Optional timezone
}

// Mode determines what firing a job does with its message.
type Mode string

const (
	// ModeReminder delivers the message verbatim to the target channel.
	ModeReminder Mode = "reminder"
	// ModeTask feeds the message to a fresh agent turn.
	ModeTask Mode = "task"
)

// Job represents a complete scheduled job definition
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Schedule       Schedule `json:"schedule"`
	Message        string   `json:"message"`
	Mode           Mode     `json:"mode"`
	Channel        string   `json:"channel"`
	ChatID         string   `json:"chatId"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`

	NextRunAtMs int64  `json:"nextRunAtMs"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"` // "ok" or "error"
	LastError   string `json:"lastError,omitempty"`
}

// AddParams contains parameters for creating a job
type AddParams struct {
	Name     string   `json:"name"`
	Schedule Schedule `json:"schedule"`
	Message  string   `json:"message"`
	Mode     Mode     `json:"mode"`
	Channel  string   `json:"channel"`
	ChatID   string   `json:"chatId"`
}

// Now returns current time in milliseconds
func Now() int64 {
	return time.Now().UnixMilli()
}
