package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/minibot-ai/minibot/pkg/bus"
)

// DefaultPollInterval bounds how long the scheduler sleeps between wakes.
const DefaultPollInterval = time.Second

// deliverTimeout bounds a single reminder delivery so a hung channel send
// cannot pin a dispatch goroutine forever.
const deliverTimeout = 30 * time.Second

// ServiceOptions configures the scheduler service
type ServiceOptions struct {
	StorePath      string                                                   // Path to jobs.json
	PollInterval   time.Duration                                            // Max sleep between wakes
	Deliver        func(ctx context.Context, msg bus.OutboundMessage) error // Reminder delivery
	PublishInbound func(msg bus.InboundMessage)                             // Task-mode events
	Logger         zerolog.Logger
}

// Service owns the job set and a single timer goroutine that wakes at the
// earliest due time. Fires only enqueue events; they never run agent work.
type Service struct {
	jobs    map[string]*Job
	options ServiceOptions
	logger  zerolog.Logger
	mu      sync.RWMutex

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewService creates a scheduler service and loads persisted jobs.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.Deliver == nil {
		return nil, fmt.Errorf("deliver callback is required")
	}
	if opts.PublishInbound == nil {
		return nil, fmt.Errorf("publish inbound callback is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		jobs:    make(map[string]*Job),
		options: opts,
		logger:  opts.Logger.With().Str("component", "cron").Logger(),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.loadJobs(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load jobs, starting with empty registry")
	}

	s.logger.Info().Int("jobCount", len(s.jobs)).Msg("Scheduler initialized")
	return s, nil
}

// Start runs the startup catch-up pass and launches the timer goroutine.
// Past-due one-shots fire exactly once; recurring jobs resume from the next
// future occurrence and never burst for missed fires.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	now := time.Now()
	nowMs := now.UnixMilli()
	var catchUp []*Job
	for _, job := range s.jobs {
		if job.NextRunAtMs > nowMs {
			continue
		}
		if job.Schedule.Kind == ScheduleKindAt {
			catchUp = append(catchUp, job)
			continue
		}
		next, err := NextRun(job.Schedule, now)
		if err != nil {
			s.logger.Error().Str("jobId", job.ID).Err(err).Msg("Failed to recompute next run")
			continue
		}
		job.NextRunAtMs = next
		s.logger.Info().
			Str("jobId", job.ID).
			Time("nextRun", time.UnixMilli(next)).
			Msg("Missed fires skipped, resuming from next occurrence")
	}
	var fires []firing
	for _, job := range catchUp {
		fires = append(fires, s.fireLocked(job, nowMs))
	}
	if err := s.persistLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist after catch-up")
	}
	s.mu.Unlock()

	s.dispatch(fires)
	s.wg.Add(1)
	go s.run()
}

// Stop shuts down the timer goroutine and persists final state.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist state on shutdown")
		return err
	}
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// Add registers a new job. The schedule is validated here; an invalid
// descriptor never produces a stored job.
func (s *Service) Add(params AddParams) (*Job, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if params.Message == "" {
		return nil, fmt.Errorf("job message is required")
	}
	if params.Mode != ModeReminder && params.Mode != ModeTask {
		return nil, fmt.Errorf("invalid mode: %s", params.Mode)
	}
	if params.Channel == "" || params.ChatID == "" {
		return nil, fmt.Errorf("job target channel and chat id are required")
	}

	nextRun, err := NextRun(params.Schedule, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("scheduler is stopped")
	}

	now := Now()
	job := &Job{
		ID:             uuid.New().String(),
		Name:           params.Name,
		Schedule:       params.Schedule,
		Message:        params.Message,
		Mode:           params.Mode,
		Channel:        params.Channel,
		ChatID:         params.ChatID,
		DeleteAfterRun: params.Schedule.Kind == ScheduleKindAt,
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		NextRunAtMs:    nextRun,
	}
	s.jobs[job.ID] = job

	if err := s.persistLocked(); err != nil {
		delete(s.jobs, job.ID)
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	s.logger.Info().
		Str("jobId", job.ID).
		Str("name", job.Name).
		Str("mode", string(job.Mode)).
		Time("nextRun", time.UnixMilli(nextRun)).
		Msg("Job created")

	s.rearm()
	return job, nil
}

// Remove deletes a job by id.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	delete(s.jobs, id)

	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("failed to persist job removal: %w", err)
	}

	s.logger.Info().Str("jobId", id).Str("name", job.Name).Msg("Job removed")
	s.rearm()
	return nil
}

// List returns all jobs ordered by next run time.
func (s *Service) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		jobs = append(jobs, &copied)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].NextRunAtMs < jobs[j].NextRunAtMs
	})
	return jobs
}

// Get returns a job by id, or nil.
func (s *Service) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if job, ok := s.jobs[id]; ok {
		copied := *job
		return &copied
	}
	return nil
}

// JobCount returns the number of registered jobs.
func (s *Service) JobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// NextFire returns the earliest scheduled fire time, if any job exists.
func (s *Service) NextFire() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest int64
	for _, job := range s.jobs {
		if earliest == 0 || job.NextRunAtMs < earliest {
			earliest = job.NextRunAtMs
		}
	}
	if earliest == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(earliest), true
}

// rearm nudges the timer goroutine to recompute its wake time.
func (s *Service) rearm() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) run() {
	defer s.wg.Done()

	for {
		delay := s.wakeDelay()
		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}
		s.fireDue()
	}
}

// wakeDelay returns how long to sleep until the next due check, bounded by
// the poll interval so mutations from other processes of the store path are
// picked up on a short cadence.
func (s *Service) wakeDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delay := s.options.PollInterval
	now := Now()
	for _, job := range s.jobs {
		until := time.Duration(job.NextRunAtMs-now) * time.Millisecond
		if until < 0 {
			until = 0
		}
		if until < delay {
			delay = until
		}
	}
	return delay
}

func (s *Service) fireDue() {
	s.mu.Lock()

	now := Now()
	var due []*Job
	for _, job := range s.jobs {
		if job.NextRunAtMs <= now {
			due = append(due, job)
		}
	}
	if len(due) == 0 {
		s.mu.Unlock()
		return
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAtMs < due[j].NextRunAtMs
	})

	fires := make([]firing, 0, len(due))
	for _, job := range due {
		fires = append(fires, s.fireLocked(job, now))
	}
	if err := s.persistLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist job state")
	}
	s.mu.Unlock()

	s.dispatch(fires)
}

// firing is the event snapshot a due job produces. Synthesized under the
// lock, delivered outside it.
type firing struct {
	jobID   string
	mode    Mode
	channel string
	chatID  string
	message string
}

// fireLocked recomputes the job's next run (consuming one-shots) and returns
// the event to dispatch. Must hold the lock; never delivers anything itself,
// so the timer goroutine and the job mutators are never stuck behind a slow
// channel send.
func (s *Service) fireLocked(job *Job, nowMs int64) firing {
	s.logger.Info().
		Str("jobId", job.ID).
		Str("name", job.Name).
		Str("mode", string(job.Mode)).
		Msg("Firing job")

	job.LastRunAtMs = nowMs
	job.LastStatus = "ok"
	job.LastError = ""

	fire := firing{
		jobID:   job.ID,
		mode:    job.Mode,
		channel: job.Channel,
		chatID:  job.ChatID,
		message: job.Message,
	}

	if job.Schedule.Kind == ScheduleKindAt || job.DeleteAfterRun {
		delete(s.jobs, job.ID)
		s.logger.Info().Str("jobId", job.ID).Msg("One-shot job consumed")
		return fire
	}

	next, err := NextRun(job.Schedule, time.UnixMilli(nowMs))
	if err != nil {
		s.logger.Error().Str("jobId", job.ID).Err(err).Msg("Failed to compute next run")
		return fire
	}
	job.NextRunAtMs = next
	job.UpdatedAtMs = nowMs
	return fire
}

// dispatch hands fired events off without blocking the caller: task fires
// are enqueued onto the bus, reminder deliveries run in a goroutine under a
// bounded context.
func (s *Service) dispatch(fires []firing) {
	for _, fire := range fires {
		switch fire.mode {
		case ModeTask:
			s.options.PublishInbound(bus.NewSystemMessage("cron", fire.channel, fire.chatID, fire.message))
		case ModeReminder:
			s.wg.Add(1)
			go s.deliverReminder(fire)
		}
	}
}

func (s *Service) deliverReminder(fire firing) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, deliverTimeout)
	defer cancel()

	err := s.options.Deliver(ctx, bus.OutboundMessage{
		Channel: fire.channel,
		ChatID:  fire.chatID,
		Content: fire.message,
	})
	if err == nil {
		return
	}
	s.logger.Error().Str("jobId", fire.jobID).Err(err).Msg("Reminder delivery failed")

	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[fire.jobID]; ok {
		job.LastStatus = "error"
		job.LastError = err.Error()
	}
}

func (s *Service) loadJobs() error {
	if _, err := os.Stat(s.options.StorePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(s.options.StorePath)
	if err != nil {
		return fmt.Errorf("failed to read jobs file: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("failed to parse jobs file: %w", err)
	}

	s.jobs = make(map[string]*Job, len(jobs))
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	s.logger.Info().Int("count", len(jobs)).Msg("Loaded jobs from registry")
	return nil
}

// persistLocked rewrites the job set atomically. Must hold the lock.
func (s *Service) persistLocked() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAtMs < jobs[j].CreatedAtMs
	})

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.options.StorePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.options.StorePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.options.StorePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
