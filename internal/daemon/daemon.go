package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/minibot-ai/minibot/internal/config"
	"github.com/minibot-ai/minibot/pkg/agent"
	"github.com/minibot-ai/minibot/pkg/bus"
	"github.com/minibot-ai/minibot/pkg/channels"
	"github.com/minibot-ai/minibot/pkg/cron"
	"github.com/minibot-ai/minibot/pkg/memory"
	"github.com/minibot-ai/minibot/pkg/session"
	"github.com/minibot-ai/minibot/pkg/skills"
	"github.com/minibot-ai/minibot/pkg/subagent"
	"github.com/minibot-ai/minibot/pkg/toolexec"
	"github.com/minibot-ai/minibot/pkg/workspace"
)

// Daemon wires the orchestrator together and manages its lifecycle.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     *session.Store
	executor  *toolexec.Executor
	scheduler *cron.Service
	spawner   *subagent.Spawner
	loop      *agent.Loop
	bus       *bus.MessageBus
	registry  *channels.Registry
	heartbeat *cron.Heartbeat
}

// Status is a point-in-time snapshot of the running daemon.
type Status struct {
	ActiveSessions   int       `json:"active_sessions"`
	ScheduledJobs    int       `json:"scheduled_jobs"`
	NextFire         time.Time `json:"next_fire,omitzero"`
	RunningSubagents int       `json:"running_subagents"`
	Channels         []string  `json:"channels"`
}

// New builds a daemon from configuration. Nothing starts until Run.
func New(cfg *config.Config, logger zerolog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := workspace.Ensure(cfg.Workspace); err != nil {
		return nil, err
	}

	d := &Daemon{cfg: cfg, logger: logger.With().Str("component", "daemon").Logger()}

	store, err := session.NewStore(filepath.Join(cfg.DataDir, "sessions"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	d.store = store

	mem, err := memory.NewStore(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}

	builder, err := agent.NewContextBuilder(agent.ContextBuilderOptions{
		Workspace: cfg.Workspace,
		Memory:    mem,
		Skills:    skills.NewLoader(cfg.Workspace, ""),
		Budget:    cfg.Agent.ContextBudget,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context builder: %w", err)
	}

	provider, err := agent.NewProvider(cfg.ProviderName(), cfg.ResolveAPIKey())
	if err != nil {
		return nil, err
	}

	// The bus handler is the agent loop; it is attached once the loop
	// exists. Until then the bus only needs to exist so other components
	// can hold its Publish and Deliver.
	d.bus = bus.New(nil, logger)

	d.executor = toolexec.New(logger)
	if err := toolexec.RegisterFileTools(d.executor, toolexec.FSOptions{
		Workspace: cfg.Workspace,
		Restrict:  cfg.Tools.RestrictToWorkspace,
	}); err != nil {
		return nil, err
	}
	if err := toolexec.RegisterShellTool(d.executor, toolexec.ShellOptions{
		Workspace: cfg.Workspace,
		Restrict:  cfg.Tools.RestrictToWorkspace,
		Timeout:   time.Duration(cfg.Tools.ShellTimeoutSeconds) * time.Second,
	}); err != nil {
		return nil, err
	}
	if err := toolexec.RegisterMessageTool(d.executor, d.bus.Deliver); err != nil {
		return nil, err
	}

	scheduler, err := cron.NewService(cron.ServiceOptions{
		StorePath:      filepath.Join(cfg.DataDir, "jobs.json"),
		Deliver:        d.bus.Deliver,
		PublishInbound: d.bus.Publish,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	d.scheduler = scheduler
	if err := toolexec.RegisterCronTool(d.executor, scheduler); err != nil {
		return nil, err
	}

	loop, err := agent.New(agent.Config{
		Store:         store,
		Executor:      d.executor,
		Provider:      provider,
		Builder:       builder,
		Model:         cfg.Provider.Model,
		Temperature:   cfg.Provider.Temperature,
		MaxTokens:     cfg.Provider.MaxTokens,
		MaxIterations: cfg.Agent.MaxIterations,
		MaxRetries:    cfg.Agent.MaxRetries,
		Workspace:     cfg.Workspace,
		SuppressResponse: func(msg bus.InboundMessage, response string) bool {
			return msg.SenderID == "heartbeat" && cron.IsHeartbeatOK(response)
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	d.loop = loop
	d.bus.SetHandler(loop.Handle)

	spawner, err := subagent.NewSpawner(subagent.Config{
		RegistryPath: filepath.Join(cfg.DataDir, "subagents.json"),
		Run:          loop.SubagentRunner(),
		Publish:      d.bus.Publish,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subagent spawner: %w", err)
	}
	d.spawner = spawner
	if err := toolexec.RegisterSpawnTool(d.executor, spawner); err != nil {
		return nil, err
	}

	d.registry = channels.NewRegistry()
	if err := d.registry.Register(channels.NewCLI(nil, os.Stdout)); err != nil {
		return nil, err
	}
	if cfg.Telegram.Enabled {
		tg, err := channels.NewTelegram(channels.TelegramOptions{
			Token:     cfg.Telegram.BotToken,
			Allowlist: cfg.Telegram.Allowlist,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		if err := d.registry.Register(tg); err != nil {
			return nil, err
		}
	}
	for _, name := range d.registry.Names() {
		ch, _ := d.registry.Get(name)
		d.bus.Subscribe(name, ch.Send)
	}

	if cfg.Heartbeat.Enabled {
		d.heartbeat = cron.NewHeartbeat(cron.HeartbeatOptions{
			Workspace: cfg.Workspace,
			Interval:  time.Duration(cfg.Heartbeat.IntervalMinutes) * time.Minute,
			Channel:   cfg.Heartbeat.Channel,
			ChatID:    cfg.Heartbeat.ChatID,
			Publish:   d.bus.Publish,
			Logger:    logger,
		})
	}

	return d, nil
}

// Start brings all components up, channels last.
func (d *Daemon) Start(ctx context.Context) error {
	d.scheduler.Start()

	if d.heartbeat != nil {
		if err := d.heartbeat.Start(); err != nil {
			return fmt.Errorf("failed to start heartbeat: %w", err)
		}
	}

	if err := d.registry.StartAll(ctx, d.bus.Publish); err != nil {
		return err
	}

	d.logger.Info().
		Strs("channels", d.registry.Names()).
		Int("jobs", d.scheduler.JobCount()).
		Msg("Daemon started")
	return nil
}

// Run starts the daemon and blocks until the context is cancelled or a
// shutdown signal arrives.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
	}

	return d.Stop(context.Background())
}

// Stop shuts components down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	var firstErr error

	if err := d.registry.StopAll(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if d.heartbeat != nil {
		d.heartbeat.Stop()
	}
	if err := d.scheduler.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.spawner.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	d.logger.Info().Msg("Daemon stopped")
	return firstErr
}

// Publish feeds an inbound message into the orchestrator.
func (d *Daemon) Publish(msg bus.InboundMessage) {
	d.bus.Publish(msg)
}

// Loop exposes the agent loop for one-shot runs.
func (d *Daemon) Loop() *agent.Loop {
	return d.loop
}

// Scheduler exposes the cron service.
func (d *Daemon) Scheduler() *cron.Service {
	return d.scheduler
}

// Status reports a snapshot of the daemon.
func (d *Daemon) Status() Status {
	st := Status{
		ActiveSessions:   d.bus.ActiveSessions(),
		ScheduledJobs:    d.scheduler.JobCount(),
		RunningSubagents: d.spawner.RunningCount(),
		Channels:         d.registry.Names(),
	}
	if next, ok := d.scheduler.NextFire(); ok {
		st.NextFire = next
	}
	return st
}
