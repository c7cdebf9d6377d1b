package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
)

func init() {
	core.RegisterModule(&Module{})
}

// ServiceName is the core.AppContext service name of the Scheduler.
const ServiceName = "cron.scheduler"

// JobConfig toggles and reschedules one job.
type JobConfig struct {
	Disabled bool   `yaml:"disabled"`
	Schedule string `yaml:"schedule"`
}

// Config is the cron.scheduler module configuration.
type Config struct {
	FTSOptimize      JobConfig `yaml:"fts_optimize"`
	WALCheckpoint    JobConfig `yaml:"wal_checkpoint"`
	MemoryExtraction JobConfig `yaml:"memory_extraction"`

	// ExtractionLookback is how far back the first extraction run looks.
	ExtractionLookback time.Duration `yaml:"extraction_lookback"`
}

// Module runs the scheduler. Jobs are bound at Start, once every other
// module has published its services.
type Module struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	scheduler *Scheduler
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "cron.scheduler",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("cron: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.scheduler = NewScheduler(m.logger)
	ctx.RegisterService(ServiceName, m.scheduler)
	return nil
}

// Validate implements core.Validator. Custom schedules must parse.
func (m *Module) Validate() error {
	for name, jc := range map[string]JobConfig{
		"fts_optimize":      m.config.FTSOptimize,
		"wal_checkpoint":    m.config.WALCheckpoint,
		"memory_extraction": m.config.MemoryExtraction,
	} {
		if jc.Schedule == "" || jc.Disabled {
			continue
		}
		if err := CheckSchedule(jc.Schedule); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	if err := m.registerJobs(); err != nil {
		return err
	}
	return m.scheduler.Start()
}

// registerJobs binds every enabled job to its services. A job whose
// services are missing is skipped with a warning.
func (m *Module) registerJobs() error {
	var jobs []Job

	db, err := core.LookupService[Maintainer](m.appCtx, memory.ServiceMaintenance)
	if err != nil {
		m.logger.Warn("cron: maintenance jobs disabled", "error", err)
	} else {
		if !m.config.FTSOptimize.Disabled {
			jobs = append(jobs, &FTSOptimizeJob{DB: db, Logger: m.logger, ScheduleExpr: m.config.FTSOptimize.Schedule})
		}
		if !m.config.WALCheckpoint.Disabled {
			jobs = append(jobs, &WALCheckpointJob{DB: db, Logger: m.logger, ScheduleExpr: m.config.WALCheckpoint.Schedule})
		}
	}

	if !m.config.MemoryExtraction.Disabled {
		chats, chatErr := core.LookupService[chat.Store](m.appCtx, chat.ServiceStore)
		harvester, harvestErr := core.LookupService[Harvester](m.appCtx, assistant.ServiceName)
		if chatErr != nil || harvestErr != nil {
			m.logger.Warn("cron: memory extraction disabled", "chat_error", chatErr, "assistant_error", harvestErr)
		} else {
			jobs = append(jobs, &MemoryExtractionJob{
				Chats:        chats,
				Harvester:    harvester,
				Logger:       m.logger,
				ScheduleExpr: m.config.MemoryExtraction.Schedule,
				Lookback:     m.config.ExtractionLookback,
			})
		}
	}

	for _, j := range jobs {
		if err := m.scheduler.RegisterJob(j); err != nil {
			return err
		}
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Stop(ctx)
}
