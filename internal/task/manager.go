package task

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is a periodic maintenance task.
type Job interface {
	Name() string
	Schedule() gocron.JobDefinition
	Execute()
}

// Manager owns the scheduler that runs background maintenance jobs.
type Manager struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

func NewManager(logger *zap.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Manager{scheduler: s, logger: logger}, nil
}

// Register schedules job. Runs never overlap; a tick that arrives while the
// previous run is still going is rescheduled.
func (m *Manager) Register(job Job) error {
	_, err := m.scheduler.NewJob(
		job.Schedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}
	m.logger.Info("job registered", zap.String("job", job.Name()))
	return nil
}

func (m *Manager) Start() {
	m.scheduler.Start()
	m.logger.Info("task manager started", zap.Int("jobs", len(m.scheduler.Jobs())))
}

func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		m.logger.Error("failed to shut down scheduler", zap.Error(err))
	}
	m.logger.Info("task manager stopped")
}
