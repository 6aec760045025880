package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/model"
)

// Submitter is the slice of the scheduler the schedule manager needs.
type Submitter interface {
	Submit(ctx context.Context, spec model.TaskSpec) (*model.Task, error)
}

// ScheduleManager submits a fresh task each time a cron schedule fires.
type ScheduleManager struct {
	logger    *zap.Logger
	cron      *cron.Cron
	submitter Submitter

	mu        sync.RWMutex
	schedules map[string]*model.Schedule
	entries   map[string]cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewScheduleManager creates a schedule manager.
func NewScheduleManager(submitter Submitter, logger *zap.Logger) *ScheduleManager {
	cl := &cronLogger{logger: logger.Named("cron")}
	return &ScheduleManager{
		logger:    logger.Named("schedule-manager"),
		cron:      cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cl))),
		submitter: submitter,
		schedules: make(map[string]*model.Schedule),
		entries:   make(map[string]cron.EntryID),
	}
}

// Start starts the cron runner.
func (m *ScheduleManager) Start() {
	m.cron.Start()
}

// Stop stops the cron runner and waits for in-flight jobs.
func (m *ScheduleManager) Stop() {
	<-m.cron.Stop().Done()
}

// Add registers a schedule. The expression uses the six-field form with
// seconds.
func (m *ScheduleManager) Add(schedule *model.Schedule) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule.Expression); err != nil {
		return fmt.Errorf("%w: invalid cron expression: %v", ErrInvalidSpec, err)
	}

	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	now := time.Now()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	id := schedule.ID
	entryID, err := m.cron.AddFunc(schedule.Expression, func() { m.fire(id) })
	if err != nil {
		return fmt.Errorf("failed to add cron entry: %w", err)
	}

	m.mu.Lock()
	m.schedules[id] = schedule
	m.entries[id] = entryID
	m.mu.Unlock()

	m.logger.Info("Schedule added",
		zap.String("schedule_id", id),
		zap.String("expression", schedule.Expression))
	return nil
}

// Remove deletes a schedule.
func (m *ScheduleManager) Remove(scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entryID, ok := m.entries[scheduleID]
	if !ok {
		return ErrUnknownSchedule
	}
	m.cron.Remove(entryID)
	delete(m.entries, scheduleID)
	delete(m.schedules, scheduleID)

	m.logger.Info("Schedule removed", zap.String("schedule_id", scheduleID))
	return nil
}

// Get returns a copy of a schedule.
func (m *ScheduleManager) Get(scheduleID string) (*model.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	schedule, ok := m.schedules[scheduleID]
	if !ok {
		return nil, ErrUnknownSchedule
	}
	clone := *schedule
	return &clone, nil
}

// List returns copies of all schedules.
func (m *ScheduleManager) List() []*model.Schedule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	schedules := make([]*model.Schedule, 0, len(m.schedules))
	for _, schedule := range m.schedules {
		clone := *schedule
		schedules = append(schedules, &clone)
	}
	return schedules
}

func (m *ScheduleManager) fire(scheduleID string) {
	m.mu.Lock()
	schedule, ok := m.schedules[scheduleID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	schedule.LastRunTime = &now
	spec := schedule.Spec
	m.mu.Unlock()

	task, err := m.submitter.Submit(context.Background(), spec)
	if err != nil {
		m.logger.Error("Scheduled submission failed",
			zap.String("schedule_id", scheduleID),
			zap.Error(err))
		return
	}
	m.logger.Info("Scheduled task submitted",
		zap.String("schedule_id", scheduleID),
		zap.String("task_id", task.ID))
}
