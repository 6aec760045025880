package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/metrics"
	"github.com/pulsegrid/coordinator/internal/model"
	"github.com/pulsegrid/coordinator/internal/registry"
	"github.com/pulsegrid/coordinator/internal/scheduler"
)

// OfflineNotifier publishes worker-loss events for external observers.
type OfflineNotifier interface {
	WorkerOffline(ctx context.Context, workerID string) error
}

// HeartbeatMonitor periodically evaluates worker freshness. A worker silent
// for longer than the timeout is marked offline and its tasks are handed back
// to the scheduler. The window deliberately tolerates a few missed heartbeats
// so transient network jitter does not trigger reassignment storms.
type HeartbeatMonitor struct {
	logger   *zap.Logger
	registry *registry.Registry
	sched    *scheduler.Scheduler
	notifier OfflineNotifier
	timeout  time.Duration
	interval time.Duration
	stop     chan struct{}
}

// New creates a heartbeat monitor. notifier may be nil.
func New(reg *registry.Registry, sched *scheduler.Scheduler, notifier OfflineNotifier, interval, timeout time.Duration, logger *zap.Logger) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		logger:   logger.Named("heartbeat-monitor"),
		registry: reg,
		sched:    sched,
		notifier: notifier,
		timeout:  timeout,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start starts the evaluation loop.
func (m *HeartbeatMonitor) Start(ctx context.Context) error {
	m.logger.Info("Starting heartbeat monitor",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout))
	go m.loop(ctx)
	return nil
}

// Stop stops the evaluation loop.
func (m *HeartbeatMonitor) Stop() {
	close(m.stop)
}

func (m *HeartbeatMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one freshness evaluation over all registered workers.
func (m *HeartbeatMonitor) Sweep(ctx context.Context) {
	now := time.Now()

	for _, worker := range m.registry.Snapshot() {
		if worker.Status == model.WorkerStatusOffline {
			continue
		}
		if now.Sub(worker.LastHeartbeat) <= m.timeout {
			continue
		}

		held := m.registry.MarkOffline(worker.ID)
		metrics.WorkersOffline.Inc()
		m.logger.Warn("Worker heartbeat timed out",
			zap.String("worker_id", worker.ID),
			zap.Time("last_heartbeat", worker.LastHeartbeat),
			zap.Int("held_tasks", len(held)))

		if len(held) > 0 {
			m.sched.Reassign(ctx, held)
		}
		if m.notifier != nil {
			if err := m.notifier.WorkerOffline(ctx, worker.ID); err != nil {
				m.logger.Error("Failed to publish worker offline event",
					zap.String("worker_id", worker.ID),
					zap.Error(err))
			}
		}
	}
}
