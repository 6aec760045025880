package autoscaler

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/aggregator"
	"github.com/pulsegrid/coordinator/internal/model"
	"github.com/pulsegrid/coordinator/internal/provision"
	"github.com/pulsegrid/coordinator/internal/registry"
	"github.com/pulsegrid/coordinator/internal/scheduler"
)

// Config holds auto-scaling thresholds and limits.
type Config struct {
	MinWorkers         int
	MaxWorkers         int
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	Cooldown           time.Duration
	Interval           time.Duration
	WorkerSpec         provision.WorkerSpec
}

// AutoScaler observes fleet utilization and issues one provisioning request
// per tick at most. Scale-up takes precedence over scale-down: the pool
// never shrinks while there is a backlog.
type AutoScaler struct {
	logger      *zap.Logger
	registry    *registry.Registry
	sched       *scheduler.Scheduler
	agg         *aggregator.Aggregator
	provisioner provision.Provisioner
	cfg         Config

	mu        sync.Mutex
	lastScale time.Time
	stop      chan struct{}
}

// New creates an auto-scaler. agg may be nil.
func New(reg *registry.Registry, sched *scheduler.Scheduler, agg *aggregator.Aggregator, provisioner provision.Provisioner, cfg Config, logger *zap.Logger) *AutoScaler {
	return &AutoScaler{
		logger:      logger.Named("autoscaler"),
		registry:    reg,
		sched:       sched,
		agg:         agg,
		provisioner: provisioner,
		cfg:         cfg,
		stop:        make(chan struct{}),
	}
}

// Start starts the monitoring loop.
func (a *AutoScaler) Start(ctx context.Context) error {
	a.logger.Info("Starting auto-scaler",
		zap.Int("min_workers", a.cfg.MinWorkers),
		zap.Int("max_workers", a.cfg.MaxWorkers),
		zap.Duration("cooldown", a.cfg.Cooldown))
	go a.loop(ctx)
	return nil
}

// Stop stops the monitoring loop.
func (a *AutoScaler) Stop() {
	close(a.stop)
}

func (a *AutoScaler) loop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case <-ticker.C:
			a.Evaluate(ctx)
		}
	}
}

// Evaluate runs one scaling decision. At most one worker is added or removed
// per call; provisioning failures are logged and leave the cooldown
// untouched so the next tick can retry immediately.
func (a *AutoScaler) Evaluate(ctx context.Context) {
	total, busy := a.registry.Counts()
	pending := a.sched.PendingTasks()

	utilization := 0.0
	if total > 0 {
		utilization = float64(busy) / float64(total)
	}

	a.mu.Lock()
	cooled := a.lastScale.IsZero() || time.Since(a.lastScale) >= a.cfg.Cooldown
	a.mu.Unlock()

	switch {
	case utilization >= a.cfg.ScaleUpThreshold && pending > 0 && total < a.cfg.MaxWorkers && cooled:
		a.scaleUp(ctx, total, pending, utilization)
	case utilization <= a.cfg.ScaleDownThreshold && total > a.cfg.MinWorkers && cooled:
		a.scaleDown(ctx, total, utilization)
	}
}

func (a *AutoScaler) scaleUp(ctx context.Context, total, pending int, utilization float64) {
	a.logger.Info("Scaling up",
		zap.Int("total_workers", total),
		zap.Int("pending_tasks", pending),
		zap.Float64("utilization", utilization))

	id, err := a.provisioner.CreateWorker(ctx, a.cfg.WorkerSpec)
	if err != nil {
		a.logger.Error("Scale-up provisioning failed", zap.Error(err))
		return
	}

	a.logger.Info("Worker provisioned", zap.String("worker_id", id))
	a.recordScale()
}

func (a *AutoScaler) scaleDown(ctx context.Context, total int, utilization float64) {
	victim := a.registry.LongestIdle()
	if victim == nil {
		return
	}

	a.logger.Info("Scaling down",
		zap.Int("total_workers", total),
		zap.Float64("utilization", utilization),
		zap.String("victim", victim.ID))

	if err := a.provisioner.TerminateWorker(ctx, victim.ID); err != nil {
		a.logger.Error("Scale-down provisioning failed",
			zap.String("worker_id", victim.ID),
			zap.Error(err))
		return
	}

	a.registry.MarkOffline(victim.ID)
	a.recordScale()
}

func (a *AutoScaler) recordScale() {
	a.mu.Lock()
	a.lastScale = time.Now()
	a.mu.Unlock()
}

// Snapshot recomputes the scaling metrics view from current registry and
// task-store state. Host CPU and memory come from the coordinator process's
// machine; collection errors leave the fields zero.
func (a *AutoScaler) Snapshot() *model.ScalingSnapshot {
	total, busy := a.registry.Counts()

	snapshot := &model.ScalingSnapshot{
		TotalWorkers: total,
		BusyWorkers:  busy,
		PendingTasks: a.sched.PendingTasks(),
		RunningTasks: a.sched.RunningTasks(),
		Timestamp:    time.Now(),
	}
	if total > 0 {
		snapshot.Utilization = float64(busy) / float64(total)
	}
	if a.agg != nil {
		snapshot.AvgTaskSeconds = a.agg.MeanTaskSeconds()
	}

	a.mu.Lock()
	if !a.lastScale.IsZero() {
		last := a.lastScale
		snapshot.LastScaleAction = &last
	}
	a.mu.Unlock()

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snapshot.HostCPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snapshot.HostMemPercent = vm.UsedPercent
	}

	return snapshot
}
