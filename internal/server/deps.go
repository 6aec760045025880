package server

import (
	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/aggregator"
	"github.com/pulsegrid/coordinator/internal/handler"
	"github.com/pulsegrid/coordinator/internal/registry"
	"github.com/pulsegrid/coordinator/internal/scheduler"
)

// Deps holds server dependencies.
type Deps struct {
	Workers   *handler.WorkersHandler
	Tasks     *handler.TasksHandler
	Results   *handler.ResultsHandler
	Metrics   *handler.MetricsHandler
	Schedules *handler.SchedulesHandler
}

// NewDeps wires handlers to the coordinator components.
func NewDeps(
	reg *registry.Registry,
	sched *scheduler.Scheduler,
	agg *aggregator.Aggregator,
	schedules *scheduler.ScheduleManager,
	snapshots handler.SnapshotProvider,
	notifier handler.WorkerNotifier,
	log *zap.Logger,
) *Deps {
	return &Deps{
		Workers: &handler.WorkersHandler{
			Logger:   log,
			Registry: reg,
			Sched:    sched,
			Notifier: notifier,
		},
		Tasks:     &handler.TasksHandler{Sched: sched},
		Results:   &handler.ResultsHandler{Sched: sched, Agg: agg},
		Metrics:   &handler.MetricsHandler{Provider: snapshots},
		Schedules: &handler.SchedulesHandler{Manager: schedules},
	}
}
