package aggregator

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/model"
)

// DurationMetric is the synthetic metric name under which attempt durations
// are aggregated alongside worker-reported resource metrics.
const DurationMetric = "duration_seconds"

// ResultStore persists results for audit; may be nil.
type ResultStore interface {
	Append(ctx context.Context, result *model.TaskResult) error
}

// Summary holds overall pass/fail tallies.
type Summary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	PassRate float64 `json:"pass_rate"`
}

// MetricSummary holds per-metric statistics. Avg, Min and Max cover every
// recorded sample; P95 is computed over the bounded retention window.
type MetricSummary struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P95 float64 `json:"p95"`
}

// NodeSummary holds per-worker statistics, used for health scoring.
type NodeSummary struct {
	WorkerID   string  `json:"worker_id"`
	Total      int     `json:"total"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	PassRate   float64 `json:"pass_rate"`
	AvgSeconds float64 `json:"avg_seconds"`
}

// TaskSummary holds per-task statistics across retry attempts.
type TaskSummary struct {
	TaskID     string    `json:"task_id"`
	Runs       int       `json:"runs"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	AvgSeconds float64   `json:"avg_seconds"`
	MinSeconds float64   `json:"min_seconds"`
	MaxSeconds float64   `json:"max_seconds"`
	LastRun    time.Time `json:"last_run"`
}

// SlowTask identifies a task whose mean duration exceeds a threshold.
type SlowTask struct {
	TaskID     string  `json:"task_id"`
	AvgSeconds float64 `json:"avg_seconds"`
	Runs       int     `json:"runs"`
}

// FailedTask summarizes a task with at least one failed attempt.
type FailedTask struct {
	TaskID      string    `json:"task_id"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	Errors      []string  `json:"errors,omitempty"`
}

type metricStat struct {
	sum     float64
	min     float64
	max     float64
	count   int
	samples []float64 // bounded window for percentiles
}

type workerStat struct {
	total   int
	passed  int
	failed  int
	durSum  float64
}

// Aggregator ingests attempt outcomes and maintains running tallies in O(1)
// amortized per result; no query rescans the full log.
type Aggregator struct {
	logger *zap.Logger
	store  ResultStore
	window int

	mu       sync.RWMutex
	byTask   map[string][]*model.TaskResult
	byWorker map[string]*workerStat
	metrics  map[string]*metricStat
	total    int
	passed   int
	failed   int
}

// New creates an aggregator. window bounds the per-metric sample retention
// used for percentiles; store may be nil.
func New(store ResultStore, window int, logger *zap.Logger) *Aggregator {
	if window <= 0 {
		window = 1024
	}
	return &Aggregator{
		logger:   logger.Named("aggregator"),
		store:    store,
		window:   window,
		byTask:   make(map[string][]*model.TaskResult),
		byWorker: make(map[string]*workerStat),
		metrics:  make(map[string]*metricStat),
	}
}

// Add appends a result to the log and updates all running tallies.
func (a *Aggregator) Add(ctx context.Context, result *model.TaskResult) {
	a.mu.Lock()
	a.byTask[result.TaskID] = append(a.byTask[result.TaskID], result)

	a.total++
	if result.Passed() {
		a.passed++
	} else {
		a.failed++
	}

	ws, ok := a.byWorker[result.WorkerID]
	if !ok {
		ws = &workerStat{}
		a.byWorker[result.WorkerID] = ws
	}
	ws.total++
	if result.Passed() {
		ws.passed++
	} else {
		ws.failed++
	}
	ws.durSum += result.Duration.Seconds()

	a.observeLocked(DurationMetric, result.Duration.Seconds())
	for name, value := range result.Metrics {
		a.observeLocked(name, value)
	}
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Append(ctx, result); err != nil {
			a.logger.Error("Failed to persist result",
				zap.String("task_id", result.TaskID),
				zap.Error(err))
		}
	}
}

func (a *Aggregator) observeLocked(name string, value float64) {
	stat, ok := a.metrics[name]
	if !ok {
		stat = &metricStat{min: value, max: value}
		a.metrics[name] = stat
	}
	stat.sum += value
	stat.count++
	if value < stat.min {
		stat.min = value
	}
	if value > stat.max {
		stat.max = value
	}
	if len(stat.samples) == a.window {
		copy(stat.samples, stat.samples[1:])
		stat.samples = stat.samples[:a.window-1]
	}
	stat.samples = append(stat.samples, value)
}

// Summary returns overall pass/fail statistics.
func (a *Aggregator) Summary() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Summary{Total: a.total, Passed: a.passed, Failed: a.failed}
	if a.total > 0 {
		s.PassRate = float64(a.passed) / float64(a.total)
	}
	return s
}

// MetricsSummary returns per-metric statistics including the attempt
// duration under DurationMetric.
func (a *Aggregator) MetricsSummary() map[string]MetricSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]MetricSummary, len(a.metrics))
	for name, stat := range a.metrics {
		out[name] = MetricSummary{
			Avg: stat.sum / float64(stat.count),
			Min: stat.min,
			Max: stat.max,
			P95: percentile(stat.samples, 0.95),
		}
	}
	return out
}

// NodeSummary returns statistics for results produced by one worker.
func (a *Aggregator) NodeSummary(workerID string) NodeSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	summary := NodeSummary{WorkerID: workerID}
	ws, ok := a.byWorker[workerID]
	if !ok {
		return summary
	}
	summary.Total = ws.total
	summary.Passed = ws.passed
	summary.Failed = ws.failed
	summary.PassRate = float64(ws.passed) / float64(ws.total)
	summary.AvgSeconds = ws.durSum / float64(ws.total)
	return summary
}

// TaskSummary returns statistics for all attempts of one task.
func (a *Aggregator) TaskSummary(taskID string) (TaskSummary, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	results, ok := a.byTask[taskID]
	if !ok || len(results) == 0 {
		return TaskSummary{}, false
	}

	summary := TaskSummary{TaskID: taskID, Runs: len(results)}
	var durSum float64
	summary.MinSeconds = math.MaxFloat64
	for _, r := range results {
		if r.Passed() {
			summary.Passed++
		} else {
			summary.Failed++
		}
		d := r.Duration.Seconds()
		durSum += d
		if d < summary.MinSeconds {
			summary.MinSeconds = d
		}
		if d > summary.MaxSeconds {
			summary.MaxSeconds = d
		}
		if r.CompletedAt.After(summary.LastRun) {
			summary.LastRun = r.CompletedAt
		}
	}
	summary.AvgSeconds = durSum / float64(len(results))
	return summary, true
}

// FailedTasks returns every task with at least one failed attempt.
func (a *Aggregator) FailedTasks() []FailedTask {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var failed []FailedTask
	for taskID, results := range a.byTask {
		entry := FailedTask{TaskID: taskID}
		for _, r := range results {
			if r.Passed() {
				continue
			}
			entry.Failures++
			if r.CompletedAt.After(entry.LastFailure) {
				entry.LastFailure = r.CompletedAt
			}
			if r.Error != "" {
				entry.Errors = append(entry.Errors, r.Error)
			}
		}
		if entry.Failures > 0 {
			failed = append(failed, entry)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].TaskID < failed[j].TaskID })
	return failed
}

// SlowTasks returns tasks whose mean duration exceeds threshold, slowest
// first.
func (a *Aggregator) SlowTasks(threshold time.Duration) []SlowTask {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var slow []SlowTask
	for taskID, results := range a.byTask {
		var durSum float64
		for _, r := range results {
			durSum += r.Duration.Seconds()
		}
		avg := durSum / float64(len(results))
		if avg > threshold.Seconds() {
			slow = append(slow, SlowTask{TaskID: taskID, AvgSeconds: avg, Runs: len(results)})
		}
	}
	sort.Slice(slow, func(i, j int) bool { return slow[i].AvgSeconds > slow[j].AvgSeconds })
	return slow
}

// MeanTaskSeconds returns the mean attempt duration across all results.
func (a *Aggregator) MeanTaskSeconds() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stat, ok := a.metrics[DurationMetric]
	if !ok || stat.count == 0 {
		return 0
	}
	return stat.sum / float64(stat.count)
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
