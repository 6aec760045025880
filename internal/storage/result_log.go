package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/model"
)

// ResultLog is the append-only record of execution attempts. A task retried
// after failure accumulates one row per attempt, all preserved for audit.
type ResultLog interface {
	// Append stores one attempt outcome.
	Append(ctx context.Context, result *model.TaskResult) error

	// ListByTask retrieves all attempts for a task, oldest first.
	ListByTask(ctx context.Context, taskID string) ([]*model.TaskResult, error)

	// ListByWorker retrieves all attempts reported by a worker, oldest first.
	ListByWorker(ctx context.Context, workerID string) ([]*model.TaskResult, error)

	// Count returns the total number of recorded attempts.
	Count(ctx context.Context) (int, error)

	// DeleteBefore drops attempts completed before the given time.
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteResultLog implements ResultLog using SQLite. The database survives
// coordinator restarts.
type SQLiteResultLog struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteResultLog opens (or creates) the result log at dbPath.
func NewSQLiteResultLog(logger *zap.Logger, dbPath string) (*SQLiteResultLog, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	log := &SQLiteResultLog{
		logger: logger.Named("result-log"),
		db:     db,
	}
	if err := log.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}

func (s *SQLiteResultLog) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			worker_id TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT,
			error TEXT,
			duration INTEGER NOT NULL,
			metrics TEXT,
			attempt INTEGER NOT NULL,
			completed_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_results_task_id ON task_results(task_id);
		CREATE INDEX IF NOT EXISTS idx_task_results_worker_id ON task_results(worker_id);
		CREATE INDEX IF NOT EXISTS idx_task_results_completed_at ON task_results(completed_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Append implements ResultLog.Append
func (s *SQLiteResultLog) Append(ctx context.Context, result *model.TaskResult) error {
	var metricsStr string
	if len(result.Metrics) > 0 {
		data, err := json.Marshal(result.Metrics)
		if err != nil {
			return fmt.Errorf("failed to marshal metrics: %w", err)
		}
		metricsStr = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (
			task_id, worker_id, status, output, error, duration, metrics, attempt, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.TaskID,
		result.WorkerID,
		result.Status,
		sql.NullString{String: string(result.Output), Valid: len(result.Output) > 0},
		sql.NullString{String: result.Error, Valid: result.Error != ""},
		int64(result.Duration),
		sql.NullString{String: metricsStr, Valid: metricsStr != ""},
		result.Attempt,
		result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append result: %w", err)
	}
	return nil
}

// ListByTask implements ResultLog.ListByTask
func (s *SQLiteResultLog) ListByTask(ctx context.Context, taskID string) ([]*model.TaskResult, error) {
	return s.list(ctx, "task_id", taskID)
}

// ListByWorker implements ResultLog.ListByWorker
func (s *SQLiteResultLog) ListByWorker(ctx context.Context, workerID string) ([]*model.TaskResult, error) {
	return s.list(ctx, "worker_id", workerID)
}

func (s *SQLiteResultLog) list(ctx context.Context, column, value string) ([]*model.TaskResult, error) {
	query := fmt.Sprintf(`
		SELECT task_id, worker_id, status, output, error, duration, metrics, attempt, completed_at
		FROM task_results WHERE %s = ? ORDER BY id ASC`, column)

	rows, err := s.db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*model.TaskResult
	for rows.Next() {
		result := &model.TaskResult{}
		var output, errStr, metrics sql.NullString
		var durationNanos int64

		if err := rows.Scan(
			&result.TaskID,
			&result.WorkerID,
			&result.Status,
			&output,
			&errStr,
			&durationNanos,
			&metrics,
			&result.Attempt,
			&result.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		result.Duration = time.Duration(durationNanos)
		if output.Valid && output.String != "" {
			result.Output = json.RawMessage(output.String)
		}
		if errStr.Valid {
			result.Error = errStr.String
		}
		if metrics.Valid && metrics.String != "" {
			if err := json.Unmarshal([]byte(metrics.String), &result.Metrics); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
			}
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

// Count implements ResultLog.Count
func (s *SQLiteResultLog) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_results").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return count, nil
}

// DeleteBefore implements ResultLog.DeleteBefore
func (s *SQLiteResultLog) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM task_results WHERE completed_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete results: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old result records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return nil
}

// StartRetention launches a pruning loop that drops attempts older than
// maxAge every interval. The loop stops when ctx is cancelled.
func (s *SQLiteResultLog) StartRetention(ctx context.Context, interval, maxAge time.Duration) {
	s.logger.Info("Starting retention sweep",
		zap.Duration("interval", interval),
		zap.Duration("max_age", maxAge))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.DeleteBefore(ctx, time.Now().Add(-maxAge)); err != nil {
					s.logger.Error("Retention sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Close closes the database connection
func (s *SQLiteResultLog) Close() error {
	return s.db.Close()
}
