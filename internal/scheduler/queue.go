package scheduler

import "github.com/pulsegrid/coordinator/internal/model"

// queueItem pairs a task with its submission sequence number. The sequence
// makes FIFO-within-priority deterministic even when two submissions share a
// timestamp.
type queueItem struct {
	task *model.Task
	seq  uint64
}

// taskQueue is a binary heap keyed by (priority descending, sequence
// ascending). Access is serialized by the scheduler's mutex.
type taskQueue []*queueItem

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].task.Priority != q[j].task.Priority {
		return q[i].task.Priority > q[j].task.Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x interface{}) {
	*q = append(*q, x.(*queueItem))
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
