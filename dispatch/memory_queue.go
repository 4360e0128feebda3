package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-partners/core"
)

// MemoryRetryQueue is the in-process RetryQueueStore. It gives tests and
// single-node setups the same claim semantics as the SQL queue.
type MemoryRetryQueue struct {
	mu      sync.Mutex
	tasks   map[string]core.RetryTask
	claimed map[string]struct{}
}

func NewMemoryRetryQueue() *MemoryRetryQueue {
	return &MemoryRetryQueue{
		tasks:   make(map[string]core.RetryTask),
		claimed: make(map[string]struct{}),
	}
}

func (q *MemoryRetryQueue) Enqueue(ctx context.Context, task core.RetryTask) (core.RetryTask, error) {
	if q == nil {
		return core.RetryTask{}, fmt.Errorf("dispatch: memory retry queue is nil")
	}
	if task.ID == "" {
		return core.RetryTask{}, fmt.Errorf("dispatch: retry task id is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[task.ID]; ok {
		return core.RetryTask{}, fmt.Errorf("dispatch: retry task %s already exists", task.ID)
	}
	q.tasks[task.ID] = cloneTask(task)
	return cloneTask(task), nil
}

// ClaimDue returns due tasks and hides them from subsequent claims until
// completed or rescheduled.
func (q *MemoryRetryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]core.RetryTask, error) {
	if q == nil {
		return nil, fmt.Errorf("dispatch: memory retry queue is nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]core.RetryTask, 0)
	for id, task := range q.tasks {
		if _, taken := q.claimed[id]; taken {
			continue
		}
		if task.NotBefore.After(now) {
			continue
		}
		due = append(due, cloneTask(task))
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NotBefore.Equal(due[j].NotBefore) {
			return due[i].ID < due[j].ID
		}
		return due[i].NotBefore.Before(due[j].NotBefore)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, task := range due {
		q.claimed[task.ID] = struct{}{}
	}
	return due, nil
}

func (q *MemoryRetryQueue) Complete(ctx context.Context, id string) error {
	if q == nil {
		return fmt.Errorf("dispatch: memory retry queue is nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[id]; !ok {
		return fmt.Errorf("dispatch: retry task %s not found", id)
	}
	delete(q.tasks, id)
	delete(q.claimed, id)
	return nil
}

func (q *MemoryRetryQueue) Reschedule(ctx context.Context, id string, attempt int, notBefore time.Time) error {
	if q == nil {
		return fmt.Errorf("dispatch: memory retry queue is nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("dispatch: retry task %s not found", id)
	}
	task.Attempt = attempt
	task.NotBefore = notBefore
	task.UpdatedAt = time.Now().UTC()
	q.tasks[id] = task
	delete(q.claimed, id)
	return nil
}

func cloneTask(task core.RetryTask) core.RetryTask {
	out := task
	out.Payload = append([]byte(nil), task.Payload...)
	if len(task.Metadata) > 0 {
		metadata := make(map[string]any, len(task.Metadata))
		for key, value := range task.Metadata {
			metadata[key] = value
		}
		out.Metadata = metadata
	}
	return out
}

var _ core.RetryQueueStore = (*MemoryRetryQueue)(nil)
