package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TicketSource fetches and mutates tasks on a remote ticket system. A real
// implementation would wrap a REST client; this package only defines the
// seam TicketTracker drives.
type TicketSource interface {
	ListOpenTickets(ctx context.Context) ([]Task, error)
	UpdateStatus(ctx context.Context, id string, status TaskStatus) error
	UpdateCriterion(ctx context.Context, taskID string, idx int, completed bool) error
}

// TicketTracker adapts a remote TicketSource to the Tracker contract,
// caching the last fetched task list so repeated NextTask/Get calls don't
// round-trip unless the cache is explicitly refreshed.
type TicketTracker struct {
	mu     sync.RWMutex
	source TicketSource
	cache  map[string]*Task
	order  []string
}

func NewTicketTracker(source TicketSource) *TicketTracker {
	return &TicketTracker{source: source, cache: make(map[string]*Task)}
}

// Refresh re-fetches the open ticket list from the source, replacing the
// local cache. Tasks already marked complete locally are dropped.
func (t *TicketTracker) Refresh(ctx context.Context) error {
	tasks, err := t.source.ListOpenTickets(ctx)
	if err != nil {
		return fmt.Errorf("tracker: list open tickets: %w", err)
	}

	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Priority < tasks[j].Priority })

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache = make(map[string]*Task, len(tasks))
	t.order = t.order[:0]
	for i := range tasks {
		task := tasks[i]
		t.cache[task.ID] = &task
		t.order = append(t.order, task.ID)
	}
	return nil
}

func (t *TicketTracker) NextTask(ctx context.Context) (*Task, error) {
	t.mu.RLock()
	empty := len(t.cache) == 0
	t.mu.RUnlock()
	if empty {
		if err := t.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.order {
		task := t.cache[id]
		if task.Status == TaskComplete {
			continue
		}
		if t.dependenciesSatisfiedLocked(task) {
			clone := *task
			return &clone, nil
		}
	}
	return nil, nil
}

func (t *TicketTracker) dependenciesSatisfiedLocked(task *Task) bool {
	for _, dep := range task.Dependencies {
		if d, ok := t.cache[dep]; !ok || d.Status != TaskComplete {
			return false
		}
	}
	return true
}

func (t *TicketTracker) Get(_ context.Context, id string) (*Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.cache[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	clone := *task
	return &clone, nil
}

func (t *TicketTracker) Start(ctx context.Context, id string) error {
	return t.setStatus(ctx, id, TaskInProgress)
}

func (t *TicketTracker) Complete(ctx context.Context, id string) error {
	return t.setStatus(ctx, id, TaskComplete)
}

func (t *TicketTracker) setStatus(ctx context.Context, id string, status TaskStatus) error {
	t.mu.Lock()
	task, ok := t.cache[id]
	t.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	if err := t.source.UpdateStatus(ctx, id, status); err != nil {
		return fmt.Errorf("tracker: update status for %s: %w", id, err)
	}

	t.mu.Lock()
	task.Status = status
	t.mu.Unlock()
	return nil
}

func (t *TicketTracker) CompleteCriterion(ctx context.Context, taskID string, idx int) error {
	t.mu.Lock()
	task, ok := t.cache[taskID]
	t.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	if idx < 0 || idx >= len(task.Criteria) {
		return fmt.Errorf("tracker: criterion index %d out of range for task %s", idx, taskID)
	}
	if err := t.source.UpdateCriterion(ctx, taskID, idx, true); err != nil {
		return fmt.Errorf("tracker: update criterion %d for %s: %w", idx, taskID, err)
	}

	t.mu.Lock()
	task.Criteria[idx].Completed = true
	if task.AllCriteriaComplete() {
		task.Status = TaskComplete
	}
	t.mu.Unlock()
	return nil
}

func (t *TicketTracker) Progress(_ context.Context) (Progress, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var p Progress
	for _, id := range t.order {
		task := t.cache[id]
		p.TotalTasks++
		switch task.Status {
		case TaskComplete:
			p.CompletedTasks++
		case TaskInProgress:
			p.InProgressTasks++
		}
		p.TotalCriteria += len(task.Criteria)
		for _, c := range task.Criteria {
			if c.Completed {
				p.CompletedCriteria++
			}
		}
	}
	return p, nil
}
