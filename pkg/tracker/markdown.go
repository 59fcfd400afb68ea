package tracker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
)

// headingPattern matches a markdown heading that starts a new task, e.g.
// "## T1: Wire up the audit writer". The id is the first token before ":".
var headingPattern = regexp.MustCompile(`^##\s+([A-Za-z0-9_-]+):\s*(.*)$`)

// criterionPattern matches a GitHub-style checklist line.
var criterionPattern = regexp.MustCompile(`^\s*-\s*\[( |x|X)\]\s*(.*)$`)

// MarkdownTracker reads tasks and criteria from a single markdown file laid
// out as a sequence of "## id: name" sections, each followed by free-form
// description text and "- [ ]"/"- [x]" criterion lines. Mutations
// (Start/Complete/CompleteCriterion) rewrite the backing file so the state
// survives a restart without a separate database.
type MarkdownTracker struct {
	mu    sync.RWMutex
	path  string
	order []string
	tasks map[string]*Task
}

// NewMarkdownTracker parses path and returns a ready tracker.
func NewMarkdownTracker(path string) (*MarkdownTracker, error) {
	t := &MarkdownTracker{path: path, tasks: make(map[string]*Task)}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *MarkdownTracker) reload() error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("tracker: open %s: %w", t.path, err)
	}
	defer f.Close()

	order, tasks, err := parseMarkdownTasks(f)
	if err != nil {
		return err
	}
	t.order = order
	t.tasks = tasks
	return nil
}

func parseMarkdownTasks(r io.Reader) ([]string, map[string]*Task, error) {
	order := make([]string, 0)
	tasks := make(map[string]*Task)
	var current *Task

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := headingPattern.FindStringSubmatch(line); m != nil {
			id, name := m[1], strings.TrimSpace(m[2])
			current = &Task{ID: id, Name: name, Status: TaskPending}
			order = append(order, id)
			tasks[id] = current
			continue
		}

		if current == nil {
			continue
		}

		if m := criterionPattern.FindStringSubmatch(line); m != nil {
			current.Criteria = append(current.Criteria, Criterion{
				Text:      strings.TrimSpace(m[2]),
				Completed: strings.ToLower(m[1]) == "x",
			})
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if current.Description != "" {
			current.Description += "\n"
		}
		current.Description += line
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("tracker: scan markdown: %w", err)
	}

	for _, task := range tasks {
		if task.AllCriteriaComplete() && len(task.Criteria) > 0 {
			task.Status = TaskComplete
		}
	}
	return order, tasks, nil
}

func (t *MarkdownTracker) NextTask(_ context.Context) (*Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, id := range t.order {
		task := t.tasks[id]
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

func (t *MarkdownTracker) dependenciesSatisfiedLocked(task *Task) bool {
	for _, dep := range task.Dependencies {
		if d, ok := t.tasks[dep]; !ok || d.Status != TaskComplete {
			return false
		}
	}
	return true
}

func (t *MarkdownTracker) Get(_ context.Context, id string) (*Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	clone := *task
	return &clone, nil
}

func (t *MarkdownTracker) Start(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = TaskInProgress
	return t.flushLocked()
}

func (t *MarkdownTracker) Complete(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = TaskComplete
	for i := range task.Criteria {
		task.Criteria[i].Completed = true
	}
	return t.flushLocked()
}

func (t *MarkdownTracker) CompleteCriterion(_ context.Context, taskID string, idx int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if idx < 0 || idx >= len(task.Criteria) {
		return fmt.Errorf("tracker: criterion index %d out of range for task %s", idx, taskID)
	}
	task.Criteria[idx].Completed = true
	if task.AllCriteriaComplete() {
		task.Status = TaskComplete
	}
	return t.flushLocked()
}

func (t *MarkdownTracker) Progress(_ context.Context) (Progress, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var p Progress
	for _, id := range t.order {
		task := t.tasks[id]
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

// flushLocked rewrites the backing markdown file to reflect in-memory
// state. Callers must hold t.mu for writing.
func (t *MarkdownTracker) flushLocked() error {
	var b strings.Builder
	for _, id := range t.order {
		task := t.tasks[id]
		b.WriteString("## " + id + ": " + task.Name + "\n\n")
		if task.Description != "" {
			b.WriteString(task.Description + "\n\n")
		}
		for _, c := range task.Criteria {
			mark := " "
			if c.Completed {
				mark = "x"
			}
			b.WriteString("- [" + mark + "] " + c.Text + "\n")
		}
		b.WriteString("\n")
	}
	if err := os.WriteFile(t.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("tracker: write %s: %w", t.path, err)
	}
	return nil
}

// Reload re-parses the backing file, discarding in-memory mutations not
// yet flushed (there should be none, since every mutator flushes inline).
func (t *MarkdownTracker) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reload()
}
