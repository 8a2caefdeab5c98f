package saves

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// waitPollInterval is how often WaitForAll checks the registry.
const waitPollInterval = 50 * time.Millisecond

// resultBuffer is the capacity of the results channel. Results that do not
// fit are dropped; the log still has them.
const resultBuffer = 64

// TaskResult reports the completion of a background task.
type TaskResult struct {
	ID       string
	Name     string
	Err      error
	Started  time.Time
	Finished time.Time
}

// TaskInfo describes a running task.
type TaskInfo struct {
	ID      string
	Name    string
	Started time.Time
}

type task struct {
	info TaskInfo
	done chan struct{}
	err  error
}

// TaskManager runs fire-and-forget cloud operations and keeps a registry of
// the ones still in flight so the process can drain them before exiting.
type TaskManager struct {
	mu      sync.Mutex
	tasks   map[string]*task
	seq     atomic.Int64
	results chan TaskResult
	logger  Logger
	clock   Clock
}

func NewTaskManager(logger Logger, clock Clock) *TaskManager {
	return &TaskManager{
		tasks:   make(map[string]*task),
		results: make(chan TaskResult, resultBuffer),
		logger:  logger,
		clock:   clock,
	}
}

// Run starts work in the background and returns its task ID. The task is
// removed from the registry when work returns. Failures are logged and
// published on Results, never returned to the caller.
func (m *TaskManager) Run(name string, work func(ctx context.Context) error) string {
	t := m.start(name)
	go m.execute(t, work)
	return t.info.ID
}

func (m *TaskManager) start(name string) *task {
	id := fmt.Sprintf("task-%d", m.seq.Add(1))
	t := &task{
		info: TaskInfo{ID: id, Name: name, Started: m.clock.Now()},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[id] = t
	m.mu.Unlock()

	m.logger.Debug("task started", "task", id, "name", name)
	return t
}

func (m *TaskManager) execute(t *task, work func(ctx context.Context) error) {
	// Tasks outlive whoever started them.
	t.err = work(context.Background())

	m.mu.Lock()
	delete(m.tasks, t.info.ID)
	m.mu.Unlock()
	close(t.done)

	if t.err != nil {
		m.logger.Warn("background task failed", "task", t.info.ID, "name", t.info.Name, "error", t.err)
	} else {
		m.logger.Debug("task finished", "task", t.info.ID, "name", t.info.Name)
	}

	res := TaskResult{
		ID:       t.info.ID,
		Name:     t.info.Name,
		Err:      t.err,
		Started:  t.info.Started,
		Finished: m.clock.Now(),
	}
	select {
	case m.results <- res:
	default:
		m.logger.Debug("task result dropped, channel full", "task", t.info.ID)
	}
}

// RunForeground runs work and waits for it. If ctx ends first the task is
// left running in the background and ErrDetached is returned.
func (m *TaskManager) RunForeground(ctx context.Context, name string, work func(ctx context.Context) error) error {
	t := m.start(name)
	go m.execute(t, work)

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		m.logger.Info("task detached to background", "task", t.info.ID, "name", name)
		return ErrDetached
	}
}

// Results delivers completions of background tasks.
func (m *TaskManager) Results() <-chan TaskResult {
	return m.results
}

// ActiveCount returns the number of tasks in flight.
func (m *TaskManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// HasActive reports whether any task is in flight.
func (m *TaskManager) HasActive() bool {
	return m.ActiveCount() > 0
}

// Active lists the tasks in flight, oldest first.
func (m *TaskManager) Active() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TaskInfo, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// WaitForAll blocks until no task is in flight or timeout elapses, and
// reports whether the registry drained. It polls instead of relying on any
// dispatcher, so it is safe to call during late shutdown.
func (m *TaskManager) WaitForAll(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !m.HasActive() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		time.Sleep(min(waitPollInterval, remaining))
	}
}
