// Package scheduler runs the gateway's periodic maintenance jobs.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is one run of a periodic task. ctx is cancelled when the task is
// removed or the scheduler stops.
type TaskFn func(ctx context.Context) error

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
}

type task struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	mu   sync.Mutex
	info TaskInfo
}

// Scheduler manages named periodic tasks. A task never overlaps with itself.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	ctx    context.Context
	stop   context.CancelFunc
	logger *zap.Logger
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*task),
		ctx:    ctx,
		stop:   cancel,
		logger: logger,
	}
}

// AddTicker registers fn to run every interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	if interval <= 0 {
		s.logger.Warn("scheduler task disabled", zap.String("task", name))
		return
	}
	s.mu.Lock()
	if old, ok := s.tasks[name]; ok {
		old.cancel()
		delete(s.tasks, name)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
		info:     TaskInfo{Name: name, Interval: interval},
	}
	s.tasks[name] = t
	s.mu.Unlock()

	go s.loop(ctx, name, t, fn)
	s.logger.Info("scheduler task registered", zap.String("task", name), zap.Duration("interval", interval))
}

func (s *Scheduler) loop(ctx context.Context, name string, t *task, fn TaskFn) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.run(ctx, name, t, fn)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, name string, t *task, fn TaskFn) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduler task panicked",
					zap.String("task", name),
					zap.Any("recover", r))
				err = errPanic
			}
		}()
		err = fn(ctx)
	}()

	t.mu.Lock()
	t.info.Runs++
	t.info.LastRun = time.Now()
	t.info.LastErr = ""
	if err != nil {
		t.info.Failures++
		t.info.LastErr = err.Error()
	}
	t.mu.Unlock()

	if err != nil && err != errPanic && ctx.Err() == nil {
		s.logger.Warn("scheduler task failed", zap.String("task", name), zap.Error(err))
	}
}

// Remove stops and removes a task by name, waiting for a running invocation
// to return.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// Stop stops all tasks and waits for them to exit.
func (s *Scheduler) Stop() {
	s.stop()
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*task)
	s.mu.Unlock()
	for _, t := range tasks {
		<-t.done
	}
}

// ListTickers returns the names of all registered tasks, sorted.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tasks returns a snapshot of every registered task, sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		out = append(out, t.info)
		t.mu.Unlock()
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type panicError struct{}

func (panicError) Error() string { return "task panicked" }

var errPanic error = panicError{}
