// Package scheduler runs keyforge's background maintenance jobs on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"keyforge/internal/infrastructure"
)

// Task is a named job run on a cron schedule
type Task struct {
	Name        string
	Description string
	Schedule    string
	Handler     func(ctx context.Context) error
}

// Scheduler manages the registered tasks
type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc

	mu    sync.Mutex
	tasks map[string]Task
}

// New creates a scheduler running in UTC. Runs of the same task never
// overlap.
func New(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		logger:    logger.With(slog.String("component", "scheduler")),
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]Task),
	}
}

// Register adds a task. Names must be unique.
func (s *Scheduler) Register(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("task %q already registered", task.Name)
	}

	job, err := s.scheduler.Cron(task.Schedule).Do(func() {
		s.run(task)
	})
	if err != nil {
		return fmt.Errorf("schedule task %q (%s): %w", task.Name, task.Schedule, err)
	}
	job.Tag(task.Name)

	s.tasks[task.Name] = task
	s.logger.Info("registered task",
		slog.String("task", task.Name),
		slog.String("schedule", task.Schedule))
	return nil
}

func (s *Scheduler) run(task Task) {
	ctx := infrastructure.EnsureTraceID(s.ctx)
	start := time.Now()

	s.logger.InfoContext(ctx, "running scheduled task", slog.String("task", task.Name))

	if err := task.Handler(ctx); err != nil {
		s.logger.ErrorContext(ctx, "scheduled task failed",
			slog.String("task", task.Name),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return
	}

	s.logger.InfoContext(ctx, "scheduled task completed",
		slog.String("task", task.Name),
		slog.Duration("duration", time.Since(start)))
}

// RunTaskNow runs a registered task synchronously
func (s *Scheduler) RunTaskNow(ctx context.Context, name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("task %q not found", name)
	}
	return task.Handler(infrastructure.EnsureTraceID(ctx))
}

// Tasks returns the registered task names in order
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins running the scheduled tasks in the background
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", slog.Int("tasks", s.scheduler.Len()))
	s.scheduler.StartAsync()
}

// Stop halts the scheduler and cancels in-flight task contexts
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.scheduler.Stop()
	s.cancel()
}
