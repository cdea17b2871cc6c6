// Package scheduler provides cron-driven maintenance task scheduling for
// compressarr. Tasks are registered up front (scheduled backups, orphan
// output sweeps) and fired from a single sync loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// task pairs a registered maintenance function with its parsed schedule.
type task struct {
	name     string
	expr     string
	schedule cron.Schedule
	run      func(ctx context.Context) error
	next     time.Time
}

// Scheduler fires registered tasks according to their cron expressions.
// Expressions use the 6-field form with a seconds column, matching the
// configuration defaults ("0 0 2 * * *" is daily at 02:00:00).
type Scheduler struct {
	mu sync.RWMutex

	tasks  []*task
	logger *slog.Logger

	// cron parser for validating/parsing cron expressions
	parser cron.Parser

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Sync interval for checking due tasks
	syncInterval time.Duration
}

// defaultSyncInterval is how often the loop checks for due tasks. Schedules
// with second-level precision fire no finer than this cadence.
const defaultSyncInterval = time.Minute

// New creates a new scheduler.
func New() *Scheduler {
	return &Scheduler{
		logger:       slog.Default(),
		parser:       cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		syncInterval: defaultSyncInterval,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithSyncInterval overrides how often the loop checks for due tasks.
func (s *Scheduler) WithSyncInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.syncInterval = d
	}
	return s
}

// Register adds a named task with a cron expression. The expression is
// parsed immediately so misconfiguration surfaces at startup, not at the
// first missed run. Registration is rejected after Start.
func (s *Scheduler) Register(name, expr string, run func(ctx context.Context) error) error {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression for task %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	for _, t := range s.tasks {
		if t.name == name {
			return fmt.Errorf("task %s already registered", name)
		}
	}

	s.tasks = append(s.tasks, &task{
		name:     name,
		expr:     expr,
		schedule: schedule,
		run:      run,
	})
	return nil
}

// Start begins the scheduler's background sync loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	if len(s.tasks) == 0 {
		return fmt.Errorf("no tasks registered")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	now := time.Now()
	for _, t := range s.tasks {
		t.next = t.schedule.Next(now)
	}

	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("scheduler started",
		slog.Int("tasks", len(s.tasks)),
		slog.Duration("sync_interval", s.syncInterval))

	return nil
}

// Stop stops the scheduler and waits for an in-flight task to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// syncLoop periodically fires tasks whose next run time has passed.
func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDue(time.Now())
		}
	}
}

// runDue executes every task whose schedule has come due and advances its
// next run time. Tasks run sequentially; a failure is logged and does not
// stop the others.
func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	var due []*task
	for _, t := range s.tasks {
		if !t.next.After(now) {
			due = append(due, t)
			t.next = t.schedule.Next(now)
		}
	}
	ctx := s.ctx
	s.mu.Unlock()

	for _, t := range due {
		start := time.Now()
		s.logger.Debug("running scheduled task", slog.String("task", t.name))

		if err := t.run(ctx); err != nil {
			s.logger.Error("scheduled task failed",
				slog.String("task", t.name),
				slog.Any("error", err))
			continue
		}

		s.logger.Info("scheduled task completed",
			slog.String("task", t.name),
			slog.Duration("duration", time.Since(start)))
	}
}

// NextRuns returns the next scheduled run time per task name.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := make(map[string]time.Time, len(s.tasks))
	for _, t := range s.tasks {
		if t.next.IsZero() {
			next[t.name] = t.schedule.Next(time.Now())
			continue
		}
		next[t.name] = t.next
	}
	return next
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}
