// Package workers contains the workflow loops that advance videos through
// the compression pipeline, and the supervisor that runs them.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Worker is one workflow loop driven by the Supervisor.
type Worker interface {
	// Name identifies the loop in logs and health output.
	Name() string
	// Interval is the pause between passes, or the idle pause for loops
	// that drain a queue.
	Interval() time.Duration
	// Tick runs one pass. more reports that another item is immediately
	// available, letting the supervisor drain a backlog without sleeping.
	Tick(ctx context.Context) (more bool, err error)
}

// Policy is the failure policy shared by every worker loop.
type Policy struct {
	// RetryDelay is the base backoff after a failed pass.
	RetryDelay time.Duration
	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration
	// MaxConsecutiveErrors is how many failed passes in a row a loop
	// tolerates before reporting fatal.
	MaxConsecutiveErrors int
}

// DefaultPolicy returns the stock failure policy.
func DefaultPolicy() Policy {
	return Policy{
		RetryDelay:           30 * time.Second,
		MaxRetryDelay:        5 * time.Minute,
		MaxConsecutiveErrors: 3,
	}
}

// WorkerState is a point-in-time view of one loop for the health surface.
type WorkerState struct {
	Name                string     `json:"name"`
	Running             bool       `json:"running"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastPass            *time.Time `json:"last_pass,omitempty"`
}

// Supervisor runs the workflow loops, applies the shared failure policy,
// and reports loops that exhaust it on the fatal channel.
type Supervisor struct {
	mu      sync.RWMutex
	workers []Worker
	states  map[string]*WorkerState
	policy  Policy
	logger  *slog.Logger
	fatal   chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor with the given failure policy.
func NewSupervisor(policy Policy, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		states: make(map[string]*WorkerState),
		policy: policy,
		logger: logger,
	}
}

// Register adds loops to run. Must be called before Start.
func (s *Supervisor) Register(workers ...Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range workers {
		s.workers = append(s.workers, w)
		s.states[w.Name()] = &WorkerState{Name: w.Name()}
	}
}

// Start launches one goroutine per registered worker.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("supervisor already started")
	}
	if len(s.workers) == 0 {
		return fmt.Errorf("no workers registered")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.fatal = make(chan error, len(s.workers))

	for _, w := range s.workers {
		s.wg.Add(1)
		go s.run(w)
	}

	s.logger.Info("workflow supervisor started", slog.Int("workers", len(s.workers)))
	return nil
}

// Stop cancels the loops and waits for them to finish their current pass.
func (s *Supervisor) Stop() {
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

	s.logger.Info("workflow supervisor stopped")
}

// Fatal delivers the error of any loop that exhausted the failure policy.
// The channel is buffered; the caller decides whether to shut down.
func (s *Supervisor) Fatal() <-chan error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatal
}

// States reports the current state of every loop, sorted by name.
func (s *Supervisor) States() []WorkerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorkerState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) setState(name string, update func(*WorkerState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[name]; ok {
		update(st)
	}
}

// run drives one worker loop until the context ends or the loop turns fatal.
func (s *Supervisor) run(w Worker) {
	defer s.wg.Done()

	log := s.logger.With(slog.String("worker", w.Name()))
	log.Debug("worker started", slog.Duration("interval", w.Interval()))
	s.setState(w.Name(), func(st *WorkerState) { st.Running = true })
	defer s.setState(w.Name(), func(st *WorkerState) { st.Running = false })

	backoff := NewBackoff(s.policy.RetryDelay, s.policy.MaxRetryDelay)

	for {
		more, err := w.Tick(s.ctx)
		now := time.Now()
		if s.ctx.Err() != nil {
			log.Debug("worker stopping")
			return
		}
		if err != nil {
			delay := backoff.Next()
			failures := backoff.Failures()
			s.setState(w.Name(), func(st *WorkerState) {
				st.ConsecutiveFailures = failures
				st.LastError = err.Error()
				st.LastPass = &now
			})
			log.Error("pass failed",
				slog.Int("consecutive_failures", failures),
				slog.Duration("retry_in", delay),
				slog.Any("error", err))
			if failures >= s.policy.MaxConsecutiveErrors {
				log.Error("too many consecutive failures, giving up")
				s.fatal <- fmt.Errorf("%s: %d consecutive failures, last: %w", w.Name(), failures, err)
				return
			}
			if !s.sleep(delay) {
				log.Debug("worker stopping")
				return
			}
			continue
		}
		if backoff.Failures() > 0 {
			log.Info("worker recovered", slog.Int("failed_passes", backoff.Failures()))
		}
		backoff.Reset()
		s.setState(w.Name(), func(st *WorkerState) {
			st.ConsecutiveFailures = 0
			st.LastError = ""
			st.LastPass = &now
		})
		if more {
			continue
		}
		if !s.sleep(w.Interval()) {
			log.Debug("worker stopping")
			return
		}
	}
}

// sleep waits for d or until the supervisor stops. Returns false on stop.
func (s *Supervisor) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
