package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubWorker is a scriptable loop for supervisor tests.
type stubWorker struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context) (bool, error)
}

func (w *stubWorker) Name() string            { return w.name }
func (w *stubWorker) Interval() time.Duration { return w.interval }
func (w *stubWorker) Tick(ctx context.Context) (bool, error) {
	if w.tick == nil {
		return false, nil
	}
	return w.tick(ctx)
}

func TestSupervisor_DrainsBacklogWithoutSleeping(t *testing.T) {
	var passes atomic.Int32
	worker := &stubWorker{
		name: "drainer",
		// An hour between passes; only the more flag can drive five of
		// them inside the test window.
		interval: time.Hour,
		tick: func(context.Context) (bool, error) {
			return passes.Add(1) < 5, nil
		},
	}

	s := NewSupervisor(DefaultPolicy(), nil)
	s.Register(worker)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return passes.Load() == 5 }, 2*time.Second, 10*time.Millisecond)

	states := s.States()
	require.Len(t, states, 1)
	assert.Equal(t, "drainer", states[0].Name)
	assert.True(t, states[0].Running)
	assert.Zero(t, states[0].ConsecutiveFailures)
	assert.NotNil(t, states[0].LastPass)
}

func TestSupervisor_FatalAfterExhaustedRetries(t *testing.T) {
	worker := &stubWorker{
		name:     "flaky",
		interval: time.Hour,
		tick: func(context.Context) (bool, error) {
			return false, errors.New("boom")
		},
	}

	policy := Policy{
		RetryDelay:           time.Millisecond,
		MaxRetryDelay:        2 * time.Millisecond,
		MaxConsecutiveErrors: 3,
	}
	s := NewSupervisor(policy, nil)
	s.Register(worker)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case err := <-s.Fatal():
		require.Error(t, err)
		assert.Contains(t, err.Error(), "flaky")
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal report from exhausted worker")
	}

	states := s.States()
	require.Len(t, states, 1)
	assert.Equal(t, 3, states[0].ConsecutiveFailures)
	assert.Equal(t, "boom", states[0].LastError)
}

func TestSupervisor_CleanPassResetsFailures(t *testing.T) {
	var passes atomic.Int32
	worker := &stubWorker{
		name:     "recovering",
		interval: time.Hour,
		tick: func(context.Context) (bool, error) {
			if passes.Add(1) <= 2 {
				return false, errors.New("transient")
			}
			return false, nil
		},
	}

	policy := Policy{
		RetryDelay:           time.Millisecond,
		MaxRetryDelay:        2 * time.Millisecond,
		MaxConsecutiveErrors: 3,
	}
	s := NewSupervisor(policy, nil)
	s.Register(worker)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		states := s.States()
		return len(states) == 1 && states[0].ConsecutiveFailures == 0 && states[0].LastPass != nil
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case err := <-s.Fatal():
		t.Fatalf("recovered worker reported fatal: %v", err)
	default:
	}
}

func TestSupervisor_StartValidation(t *testing.T) {
	s := NewSupervisor(DefaultPolicy(), nil)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workers")

	s.Register(&stubWorker{name: "idle", interval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	s.Stop()

	// A stopped supervisor can be started again.
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestSupervisor_StatesSortedByName(t *testing.T) {
	s := NewSupervisor(DefaultPolicy(), nil)
	s.Register(
		&stubWorker{name: "mover", interval: time.Hour},
		&stubWorker{name: "approver", interval: time.Hour},
		&stubWorker{name: "scanner", interval: time.Hour},
	)

	states := s.States()
	require.Len(t, states, 3)
	assert.Equal(t, "approver", states[0].Name)
	assert.Equal(t, "mover", states[1].Name)
	assert.Equal(t, "scanner", states[2].Name)
}
