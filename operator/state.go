package operator

import (
	"context"
	"errors"
	"sync"

	"github.com/flashbots/zkml-operator/config"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// ErrOverloaded is returned by Admit when too many operations are already
// waiting for the admission gate.
var ErrOverloaded = errors.New("service is overloaded, try again later")

// State is the single process-wide container shared by all handlers.
//
// Configuration access goes through Read and Write, which hold mu for the
// duration of the callback. Resource protection is separate: Admit hands out
// the one slot that allows the external tool to run.
type State struct {
	mu  sync.RWMutex
	cfg *config.Config

	admission  *semaphore.Weighted
	maxPending int64
	waiting    atomic.Int64
}

// NewState builds the shared state from a loaded configuration.
func NewState(cfg *config.Config) *State {
	return &State{
		cfg:        cfg,
		admission:  semaphore.NewWeighted(1),
		maxPending: int64(cfg.Server.MaxPending),
	}
}

// Read runs fn with shared access to the configuration. Many readers may run
// concurrently. The lock is released even if fn panics.
func (s *State) Read(fn func(cfg *config.Config)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.cfg)
}

// Write runs fn with exclusive access to the configuration.
func (s *State) Write(fn func(cfg *config.Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.cfg)
}

// Admit blocks until the caller holds the proving slot, ctx is done, or the
// wait queue is full. The returned release func is safe to call more than once.
// A zero MaxPending leaves the queue unbounded.
func (s *State) Admit(ctx context.Context) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.admission.TryAcquire(1) {
		return s.releaser(), nil
	}

	n := s.waiting.Inc()
	defer s.waiting.Dec()
	if s.maxPending > 0 && n > s.maxPending {
		return nil, ErrOverloaded
	}

	if err := s.admission.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return s.releaser(), nil
}

func (s *State) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { s.admission.Release(1) })
	}
}

// Waiting reports how many callers are queued behind the proving slot.
func (s *State) Waiting() int64 {
	return s.waiting.Load()
}
