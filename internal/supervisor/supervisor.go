package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logx "chipsend/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
// - Named goroutines (for logging/debug)
// - Panic recovery
// - Graceful stop with timeout-aware waiting
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Counters are best-effort operational metrics.
	started uint64
	active  int64

	log      logx.Logger
	doneOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

// Active returns the number of goroutines currently running.
func (s *Supervisor) Active() int64 { return atomic.LoadInt64(&s.active) }

// Go starts fn under the supervisor context. Panics are recovered and logged,
// never propagated; a panicking goroutine just ends.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		defer func() {
			if p := recover(); p != nil {
				if !s.log.IsZero() {
					s.log.Error("goroutine panicked",
						logx.String("name", name),
						logx.Any("panic", p),
						logx.Stack(logx.CurrentStack()),
					)
				}
			}
		}()
		fn(s.ctx)
	}()
}

// Stop cancels the context and waits for all goroutines, up to timeout.
// Returns false if the wait timed out.
func (s *Supervisor) Stop(timeout time.Duration) bool {
	s.cancel()
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	if timeout <= 0 {
		<-s.doneCh
		return true
	}
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case <-s.doneCh:
		return true
	case <-tmr.C:
		return false
	}
}
