package app

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Supervisor runs named background goroutines tied to a shared context,
// with panic recovery and timeout-aware shutdown.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
	wg     sync.WaitGroup
}

func NewSupervisor(parent context.Context, log zerolog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, log: log}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Go starts fn under the supervisor. A panic or error is logged, never
// propagated; background loops must not take the worker down.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				s.log.Error().
					Str("goroutine", name).
					Any("panic", p).
					Str("stack", string(debug.Stack())).
					Msg("background goroutine panicked")
			}
		}()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Error().Err(err).Str("goroutine", name).Msg("background goroutine failed")
		}
	}()
}

// Shutdown cancels the shared context and waits for goroutines to exit,
// bounded by ctx (or a short grace window when ctx has no deadline).
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("shutdown cancelled with goroutines still running")
	case <-t.C:
		s.log.Warn().Msg("shutdown grace elapsed with goroutines still running")
	}
}
