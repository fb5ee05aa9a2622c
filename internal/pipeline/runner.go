package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner schedules the registered pipelines on their fixed periods.
//
// Every pipeline is single-flight: an overrunning cycle makes the next
// trigger a logged no-op instead of stacking. Errors and panics are
// caught at the loop boundary; a pipeline never takes the process down,
// it just waits for its next period.
type Runner struct {
	c    *cron.Cron
	log  zerolog.Logger
	jobs []*job

	mu      sync.Mutex
	ctx     context.Context
	started bool
}

type job struct {
	name   string
	period time.Duration
	fn     func(context.Context) error
	mu     sync.Mutex // held while a cycle is in flight
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{c: cron.New(), log: log}
}

// Register adds a pipeline. Must be called before Start.
func (r *Runner) Register(name string, period time.Duration, fn func(context.Context) error) {
	r.jobs = append(r.jobs, &job{name: name, period: period, fn: fn})
}

// Start kicks every pipeline once immediately, then schedules it on its
// period. The context bounds all cycles; cancelling it makes in-flight
// cycles wind down and future triggers no-ops.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.ctx = ctx
	r.mu.Unlock()

	for _, j := range r.jobs {
		j := j
		go r.runOnce(ctx, j)
		if _, err := r.c.AddFunc(fmt.Sprintf("@every %s", j.period), func() {
			r.runOnce(ctx, j)
		}); err != nil {
			return fmt.Errorf("schedule pipeline %s: %w", j.name, err)
		}
		r.log.Info().Str("pipeline", j.name).Dur("period", j.period).Msg("pipeline scheduled")
	}
	r.c.Start()
	return nil
}

// Stop halts scheduling and waits for in-flight cycles, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	stopCtx := r.c.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) runOnce(ctx context.Context, j *job) {
	if ctx.Err() != nil {
		return
	}
	if !j.mu.TryLock() {
		r.log.Warn().Str("pipeline", j.name).Msg("previous cycle still running; trigger skipped")
		return
	}
	defer j.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Str("pipeline", j.name).
				Any("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("pipeline cycle panicked")
		}
	}()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		if ctx.Err() != nil {
			return // shutdown, not a pipeline failure
		}
		r.log.Error().Err(err).
			Str("pipeline", j.name).
			Dur("took", time.Since(start)).
			Msg("pipeline cycle failed; retrying next period")
		return
	}
	r.log.Debug().Str("pipeline", j.name).Dur("took", time.Since(start)).Msg("pipeline cycle ok")
}
