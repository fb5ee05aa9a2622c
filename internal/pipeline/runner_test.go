package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunnerSingleFlight(t *testing.T) {
	t.Parallel()
	r := NewRunner(zerolog.Nop())

	var running atomic.Int32
	var overlaps atomic.Int32
	block := make(chan struct{})

	j := &job{name: "slow", period: time.Hour, fn: func(ctx context.Context) error {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer running.Add(-1)
		<-block
		return nil
	}}

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		r.runOnce(ctx, j)
		close(done)
	}()

	// Give the first cycle time to take the lock, then trigger again.
	time.Sleep(50 * time.Millisecond)
	r.runOnce(ctx, j) // must be a skipped no-op
	close(block)
	<-done

	if got := overlaps.Load(); got != 0 {
		t.Fatalf("overlapping cycles detected: %d", got)
	}
}

func TestRunnerContainsPanics(t *testing.T) {
	t.Parallel()
	r := NewRunner(zerolog.Nop())
	j := &job{name: "explodes", period: time.Hour, fn: func(ctx context.Context) error {
		panic("boom")
	}}
	// Must not propagate.
	r.runOnce(context.Background(), j)
}

func TestRunnerSkipsAfterCancel(t *testing.T) {
	t.Parallel()
	r := NewRunner(zerolog.Nop())
	var calls atomic.Int32
	j := &job{name: "cancelled", period: time.Hour, fn: func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.runOnce(ctx, j)
	if calls.Load() != 0 {
		t.Fatal("cycles must not start after shutdown")
	}
}
