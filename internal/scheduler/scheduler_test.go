package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2024, 1, 10, 12, 3, 12, 0, time.UTC)
	if got, want := s.nextTick(now), time.Date(2024, 1, 10, 12, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next tick %s, want %s", got, want)
	}

	onBoundary := time.Date(2024, 1, 10, 12, 5, 0, 0, time.UTC)
	if got, want := s.nextTick(onBoundary), onBoundary.Add(5*time.Minute); !got.Equal(want) {
		t.Fatalf("tick on boundary should move to the following bucket, got %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2024, 1, 10, 12, 3, 12, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("unaligned next tick %s", got)
	}
	if got := s.bucketStart(now); !got.Equal(now) {
		t.Fatalf("unaligned bucket should be the tick itself, got %s", got)
	}
}

func TestRunOnStartFiresImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToStart: true, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			calls.Add(1)
			cancel()
			return errors.New("tick errors are logged, not returned")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one startup tick, got %d", calls.Load())
	}
}

func TestRunTicksOnInterval(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var calls atomic.Int32
	_ = s.Run(ctx, func(context.Context, time.Time) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return nil
	})
	if calls.Load() != 3 {
		t.Fatalf("expected 3 ticks, got %d", calls.Load())
	}
}

func TestStartupDelayHonoursCancellation(t *testing.T) {
	s := New(Options{Interval: time.Minute, StartupDelay: time.Hour, RunOnStart: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick must not run")
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
