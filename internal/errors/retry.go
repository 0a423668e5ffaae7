// Package errors provides retry utilities for modeldock.
package errors

import (
	"context"
	"fmt"
	"time"
)

// ============================================================
// Backoff Schedule
// ============================================================

// Schedule defines the linear delays around a model load retry.
type Schedule struct {
	// PreAttemptUnit scales the pause before retry n (n * unit),
	// taken after the model's cache entries were invalidated.
	PreAttemptUnit time.Duration

	// RetryUnit scales the countdown after failed attempt n ((n+1) * unit).
	RetryUnit time.Duration

	// Tick is the countdown display granularity.
	Tick time.Duration
}

// DefaultSchedule returns the stock schedule: 2s, 4s, 6s... before a
// retry and 3s, 6s, 9s... of countdown after a failure.
func DefaultSchedule() Schedule {
	return Schedule{
		PreAttemptUnit: 2 * time.Second,
		RetryUnit:      3 * time.Second,
		Tick:           time.Second,
	}
}

// PreAttemptDelay returns the pause taken before the given attempt.
func (s Schedule) PreAttemptDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(attempt) * s.PreAttemptUnit
}

// RetryDelay returns the countdown following a failure of the given attempt.
func (s Schedule) RetryDelay(attempt int) time.Duration {
	return time.Duration(attempt+1) * s.RetryUnit
}

// ============================================================
// Clock
// ============================================================

// Clock suspends the calling operation. Tests substitute a fake.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock sleeps on the wall clock.
type RealClock struct{}

// Sleep waits for d or until ctx is done.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Countdown sleeps for total in tick steps, calling onTick with the
// remaining time before each step.
func Countdown(ctx context.Context, clock Clock, total, tick time.Duration, onTick func(remaining time.Duration)) error {
	if tick <= 0 {
		tick = time.Second
	}
	for remaining := total; remaining > 0; remaining -= tick {
		if onTick != nil {
			onTick(remaining)
		}
		step := tick
		if remaining < tick {
			step = remaining
		}
		if err := clock.Sleep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}
