package pipeline

import (
	"context"
	"time"
)

// Gate is the wait between starting a run and extraction.
type Gate interface {
	// Wait blocks until the gate opens. tick is called with the remaining
	// time whenever it changes.
	Wait(ctx context.Context, tick func(remaining time.Duration)) error
}

// NoGate opens immediately.
type NoGate struct{}

func (NoGate) Wait(ctx context.Context, tick func(time.Duration)) error {
	return ctx.Err()
}

// TimerGate is a countdown of Duration, ticking every Interval (one second
// when zero).
type TimerGate struct {
	Duration time.Duration
	Interval time.Duration
}

// NewGate returns NoGate for a zero duration and a TimerGate otherwise.
func NewGate(d time.Duration) Gate {
	if d <= 0 {
		return NoGate{}
	}
	return &TimerGate{Duration: d}
}

func (g *TimerGate) Wait(ctx context.Context, tick func(time.Duration)) error {
	interval := g.Interval
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(g.Duration)
	for remaining := g.Duration; remaining > 0; remaining = time.Until(deadline) {
		if tick != nil {
			tick(remaining.Round(interval))
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	if tick != nil {
		tick(0)
	}
	return nil
}
