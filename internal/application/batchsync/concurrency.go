package batchsync

import (
	"time"
)

// controller owns the per-run concurrency state.  It is created once per
// SyncMany invocation, mutated exclusively by the run's control loop between
// chunks, and discarded when the run completes.  Every mutation preserves
// floor ≤ current ≤ ceiling.
type controller struct {
	current int
	floor   int
	ceiling int

	consecutiveSignals int
}

func newController(initial, floor, ceiling int) *controller {
	if floor < 1 {
		floor = 1
	}
	if ceiling < floor {
		ceiling = floor
	}
	if initial < floor {
		initial = floor
	}
	if initial > ceiling {
		initial = ceiling
	}
	return &controller{current: initial, floor: floor, ceiling: ceiling}
}

// Current returns the chunk size for the next dispatch.
func (c *controller) Current() int { return c.current }

// OnRateLimited halves the concurrency (not below the floor) in response to a
// throttling signal and returns the wait to apply before the next chunk: the
// largest remote-suggested delay when one was given, otherwise a heuristic
// that escalates with the number of consecutive signals.
func (c *controller) OnRateLimited(suggested, baseWait time.Duration) time.Duration {
	c.consecutiveSignals++

	half := (c.current + 1) / 2
	if half < c.floor {
		half = c.floor
	}
	c.current = half

	if suggested > 0 {
		return suggested
	}
	return baseWait * time.Duration(c.consecutiveSignals)
}

// OnCleanChunk grows the concurrency by one step (not above the ceiling),
// rewarding sustained success, and resets the signal streak.
func (c *controller) OnCleanChunk() {
	c.consecutiveSignals = 0
	if c.current < c.ceiling {
		c.current++
	}
}

// ReduceForRetryPass drops the concurrency to roughly half the last value in
// preparation for a retry pass over previously rate-limited work.
func (c *controller) ReduceForRetryPass() {
	half := (c.current + 1) / 2
	if half < c.floor {
		half = c.floor
	}
	c.current = half
}
