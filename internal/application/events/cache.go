// Package events implements the inbound event pipeline: the time-bounded
// idempotency cache and the ordered queue with its single sequential consumer.
package events

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/syncbridge/syncbridge/internal/domain/event"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
)

// Cache is the in-memory idempotency record store.  It tracks the processing
// state of every event identity seen within the TTL window so that redelivered
// events can be rejected at enqueue time.
//
// Entries older than the TTL are treated as absent: lazily during Lookup and
// in bulk by the periodic sweeper.  All methods are safe for concurrent use;
// every check-then-mutate sequence runs under one lock so identity
// reservation is atomic.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*event.Entry

	ttl    time.Duration
	logger logging.Logger

	sweepInterval time.Duration
	sweepStop     chan struct{}
	sweepDone     chan struct{}

	// now is swapped in tests to drive TTL expiry deterministically.
	now func() time.Time
}

// NewCache constructs a Cache with the given entry TTL and sweep period.
// The sweeper is not running until StartSweeper is called.
func NewCache(ttl, sweepInterval time.Duration, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Cache{
		entries:       make(map[string]*event.Entry),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		logger:        logger.Named("idempotency"),
		now:           time.Now,
	}
}

// Lookup returns the state recorded for identity.  An entry whose age exceeds
// the TTL is evicted as a side effect and reported as absent.
func (c *Cache) Lookup(identity string) (event.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[identity]
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.Timestamp) > c.ttl {
		delete(c.entries, identity)
		return 0, false
	}
	return e.State, true
}

// MarkProcessing records that identity's event is in flight.
func (c *Cache) MarkProcessing(identity string) {
	c.put(identity, event.StateProcessing, nil, "")
}

// MarkCompleted records a successful terminal outcome for identity.
func (c *Cache) MarkCompleted(identity string, result json.RawMessage) {
	c.put(identity, event.StateCompleted, result, "")
}

// MarkFailed records a terminal failure for identity.
func (c *Cache) MarkFailed(identity string, errMsg string) {
	c.put(identity, event.StateFailed, nil, errMsg)
}

func (c *Cache) put(identity string, state event.State, result json.RawMessage, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity] = &event.Entry{
		Identity:  identity,
		Timestamp: c.now(),
		State:     state,
		Result:    result,
		Error:     errMsg,
	}
}

// ForceClear unconditionally removes identity's entry, allowing the next
// enqueue of that identity to be accepted.  It reports whether an entry was
// present.
func (c *Cache) ForceClear(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[identity]
	delete(c.entries, identity)
	return ok
}

// EvictExpired removes every entry older than the TTL and returns the number
// evicted.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	evicted := 0
	for id, e := range c.entries {
		if e.Timestamp.Before(cutoff) {
			delete(c.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		c.logger.Debug("evicted expired idempotency entries", logging.Int("count", evicted))
	}
	return evicted
}

// CountByState returns the number of entries per state wire string.
func (c *Cache) CountByState() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int, 3)
	for _, e := range c.entries {
		counts[e.State.String()]++
	}
	return counts
}

// Len returns the current number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Recent returns up to limit entry snapshots, newest first.  A non-positive
// limit returns all entries.
func (c *Cache) Recent(limit int) []event.EntrySnapshot {
	c.mu.Lock()
	snaps := make([]event.EntrySnapshot, 0, len(c.entries))
	for _, e := range c.entries {
		snaps = append(snaps, event.EntrySnapshot{
			Identity:  e.Identity,
			State:     e.State.String(),
			Timestamp: e.Timestamp,
			Error:     e.Error,
		})
	}
	c.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.After(snaps[j].Timestamp)
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps
}

// StartSweeper launches the periodic eviction sweep.  Calling it twice is a
// no-op until StopSweeper has been called.
func (c *Cache) StartSweeper() {
	c.mu.Lock()
	if c.sweepStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.sweepStop = stop
	c.sweepDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.EvictExpired()
			case <-stop:
				return
			}
		}
	}()
}

// StopSweeper halts the periodic sweep and waits for the sweeper goroutine to
// exit.  Safe to call when the sweeper was never started.
func (c *Cache) StopSweeper() {
	c.mu.Lock()
	stop := c.sweepStop
	done := c.sweepDone
	c.sweepStop = nil
	c.sweepDone = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
