package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/domain/event"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
	"github.com/syncbridge/syncbridge/internal/reliability"
)

// Enqueue rejection reasons reported to callers.
const (
	ReasonDuplicate     = "duplicate"
	ReasonAlreadyQueued = "already_queued"
	ReasonNoProcessor   = "no_processor"
	ReasonEmptyIdentity = "empty_identity"
	ReasonClosed        = "closed"
)

// Processor is the single registered processing callback.  It receives the
// queued record and returns an opaque result on success.  Failures must be
// returned as *errors.AppError values so classification stays structural;
// plain errors are conservatively treated as unknown transients.
type Processor func(ctx context.Context, rec event.Record) (json.RawMessage, error)

// EnqueueResult reports the outcome of an Enqueue call.
type EnqueueResult struct {
	Queued bool `json:"queued"`
	// Reason is set when Queued is false.
	Reason string `json:"reason,omitempty"`
	// Position is the 1-based queue position when Queued is true.
	Position int `json:"position,omitempty"`
}

// Status is the point-in-time snapshot returned by Queue.Status.
type Status struct {
	QueueLength  int                 `json:"queue_length"`
	IsProcessing bool                `json:"is_processing"`
	CacheSize    int                 `json:"cache_size"`
	CacheStates  map[string]int      `json:"cache_states"`
	Uptime       string              `json:"uptime"`
	Stats        event.Stats         `json:"stats"`
	PendingItems []event.PendingItem `json:"pending_items"`
}

// Metrics is the observation hook the queue reports into.  The Prometheus
// implementation lives in internal/infrastructure/monitoring/prometheus;
// NewNopMetrics is used in tests.
type Metrics interface {
	EventEnqueued(result string)
	EventProcessed(status string, duration time.Duration)
	EventRetried()
	SetQueueDepth(n int)
	SetCacheSize(n int)
}

type nopMetrics struct{}

func (nopMetrics) EventEnqueued(string)                 {}
func (nopMetrics) EventProcessed(string, time.Duration) {}
func (nopMetrics) EventRetried()                        {}
func (nopMetrics) SetQueueDepth(int)                    {}
func (nopMetrics) SetCacheSize(int)                     {}

// NewNopMetrics returns a Metrics implementation that discards everything.
func NewNopMetrics() Metrics { return nopMetrics{} }

// Queue is the ordered event queue with a single sequential consumer.
//
// Only one event is ever in flight: the consumer goroutine drains the queue
// head by head, bounding load on the downstream service and preserving
// arrival order.  The consumer starts on demand from Enqueue and goes idle
// when the queue empties.  Identity reservation — the idempotency-cache check
// plus the queue-membership check plus the append — happens under one lock,
// so duplicate delivery can never admit two live records for one identity.
type Queue struct {
	mu        sync.Mutex
	items     []*event.Record
	processor Processor
	consuming bool
	closed    bool
	stats     event.Stats

	cache     *Cache
	cfg       config.QueueConfig
	logger    logging.Logger
	metrics   Metrics
	startedAt time.Time

	consumerWg sync.WaitGroup

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewQueue constructs a Queue over the given idempotency cache.  A nil
// metrics hook is replaced by the no-op implementation.
func NewQueue(cfg config.QueueConfig, cache *Cache, logger logging.Logger, metrics Metrics) *Queue {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	return &Queue{
		cache:     cache,
		cfg:       cfg,
		logger:    logger.Named("queue"),
		metrics:   metrics,
		startedAt: time.Now(),
		sleep:     time.Sleep,
	}
}

// SetProcessor registers the single processing callback.  It must be called
// before the first Enqueue; later calls replace the callback for subsequent
// events.
func (q *Queue) SetProcessor(p Processor) {
	q.mu.Lock()
	q.processor = p
	q.mu.Unlock()
}

// Enqueue appends an event unless its identity is a duplicate delivery.
//
// The call rejects with ReasonDuplicate when the idempotency cache holds a
// live Processing or Completed entry for the identity, and with
// ReasonAlreadyQueued when a record with the same identity already sits in
// the queue.  A failed identity (terminal Failed entry) may be enqueued
// again.  On acceptance the 1-based queue position is returned and, if no
// consumer is active, one is started.
func (q *Queue) Enqueue(identity string, payload json.RawMessage, category, source string) EnqueueResult {
	if identity == "" {
		q.metrics.EventEnqueued(ReasonEmptyIdentity)
		return EnqueueResult{Queued: false, Reason: ReasonEmptyIdentity}
	}

	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		q.metrics.EventEnqueued(ReasonClosed)
		return EnqueueResult{Queued: false, Reason: ReasonClosed}
	}
	if q.processor == nil {
		q.mu.Unlock()
		q.logger.Error("enqueue before processor registration", logging.String("identity", identity))
		q.metrics.EventEnqueued(ReasonNoProcessor)
		return EnqueueResult{Queued: false, Reason: ReasonNoProcessor}
	}

	q.stats.Total++

	if st, ok := q.cache.Lookup(identity); ok &&
		(st == event.StateProcessing || st == event.StateCompleted) {
		q.stats.Duplicates++
		q.mu.Unlock()
		q.metrics.EventEnqueued(ReasonDuplicate)
		return EnqueueResult{Queued: false, Reason: ReasonDuplicate}
	}

	for _, rec := range q.items {
		if rec.Identity == identity {
			q.stats.Duplicates++
			q.mu.Unlock()
			q.metrics.EventEnqueued(ReasonAlreadyQueued)
			return EnqueueResult{Queued: false, Reason: ReasonAlreadyQueued}
		}
	}

	q.items = append(q.items, &event.Record{
		Identity:   identity,
		Payload:    payload,
		Category:   category,
		Source:     source,
		EnqueuedAt: time.Now(),
	})
	position := len(q.items)

	start := false
	if !q.consuming {
		q.consuming = true
		start = true
	}
	q.mu.Unlock()

	q.metrics.EventEnqueued("queued")
	q.metrics.SetQueueDepth(position)

	if start {
		q.consumerWg.Add(1)
		go q.consume()
	}

	return EnqueueResult{Queued: true, Position: position}
}

// consume is the single consumer loop.  At most one instance runs at a time;
// it exits when the queue empties or the queue is closed.
func (q *Queue) consume() {
	defer q.consumerWg.Done()
	log := q.logger.Named("consumer")

	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.consuming = false
			q.mu.Unlock()
			return
		}
		rec := q.items[0]
		q.mu.Unlock()

		q.cache.MarkProcessing(rec.Identity)
		q.metrics.SetCacheSize(q.cache.Len())

		started := time.Now()
		result, err := q.processor(context.Background(), *rec)
		elapsed := time.Since(started)

		decision := reliability.Classify(err)
		switch {
		case err == nil:
			q.cache.MarkCompleted(rec.Identity, result)
			q.removeHead(rec)
			q.mu.Lock()
			q.stats.Processed++
			q.mu.Unlock()
			q.metrics.EventProcessed("completed", elapsed)
			log.Debug("event completed",
				logging.String("identity", rec.Identity),
				logging.Duration("took", elapsed))

		case decision.Retryable && rec.Attempt < q.cfg.MaxRetries:
			q.mu.Lock()
			rec.Attempt++
			q.stats.Retries++
			q.mu.Unlock()
			q.metrics.EventRetried()

			delay := reliability.RetryDelay(rec.Attempt, q.cfg.BaseBackoff, q.cfg.MaxBackoff, decision)
			// Clear the entry so status reads as retry-wait rather than a
			// terminal state while the record waits at the head.
			q.cache.ForceClear(rec.Identity)
			log.Warn("event retry scheduled",
				logging.String("identity", rec.Identity),
				logging.Int("attempt", rec.Attempt),
				logging.Duration("delay", delay),
				logging.Err(err))
			q.sleep(delay)
			continue

		default:
			q.cache.MarkFailed(rec.Identity, err.Error())
			q.removeHead(rec)
			q.mu.Lock()
			q.stats.Failed++
			q.mu.Unlock()
			q.metrics.EventProcessed("failed", elapsed)
			log.Error("event failed terminally",
				logging.String("identity", rec.Identity),
				logging.Int("attempt", rec.Attempt),
				logging.Err(err))
		}

		q.metrics.SetCacheSize(q.cache.Len())

		// Fixed pacing between events protects the downstream service from
		// back-to-back calls even absent throttling signals.
		q.mu.Lock()
		remaining := len(q.items)
		q.mu.Unlock()
		q.metrics.SetQueueDepth(remaining)
		if remaining > 0 {
			q.sleep(q.cfg.MinInterRequestDelay)
		}
	}
}

func (q *Queue) removeHead(rec *event.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 && q.items[0] == rec {
		q.items = q.items[1:]
	}
}

// Status returns a point-in-time snapshot of the pipeline.
func (q *Queue) Status() Status {
	q.mu.Lock()
	pending := make([]event.PendingItem, 0, len(q.items))
	for _, rec := range q.items {
		pending = append(pending, event.PendingItem{
			Identity:   rec.Identity,
			EnqueuedAt: rec.EnqueuedAt,
			Attempt:    rec.Attempt,
		})
	}
	st := Status{
		QueueLength:  len(q.items),
		IsProcessing: q.consuming,
		Uptime:       time.Since(q.startedAt).Round(time.Second).String(),
		Stats:        q.stats,
		PendingItems: pending,
	}
	q.mu.Unlock()

	st.CacheSize = q.cache.Len()
	st.CacheStates = q.cache.CountByState()
	return st
}

// Recent returns up to limit idempotency entries, newest first.
func (q *Queue) Recent(limit int) []event.EntrySnapshot {
	return q.cache.Recent(limit)
}

// ForceReprocess clears the cache entry for identity so that the next
// Enqueue of that identity is accepted.  It reports whether an entry existed.
func (q *Queue) ForceReprocess(identity string) bool {
	cleared := q.cache.ForceClear(identity)
	if cleared {
		q.logger.Info("idempotency entry cleared for reprocessing",
			logging.String("identity", identity))
	}
	return cleared
}

// Close stops accepting events and waits for the in-flight event (if any) to
// resolve, or for ctx to expire.  Records still queued are abandoned; they
// were never acknowledged as processed.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
