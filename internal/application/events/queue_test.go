package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/domain/event"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
	"github.com/syncbridge/syncbridge/pkg/errors"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		CacheTTL:             time.Hour,
		SweepInterval:        time.Minute,
		MinInterRequestDelay: time.Millisecond,
		MaxRetries:           5,
		BaseBackoff:          time.Second,
		MaxBackoff:           time.Minute,
	}
}

// newTestQueue returns a queue whose sleeps are recorded instead of executed,
// so retry scenarios run instantly and the requested delays stay observable.
func newTestQueue(cfg config.QueueConfig) (*Queue, *Cache, *[]time.Duration) {
	cache := NewCache(cfg.CacheTTL, cfg.SweepInterval, logging.NewNopLogger())
	q := NewQueue(cfg, cache, logging.NewNopLogger(), nil)

	var mu sync.Mutex
	var slept []time.Duration
	q.sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	return q, cache, &slept
}

func waitForIdle(t *testing.T, q *Queue) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := q.Status()
		return !st.IsProcessing && st.QueueLength == 0
	}, 2*time.Second, time.Millisecond)
}

func TestEnqueue_RequiresProcessor(t *testing.T) {
	q, _, _ := newTestQueue(testQueueConfig())
	res := q.Enqueue("e1", nil, "order", "shop")
	assert.False(t, res.Queued)
	assert.Equal(t, ReasonNoProcessor, res.Reason)
}

func TestEnqueue_RejectsEmptyIdentity(t *testing.T) {
	q, _, _ := newTestQueue(testQueueConfig())
	q.SetProcessor(func(context.Context, event.Record) (json.RawMessage, error) { return nil, nil })
	res := q.Enqueue("", nil, "order", "shop")
	assert.False(t, res.Queued)
	assert.Equal(t, ReasonEmptyIdentity, res.Reason)
}

func TestQueue_ProcessesSingleEventToCompletion(t *testing.T) {
	q, cache, _ := newTestQueue(testQueueConfig())

	var got event.Record
	q.SetProcessor(func(_ context.Context, rec event.Record) (json.RawMessage, error) {
		got = rec
		return json.RawMessage(`{"synced":true}`), nil
	})

	res := q.Enqueue("e1", json.RawMessage(`{"sku":"A-1"}`), "product", "shop")
	require.True(t, res.Queued)
	assert.Equal(t, 1, res.Position)

	waitForIdle(t, q)

	assert.Equal(t, "e1", got.Identity)
	assert.Equal(t, "product", got.Category)
	assert.Equal(t, "shop", got.Source)

	st, ok := cache.Lookup("e1")
	require.True(t, ok)
	assert.Equal(t, event.StateCompleted, st)

	stats := q.Status().Stats
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 1, stats.Processed)
	assert.EqualValues(t, 0, stats.Failed)
	assert.EqualValues(t, 0, stats.Retries)
}

func TestEnqueue_DuplicateWhileCompleted(t *testing.T) {
	q, _, _ := newTestQueue(testQueueConfig())
	q.SetProcessor(func(context.Context, event.Record) (json.RawMessage, error) { return nil, nil })

	require.True(t, q.Enqueue("e1", nil, "order", "shop").Queued)
	waitForIdle(t, q)

	res := q.Enqueue("e1", nil, "order", "shop")
	assert.False(t, res.Queued)
	assert.Equal(t, ReasonDuplicate, res.Reason)
	assert.EqualValues(t, 1, q.Status().Stats.Duplicates)
}

func TestEnqueue_AlreadyQueuedWhileWaiting(t *testing.T) {
	q, _, _ := newTestQueue(testQueueConfig())

	gate := make(chan struct{})
	q.SetProcessor(func(_ context.Context, rec event.Record) (json.RawMessage, error) {
		if rec.Identity == "blocker" {
			<-gate
		}
		return nil, nil
	})

	// The blocker keeps the consumer busy so G stays queued, not processing.
	require.True(t, q.Enqueue("blocker", nil, "order", "shop").Queued)
	require.True(t, q.Enqueue("G", nil, "order", "shop").Queued)

	res := q.Enqueue("G", nil, "order", "shop")
	assert.False(t, res.Queued)
	assert.Equal(t, ReasonAlreadyQueued, res.Reason)

	close(gate)
	waitForIdle(t, q)
}

func TestQueue_RetryThenSuccess(t *testing.T) {
	cfg := testQueueConfig()
	q, cache, slept := newTestQueue(cfg)

	var calls int
	q.SetProcessor(func(context.Context, event.Record) (json.RawMessage, error) {
		calls++
		if calls <= 3 {
			return nil, errors.RateLimited("throttled", 0)
		}
		return nil, nil
	})

	require.True(t, q.Enqueue("E", nil, "order", "shop").Queued)
	waitForIdle(t, q)

	assert.Equal(t, 4, calls)
	st, ok := cache.Lookup("E")
	require.True(t, ok)
	assert.Equal(t, event.StateCompleted, st)
	assert.EqualValues(t, 3, q.Status().Stats.Retries)

	// Backoff doubles per attempt: base, 2*base, 4*base.
	require.GreaterOrEqual(t, len(*slept), 3)
	assert.Equal(t, cfg.BaseBackoff, (*slept)[0])
	assert.Equal(t, 2*cfg.BaseBackoff, (*slept)[1])
	assert.Equal(t, 4*cfg.BaseBackoff, (*slept)[2])
}

func TestQueue_SuggestedDelayOverridesBackoff(t *testing.T) {
	q, _, slept := newTestQueue(testQueueConfig())

	var calls int
	q.SetProcessor(func(context.Context, event.Record) (json.RawMessage, error) {
		calls++
		if calls == 1 {
			return nil, errors.RateLimited("throttled", 42*time.Second)
		}
		return nil, nil
	})

	require.True(t, q.Enqueue("E", nil, "order", "shop").Queued)
	waitForIdle(t, q)

	require.NotEmpty(t, *slept)
	assert.Equal(t, 42*time.Second, (*slept)[0])
}

func TestQueue_TerminalFailureIsNotRetried(t *testing.T) {
	q, cache, _ := newTestQueue(testQueueConfig())

	var calls int
	q.SetProcessor(func(context.Context, event.Record) (json.RawMessage, error) {
		calls++
		return nil, errors.NotFound("order vanished upstream")
	})

	require.True(t, q.Enqueue("F", nil, "order", "shop").Queued)
	waitForIdle(t, q)

	assert.Equal(t, 1, calls)
	st, ok := cache.Lookup("F")
	require.True(t, ok)
	assert.Equal(t, event.StateFailed, st)

	stats := q.Status().Stats
	assert.EqualValues(t, 0, stats.Retries)
	assert.EqualValues(t, 1, stats.Failed)
}

func TestQueue_RetriesExhaustedEndsFailed(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxRetries = 2
	q, cache, _ := newTestQueue(cfg)

	var calls int
	q.SetProcessor(func(context.Context, event.Record) (json.RawMessage, error) {
		calls++
		return nil, errors.Unavailable("503")
	})

	require.True(t, q.Enqueue("E", nil, "order", "shop").Queued)
	waitForIdle(t, q)

	// Initial attempt plus two retries.
	assert.Equal(t, 3, calls)
	st, ok := cache.Lookup("E")
	require.True(t, ok)
	assert.Equal(t, event.StateFailed, st)
	assert.EqualValues(t, 2, q.Status().Stats.Retries)
}

func TestQueue_PreservesArrivalOrder(t *testing.T) {
	q, _, _ := newTestQueue(testQueueConfig())

	var mu sync.Mutex
	var order []string
	q.SetProcessor(func(_ context.Context, rec event.Record) (json.RawMessage, error) {
		mu.Lock()
		order = append(order, rec.Identity)
		mu.Unlock()
		return nil, nil
	})

	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, q.Enqueue(id, nil, "order", "shop").Queued)
	}
	waitForIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestForceReprocess_AllowsReEnqueue(t *testing.T) {
	q, _, _ := newTestQueue(testQueueConfig())
	q.SetProcessor(func(context.Context, event.Record) (json.RawMessage, error) { return nil, nil })

	require.True(t, q.Enqueue("H", nil, "order", "shop").Queued)
	waitForIdle(t, q)
	require.Equal(t, ReasonDuplicate, q.Enqueue("H", nil, "order", "shop").Reason)

	assert.True(t, q.ForceReprocess("H"))
	assert.False(t, q.ForceReprocess("H"), "entry already cleared")

	res := q.Enqueue("H", nil, "order", "shop")
	assert.True(t, res.Queued)
	waitForIdle(t, q)
}

func TestQueue_TTLExpiryAllowsReEnqueue(t *testing.T) {
	q, cache, _ := newTestQueue(testQueueConfig())
	q.SetProcessor(func(context.Context, event.Record) (json.RawMessage, error) { return nil, nil })

	base := time.Now()
	cache.now = func() time.Time { return base }

	require.True(t, q.Enqueue("I", nil, "order", "shop").Queued)
	waitForIdle(t, q)
	require.Equal(t, ReasonDuplicate, q.Enqueue("I", nil, "order", "shop").Reason)

	cache.now = func() time.Time { return base.Add(25 * time.Hour) }
	res := q.Enqueue("I", nil, "order", "shop")
	assert.True(t, res.Queued)
	waitForIdle(t, q)
}

func TestQueue_StatusReportsPendingItems(t *testing.T) {
	q, _, _ := newTestQueue(testQueueConfig())

	gate := make(chan struct{})
	q.SetProcessor(func(_ context.Context, rec event.Record) (json.RawMessage, error) {
		if rec.Identity == "blocker" {
			<-gate
		}
		return nil, nil
	})

	require.True(t, q.Enqueue("blocker", nil, "order", "shop").Queued)
	require.True(t, q.Enqueue("w1", nil, "order", "shop").Queued)
	require.True(t, q.Enqueue("w2", nil, "client", "erp").Queued)

	st := q.Status()
	assert.Equal(t, 3, st.QueueLength)
	assert.True(t, st.IsProcessing)
	require.Len(t, st.PendingItems, 3)
	assert.Equal(t, "blocker", st.PendingItems[0].Identity)
	assert.Equal(t, "w1", st.PendingItems[1].Identity)
	assert.NotEmpty(t, st.Uptime)

	close(gate)
	waitForIdle(t, q)

	st = q.Status()
	assert.Equal(t, 3, st.CacheStates["completed"])
}

func TestQueue_CloseWaitsForInFlightEvent(t *testing.T) {
	q, _, _ := newTestQueue(testQueueConfig())

	started := make(chan struct{})
	gate := make(chan struct{})
	q.SetProcessor(func(context.Context, event.Record) (json.RawMessage, error) {
		close(started)
		<-gate
		return nil, nil
	})

	require.True(t, q.Enqueue("e1", nil, "order", "shop").Queued)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, q.Close(ctx), "close must not report done while an event is in flight")

	close(gate)
	assert.NoError(t, q.Close(context.Background()))

	res := q.Enqueue("e2", nil, "order", "shop")
	assert.False(t, res.Queued)
	assert.Equal(t, ReasonClosed, res.Reason)
}
