// Package kafka ingests sync events from Kafka topics into the ordered event
// queue.  Message bodies carry an Envelope; malformed bodies are logged and
// committed so one bad message never wedges the partition.
package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/syncbridge/syncbridge/internal/application/events"
	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
	"github.com/syncbridge/syncbridge/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "ingest consumer already running")
)

// Envelope is the wire shape of an ingested event.  Identity is optional;
// messages without one get a generated identity and therefore bypass
// duplicate suppression.
type Envelope struct {
	Identity string          `json:"identity"`
	Category string          `json:"category"`
	Source   string          `json:"source"`
	Payload  json.RawMessage `json:"payload"`
}

// Enqueuer is the queue surface the consumer feeds.
type Enqueuer interface {
	Enqueue(identity string, payload json.RawMessage, category, source string) events.EnqueueResult
}

// Reader abstracts kafka.Reader so tests can drive the loop with canned
// messages.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// IngestStats counts consumer activity.
type IngestStats struct {
	Fetched   atomic.Int64
	Enqueued  atomic.Int64
	Rejected  atomic.Int64
	Malformed atomic.Int64
}

// Consumer runs the fetch-decode-enqueue-commit loop.
type Consumer struct {
	reader Reader
	queue  Enqueuer
	logger logging.Logger
	stats  IngestStats

	// mu guards the lifecycle fields so Stop never observes a half-started
	// consumer.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer builds a Consumer against a real kafka.Reader from the given
// config.
func NewConsumer(cfg config.KafkaConfig, queue Enqueuer, logger logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.InvalidParam("kafka brokers are required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.InvalidParam("kafka topics are required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    kafka.FirstOffset,
	})
	return NewConsumerWithReader(reader, queue, logger), nil
}

// NewConsumerWithReader wires an explicit Reader; used by tests.
func NewConsumerWithReader(reader Reader, queue Enqueuer, logger logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Consumer{
		reader: reader,
		queue:  queue,
		logger: logger.Named("kafka.ingest"),
	}
}

// Start launches the consume loop.  It returns ErrAlreadyRunning on a second
// call while the loop is live.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.consumeLoop(ctx)

	c.logger.Info("ingest consumer started")
	return nil
}

// Stop cancels the loop, waits for it to drain, and closes the reader.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	return c.reader.Close()
}

// Stats exposes the live counters.
func (c *Consumer) Stats() *IngestStats {
	return &c.stats
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch failed", logging.Err(err))
			time.Sleep(time.Second)
			continue
		}
		c.stats.Fetched.Add(1)

		c.handleMessage(m)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("commit failed",
				logging.String("topic", m.Topic),
				logging.Int64("offset", m.Offset),
				logging.Err(err))
		}
	}
}

// handleMessage decodes one message and hands it to the queue.  Rejections
// (duplicate, already queued) are expected traffic and logged at debug.
func (c *Consumer) handleMessage(m kafka.Message) {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		c.stats.Malformed.Add(1)
		c.logger.Warn("malformed envelope dropped",
			logging.String("topic", m.Topic),
			logging.Int64("offset", m.Offset),
			logging.Err(err))
		return
	}

	identity := env.Identity
	if identity == "" {
		if len(m.Key) > 0 {
			identity = string(m.Key)
		} else {
			identity = uuid.NewString()
		}
	}
	source := env.Source
	if source == "" {
		source = m.Topic
	}

	res := c.queue.Enqueue(identity, env.Payload, env.Category, source)
	if res.Queued {
		c.stats.Enqueued.Add(1)
		c.logger.Debug("event ingested",
			logging.String("identity", identity),
			logging.Int("position", res.Position))
		return
	}
	c.stats.Rejected.Add(1)
	c.logger.Debug("event rejected",
		logging.String("identity", identity),
		logging.String("reason", res.Reason))
}
