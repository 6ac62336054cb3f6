package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/metrics"
	"github.com/prohmpiriya/cinehub-booking/pkg/kafka"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/prohmpiriya/cinehub-booking/pkg/retry"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrRecordNotSettled is returned when a record was neither handled nor
// dead-lettered. Its offset is not committed and later records of the same
// partition are skipped until the partition is consumed again.
var ErrRecordNotSettled = errors.New("record not settled")

type partitionKey struct {
	topic     string
	partition int32
}

// Source is a committing record source, satisfied by *kafka.Consumer
type Source interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
	Close()
}

// Config contains configuration for the event consumer
type Config struct {
	WorkerCount   int
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:   8,
		MaxRetries:    3,
		RetryInterval: 500 * time.Millisecond,
	}
}

// Consumer polls the saga topics and feeds them to the router. Records of
// one partition always go to the same worker, so per-booking order holds.
type Consumer struct {
	source Source
	router *Router
	dlq    retry.DLQPublisher
	config *Config
	retry  *retry.Config
	logger *logger.Logger

	wg         sync.WaitGroup
	stopCh     chan struct{}
	cancelPoll context.CancelFunc
	mu         sync.RWMutex
	running    bool
}

// New creates a new event consumer
func New(source Source, router *Router, dlq retry.DLQPublisher, cfg *Config, log *logger.Logger) *Consumer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}
	if dlq == nil {
		dlq = retry.NoOpDLQPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{
		source: source,
		router: router,
		dlq:    dlq,
		config: cfg,
		retry: &retry.Config{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.RetryInterval,
			MaxInterval:     10 * cfg.RetryInterval,
			Multiplier:      2,
			JitterFactor:    0.1,
		},
		logger: log,
		stopCh: make(chan struct{}),
	}
}

// Start starts the poll loop and the workers
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancelPoll = cancel
	c.mu.Unlock()

	c.logger.Info(fmt.Sprintf("Starting event consumer with %d workers...", c.config.WorkerCount))

	channels := make([]chan *kafka.Record, c.config.WorkerCount)
	for i := range channels {
		channels[i] = make(chan *kafka.Record, 64)
		c.wg.Add(1)
		go c.worker(ctx, i, channels[i])
	}

	// workers keep ctx so in-flight records finish after Stop
	c.wg.Add(1)
	go c.poll(pollCtx, channels)

	return nil
}

func (c *Consumer) poll(ctx context.Context, channels []chan *kafka.Record) {
	defer c.wg.Done()
	defer func() {
		for _, ch := range channels {
			close(ch)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping poll...")
			return
		case <-c.stopCh:
			c.logger.Info("Consumer stop signal received, stopping poll...")
			return
		default:
		}

		records, err := c.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error(fmt.Sprintf("Failed to poll records: %v", err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
			continue
		}

		for _, record := range records {
			ch := channels[int(record.Partition)%len(channels)]
			select {
			case ch <- record:
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}
}

func (c *Consumer) worker(ctx context.Context, id int, records <-chan *kafka.Record) {
	defer c.wg.Done()

	c.logger.Debug(fmt.Sprintf("Worker %d started", id))
	// a partition whose record could not be settled must not commit past it
	halted := make(map[partitionKey]bool)
	for record := range records {
		key := partitionKey{topic: record.Topic, partition: record.Partition}
		if halted[key] {
			continue
		}
		if err := c.Process(ctx, record); err != nil {
			if errors.Is(err, ErrRecordNotSettled) {
				halted[key] = true
			}
			c.logger.Error(fmt.Sprintf("Worker %d failed to process record: %v", id, err),
				zap.String("topic", record.Topic),
				zap.Int32("partition", record.Partition),
				zap.Int64("offset", record.Offset),
			)
		}
	}
	c.logger.Debug(fmt.Sprintf("Worker %d stopped", id))
}

// Process handles one record and commits it unless it has to be redelivered.
// Transient failures are retried, then parked on the dead letter topic.
// Everything else is dropped. While the dead letter topic is unreachable the
// record is redelivered with backoff and nothing is committed, so Process only
// returns ErrRecordNotSettled once ctx is done or the consumer stops.
func (c *Consumer) Process(ctx context.Context, record *kafka.Record) error {
	ctx = telemetry.ExtractHeaders(ctx, record.Headers)
	ctx, span := telemetry.StartSpan(ctx, "consumer.process")
	defer span.End()

	span.SetAttributes(
		attribute.String("topic", record.Topic),
		attribute.Int64("offset", record.Offset),
		attribute.String("key", string(record.Key)),
	)

	backoff := c.retry.InitialInterval
	for redeliveries := 0; ; redeliveries++ {
		err := c.settle(ctx, span, record)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrRecordNotSettled, ctx.Err())
		}

		c.logger.ErrorContext(ctx, fmt.Sprintf("Redelivering %s record at offset %d in %s", record.Topic, record.Offset, backoff),
			zap.String("key", string(record.Key)),
			zap.Int("redeliveries", redeliveries),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrRecordNotSettled, err)
		case <-c.stopCh:
			return fmt.Errorf("%w: %w", ErrRecordNotSettled, err)
		}
		backoff = min(2*backoff, c.retry.MaxInterval)
	}

	return c.source.CommitRecords(ctx, []*kafka.Record{record})
}

// settle runs the handler with retries. A nil result means the record may be
// committed.
func (c *Consumer) settle(ctx context.Context, span trace.Span, record *kafka.Record) error {
	res := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		err := c.router.Route(ctx, record.Topic, record.Value)
		if err == nil || domain.IsDependencyUnavailable(err) {
			return err
		}
		return retry.Permanent(err)
	})

	switch {
	case res.Err == nil:
		metrics.EventsProcessed.Inc(ctx, attribute.String("topic", record.Topic), attribute.String("result", "ok"))

	case errors.Is(res.Err, retry.ErrContextCanceled):
		return res.Err

	case errors.Is(res.Err, retry.ErrMaxRetriesExceeded):
		telemetry.RecordError(span, res.LastError)
		if err := c.deadLetter(ctx, record, res); err != nil {
			return fmt.Errorf("failed to dead-letter record: %w", err)
		}

	default:
		metrics.EventsProcessed.Inc(ctx, attribute.String("topic", record.Topic), attribute.String("result", "dropped"))
		c.logDropped(ctx, record, res.Err)
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, record *kafka.Record, res *retry.Result) error {
	msg := &retry.DLQMessage{
		ID:            uuid.New().String(),
		OriginalTopic: record.Topic,
		OriginalKey:   string(record.Key),
		Payload:       record.Value,
		Headers:       record.Headers,
		Error:         res.LastError.Error(),
		Attempts:      res.Attempts,
	}
	if err := c.dlq.PublishToDLQ(ctx, msg); err != nil {
		return err
	}

	metrics.EventsDeadLettered.Inc(ctx, attribute.String("topic", record.Topic))
	c.logger.ErrorContext(ctx, fmt.Sprintf("Moved %s record to %s after %d attempts", record.Topic, retry.DLQTopic(record.Topic), res.Attempts),
		zap.String("key", string(record.Key)),
		zap.Error(res.LastError),
	)
	return nil
}

func (c *Consumer) logDropped(ctx context.Context, record *kafka.Record, err error) {
	fields := []zap.Field{
		zap.String("topic", record.Topic),
		zap.String("key", string(record.Key)),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, ErrMalformed):
		c.logger.ErrorContext(ctx, "Dropping malformed event", fields...)
	case domain.IsConflict(err), domain.IsNotFound(err), domain.IsInvariantViolation(err):
		c.logger.WarnContext(ctx, fmt.Sprintf("Dropping %s event", record.Topic), fields...)
	default:
		c.logger.ErrorContext(ctx, fmt.Sprintf("Dropping %s event after permanent failure", record.Topic), fields...)
	}
}

// Stop stops polling, drains the workers and closes the source
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.logger.Info("Stopping event consumer...")

	close(c.stopCh)
	c.cancelPoll()
	c.wg.Wait()
	c.source.Close()

	c.logger.Info("Event consumer stopped")
	return nil
}

// IsRunning returns whether the consumer is running
func (c *Consumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
