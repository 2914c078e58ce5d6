// Package kafka adapts the pipeline's log ports to Kafka: a publisher with a
// bounded local buffer, a consumer-group reader, and a dead-letter producer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
)

// flushBatchSize bounds how long the publisher lock is held per flush round.
const flushBatchSize = 256

// MessageWriter is the slice of kafka-go's Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// PublisherConfig configures the event publisher.
type PublisherConfig struct {
	PricesTopic   string
	NewsTopic     string
	BufferSize    int
	FlushInterval time.Duration
}

// Publisher appends events to the partitioned log, keyed by symbol. While
// the broker is unreachable events queue in a bounded local buffer in FIFO
// order; when the buffer fills, the oldest event is evicted. A background
// flusher drains the buffer once the broker recovers.
type Publisher struct {
	cfg     PublisherConfig
	writer  MessageWriter
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger

	mu       sync.Mutex
	queue    *pendingQueue
	degraded bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPublisher builds a publisher over a real Kafka writer.
func NewPublisher(cfg PublisherConfig, brokers []string, m *metrics.PipelineMetrics, logger *slog.Logger) *Publisher {
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               SymbolBalancer{},
		RequiredAcks:           kafkago.RequireAll,
		MaxAttempts:            3,
		BatchTimeout:           50 * time.Millisecond,
		Compression:            kafkago.Gzip,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(cfg, writer, m, logger)
}

func newPublisher(cfg PublisherConfig, writer MessageWriter, m *metrics.PipelineMetrics, logger *slog.Logger) *Publisher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Publisher{
		cfg:     cfg,
		writer:  writer,
		metrics: m,
		logger:  logger.With("component", "publisher"),
		queue:   newPendingQueue(cfg.BufferSize),
	}
}

// Start launches the background flusher.
func (p *Publisher) Start(ctx context.Context) error {
	if p.done != nil {
		return errors.New("publisher already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.flushLoop(loopCtx)
	return nil
}

// Stop halts the flusher, attempts one final drain and closes the writer.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.done != nil {
		p.cancel()
		<-p.done
	}
	p.flushOnce(ctx)

	p.mu.Lock()
	left := p.queue.len()
	p.mu.Unlock()
	if left > 0 {
		p.logger.Error("stopping with unflushed events", "count", left)
	}

	if closer, ok := p.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Publish appends one event to the log. It reports PublishAcked when the
// broker confirmed the write and PublishBuffered when the event was parked
// locally. The returned error is non-nil only for events that fail
// validation or encoding; broker trouble buffers instead of erroring.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) (domain.PublishStatus, error) {
	if err := event.Validate(); err != nil {
		return domain.PublishAcked, fmt.Errorf("refusing to publish invalid event: %w", err)
	}
	value, err := domain.EncodeEvent(event)
	if err != nil {
		return domain.PublishAcked, err
	}
	msg := kafkago.Message{
		Topic: p.topicFor(event.Source),
		Key:   []byte(event.Symbol),
		Value: value,
		Time:  event.IngestTime,
	}

	p.mu.Lock()
	// Anything already queued must leave first, or per-key order breaks.
	if p.degraded || p.queue.len() > 0 {
		p.enqueueLocked(msg)
		p.mu.Unlock()
		return domain.PublishBuffered, nil
	}
	p.mu.Unlock()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("broker write failed, buffering", "topic", msg.Topic, "error", err)
		p.mu.Lock()
		p.degraded = true
		p.enqueueLocked(msg)
		p.mu.Unlock()
		return domain.PublishBuffered, nil
	}

	p.metrics.PublishedTotal.WithLabelValues(msg.Topic).Inc()
	return domain.PublishAcked, nil
}

func (p *Publisher) topicFor(source domain.Source) string {
	if source == domain.SourceNews {
		return p.cfg.NewsTopic
	}
	return p.cfg.PricesTopic
}

func (p *Publisher) enqueueLocked(msg kafkago.Message) {
	if evicted, dropped := p.queue.push(msg); dropped {
		p.metrics.PublishDroppedTotal.Inc()
		p.logger.Warn("publish buffer full, dropping oldest event",
			"topic", evicted.Topic, "key", string(evicted.Key))
	}
	p.metrics.PublishBufferedTotal.Inc()
	p.metrics.PublishBufferSize.Set(float64(p.queue.len()))
}

func (p *Publisher) flushLoop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flushOnce(ctx)
		}
	}
}

// flushOnce drains the buffer in FIFO batches until it is empty or a write
// fails. The lock is held across each batch write so a concurrent Publish
// cannot evict entries that are in flight.
func (p *Publisher) flushOnce(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.queue.len() == 0 {
			if p.degraded {
				p.degraded = false
				p.logger.Info("publish buffer drained, broker healthy again")
			}
			p.mu.Unlock()
			return
		}

		batch := p.queue.peek(flushBatchSize)
		if err := p.writer.WriteMessages(ctx, batch...); err != nil {
			p.mu.Unlock()
			p.logger.Debug("buffer flush attempt failed", "queued", len(batch), "error", err)
			return
		}
		p.queue.drop(len(batch))
		p.metrics.PublishBufferSize.Set(float64(p.queue.len()))
		p.mu.Unlock()

		for _, msg := range batch {
			p.metrics.PublishedTotal.WithLabelValues(msg.Topic).Inc()
		}
	}
}

// Ping dials the first reachable broker to verify connectivity at startup.
func Ping(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("no broker reachable: %w", lastErr)
}
