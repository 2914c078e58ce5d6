package kafka

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/user/market-ingestor/internal/adapter/deadletter"
	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
)

// DeadLetterProducer routes poison records to the dead-letter topic. The
// record value travels unmodified; provenance and failure context ride in
// headers. If the broker itself is down the entry lands in the local journal
// instead, so no poison record is ever lost silently.
type DeadLetterProducer struct {
	writer  MessageWriter
	topic   string
	journal *deadletter.Journal
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger
}

func NewDeadLetterProducer(brokers []string, topic string, journal *deadletter.Journal, m *metrics.PipelineMetrics, logger *slog.Logger) *DeadLetterProducer {
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafkago.RequireAll,
		MaxAttempts:            3,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	// The topic lives on the writer; kafka-go rejects messages that set it
	// in both places, so Send leaves msg.Topic empty here.
	return newDeadLetterProducer(writer, "", journal, m, logger)
}

func newDeadLetterProducer(writer MessageWriter, topic string, journal *deadletter.Journal, m *metrics.PipelineMetrics, logger *slog.Logger) *DeadLetterProducer {
	return &DeadLetterProducer{
		writer:  writer,
		topic:   topic,
		journal: journal,
		metrics: m,
		logger:  logger.With("component", "dead_letter"),
	}
}

func provenanceHeaders(originTopic string, partition int, offset int64, reason, cause string, failedAt time.Time) []kafkago.Header {
	return []kafkago.Header{
		{Key: "origin-topic", Value: []byte(originTopic)},
		{Key: "origin-partition", Value: []byte(strconv.Itoa(partition))},
		{Key: "origin-offset", Value: []byte(strconv.FormatInt(offset, 10))},
		{Key: "reason", Value: []byte(reason)},
		{Key: "error", Value: []byte(cause)},
		{Key: "failed-at", Value: []byte(failedAt.Format(time.RFC3339))},
	}
}

// Send delivers rec to the dead-letter channel. An error means neither the
// topic nor the journal accepted it and the caller must not advance past rec.
func (d *DeadLetterProducer) Send(ctx context.Context, rec domain.Record, reason string, cause error) error {
	failedAt := time.Now().UTC()
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}

	msg := kafkago.Message{
		Topic:   d.topic,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: provenanceHeaders(rec.Topic, rec.Partition, rec.Offset, reason, causeText, failedAt),
	}

	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		d.logger.Error("dead-letter topic unreachable, journaling entry",
			"origin_topic", rec.Topic, "origin_offset", rec.Offset, "reason", reason, "error", err)
		if d.journal == nil {
			return err
		}
		if jerr := d.journal.Append(ctx, deadletter.Entry{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       string(rec.Key),
			Value:     rec.Value,
			Reason:    reason,
			Error:     causeText,
			FailedAt:  failedAt,
		}); jerr != nil {
			return jerr
		}
	}

	d.metrics.DeadLettersTotal.WithLabelValues(reason).Inc()
	d.logger.Warn("record dead-lettered",
		"origin_topic", rec.Topic, "origin_partition", rec.Partition,
		"origin_offset", rec.Offset, "reason", reason)
	return nil
}

// ReplayJournal pushes journaled entries to the dead-letter topic, oldest
// first, and clears the journal once every entry delivers. Replay stops at
// the first write failure; entries already delivered may repeat on the next
// attempt, which dead-letter consumers must tolerate anyway.
func (d *DeadLetterProducer) ReplayJournal(ctx context.Context) (int, error) {
	if d.journal == nil {
		return 0, nil
	}

	count := 0
	err := d.journal.Replay(ctx, func(e deadletter.Entry) error {
		msg := kafkago.Message{
			Topic:   d.topic,
			Key:     []byte(e.Key),
			Value:   e.Value,
			Headers: provenanceHeaders(e.Topic, e.Partition, e.Offset, e.Reason, e.Error, e.FailedAt),
		}
		if err := d.writer.WriteMessages(ctx, msg); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	if count > 0 {
		if err := d.journal.Truncate(ctx); err != nil {
			return count, err
		}
		d.logger.Info("replayed journaled dead letters to topic", "count", count)
	}
	return count, nil
}
