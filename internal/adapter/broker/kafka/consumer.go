package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/user/market-ingestor/internal/domain"
)

// ReaderConfig configures one consumer-group member.
type ReaderConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// Reader is the consumer-group view over the event topics. The group
// coordinator assigns each member a disjoint partition set, so two workers
// never see the same record outside of rebalances.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

func NewReader(cfg ReaderConfig, logger *slog.Logger) *Reader {
	return &Reader{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: cfg.Topics,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     2 * time.Second,
			StartOffset: kafkago.FirstOffset,
			// CommitInterval stays zero: commits are synchronous, the
			// committed offset is the processing boundary.
		}),
		logger: logger.With("component", "event_log_reader"),
	}
}

// Fetch blocks for the next record from this member's partitions without
// committing it.
func (r *Reader) Fetch(ctx context.Context) (domain.Record, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.Record{}, fmt.Errorf("fetch record: %w", err)
	}
	return domain.Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
	}, nil
}

// Commit advances the group's committed position past rec. Kafka only needs
// the record's coordinates, so the original message is not retained.
func (r *Reader) Commit(ctx context.Context, rec domain.Record) error {
	msg := kafkago.Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
	}
	if err := r.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d on %s[%d]: %w", rec.Offset, rec.Topic, rec.Partition, err)
	}
	return nil
}

// Close leaves the consumer group.
func (r *Reader) Close() error {
	return r.reader.Close()
}

// Stats exposes reader lag for health reporting.
func (r *Reader) Stats() kafkago.ReaderStats {
	return r.reader.Stats()
}
