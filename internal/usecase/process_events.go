package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
)

const fetchErrorPause = time.Second

// ProcessEventsUseCase drains the event log: decode, dedup, fan out to every
// sink, commit. A record commits only after all sinks succeed, so a partial
// redelivery can only re-apply idempotent writes. Records that can never
// process, or that exhaust their sink retries, go to the dead letter channel
// and the offset still advances; one poison record must not stall its
// partition.
type ProcessEventsUseCase struct {
	log        domain.EventLog
	dedup      domain.DedupStore
	sinks      []domain.SinkAdapter
	deadLetter domain.DeadLetter
	metrics    *metrics.PipelineMetrics
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
	writeTimeout time.Duration
}

// NewProcessEventsUseCase creates a new ProcessEventsUseCase. maxRetries
// bounds sink retries after the first attempt.
func NewProcessEventsUseCase(
	log domain.EventLog,
	dedup domain.DedupStore,
	sinks []domain.SinkAdapter,
	deadLetter domain.DeadLetter,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
	maxRetries int,
	retryBackoff time.Duration,
	writeTimeout time.Duration,
) *ProcessEventsUseCase {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryBackoff <= 0 {
		retryBackoff = 500 * time.Millisecond
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &ProcessEventsUseCase{
		log:          log,
		dedup:        dedup,
		sinks:        sinks,
		deadLetter:   deadLetter,
		metrics:      m,
		logger:       logger.With("component", "process_events"),
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		writeTimeout: writeTimeout,
	}
}

// Run consumes records until ctx is cancelled or the log closes. Fetch
// errors pause briefly and retry; processing errors withhold the offset so
// the record redelivers rather than vanishing.
func (uc *ProcessEventsUseCase) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rec, err := uc.log.Fetch(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			uc.logger.Warn("fetch from event log failed", "error", err)
			select {
			case <-time.After(fetchErrorPause):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if err := uc.processRecord(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			uc.logger.Error("record unresolved, offset withheld for redelivery",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
		}
	}
}

func (uc *ProcessEventsUseCase) processRecord(ctx context.Context, rec domain.Record) error {
	// 1. Decode and verify the record before touching any sink.
	event, err := domain.DecodeEvent(rec.Value)
	if err != nil {
		return uc.deadLetterAndCommit(ctx, rec, "decode-failure", err)
	}
	if err := event.Validate(); err != nil {
		return uc.deadLetterAndCommit(ctx, rec, "invalid-event", err)
	}
	if identity := event.Identity(); identity != event.ID {
		err := fmt.Errorf("event_id %s does not match identity %s", event.ID, identity)
		return uc.deadLetterAndCommit(ctx, rec, "identity-mismatch", err)
	}

	// 2. Skip events already processed inside the retention window. A dedup
	// outage degrades to processing anyway; the sinks are idempotent.
	seen, err := uc.dedup.Seen(ctx, event.ID)
	if err != nil {
		uc.logger.Warn("dedup store unavailable, relying on sink idempotency",
			"event_id", event.ID, "error", err)
	} else if seen {
		uc.metrics.DedupHitsTotal.Inc()
		uc.metrics.EventsProcessedTotal.WithLabelValues("duplicate").Inc()
		return uc.commit(ctx, rec)
	}

	// 3. Fan out to every sink, retrying with doubled backoff.
	backoff := uc.retryBackoff
	for attempt := 0; ; attempt++ {
		failedSink, err := uc.writeAll(ctx, event)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= uc.maxRetries {
			uc.logger.Error("sink writes exhausted retries",
				"event_id", event.ID, "sink", failedSink, "attempts", attempt+1, "error", err)
			return uc.deadLetterAndCommit(ctx, rec, "sink-failure", err)
		}
		uc.metrics.SinkRetriesTotal.WithLabelValues(failedSink).Inc()
		uc.logger.Warn("sink write failed, retrying",
			"event_id", event.ID, "sink", failedSink, "attempt", attempt+1, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	// 4. Remember the id and advance the offset.
	if err := uc.dedup.Record(ctx, event.ID, event.IngestTime); err != nil {
		uc.logger.Warn("failed to record event id in dedup store",
			"event_id", event.ID, "error", err)
	}
	uc.metrics.EventsProcessedTotal.WithLabelValues("written").Inc()
	return uc.commit(ctx, rec)
}

// writeAll applies the event to every sink in order. All must succeed in the
// same pass before the record may commit; the first failure aborts the pass
// and names the sink for retry accounting.
func (uc *ProcessEventsUseCase) writeAll(ctx context.Context, event domain.Event) (string, error) {
	for _, sink := range uc.sinks {
		wctx, cancel := context.WithTimeout(ctx, uc.writeTimeout)
		res, err := sink.Write(wctx, event)
		cancel()

		uc.metrics.SinkWritesTotal.WithLabelValues(sink.Name(), res.String()).Inc()
		if err != nil {
			return sink.Name(), fmt.Errorf("sink %s: %w", sink.Name(), err)
		}
		if res == domain.SinkFailed {
			return sink.Name(), fmt.Errorf("sink %s reported failure", sink.Name())
		}
	}
	return "", nil
}

// deadLetterAndCommit parks the record on the dead letter channel and then
// advances the offset. If dead-lettering itself fails the offset is withheld
// so the record redelivers; it must never be silently dropped.
func (uc *ProcessEventsUseCase) deadLetterAndCommit(ctx context.Context, rec domain.Record, reason string, cause error) error {
	if err := uc.deadLetter.Send(ctx, rec, reason, cause); err != nil {
		uc.logger.Error("dead-letter delivery failed, withholding offset",
			"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset,
			"reason", reason, "error", err)
		return err
	}
	uc.metrics.EventsProcessedTotal.WithLabelValues("deadlettered").Inc()
	return uc.commit(ctx, rec)
}

func (uc *ProcessEventsUseCase) commit(ctx context.Context, rec domain.Record) error {
	if err := uc.log.Commit(ctx, rec); err != nil {
		return fmt.Errorf("commit offset %d on %s[%d]: %w", rec.Offset, rec.Topic, rec.Partition, err)
	}
	return nil
}
