package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/market-ingestor/internal/domain"
	"github.com/user/market-ingestor/internal/domain/mocks"
)

func recordFor(t *testing.T, ev domain.Event, offset int64) domain.Record {
	t.Helper()
	value, err := domain.EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	return domain.Record{
		Topic:     "market.prices",
		Partition: 0,
		Offset:    offset,
		Key:       []byte(ev.Symbol),
		Value:     value,
	}
}

func newProcessUC(log *mocks.MockEventLog, dedup *mocks.MockDedupStore, sinks []domain.SinkAdapter, dl *mocks.MockDeadLetter) *ProcessEventsUseCase {
	return NewProcessEventsUseCase(log, dedup, sinks, dl, testMetrics(), testLogger(), 2, time.Millisecond, time.Second)
}

func TestProcessEventsUseCase_Run(t *testing.T) {
	t.Run("Writes Events To All Sinks And Commits", func(t *testing.T) {
		events := []domain.Event{testEvent("AAPL", 1), testEvent("MSFT", 2), testEvent("AAPL", 3)}
		log := &mocks.MockEventLog{}
		for i, ev := range events {
			log.Queue = append(log.Queue, recordFor(t, ev, int64(i)))
		}
		pg := &mocks.MockSink{NameValue: "postgres"}
		obj := &mocks.MockSink{NameValue: "objectstore"}
		dedup := &mocks.MockDedupStore{}
		dl := &mocks.MockDeadLetter{}

		uc := newProcessUC(log, dedup, []domain.SinkAdapter{pg, obj}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(pg.Written) != 3 || len(obj.Written) != 3 {
			t.Errorf("sink writes = %d postgres, %d objectstore; want 3 each", len(pg.Written), len(obj.Written))
		}
		if len(log.Committed) != 3 {
			t.Errorf("committed %d records, want 3", len(log.Committed))
		}
		if len(dedup.Recorded) != 3 {
			t.Errorf("dedup recorded %d ids, want 3", len(dedup.Recorded))
		}
		if len(dl.Entries) != 0 {
			t.Errorf("dead-lettered %d records, want 0", len(dl.Entries))
		}
	})

	t.Run("Redelivered Records Leave Sinks Unchanged", func(t *testing.T) {
		// Broker redelivery with a cold dedup store: the second pass reaches
		// the sinks, which recognize the ids and skip.
		events := []domain.Event{testEvent("XYZ", 1), testEvent("XYZ", 2), testEvent("XYZ", 3)}
		log := &mocks.MockEventLog{}
		for round := 0; round < 2; round++ {
			for i, ev := range events {
				log.Queue = append(log.Queue, recordFor(t, ev, int64(round*3+i)))
			}
		}
		pg := &mocks.MockSink{NameValue: "postgres"}
		obj := &mocks.MockSink{NameValue: "objectstore"}
		dl := &mocks.MockDeadLetter{}

		uc := newProcessUC(log, &mocks.MockDedupStore{}, []domain.SinkAdapter{pg, obj}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(pg.Written) != 3 || len(obj.Written) != 3 {
			t.Errorf("sink state after redelivery: %d postgres, %d objectstore; want 3 each", len(pg.Written), len(obj.Written))
		}
		for i := 1; i < len(pg.Written); i++ {
			if !pg.Written[i].EventTime.After(pg.Written[i-1].EventTime) {
				t.Errorf("per-symbol order broken at %d: %v then %v", i, pg.Written[i-1].EventTime, pg.Written[i].EventTime)
			}
		}
		if len(log.Committed) != 6 {
			t.Errorf("committed %d records, want all 6", len(log.Committed))
		}
		if len(dl.Entries) != 0 {
			t.Errorf("dead-lettered %d records, want 0", len(dl.Entries))
		}
	})

	t.Run("Skips Duplicate Known To Dedup Store", func(t *testing.T) {
		ev := testEvent("AAPL", 1)
		log := &mocks.MockEventLog{Queue: []domain.Record{recordFor(t, ev, 0)}}
		sink := &mocks.MockSink{}
		dedup := &mocks.MockDedupStore{SeenIDs: map[string]bool{ev.ID: true}}
		dl := &mocks.MockDeadLetter{}

		uc := newProcessUC(log, dedup, []domain.SinkAdapter{sink}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(sink.Written) != 0 {
			t.Errorf("duplicate reached the sink: %d writes", len(sink.Written))
		}
		if len(log.Committed) != 1 {
			t.Errorf("committed %d records, want 1 (duplicates still advance)", len(log.Committed))
		}
	})

	t.Run("Retries Transient Sink Failure", func(t *testing.T) {
		ev := testEvent("AAPL", 1)
		log := &mocks.MockEventLog{Queue: []domain.Record{recordFor(t, ev, 0)}}
		sink := &mocks.MockSink{FailTimes: 2}
		dedup := &mocks.MockDedupStore{}
		dl := &mocks.MockDeadLetter{}

		uc := newProcessUC(log, dedup, []domain.SinkAdapter{sink}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(sink.Written) != 1 {
			t.Errorf("sink wrote %d events, want 1 after retries", len(sink.Written))
		}
		if len(log.Committed) != 1 {
			t.Errorf("committed %d records, want 1", len(log.Committed))
		}
		if len(dl.Entries) != 0 {
			t.Errorf("dead-lettered %d records, want 0", len(dl.Entries))
		}
	})

	t.Run("Dead Letters After Retries Exhausted", func(t *testing.T) {
		ev := testEvent("AAPL", 1)
		log := &mocks.MockEventLog{Queue: []domain.Record{recordFor(t, ev, 0)}}
		broken := &mocks.MockSink{NameValue: "postgres", WriteErr: errors.New("connection refused")}
		healthy := &mocks.MockSink{NameValue: "objectstore"}
		dedup := &mocks.MockDedupStore{}
		dl := &mocks.MockDeadLetter{}

		uc := newProcessUC(log, dedup, []domain.SinkAdapter{broken, healthy}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(dl.Entries) != 1 {
			t.Fatalf("dead-lettered %d records, want 1", len(dl.Entries))
		}
		if dl.Entries[0].Reason != "sink-failure" {
			t.Errorf("reason = %q, want sink-failure", dl.Entries[0].Reason)
		}
		if len(log.Committed) != 1 {
			t.Errorf("committed %d records, want 1 (offset advances past poison)", len(log.Committed))
		}
		if len(healthy.Written) != 0 {
			t.Errorf("later sink received %d writes despite earlier failure", len(healthy.Written))
		}
		if len(dedup.Recorded) != 0 {
			t.Errorf("dead-lettered event was recorded as processed")
		}
	})

	t.Run("Partial Sink Failure Reapplies Idempotently", func(t *testing.T) {
		ev := testEvent("AAPL", 1)
		log := &mocks.MockEventLog{Queue: []domain.Record{recordFor(t, ev, 0)}}
		healthy := &mocks.MockSink{NameValue: "postgres"}
		flaky := &mocks.MockSink{NameValue: "objectstore", FailTimes: 1}
		dedup := &mocks.MockDedupStore{}
		dl := &mocks.MockDeadLetter{}

		uc := newProcessUC(log, dedup, []domain.SinkAdapter{healthy, flaky}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		// The first pass wrote postgres then failed objectstore; the retry hit
		// postgres again as a duplicate skip, then wrote objectstore.
		if len(healthy.Written) != 1 {
			t.Errorf("postgres holds %d copies, want 1", len(healthy.Written))
		}
		if len(flaky.Written) != 1 {
			t.Errorf("objectstore holds %d copies, want 1", len(flaky.Written))
		}
		if len(log.Committed) != 1 {
			t.Errorf("committed %d records, want 1", len(log.Committed))
		}
	})

	t.Run("Dead Letters Undecodable Record", func(t *testing.T) {
		log := &mocks.MockEventLog{Queue: []domain.Record{{
			Topic: "market.prices", Offset: 7, Value: []byte("not json"),
		}}}
		sink := &mocks.MockSink{}
		dl := &mocks.MockDeadLetter{}

		uc := newProcessUC(log, &mocks.MockDedupStore{}, []domain.SinkAdapter{sink}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(dl.Entries) != 1 || dl.Entries[0].Reason != "decode-failure" {
			t.Fatalf("entries = %+v, want one decode-failure", dl.Entries)
		}
		if len(sink.Written) != 0 {
			t.Error("undecodable record reached a sink")
		}
		if len(log.Committed) != 1 {
			t.Errorf("committed %d records, want 1", len(log.Committed))
		}
	})

	t.Run("Dead Letters Structurally Invalid Event", func(t *testing.T) {
		// Valid JSON at the current schema version, but no payload.
		log := &mocks.MockEventLog{Queue: []domain.Record{{
			Topic: "market.prices", Offset: 0,
			Value: []byte(`{"event_id":"x","source":"price-feed-a","symbol":"AAPL","event_time":"2026-08-20T00:00:00Z","ingest_time":"2026-08-20T01:00:00Z","schema_version":1}`),
		}}}
		dl := &mocks.MockDeadLetter{}

		uc := newProcessUC(log, &mocks.MockDedupStore{}, []domain.SinkAdapter{&mocks.MockSink{}}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(dl.Entries) != 1 || dl.Entries[0].Reason != "invalid-event" {
			t.Fatalf("entries = %+v, want one invalid-event", dl.Entries)
		}
	})

	t.Run("Dead Letters Identity Mismatch", func(t *testing.T) {
		ev := testEvent("AAPL", 1)
		ev.ID = domain.EventID(ev.Source, "TAMPERED", ev.EventTime, ev.SchemaVersion)
		log := &mocks.MockEventLog{Queue: []domain.Record{recordFor(t, ev, 0)}}
		dl := &mocks.MockDeadLetter{}

		uc := newProcessUC(log, &mocks.MockDedupStore{}, []domain.SinkAdapter{&mocks.MockSink{}}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(dl.Entries) != 1 || dl.Entries[0].Reason != "identity-mismatch" {
			t.Fatalf("entries = %+v, want one identity-mismatch", dl.Entries)
		}
	})

	t.Run("Withholds Offset When Dead Letter Fails", func(t *testing.T) {
		log := &mocks.MockEventLog{Queue: []domain.Record{{
			Topic: "market.prices", Offset: 3, Value: []byte("not json"),
		}}}
		dl := &mocks.MockDeadLetter{SendErr: errors.New("dead-letter journal full")}

		uc := newProcessUC(log, &mocks.MockDedupStore{}, []domain.SinkAdapter{&mocks.MockSink{}}, dl)
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(log.Committed) != 0 {
			t.Errorf("committed %d records; a lost poison record must redeliver", len(log.Committed))
		}
	})

	t.Run("Proceeds When Dedup Store Is Down", func(t *testing.T) {
		ev := testEvent("AAPL", 1)
		log := &mocks.MockEventLog{Queue: []domain.Record{recordFor(t, ev, 0)}}
		sink := &mocks.MockSink{}
		dedup := &mocks.MockDedupStore{SeenErr: errors.New("redis connection refused")}

		uc := newProcessUC(log, dedup, []domain.SinkAdapter{sink}, &mocks.MockDeadLetter{})
		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(sink.Written) != 1 || len(log.Committed) != 1 {
			t.Errorf("writes = %d, commits = %d; want 1 each", len(sink.Written), len(log.Committed))
		}
	})

	t.Run("Stops On Cancelled Context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		log := &mocks.MockEventLog{Queue: []domain.Record{recordFor(t, testEvent("AAPL", 1), 0)}}
		uc := newProcessUC(log, &mocks.MockDedupStore{}, []domain.SinkAdapter{&mocks.MockSink{}}, &mocks.MockDeadLetter{})

		if err := uc.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}
