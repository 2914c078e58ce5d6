package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafkago.Message
	failures int
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("broker unavailable")
	}
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) delivered() []kafkago.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]kafkago.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

func testMetrics() *metrics.PipelineMetrics {
	return metrics.NewPipelineMetrics(prometheus.NewRegistry())
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func priceEvent(symbol string, eventTime time.Time) domain.Event {
	ev := domain.Event{
		Source:        domain.SourcePriceFeedA,
		Symbol:        symbol,
		EventTime:     eventTime.UTC(),
		IngestTime:    time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		SchemaVersion: domain.SchemaVersion,
		Price: &domain.PricePayload{
			Open:   decimal.RequireFromString("190.1"),
			High:   decimal.RequireFromString("192.4"),
			Low:    decimal.RequireFromString("189.0"),
			Close:  decimal.RequireFromString("191.8"),
			Volume: decimal.RequireFromString("1200000"),
		},
	}
	ev.ID = ev.Identity()
	return ev
}

func newsEvent(category string) domain.Event {
	ev := domain.Event{
		Source:        domain.SourceNews,
		Symbol:        category,
		EventTime:     time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC),
		IngestTime:    time.Date(2026, 8, 20, 9, 31, 0, 0, time.UTC),
		SchemaVersion: domain.SchemaVersion,
		News: &domain.NewsPayload{
			Headline: "Markets rally",
			URL:      "https://news.example.com/rally",
		},
	}
	ev.ID = ev.Identity()
	return ev
}

func testPublisher(writer MessageWriter, bufferSize int) *Publisher {
	return newPublisher(PublisherConfig{
		PricesTopic: "market.prices",
		NewsTopic:   "market.news",
		BufferSize:  bufferSize,
	}, writer, testMetrics(), slogDiscard())
}

func TestPublishAcksHealthyBroker(t *testing.T) {
	writer := &fakeWriter{}
	pub := testPublisher(writer, 16)

	ev := priceEvent("AAPL", time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	status, err := pub.Publish(context.Background(), ev)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if status != domain.PublishAcked {
		t.Fatalf("status = %v, want PublishAcked", status)
	}

	got := writer.delivered()
	if len(got) != 1 {
		t.Fatalf("delivered = %d messages, want 1", len(got))
	}
	if got[0].Topic != "market.prices" {
		t.Errorf("topic = %q, want market.prices", got[0].Topic)
	}
	if string(got[0].Key) != "AAPL" {
		t.Errorf("key = %q, want AAPL", got[0].Key)
	}
	decoded, err := domain.DecodeEvent(got[0].Value)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if decoded.ID != ev.ID {
		t.Errorf("decoded id = %s, want %s", decoded.ID, ev.ID)
	}
}

func TestPublishRoutesNewsTopic(t *testing.T) {
	writer := &fakeWriter{}
	pub := testPublisher(writer, 16)

	if _, err := pub.Publish(context.Background(), newsEvent("markets")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got := writer.delivered()
	if len(got) != 1 || got[0].Topic != "market.news" {
		t.Fatalf("news event landed on %q, want market.news", got[0].Topic)
	}
	if string(got[0].Key) != "markets" {
		t.Errorf("key = %q, want category as key", got[0].Key)
	}
}

func TestPublishBuffersDuringOutageAndDrainsInOrder(t *testing.T) {
	writer := &fakeWriter{failures: 1}
	pub := testPublisher(writer, 16)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	var want []string
	for i := 0; i < 3; i++ {
		ev := priceEvent("AAPL", base.Add(time.Duration(i)*time.Minute))
		want = append(want, ev.ID)
		status, err := pub.Publish(ctx, ev)
		if err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
		if status != domain.PublishBuffered {
			t.Fatalf("Publish #%d status = %v, want PublishBuffered", i, status)
		}
	}
	if got := writer.delivered(); len(got) != 0 {
		t.Fatalf("broker received %d messages during outage, want 0", len(got))
	}

	pub.flushOnce(ctx)

	got := writer.delivered()
	if len(got) != 3 {
		t.Fatalf("flushed %d messages, want 3", len(got))
	}
	for i, msg := range got {
		decoded, err := domain.DecodeEvent(msg.Value)
		if err != nil {
			t.Fatalf("DecodeEvent #%d: %v", i, err)
		}
		if decoded.ID != want[i] {
			t.Errorf("flush order broken at %d: got %s, want %s", i, decoded.ID, want[i])
		}
	}
}

func TestPublishEvictsOldestWhenBufferFull(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	pub := testPublisher(writer, 2)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	evA := priceEvent("AAPL", base)
	evB := priceEvent("AAPL", base.Add(time.Minute))
	evC := priceEvent("AAPL", base.Add(2*time.Minute))
	for _, ev := range []domain.Event{evA, evB, evC} {
		if _, err := pub.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	writer.mu.Lock()
	writer.err = nil
	writer.mu.Unlock()
	pub.flushOnce(ctx)

	got := writer.delivered()
	if len(got) != 2 {
		t.Fatalf("flushed %d messages, want 2 after evicting oldest", len(got))
	}
	first, _ := domain.DecodeEvent(got[0].Value)
	second, _ := domain.DecodeEvent(got[1].Value)
	if first.ID != evB.ID || second.ID != evC.ID {
		t.Errorf("survivors = %s, %s; want %s, %s", first.ID, second.ID, evB.ID, evC.ID)
	}
}

func TestPublishReturnsToDirectPathAfterDrain(t *testing.T) {
	writer := &fakeWriter{failures: 1}
	pub := testPublisher(writer, 16)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if status, _ := pub.Publish(ctx, priceEvent("AAPL", base)); status != domain.PublishBuffered {
		t.Fatal("first publish should have buffered")
	}
	pub.flushOnce(ctx)

	status, err := pub.Publish(ctx, priceEvent("AAPL", base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Publish after drain: %v", err)
	}
	if status != domain.PublishAcked {
		t.Fatalf("status after drain = %v, want PublishAcked", status)
	}
}

func TestPublishKeepsBufferingWhileQueueNonEmpty(t *testing.T) {
	// The broker is healthy again but an older event is still queued; a
	// direct write would overtake it and break per-key ordering.
	writer := &fakeWriter{failures: 1}
	pub := testPublisher(writer, 16)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	pub.Publish(ctx, priceEvent("AAPL", base))

	status, err := pub.Publish(ctx, priceEvent("AAPL", base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if status != domain.PublishBuffered {
		t.Fatalf("status = %v, want PublishBuffered while queue holds older events", status)
	}
	if got := writer.delivered(); len(got) != 0 {
		t.Fatalf("message overtook the queue: %d delivered", len(got))
	}
}

func TestStopDrainsBuffer(t *testing.T) {
	writer := &fakeWriter{failures: 1}
	pub := testPublisher(writer, 16)
	ctx := context.Background()

	if err := pub.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pub.Publish(ctx, priceEvent("AAPL", time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)))

	if err := pub.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := writer.delivered(); len(got) != 1 {
		t.Fatalf("Stop left %d messages undelivered, want final flush", 1-len(got))
	}
}

func TestStartTwiceFails(t *testing.T) {
	pub := testPublisher(&fakeWriter{}, 16)
	ctx := context.Background()

	if err := pub.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pub.Stop(ctx)
	if err := pub.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	writer := &fakeWriter{}
	pub := testPublisher(writer, 16)

	_, err := pub.Publish(context.Background(), domain.Event{})
	if err == nil {
		t.Fatal("expected error for event without payload")
	}
	if got := writer.delivered(); len(got) != 0 {
		t.Fatalf("invalid event reached the broker")
	}
}
