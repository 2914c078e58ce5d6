package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/user/market-ingestor/internal/domain"
)

func TestPayloadJSONPrice(t *testing.T) {
	ev := domain.Event{
		ID:     "id-1",
		Source: domain.SourcePriceFeedA,
		Price: &domain.PricePayload{
			Open:   decimal.RequireFromString("189.20"),
			High:   decimal.RequireFromString("191.00"),
			Low:    decimal.RequireFromString("188.70"),
			Close:  decimal.RequireFromString("190.40"),
			Volume: decimal.RequireFromString("51234567"),
		},
	}

	data, err := payloadJSON(ev)
	if err != nil {
		t.Fatalf("payloadJSON: %v", err)
	}

	var got domain.PricePayload
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Close.Equal(ev.Price.Close) {
		t.Errorf("Close = %s, want %s", got.Close, ev.Price.Close)
	}
}

func TestPayloadJSONNews(t *testing.T) {
	ev := domain.Event{
		ID:     "id-2",
		Source: domain.SourceNews,
		News: &domain.NewsPayload{
			Headline: "Fed holds rates",
			URL:      "https://example.com/a",
			Symbols:  []string{"ACME"},
		},
	}

	data, err := payloadJSON(ev)
	if err != nil {
		t.Fatalf("payloadJSON: %v", err)
	}
	var got domain.NewsPayload
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Headline != ev.News.Headline || got.URL != ev.News.URL {
		t.Errorf("payload mangled: %+v", got)
	}
}

func TestPayloadJSONRejectsEmptyEvent(t *testing.T) {
	if _, err := payloadJSON(domain.Event{ID: "x", EventTime: time.Now()}); err == nil {
		t.Fatal("expected an error for an event with no payload")
	}
}
