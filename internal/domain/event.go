package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SchemaVersion is the wire-format version stamped on every event this
// pipeline produces. Consumers reject anything else.
const SchemaVersion = 1

// eventIDNamespace seeds the deterministic event identity. Changing it
// re-keys every event, so it is fixed for the life of the pipeline.
var eventIDNamespace = uuid.MustParse("8f3c1a52-9e4b-4d6a-b1c7-2f0e5a9d7c31")

// Source identifies the upstream feed an event originated from.
type Source string

const (
	SourcePriceFeedA Source = "price-feed-a"
	SourcePriceFeedB Source = "price-feed-b"
	SourceNews       Source = "news"
)

// Valid reports whether s is one of the known upstream sources.
func (s Source) Valid() bool {
	switch s {
	case SourcePriceFeedA, SourcePriceFeedB, SourceNews:
		return true
	}
	return false
}

// PricePayload is a normalized daily bar. Decimal fields preserve upstream
// precision; they are never converted through float64.
type PricePayload struct {
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// NewsPayload is a normalized headline. Sentiment is carried through when
// the upstream scores it; this pipeline never computes one.
type NewsPayload struct {
	Headline  string           `json:"headline"`
	Summary   string           `json:"summary,omitempty"`
	URL       string           `json:"url"`
	Sentiment *decimal.Decimal `json:"sentiment,omitempty"`
	Symbols   []string         `json:"symbols,omitempty"`
}

// Event is the canonical unit flowing through the pipeline. Exactly one of
// Price or News is set, matching the Source.
type Event struct {
	ID            string        `json:"event_id"`
	Source        Source        `json:"source"`
	Symbol        string        `json:"symbol"` // ticker symbol, or news category
	EventTime     time.Time     `json:"event_time"`
	IngestTime    time.Time     `json:"ingest_time"`
	SchemaVersion int           `json:"schema_version"`
	Price         *PricePayload `json:"price,omitempty"`
	News          *NewsPayload  `json:"news,omitempty"`
}

// EventID derives the deterministic identity for an event. The same upstream
// datum always maps to the same id, which is what makes every downstream
// write idempotent. extra carries source-specific identity material, such as
// the article URL for news.
func EventID(source Source, symbol string, eventTime time.Time, version int, extra ...string) string {
	parts := make([]string, 0, 4+len(extra))
	parts = append(parts,
		string(source),
		symbol,
		strconv.FormatInt(eventTime.UTC().UnixNano(), 10),
		strconv.Itoa(version),
	)
	parts = append(parts, extra...)
	return uuid.NewSHA1(eventIDNamespace, []byte(strings.Join(parts, "|"))).String()
}

// Identity recomputes the event's deterministic id from its immutable fields.
// It must equal Event.ID for any event this pipeline produced.
func (e Event) Identity() string {
	if e.Source == SourceNews && e.News != nil {
		return EventID(e.Source, e.Symbol, e.EventTime, e.SchemaVersion, e.News.URL)
	}
	return EventID(e.Source, e.Symbol, e.EventTime, e.SchemaVersion)
}

// Validate checks the structural invariants every published event holds.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event_id is empty")
	}
	if !e.Source.Valid() {
		return fmt.Errorf("unknown source %q", e.Source)
	}
	if e.Symbol == "" {
		return errors.New("symbol is empty")
	}
	if e.EventTime.IsZero() {
		return errors.New("event_time is zero")
	}
	if e.Price == nil && e.News == nil {
		return errors.New("event carries no payload")
	}
	if e.Price != nil && e.News != nil {
		return errors.New("event carries both price and news payloads")
	}
	if e.Source == SourceNews && e.News == nil {
		return errors.New("news event without news payload")
	}
	if e.Source != SourceNews && e.Price == nil {
		return errors.New("price event without price payload")
	}
	return nil
}

// ErrSchemaVersion marks a record whose schema_version this build does not
// understand. Such records are dead-lettered, never silently skipped.
var ErrSchemaVersion = errors.New("unsupported schema version")

// EncodeEvent serializes an event to its wire form.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return data, nil
}

// DecodeEvent parses the wire form and rejects unknown schema versions.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.SchemaVersion != SchemaVersion {
		return Event{}, fmt.Errorf("%w: %d", ErrSchemaVersion, e.SchemaVersion)
	}
	return e, nil
}
