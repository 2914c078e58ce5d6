// Package normalize maps raw upstream payloads to canonical events. It is
// pure: no I/O, no retries. Items missing required fields are rejected as
// defects, never coerced into events.
package normalize

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
)

// Defect records one payload item rejected during normalization.
type Defect struct {
	Source domain.Source
	Unit   string
	Reason string
}

type Normalizer struct {
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger
}

func New(m *metrics.PipelineMetrics, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		metrics: m,
		logger:  logger.With("component", "normalizer"),
	}
}

// Normalize converts one raw payload into canonical events. Event order
// follows the payload's item order, so time-ordered upstream series stay
// time-ordered per symbol.
func (n *Normalizer) Normalize(raw domain.RawPayload) ([]domain.Event, []Defect) {
	var (
		events  []domain.Event
		defects []Defect
	)

	switch raw.Source {
	case domain.SourcePriceFeedA:
		events, defects = n.priceFeedA(raw)
	case domain.SourcePriceFeedB:
		events, defects = n.priceFeedB(raw)
	case domain.SourceNews:
		events, defects = n.news(raw)
	default:
		defects = []Defect{{Source: raw.Source, Unit: raw.Unit, Reason: "unknown_source"}}
	}

	for _, d := range defects {
		n.metrics.DataQualityDefects.WithLabelValues(string(d.Source), d.Reason).Inc()
		n.logger.Warn("payload item rejected",
			"source", d.Source, "unit", d.Unit, "reason", d.Reason)
	}
	return events, defects
}

// feed A: {"symbol":"ACME","bars":[{"ts":"...","open":1,"high":1,"low":1,"close":1,"volume":1}]}
type feedABar struct {
	TS     string           `json:"ts"`
	Open   *decimal.Decimal `json:"open"`
	High   *decimal.Decimal `json:"high"`
	Low    *decimal.Decimal `json:"low"`
	Close  *decimal.Decimal `json:"close"`
	Volume *decimal.Decimal `json:"volume"`
}

type feedAPayload struct {
	Symbol string     `json:"symbol"`
	Bars   []feedABar `json:"bars"`
}

func (n *Normalizer) priceFeedA(raw domain.RawPayload) ([]domain.Event, []Defect) {
	var p feedAPayload
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return nil, []Defect{{Source: raw.Source, Unit: raw.Unit, Reason: "malformed_payload"}}
	}
	if p.Symbol == "" {
		return nil, []Defect{{Source: raw.Source, Unit: raw.Unit, Reason: "missing_symbol"}}
	}

	var (
		events  []domain.Event
		defects []Defect
	)
	for _, bar := range p.Bars {
		ts, err := time.Parse(time.RFC3339, bar.TS)
		if err != nil {
			defects = append(defects, Defect{Source: raw.Source, Unit: raw.Unit, Reason: "bad_timestamp"})
			continue
		}
		if bar.Open == nil || bar.High == nil || bar.Low == nil || bar.Close == nil || bar.Volume == nil {
			defects = append(defects, Defect{Source: raw.Source, Unit: raw.Unit, Reason: "missing_price_field"})
			continue
		}
		events = append(events, n.priceEvent(raw, p.Symbol, ts, domain.PricePayload{
			Open:   *bar.Open,
			High:   *bar.High,
			Low:    *bar.Low,
			Close:  *bar.Close,
			Volume: *bar.Volume,
		}))
	}
	return events, defects
}

// feed B: {"ticker":"ACME","candles":{"t":[ms],"o":[],"h":[],"l":[],"c":[],"v":[]}}
type feedBPayload struct {
	Ticker  string `json:"ticker"`
	Candles struct {
		T []int64            `json:"t"`
		O []*decimal.Decimal `json:"o"`
		H []*decimal.Decimal `json:"h"`
		L []*decimal.Decimal `json:"l"`
		C []*decimal.Decimal `json:"c"`
		V []*decimal.Decimal `json:"v"`
	} `json:"candles"`
}

func (n *Normalizer) priceFeedB(raw domain.RawPayload) ([]domain.Event, []Defect) {
	var p feedBPayload
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return nil, []Defect{{Source: raw.Source, Unit: raw.Unit, Reason: "malformed_payload"}}
	}
	if p.Ticker == "" {
		return nil, []Defect{{Source: raw.Source, Unit: raw.Unit, Reason: "missing_symbol"}}
	}

	c := p.Candles
	rows := len(c.T)
	if len(c.O) != rows || len(c.H) != rows || len(c.L) != rows || len(c.C) != rows || len(c.V) != rows {
		return nil, []Defect{{Source: raw.Source, Unit: raw.Unit, Reason: "column_length_mismatch"}}
	}

	var (
		events  []domain.Event
		defects []Defect
	)
	for i := 0; i < rows; i++ {
		if c.O[i] == nil || c.H[i] == nil || c.L[i] == nil || c.C[i] == nil || c.V[i] == nil {
			defects = append(defects, Defect{Source: raw.Source, Unit: raw.Unit, Reason: "missing_price_field"})
			continue
		}
		ts := time.UnixMilli(c.T[i]).UTC()
		events = append(events, n.priceEvent(raw, p.Ticker, ts, domain.PricePayload{
			Open:   *c.O[i],
			High:   *c.H[i],
			Low:    *c.L[i],
			Close:  *c.C[i],
			Volume: *c.V[i],
		}))
	}
	return events, defects
}

// news: {"category":"markets","articles":[{"title":"..","summary":"..","url":"..","published_at":"..","symbols":[".."]}]}
type newsArticle struct {
	Title       string           `json:"title"`
	Summary     string           `json:"summary"`
	URL         string           `json:"url"`
	PublishedAt string           `json:"published_at"`
	Sentiment   *decimal.Decimal `json:"sentiment"`
	Symbols     []string         `json:"symbols"`
}

type newsPayload struct {
	Category string        `json:"category"`
	Articles []newsArticle `json:"articles"`
}

func (n *Normalizer) news(raw domain.RawPayload) ([]domain.Event, []Defect) {
	var p newsPayload
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return nil, []Defect{{Source: raw.Source, Unit: raw.Unit, Reason: "malformed_payload"}}
	}
	category := p.Category
	if category == "" {
		category = raw.Unit
	}
	if category == "" {
		return nil, []Defect{{Source: raw.Source, Unit: raw.Unit, Reason: "missing_category"}}
	}

	var (
		events  []domain.Event
		defects []Defect
	)
	for _, a := range p.Articles {
		if a.Title == "" {
			defects = append(defects, Defect{Source: raw.Source, Unit: raw.Unit, Reason: "missing_headline"})
			continue
		}
		// The URL joins the identity material; without it two articles in
		// the same category and minute would collide.
		if a.URL == "" {
			defects = append(defects, Defect{Source: raw.Source, Unit: raw.Unit, Reason: "missing_url"})
			continue
		}
		ts, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil {
			defects = append(defects, Defect{Source: raw.Source, Unit: raw.Unit, Reason: "bad_timestamp"})
			continue
		}

		ev := domain.Event{
			Source:        domain.SourceNews,
			Symbol:        category,
			EventTime:     ts.UTC(),
			IngestTime:    raw.FetchedAt.UTC(),
			SchemaVersion: domain.SchemaVersion,
			News: &domain.NewsPayload{
				Headline:  a.Title,
				Summary:   a.Summary,
				URL:       a.URL,
				Sentiment: a.Sentiment,
				Symbols:   a.Symbols,
			},
		}
		ev.ID = ev.Identity()
		events = append(events, ev)
	}
	return events, defects
}

func (n *Normalizer) priceEvent(raw domain.RawPayload, symbol string, ts time.Time, price domain.PricePayload) domain.Event {
	ev := domain.Event{
		Source:        raw.Source,
		Symbol:        symbol,
		EventTime:     ts.UTC(),
		IngestTime:    raw.FetchedAt.UTC(),
		SchemaVersion: domain.SchemaVersion,
		Price:         &price,
	}
	ev.ID = ev.Identity()
	return ev
}
