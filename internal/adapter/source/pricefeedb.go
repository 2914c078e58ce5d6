package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
)

// PriceFeedB pulls daily candles from feed B's column-oriented JSON API. The
// feed takes epoch-millisecond bounds and answers with parallel arrays.
type PriceFeedB struct {
	client      *Client
	gate        domain.RateGate
	catalog     domain.SymbolCatalog
	concurrency int
	metrics     *metrics.PipelineMetrics
	logger      *slog.Logger
}

func NewPriceFeedB(
	client *Client,
	gate domain.RateGate,
	catalog domain.SymbolCatalog,
	concurrency int,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
) *PriceFeedB {
	return &PriceFeedB{
		client:      client,
		gate:        gate,
		catalog:     catalog,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.With("component", "collector_price_feed_b"),
	}
}

func (p *PriceFeedB) Source() domain.Source { return domain.SourcePriceFeedB }

func (p *PriceFeedB) Fetch(ctx context.Context, window domain.Window) ([]domain.RawPayload, []domain.UnitFailure) {
	symbols, err := p.catalog.Symbols(ctx)
	if err != nil {
		p.logger.Error("symbol catalog unavailable", "error", err)
		return nil, []domain.UnitFailure{{Unit: "catalog", Err: fmt.Errorf("load symbol catalog: %w", err)}}
	}

	return collectUnits(ctx, p.Source(), symbols, p.gate, p.concurrency, p.metrics, p.logger,
		func(ctx context.Context, symbol string) ([]byte, error) {
			query := url.Values{}
			query.Set("ticker", symbol)
			query.Set("resolution", "D")
			query.Set("start", strconv.FormatInt(window.Start.UTC().UnixMilli(), 10))
			query.Set("end", strconv.FormatInt(window.End.UTC().UnixMilli(), 10))
			return p.client.Get(ctx, "/api/candles", query)
		})
}
