package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
)

// PriceFeedA pulls daily bars from feed A's row-oriented JSON API, one
// request per symbol in the catalog.
type PriceFeedA struct {
	client      *Client
	gate        domain.RateGate
	catalog     domain.SymbolCatalog
	concurrency int
	metrics     *metrics.PipelineMetrics
	logger      *slog.Logger
}

func NewPriceFeedA(
	client *Client,
	gate domain.RateGate,
	catalog domain.SymbolCatalog,
	concurrency int,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
) *PriceFeedA {
	return &PriceFeedA{
		client:      client,
		gate:        gate,
		catalog:     catalog,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.With("component", "collector_price_feed_a"),
	}
}

func (p *PriceFeedA) Source() domain.Source { return domain.SourcePriceFeedA }

// Fetch requests one bar series per catalog symbol for the window.
func (p *PriceFeedA) Fetch(ctx context.Context, window domain.Window) ([]domain.RawPayload, []domain.UnitFailure) {
	symbols, err := p.catalog.Symbols(ctx)
	if err != nil {
		p.logger.Error("symbol catalog unavailable", "error", err)
		return nil, []domain.UnitFailure{{Unit: "catalog", Err: fmt.Errorf("load symbol catalog: %w", err)}}
	}

	return collectUnits(ctx, p.Source(), symbols, p.gate, p.concurrency, p.metrics, p.logger,
		func(ctx context.Context, symbol string) ([]byte, error) {
			query := url.Values{}
			query.Set("symbol", symbol)
			query.Set("interval", "1d")
			query.Set("from", window.Start.UTC().Format(time.RFC3339))
			query.Set("to", window.End.UTC().Format(time.RFC3339))
			return p.client.Get(ctx, "/v1/bars", query)
		})
}
