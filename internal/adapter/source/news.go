package source

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
)

// NewsCollector pulls headline batches from the news API, one request per
// configured category.
type NewsCollector struct {
	client      *Client
	gate        domain.RateGate
	categories  []string
	concurrency int
	metrics     *metrics.PipelineMetrics
	logger      *slog.Logger
}

func NewNewsCollector(
	client *Client,
	gate domain.RateGate,
	categories []string,
	concurrency int,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
) *NewsCollector {
	return &NewsCollector{
		client:      client,
		gate:        gate,
		categories:  categories,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.With("component", "collector_news"),
	}
}

func (n *NewsCollector) Source() domain.Source { return domain.SourceNews }

func (n *NewsCollector) Fetch(ctx context.Context, window domain.Window) ([]domain.RawPayload, []domain.UnitFailure) {
	return collectUnits(ctx, n.Source(), n.categories, n.gate, n.concurrency, n.metrics, n.logger,
		func(ctx context.Context, category string) ([]byte, error) {
			query := url.Values{}
			query.Set("category", category)
			query.Set("from", window.Start.UTC().Format(time.RFC3339))
			query.Set("to", window.End.UTC().Format(time.RFC3339))
			return n.client.Get(ctx, "/v2/headlines", query)
		})
}
