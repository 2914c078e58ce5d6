package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
	"github.com/user/market-ingestor/internal/normalize"
)

// Normalizer is the slice of the normalize package the cycle needs.
type Normalizer interface {
	Normalize(raw domain.RawPayload) ([]domain.Event, []normalize.Defect)
}

// RunCycleUseCase drives one ingestion cycle: every collector fetches its
// window, raw payloads normalize into canonical events, and events publish
// to the partitioned log. Collectors run concurrently; one slow or broken
// feed never blocks the others.
type RunCycleUseCase struct {
	collectors []domain.Collector
	normalizer Normalizer
	publisher  domain.EventPublisher
	metrics    *metrics.PipelineMetrics
	logger     *slog.Logger
}

// NewRunCycleUseCase creates a new RunCycleUseCase.
func NewRunCycleUseCase(collectors []domain.Collector, normalizer Normalizer, publisher domain.EventPublisher, m *metrics.PipelineMetrics, logger *slog.Logger) *RunCycleUseCase {
	return &RunCycleUseCase{
		collectors: collectors,
		normalizer: normalizer,
		publisher:  publisher,
		metrics:    m,
		logger:     logger.With("component", "run_cycle"),
	}
}

// Run executes one cycle over the window and reports what happened. The
// summary counts fetched payloads, published and buffered events, failed
// units and publishes, rate-deferred units, and normalization defects.
func (uc *RunCycleUseCase) Run(ctx context.Context, window domain.Window) (domain.CycleSummary, error) {
	start := time.Now()

	var (
		mu      sync.Mutex
		summary domain.CycleSummary
		wg      sync.WaitGroup
	)
	for _, col := range uc.collectors {
		wg.Add(1)
		go func(col domain.Collector) {
			defer wg.Done()
			s := uc.collectOne(ctx, col, window)
			mu.Lock()
			summary = summary.Merge(s)
			mu.Unlock()
		}(col)
	}
	wg.Wait()

	uc.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	uc.logger.Info("ingestion cycle complete",
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339),
		"fetched", summary.Fetched,
		"published", summary.Published,
		"buffered", summary.Buffered,
		"failed", summary.Failed,
		"deferred", summary.Deferred,
		"defects", summary.Defects,
	)
	return summary, ctx.Err()
}

func (uc *RunCycleUseCase) collectOne(ctx context.Context, col domain.Collector, window domain.Window) domain.CycleSummary {
	var s domain.CycleSummary

	payloads, failures := col.Fetch(ctx, window)
	for _, f := range failures {
		if f.Deferred {
			s.Deferred++
			continue
		}
		s.Failed++
	}

	for _, raw := range payloads {
		s.Fetched++
		events, defects := uc.normalizer.Normalize(raw)
		s.Defects += len(defects)

		for _, ev := range events {
			status, err := uc.publisher.Publish(ctx, ev)
			if err != nil {
				uc.logger.Error("publish failed",
					"event_id", ev.ID, "source", ev.Source, "symbol", ev.Symbol, "error", err)
				s.Failed++
				continue
			}
			if status == domain.PublishBuffered {
				s.Buffered++
				continue
			}
			s.Published++
		}
	}
	return s
}
