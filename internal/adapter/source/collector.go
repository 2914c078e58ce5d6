// Package source implements the collectors that pull raw payloads from the
// upstream market-data feeds. Every upstream request passes through the rate
// gate first; denied units are deferred to a later cycle, never queued.
package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/domain"
)

// unitFetch fetches the raw body for one unit of work (a symbol or a news
// category).
type unitFetch func(ctx context.Context, unit string) ([]byte, error)

// collectUnits fans fetchOne out across units with bounded concurrency,
// consuming one rate-gate slot per unit. Payload order across units is not
// defined; order within a payload is the upstream's.
func collectUnits(
	ctx context.Context,
	src domain.Source,
	units []string,
	gate domain.RateGate,
	concurrency int,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
	fetchOne unitFetch,
) ([]domain.RawPayload, []domain.UnitFailure) {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu       sync.Mutex
		payloads []domain.RawPayload
		failures []domain.UnitFailure
	)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, unit := range units {
		if ctx.Err() != nil {
			mu.Lock()
			for _, left := range units[i:] {
				failures = append(failures, domain.UnitFailure{Unit: left, Err: ctx.Err()})
			}
			mu.Unlock()
			break
		}

		// Take a worker slot before consuming budget, so a granted slot is
		// used immediately.
		sem <- struct{}{}

		granted, wait := gate.Acquire(src)
		if !granted {
			<-sem
			m.FetchUnitsTotal.WithLabelValues(string(src), "deferred").Inc()
			logger.Debug("rate budget exhausted, deferring unit",
				"source", src, "unit", unit, "retry_in", wait)
			mu.Lock()
			failures = append(failures, domain.UnitFailure{Unit: unit, Deferred: true})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(unit string) {
			defer wg.Done()
			defer func() { <-sem }()

			body, err := fetchOne(ctx, unit)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				m.FetchUnitsTotal.WithLabelValues(string(src), "failed").Inc()
				logger.Warn("unit fetch failed", "source", src, "unit", unit, "error", err)
				failures = append(failures, domain.UnitFailure{Unit: unit, Err: err})
				return
			}
			if !json.Valid(body) {
				// Unparseable responses are dropped, not retried.
				m.DataQualityDefects.WithLabelValues(string(src), "unparseable").Inc()
				logger.Warn("dropping unparseable payload", "source", src, "unit", unit, "bytes", len(body))
				return
			}

			m.FetchUnitsTotal.WithLabelValues(string(src), "ok").Inc()
			payloads = append(payloads, domain.RawPayload{
				Source:    src,
				Unit:      unit,
				Body:      body,
				FetchedAt: time.Now().UTC(),
			})
		}(unit)
	}

	wg.Wait()
	return payloads, failures
}
