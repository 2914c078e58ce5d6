package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/market-ingestor/internal/adapter/broker/kafka"
	"github.com/user/market-ingestor/internal/adapter/catalog"
	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/adapter/ratelimit"
	"github.com/user/market-ingestor/internal/adapter/source"
	"github.com/user/market-ingestor/internal/domain"
	"github.com/user/market-ingestor/internal/normalize"
	"github.com/user/market-ingestor/internal/pkg/config"
	"github.com/user/market-ingestor/internal/pkg/logger"
	"github.com/user/market-ingestor/internal/usecase"
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion cycle and exit")
	lookback := flag.Duration("lookback", 0, "window length for -once (defaults to COLLECT_INTERVAL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	m := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	// --- Metrics and Health Server ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}
	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Broker Connectivity ---
	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	err = kafka.Ping(pingCtx, cfg.KafkaBrokers)
	cancelPing()
	if err != nil {
		log.Error("failed to reach kafka", "brokers", cfg.KafkaBrokers, "error", err)
		os.Exit(1)
	}
	log.Info("connected to kafka", "brokers", cfg.KafkaBrokers)

	// --- Symbol Catalog ---
	minioClient, err := minio.New(cfg.ObjectStoreEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, ""),
		Secure: cfg.ObjectStoreUseSSL,
	})
	if err != nil {
		log.Error("failed to build object store client", "error", err)
		os.Exit(1)
	}
	if ok, err := minioClient.BucketExists(ctx, cfg.ObjectStoreBucket); err != nil || !ok {
		// The catalog falls back to the static symbol list per cycle.
		log.Warn("object store bucket unavailable",
			"bucket", cfg.ObjectStoreBucket, "exists", ok, "error", err)
	}
	symbolCatalog := catalog.New(
		&catalog.MinioGetter{Client: minioClient, Bucket: cfg.ObjectStoreBucket},
		cfg.SymbolsObjectKey,
		cfg.StaticSymbols,
		log,
	)

	// --- Rate Gate and Collectors ---
	gate := ratelimit.NewGate(map[domain.Source]ratelimit.Budget{
		domain.SourcePriceFeedA: {Capacity: cfg.PriceFeedA.Quota, Window: cfg.PriceFeedA.QuotaWindow},
		domain.SourcePriceFeedB: {Capacity: cfg.PriceFeedB.Quota, Window: cfg.PriceFeedB.QuotaWindow},
		domain.SourceNews:       {Capacity: cfg.NewsFeed.Quota, Window: cfg.NewsFeed.QuotaWindow},
	})

	newFeedClient := func(feed config.FeedConfig) *source.Client {
		return source.NewClient(feed.BaseURL, feed.APIKey,
			source.WithTimeout(cfg.FetchTimeout),
			source.WithRetries(cfg.FetchRetries, cfg.FetchBackoff),
			source.WithLogger(log),
		)
	}
	collectors := []domain.Collector{
		source.NewPriceFeedA(newFeedClient(cfg.PriceFeedA), gate, symbolCatalog, cfg.FetchConcurrency, m, log),
		source.NewPriceFeedB(newFeedClient(cfg.PriceFeedB), gate, symbolCatalog, cfg.FetchConcurrency, m, log),
		source.NewNewsCollector(newFeedClient(cfg.NewsFeed), gate, cfg.NewsCategories, cfg.FetchConcurrency, m, log),
	}

	// --- Publisher ---
	publisher := kafka.NewPublisher(kafka.PublisherConfig{
		PricesTopic:   cfg.PricesTopic,
		NewsTopic:     cfg.NewsTopic,
		BufferSize:    cfg.PublishBufferSize,
		FlushInterval: cfg.PublishFlushInterval,
	}, cfg.KafkaBrokers, m, log)
	if err := publisher.Start(ctx); err != nil {
		log.Error("failed to start publisher", "error", err)
		os.Exit(1)
	}

	runCycle := usecase.NewRunCycleUseCase(collectors, normalize.New(m, log), publisher, m, log)

	// --- Cycle Loop ---
	if *once {
		length := *lookback
		if length <= 0 {
			length = cfg.CollectInterval
		}
		end := time.Now().UTC()
		window := domain.Window{Start: end.Add(-length), End: end}
		if _, err := runCycle.Run(ctx, window); err != nil {
			log.Error("ingestion cycle interrupted", "error", err)
		}
	} else {
		runLoop(ctx, runCycle, cfg.CollectInterval, log)
	}

	// --- Shutdown ---
	log.Info("shutting down collector...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := publisher.Stop(shutdownCtx); err != nil {
		log.Error("publisher shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}

	log.Info("collector shut down gracefully")
}

// runLoop runs back-to-back cycles until the context is cancelled. Each
// window starts where the previous one ended, so no instant is covered twice
// and none is skipped.
func runLoop(ctx context.Context, runCycle *usecase.RunCycleUseCase, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	windowStart := time.Now().UTC()
	log.Info("collector started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("context cancelled, stopping cycle loop")
			return
		case tick := <-ticker.C:
			window := domain.Window{Start: windowStart, End: tick.UTC()}
			if _, err := runCycle.Run(ctx, window); err != nil {
				log.Error("ingestion cycle interrupted", "error", err)
				return
			}
			windowStart = window.End
		}
	}
}
