package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/user/market-ingestor/internal/adapter/broker/kafka"
	"github.com/user/market-ingestor/internal/adapter/deadletter"
	"github.com/user/market-ingestor/internal/adapter/dedup"
	"github.com/user/market-ingestor/internal/adapter/metrics"
	"github.com/user/market-ingestor/internal/adapter/sink/objectstore"
	sinkpg "github.com/user/market-ingestor/internal/adapter/sink/postgres"
	"github.com/user/market-ingestor/internal/domain"
	"github.com/user/market-ingestor/internal/pkg/config"
	"github.com/user/market-ingestor/internal/pkg/logger"
	"github.com/user/market-ingestor/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting consumer")

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

	// --- PostgreSQL Sink ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	pgSink := sinkpg.NewAdapter(db, log)
	if err := pgSink.EnsureSchema(ctx); err != nil {
		log.Error("failed to ensure postgres schema", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	// --- Redis Dedup Store ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	dedupStore := dedup.NewRedisStore(redisClient, cfg.DedupRetention)
	log.Info("connected to redis", "dedup_retention", cfg.DedupRetention)

	// --- Object Store Sink ---
	minioClient, err := minio.New(cfg.ObjectStoreEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, ""),
		Secure: cfg.ObjectStoreUseSSL,
	})
	if err != nil {
		log.Error("failed to build object store client", "error", err)
		os.Exit(1)
	}
	if ok, err := minioClient.BucketExists(ctx, cfg.ObjectStoreBucket); err != nil {
		log.Error("failed to reach object store", "error", err)
		os.Exit(1)
	} else if !ok {
		log.Error("object store bucket does not exist", "bucket", cfg.ObjectStoreBucket)
		os.Exit(1)
	}
	objSink := objectstore.NewAdapter(minioClient, cfg.ObjectStoreBucket, log)
	log.Info("connected to object store", "bucket", cfg.ObjectStoreBucket)

	sinks := []domain.SinkAdapter{pgSink, objSink}

	// --- Dead Letter Channel ---
	journal, err := deadletter.NewJournal(
		cfg.DeadLetterJournalDir,
		cfg.DeadLetterJournalSegmentBytes,
		cfg.DeadLetterJournalMaxBytes,
		log,
	)
	if err != nil {
		log.Error("failed to open dead-letter journal", "dir", cfg.DeadLetterJournalDir, "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	dlq := kafka.NewDeadLetterProducer(cfg.KafkaBrokers, cfg.DeadLetterTopic, journal, m, log)
	if n, err := dlq.ReplayJournal(ctx); err != nil {
		log.Warn("dead-letter journal replay incomplete", "replayed", n, "error", err)
	} else if n > 0 {
		log.Info("dead-letter journal drained", "replayed", n)
	}

	// --- Consumer Workers ---
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "consumer-default"
	}
	topics := []string{cfg.PricesTopic, cfg.NewsTopic}

	var (
		wg      sync.WaitGroup
		readers []*kafka.Reader
	)
	for i := 0; i < cfg.ConsumerWorkers; i++ {
		workerLog := log.With("worker", fmt.Sprintf("%s-%d", hostname, i))
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ConsumerGroup,
			Topics:  topics,
		}, workerLog)
		readers = append(readers, reader)

		uc := usecase.NewProcessEventsUseCase(
			reader,
			dedupStore,
			sinks,
			dlq,
			m,
			workerLog,
			cfg.SinkMaxRetries,
			cfg.SinkRetryBackoff,
			cfg.SinkWriteTimeout,
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := uc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				workerLog.Error("worker stopped", "error", err)
			}
		}()
	}

	log.Info("consumer started",
		"group", cfg.ConsumerGroup, "workers", cfg.ConsumerWorkers, "topics", topics)

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info("shutdown signal received, draining workers...")
	wg.Wait()

	for _, reader := range readers {
		if err := reader.Close(); err != nil {
			log.Error("failed to close reader", "error", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}

	log.Info("consumer shut down gracefully")
}
