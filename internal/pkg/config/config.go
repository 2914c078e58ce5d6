package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// FeedConfig holds the per-upstream connection and quota settings.
type FeedConfig struct {
	BaseURL     string        `env:"BASE_URL"`
	APIKey      string        `env:"API_KEY"`
	Quota       int           `env:"QUOTA" envDefault:"300"`
	QuotaWindow time.Duration `env:"QUOTA_WINDOW" envDefault:"1m"`
}

// Config holds all application configuration for both binaries.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string `env:"METRICS_SERVER_ADDR" envDefault:":9090"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	PricesTopic     string   `env:"KAFKA_PRICES_TOPIC" envDefault:"market.prices"`
	NewsTopic       string   `env:"KAFKA_NEWS_TOPIC" envDefault:"market.news"`
	DeadLetterTopic string   `env:"KAFKA_DEAD_LETTER_TOPIC" envDefault:"market.deadletter"`
	ConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"market-sink-writers"`
	ConsumerWorkers int      `env:"CONSUMER_WORKERS" envDefault:"3"`

	PostgresURL string `env:"POSTGRES_URL,required"`

	RedisAddr      string        `env:"REDIS_ADDR,required"`
	DedupRetention time.Duration `env:"DEDUP_RETENTION" envDefault:"24h"`

	ObjectStoreEndpoint  string `env:"OBJECT_STORE_ENDPOINT,required"`
	ObjectStoreAccessKey string `env:"OBJECT_STORE_ACCESS_KEY,required"`
	ObjectStoreSecretKey string `env:"OBJECT_STORE_SECRET_KEY,required"`
	ObjectStoreBucket    string `env:"OBJECT_STORE_BUCKET" envDefault:"market-events"`
	ObjectStoreUseSSL    bool   `env:"OBJECT_STORE_USE_SSL" envDefault:"false"`

	SymbolsObjectKey string   `env:"SYMBOLS_OBJECT_KEY" envDefault:"catalog/symbols.csv"`
	StaticSymbols    []string `env:"SYMBOLS" envSeparator:","`
	NewsCategories   []string `env:"NEWS_CATEGORIES" envSeparator:"," envDefault:"markets,technology"`

	PriceFeedA FeedConfig `envPrefix:"PRICE_FEED_A_"`
	PriceFeedB FeedConfig `envPrefix:"PRICE_FEED_B_"`
	NewsFeed   FeedConfig `envPrefix:"NEWS_FEED_"`

	CollectInterval  time.Duration `env:"COLLECT_INTERVAL" envDefault:"1m"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	FetchRetries     int           `env:"FETCH_RETRIES" envDefault:"3"`
	FetchBackoff     time.Duration `env:"FETCH_RETRY_BACKOFF" envDefault:"1s"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY" envDefault:"8"`

	PublishBufferSize    int           `env:"PUBLISH_BUFFER_SIZE" envDefault:"4096"`
	PublishFlushInterval time.Duration `env:"PUBLISH_FLUSH_INTERVAL" envDefault:"5s"`

	SinkMaxRetries   int           `env:"SINK_MAX_RETRIES" envDefault:"3"`
	SinkRetryBackoff time.Duration `env:"SINK_RETRY_BACKOFF" envDefault:"500ms"`
	SinkWriteTimeout time.Duration `env:"SINK_WRITE_TIMEOUT" envDefault:"10s"`

	DeadLetterJournalDir          string `env:"DEAD_LETTER_JOURNAL_DIR" envDefault:"./deadletters"`
	DeadLetterJournalSegmentBytes int64  `env:"DEAD_LETTER_JOURNAL_SEGMENT_BYTES" envDefault:"10485760"` // 10MB
	DeadLetterJournalMaxBytes     int64  `env:"DEAD_LETTER_JOURNAL_MAX_BYTES" envDefault:"104857600"`    // 100MB
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return errors.New("config: KAFKA_BROKERS must list at least one broker")
	}
	if c.PricesTopic == "" || c.NewsTopic == "" || c.DeadLetterTopic == "" {
		return errors.New("config: kafka topics must not be empty")
	}
	if c.DeadLetterTopic == c.PricesTopic || c.DeadLetterTopic == c.NewsTopic {
		return errors.New("config: dead-letter topic must differ from event topics")
	}
	if c.ConsumerGroup == "" {
		return errors.New("config: KAFKA_CONSUMER_GROUP must not be empty")
	}
	if c.ConsumerWorkers < 1 {
		return errors.New("config: CONSUMER_WORKERS must be at least 1")
	}
	if c.DedupRetention <= 0 {
		return errors.New("config: DEDUP_RETENTION must be positive")
	}
	if c.CollectInterval <= 0 {
		return errors.New("config: COLLECT_INTERVAL must be positive")
	}
	if c.FetchConcurrency < 1 {
		return errors.New("config: FETCH_CONCURRENCY must be at least 1")
	}
	if c.FetchRetries < 0 {
		return errors.New("config: FETCH_RETRIES must not be negative")
	}
	if c.PublishBufferSize < 1 {
		return errors.New("config: PUBLISH_BUFFER_SIZE must be at least 1")
	}
	if c.SinkMaxRetries < 0 {
		return errors.New("config: SINK_MAX_RETRIES must not be negative")
	}
	for name, feed := range map[string]FeedConfig{
		"PRICE_FEED_A": c.PriceFeedA,
		"PRICE_FEED_B": c.PriceFeedB,
		"NEWS_FEED":    c.NewsFeed,
	} {
		if feed.Quota < 1 {
			return fmt.Errorf("config: %s_QUOTA must be at least 1", name)
		}
		if feed.QuotaWindow <= 0 {
			return fmt.Errorf("config: %s_QUOTA_WINDOW must be positive", name)
		}
	}
	return nil
}
