package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendSQLite        = "sqlite"
	BackendElasticsearch = "elasticsearch"
)

// Sources configures the upstream adapters, their rate limits and the result cache.
type Sources struct {
	GazetteBaseURL  string
	CaseLawBaseURL  string
	MinInterval     time.Duration
	GazetteInterval time.Duration
	CaseLawInterval time.Duration
	HTTPTimeout     time.Duration
	CacheTTL        time.Duration
	CacheCapacity   int
	DefaultLimit    int
	CaseLawLimit    int
	GazettePageSize int
	UserAgent       string
	KeywordsFile    string
}

// Store selects and addresses the durable record store.
type Store struct {
	Backend            string
	SQLitePath         string
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// Common contains parameters shared by every binary.
type Common struct {
	Sources
	Store
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr       string
	MaxLimit       int
	RequestTimeout time.Duration
}

// Worker holds configuration for the sync-request consumer.
type Worker struct {
	Common
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	BatchSize      int
	MessageTimeout time.Duration
}

// Sweeper configures the periodic alert verification loop.
type Sweeper struct {
	Common
	KafkaBrokers []string
	AlertsTopic  string
	Interval     time.Duration
	AlertTimeout time.Duration
	SeenLimit    int
	Concurrency  int
}

// LoadCommon builds the shared configuration from environment variables.
func LoadCommon() (*Common, error) {
	minInterval := getDuration("SOURCE_MIN_INTERVAL", "3000ms")
	c := &Common{
		Sources: Sources{
			GazetteBaseURL:  getEnv("GAZETTE_BASE_URL", "https://www.boe.es"),
			CaseLawBaseURL:  getEnv("CASELAW_BASE_URL", "https://www.poderjudicial.es"),
			MinInterval:     minInterval,
			GazetteInterval: getDuration("GAZETTE_MIN_INTERVAL", minInterval.String()),
			CaseLawInterval: getDuration("CASELAW_MIN_INTERVAL", minInterval.String()),
			HTTPTimeout:     getDuration("SOURCE_HTTP_TIMEOUT", "15s"),
			CacheTTL:        getDuration("CACHE_TTL", "24h"),
			CacheCapacity:   getInt("CACHE_CAPACITY", 1000),
			DefaultLimit:    getInt("SEARCH_DEFAULT_LIMIT", 10),
			CaseLawLimit:    getInt("CASELAW_DEFAULT_LIMIT", 10),
			GazettePageSize: getInt("GAZETTE_PAGE_SIZE", 50),
			UserAgent:       getEnv("CLIENT_USER_AGENT", "legal-radar/1.0 (+https://github.com/DeafMist/legal-radar)"),
			KeywordsFile:    getEnv("CASELAW_KEYWORDS_FILE", ""),
		},
		Store: Store{
			Backend:            strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
			SQLitePath:         getEnv("SQLITE_PATH", "./data/legal.db"),
			ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
			ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "legal_records"),
		},
	}

	if c.MinInterval <= 0 || c.GazetteInterval <= 0 || c.CaseLawInterval <= 0 {
		return nil, fmt.Errorf("SOURCE_MIN_INTERVAL, GAZETTE_MIN_INTERVAL and CASELAW_MIN_INTERVAL must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("SOURCE_HTTP_TIMEOUT must be positive")
	}
	if c.CacheTTL <= 0 {
		return nil, fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.CacheCapacity <= 0 {
		return nil, fmt.Errorf("CACHE_CAPACITY must be positive")
	}
	if c.DefaultLimit <= 0 {
		return nil, fmt.Errorf("SEARCH_DEFAULT_LIMIT must be positive")
	}
	if c.CaseLawLimit <= 0 {
		return nil, fmt.Errorf("CASELAW_DEFAULT_LIMIT must be positive")
	}
	if c.GazettePageSize <= 0 {
		return nil, fmt.Errorf("GAZETTE_PAGE_SIZE must be positive")
	}
	switch c.Backend {
	case BackendSQLite, BackendElasticsearch:
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendSQLite, BackendElasticsearch, c.Backend)
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	common, err := LoadCommon()
	if err != nil {
		return nil, err
	}
	c := &API{
		Common:         *common,
		BindAddr:       getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		MaxLimit:       getInt("API_MAX_LIMIT", 100),
		RequestTimeout: getDuration("API_REQUEST_TIMEOUT", "20s"),
	}

	if c.MaxLimit <= 0 {
		return nil, fmt.Errorf("API_MAX_LIMIT must be positive")
	}
	if c.DefaultLimit > c.MaxLimit {
		return nil, fmt.Errorf("SEARCH_DEFAULT_LIMIT cannot exceed API_MAX_LIMIT")
	}
	if c.RequestTimeout <= 0 {
		return nil, fmt.Errorf("API_REQUEST_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	common, err := LoadCommon()
	if err != nil {
		return nil, err
	}
	c := &Worker{
		Common:         *common,
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("LEGAL_SYNC_TOPIC", "legal_sync_requests"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "legal-sync-worker"),
		BatchSize:      getInt("WORKER_BATCH_SIZE", 10),
		MessageTimeout: getDuration("WORKER_MESSAGE_TIMEOUT", "2m"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.MessageTimeout <= 0 {
		return nil, fmt.Errorf("WORKER_MESSAGE_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadSweeper builds a Sweeper config from environment variables.
func LoadSweeper() (*Sweeper, error) {
	common, err := LoadCommon()
	if err != nil {
		return nil, err
	}
	c := &Sweeper{
		Common:       *common,
		KafkaBrokers: splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		AlertsTopic:  getEnv("LEGAL_ALERTS_TOPIC", "legal_alerts"),
		Interval:     getDuration("SWEEPER_INTERVAL", "1h"),
		AlertTimeout: getDuration("ALERT_TIMEOUT", "10s"),
		SeenLimit:    getInt("ALERT_SEEN_LIMIT", 500),
		Concurrency:  getInt("ALERT_CONCURRENCY", 4),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("SWEEPER_INTERVAL must be positive")
	}
	if c.AlertTimeout <= 0 {
		return nil, fmt.Errorf("ALERT_TIMEOUT must be positive")
	}
	if c.SeenLimit <= 0 {
		return nil, fmt.Errorf("ALERT_SEEN_LIMIT must be positive")
	}
	if c.Concurrency <= 0 {
		return nil, fmt.Errorf("ALERT_CONCURRENCY must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
