// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Shopify, Indexing, Pipeline,
// Reconcile, etc.). Nothing in this package is global: each binary loads a
// Config once and passes the relevant sections to the components it builds.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Shopify   ShopifyConfig   `yaml:"shopify"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IngestionRequested string `yaml:"ingestionRequested"`
}

// RedisConfig holds Redis connection and lock parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	LockTTL  time.Duration `yaml:"lockTTL"`
}

// ShopifyConfig controls the Admin GraphQL client and the throttle backoff
// applied by the paginator.
type ShopifyConfig struct {
	APIVersion      string        `yaml:"apiVersion"`
	PageSize        int           `yaml:"pageSize"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	InterPageDelay  time.Duration `yaml:"interPageDelay"`
	RetryBaseDelay  time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay   time.Duration `yaml:"retryMaxDelay"`
	RetryMultiplier float64       `yaml:"retryMultiplier"`
	MaxRetries      int           `yaml:"maxRetries"`
}

// IndexingConfig describes the external knowledge-base service. Mode selects
// between a locally hosted instance and the production deployment; each mode
// carries its own endpoint and key.
type IndexingConfig struct {
	Mode              string            `yaml:"mode"`
	Local             IndexingEndpoint  `yaml:"local"`
	Production        IndexingEndpoint  `yaml:"production"`
	RequestTimeout    time.Duration     `yaml:"requestTimeout"`
	RequestsPerSecond float64           `yaml:"requestsPerSecond"`
	Burst             int               `yaml:"burst"`
	IndexingTechnique string            `yaml:"indexingTechnique"`
	Permission        string            `yaml:"permission"`
	DocForm           string            `yaml:"docForm"`
	DocLanguage       string            `yaml:"docLanguage"`
	Segmentation      SegmentationRules `yaml:"segmentation"`
}

// IndexingEndpoint is a base URL plus API key pair.
type IndexingEndpoint struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
}

// SegmentationRules mirror the parent/child chunking parameters sent with
// every created document.
type SegmentationRules struct {
	Separator            string `yaml:"separator"`
	MaxTokens            int    `yaml:"maxTokens"`
	SubchunkSeparator    string `yaml:"subchunkSeparator"`
	SubchunkMaxTokens    int    `yaml:"subchunkMaxTokens"`
	SubchunkChunkOverlap int    `yaml:"subchunkChunkOverlap"`
}

// Endpoint returns the endpoint selected by Mode.
func (c IndexingConfig) Endpoint() IndexingEndpoint {
	if c.Mode == "local" {
		return c.Local
	}
	return c.Production
}

// PipelineConfig controls chunking of normalised records.
type PipelineConfig struct {
	ChunkSize int `yaml:"chunkSize"`
}

// ReconcileConfig controls the periodic reconciliation sweep.
type ReconcileConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Workers      int           `yaml:"workers"`
	StoreTimeout time.Duration `yaml:"storeTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging for ingestion runs.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Pipeline.ChunkSize <= 0 {
		problems = append(problems, "pipeline.chunkSize must be positive")
	}
	if c.Shopify.PageSize <= 0 || c.Shopify.PageSize > 250 {
		problems = append(problems, "shopify.pageSize must be between 1 and 250")
	}
	if c.Shopify.MaxRetries <= 0 {
		problems = append(problems, "shopify.maxRetries must be positive")
	}
	if c.Shopify.RetryMultiplier < 1 {
		problems = append(problems, "shopify.retryMultiplier must be at least 1")
	}
	switch c.Indexing.Mode {
	case "local", "production":
	default:
		problems = append(problems, fmt.Sprintf("indexing.mode %q must be local or production", c.Indexing.Mode))
	}
	if c.Indexing.Segmentation.Separator == "" {
		problems = append(problems, "indexing.segmentation.separator is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8081,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    3 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  2 * time.Minute,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "knowledgesync",
			User:            "knowledgesync",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "knowledgesync-workers",
			Topics: KafkaTopics{
				IngestionRequested: "ingestion-requested",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			LockTTL:  2 * time.Hour,
		},
		Shopify: ShopifyConfig{
			APIVersion:      "2024-10",
			PageSize:        50,
			RequestTimeout:  30 * time.Second,
			InterPageDelay:  5 * time.Second,
			RetryBaseDelay:  3 * time.Second,
			RetryMaxDelay:   2 * time.Minute,
			RetryMultiplier: 1.5,
			MaxRetries:      8,
		},
		Indexing: IndexingConfig{
			Mode: "local",
			Local: IndexingEndpoint{
				BaseURL: "http://localhost:5001/v1",
			},
			RequestTimeout:    60 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			IndexingTechnique: "high_quality",
			Permission:        "only_me",
			DocForm:           "hierarchical_model",
			DocLanguage:       "ja",
			Segmentation: SegmentationRules{
				Separator:            "###",
				MaxTokens:            3000,
				SubchunkSeparator:    "\n",
				SubchunkMaxTokens:    500,
				SubchunkChunkOverlap: 50,
			},
		},
		Pipeline: PipelineConfig{
			ChunkSize: 100,
		},
		Reconcile: ReconcileConfig{
			Interval:     time.Minute,
			Workers:      4,
			StoreTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads KS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("KS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("KS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("KS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("KS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("KS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("KS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KS_SHOPIFY_API_VERSION"); v != "" {
		cfg.Shopify.APIVersion = v
	}
	if v := os.Getenv("KS_SHOPIFY_INTER_PAGE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Shopify.InterPageDelay = d
		}
	}
	if v := os.Getenv("KS_INDEXING_MODE"); v != "" {
		cfg.Indexing.Mode = v
	}
	if v := os.Getenv("KS_INDEXING_LOCAL_URL"); v != "" {
		cfg.Indexing.Local.BaseURL = v
	}
	if v := os.Getenv("KS_INDEXING_LOCAL_API_KEY"); v != "" {
		cfg.Indexing.Local.APIKey = v
	}
	if v := os.Getenv("KS_INDEXING_URL"); v != "" {
		cfg.Indexing.Production.BaseURL = v
	}
	if v := os.Getenv("KS_INDEXING_API_KEY"); v != "" {
		cfg.Indexing.Production.APIKey = v
	}
	if v := os.Getenv("KS_PIPELINE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ChunkSize = n
		}
	}
	if v := os.Getenv("KS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
