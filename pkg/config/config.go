package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Logger struct {
		Level     string `yaml:"level" default:"info"`
		Pretty    bool   `yaml:"pretty"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"pickflow.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"logger"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Pipeline struct {
		BatchCount int `yaml:"batch_count" default:"18"`
		// LastBatchIndex triggers the merge in distributed mode; negative means batch_count-1.
		LastBatchIndex     int            `yaml:"last_batch_index" default:"-1"`
		Concurrency        int            `yaml:"concurrency" default:"20"`
		FetchTimeout       time.Duration  `yaml:"fetch_timeout" default:"10s"`
		HistoryCount       int            `yaml:"history_count" default:"120"`
		MinSuccessRate     float64        `yaml:"min_success_rate" default:"0.9"`
		MaxPerSector       int            `yaml:"max_per_sector" default:"3"`
		TargetCounts       map[string]int `yaml:"target_counts"`
		MarketIndex        string         `yaml:"market_index" default:"^N225"`
		Timezone           string         `yaml:"timezone" default:"Asia/Tokyo"`
		MaxRisk            float64        `yaml:"max_risk" default:"60"`
		MinVolumeScore     float64        `yaml:"min_volume_score" default:"5"`
		AssignmentTTL      time.Duration  `yaml:"assignment_ttl" default:"36h"`
		PrerequisiteWait   time.Duration  `yaml:"prerequisite_timeout" default:"30m"`
		PrerequisitePoll   time.Duration  `yaml:"prerequisite_poll" default:"30s"`
		PrerequisiteMarker string         `yaml:"prerequisite_marker" default:"data/markers"`
	} `yaml:"pipeline"`
	MarketData struct {
		BaseURL string        `yaml:"base_url" default:"http://localhost:9000"`
		APIKey  string        `yaml:"api_key"`
		RPS     float64       `yaml:"rps" default:"10"`
		Burst   int           `yaml:"burst" default:"10"`
		Timeout time.Duration `yaml:"timeout" default:"8s"`
		Retry   struct {
			MaxAttempts int           `yaml:"max_attempts" default:"3"`
			Backoff     time.Duration `yaml:"backoff" default:"200ms"`
		} `yaml:"retry"`
		Breaker struct {
			MaxRequests      uint32        `yaml:"max_requests" default:"1"`
			Interval         time.Duration `yaml:"interval" default:"60s"`
			Timeout          time.Duration `yaml:"timeout" default:"30s"`
			ConsecutiveFails uint32        `yaml:"consecutive_failures" default:"5"`
		} `yaml:"breaker"`
		CacheTTL time.Duration `yaml:"cache_ttl" default:"24h"`
	} `yaml:"marketdata"`
	Watchlist struct {
		Path string `yaml:"path" default:"config/watchlist.yaml"`
	} `yaml:"watchlist"`
	Store struct {
		Primary     string `yaml:"primary" default:"file"`
		FallbackDir string `yaml:"fallback_dir" default:"data/results"`
	} `yaml:"store"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"pickflow"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		AsyncInsert      bool          `yaml:"async_insert"`
	} `yaml:"clickhouse"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path" default:"data/pickflow.db"`
	} `yaml:"sqlite"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"pickflow"`
	} `yaml:"redis"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Name       string        `yaml:"name" default:"batches"`
		Workers    int           `yaml:"workers" default:"1"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	} `yaml:"queue"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		SummaryTopic string        `yaml:"summary_topic" default:"pickflow.summaries"`
		AlertTopic   string        `yaml:"alert_topic" default:"pickflow.alerts"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"snappy"`
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
		AutoCreate   bool          `yaml:"auto_create_topics"`
	} `yaml:"kafka"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	_ = c.applyDefaults()
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	// Defaults first so explicit zero values in the file survive.
	var c Config
	if err := c.applyDefaults(); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	c.overrideFromEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) overrideFromEnv() {
	if v := os.Getenv("PICKFLOW_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("STORE_PRIMARY"); v != "" {
		c.Store.Primary = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("MARKETDATA_BASE_URL"); v != "" {
		c.MarketData.BaseURL = v
	}
	if v := os.Getenv("MARKETDATA_API_KEY"); v != "" {
		c.MarketData.APIKey = v
	}
	if v := os.Getenv("WATCHLIST_PATH"); v != "" {
		c.Watchlist.Path = v
	}
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	if c.Pipeline.TargetCounts == nil {
		c.Pipeline.TargetCounts = map[string]int{"bullish": 12, "neutral": 8, "bearish": 5}
	}
	return nil
}

// MergeBatchIndex returns the batch index whose completion triggers the merge.
func (c *Config) MergeBatchIndex() int {
	if c.Pipeline.LastBatchIndex < 0 {
		return c.Pipeline.BatchCount - 1
	}
	return c.Pipeline.LastBatchIndex
}

// Location resolves the pipeline timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Pipeline.Timezone)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	p := c.Pipeline
	if p.BatchCount < 1 {
		return fmt.Errorf("pipeline.batch_count must be >= 1, got %d", p.BatchCount)
	}
	if p.LastBatchIndex >= p.BatchCount {
		return fmt.Errorf("pipeline.last_batch_index %d out of range for %d batches", p.LastBatchIndex, p.BatchCount)
	}
	if p.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be >= 1")
	}
	if p.MinSuccessRate < 0 || p.MinSuccessRate > 1 {
		return fmt.Errorf("pipeline.min_success_rate must be within [0,1], got %v", p.MinSuccessRate)
	}
	if p.MaxPerSector < 1 {
		return fmt.Errorf("pipeline.max_per_sector must be >= 1")
	}
	for _, bias := range []string{"bullish", "neutral", "bearish"} {
		if n, ok := p.TargetCounts[bias]; !ok || n < 0 {
			return fmt.Errorf("pipeline.target_counts.%s is required and must be >= 0", bias)
		}
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("pipeline.timezone: %w", err)
	}

	switch c.Store.Primary {
	case "clickhouse", "file", "sqlite":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when store.primary is 'postgres'")
		}
	default:
		return fmt.Errorf("store.primary must be 'clickhouse', 'postgres', 'sqlite' or 'file', got '%s'", c.Store.Primary)
	}
	if c.Store.FallbackDir == "" {
		return fmt.Errorf("store.fallback_dir is required")
	}

	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("marketdata.base_url is required")
	}
	if c.MarketData.RPS <= 0 {
		return fmt.Errorf("marketdata.rps must be > 0")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue requires redis.enabled")
	}
	return nil
}
