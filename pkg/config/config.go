package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Log         struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"45s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Cache struct {
		// memory or redis
		Backend         string        `yaml:"backend" default:"memory"`
		TTL             time.Duration `yaml:"ttl" default:"90s"`
		Grace           time.Duration `yaml:"grace" default:"30s"`
		MaxEntries      int           `yaml:"max_entries" default:"10000"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
		ServeStale      bool          `yaml:"serve_stale" default:"true"`
		WaitTimeout     time.Duration `yaml:"wait_timeout" default:"30s"`
		ComputeTimeout  time.Duration `yaml:"compute_timeout" default:"30s"`
		Redis           struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size" default:"10"`
			Prefix   string `yaml:"prefix" default:"btproxy"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	History struct {
		// clickhouse, postgres, http or synthetic
		Backend    string `yaml:"backend" default:"synthetic"`
		InitSchema bool   `yaml:"init_schema"`
		ClickHouse struct {
			Host             string        `yaml:"host"`
			Port             int           `yaml:"port" default:"9000"`
			Database         string        `yaml:"database" default:"default"`
			User             string        `yaml:"user" default:"default"`
			Password         string        `yaml:"password"`
			UseHTTP          bool          `yaml:"use_http"`
			DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
			ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
			MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		} `yaml:"clickhouse"`
		Postgres struct {
			DSN      string `yaml:"dsn"`
			MaxConns int32  `yaml:"max_conns" default:"10"`
		} `yaml:"postgres"`
		HTTP struct {
			BaseURL string        `yaml:"base_url"`
			APIKey  string        `yaml:"api_key"`
			Timeout time.Duration `yaml:"timeout" default:"10s"`
		} `yaml:"http"`
		Synthetic struct {
			Length int `yaml:"length" default:"2520"`
		} `yaml:"synthetic"`
	} `yaml:"history"`
	Promotion struct {
		Enabled        bool          `yaml:"enabled" default:"true"`
		Interval       time.Duration `yaml:"interval" default:"5m"`
		MinSamples     int           `yaml:"min_samples" default:"100"`
		TTLMultiplier  int           `yaml:"ttl_multiplier" default:"80"`
		ChainCoverage  float64       `yaml:"chain_coverage" default:"0.8"`
		WinRateHaircut float64       `yaml:"win_rate_haircut" default:"0.05"`
		Underlyings    []string      `yaml:"underlyings"`
	} `yaml:"promotion"`
	Kafka struct {
		Enabled     bool     `yaml:"enabled"`
		Brokers     []string `yaml:"brokers"`
		EventsTopic string   `yaml:"events_topic" default:"btproxy.summaries"`
		WarmTopic   string   `yaml:"warm_topic" default:"btproxy.warm"`
		Compression string   `yaml:"compression" default:"gzip"`
		Producer    struct {
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"btproxy-warm"`
			StartOffset string        `yaml:"start_offset" default:"latest"`
			Workers     int           `yaml:"workers" default:"2"`
			BufferSize  int           `yaml:"buffer_size" default:"16"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic    string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	// WarmQueue is a Redis list alternative to the Kafka warm topic. It
	// connects with the cache.redis settings.
	WarmQueue struct {
		Enabled    bool          `yaml:"enabled"`
		Prefix     string        `yaml:"prefix" default:"btproxy:warm"`
		Workers    int           `yaml:"workers" default:"2"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
	} `yaml:"warm_queue"`
	RateLimit struct {
		Enabled bool    `yaml:"enabled" default:"true"`
		RPS     float64 `yaml:"rps" default:"5"`
		Burst   int     `yaml:"burst" default:"20"`
	} `yaml:"ratelimit"`
}

// Parse decodes YAML over the defaults, so explicit zero values
// (enabled: false) survive.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// Load reads, parses and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, overrides with environment variables,
// then validates. An empty path means defaults only.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR port: %w", err)
		}
		c.Cache.Redis.Host, c.Cache.Redis.Port = host, p
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := getenv("HISTORY_BACKEND"); v != "" {
		c.History.Backend = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.History.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.History.ClickHouse.Password = v
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.History.Postgres.DSN = v
	}
	if v := getenv("HISTORY_API_KEY"); v != "" {
		c.History.HTTP.APIKey = v
	}
	if v := getenv("WARM_QUEUE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WARM_QUEUE_ENABLED: %w", err)
		}
		c.WarmQueue.Enabled = b
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be 'memory' or 'redis', got '%s'", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.Grace < 0 {
		return fmt.Errorf("cache.grace must not be negative")
	}
	switch c.History.Backend {
	case "synthetic":
	case "clickhouse":
		if c.History.ClickHouse.Host == "" {
			return fmt.Errorf("history.clickhouse.host is required")
		}
	case "postgres":
		if c.History.Postgres.DSN == "" {
			return fmt.Errorf("history.postgres.dsn is required")
		}
	case "http":
		if c.History.HTTP.BaseURL == "" {
			return fmt.Errorf("history.http.base_url is required")
		}
	default:
		return fmt.Errorf("history.backend must be one of clickhouse, postgres, http, synthetic; got '%s'", c.History.Backend)
	}
	if c.Promotion.Enabled && c.Promotion.Interval <= 0 {
		return fmt.Errorf("promotion.interval must be positive")
	}
	if c.Promotion.ChainCoverage <= 0 || c.Promotion.ChainCoverage > 1 {
		return fmt.Errorf("promotion.chain_coverage must be in (0,1]")
	}
	if c.Promotion.WinRateHaircut < 0 || c.Promotion.WinRateHaircut >= 1 {
		return fmt.Errorf("promotion.win_rate_haircut must be in [0,1)")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.WarmQueue.Enabled && c.WarmQueue.Workers <= 0 {
		return fmt.Errorf("warm_queue.workers must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive")
	}
	return nil
}
