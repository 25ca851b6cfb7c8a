package cache

import (
	"time"

	"BTProxy/pkg/logger"
)

// RedisOption configures RedisStore.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	DialTimeout  time.Duration
	Prefix       string
	SkipPing     bool
}

// WithRedisAddr sets Redis host and port.
func WithRedisAddr(host string, port int) RedisOption {
	return func(c *RedisConfig) {
		c.Host = host
		c.Port = port
	}
}

// WithRedisAuth sets password and database number.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
		c.DB = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

// WithRedisDialTimeout bounds connection setup.
func WithRedisDialTimeout(d time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.DialTimeout = d
	}
}

// WithRedisPrefix sets the key namespace prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.Prefix = prefix
	}
}

// WithRedisLazyConnect skips the startup ping, so an unreachable Redis does
// not prevent the service from starting.
func WithRedisLazyConnect() RedisOption {
	return func(c *RedisConfig) {
		c.SkipPing = true
	}
}

// MemoryOption configures MemoryStore.
type MemoryOption func(*MemoryConfig)

// MemoryConfig holds memory store configuration.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
	Now             func() time.Time
}

// WithMemoryMaxSize sets max number of keys before LRU eviction.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		c.MaxSize = size
	}
}

// WithMemoryCleanup sets cleanup interval.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.CleanupInterval = interval
	}
}

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryConfig) {
		c.Now = now
	}
}

// Option configures GraceCache.
type Option func(*Config)

// Config holds grace cache configuration.
type Config struct {
	TTL             time.Duration
	Grace           time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
	Now             func() time.Time
	Logger          *logger.Logger
	OnStoreError    func(op string)
}

// WithTTL sets the default time-to-live of new entries.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TTL = ttl
	}
}

// WithGrace sets how long past TTL an entry stays servable.
func WithGrace(grace time.Duration) Option {
	return func(c *Config) {
		c.Grace = grace
	}
}

// WithMaxEntries bounds the local entry table.
func WithMaxEntries(n int) Option {
	return func(c *Config) {
		c.MaxEntries = n
	}
}

// WithCleanupInterval sets the sweep period; 0 disables the sweeper.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) {
		c.CleanupInterval = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(l *logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithStoreErrorHook is called with the operation name on every store failure.
func WithStoreErrorHook(fn func(op string)) Option {
	return func(c *Config) {
		c.OnStoreError = fn
	}
}
