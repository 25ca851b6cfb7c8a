package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"BTProxy/internal/domain/models"
	"BTProxy/internal/domain/repository"
	"BTProxy/internal/handler/api"
	internalrepo "BTProxy/internal/repository"
	"BTProxy/internal/service/ratelimit"
	"BTProxy/internal/services/simulation"
	"BTProxy/internal/usecase"
	"BTProxy/pkg/cache"
	pkgch "BTProxy/pkg/clickhouse"
	"BTProxy/pkg/config"
	xhttp "BTProxy/pkg/http"
	pkgkafka "BTProxy/pkg/kafka"
	applogger "BTProxy/pkg/logger"
	"BTProxy/pkg/metrics"
	"BTProxy/pkg/postgres"
	"BTProxy/pkg/queue"
	"BTProxy/pkg/server"
)

const schemaTimeout = 10 * time.Second

// ProvideLogger creates the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideRegistry creates a private Prometheus registry with the Go and
// process collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

func ProvideDomainMetrics(r *metrics.Recorder) repository.Metrics {
	return r
}

// ProvideCacheStore creates the backing store selected by cache.backend.
func ProvideCacheStore(cfg *config.Config, log *applogger.Logger) (cache.Store, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		rc := cfg.Cache.Redis
		store, err := cache.NewRedisStore(
			cache.WithRedisAddr(rc.Host, rc.Port),
			cache.WithRedisAuth(rc.Password, rc.DB),
			cache.WithRedisPool(rc.PoolSize, rc.PoolSize/2, 3*time.Second),
			cache.WithRedisPrefix(rc.Prefix),
			cache.WithRedisLazyConnect(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache store: %w", err)
		}
		// The summary cache fails open, so an unreachable Redis only degrades
		// the service to in-process caching.
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := store.Client().Ping(pingCtx).Err(); err != nil {
			log.Warn("redis cache store unreachable, caching in-process until it recovers", applogger.Error(err))
		}
		cancel()
		log.Info("cache store ready", applogger.String("backend", "redis"), applogger.String("host", rc.Host), applogger.Int("port", rc.Port))
		return store, func() { closeLogged(log, "redis cache store", store.Close) }, nil
	default:
		store := cache.NewMemoryStore(
			cache.WithMemoryMaxSize(cfg.Cache.MaxEntries),
			cache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
		)
		log.Info("cache store ready", applogger.String("backend", "memory"))
		return store, func() { closeLogged(log, "memory cache store", store.Close) }, nil
	}
}

// ProvideSummaryCache creates the shared summary cache over store.
func ProvideSummaryCache(cfg *config.Config, store cache.Store, rec *metrics.Recorder, log *applogger.Logger) (*usecase.SummaryCache, func()) {
	c := cache.New[models.BacktestSummary](store,
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithGrace(cfg.Cache.Grace),
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithCleanupInterval(cfg.Cache.CleanupInterval),
		cache.WithLogger(log),
		cache.WithStoreErrorHook(rec.RecordStoreError),
	)
	return c, func() { closeLogged(log, "summary cache", c.Close) }
}

// ProvideHistory creates the history provider selected by history.backend
// and optionally creates its schema.
func ProvideHistory(cfg *config.Config, log *applogger.Logger) (repository.HistoryProvider, func(), error) {
	hc := cfg.History
	switch hc.Backend {
	case "clickhouse":
		ch, err := pkgch.NewClient(
			pkgch.WithHost(hc.ClickHouse.Host),
			pkgch.WithPort(hc.ClickHouse.Port),
			pkgch.WithDatabase(hc.ClickHouse.Database),
			pkgch.WithCredentials(hc.ClickHouse.User, hc.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(hc.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(hc.ClickHouse.DialTimeout, hc.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(hc.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		if hc.InitSchema {
			ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
			defer cancel()
			if err := ch.InitSchema(ctx, internalrepo.ClickHouseSchema); err != nil {
				_ = ch.Close()
				return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
			}
		}
		log.Info("history provider ready", applogger.String("backend", "clickhouse"), applogger.String("database", hc.ClickHouse.Database))
		return internalrepo.NewCHHistory(ch, log), func() { closeLogged(log, "clickhouse", ch.Close) }, nil

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		defer cancel()
		pool, err := postgres.NewPool(ctx, hc.Postgres.DSN, postgres.WithMaxConns(hc.Postgres.MaxConns, 1))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		if hc.InitSchema {
			if err := pool.InitSchema(ctx, internalrepo.PostgresSchema); err != nil {
				_ = pool.Close()
				return nil, nil, fmt.Errorf("postgres schema: %w", err)
			}
		}
		log.Info("history provider ready", applogger.String("backend", "postgres"))
		return internalrepo.NewPGHistory(pool, log), func() { closeLogged(log, "postgres", pool.Close) }, nil

	case "http":
		client := xhttp.NewClient(xhttp.WithTimeout(hc.HTTP.Timeout), xhttp.WithUserAgent("btproxy/1"))
		log.Info("history provider ready", applogger.String("backend", "http"), applogger.String("base_url", hc.HTTP.BaseURL))
		return internalrepo.NewHTTPHistory(hc.HTTP.BaseURL, hc.HTTP.APIKey, client, log), func() {}, nil

	default:
		log.Info("history provider ready", applogger.String("backend", "synthetic"), applogger.Int("length", hc.Synthetic.Length))
		return internalrepo.NewSyntheticHistory(hc.Synthetic.Length), func() {}, nil
	}
}

func ProvideSimulator(history repository.HistoryProvider, log *applogger.Logger) usecase.Simulator {
	return simulation.NewEngine(history, log)
}

// ProvideSummaryEvents publishes summary events to Kafka when enabled.
func ProvideSummaryEvents(cfg *config.Config, reg *prometheus.Registry, log *applogger.Logger) (repository.SummaryEvents, func(), error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NoopEvents{}, func() {}, nil
	}
	kc := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(kc.Brokers),
		pkgkafka.WithCompression(kc.Compression),
		pkgkafka.WithRequiredAcks(kc.Producer.RequiredAcks),
		pkgkafka.WithMaxAttempts(kc.Producer.MaxAttempts),
		pkgkafka.WithBatch(kc.Producer.BatchSize, kc.Producer.Linger),
		pkgkafka.WithTimeouts(kc.Producer.WriteTimeout, kc.Producer.ReadTimeout),
		pkgkafka.WithAsync(kc.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
		pkgkafka.WithProducerLogger(log),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	events := internalrepo.NewKafkaEvents(producer, kc.EventsTopic)
	return events, func() { closeLogged(log, "kafka producer", events.Close) }, nil
}

func ProvideBacktestUseCase(cfg *config.Config, c *usecase.SummaryCache, sim usecase.Simulator, events repository.SummaryEvents, m repository.Metrics, log *applogger.Logger) *usecase.BacktestUseCase {
	return usecase.NewBacktestUseCase(c, sim, events, m, log, usecase.BacktestConfig{
		ServeStale:     cfg.Cache.ServeStale,
		WaitTimeout:    cfg.Cache.WaitTimeout,
		ComputeTimeout: cfg.Cache.ComputeTimeout,
	})
}

func ProvidePromoteUseCase(cfg *config.Config, c *usecase.SummaryCache, events repository.SummaryEvents, m repository.Metrics, log *applogger.Logger) *usecase.PromoteUseCase {
	pc := cfg.Promotion
	return usecase.NewPromoteUseCase(c, events, m, log, usecase.PromotionConfig{
		MinSamples:     pc.MinSamples,
		TTLMultiplier:  pc.TTLMultiplier,
		ChainCoverage:  pc.ChainCoverage,
		WinRateHaircut: pc.WinRateHaircut,
		Underlyings:    pc.Underlyings,
	})
}

func ProvideCacheOps(c *usecase.SummaryCache) *usecase.CacheOpsUseCase {
	return usecase.NewCacheOpsUseCase(c)
}

// ProvideLimiter returns nil when rate limiting is disabled.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}

// ProvideHandlers registers the warm route only when the Redis warm queue
// is enabled.
func ProvideHandlers(cfg *config.Config, log *applogger.Logger, bt *usecase.BacktestUseCase, ops *usecase.CacheOpsUseCase, limiter *ratelimit.Limiter, wq *queue.RedisQueue) []xhttp.Handler {
	handlers := []xhttp.Handler{
		api.NewBacktestHandler(log, bt, limiter),
		api.NewCacheHandler(log, ops),
	}
	if wq != nil {
		handlers = append(handlers, api.NewWarmHandler(log, wq, cfg.Kafka.WarmTopic))
	}
	return handlers
}

func ProvideHTTPServer(cfg *config.Config, handlers []xhttp.Handler, reg *prometheus.Registry, log *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithLogger(log),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg))
	}
	return xhttp.NewServer(handlers, opts...)
}

// ProvideKafkaConsumer returns nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, rec *metrics.Recorder, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	kc := cfg.Kafka
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(kc.Brokers),
		pkgkafka.WithConsumerGroupID(kc.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(kc.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(kc.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(kc.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(kc.Consumer.RetryMax, kc.Consumer.BackoffMin, kc.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(kc.Consumer.DLQTopic),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		After: func(_ context.Context, _ string, _ []byte, err error) { rec.RecordWarm(err) },
	})
	return consumer, nil
}

// ProvideWarmQueue returns nil when the Redis warm queue is disabled.
func ProvideWarmQueue(cfg *config.Config, log *applogger.Logger) (*queue.RedisQueue, func(), error) {
	if !cfg.WarmQueue.Enabled {
		return nil, func() {}, nil
	}
	rc := cfg.Cache.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port)),
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: cfg.WarmQueue.Workers + 2,
	})
	wc := cfg.WarmQueue
	q := queue.NewRedisQueue(client, queue.Config{
		Workers:    wc.Workers,
		RetryLimit: wc.RetryLimit,
		RetryDelay: wc.RetryDelay,
	}, queue.WithKeyPrefix(wc.Prefix), queue.WithLogger(log))
	return q, func() { closeLogged(log, "warm queue redis", client.Close) }, nil
}

func ProvideWarmupHandler(cfg *config.Config, bt *usecase.BacktestUseCase, log *applogger.Logger) *usecase.WarmupHandler {
	return usecase.NewWarmupHandler(cfg.Kafka.WarmTopic, bt, log)
}

// ProvideWorkers attaches the warm handler to every enabled warm source.
func ProvideWorkers(consumer *pkgkafka.Consumer, wq *queue.RedisQueue, warm *usecase.WarmupHandler) []server.Worker {
	var workers []server.Worker
	if consumer != nil {
		consumer.RegisterHandler(warm)
		workers = append(workers, consumer)
	}
	if wq != nil {
		wq.RegisterHandler(warm)
		workers = append(workers, wq)
	}
	return workers
}

// ProvideApp assembles the long-running components.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	srv *xhttp.Server,
	promoter *usecase.PromoteUseCase,
	workers []server.Worker,
	limiter *ratelimit.Limiter,
) *server.App {
	comps := server.Components{
		HTTP:            srv,
		PromoteInterval: cfg.Promotion.Interval,
		Workers:         workers,
		Limiter:         limiter,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if cfg.Promotion.Enabled {
		comps.Promoter = promoter
	}
	return server.New(log, comps)
}

func closeLogged(log *applogger.Logger, name string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("close failed", applogger.String("resource", name), applogger.Error(err))
	}
}
