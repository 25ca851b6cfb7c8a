//go:build wireinject
// +build wireinject

package di

import (
	"BTProxy/pkg/config"
	"BTProxy/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup releases caches, stores and connections in reverse order.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,
		ProvideDomainMetrics,

		// Infrastructure
		ProvideCacheStore,
		ProvideSummaryCache,
		ProvideHistory,
		ProvideSummaryEvents,

		// Use cases
		ProvideSimulator,
		ProvideBacktestUseCase,
		ProvidePromoteUseCase,
		ProvideCacheOps,
		ProvideWarmupHandler,

		// Transport
		ProvideLimiter,
		ProvideHandlers,
		ProvideHTTPServer,
		ProvideKafkaConsumer,
		ProvideWarmQueue,
		ProvideWorkers,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
