//go:build wireinject
// +build wireinject

package di

import (
	"PickFlow/pkg/config"
	"PickFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisClient,
		ProvideCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideStore,
		ProvideMarketData,
		ProvideWatchlist,
		ProvideNotifier,
		ProvidePrerequisite,

		// Use cases
		ProvideBatchProcessor,
		ProvideSelector,
		ProvidePipeline,
		ProvideQueue,

		// Transport and application server
		ProvideHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
