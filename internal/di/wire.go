//go:build wireinject
// +build wireinject

package di

import (
	"DriftWatch/pkg/config"
	"DriftWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Foundation
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Drift detection
		ProvideEnsemble,
		ProvideMonitor,

		// Event fan-out
		ProvideEventStorage,
		ProvideEventPublisher,
		ProvideEventProcessor,

		// Feedback ingest
		ProvideFinnhubStream,
		ProvideIngestor,
		ProvideFeedbackCollector,
		ProvideKafkaFeedbackHandler,

		// Retraining
		ProvidePerformanceTracker,
		ProvideTrainingStore,
		ProvideCheckpointManager,
		ProvideScheduler,

		// HTTP API and alerting
		ProvideMonitoringHandler,
		ProvideAlertQueue,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
