package repository

import (
	"context"
	"time"

	"DriftWatch/internal/domain/models"
)

type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// EventPublisher fans drift events out to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, e *models.DriftEvent) error
	PublishBatch(ctx context.Context, events []*models.DriftEvent) error
	Close() error
}

// EventStorage archives drift events.
type EventStorage interface {
	Store(ctx context.Context, e *models.DriftEvent) error
	StoreBatch(ctx context.Context, events []*models.DriftEvent) error
	Query(ctx context.Context, from, to time.Time, limit int) ([]*models.DriftEvent, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// TrainingStore provides feature/label windows for retraining jobs.
type TrainingStore interface {
	FetchTrainingWindow(ctx context.Context, symbol string, n int) (*models.TrainingSet, error)
}

// DataSource produces a fresh training set for one registered model.
type DataSource func(ctx context.Context) (*models.TrainingSet, error)

// Model is the opaque trainable unit the scheduler coordinates.
type Model interface {
	PartialFit(ctx context.Context, set *models.TrainingSet) (*models.FitResult, error)
	SamplesSeen(ctx context.Context) (int64, error)
	Version(ctx context.Context) (string, error)
	SaveModel(ctx context.Context, path string) error
}

// PerformanceTracker reports whether recent model performance degraded
// beyond a threshold.
type PerformanceTracker interface {
	DetectPerformanceDegradation(ctx context.Context, threshold float64) (bool, error)
}

type Metrics interface {
	RecordMessageSent(backend, kind string)
	RecordError(kind string)
	RecordSampleValue(symbol string, value float64)
	RecordLatency(op string, seconds float64)
}
