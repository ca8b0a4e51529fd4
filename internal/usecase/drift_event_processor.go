package usecase

import (
	"context"
	"fmt"
	"time"

	"DriftWatch/internal/domain/models"
	drepo "DriftWatch/internal/domain/repository"
	applogger "DriftWatch/pkg/logger"
)

// DriftEventProcessor fans recorded drift events out to the configured
// backends: Kafka for live consumers, ClickHouse for the archive, or both.
// It is registered as an event sink on the drift monitor.
type DriftEventProcessor struct {
	pub     drepo.EventPublisher
	store   drepo.EventStorage
	metrics drepo.Metrics
	logger  *applogger.Logger
	backend string
	timeout time.Duration
}

func NewDriftEventProcessor(
	pub drepo.EventPublisher,
	store drepo.EventStorage,
	metrics drepo.Metrics,
	logger *applogger.Logger,
	backend string,
	timeout time.Duration,
) *DriftEventProcessor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DriftEventProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		logger:  logger,
		backend: backend,
		timeout: timeout,
	}
}

// Process routes a single drift event to the configured backend.
func (p *DriftEventProcessor) Process(ctx context.Context, e *models.DriftEvent) error {
	if e == nil {
		return fmt.Errorf("event is nil")
	}
	start := time.Now()
	var err error
	switch p.backend {
	case "kafka":
		err = p.pub.Publish(ctx, e)
	case "clickhouse":
		err = p.store.Store(ctx, e)
	case "both":
		if perr := p.pub.Publish(ctx, e); perr != nil {
			err = perr
		}
		if serr := p.store.Store(ctx, e); serr != nil && err == nil {
			err = serr
		}
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}
	if err != nil {
		p.metrics.RecordError("event_process")
		return fmt.Errorf("process drift event: %w", err)
	}
	p.metrics.RecordMessageSent(p.backend, e.VotingMethod)
	p.metrics.RecordLatency("event_process", time.Since(start).Seconds())
	return nil
}

// ProcessBatch routes multiple drift events in one backend call.
func (p *DriftEventProcessor) ProcessBatch(ctx context.Context, events []*models.DriftEvent) error {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	var err error
	switch p.backend {
	case "kafka":
		err = p.pub.PublishBatch(ctx, events)
	case "clickhouse":
		err = p.store.StoreBatch(ctx, events)
	case "both":
		if perr := p.pub.PublishBatch(ctx, events); perr != nil {
			err = perr
		}
		if serr := p.store.StoreBatch(ctx, events); serr != nil && err == nil {
			err = serr
		}
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}
	if err != nil {
		p.metrics.RecordError("event_process_batch")
		return fmt.Errorf("process drift event batch: %w", err)
	}
	for _, e := range events {
		p.metrics.RecordMessageSent(p.backend, e.VotingMethod)
	}
	p.metrics.RecordLatency("event_process_batch", time.Since(start).Seconds())
	return nil
}

// Sink adapts Process to the monitor's event-sink callback. Failures are
// logged, never propagated into the monitor.
func (p *DriftEventProcessor) Sink() func(*models.DriftEvent) {
	return func(e *models.DriftEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Process(ctx, e); err != nil && p.logger != nil {
			p.logger.Error("drift event dispatch failed", applogger.Error(err))
		}
	}
}

// Close closes underlying resources if available.
func (p *DriftEventProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
