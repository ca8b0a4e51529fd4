package usecase

import (
	"context"

	"DriftWatch/internal/domain/models"
	drepo "DriftWatch/internal/domain/repository"
	mid "DriftWatch/internal/middleware"
	"DriftWatch/internal/services/features"
)

// FeedbackCollector consumes the live market stream, extracts feature
// vectors, and pushes them through the ingestion pipeline into the drift
// monitor.
type FeedbackCollector struct {
	stream    drepo.MarketStream
	extractor *features.Extractor
	pipe      *mid.RealtimePipeline
	metrics   drepo.Metrics
}

func NewFeedbackCollector(stream drepo.MarketStream, extractor *features.Extractor, pipe *mid.RealtimePipeline, metrics drepo.Metrics) *FeedbackCollector {
	return &FeedbackCollector{stream: stream, extractor: extractor, pipe: pipe, metrics: metrics}
}

// IsConnected returns true if the market stream is connected.
func (c *FeedbackCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *FeedbackCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	trCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, trCh, errCh)
	return nil
}

func (c *FeedbackCollector) consume(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				_ = c.stream.Reconnect(ctx)
			}
		case t := <-trCh:
			if t == nil {
				continue
			}
			vec, ok := c.extractor.Update(t)
			if !ok {
				// window still warming for this symbol
				continue
			}
			_ = c.pipe.Process(ctx, &models.FeedbackRecord{
				Symbol:    t.Symbol,
				Timestamp: t.Timestamp,
				Sample:    vec,
			})
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *FeedbackCollector) Shutdown(context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}
