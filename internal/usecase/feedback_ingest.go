package usecase

import (
	"context"
	"fmt"

	"DriftWatch/internal/domain/models"
	drepo "DriftWatch/internal/domain/repository"
	"DriftWatch/internal/drift"
)

// MonitorIngestor is the terminal sink of the ingestion path: it feeds
// validated feedback records into the drift monitor.
type MonitorIngestor struct {
	monitor *drift.Monitor
	metrics drepo.Metrics
}

func NewMonitorIngestor(monitor *drift.Monitor, metrics drepo.Metrics) *MonitorIngestor {
	return &MonitorIngestor{monitor: monitor, metrics: metrics}
}

func (i *MonitorIngestor) Ingest(_ context.Context, rec *models.FeedbackRecord) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	i.monitor.UpdateSample(rec.Sample, rec.Error, rec.Metrics)
	if i.metrics != nil && len(rec.Sample) > 0 {
		i.metrics.RecordSampleValue(rec.Symbol, rec.Sample[0])
	}
	return nil
}
