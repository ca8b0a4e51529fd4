package usecase

import (
	"context"
	"encoding/json"
	"time"

	"DriftWatch/internal/domain/models"
	domrepo "DriftWatch/internal/domain/repository"
	pkgkafka "DriftWatch/pkg/kafka"
)

// KafkaFeedbackHandler consumes model-feedback messages (prediction
// correctness and performance metrics published by the serving side) and
// feeds them into the drift monitor. This is the error-signal path; the
// feature-vector path comes from the live market stream.
type KafkaFeedbackHandler struct {
	topic    string
	ingestor *MonitorIngestor
	metrics  domrepo.Metrics
}

func NewKafkaFeedbackHandler(topic string, ingestor *MonitorIngestor, metrics domrepo.Metrics) *KafkaFeedbackHandler {
	return &KafkaFeedbackHandler{topic: topic, ingestor: ingestor, metrics: metrics}
}

func (h *KafkaFeedbackHandler) Topic() string { return h.topic }

func (h *KafkaFeedbackHandler) Handle(ctx context.Context, b []byte) error {
	var rec models.FeedbackRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if rec.Timestamp > 1e11 { // ms
		rec.Timestamp = rec.Timestamp / 1000
	}
	// E2E latency from event time to now (approx)
	h.metrics.RecordLatency("feedback_e2e_seconds", time.Since(time.Unix(rec.Timestamp, 0)).Seconds())

	if err := h.ingestor.Ingest(ctx, &rec); err != nil {
		h.metrics.RecordError("consumer_ingest")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaFeedbackHandler)(nil)
