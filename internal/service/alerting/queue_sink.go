// Package alerting fans monitor alerts out through the Redis-backed queue
// so delivery (logging, paging, webhooks) happens off the detection path.
package alerting

import (
	"context"
	"time"

	"DriftWatch/internal/domain/models"
	applogger "DriftWatch/pkg/logger"
	"DriftWatch/pkg/queue"
)

const AlertMessageType = "drift_alert"

// QueueSink publishes monitor alerts onto the queue.
type QueueSink struct {
	q       queue.QueueService
	logger  *applogger.Logger
	timeout time.Duration
}

func NewQueueSink(q queue.QueueService, logger *applogger.Logger) *QueueSink {
	return &QueueSink{q: q, logger: logger, timeout: 3 * time.Second}
}

// Callback adapts the sink to the monitor's alert-callback signature.
// Publish failures are logged, never propagated into the monitor.
func (s *QueueSink) Callback() func(models.Alert) {
	return func(a models.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.q.PublishMessage(ctx, AlertMessageType, a); err != nil && s.logger != nil {
			s.logger.Error("alerting: queue publish failed",
				applogger.String("alert_id", a.ID),
				applogger.Error(err))
		}
	}
}

// LogAlertJob is the default queue consumer for alerts: it writes them to
// the structured log. Additional delivery jobs register alongside it.
type LogAlertJob struct {
	logger *applogger.Logger
}

func NewLogAlertJob(logger *applogger.Logger) *LogAlertJob {
	return &LogAlertJob{logger: logger}
}

func (j *LogAlertJob) Name() string { return "log_alert" }
func (j *LogAlertJob) Type() string { return AlertMessageType }

func (j *LogAlertJob) Handle(_ context.Context, payload interface{}) error {
	a, err := queue.ParsePayload[models.Alert](payload)
	if err != nil {
		return err
	}
	if j.logger != nil {
		j.logger.Warn("drift alert",
			applogger.String("alert_id", a.ID),
			applogger.String("event_type", a.EventType),
			applogger.String("severity", string(a.Severity)),
			applogger.String("message", a.Message))
	}
	return nil
}

var _ queue.Job = (*LogAlertJob)(nil)
