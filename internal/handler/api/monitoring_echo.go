package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	models "DriftWatch/internal/domain/models"
	"DriftWatch/internal/drift"
	"DriftWatch/internal/retraining"
	"DriftWatch/internal/service/metrics"
	"DriftWatch/internal/service/ratelimit"
	xcache "DriftWatch/pkg/cache"
	xhttp "DriftWatch/pkg/http"
	xlogger "DriftWatch/pkg/logger"
)

// MonitoringHandler serves the drift/retraining observability API.
type MonitoringHandler struct {
	logger    *xlogger.Logger
	monitor   *drift.Monitor
	scheduler *retraining.Scheduler
	cache     xcache.Service
	rl        *ratelimit.Limiter
}

func NewMonitoringHandler(logger *xlogger.Logger, monitor *drift.Monitor, scheduler *retraining.Scheduler) *MonitoringHandler {
	metrics.Register()
	return &MonitoringHandler{
		logger:    logger,
		monitor:   monitor,
		scheduler: scheduler,
		rl:        ratelimit.New(),
	}
}

// SetCache injects the response cache for the read endpoints.
func (h *MonitoringHandler) SetCache(c xcache.Service) { h.cache = c }

func (h *MonitoringHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/drift/status", h.DriftStatus)
	g.GET("/drift/summary", h.DriftSummary)
	g.GET("/drift/events", h.DriftEvents)
	g.GET("/drift/alerts", h.Alerts)
	g.GET("/scheduler/status", h.SchedulerStatus)
	g.GET("/scheduler/history", h.RetrainingHistory)
	g.POST("/scheduler/retrain/:model_id", h.ManualRetrain)
	g.GET("/health", h.Health)
}

func (h *MonitoringHandler) observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (h *MonitoringHandler) DriftStatus(c echo.Context) error {
	defer h.observe("drift_status", time.Now())
	return xhttp.SuccessResponse(c, h.monitor.GetMonitoringStatus())
}

func (h *MonitoringHandler) DriftSummary(c echo.Context) error {
	defer h.observe("drift_summary", time.Now())
	req := &models.DriftSummaryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	cacheKey := xcache.GenerateKeyWithParams("drift:summary", req.Hours)
	if h.cache != nil {
		var cached drift.DriftSummary
		switch err := h.cache.Get(ctx, cacheKey, &cached); {
		case err == nil:
			return xhttp.SuccessResponse(c, cached)
		case !errors.Is(err, xcache.ErrCacheMiss):
			h.logger.Warn("monitoring.summary cache_get_error", xlogger.Error(err))
		}
	}

	sum := h.monitor.GetDriftSummary(req.Hours)
	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, sum, 15*time.Second); err != nil {
			h.logger.Warn("monitoring.summary cache_set_error", xlogger.Error(err))
		}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, sum)
}

func (h *MonitoringHandler) DriftEvents(c echo.Context) error {
	defer h.observe("drift_events", time.Now())
	req := &models.DriftEventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	events := h.monitor.Events(req.Hours, req.Limit)
	return xhttp.ListResponse(c, events, int64(len(events)))
}

func (h *MonitoringHandler) Alerts(c echo.Context) error {
	defer h.observe("drift_alerts", time.Now())
	alerts := h.monitor.Alerts()
	return xhttp.ListResponse(c, alerts, int64(len(alerts)))
}

func (h *MonitoringHandler) SchedulerStatus(c echo.Context) error {
	defer h.observe("scheduler_status", time.Now())
	return xhttp.SuccessResponse(c, h.scheduler.GetSchedulerStatus())
}

func (h *MonitoringHandler) RetrainingHistory(c echo.Context) error {
	defer h.observe("scheduler_history", time.Now())
	req := &models.RetrainingHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.scheduler.GetRetrainingHistory(req.ModelID, req.Hours))
}

// ManualRetrain runs a retraining job synchronously. Rate limited hard:
// each call drives a full data-source fetch and partial fit.
func (h *MonitoringHandler) ManualRetrain(c echo.Context) error {
	start := time.Now()
	defer h.observe("manual_retrain", start)
	req := &models.ManualRetrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":retrain", 2, 0.2) {
		h.logger.Warn("monitoring.retrain rate_limited",
			xlogger.String("remote", c.RealIP()),
			xlogger.String("model_id", req.ModelID))
		return xhttp.TooManyRequestsResponse(c, "rate limited")
	}

	rec, err := h.scheduler.ManualRetrain(c.Request().Context(), req.ModelID)
	if err != nil {
		metrics.APIErrors.WithLabelValues("manual_retrain").Inc()
		metrics.RetrainRequests.WithLabelValues("rejected").Inc()
		h.logger.Error("monitoring.retrain error",
			xlogger.String("model_id", req.ModelID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if rec.Job.State == models.JobCompleted {
		metrics.RetrainRequests.WithLabelValues("completed").Inc()
	} else {
		metrics.RetrainRequests.WithLabelValues("failed").Inc()
	}
	h.logger.Info("monitoring.retrain done",
		xlogger.String("model_id", req.ModelID),
		xlogger.String("state", string(rec.Job.State)),
		xlogger.Duration("took", time.Since(start)))
	return xhttp.SuccessResponse(c, rec)
}

func (h *MonitoringHandler) Health(c echo.Context) error {
	st := h.monitor.GetMonitoringStatus()
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"healthy":           true,
		"monitor_running":   st.Running,
		"scheduler_running": h.scheduler.GetSchedulerStatus().Running,
	})
}

