package drift

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"DriftWatch/internal/domain/models"
	applogger "DriftWatch/pkg/logger"
)

// AlertFunc receives monitor alerts.
type AlertFunc func(models.Alert)

// EventFunc receives recorded drift events (for archive/publish sinks).
type EventFunc func(*models.DriftEvent)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	MinSamplesForDetection int           `yaml:"min_samples_for_detection"`
	AlertCooldown          time.Duration `yaml:"alert_cooldown"`
	CheckInterval          time.Duration `yaml:"check_interval"`
	HistoryRetention       time.Duration `yaml:"history_retention"`
	MaxEvents              int           `yaml:"max_events"`
	BufferSize             int           `yaml:"buffer_size"`
	AutoResetAfterDrift    bool          `yaml:"auto_reset_after_drift"`
	TrendWindow            int           `yaml:"trend_window"`
	TrendSlopeThreshold    float64       `yaml:"trend_slope_threshold"`
	TrendMetric            string        `yaml:"trend_metric"`
	EventLogPath           string        `yaml:"event_log_path"`
	StopTimeout            time.Duration `yaml:"stop_timeout"`
}

func (c *MonitorConfig) applyDefaults() {
	if c.MinSamplesForDetection <= 0 {
		c.MinSamplesForDetection = 100
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = 5 * time.Minute
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 24 * time.Hour
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 512
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = 20
	}
	if c.TrendSlopeThreshold <= 0 {
		c.TrendSlopeThreshold = 0.01
	}
	if c.TrendMetric == "" {
		c.TrendMetric = "accuracy"
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
}

type metricSnapshot struct {
	At     time.Time
	Values map[string]float64
}

// Monitor wraps one ensemble with bounded sample/error/metric buffers, a
// background polling loop, alert dispatch with cooldown, and bounded event
// history. One mutex serializes external calls and the background tick.
type Monitor struct {
	mu       sync.Mutex
	cfg      MonitorConfig
	logger   *applogger.Logger
	ensemble *Ensemble

	samples *ring[[]float64]
	errs    *ring[float64]
	metrics *ring[metricSnapshot]
	alerts  *ring[models.Alert]

	events []*models.DriftEvent

	alertFns []AlertFunc
	eventFns []EventFunc

	samplesSeen      int64
	lastAlert        time.Time
	alertsSent       int64
	alertsSuppressed int64

	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewMonitor wraps ensemble with buffering and alerting.
func NewMonitor(cfg MonitorConfig, ensemble *Ensemble, logger *applogger.Logger) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:      cfg,
		logger:   logger,
		ensemble: ensemble,
		samples:  newRing[[]float64](cfg.BufferSize),
		errs:     newRing[float64](cfg.BufferSize),
		metrics:  newRing[metricSnapshot](cfg.BufferSize),
		alerts:   newRing[models.Alert](128),
	}
}

// RegisterAlertCallback adds an alert consumer.
func (m *Monitor) RegisterAlertCallback(fn AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertFns = append(m.alertFns, fn)
}

// RegisterEventSink adds a drift-event consumer (archive, publisher).
func (m *Monitor) RegisterEventSink(fn EventFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventFns = append(m.eventFns, fn)
}

// UpdateSample buffers one observation and, once the matching buffer holds
// at least MinSamplesForDetection entries, forwards it to the ensemble.
// Value samples and error signals warm up independently, so an error-only
// feed reaches the error detectors without waiting on value traffic. Early
// observations only warm the buffers, suppressing cold-start false positives.
func (m *Monitor) UpdateSample(sample []float64, errSignal *float64, perfMetrics map[string]float64) {
	m.mu.Lock()

	m.samplesSeen++
	if len(sample) > 0 {
		m.samples.Push(append([]float64(nil), sample...))
	}
	if errSignal != nil {
		m.errs.Push(*errSignal)
	}
	if perfMetrics != nil {
		vals := make(map[string]float64, len(perfMetrics))
		for k, v := range perfMetrics {
			vals[k] = v
		}
		m.metrics.Push(metricSnapshot{At: timeNow(), Values: vals})
	}

	// Gate each input kind on its own buffer: an error-only stream must not
	// wait for value samples that may never arrive, and vice versa.
	fwdSample := sample
	if m.samples.Len() < m.cfg.MinSamplesForDetection {
		fwdSample = nil
	}
	fwdErr := errSignal
	if m.errs.Len() < m.cfg.MinSamplesForDetection {
		fwdErr = nil
	}
	if len(fwdSample) == 0 && fwdErr == nil {
		m.mu.Unlock()
		return
	}

	dec := m.ensemble.Update(fwdSample, fwdErr)
	if !dec.Drift {
		m.mu.Unlock()
		return
	}

	event := &models.DriftEvent{
		Timestamp:     dec.At,
		Detectors:     dec.Votes,
		VotingMethod:  string(dec.Method),
		Metrics:       perfMetrics,
		SamplesBefore: m.samplesSeen,
	}
	m.events = append(m.events, event)
	m.pruneEventsLocked(timeNow())
	m.writeEventLogLocked(event)

	alert, callbacks := m.buildAlertLocked(event)
	sinks := append([]EventFunc(nil), m.eventFns...)
	if m.cfg.AutoResetAfterDrift {
		m.ensemble.Reset()
	}
	m.mu.Unlock()

	// Dispatch outside the lock: callbacks and sinks may do I/O.
	for _, fn := range sinks {
		fn(event)
	}
	if alert != nil {
		for _, fn := range callbacks {
			fn(*alert)
		}
	}
}

// buildAlertLocked constructs the alert unless within the cooldown window.
// A suppressed alert still leaves the event recorded.
func (m *Monitor) buildAlertLocked(event *models.DriftEvent) (*models.Alert, []AlertFunc) {
	now := timeNow()
	if !m.lastAlert.IsZero() && now.Sub(m.lastAlert) < m.cfg.AlertCooldown {
		m.alertsSuppressed++
		if m.logger != nil {
			m.logger.Debug("monitor: alert suppressed by cooldown",
				applogger.Duration("cooldown", m.cfg.AlertCooldown))
		}
		return nil, nil
	}
	m.lastAlert = now
	m.alertsSent++

	positive := 0
	for _, v := range event.Detectors {
		if v {
			positive++
		}
	}
	alert := models.Alert{
		ID:        uuid.NewString(),
		EventType: "drift_detected",
		Timestamp: now,
		Severity:  models.AlertSeverityWarning,
		Message:   fmt.Sprintf("concept drift detected by %d/%d detectors (%s vote)", positive, len(event.Detectors), event.VotingMethod),
		Details: map[string]interface{}{
			"detectors":      event.Detectors,
			"voting_method":  event.VotingMethod,
			"samples_before": event.SamplesBefore,
		},
	}
	m.alerts.Push(alert)
	return &alert, append([]AlertFunc(nil), m.alertFns...)
}

func (m *Monitor) writeEventLogLocked(event *models.DriftEvent) {
	if m.cfg.EventLogPath == "" {
		return
	}
	f, err := os.OpenFile(m.cfg.EventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("monitor: event log open failed", applogger.Error(err))
		}
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(event); err != nil && m.logger != nil {
		m.logger.Warn("monitor: event log write failed", applogger.Error(err))
	}
}

func (m *Monitor) pruneEventsLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.HistoryRetention)
	idx := 0
	for idx < len(m.events) && m.events[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		m.events = append([]*models.DriftEvent(nil), m.events[idx:]...)
	}
	if len(m.events) > m.cfg.MaxEvents {
		m.events = append([]*models.DriftEvent(nil), m.events[len(m.events)-m.cfg.MaxEvents:]...)
	}
}

// Start launches the periodic monitoring loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("monitor: started",
			applogger.Duration("interval", m.cfg.CheckInterval),
			applogger.Int("min_samples", m.cfg.MinSamplesForDetection))
	}
	go m.loop()
	return nil
}

// Stop signals the loop and joins with a bounded timeout. A worker that
// misses the deadline is abandoned and logged, never killed.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor not running")
	}
	m.running = false
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(m.cfg.StopTimeout):
		if m.logger != nil {
			m.logger.Warn("monitor: worker did not stop in time, abandoning",
				applogger.Duration("timeout", m.cfg.StopTimeout))
		}
	}
	return nil
}

func (m *Monitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick prunes history and runs the systemic and trend scans. Independent
// of sample ingestion.
func (m *Monitor) tick() {
	m.mu.Lock()
	now := timeNow()
	m.pruneEventsLocked(now)
	systemic := m.systemicLocked()
	slope, declining := m.trendLocked()
	var alert *models.Alert
	var callbacks []AlertFunc
	if systemic {
		alert, callbacks = m.systemicAlertLocked(now)
	}
	m.mu.Unlock()

	if declining && m.logger != nil {
		m.logger.Warn("monitor: declining performance trend",
			applogger.String("metric", m.cfg.TrendMetric),
			applogger.Any("slope", slope))
	}
	if alert != nil {
		for _, fn := range callbacks {
			fn(*alert)
		}
	}
}

// systemicLocked reports whether every detector currently holds a positive
// verdict, which usually means misconfiguration rather than real drift.
func (m *Monitor) systemicLocked() bool {
	st := m.ensemble.Status()
	if len(st.Detectors) == 0 {
		return false
	}
	for _, ds := range st.Detectors {
		if !ds.Verdict.DriftDetected {
			return false
		}
	}
	return true
}

func (m *Monitor) systemicAlertLocked(now time.Time) (*models.Alert, []AlertFunc) {
	if m.logger != nil {
		m.logger.Warn("monitor: all detectors simultaneously positive")
	}
	alert := models.Alert{
		ID:        uuid.NewString(),
		EventType: "systemic_drift_signal",
		Timestamp: now,
		Severity:  models.AlertSeverityCritical,
		Message:   "all detectors report drift simultaneously; check detector configuration",
	}
	m.alerts.Push(alert)
	return &alert, append([]AlertFunc(nil), m.alertFns...)
}

// trendLocked fits a line over the last TrendWindow snapshots of the
// configured metric.
func (m *Monitor) trendLocked() (slope float64, declining bool) {
	snaps := m.metrics.Last(m.cfg.TrendWindow)
	if len(snaps) < 3 {
		return 0, false
	}
	xs := make([]float64, 0, len(snaps))
	ys := make([]float64, 0, len(snaps))
	for i, s := range snaps {
		v, ok := s.Values[m.cfg.TrendMetric]
		if !ok {
			continue
		}
		xs = append(xs, float64(i))
		ys = append(ys, v)
	}
	if len(xs) < 3 {
		return 0, false
	}
	_, slope = stat.LinearRegression(xs, ys, nil, false)
	return slope, slope < -m.cfg.TrendSlopeThreshold
}

// MonitoringStatus is the always-well-formed status payload.
type MonitoringStatus struct {
	Running          bool           `json:"running"`
	SamplesSeen      int64          `json:"samples_seen"`
	SamplesBuffered  int            `json:"samples_buffered"`
	ErrorsBuffered   int            `json:"errors_buffered"`
	MetricsBuffered  int            `json:"metrics_buffered"`
	MinSamples       int            `json:"min_samples_for_detection"`
	EventsRecorded   int            `json:"events_recorded"`
	AlertsSent       int64          `json:"alerts_sent"`
	AlertsSuppressed int64          `json:"alerts_suppressed"`
	LastAlert        *time.Time     `json:"last_alert,omitempty"`
	Ensemble         EnsembleStatus `json:"ensemble"`
}

// GetMonitoringStatus never fails; callers poll it for dashboards.
func (m *Monitor) GetMonitoringStatus() MonitoringStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MonitoringStatus{
		Running:          m.running,
		SamplesSeen:      m.samplesSeen,
		SamplesBuffered:  m.samples.Len(),
		ErrorsBuffered:   m.errs.Len(),
		MetricsBuffered:  m.metrics.Len(),
		MinSamples:       m.cfg.MinSamplesForDetection,
		EventsRecorded:   len(m.events),
		AlertsSent:       m.alertsSent,
		AlertsSuppressed: m.alertsSuppressed,
		Ensemble:         m.ensemble.Status(),
	}
	if !m.lastAlert.IsZero() {
		t := m.lastAlert
		st.LastAlert = &t
	}
	return st
}

// DriftSummary aggregates events over a window.
type DriftSummary struct {
	WindowHours  int            `json:"window_hours"`
	Events       int            `json:"events"`
	ByDetector   map[string]int `json:"by_detector"`
	VotingMethod string         `json:"voting_method,omitempty"`
	LastEvent    *time.Time     `json:"last_event,omitempty"`
}

// GetDriftSummary aggregates recorded events over the last `hours`.
func (m *Monitor) GetDriftSummary(hours int) DriftSummary {
	if hours <= 0 {
		hours = 24
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := timeNow().Add(-time.Duration(hours) * time.Hour)
	sum := DriftSummary{WindowHours: hours, ByDetector: make(map[string]int)}
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		sum.Events++
		sum.VotingMethod = e.VotingMethod
		for name, v := range e.Detectors {
			if v {
				sum.ByDetector[name]++
			}
		}
		t := e.Timestamp
		sum.LastEvent = &t
	}
	return sum
}

// Events returns recorded events within the last `hours`, newest last.
func (m *Monitor) Events(hours int, limit int) []*models.DriftEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := timeNow().Add(-time.Duration(hours) * time.Hour)
	out := make([]*models.DriftEvent, 0)
	for _, e := range m.events {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// DriftEventsSince counts events at or after t. Read-only accessor used by
// the retraining scheduler's drift trigger.
func (m *Monitor) DriftEventsSince(t time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if !e.Timestamp.Before(t) {
			n++
		}
	}
	return n
}

// Alerts returns the bounded alert history, oldest first.
func (m *Monitor) Alerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts.Items()
}

// driftExport is the on-disk export format; ImportDriftData reads the
// same shape back.
type driftExport struct {
	ExportedAt time.Time            `json:"exported_at"`
	Events     []*models.DriftEvent `json:"events"`
	Summary    DriftSummary         `json:"summary"`
}

// ExportDriftData writes the recorded events and a 24h summary as JSON.
func (m *Monitor) ExportDriftData(path string) error {
	sum := m.GetDriftSummary(24)
	m.mu.Lock()
	exp := driftExport{
		ExportedAt: timeNow(),
		Events:     append([]*models.DriftEvent(nil), m.events...),
		Summary:    sum,
	}
	m.mu.Unlock()

	b, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal drift export: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write drift export: %w", err)
	}
	return nil
}

// ImportDriftData restores events from a prior export. Used at startup to
// warm the history; the format round-trips with ExportDriftData.
func (m *Monitor) ImportDriftData(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read drift export: %w", err)
	}
	var exp driftExport
	if err := json.Unmarshal(b, &exp); err != nil {
		return fmt.Errorf("parse drift export: %w", err)
	}
	m.mu.Lock()
	m.events = exp.Events
	m.pruneEventsLocked(timeNow())
	m.mu.Unlock()
	return nil
}
