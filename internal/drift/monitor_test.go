package drift

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"DriftWatch/internal/domain/models"
)

func newTestMonitor(t *testing.T, cfg MonitorConfig, vote bool) (*Monitor, *stubDetector) {
	t.Helper()
	e, err := NewEnsemble(EnsembleConfig{Policy: VoteSingle}, nil)
	if err != nil {
		t.Fatalf("ensemble: %v", err)
	}
	d := &stubDetector{input: InputValue, vote: vote}
	e.AddDetector("stub", d)
	return NewMonitor(cfg, e, nil), d
}

func TestMonitorColdStartGate(t *testing.T) {
	m, d := newTestMonitor(t, MonitorConfig{MinSamplesForDetection: 10}, true)
	for i := 0; i < 9; i++ {
		m.UpdateSample([]float64{1}, nil, nil)
	}
	if d.updates != 0 {
		t.Fatalf("ensemble reached before buffer warm: %d updates", d.updates)
	}
	if st := m.GetMonitoringStatus(); st.EventsRecorded != 0 {
		t.Fatalf("events before warm-up: %d", st.EventsRecorded)
	}

	m.UpdateSample([]float64{1}, nil, nil)
	if d.updates != 1 {
		t.Fatalf("ensemble updates=%d, want 1", d.updates)
	}
	if st := m.GetMonitoringStatus(); st.EventsRecorded != 1 {
		t.Fatalf("events=%d, want 1", st.EventsRecorded)
	}
}

func TestMonitorAlertCooldownSuppression(t *testing.T) {
	m, _ := newTestMonitor(t, MonitorConfig{
		MinSamplesForDetection: 1,
		AlertCooldown:          time.Hour,
	}, true)

	var alerts []models.Alert
	m.RegisterAlertCallback(func(a models.Alert) { alerts = append(alerts, a) })

	m.UpdateSample([]float64{1}, nil, nil)
	m.UpdateSample([]float64{1}, nil, nil)

	if len(alerts) != 1 {
		t.Fatalf("alerts dispatched=%d, want 1 (second within cooldown)", len(alerts))
	}
	st := m.GetMonitoringStatus()
	if st.AlertsSent != 1 || st.AlertsSuppressed != 1 {
		t.Fatalf("sent=%d suppressed=%d", st.AlertsSent, st.AlertsSuppressed)
	}
	// The suppressed alert still records its event.
	if st.EventsRecorded != 2 {
		t.Fatalf("events=%d, want 2", st.EventsRecorded)
	}
}

func TestMonitorAutoResetAfterDrift(t *testing.T) {
	m, d := newTestMonitor(t, MonitorConfig{
		MinSamplesForDetection: 1,
		AutoResetAfterDrift:    true,
	}, true)
	m.UpdateSample([]float64{1}, nil, nil)
	if d.updates != 0 {
		t.Fatalf("detector not reset after drift: updates=%d", d.updates)
	}
	if st := m.GetMonitoringStatus(); st.EventsRecorded != 1 {
		t.Fatalf("events=%d, want 1", st.EventsRecorded)
	}
}

func TestMonitorEventSinkAndLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	m, _ := newTestMonitor(t, MonitorConfig{
		MinSamplesForDetection: 1,
		EventLogPath:           logPath,
	}, true)

	var sunk []*models.DriftEvent
	m.RegisterEventSink(func(e *models.DriftEvent) { sunk = append(sunk, e) })

	m.UpdateSample([]float64{1}, nil, map[string]float64{"accuracy": 0.9})
	if len(sunk) != 1 {
		t.Fatalf("sink received %d events, want 1", len(sunk))
	}
	if sunk[0].Detectors["stub"] != true {
		t.Fatalf("event verdicts: %v", sunk[0].Detectors)
	}

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("event log: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		var e models.DriftEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad JSON line: %v", err)
		}
		lines++
	}
	if lines != 1 {
		t.Fatalf("log lines=%d, want 1", lines)
	}
}

func TestMonitorDriftSummaryAndEventsSince(t *testing.T) {
	m, _ := newTestMonitor(t, MonitorConfig{MinSamplesForDetection: 1}, true)
	for i := 0; i < 3; i++ {
		m.UpdateSample([]float64{1}, nil, nil)
	}
	sum := m.GetDriftSummary(24)
	if sum.Events != 3 || sum.ByDetector["stub"] != 3 {
		t.Fatalf("summary: %+v", sum)
	}
	if sum.LastEvent == nil {
		t.Fatal("last event missing")
	}
	if n := m.DriftEventsSince(time.Now().Add(-time.Minute)); n != 3 {
		t.Fatalf("events since: %d", n)
	}
	if n := m.DriftEventsSince(time.Now().Add(time.Minute)); n != 0 {
		t.Fatalf("future window should be empty, got %d", n)
	}
}

func TestMonitorSummaryWellFormedWhenEmpty(t *testing.T) {
	m, _ := newTestMonitor(t, MonitorConfig{}, false)
	sum := m.GetDriftSummary(0)
	if sum.WindowHours != 24 || sum.Events != 0 || sum.ByDetector == nil {
		t.Fatalf("empty summary malformed: %+v", sum)
	}
	st := m.GetMonitoringStatus()
	if st.Running || st.SamplesSeen != 0 {
		t.Fatalf("empty status malformed: %+v", st)
	}
}

func TestMonitorExportImportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drift.json")
	m, _ := newTestMonitor(t, MonitorConfig{MinSamplesForDetection: 1}, true)
	m.UpdateSample([]float64{1}, nil, nil)
	m.UpdateSample([]float64{1}, nil, nil)
	if err := m.ExportDriftData(path); err != nil {
		t.Fatalf("export: %v", err)
	}

	restored, _ := newTestMonitor(t, MonitorConfig{}, false)
	if err := restored.ImportDriftData(path); err != nil {
		t.Fatalf("import: %v", err)
	}
	if st := restored.GetMonitoringStatus(); st.EventsRecorded != 2 {
		t.Fatalf("restored events=%d, want 2", st.EventsRecorded)
	}
}

func TestMonitorStartStop(t *testing.T) {
	m, _ := newTestMonitor(t, MonitorConfig{CheckInterval: 10 * time.Millisecond}, false)
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(); err == nil {
		t.Fatal("double start should fail")
	}
	time.Sleep(30 * time.Millisecond)
	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Stop(); err == nil {
		t.Fatal("double stop should fail")
	}
}

func TestMonitorEventRetentionBound(t *testing.T) {
	m, _ := newTestMonitor(t, MonitorConfig{
		MinSamplesForDetection: 1,
		MaxEvents:              5,
	}, true)
	for i := 0; i < 20; i++ {
		m.UpdateSample([]float64{1}, nil, nil)
	}
	if st := m.GetMonitoringStatus(); st.EventsRecorded != 5 {
		t.Fatalf("events=%d, want capped at 5", st.EventsRecorded)
	}
}

func TestMonitorErrorStreamWarmsIndependently(t *testing.T) {
	e, err := NewEnsemble(EnsembleConfig{Policy: VoteMajority}, nil)
	if err != nil {
		t.Fatalf("ensemble: %v", err)
	}
	errDet := &stubDetector{input: InputError}
	valDet := &stubDetector{input: InputValue}
	e.AddDetector("err", errDet)
	e.AddDetector("val", valDet)
	m := NewMonitor(MonitorConfig{MinSamplesForDetection: 5}, e, nil)

	// Only error signals arrive; the value buffer never fills.
	sig := 1.0
	for i := 0; i < 4; i++ {
		m.UpdateSample(nil, &sig, nil)
	}
	if errDet.updates != 0 {
		t.Fatalf("error detector reached before warm-up: %d updates", errDet.updates)
	}
	m.UpdateSample(nil, &sig, nil)
	if errDet.updates != 1 {
		t.Fatalf("error detector updates=%d after warm-up, want 1", errDet.updates)
	}
	if valDet.updates != 0 {
		t.Fatalf("value detector updated on error-only feed: %d", valDet.updates)
	}
}

func TestMonitorTickFlagsSystemicSignal(t *testing.T) {
	e, err := NewEnsemble(EnsembleConfig{Policy: VoteMajority}, nil)
	if err != nil {
		t.Fatalf("ensemble: %v", err)
	}
	e.AddDetector("a", &stubDetector{input: InputValue, vote: true})
	e.AddDetector("b", &stubDetector{input: InputValue, vote: true})
	m := NewMonitor(MonitorConfig{MinSamplesForDetection: 1}, e, nil)

	var alerts []models.Alert
	m.RegisterAlertCallback(func(a models.Alert) { alerts = append(alerts, a) })

	// One sample latches a positive verdict on every detector.
	m.UpdateSample([]float64{1}, nil, nil)
	m.tick()

	var systemic *models.Alert
	for i := range alerts {
		if alerts[i].EventType == "systemic_drift_signal" {
			systemic = &alerts[i]
		}
	}
	if systemic == nil {
		t.Fatalf("no systemic alert after tick; got %d alerts", len(alerts))
	}
	if systemic.Severity != models.AlertSeverityCritical {
		t.Fatalf("severity=%q, want %q", systemic.Severity, models.AlertSeverityCritical)
	}

	// A quiet ensemble must not raise it.
	m2, _ := newTestMonitor(t, MonitorConfig{MinSamplesForDetection: 1}, false)
	var quiet []models.Alert
	m2.RegisterAlertCallback(func(a models.Alert) { quiet = append(quiet, a) })
	m2.UpdateSample([]float64{1}, nil, nil)
	m2.tick()
	if len(quiet) != 0 {
		t.Fatalf("alerts from a quiet ensemble: %d", len(quiet))
	}
}

func TestMonitorTrendScan(t *testing.T) {
	cfg := MonitorConfig{
		MinSamplesForDetection: 1,
		TrendWindow:            10,
		TrendSlopeThreshold:    0.01,
		TrendMetric:            "accuracy",
	}

	m, _ := newTestMonitor(t, cfg, false)
	for i := 0; i < 10; i++ {
		m.UpdateSample(nil, nil, map[string]float64{"accuracy": 0.95 - 0.02*float64(i)})
	}
	m.mu.Lock()
	slope, declining := m.trendLocked()
	m.mu.Unlock()
	if !declining {
		t.Fatalf("declining accuracy not flagged, slope=%v", slope)
	}
	if slope >= -cfg.TrendSlopeThreshold {
		t.Fatalf("slope=%v, want < %v", slope, -cfg.TrendSlopeThreshold)
	}

	m2, _ := newTestMonitor(t, cfg, false)
	for i := 0; i < 10; i++ {
		m2.UpdateSample(nil, nil, map[string]float64{"accuracy": 0.95})
	}
	m2.mu.Lock()
	slope, declining = m2.trendLocked()
	m2.mu.Unlock()
	if declining {
		t.Fatalf("flat metric flagged as declining, slope=%v", slope)
	}
}
