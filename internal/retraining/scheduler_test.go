package retraining

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"DriftWatch/internal/domain/models"
)

// fakeClock freezes the package clock and lets tests advance it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func freezeTime(t *testing.T) *fakeClock {
	t.Helper()
	c := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	orig := timeNow
	timeNow = func() time.Time {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.now
	}
	t.Cleanup(func() { timeNow = orig })
	return c
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeModel implements repository.Model and logs fits into a shared order
// slice so tests can assert execution order across models.
type fakeModel struct {
	id          string
	samplesSeen int64
	version     string
	fitErr      error
	fitFail     bool
	saveErr     error

	order *[]string
	fits  int
}

func (m *fakeModel) PartialFit(_ context.Context, set *models.TrainingSet) (*models.FitResult, error) {
	if m.fitErr != nil {
		return nil, m.fitErr
	}
	m.fits++
	if m.order != nil {
		*m.order = append(*m.order, m.id)
	}
	if m.fitFail {
		return &models.FitResult{Success: false, Message: "converged poorly"}, nil
	}
	return &models.FitResult{
		Success:          true,
		SamplesProcessed: set.Samples(),
		Version:          fmt.Sprintf("%s-v%d", m.id, m.fits),
	}, nil
}

func (m *fakeModel) SamplesSeen(context.Context) (int64, error) { return m.samplesSeen, nil }
func (m *fakeModel) Version(context.Context) (string, error)    { return m.version, nil }

func (m *fakeModel) SaveModel(_ context.Context, path string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	return os.WriteFile(path, []byte(m.id), 0o644)
}

type fakePerf struct {
	degraded bool
	err      error
}

func (p *fakePerf) DetectPerformanceDegradation(context.Context, float64) (bool, error) {
	return p.degraded, p.err
}

type fakeDrift struct{ events int }

func (d *fakeDrift) DriftEventsSince(time.Time) int { return d.events }

func makeSet(n int) *models.TrainingSet {
	set := &models.TrainingSet{}
	for i := 0; i < n; i++ {
		set.X = append(set.X, []float64{float64(i)})
		set.Y = append(set.Y, float64(i%2))
	}
	return set
}

func goodSource(n int) func(context.Context) (*models.TrainingSet, error) {
	return func(context.Context) (*models.TrainingSet, error) { return makeSet(n), nil }
}

func driftTrigger(priority int) models.RetrainingTrigger {
	return models.RetrainingTrigger{
		Type:     models.TriggerDriftDetection,
		Enabled:  true,
		Priority: priority,
	}
}

func TestTickExecutesByDescendingPriority(t *testing.T) {
	freezeTime(t)
	order := []string{}
	s := NewScheduler(SchedulerConfig{MinSamplesForRetrain: 10}, nil, &fakeDrift{events: 1}, nil, nil, nil)

	// Registration order a, b, c enqueues priorities [1, 5, 3].
	for _, tc := range []struct {
		id       string
		priority int
	}{{"a", 1}, {"b", 5}, {"c", 3}} {
		m := &fakeModel{id: tc.id, order: &order}
		if err := s.RegisterModel(tc.id, m, goodSource(20), []models.RetrainingTrigger{driftTrigger(tc.priority)}); err != nil {
			t.Fatalf("register %s: %v", tc.id, err)
		}
	}

	s.Tick(context.Background())

	want := []string{"b", "c", "a"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("execution order %v, want %v", order, want)
	}
}

func TestTickFIFOWithinEqualPriority(t *testing.T) {
	freezeTime(t)
	order := []string{}
	s := NewScheduler(SchedulerConfig{MinSamplesForRetrain: 10}, nil, &fakeDrift{events: 1}, nil, nil, nil)
	for _, id := range []string{"a", "b", "c"} {
		m := &fakeModel{id: id, order: &order}
		if err := s.RegisterModel(id, m, goodSource(20), []models.RetrainingTrigger{driftTrigger(7)}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	s.Tick(context.Background())

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("ties should keep enqueue order, got %v", order)
	}
}

func TestCooldownBlocksAutoButNotManual(t *testing.T) {
	clock := freezeTime(t)
	m := &fakeModel{id: "m"}
	s := NewScheduler(SchedulerConfig{
		MinSamplesForRetrain: 10,
		Cooldown:             30 * time.Minute,
	}, nil, &fakeDrift{events: 1}, nil, nil, nil)
	if err := s.RegisterModel("m", m, goodSource(20), []models.RetrainingTrigger{driftTrigger(1)}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d after first tick, want 1", m.fits)
	}

	// 10 minutes later the trigger still fires upstream but the model is
	// inside its cooldown window.
	clock.Advance(10 * time.Minute)
	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d, cooldown should have blocked the second job", m.fits)
	}

	rec, err := s.ManualRetrain(context.Background(), "m")
	if err != nil {
		t.Fatalf("manual retrain: %v", err)
	}
	if rec.Job.State != models.JobCompleted {
		t.Fatalf("manual job state=%s: %s", rec.Job.State, rec.Error)
	}
	if m.fits != 2 {
		t.Fatalf("fits=%d, manual retrain must bypass cooldown", m.fits)
	}

	// After the cooldown window the auto trigger fires again.
	clock.Advance(31 * time.Minute)
	s.Tick(context.Background())
	if m.fits != 3 {
		t.Fatalf("fits=%d after cooldown expiry, want 3", m.fits)
	}
}

func TestSampleCountTriggerFiresOncePerCrossing(t *testing.T) {
	clock := freezeTime(t)
	m := &fakeModel{id: "m", samplesSeen: 999}
	s := NewScheduler(SchedulerConfig{
		MinSamplesForRetrain: 10,
		Cooldown:             time.Minute,
	}, nil, nil, nil, nil, nil)
	trig := models.RetrainingTrigger{
		Type:           models.TriggerSampleCount,
		SampleInterval: 1000,
		Enabled:        true,
		Priority:       1,
	}
	if err := s.RegisterModel("m", m, goodSource(20), []models.RetrainingTrigger{trig}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Tick(context.Background())
	if m.fits != 0 {
		t.Fatalf("fired below the interval boundary: fits=%d", m.fits)
	}

	m.samplesSeen = 1000
	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d at boundary crossing, want exactly 1", m.fits)
	}

	// Same interval window: no further jobs even after the cooldown.
	clock.Advance(2 * time.Minute)
	m.samplesSeen = 1500
	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d within same interval, want 1", m.fits)
	}

	clock.Advance(2 * time.Minute)
	m.samplesSeen = 2100
	s.Tick(context.Background())
	if m.fits != 2 {
		t.Fatalf("fits=%d after next crossing, want 2", m.fits)
	}
}

func TestScheduledTriggerEveryInterval(t *testing.T) {
	clock := freezeTime(t)
	m := &fakeModel{id: "m"}
	s := NewScheduler(SchedulerConfig{
		MinSamplesForRetrain: 10,
		Cooldown:             time.Minute,
	}, nil, nil, nil, nil, nil)
	trig := models.RetrainingTrigger{
		Type:     models.TriggerScheduledTime,
		Schedule: &models.Schedule{Every: time.Hour},
		Enabled:  true,
		Priority: 1,
	}
	if err := s.RegisterModel("m", m, goodSource(20), []models.RetrainingTrigger{trig}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Tick(context.Background())
	if m.fits != 0 {
		t.Fatalf("interval schedule fired at registration: fits=%d", m.fits)
	}

	clock.Advance(time.Hour)
	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d after one interval, want 1", m.fits)
	}

	clock.Advance(10 * time.Minute)
	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d mid-interval, want still 1", m.fits)
	}
}

func TestFailedJobRecordedAndTickContinues(t *testing.T) {
	freezeTime(t)
	order := []string{}
	s := NewScheduler(SchedulerConfig{MinSamplesForRetrain: 10}, nil, &fakeDrift{events: 1}, nil, nil, nil)

	broken := &fakeModel{id: "broken", order: &order}
	brokenSource := func(context.Context) (*models.TrainingSet, error) {
		return nil, fmt.Errorf("feature store unavailable")
	}
	if err := s.RegisterModel("broken", broken, brokenSource, []models.RetrainingTrigger{driftTrigger(9)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	healthy := &fakeModel{id: "healthy", order: &order}
	if err := s.RegisterModel("healthy", healthy, goodSource(20), []models.RetrainingTrigger{driftTrigger(1)}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Tick(context.Background())

	if healthy.fits != 1 {
		t.Fatal("failure of a higher-priority job must not abort the tick")
	}
	hist := s.GetRetrainingHistory("", 24)
	if len(hist.Failed) != 1 || len(hist.Completed) != 1 {
		t.Fatalf("history completed=%d failed=%d", len(hist.Completed), len(hist.Failed))
	}
	if hist.Failed[0].Error == "" || hist.Failed[0].Job.ModelID != "broken" {
		t.Fatalf("failed record: %+v", hist.Failed[0])
	}
}

func TestInsufficientTrainingDataFails(t *testing.T) {
	freezeTime(t)
	m := &fakeModel{id: "m"}
	s := NewScheduler(SchedulerConfig{MinSamplesForRetrain: 50}, nil, &fakeDrift{events: 1}, nil, nil, nil)
	if err := s.RegisterModel("m", m, goodSource(10), []models.RetrainingTrigger{driftTrigger(1)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Tick(context.Background())
	if m.fits != 0 {
		t.Fatal("partial fit reached despite insufficient data")
	}
	hist := s.GetRetrainingHistory("m", 24)
	if len(hist.Failed) != 1 {
		t.Fatalf("failed=%d, want 1", len(hist.Failed))
	}
}

func TestUnsuccessfulFitRecordedAsFailure(t *testing.T) {
	freezeTime(t)
	m := &fakeModel{id: "m", fitFail: true}
	s := NewScheduler(SchedulerConfig{MinSamplesForRetrain: 10}, nil, &fakeDrift{events: 1}, nil, nil, nil)
	if err := s.RegisterModel("m", m, goodSource(20), []models.RetrainingTrigger{driftTrigger(1)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Tick(context.Background())
	hist := s.GetRetrainingHistory("m", 24)
	if len(hist.Failed) != 1 || hist.Failed[0].Error != "converged poorly" {
		t.Fatalf("failed history: %+v", hist.Failed)
	}
	st := s.GetSchedulerStatus()
	if st.Models[0].RetrainCount != 0 {
		t.Fatalf("retrain count must not advance on failure: %d", st.Models[0].RetrainCount)
	}
}

func TestPerformanceTriggerAsksTracker(t *testing.T) {
	freezeTime(t)
	perf := &fakePerf{degraded: false}
	m := &fakeModel{id: "m"}
	s := NewScheduler(SchedulerConfig{MinSamplesForRetrain: 10, Cooldown: time.Minute}, perf, nil, nil, nil, nil)
	trig := models.RetrainingTrigger{
		Type:      models.TriggerPerformanceDegradation,
		Threshold: 0.1,
		Enabled:   true,
		Priority:  1,
	}
	if err := s.RegisterModel("m", m, goodSource(20), []models.RetrainingTrigger{trig}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Tick(context.Background())
	if m.fits != 0 {
		t.Fatal("fired without degradation")
	}
	perf.degraded = true
	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d with degradation reported, want 1", m.fits)
	}
}

func TestRegisterModelValidation(t *testing.T) {
	s := NewScheduler(SchedulerConfig{}, nil, nil, nil, nil, nil)
	m := &fakeModel{id: "m"}
	if err := s.RegisterModel("m", m, goodSource(20), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterModel("m", m, goodSource(20), nil); err == nil {
		t.Fatal("duplicate registration should fail")
	}
	bad := models.RetrainingTrigger{Type: "telepathy", Enabled: true}
	if err := s.RegisterModel("m2", m, goodSource(20), []models.RetrainingTrigger{bad}); err == nil {
		t.Fatal("unknown trigger type should fail")
	}
	if _, err := s.ManualRetrain(context.Background(), "ghost"); err == nil {
		t.Fatal("manual retrain of unknown model should fail")
	}
}

func TestAddRemoveTrigger(t *testing.T) {
	freezeTime(t)
	m := &fakeModel{id: "m"}
	s := NewScheduler(SchedulerConfig{MinSamplesForRetrain: 10}, nil, &fakeDrift{events: 1}, nil, nil, nil)
	if err := s.RegisterModel("m", m, goodSource(20), nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Tick(context.Background())
	if m.fits != 0 {
		t.Fatal("no triggers registered yet")
	}

	if err := s.AddTrigger("m", driftTrigger(1)); err != nil {
		t.Fatalf("add trigger: %v", err)
	}
	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d after adding trigger, want 1", m.fits)
	}

	if err := s.RemoveTrigger("m", models.TriggerDriftDetection); err != nil {
		t.Fatalf("remove trigger: %v", err)
	}
	st := s.GetSchedulerStatus()
	if len(st.Models[0].Triggers) != 0 {
		t.Fatalf("triggers after removal: %v", st.Models[0].Triggers)
	}
}

func TestSchedulerStatusWellFormedWhenEmpty(t *testing.T) {
	s := NewScheduler(SchedulerConfig{}, nil, nil, nil, nil, nil)
	st := s.GetSchedulerStatus()
	if st.Running || st.Models == nil || len(st.Models) != 0 {
		t.Fatalf("empty status malformed: %+v", st)
	}
	hist := s.GetRetrainingHistory("", 0)
	if hist.WindowHours != 24 || hist.Completed == nil || hist.Failed == nil {
		t.Fatalf("empty history malformed: %+v", hist)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 10 * time.Millisecond}, nil, nil, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("double start should fail")
	}
	time.Sleep(30 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(); err == nil {
		t.Fatal("double stop should fail")
	}
}

func TestScheduledTriggerDailyAt(t *testing.T) {
	clock := freezeTime(t) // 2026-03-01 12:00 UTC
	m := &fakeModel{id: "m"}
	s := NewScheduler(SchedulerConfig{
		MinSamplesForRetrain: 10,
		Cooldown:             time.Minute,
	}, nil, nil, nil, nil, nil)
	trig := models.RetrainingTrigger{
		Type:     models.TriggerScheduledTime,
		Schedule: &models.Schedule{DailyAt: "13:00"},
		Enabled:  true,
		Priority: 1,
	}
	if err := s.RegisterModel("m", m, goodSource(20), []models.RetrainingTrigger{trig}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Tick(context.Background())
	if m.fits != 0 {
		t.Fatalf("fired before the daily time: fits=%d", m.fits)
	}

	clock.Advance(65 * time.Minute) // 13:05, past today's mark
	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d at first crossing, want 1", m.fits)
	}

	clock.Advance(time.Hour) // same day, well past the cooldown
	s.Tick(context.Background())
	if m.fits != 1 {
		t.Fatalf("fits=%d on repeat tick within the day, want 1", m.fits)
	}

	clock.Advance(24 * time.Hour) // next day, past its 13:00 mark
	s.Tick(context.Background())
	if m.fits != 2 {
		t.Fatalf("fits=%d after the next day's mark, want 2", m.fits)
	}
}

// blockingPerf parks inside the degradation check until released, signalling
// entry so the test can act mid-evaluation.
type blockingPerf struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPerf) DetectPerformanceDegradation(context.Context, float64) (bool, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return false, nil
}

func TestTickEvaluatesTriggersWithoutHoldingLock(t *testing.T) {
	freezeTime(t)
	perf := &blockingPerf{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := NewScheduler(SchedulerConfig{MinSamplesForRetrain: 10}, perf, nil, nil, nil, nil)
	trig := models.RetrainingTrigger{
		Type:      models.TriggerPerformanceDegradation,
		Threshold: 0.8,
		Enabled:   true,
		Priority:  1,
	}
	m := &fakeModel{id: "m", samplesSeen: 100}
	if err := s.RegisterModel("m", m, goodSource(20), []models.RetrainingTrigger{trig}); err != nil {
		t.Fatalf("register: %v", err)
	}

	tickDone := make(chan struct{})
	go func() {
		s.Tick(context.Background())
		close(tickDone)
	}()
	<-perf.entered

	// A slow predicate must not block the status surface.
	statusDone := make(chan struct{})
	go func() {
		s.GetSchedulerStatus()
		close(statusDone)
	}()
	select {
	case <-statusDone:
	case <-time.After(2 * time.Second):
		t.Fatal("status blocked while a trigger predicate was in flight")
	}

	close(perf.release)
	<-tickDone
}
