package retraining

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"DriftWatch/internal/domain/models"
	"DriftWatch/internal/domain/repository"
	applogger "DriftWatch/pkg/logger"
)

// SchedulerConfig configures the retraining control loop.
type SchedulerConfig struct {
	TickInterval         time.Duration `yaml:"tick_interval"`
	Cooldown             time.Duration `yaml:"cooldown"`
	MinSamplesForRetrain int           `yaml:"min_samples_for_retrain"`
	DriftWindow          time.Duration `yaml:"drift_window"`
	MaxPending           int           `yaml:"max_pending"`
	MaxHistory           int           `yaml:"max_history"`
	StopTimeout          time.Duration `yaml:"stop_timeout"`
	JobTimeout           time.Duration `yaml:"job_timeout"`
}

func (c *SchedulerConfig) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.MinSamplesForRetrain <= 0 {
		c.MinSamplesForRetrain = 50
	}
	if c.DriftWindow <= 0 {
		c.DriftWindow = 30 * time.Minute
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 64
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 256
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
}

// registeredModel is one trainable unit under the scheduler's coordination.
// The scheduler owns this table exclusively.
type registeredModel struct {
	id           string
	model        repository.Model
	dataSource   repository.DataSource
	triggers     []*triggerState
	registeredAt time.Time
	lastRetrain  time.Time
	retrainCount int64
}

// Scheduler coordinates retraining for all registered models: one
// background loop evaluates triggers, enqueues jobs, and drains the queue
// in descending priority order, subject to a per-model cooldown. A single
// mutex serializes external calls and the tick; job I/O runs outside it.
type Scheduler struct {
	mu      sync.Mutex
	cfg     SchedulerConfig
	logger  *applogger.Logger
	perf    repository.PerformanceTracker
	drift   DriftSource
	ckpt    *CheckpointManager
	metrics repository.Metrics

	models    map[string]*registeredModel
	pending   []*models.RetrainingJob
	completed []models.JobRecord
	failed    []models.JobRecord

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(
	cfg SchedulerConfig,
	perf repository.PerformanceTracker,
	drift DriftSource,
	ckpt *CheckpointManager,
	metrics repository.Metrics,
	logger *applogger.Logger,
) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:     cfg,
		logger:  logger,
		perf:    perf,
		drift:   drift,
		ckpt:    ckpt,
		metrics: metrics,
		models:  make(map[string]*registeredModel),
	}
}

// RegisterModel adds a trainable model with its data source and triggers.
// A model id registers at most once.
func (s *Scheduler) RegisterModel(modelID string, model repository.Model, ds repository.DataSource, triggers []models.RetrainingTrigger) error {
	if modelID == "" || model == nil || ds == nil {
		return fmt.Errorf("model id, model and data source are required")
	}
	now := timeNow()
	states := make([]*triggerState, 0, len(triggers))
	for _, t := range triggers {
		ts, err := newTriggerState(t, now)
		if err != nil {
			return fmt.Errorf("register model %s: %w", modelID, err)
		}
		states = append(states, ts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[modelID]; ok {
		return fmt.Errorf("model %s already registered", modelID)
	}
	s.models[modelID] = &registeredModel{
		id:           modelID,
		model:        model,
		dataSource:   ds,
		triggers:     states,
		registeredAt: now,
	}
	if s.logger != nil {
		s.logger.Info("scheduler: model registered",
			applogger.String("model_id", modelID),
			applogger.Int("triggers", len(states)))
	}
	return nil
}

// UnregisterModel removes the model and drops its pending jobs.
func (s *Scheduler) UnregisterModel(modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[modelID]; !ok {
		return fmt.Errorf("model %s not registered", modelID)
	}
	delete(s.models, modelID)
	kept := s.pending[:0]
	for _, j := range s.pending {
		if j.ModelID != modelID {
			kept = append(kept, j)
		}
	}
	s.pending = kept
	return nil
}

// AddTrigger attaches another trigger to a registered model.
func (s *Scheduler) AddTrigger(modelID string, trigger models.RetrainingTrigger) error {
	ts, err := newTriggerState(trigger, timeNow())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.models[modelID]
	if !ok {
		return fmt.Errorf("model %s not registered", modelID)
	}
	rm.triggers = append(rm.triggers, ts)
	return nil
}

// RemoveTrigger detaches all triggers of the given type from the model.
func (s *Scheduler) RemoveTrigger(modelID string, triggerType models.TriggerType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.models[modelID]
	if !ok {
		return fmt.Errorf("model %s not registered", modelID)
	}
	kept := rm.triggers[:0]
	for _, ts := range rm.triggers {
		if ts.trigger.Type != triggerType {
			kept = append(kept, ts)
		}
	}
	rm.triggers = kept
	return nil
}

// ManualRetrain executes a retraining job for the model synchronously,
// bypassing both the pending queue and the cooldown window.
func (s *Scheduler) ManualRetrain(ctx context.Context, modelID string) (*models.JobRecord, error) {
	s.mu.Lock()
	rm, ok := s.models[modelID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("model %s not registered", modelID)
	}
	job := s.newJobLocked(rm, models.RetrainingTrigger{
		Type:     models.TriggerManual,
		Enabled:  true,
		Priority: 1 << 30,
	})
	s.mu.Unlock()

	rec := s.executeJob(ctx, job, rm)

	s.mu.Lock()
	s.recordLocked(rm, rec)
	s.mu.Unlock()
	return &rec, nil
}

func (s *Scheduler) newJobLocked(rm *registeredModel, t models.RetrainingTrigger) *models.RetrainingJob {
	return &models.RetrainingJob{
		ID:        uuid.NewString(),
		ModelID:   rm.id,
		Trigger:   t,
		State:     models.JobPending,
		CreatedAt: timeNow(),
		Priority:  t.Priority,
	}
}

// Start launches the trigger-evaluation loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("scheduler: started",
			applogger.Duration("tick", s.cfg.TickInterval),
			applogger.Duration("cooldown", s.cfg.Cooldown))
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop signals the loop and joins with a bounded timeout; a worker missing
// the deadline is abandoned with a warning.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		if s.logger != nil {
			s.logger.Warn("scheduler: worker did not stop in time, abandoning",
				applogger.Duration("timeout", s.cfg.StopTimeout))
		}
	}
	return nil
}

// Tick runs one full scheduler pass: evaluate every (model, trigger) pair,
// then drain the pending queue by descending priority, FIFO within equal
// priorities. Exported so tests and manual operations can drive it without
// the background loop.
func (s *Scheduler) Tick(ctx context.Context) {
	now := timeNow()

	// Snapshot trigger inputs under the lock, evaluate outside it: the
	// performance and sample-count predicates call the model service, and
	// a slow service must not stall ManualRetrain or the status endpoints.
	type evalTask struct {
		rm          *registeredModel
		lastRetrain time.Time
		states      []*triggerState
	}
	s.mu.Lock()
	tasks := make([]evalTask, 0, len(s.models))
	for _, rm := range s.sortedModelsLocked() {
		if !rm.lastRetrain.IsZero() && now.Sub(rm.lastRetrain) < s.cfg.Cooldown {
			continue
		}
		tasks = append(tasks, evalTask{
			rm:          rm,
			lastRetrain: rm.lastRetrain,
			states:      append([]*triggerState(nil), rm.triggers...),
		})
	}
	s.mu.Unlock()

	type firing struct {
		rm *registeredModel
		ts *triggerState
	}
	var fired []firing
	for _, task := range tasks {
		for _, ts := range task.states {
			if s.evaluate(ctx, task.rm, task.lastRetrain, ts, now) {
				fired = append(fired, firing{rm: task.rm, ts: ts})
			}
		}
	}

	s.mu.Lock()
	for _, f := range fired {
		if _, ok := s.models[f.rm.id]; !ok {
			// unregistered while evaluating
			continue
		}
		if len(s.pending) >= s.cfg.MaxPending {
			if s.logger != nil {
				s.logger.Warn("scheduler: pending queue full, dropping job",
					applogger.String("model_id", f.rm.id),
					applogger.String("trigger", string(f.ts.trigger.Type)))
			}
			continue
		}
		s.pending = append(s.pending, s.newJobLocked(f.rm, f.ts.trigger))
	}
	// Stable sort keeps enqueue order for equal priorities.
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].Priority > s.pending[j].Priority
	})
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, job := range batch {
		s.mu.Lock()
		rm, ok := s.models[job.ModelID]
		if !ok {
			s.mu.Unlock()
			continue
		}
		// A higher-priority job in this batch may have already retrained
		// the model; the cooldown applies to the rest.
		if !rm.lastRetrain.IsZero() && timeNow().Sub(rm.lastRetrain) < s.cfg.Cooldown {
			job.State = models.JobFailed
			s.recordLocked(rm, models.JobRecord{
				Job:       *job,
				StartedAt: timeNow(),
				Error:     "model within cooldown window",
			})
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		rec := s.executeJob(ctx, job, rm)

		s.mu.Lock()
		s.recordLocked(rm, rec)
		s.mu.Unlock()
	}
}

// executeJob runs one job to a terminal state. Failures are captured in
// the returned record, never propagated; the tick moves on to the next job.
func (s *Scheduler) executeJob(ctx context.Context, job *models.RetrainingJob, rm *registeredModel) models.JobRecord {
	start := timeNow()
	job.State = models.JobExecuting
	rec := models.JobRecord{Job: *job, StartedAt: start}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	fail := func(err error) models.JobRecord {
		job.State = models.JobFailed
		rec.Job.State = models.JobFailed
		rec.Duration = timeNow().Sub(start)
		rec.Error = err.Error()
		if s.logger != nil {
			s.logger.Error("scheduler: retraining job failed",
				applogger.String("model_id", rm.id),
				applogger.String("job_id", job.ID),
				applogger.String("trigger", string(job.Trigger.Type)),
				applogger.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordError("retraining_job")
		}
		return rec
	}

	set, err := rm.dataSource(ctx)
	if err != nil {
		return fail(fmt.Errorf("data source: %w", err))
	}
	if set == nil || set.Samples() < s.cfg.MinSamplesForRetrain {
		n := 0
		if set != nil {
			n = set.Samples()
		}
		return fail(fmt.Errorf("insufficient training data: %d < %d", n, s.cfg.MinSamplesForRetrain))
	}

	if v, err := rm.model.Version(ctx); err == nil {
		rec.OldVersion = v
	}

	fit, err := rm.model.PartialFit(ctx, set)
	if err != nil {
		return fail(fmt.Errorf("partial fit: %w", err))
	}
	if fit == nil || !fit.Success {
		msg := "partial fit reported failure"
		if fit != nil && fit.Message != "" {
			msg = fit.Message
		}
		return fail(fmt.Errorf("%s", msg))
	}

	rec.SamplesProcessed = fit.SamplesProcessed
	rec.NewVersion = fit.Version
	if s.ckpt != nil {
		path, err := s.ckpt.Save(ctx, rm.id, rm.model, fit)
		if err != nil {
			// The model is already updated; a checkpoint failure degrades
			// durability, not correctness.
			if s.logger != nil {
				s.logger.Warn("scheduler: checkpoint failed",
					applogger.String("model_id", rm.id), applogger.Error(err))
			}
		} else {
			rec.CheckpointPath = path
		}
	}

	job.State = models.JobCompleted
	rec.Job.State = models.JobCompleted
	rec.Duration = timeNow().Sub(start)
	if s.logger != nil {
		s.logger.Info("scheduler: retraining job completed",
			applogger.String("model_id", rm.id),
			applogger.String("job_id", job.ID),
			applogger.String("trigger", string(job.Trigger.Type)),
			applogger.Int("samples", rec.SamplesProcessed),
			applogger.Duration("took", rec.Duration))
	}
	if s.metrics != nil {
		s.metrics.RecordLatency("retraining_job", rec.Duration.Seconds())
	}
	return rec
}

// recordLocked updates the model's retrain bookkeeping and appends the
// record to the bounded completed or failed history.
func (s *Scheduler) recordLocked(rm *registeredModel, rec models.JobRecord) {
	if rec.Job.State == models.JobCompleted {
		rm.lastRetrain = rec.StartedAt
		rm.retrainCount++
		s.completed = appendBounded(s.completed, rec, s.cfg.MaxHistory)
		return
	}
	s.failed = appendBounded(s.failed, rec, s.cfg.MaxHistory)
}

func appendBounded(h []models.JobRecord, rec models.JobRecord, max int) []models.JobRecord {
	h = append(h, rec)
	if len(h) > max {
		h = append([]models.JobRecord(nil), h[len(h)-max:]...)
	}
	return h
}

func (s *Scheduler) sortedModelsLocked() []*registeredModel {
	out := make([]*registeredModel, 0, len(s.models))
	for _, rm := range s.models {
		out = append(out, rm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ModelStatus is the per-model slice of SchedulerStatus.
type ModelStatus struct {
	ModelID      string                     `json:"model_id"`
	Triggers     []models.RetrainingTrigger `json:"triggers"`
	RegisteredAt time.Time                  `json:"registered_at"`
	LastRetrain  *time.Time                 `json:"last_retrain,omitempty"`
	RetrainCount int64                      `json:"retrain_count"`
	InCooldown   bool                       `json:"in_cooldown"`
}

// SchedulerStatus is the always-well-formed status payload.
type SchedulerStatus struct {
	Running       bool          `json:"running"`
	TickInterval  time.Duration `json:"tick_interval"`
	Cooldown      time.Duration `json:"cooldown"`
	Models        []ModelStatus `json:"models"`
	PendingJobs   int           `json:"pending_jobs"`
	CompletedJobs int           `json:"completed_jobs"`
	FailedJobs    int           `json:"failed_jobs"`
}

// GetSchedulerStatus never fails; callers poll it for dashboards.
func (s *Scheduler) GetSchedulerStatus() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := timeNow()
	st := SchedulerStatus{
		Running:       s.running,
		TickInterval:  s.cfg.TickInterval,
		Cooldown:      s.cfg.Cooldown,
		Models:        make([]ModelStatus, 0, len(s.models)),
		PendingJobs:   len(s.pending),
		CompletedJobs: len(s.completed),
		FailedJobs:    len(s.failed),
	}
	for _, rm := range s.sortedModelsLocked() {
		ms := ModelStatus{
			ModelID:      rm.id,
			Triggers:     make([]models.RetrainingTrigger, 0, len(rm.triggers)),
			RegisteredAt: rm.registeredAt,
			RetrainCount: rm.retrainCount,
		}
		for _, ts := range rm.triggers {
			ms.Triggers = append(ms.Triggers, ts.trigger)
		}
		if !rm.lastRetrain.IsZero() {
			t := rm.lastRetrain
			ms.LastRetrain = &t
			ms.InCooldown = now.Sub(rm.lastRetrain) < s.cfg.Cooldown
		}
		st.Models = append(st.Models, ms)
	}
	return st
}

// RetrainingHistory is the windowed job history payload.
type RetrainingHistory struct {
	WindowHours int                `json:"window_hours"`
	Completed   []models.JobRecord `json:"completed"`
	Failed      []models.JobRecord `json:"failed"`
}

// GetRetrainingHistory returns completed and failed jobs within the last
// `hours`, optionally filtered to one model. Empty modelID means all.
func (s *Scheduler) GetRetrainingHistory(modelID string, hours int) RetrainingHistory {
	if hours <= 0 {
		hours = 24
	}
	cutoff := timeNow().Add(-time.Duration(hours) * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()
	filter := func(in []models.JobRecord) []models.JobRecord {
		out := make([]models.JobRecord, 0, len(in))
		for _, r := range in {
			if r.StartedAt.Before(cutoff) {
				continue
			}
			if modelID != "" && r.Job.ModelID != modelID {
				continue
			}
			out = append(out, r)
		}
		return out
	}
	return RetrainingHistory{
		WindowHours: hours,
		Completed:   filter(s.completed),
		Failed:      filter(s.failed),
	}
}
