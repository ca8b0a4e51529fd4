package models

import "time"

// TriggerType identifies the condition that schedules a retraining job.
type TriggerType string

const (
	TriggerPerformanceDegradation TriggerType = "performance_degradation"
	TriggerDriftDetection         TriggerType = "drift_detection"
	TriggerScheduledTime          TriggerType = "scheduled_time"
	TriggerSampleCount            TriggerType = "sample_count"
	TriggerManual                 TriggerType = "manual"
)

// Schedule describes when a ScheduledTime trigger fires: either on a fixed
// interval or daily at a wall-clock time ("15:04"). Fires once per window.
type Schedule struct {
	Every   time.Duration `json:"every,omitempty" yaml:"every"`
	DailyAt string        `json:"daily_at,omitempty" yaml:"daily_at"`
}

// RetrainingTrigger is a pure configuration value, immutable once registered.
// Higher priority executes first.
type RetrainingTrigger struct {
	Type           TriggerType `json:"type" yaml:"type"`
	Threshold      float64     `json:"threshold,omitempty" yaml:"threshold"`
	Schedule       *Schedule   `json:"schedule,omitempty" yaml:"schedule"`
	SampleInterval int64       `json:"sample_interval,omitempty" yaml:"sample_interval"`
	Enabled        bool        `json:"enabled" yaml:"enabled"`
	Priority       int         `json:"priority" yaml:"priority"`
}

// JobState tracks the retraining job lifecycle. Terminal once resolved;
// a job instance is never retried.
type JobState string

const (
	JobPending   JobState = "pending"
	JobExecuting JobState = "executing"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// RetrainingJob is created when a trigger fires and lives in the pending
// queue until executed exactly once.
type RetrainingJob struct {
	ID        string                 `json:"job_id"`
	ModelID   string                 `json:"model_id"`
	Trigger   RetrainingTrigger      `json:"trigger"`
	State     JobState               `json:"state"`
	CreatedAt time.Time              `json:"created_at"`
	Priority  int                    `json:"priority"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// JobRecord is the execution outcome kept in the bounded completed/failed
// history.
type JobRecord struct {
	Job              RetrainingJob `json:"job"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	SamplesProcessed int           `json:"samples_processed"`
	OldVersion       string        `json:"old_version,omitempty"`
	NewVersion       string        `json:"new_version,omitempty"`
	CheckpointPath   string        `json:"checkpoint_path,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// FitResult is the outcome reported by a model's partial fit.
type FitResult struct {
	Success          bool   `json:"success"`
	SamplesProcessed int    `json:"samples_processed"`
	Message          string `json:"message,omitempty"`
	Version          string `json:"version,omitempty"`
}
