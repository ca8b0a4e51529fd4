package models

import "time"

// FeedbackRecord is one observation pushed through the ingestion path:
// a sample vector from the feature pipeline, an optional 0/1 model
// correctness signal, and an optional performance metrics snapshot.
type FeedbackRecord struct {
	Symbol    string             `json:"symbol"`
	Timestamp int64              `json:"t"` // unix seconds
	Sample    []float64          `json:"sample,omitempty"`
	Error     *float64           `json:"error,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// DriftEvent records one ensemble-positive decision. Immutable after creation.
type DriftEvent struct {
	Timestamp     time.Time          `json:"timestamp"`
	Detectors     map[string]bool    `json:"detectors"` // per-detector verdict this call
	VotingMethod  string             `json:"voting_method"`
	Metrics       map[string]float64 `json:"metrics,omitempty"` // performance snapshot, if any
	SamplesBefore int64              `json:"samples_before"`    // samples ingested up to the event
}

// AlertSeverity ranks monitor alerts.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is a monitor notification delivered to registered callbacks.
// Alerts live only in the bounded alert history ring.
type Alert struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Severity  AlertSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
