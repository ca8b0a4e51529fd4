package model

import (
	"context"
	"fmt"

	xhttp "DriftWatch/pkg/http"
)

// Tracker implements repository.PerformanceTracker against the model
// service, which sees ground-truth labels and owns the metric history.
type Tracker struct {
	c *Client
}

func NewTracker(c *Client) *Tracker { return &Tracker{c: c} }

type degradationRequest struct {
	Threshold float64 `json:"threshold"`
}

type degradationResponse struct {
	DegradationDetected bool `json:"degradation_detected"`
}

func (t *Tracker) DetectPerformanceDegradation(ctx context.Context, threshold float64) (bool, error) {
	if t.c == nil || t.c.baseURL == "" {
		return false, fmt.Errorf("model service client not configured")
	}
	var out degradationResponse
	err := t.c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     t.c.baseURL + "/api/v1/performance/degradation",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    degradationRequest{Threshold: threshold},
	}, &out)
	if err != nil {
		return false, fmt.Errorf("performance degradation check: %w", err)
	}
	return out.DegradationDetected, nil
}
