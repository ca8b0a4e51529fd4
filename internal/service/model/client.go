// Package model talks to the external model-serving process over HTTP. The
// serving side owns the weights; this client drives incremental fits and
// checkpoint saves on behalf of the retraining scheduler.
package model

import (
	"context"
	"fmt"
	"time"

	"DriftWatch/internal/domain/models"
	xhttp "DriftWatch/pkg/http"
	applogger "DriftWatch/pkg/logger"
)

// Client implements repository.Model against the model service API.
type Client struct {
	baseURL  string
	attempts int
	client   *xhttp.Client
	logger   *applogger.Logger
}

func NewClient(baseURL string, timeout time.Duration, attempts int, logger *applogger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if attempts <= 0 {
		attempts = 1
	}
	return &Client{
		baseURL:  baseURL,
		attempts: attempts,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		logger:   logger,
	}
}

type partialFitRequest struct {
	X [][]float64 `json:"x"`
	Y []float64   `json:"y"`
}

type stateResponse struct {
	SamplesSeen int64  `json:"samples_seen"`
	Version     string `json:"version"`
}

type saveRequest struct {
	Path string `json:"path"`
}

type saveResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PartialFit streams one training batch into the model.
func (c *Client) PartialFit(ctx context.Context, set *models.TrainingSet) (*models.FitResult, error) {
	if set == nil {
		return nil, fmt.Errorf("nil training set")
	}
	var out models.FitResult
	err := c.postJSON(ctx, "/api/v1/model/partial_fit", partialFitRequest{X: set.X, Y: set.Y}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SamplesSeen(ctx context.Context) (int64, error) {
	st, err := c.state(ctx)
	if err != nil {
		return 0, err
	}
	return st.SamplesSeen, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	st, err := c.state(ctx)
	if err != nil {
		return "", err
	}
	return st.Version, nil
}

// SaveModel asks the serving side to persist its weights at path. The path
// lives on the serving side's filesystem.
func (c *Client) SaveModel(ctx context.Context, path string) error {
	var out saveResponse
	if err := c.postJSON(ctx, "/api/v1/model/save", saveRequest{Path: path}, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("model save rejected: %s", out.Message)
	}
	return nil
}

func (c *Client) state(ctx context.Context) (*stateResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("model service client not configured")
	}
	var st stateResponse
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/api/v1/model/state",
	}, &st)
	if err != nil {
		return nil, fmt.Errorf("get model state: %w", err)
	}
	return &st, nil
}

// postJSON posts with bounded linear-backoff retries for transient errors.
func (c *Client) postJSON(ctx context.Context, path string, payload, dest interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("model service client not configured")
	}
	var err error
	for i := 1; i <= c.attempts; i++ {
		err = c.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:  xhttp.MethodPost,
			URL:     c.baseURL + path,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    payload,
		}, dest)
		if err == nil {
			return nil
		}
		if i == c.attempts {
			break
		}
		if c.logger != nil {
			c.logger.Debug("model service: retrying request",
				applogger.String("path", path),
				applogger.Int("attempt", i),
				applogger.Error(err))
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("post %s: %w", path, err)
}
