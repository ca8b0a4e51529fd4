package retraining

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"DriftWatch/internal/domain/models"
	"DriftWatch/internal/domain/repository"
	applogger "DriftWatch/pkg/logger"
)

// Manifest describes one persisted model checkpoint. It is written next to
// the model file and round-trips through Latest at startup.
type Manifest struct {
	ModelID          string    `json:"model_id"`
	Version          string    `json:"version,omitempty"`
	Path             string    `json:"path"`
	CreatedAt        time.Time `json:"created_at"`
	SamplesProcessed int       `json:"samples_processed"`
}

// CheckpointManager persists model snapshots under timestamped paths and
// keeps only the newest keepLast checkpoints per model.
type CheckpointManager struct {
	dir      string
	keepLast int
	logger   *applogger.Logger
}

func NewCheckpointManager(dir string, keepLast int, logger *applogger.Logger) (*CheckpointManager, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint dir is required")
	}
	if keepLast <= 0 {
		keepLast = 5
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointManager{dir: dir, keepLast: keepLast, logger: logger}, nil
}

// Save snapshots the model after a successful retraining job and prunes
// checkpoints beyond the retention count.
func (c *CheckpointManager) Save(ctx context.Context, modelID string, model repository.Model, fit *models.FitResult) (string, error) {
	modelDir := filepath.Join(c.dir, modelID)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("create model checkpoint dir: %w", err)
	}

	now := timeNow()
	path := filepath.Join(modelDir, now.UTC().Format("20060102T150405.000")+".ckpt")
	if err := model.SaveModel(ctx, path); err != nil {
		return "", fmt.Errorf("save model %s: %w", modelID, err)
	}

	m := Manifest{
		ModelID:   modelID,
		Path:      path,
		CreatedAt: now,
	}
	if fit != nil {
		m.Version = fit.Version
		m.SamplesProcessed = fit.SamplesProcessed
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint manifest: %w", err)
	}
	if err := os.WriteFile(path+".json", b, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint manifest: %w", err)
	}

	c.prune(modelID)
	return path, nil
}

// List returns the model's checkpoint manifests, newest first.
func (c *CheckpointManager) List(modelID string) ([]Manifest, error) {
	pattern := filepath.Join(c.dir, modelID, "*.ckpt.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for %s: %w", modelID, err)
	}
	out := make([]Manifest, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(b, &m); err != nil {
			if c.logger != nil {
				c.logger.Warn("checkpoint: skipping unreadable manifest",
					applogger.String("file", f), applogger.Error(err))
			}
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Latest returns the newest checkpoint manifest, or nil when the model has
// never been checkpointed.
func (c *CheckpointManager) Latest(modelID string) (*Manifest, error) {
	all, err := c.List(modelID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	m := all[0]
	return &m, nil
}

func (c *CheckpointManager) prune(modelID string) {
	all, err := c.List(modelID)
	if err != nil || len(all) <= c.keepLast {
		return
	}
	for _, m := range all[c.keepLast:] {
		if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) && c.logger != nil {
			c.logger.Warn("checkpoint: prune failed",
				applogger.String("path", m.Path), applogger.Error(err))
		}
		_ = os.Remove(m.Path + ".json")
	}
}
