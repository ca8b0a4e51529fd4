package retraining

import (
	"context"
	"os"
	"testing"
	"time"

	"DriftWatch/internal/domain/models"
)

func TestCheckpointSaveAndLatest(t *testing.T) {
	clock := freezeTime(t)
	cm, err := NewCheckpointManager(t.TempDir(), 5, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	m := &fakeModel{id: "m"}
	fit := &models.FitResult{Success: true, SamplesProcessed: 42, Version: "m-v1"}

	path, err := cm.Save(context.Background(), "m", m, fit)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("checkpoint file: %v", err)
	}

	latest, err := cm.Latest("m")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Path != path || latest.Version != "m-v1" || latest.SamplesProcessed != 42 {
		t.Fatalf("manifest round-trip: %+v", latest)
	}

	clock.Advance(time.Second)
	fit2 := &models.FitResult{Success: true, Version: "m-v2"}
	path2, err := cm.Save(context.Background(), "m", m, fit2)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	latest, err = cm.Latest("m")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Path != path2 || latest.Version != "m-v2" {
		t.Fatalf("latest did not advance: %+v", latest)
	}
}

func TestCheckpointPruneKeepsNewest(t *testing.T) {
	clock := freezeTime(t)
	cm, err := NewCheckpointManager(t.TempDir(), 2, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	m := &fakeModel{id: "m"}

	var paths []string
	for i := 0; i < 4; i++ {
		p, err := cm.Save(context.Background(), "m", m, nil)
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		paths = append(paths, p)
		clock.Advance(time.Second)
	}

	all, err := cm.List("m")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("kept %d checkpoints, want 2", len(all))
	}
	if all[0].Path != paths[3] || all[1].Path != paths[2] {
		t.Fatalf("wrong survivors: %+v", all)
	}
	for _, p := range paths[:2] {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("pruned checkpoint still on disk: %s", p)
		}
	}
}

func TestCheckpointLatestEmpty(t *testing.T) {
	cm, err := NewCheckpointManager(t.TempDir(), 2, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	latest, err := cm.Latest("never-saved")
	if err != nil || latest != nil {
		t.Fatalf("latest on empty: %v %v", latest, err)
	}
}

func TestCheckpointRequiresDir(t *testing.T) {
	if _, err := NewCheckpointManager("", 2, nil); err == nil {
		t.Fatal("empty dir should fail")
	}
}
