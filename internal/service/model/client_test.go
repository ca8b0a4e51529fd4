package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"DriftWatch/internal/domain/models"
)

func newModelServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	fits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/model/partial_fit", func(w http.ResponseWriter, r *http.Request) {
		var req partialFitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fits++
		json.NewEncoder(w).Encode(models.FitResult{
			Success:          true,
			SamplesProcessed: len(req.X),
			Version:          "v2",
		})
	})
	mux.HandleFunc("/api/v1/model/state", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(stateResponse{SamplesSeen: 1234, Version: "v1"})
	})
	mux.HandleFunc("/api/v1/model/save", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(saveResponse{Success: true})
	})
	mux.HandleFunc("/api/v1/performance/degradation", func(w http.ResponseWriter, r *http.Request) {
		var req degradationRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(degradationResponse{DegradationDetected: req.Threshold < 0.5})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &fits
}

func TestClientPartialFit(t *testing.T) {
	srv, fits := newModelServer(t)
	c := NewClient(srv.URL, time.Second, 1, nil)

	set := &models.TrainingSet{X: [][]float64{{1}, {2}, {3}}, Y: []float64{0, 1, 0}}
	res, err := c.PartialFit(context.Background(), set)
	if err != nil {
		t.Fatalf("partial fit: %v", err)
	}
	if !res.Success || res.SamplesProcessed != 3 || res.Version != "v2" {
		t.Fatalf("fit result: %+v", res)
	}
	if *fits != 1 {
		t.Fatalf("server fits=%d", *fits)
	}
}

func TestClientStateAndSave(t *testing.T) {
	srv, _ := newModelServer(t)
	c := NewClient(srv.URL, time.Second, 1, nil)

	n, err := c.SamplesSeen(context.Background())
	if err != nil || n != 1234 {
		t.Fatalf("samples seen: %d %v", n, err)
	}
	v, err := c.Version(context.Background())
	if err != nil || v != "v1" {
		t.Fatalf("version: %q %v", v, err)
	}
	if err := c.SaveModel(context.Background(), "/tmp/ckpt"); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestClientRetriesTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(saveResponse{Success: true})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, time.Second, 3, nil)
	if err := c.SaveModel(context.Background(), "/tmp/ckpt"); err != nil {
		t.Fatalf("save with retries: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestTrackerDegradation(t *testing.T) {
	srv, _ := newModelServer(t)
	tr := NewTracker(NewClient(srv.URL, time.Second, 1, nil))

	degraded, err := tr.DetectPerformanceDegradation(context.Background(), 0.1)
	if err != nil || !degraded {
		t.Fatalf("degraded=%v err=%v", degraded, err)
	}
	degraded, err = tr.DetectPerformanceDegradation(context.Background(), 0.9)
	if err != nil || degraded {
		t.Fatalf("degraded=%v err=%v", degraded, err)
	}
}

func TestClientUnconfigured(t *testing.T) {
	c := NewClient("", time.Second, 1, nil)
	if _, err := c.SamplesSeen(context.Background()); err == nil {
		t.Fatal("unconfigured client should fail")
	}
}
