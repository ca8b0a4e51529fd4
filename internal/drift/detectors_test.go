package drift

import (
	"math/rand"
	"testing"
)

// stableGaussian feeds n samples ~N(mean, std) and fails on any drift.
func stableGaussian(t *testing.T, d Detector, seed int64, n int, mean, std float64) {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		if d.Update(mean + r.NormFloat64()*std) {
			t.Fatalf("seed %d: false positive at sample %d", seed, i)
		}
	}
}

func TestADWINStableStream(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		d := NewADWIN(Config{Delta: 0.002})
		stableGaussian(t, d, seed, 500, 1.0, 0.05)
		if d.Status().Verdict.DriftDetected {
			t.Fatalf("seed %d: verdict set on stable stream", seed)
		}
	}
}

func TestADWINDetectsMeanShift(t *testing.T) {
	// 30 samples ~N(1, 0.05) then up to 50 samples ~N(10, 0.05):
	// drift must fire before the 80th total sample.
	r := rand.New(rand.NewSource(7))
	d := NewADWIN(Config{Delta: 0.01})
	for i := 0; i < 30; i++ {
		if d.Update(1.0 + r.NormFloat64()*0.05) {
			t.Fatalf("false positive during baseline at %d", i)
		}
	}
	fired := -1
	for i := 0; i < 50; i++ {
		if d.Update(10.0 + r.NormFloat64()*0.05) {
			fired = 30 + i
			break
		}
	}
	if fired < 0 {
		t.Fatal("expected drift before sample 80")
	}
	st := d.Status()
	if !st.Verdict.DriftDetected || st.Verdict.LastDriftTime == nil {
		t.Fatal("verdict not set after drift")
	}
	// Window shrink keeps only the newest data.
	if w := st.Detail["window_size"]; w > 5 {
		t.Fatalf("expected shrunk window, got %v", w)
	}
}

func TestDDMStableStream(t *testing.T) {
	d := NewDDM(Config{})
	for i := 0; i < 1000; i++ {
		if d.Update(0) {
			t.Fatalf("false positive at %d on error-free stream", i)
		}
	}
}

func TestDDMDetectsErrorBurst(t *testing.T) {
	// 20 correct samples then constant errors with drift level 1.5:
	// drift within 20 error samples.
	d := NewDDM(Config{DriftLevel: 1.5})
	for i := 0; i < 20; i++ {
		if d.Update(0) {
			t.Fatalf("false positive during clean phase at %d", i)
		}
	}
	fired := -1
	for i := 0; i < 20; i++ {
		if d.Update(1) {
			fired = i
			break
		}
	}
	if fired < 0 {
		t.Fatal("expected drift within 20 error samples")
	}
}

func TestDDMWarningBeforeDrift(t *testing.T) {
	d := NewDDM(Config{MinSamples: 30, WarningLevel: 0.5, DriftLevel: 10})
	// 10% baseline error rate, then a moderate rise: enough for warning,
	// far from the drift level.
	for i := 0; i < 100; i++ {
		v := 0.0
		if i%10 == 9 {
			v = 1.0
		}
		d.Update(v)
	}
	for i := 0; i < 60; i++ {
		d.Update(float64(i % 2))
	}
	st := d.Status()
	if st.Verdict.DriftDetected {
		t.Fatal("drift should not fire with level 10")
	}
	if !st.Warning {
		t.Fatal("expected warning state")
	}
}

func TestEDDMStableStream(t *testing.T) {
	d := NewEDDM(Config{})
	for i := 0; i < 1000; i++ {
		if d.Update(0) {
			t.Fatalf("false positive at %d on error-free stream", i)
		}
	}
}

func TestEDDMDetectsClusteringErrors(t *testing.T) {
	// Errors every 20 samples establish the baseline gap level, then
	// back-to-back errors cluster far tighter than historically observed.
	d := NewEDDM(Config{MinSamples: 20})
	for i := 0; i < 800; i++ {
		v := 0.0
		if i%20 == 19 {
			v = 1.0
		}
		if d.Update(v) {
			t.Fatalf("false positive in baseline phase at %d", i)
		}
	}
	fired := false
	for i := 0; i < 1000; i++ {
		if d.Update(1) {
			fired = true
			break
		}
	}
	if !fired {
		t.Fatal("expected drift once errors cluster")
	}
}

func TestPageHinkleyStableStream(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		d := NewPageHinkley(Config{})
		stableGaussian(t, d, seed, 500, 1.0, 0.05)
	}
}

func TestPageHinkleyDetectsMeanShift(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	d := NewPageHinkley(Config{PHDelta: 0.005, PHThreshold: 50})
	for i := 0; i < 100; i++ {
		if d.Update(1.0 + r.NormFloat64()*0.05) {
			t.Fatalf("false positive during baseline at %d", i)
		}
	}
	fired := -1
	for i := 0; i < 50; i++ {
		if d.Update(10.0 + r.NormFloat64()*0.05) {
			fired = i
			break
		}
	}
	if fired < 0 {
		t.Fatal("expected drift after mean shift")
	}
	if fired > 20 {
		t.Fatalf("drift too slow: %d post-shift samples", fired)
	}
}

func TestStatisticalStableStream(t *testing.T) {
	// Repeating pattern keeps reference and current windows distributed
	// identically, so the KS test must stay quiet.
	d := NewStatistical(Config{WindowSize: 100, PThreshold: 0.05})
	for i := 0; i < 1000; i++ {
		v := 1.0 + float64(i%7)*0.01
		if d.Update(v) {
			t.Fatalf("false positive at %d", i)
		}
	}
}

func TestStatisticalDetectsDistributionShift(t *testing.T) {
	d := NewStatistical(Config{WindowSize: 100, PThreshold: 0.05})
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		d.Update(1.0 + r.NormFloat64()*0.05)
	}
	fired := -1
	for i := 0; i < 150; i++ {
		if d.Update(10.0 + r.NormFloat64()*0.05) {
			fired = i
			break
		}
	}
	if fired < 0 {
		t.Fatal("expected drift after distribution shift")
	}
	// On drift the shifted window becomes the new reference.
	st := d.Status()
	if st.Detail["reference_size"] == 0 || st.Detail["current_size"] != 0 {
		t.Fatalf("expected promoted reference, got %v/%v",
			st.Detail["reference_size"], st.Detail["current_size"])
	}
}

func TestStatisticalFixedDimensions(t *testing.T) {
	d := NewStatistical(Config{WindowSize: 10, PThreshold: 0.05, Dimensions: 2})

	// A partial vector cannot fill both columns and is dropped.
	d.UpdateVector([]float64{1.0})
	if st := d.Status(); st.Samples != 0 {
		t.Fatalf("partial vector counted: samples=%d", st.Samples)
	}

	// A wider vector is truncated to the configured width.
	d.UpdateVector([]float64{1.0, 2.0, 99.0})
	st := d.Status()
	if st.Samples != 1 {
		t.Fatalf("samples=%d, want 1", st.Samples)
	}
	if st.Detail["reference_size"] != 1 {
		t.Fatalf("reference_size=%v, want 1", st.Detail["reference_size"])
	}
}

func TestStatisticalVectorMinimumPValue(t *testing.T) {
	// Only one dimension shifts; the minimum p-value across dimensions
	// must still trip the detector.
	d := NewStatistical(Config{WindowSize: 50, PThreshold: 0.05})
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 50; i++ {
		d.UpdateVector([]float64{1.0 + r.NormFloat64()*0.05, 2.0 + r.NormFloat64()*0.05})
	}
	fired := false
	for i := 0; i < 100; i++ {
		if d.UpdateVector([]float64{1.0 + r.NormFloat64()*0.05, 20.0 + r.NormFloat64()*0.05}) {
			fired = true
			break
		}
	}
	if !fired {
		t.Fatal("expected drift from the shifted dimension")
	}
}

func TestResetIdempotent(t *testing.T) {
	kinds := []Kind{KindADWIN, KindDDM, KindEDDM, KindPageHinkley, KindStatistical}
	for _, kind := range kinds {
		d, err := New(kind, Config{})
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		r := rand.New(rand.NewSource(1))
		for i := 0; i < 200; i++ {
			v := r.NormFloat64()
			if d.Input() == InputError {
				v = float64(i % 2)
			}
			d.Update(v)
		}
		d.Reset()
		d.Reset() // idempotent
		st := d.Status()
		if st.Verdict.DriftDetected {
			t.Fatalf("%s: verdict not cleared by reset", kind)
		}
		if st.Verdict.LastDriftTime != nil {
			t.Fatalf("%s: last drift time not cleared", kind)
		}
		if st.Samples != 0 {
			t.Fatalf("%s: samples not zeroed, got %d", kind, st.Samples)
		}
	}
}

func TestNewUnknownKind(t *testing.T) {
	if _, err := New(Kind("bogus"), Config{}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestKSTwoSample(t *testing.T) {
	same := make([]float64, 100)
	for i := range same {
		same[i] = float64(i % 10)
	}
	if p := ksTwoSample(same, same); p < 0.99 {
		t.Fatalf("identical samples: p=%v", p)
	}
	far := make([]float64, 100)
	for i := range far {
		far[i] = 100 + float64(i%10)
	}
	if p := ksTwoSample(same, far); p > 1e-6 {
		t.Fatalf("disjoint samples: p=%v", p)
	}
}
