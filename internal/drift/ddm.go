package drift

import "math"

// DDM (Drift Detection Method) tracks the running error rate p and its
// standard error s over all samples since the last reset, together with
// the historical minimum of p+s. Rising error beyond the minimum plus a
// multiple of s_min signals warning, then drift.
type DDM struct {
	minSamples   int
	warningLevel float64
	driftLevel   float64

	samples int64
	errors  int64

	pMin   float64
	sMin   float64
	sumMin float64

	warning bool
	verdict Verdict
}

// NewDDM creates a DDM detector. Values fed to Update are the 0/1 model
// correctness signal (1 = misclassified).
func NewDDM(cfg Config) *DDM {
	d := &DDM{
		minSamples:   cfg.MinSamples,
		warningLevel: cfg.WarningLevel,
		driftLevel:   cfg.DriftLevel,
	}
	if d.minSamples <= 0 {
		d.minSamples = 30
	}
	if d.warningLevel <= 0 {
		d.warningLevel = 2.0
	}
	if d.driftLevel <= 0 {
		d.driftLevel = 3.0
	}
	d.resetLevels()
	return d
}

func (d *DDM) resetLevels() {
	d.samples = 0
	d.errors = 0
	d.pMin = math.Inf(1)
	d.sMin = math.Inf(1)
	d.sumMin = math.Inf(1)
	d.warning = false
}

func (d *DDM) Input() InputKind { return InputError }

func (d *DDM) Update(value float64) bool {
	d.samples++
	if value > 0 {
		d.errors++
	}
	if d.samples < int64(d.minSamples) {
		return false
	}

	p := float64(d.errors) / float64(d.samples)
	s := math.Sqrt(p * (1 - p) / float64(d.samples))

	if p+s < d.sumMin {
		d.pMin = p
		d.sMin = s
		d.sumMin = p + s
	}

	switch {
	case p+s > d.pMin+d.driftLevel*d.sMin:
		t := timeNow()
		d.verdict.DriftDetected = true
		d.verdict.LastDriftTime = &t
		// Drift resets all counters; the verdict survives until Reset.
		d.resetLevels()
		return true
	case p+s > d.pMin+d.warningLevel*d.sMin:
		d.warning = true
	default:
		d.warning = false
	}
	return false
}

func (d *DDM) Reset() {
	d.resetLevels()
	d.verdict = Verdict{}
}

func (d *DDM) Status() Status {
	p := 0.0
	if d.samples > 0 {
		p = float64(d.errors) / float64(d.samples)
	}
	return Status{
		Kind:    KindDDM,
		Input:   InputError,
		Verdict: d.verdict,
		Samples: d.samples,
		Warning: d.warning,
		Detail: map[string]float64{
			"error_rate": p,
			"p_min":      finiteOrZero(d.pMin),
			"s_min":      finiteOrZero(d.sMin),
		},
	}
}

func finiteOrZero(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

var _ Detector = (*DDM)(nil)
