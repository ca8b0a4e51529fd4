package drift

import "math"

// EDDM (Early Drift Detection Method) watches the distance between
// consecutive errors instead of the raw error rate: it tracks the running
// mean and std of inter-error gaps and the best (largest) mean+2*std level
// seen. Errors clustering tighter than the best level signals drift when
// the current/best ratio falls below the drift ratio.
type EDDM struct {
	minErrors    int
	warningRatio float64
	driftRatio   float64

	samples    int64
	errorCount int64
	lastError  int64 // sample index of the previous error

	gapMean float64
	gapM2   float64 // Welford accumulator

	levelMax float64

	warning bool
	verdict Verdict
}

// NewEDDM creates an EDDM detector. The ratio thresholds are deliberately
// tunable: with few observed errors the best level is unstable, so the
// detector stays silent until minErrors gaps have been seen.
func NewEDDM(cfg Config) *EDDM {
	e := &EDDM{
		minErrors:    cfg.MinSamples,
		warningRatio: cfg.WarningLevel,
		driftRatio:   cfg.DriftLevel,
	}
	if e.minErrors <= 0 {
		e.minErrors = 30
	}
	// DDM-style levels are >1; EDDM ratios must be in (0,1). Fall back to
	// the usual EDDM constants when the config carries DDM-style values.
	if e.warningRatio <= 0 || e.warningRatio >= 1 {
		e.warningRatio = 0.95
	}
	if e.driftRatio <= 0 || e.driftRatio >= 1 {
		e.driftRatio = 0.90
	}
	e.lastError = -1
	return e
}

func (e *EDDM) Input() InputKind { return InputError }

func (e *EDDM) Update(value float64) bool {
	e.samples++
	if value <= 0 {
		return false
	}

	if e.lastError >= 0 {
		gap := float64(e.samples - e.lastError)
		e.errorCount++
		// Welford's online mean/variance over gaps.
		delta := gap - e.gapMean
		e.gapMean += delta / float64(e.errorCount)
		e.gapM2 += delta * (gap - e.gapMean)
	}
	e.lastError = e.samples

	if e.errorCount < int64(e.minErrors) {
		return false
	}

	std := 0.0
	if e.errorCount > 1 {
		std = math.Sqrt(e.gapM2 / float64(e.errorCount-1))
	}
	level := e.gapMean + 2*std
	if level > e.levelMax {
		e.levelMax = level
	}
	if e.levelMax < 1e-9 {
		// Degenerate stream; a ratio against ~0 is noise, not signal.
		return false
	}

	ratio := level / e.levelMax
	switch {
	case ratio < e.driftRatio:
		t := timeNow()
		e.verdict.DriftDetected = true
		e.verdict.LastDriftTime = &t
		e.resetGaps()
		return true
	case ratio < e.warningRatio:
		e.warning = true
	default:
		e.warning = false
	}
	return false
}

func (e *EDDM) resetGaps() {
	e.samples = 0
	e.errorCount = 0
	e.lastError = -1
	e.gapMean = 0
	e.gapM2 = 0
	e.levelMax = 0
	e.warning = false
}

func (e *EDDM) Reset() {
	e.resetGaps()
	e.verdict = Verdict{}
}

func (e *EDDM) Status() Status {
	return Status{
		Kind:    KindEDDM,
		Input:   InputError,
		Verdict: e.verdict,
		Samples: e.samples,
		Warning: e.warning,
		Detail: map[string]float64{
			"gap_mean":  e.gapMean,
			"level_max": e.levelMax,
			"errors":    float64(e.errorCount),
		},
	}
}

var _ Detector = (*EDDM)(nil)
