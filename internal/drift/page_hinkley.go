package drift

// PageHinkley accumulates deviations of each sample from the running mean;
// drift fires when the cumulative statistic rises more than threshold above
// its running minimum. Drift resets the statistic and its minimum but keeps
// the running mean, so the detector re-arms against the same baseline.
type PageHinkley struct {
	delta     float64 // tolerated magnitude of change
	threshold float64

	samples int64
	mean    float64
	ph      float64
	phMin   float64

	verdict Verdict
}

func NewPageHinkley(cfg Config) *PageHinkley {
	p := &PageHinkley{
		delta:     cfg.PHDelta,
		threshold: cfg.PHThreshold,
	}
	if p.delta <= 0 {
		p.delta = 0.005
	}
	if p.threshold <= 0 {
		p.threshold = 50
	}
	return p
}

func (p *PageHinkley) Input() InputKind { return InputValue }

func (p *PageHinkley) Update(value float64) bool {
	p.samples++
	p.mean += (value - p.mean) / float64(p.samples)

	p.ph += value - p.mean - p.delta
	if p.ph < p.phMin {
		p.phMin = p.ph
	}

	if p.ph-p.phMin > p.threshold {
		t := timeNow()
		p.verdict.DriftDetected = true
		p.verdict.LastDriftTime = &t
		p.ph = 0
		p.phMin = 0
		return true
	}
	return false
}

func (p *PageHinkley) Reset() {
	p.samples = 0
	p.mean = 0
	p.ph = 0
	p.phMin = 0
	p.verdict = Verdict{}
}

func (p *PageHinkley) Status() Status {
	return Status{
		Kind:    KindPageHinkley,
		Input:   InputValue,
		Verdict: p.verdict,
		Samples: p.samples,
		Detail: map[string]float64{
			"mean":   p.mean,
			"ph":     p.ph,
			"ph_min": p.phMin,
		},
	}
}

var _ Detector = (*PageHinkley)(nil)
