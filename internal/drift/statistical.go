package drift

import (
	"math"
	"sort"
)

// Statistical compares two fixed-capacity sliding windows with a two-sample
// Kolmogorov-Smirnov test. The reference window fills first; once both
// windows are full the test runs per dimension and the minimum p-value
// across dimensions decides. On drift the current window is promoted to
// reference; otherwise the oldest half of current is evicted so the window
// keeps sliding.
type Statistical struct {
	windowSize int
	pThreshold float64
	dims       int // fixed vector width; 0 infers it from the first sample

	reference [][]float64
	current   [][]float64
	samples   int64
	lastP     float64

	verdict Verdict
}

func NewStatistical(cfg Config) *Statistical {
	s := &Statistical{
		windowSize: cfg.WindowSize,
		pThreshold: cfg.PThreshold,
		lastP:      1,
	}
	if s.windowSize <= 0 {
		s.windowSize = 100
	}
	if s.pThreshold <= 0 || s.pThreshold >= 1 {
		s.pThreshold = 0.05
	}
	if cfg.Dimensions > 0 {
		s.dims = cfg.Dimensions
	}
	return s
}

func (s *Statistical) Input() InputKind { return InputValue }

func (s *Statistical) Update(value float64) bool {
	return s.UpdateVector([]float64{value})
}

func (s *Statistical) UpdateVector(sample []float64) bool {
	if len(sample) == 0 {
		return false
	}
	if s.dims == 0 {
		s.dims = len(sample)
	}
	// A partial vector would skew its columns' empirical CDFs.
	if len(sample) < s.dims {
		return false
	}
	sample = sample[:s.dims]
	s.samples++

	if len(s.reference) < s.windowSize {
		s.reference = append(s.reference, append([]float64(nil), sample...))
		return false
	}
	s.current = append(s.current, append([]float64(nil), sample...))
	if len(s.current) < s.windowSize {
		return false
	}

	// Most conservative across dimensions: the smallest p-value decides.
	minP := 1.0
	for d := 0; d < s.dims; d++ {
		ref := column(s.reference, d)
		cur := column(s.current, d)
		if p := ksTwoSample(ref, cur); p < minP {
			minP = p
		}
	}
	s.lastP = minP

	if minP < s.pThreshold {
		t := timeNow()
		s.verdict.DriftDetected = true
		s.verdict.LastDriftTime = &t
		// The shifted window is the new normal.
		s.reference = s.current
		s.current = nil
		return true
	}

	// Slide forward: drop the oldest half of current.
	half := len(s.current) / 2
	s.current = append([][]float64(nil), s.current[half:]...)
	return false
}

func (s *Statistical) Reset() {
	s.reference = nil
	s.current = nil
	s.samples = 0
	s.lastP = 1
	s.verdict = Verdict{}
}

func (s *Statistical) Status() Status {
	return Status{
		Kind:    KindStatistical,
		Input:   InputValue,
		Verdict: s.verdict,
		Samples: s.samples,
		Detail: map[string]float64{
			"reference_size": float64(len(s.reference)),
			"current_size":   float64(len(s.current)),
			"last_p_value":   s.lastP,
		},
	}
}

func column(rows [][]float64, d int) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if d < len(r) {
			out = append(out, r[d])
		}
	}
	return out
}

// ksTwoSample returns the asymptotic p-value of the two-sample KS test.
func ksTwoSample(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 1
	}
	as := append([]float64(nil), a...)
	bs := append([]float64(nil), b...)
	sort.Float64s(as)
	sort.Float64s(bs)

	// Max distance between empirical CDFs, stepping past ties together.
	var d float64
	i, j := 0, 0
	for i < len(as) && j < len(bs) {
		v := as[i]
		if bs[j] < v {
			v = bs[j]
		}
		for i < len(as) && as[i] == v {
			i++
		}
		for j < len(bs) && bs[j] == v {
			j++
		}
		diff := math.Abs(float64(i)/float64(len(as)) - float64(j)/float64(len(bs)))
		if diff > d {
			d = diff
		}
	}

	ne := float64(len(as)) * float64(len(bs)) / float64(len(as)+len(bs))
	lambda := (math.Sqrt(ne) + 0.12 + 0.11/math.Sqrt(ne)) * d
	return ksProb(lambda)
}

// ksProb is the Kolmogorov distribution tail Q(lambda).
func ksProb(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}
	sum := 0.0
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j)*float64(j)*lambda*lambda)
		sum += term
		sign = -sign
		if math.Abs(term) < 1e-12 {
			break
		}
	}
	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

var (
	_ Detector       = (*Statistical)(nil)
	_ VectorDetector = (*Statistical)(nil)
)
