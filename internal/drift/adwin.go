package drift

import (
	"math"
)

// adwinBucket is a compressed summary of consecutive samples.
type adwinBucket struct {
	sum   float64
	count int64
}

// ADWIN maintains an adaptive window as a capped bucket list. Every update
// tests all split points with a Hoeffding bound; on drift the window
// shrinks to the newest bucket so only recent data forms the new baseline.
type ADWIN struct {
	delta      float64
	maxBuckets int

	buckets []adwinBucket
	total   int64

	verdict Verdict
}

// NewADWIN creates an ADWIN detector. delta is the confidence parameter of
// the Hoeffding test (smaller = fewer false positives).
func NewADWIN(cfg Config) *ADWIN {
	delta := cfg.Delta
	if delta <= 0 || delta >= 1 {
		delta = 0.002
	}
	maxBuckets := cfg.MaxBuckets
	if maxBuckets <= 0 {
		maxBuckets = 64
	}
	return &ADWIN{
		delta:      delta,
		maxBuckets: maxBuckets,
		buckets:    make([]adwinBucket, 0, maxBuckets),
	}
}

func (a *ADWIN) Input() InputKind { return InputValue }

// Update consumes one sample and returns the drift verdict for this call.
func (a *ADWIN) Update(value float64) bool {
	a.total++
	a.buckets = append(a.buckets, adwinBucket{sum: value, count: 1})
	a.compress()

	if a.cut() {
		// Window shrink: keep only the most recent bucket as the new baseline.
		last := a.buckets[len(a.buckets)-1]
		a.buckets = a.buckets[:0]
		a.buckets = append(a.buckets, last)
		t := timeNow()
		a.verdict.DriftDetected = true
		a.verdict.LastDriftTime = &t
		return true
	}
	return false
}

// compress merges the two smallest adjacent buckets while over capacity.
func (a *ADWIN) compress() {
	for len(a.buckets) > a.maxBuckets {
		idx := 0
		minCount := a.buckets[0].count + a.buckets[1].count
		for i := 1; i < len(a.buckets)-1; i++ {
			c := a.buckets[i].count + a.buckets[i+1].count
			if c < minCount {
				minCount = c
				idx = i
			}
		}
		a.buckets[idx].sum += a.buckets[idx+1].sum
		a.buckets[idx].count += a.buckets[idx+1].count
		a.buckets = append(a.buckets[:idx+1], a.buckets[idx+2:]...)
	}
}

// cut applies the Hoeffding-bound test at every split point.
func (a *ADWIN) cut() bool {
	if len(a.buckets) < 2 {
		return false
	}
	var leftSum float64
	var leftCount int64
	totalSum := 0.0
	var totalCount int64
	for _, b := range a.buckets {
		totalSum += b.sum
		totalCount += b.count
	}
	for i := 0; i < len(a.buckets)-1; i++ {
		leftSum += a.buckets[i].sum
		leftCount += a.buckets[i].count
		rightSum := totalSum - leftSum
		rightCount := totalCount - leftCount
		if leftCount == 0 || rightCount == 0 {
			continue
		}
		meanL := leftSum / float64(leftCount)
		meanR := rightSum / float64(rightCount)

		// Harmonic mean of the sub-window sizes.
		m := 2.0 / (1.0/float64(leftCount) + 1.0/float64(rightCount))
		eps := math.Sqrt(2.0 * math.Log(2.0/a.delta) / m)
		if math.Abs(meanL-meanR) > eps {
			return true
		}
	}
	return false
}

func (a *ADWIN) Reset() {
	a.buckets = a.buckets[:0]
	a.total = 0
	a.verdict = Verdict{}
}

func (a *ADWIN) Status() Status {
	var sum float64
	var count int64
	for _, b := range a.buckets {
		sum += b.sum
		count += b.count
	}
	mean := 0.0
	if count > 0 {
		mean = sum / float64(count)
	}
	return Status{
		Kind:    KindADWIN,
		Input:   InputValue,
		Verdict: a.verdict,
		Samples: a.total,
		Detail: map[string]float64{
			"window_size": float64(count),
			"window_mean": mean,
			"buckets":     float64(len(a.buckets)),
			"delta":       a.delta,
		},
	}
}

var _ Detector = (*ADWIN)(nil)
