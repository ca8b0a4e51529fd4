package features

import (
	"math"
	"sync"

	"DriftWatch/internal/domain/models"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes the sample standard deviation of the last
// `window` log returns. Returns 0 when there is not enough data.
func RealizedVolatility(logReturns []float64, window int) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(logReturns) - window; i < len(logReturns); i++ {
		r := logReturns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Dimensions is the width of the vector Extractor emits:
// [log return, realized volatility, volume z-score, momentum].
const Dimensions = 4

type symbolWindow struct {
	prices  []float64
	volumes []float64
	returns []float64
}

// Extractor turns the raw trade stream into fixed-width feature vectors,
// one rolling window per symbol. Vectors match what the deployed model
// consumes, so the drift detectors watch the same distribution the model
// sees.
type Extractor struct {
	mu     sync.Mutex
	window int
	bySym  map[string]*symbolWindow
}

func NewExtractor(window int) *Extractor {
	if window < 3 {
		window = 30
	}
	return &Extractor{window: window, bySym: make(map[string]*symbolWindow)}
}

// Update folds one trade into the symbol's window. The vector and true are
// returned once the window is warm; before that ok is false.
func (e *Extractor) Update(t *models.Trade) (vec []float64, ok bool) {
	if t == nil || t.Price <= 0 {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.bySym[t.Symbol]
	if w == nil {
		w = &symbolWindow{}
		e.bySym[t.Symbol] = w
	}
	if n := len(w.prices); n > 0 {
		w.returns = append(w.returns, math.Log(t.Price/w.prices[n-1]))
	}
	w.prices = append(w.prices, t.Price)
	w.volumes = append(w.volumes, t.Volume)
	if len(w.prices) > e.window {
		w.prices = w.prices[1:]
		w.volumes = w.volumes[1:]
	}
	if len(w.returns) > e.window {
		w.returns = w.returns[1:]
	}
	if len(w.returns) < e.window {
		return nil, false
	}

	return []float64{
		w.returns[len(w.returns)-1],
		RealizedVolatility(w.returns, e.window),
		zscore(w.volumes, t.Volume),
		mean(w.returns),
	}, true
}

// Reset drops all per-symbol windows.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bySym = make(map[string]*symbolWindow)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func zscore(xs []float64, x float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	v := 0.0
	for _, y := range xs {
		v += (y - m) * (y - m)
	}
	sd := math.Sqrt(v / float64(len(xs)-1))
	if sd == 0 {
		return 0
	}
	return (x - m) / sd
}
