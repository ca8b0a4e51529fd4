package models

import "time"

// Trade is a single market trade event from the live stream.
type Trade struct {
	Symbol    string
	Timestamp int64 // unix seconds
	Price     float64
	Volume    float64
}

// Candle represents an OHLCV record used for feature extraction and training.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// TrainingSet is one batch of training data returned by a data source.
type TrainingSet struct {
	X [][]float64
	Y []float64
}

// Samples returns the number of rows in the set.
func (t *TrainingSet) Samples() int {
	if t == nil {
		return 0
	}
	return len(t.X)
}
