package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"DriftWatch/internal/domain/models"
	"DriftWatch/internal/services/features"
	pkgch "DriftWatch/pkg/clickhouse"
	applogger "DriftWatch/pkg/logger"
)

const volWindow = 20

// CHTrainingStore builds retraining sets from the ClickHouse candle
// archive. Implements repository.TrainingStore.
type CHTrainingStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHTrainingStore(ch *pkgch.Client, table string) *CHTrainingStore {
	if table == "" {
		table = "driftwatch.rt_candles_1m"
	}
	return &CHTrainingStore{db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *CHTrainingStore) SetLogger(l *applogger.Logger) { s.l = l }

// FetchTrainingWindow returns the latest n training rows for symbol. Each
// row is the feature vector at bar i with a binary next-bar-direction
// label, matching what the serving side consumes in partial_fit.
func (s *CHTrainingStore) FetchTrainingWindow(ctx context.Context, symbol string, n int) (*models.TrainingSet, error) {
	start := time.Now()
	// n labeled rows need n+1 returns, volWindow bars of warm-up, and one
	// extra bar for the leading return.
	candles, err := s.latestCandles(ctx, symbol, n+volWindow+2)
	if err != nil {
		return nil, err
	}
	set := buildTrainingSet(candles, n)
	if s.l != nil {
		s.l.Info("clickhouse training_window ok",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Int("rows", set.Samples()),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return set, nil
}

func (s *CHTrainingStore) latestCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error) {
	const qtpl = `
        SELECT bucket, symbol, open, high, low, close, vol
        FROM %s
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?
    `
	q := fmt.Sprintf(qtpl, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, n)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse training_window query error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.Int("limit", n),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.Candle, 0, n)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse training_window scan error",
					applogger.String("table", s.table),
					applogger.String("symbol", symbol),
					applogger.Error(err),
				)
			}
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		tmp = append(tmp, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return tmp, nil
}

// buildTrainingSet derives (X, y) from ASC-ordered candles: features at
// bar i, label = direction of the return at bar i+1. Keeps at most n rows,
// newest last.
func buildTrainingSet(candles []models.Candle, n int) *models.TrainingSet {
	rets := features.ComputeLogReturns(candles)
	set := &models.TrainingSet{}
	// rets[i] is the return into candles[i+1]; the last return is only a label
	for i := volWindow; i < len(rets)-1; i++ {
		vol := features.RealizedVolatility(rets[:i+1], volWindow)
		vols := make([]float64, 0, volWindow)
		for _, c := range candles[i+1-volWindow : i+1] {
			vols = append(vols, c.Volume)
		}
		set.X = append(set.X, []float64{
			rets[i],
			vol,
			zscore(vols, candles[i+1].Volume),
			mean(rets[max(0, i+1-volWindow) : i+1]),
		})
		if rets[i+1] > 0 {
			set.Y = append(set.Y, 1)
		} else {
			set.Y = append(set.Y, 0)
		}
	}
	if n > 0 && len(set.X) > n {
		set.X = set.X[len(set.X)-n:]
		set.Y = set.Y[len(set.Y)-n:]
	}
	return set
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
	if v == 0 {
		return 0
	}
	sd := math.Sqrt(v / float64(len(xs)-1))
	return (x - m) / sd
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
