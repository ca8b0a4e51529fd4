package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"DriftWatch/internal/domain/models"
	domrepo "DriftWatch/internal/domain/repository"
)

// Sink is the minimal downstream interface the pipeline needs.
type Sink interface {
	Ingest(ctx context.Context, rec *models.FeedbackRecord) error
}

// RealtimePipeline sits between the feedback sources and the drift monitor.
// It validates records, throttles per symbol, optionally transforms, and
// buffers with background retry when the downstream is unavailable.
type RealtimePipeline struct {
	sink    Sink
	metrics domrepo.Metrics
	maxRPS  int
	bufSize int
	bufCh   chan *models.FeedbackRecord
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
	// per-symbol last accepted time
	lastSeen  map[string]time.Time
	transform func(*models.FeedbackRecord) *models.FeedbackRecord
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max accepted records per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a record transformation hook.
func WithTransform(fn func(*models.FeedbackRecord) *models.FeedbackRecord) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func NewRealtimePipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.FeedbackRecord, p.bufSize)
	return p
}

// Start launches background flushing of buffered records.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case rec := <-p.bufCh:
				if rec == nil {
					continue
				}
				if err := p.sink.Ingest(ctx, rec); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- rec:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles, and forwards a record downstream,
// buffering it on downstream errors.
func (p *RealtimePipeline) Process(ctx context.Context, rec *models.FeedbackRecord) error {
	start := time.Now()
	if err := validateRecord(rec); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		rec = p.transform(rec)
		if err := validateRecord(rec); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(rec.Symbol, start) {
		// throttled; record and drop
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.sink.Ingest(ctx, rec); err != nil {
		p.metrics.RecordError("pipeline_ingest")
		select {
		case p.bufCh <- rec:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateRecord(rec *models.FeedbackRecord) error {
	if rec == nil {
		return fmt.Errorf("record nil")
	}
	if rec.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if rec.Timestamp <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if len(rec.Sample) == 0 && rec.Error == nil {
		return fmt.Errorf("record carries neither sample nor error signal")
	}
	if rec.Error != nil && *rec.Error != 0 && *rec.Error != 1 {
		return fmt.Errorf("error signal must be 0 or 1")
	}
	return nil
}

func (p *RealtimePipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if last.IsZero() || now.Sub(last) >= time.Second/time.Duration(p.maxRPS) {
		p.lastSeen[symbol] = now
		return true
	}
	return false
}
