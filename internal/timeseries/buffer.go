package timeseries

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/factoryops/core/internal/config"
)

// Writer buffers samples and flushes batches to a TimeSeriesStore backend
// on a size/time trigger (spec.md §4.3), retrying flush failures with
// exponential backoff and falling back to an overflow file when retries
// are exhausted.
type Writer struct {
	store    TimeSeriesStore
	overflow *Overflow

	mu      sync.Mutex
	buf     []Point
	flushCh chan struct{}

	batchSize     int
	flushInterval time.Duration
	maxRetries    int
	retryBase     time.Duration
	retryFactor   float64
	retryCap      time.Duration
	skewTolerance time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func NewWriter(store TimeSeriesStore, overflow *Overflow) *Writer {
	w := &Writer{
		store:         store,
		overflow:      overflow,
		flushCh:       make(chan struct{}, 1),
		batchSize:     config.TSDBBatchSize(),
		flushInterval: config.TSDBFlushInterval(),
		maxRetries:    config.TSDBMaxRetries(),
		retryBase:     config.TSDBRetryBase(),
		retryFactor:   config.TSDBRetryFactor(),
		retryCap:      config.TSDBRetryCap(),
		skewTolerance: config.TSDBClockSkewTolerance(),
		done:          make(chan struct{}),
	}
	go w.loop()
	return w
}

// Enqueue adds one sample to the buffer, clamping a too-far-future
// timestamp to now as spec.md §4.3 requires.
func (w *Writer) Enqueue(p Point) {
	now := time.Now()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	} else if p.Timestamp.Sub(now) > w.skewTolerance {
		log.Warn().Int64("factory_id", p.FactoryID).Int64("device_id", p.DeviceID).
			Time("timestamp", p.Timestamp).Msg("timeseries.timestamp_clamped")
		p.Timestamp = now
	}

	w.mu.Lock()
	w.buf = append(w.buf, p)
	full := len(w.buf) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

func (w *Writer) loop() {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.flushCh:
			w.flush()
		case <-w.done:
			w.flush()
			return
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	if err := writeWithRetry(w.store, batch, retryPolicy{w.maxRetries, w.retryBase, w.retryFactor, w.retryCap}); err != nil {
		log.Warn().Err(err).Int("points", len(batch)).Msg("timeseries.flush_exhausted")
		w.overflow.Store(batch)
	}
}

type retryPolicy struct {
	maxRetries  int
	base        time.Duration
	factor      float64
	cap         time.Duration
}

// writeWithRetry implements the backoff policy from spec.md §4.3: base
// 250ms, factor 2, cap 30s, jitter +-25%, at most max_retries retries
// after the first attempt.
func writeWithRetry(store TimeSeriesStore, batch []Point, p retryPolicy) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.TSDBWriteTimeout())
	defer cancel()

	var err error
	delay := p.base
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		err = store.WriteBatch(ctx, batch)
		if err == nil {
			return nil
		}
		if attempt == p.maxRetries {
			break
		}
		jitter := 1 + (rand.Float64()*0.5 - 0.25)
		sleep := time.Duration(float64(delay) * jitter)
		time.Sleep(sleep)
		delay = time.Duration(float64(delay) * p.factor)
		if delay > p.cap {
			delay = p.cap
		}
	}
	return err
}

// Close flushes the buffer one last time and stops the background loop,
// part of the coordinator's graceful-shutdown sequence (spec.md §5).
func (w *Writer) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}
