package timeseries

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/factoryops/core/internal/config"
)

// overflowRecord is the on-disk JSON-lines shape for a shed batch.
type overflowRecord struct {
	FactoryID int64              `json:"factory_id"`
	DeviceID  int64              `json:"device_id"`
	Fields    map[string]float64 `json:"fields"`
	Timestamp time.Time          `json:"timestamp"`
}

// Overflow is the bounded local-file buffer spec.md §4.3 falls back to
// after a batch exhausts its flush retries. When the file exceeds its byte
// budget, the oldest records are shed (by truncating from the front) so
// the newest accepted samples keep landing — availability over
// completeness, by design.
type Overflow struct {
	path     string
	maxBytes int64

	mu sync.Mutex
}

func NewOverflow() *Overflow {
	return &Overflow{path: config.TSDBOverflowPath(), maxBytes: config.TSDBOverflowMaxBytes()}
}

func (o *Overflow) Store(points []Point) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Error().Err(err).Str("path", o.path).Msg("timeseries.overflow_open_failed")
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range points {
		rec := overflowRecord{FactoryID: p.FactoryID, DeviceID: p.DeviceID, Fields: p.Fields, Timestamp: p.Timestamp}
		b, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		w.Write(b)
		w.WriteByte('\n')
	}
	w.Flush()

	o.shedIfOversize()
}

// shedIfOversize drops the oldest lines once the overflow file exceeds its
// byte budget, logging how many were shed.
func (o *Overflow) shedIfOversize() {
	info, err := os.Stat(o.path)
	if err != nil || info.Size() <= o.maxBytes {
		return
	}

	data, err := os.ReadFile(o.path)
	if err != nil {
		return
	}
	keepFrom := int64(len(data)) - o.maxBytes
	for keepFrom < int64(len(data)) && data[keepFrom] != '\n' {
		keepFrom++
	}
	shed := countLines(data[:keepFrom])
	if err := os.WriteFile(o.path, data[keepFrom:], 0o644); err != nil {
		log.Error().Err(err).Msg("timeseries.overflow_shed_write_failed")
		return
	}
	log.Warn().Int("shed_records", shed).Msg("timeseries.overflow_shed")
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

// Drain reads the overflow file and retries each batch against store,
// truncating the file on full success. No binary in this module calls
// Drain, so overflowed batches stay in the file until a caller runs it.
func (o *Overflow) Drain(store TimeSeriesStore) {
	o.mu.Lock()
	defer o.mu.Unlock()

	data, err := os.ReadFile(o.path)
	if err != nil || len(data) == 0 {
		return
	}

	var points []Point
	lines := splitLines(data)
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var rec overflowRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		points = append(points, Point{FactoryID: rec.FactoryID, DeviceID: rec.DeviceID, Fields: rec.Fields, Timestamp: rec.Timestamp})
	}
	if len(points) == 0 {
		return
	}

	policy := retryPolicy{config.TSDBMaxRetries(), config.TSDBRetryBase(), config.TSDBRetryFactor(), config.TSDBRetryCap()}
	if err := writeWithRetry(store, points, policy); err != nil {
		return
	}
	os.Remove(o.path)
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range data {
		if c == '\n' {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}
