package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/factoryops/core/internal/domain"
)

// rawPayload mirrors the wire shape spec.md §4.4 step 2 describes:
// optional ISO-8601 timestamp, required non-empty metrics object.
type rawPayload struct {
	Timestamp *string        `json:"timestamp"`
	Metrics   domain.Metrics `json:"metrics"`
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("ingest: unparseable timestamp %q: %w", s, err)
	}
	return t, nil
}

// ParsePayload validates and decodes one telemetry publish body. A missing
// timestamp means the coordinator substitutes ingestion time; an
// unparseable one is treated the same way rather than rejecting the whole
// message, since the metrics are still usable. An empty or non-numeric
// metrics object is rejected outright.
func ParsePayload(body []byte) (domain.TelemetryMessage, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.TelemetryMessage{}, fmt.Errorf("ingest: parse payload: %w", err)
	}
	if len(raw.Metrics) == 0 {
		return domain.TelemetryMessage{}, fmt.Errorf("ingest: metrics object is empty")
	}

	msg := domain.TelemetryMessage{Metrics: raw.Metrics}
	if raw.Timestamp != nil {
		if t, err := parseTimestamp(*raw.Timestamp); err == nil {
			msg.Timestamp = &t
		}
	}
	return msg, nil
}
