package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MetricValue is the open-schema numeric variant telemetry payloads carry:
// either an integer or a float, distinguished by the JSON number's literal
// form (spec.md §9 "Dynamic metric shape"). Non-numeric JSON values never
// become a MetricValue — they are rejected at parse time.
type MetricValue struct {
	isInt   bool
	intVal  int64
	floatVal float64
}

func IntValue(v int64) MetricValue   { return MetricValue{isInt: true, intVal: v} }
func FloatValue(v float64) MetricValue { return MetricValue{floatVal: v} }

// Float returns the value widened to float64, the representation the rule
// evaluator and time-series writer both operate on.
func (m MetricValue) Float() float64 {
	if m.isInt {
		return float64(m.intVal)
	}
	return m.floatVal
}

// IsInt reports whether the value arrived as a JSON integer literal, which
// drives DeviceParameter.DataType inference in parameter discovery.
func (m MetricValue) IsInt() bool { return m.isInt }

func (m MetricValue) MarshalJSON() ([]byte, error) {
	if m.isInt {
		return json.Marshal(m.intVal)
	}
	return json.Marshal(m.floatVal)
}

func (m *MetricValue) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("domain: metric value must be a number: %w", err)
	}
	raw, ok := v.(json.Number)
	if !ok {
		return fmt.Errorf("domain: metric value must be a number, got %T", v)
	}
	if i, err := raw.Int64(); err == nil {
		*m = IntValue(i)
		return nil
	}
	f, err := raw.Float64()
	if err != nil {
		return fmt.Errorf("domain: metric value %q is not numeric: %w", raw.String(), err)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("domain: metric value %q is not finite", raw.String())
	}
	*m = FloatValue(f)
	return nil
}

// Metrics is the non-empty "key -> numeric value" payload of one telemetry
// message.
type Metrics map[string]MetricValue

// TelemetryMessage is the parsed, validated form of one MQTT publish on
// factories/{slug}/devices/{device_key}/telemetry (spec.md §6).
type TelemetryMessage struct {
	FactorySlug string
	DeviceKey   string
	// Timestamp is nil when the payload omitted it; the coordinator then
	// substitutes ingestion time (spec.md §4.3).
	Timestamp *time.Time
	Metrics   Metrics
}
