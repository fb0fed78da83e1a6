// Package ingest implements the Ingestion Coordinator (C4): the MQTT
// subscription handler that turns a telemetry publish into identity
// resolution, parameter discovery, time-series buffering, a debounced
// last-seen write, and a rule-eval dispatch, all partitioned per device so
// a device's own messages stay ordered.
package ingest

import (
	"fmt"
	"strings"
)

// ParsedTopic is the slug/device_key pair extracted from one publish's
// topic.
type ParsedTopic struct {
	FactorySlug string
	DeviceKey   string
}

// ErrMalformedTopic is returned for anything that doesn't match
// factories/{slug}/devices/{device_key}/telemetry exactly.
var ErrMalformedTopic = fmt.Errorf("ingest: topic does not match factories/{slug}/devices/{device_key}/telemetry")

// ParseTopic implements spec.md §4.4 step 1: exactly 5 '/'-separated
// segments, case-sensitive literals at positions 0/2/4.
func ParseTopic(topic string) (ParsedTopic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 {
		return ParsedTopic{}, ErrMalformedTopic
	}
	if parts[0] != "factories" || parts[2] != "devices" || parts[4] != "telemetry" {
		return ParsedTopic{}, ErrMalformedTopic
	}
	if parts[1] == "" || parts[3] == "" {
		return ParsedTopic{}, ErrMalformedTopic
	}
	return ParsedTopic{FactorySlug: parts[1], DeviceKey: parts[3]}, nil
}
