package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTopic_Valid(t *testing.T) {
	parsed, err := ParseTopic("factories/acme-plant/devices/cnc-04/telemetry")
	require.NoError(t, err)
	require.Equal(t, ParsedTopic{FactorySlug: "acme-plant", DeviceKey: "cnc-04"}, parsed)
}

func TestParseTopic_RejectsWrongSegmentCount(t *testing.T) {
	_, err := ParseTopic("factories/acme-plant/devices/telemetry")
	require.ErrorIs(t, err, ErrMalformedTopic)
}

func TestParseTopic_RejectsWrongLiterals(t *testing.T) {
	_, err := ParseTopic("Factories/acme-plant/devices/cnc-04/telemetry")
	require.ErrorIs(t, err, ErrMalformedTopic)

	_, err = ParseTopic("factories/acme-plant/sensors/cnc-04/telemetry")
	require.ErrorIs(t, err, ErrMalformedTopic)

	_, err = ParseTopic("factories/acme-plant/devices/cnc-04/reading")
	require.ErrorIs(t, err, ErrMalformedTopic)
}

func TestParseTopic_RejectsEmptySegments(t *testing.T) {
	_, err := ParseTopic("factories//devices/cnc-04/telemetry")
	require.ErrorIs(t, err, ErrMalformedTopic)
}
