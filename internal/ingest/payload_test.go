package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePayload_WithTimezone(t *testing.T) {
	msg, err := ParsePayload([]byte(`{"timestamp":"2026-01-05T10:00:00+05:30","metrics":{"voltage":220.5}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Timestamp)
	require.True(t, msg.Timestamp.Equal(time.Date(2026, 1, 5, 10, 0, 0, 0, time.FixedZone("", 5*3600+30*60))))
	require.Equal(t, 220.5, msg.Metrics["voltage"].Float())
}

func TestParsePayload_TimestampWithoutTimezoneAssumesUTC(t *testing.T) {
	msg, err := ParsePayload([]byte(`{"timestamp":"2026-01-05T10:00:00","metrics":{"voltage":220.5}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Timestamp)
	require.Equal(t, time.UTC, msg.Timestamp.Location())
}

func TestParsePayload_MissingTimestampIsNil(t *testing.T) {
	msg, err := ParsePayload([]byte(`{"metrics":{"voltage":220.5}}`))
	require.NoError(t, err)
	require.Nil(t, msg.Timestamp)
}

func TestParsePayload_RejectsEmptyMetrics(t *testing.T) {
	_, err := ParsePayload([]byte(`{"metrics":{}}`))
	require.Error(t, err)
}

func TestParsePayload_RejectsNonNumericMetric(t *testing.T) {
	_, err := ParsePayload([]byte(`{"metrics":{"status":"ok"}}`))
	require.Error(t, err)
}

func TestParsePayload_RejectsNumericLookingStringMetric(t *testing.T) {
	_, err := ParsePayload([]byte(`{"metrics":{"voltage":"231.4"}}`))
	require.Error(t, err)
}

func TestParsePayload_RejectsMalformedJSON(t *testing.T) {
	_, err := ParsePayload([]byte(`not json`))
	require.Error(t, err)
}

func TestParsePayload_DistinguishesIntFromFloat(t *testing.T) {
	msg, err := ParsePayload([]byte(`{"metrics":{"rpm":1200,"temp":85.5}}`))
	require.NoError(t, err)
	require.True(t, msg.Metrics["rpm"].IsInt())
	require.False(t, msg.Metrics["temp"].IsInt())
}
