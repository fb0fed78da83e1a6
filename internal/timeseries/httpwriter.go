package timeseries

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/factoryops/core/internal/config"
)

// HTTPWriter is the default TimeSeriesStore backend: it POSTs InfluxDB v2
// line-protocol text to a configured write endpoint. No InfluxDB client
// library is present anywhere in the retrieval pack, so this talks to
// net/http directly (see DESIGN.md).
type HTTPWriter struct {
	client   *http.Client
	url      string
	token    string
	bucket   string
	org      string
}

func NewHTTPWriter() *HTTPWriter {
	return &HTTPWriter{
		client: &http.Client{Timeout: config.TSDBWriteTimeout()},
		url:    config.TSDBURL(),
		token:  config.TSDBToken(),
		bucket: config.TSDBBucket(),
		org:    config.TSDBOrg(),
	}
}

func (w *HTTPWriter) WriteBatch(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, p := range points {
		writeLineProtocol(&sb, p)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, strings.NewReader(sb.String()))
	if err != nil {
		return fmt.Errorf("timeseries: build write request: %w", err)
	}
	q := req.URL.Query()
	q.Set("bucket", w.bucket)
	q.Set("org", w.org)
	q.Set("precision", "ns")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if w.token != "" {
		req.Header.Set("Authorization", "Token "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("timeseries: write request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("timeseries: write endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// writeLineProtocol renders one Point as one InfluxDB v2 line-protocol
// line: measurement,tag=v,... field=v,... timestamp.
func writeLineProtocol(sb *strings.Builder, p Point) {
	sb.WriteString("telemetry,factory_id=")
	sb.WriteString(strconv.FormatInt(p.FactoryID, 10))
	sb.WriteString(",device_id=")
	sb.WriteString(strconv.FormatInt(p.DeviceID, 10))
	sb.WriteByte(' ')

	first := true
	for key, value := range p.Fields {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(escapeLineProtocolKey(key))
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	}
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(p.Timestamp.UnixNano(), 10))
	sb.WriteByte('\n')
}

func escapeLineProtocolKey(key string) string {
	key = strings.ReplaceAll(key, " ", "\\ ")
	key = strings.ReplaceAll(key, ",", "\\,")
	key = strings.ReplaceAll(key, "=", "\\=")
	return key
}
