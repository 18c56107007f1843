package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// withReader installs a fresh MeterProvider backed by a ManualReader for
// the duration of the test, resets this package's instrument cache (the
// cache holds onto instruments bound to whatever provider was installed
// when they were first created), and restores the previous provider on
// cleanup.
func withReader(t *testing.T) *metric.ManualReader {
	t.Helper()
	reader := metric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(metric.NewMeterProvider(metric.WithReader(reader)))

	instrumentsMu.Lock()
	counters = make(map[string]otelmetric.Float64Counter)
	histograms = make(map[string]otelmetric.Float64Histogram)
	instrumentsMu.Unlock()

	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		instrumentsMu.Lock()
		counters = make(map[string]otelmetric.Float64Counter)
		histograms = make(map[string]otelmetric.Float64Histogram)
		instrumentsMu.Unlock()
	})
	return reader
}

func collectSum(t *testing.T, reader *metric.ManualReader, metricName string) float64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total float64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != metricName {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					total += dp.Sum
				}
			}
		}
	}
	return total
}

func TestCounterIncrementsByOne(t *testing.T) {
	reader := withReader(t)

	Counter("test.counter", "action", "echo")
	Counter("test.counter", "action", "echo")

	assert.Equal(t, float64(2), collectSum(t, reader, "test.counter"))
}

func TestHistogramRecordsValue(t *testing.T) {
	reader := withReader(t)

	Histogram("test.histogram", 12.5, "action", "echo")
	Histogram("test.histogram", 7.5, "action", "echo")

	assert.Equal(t, float64(20), collectSum(t, reader, "test.histogram"))
}

func TestDurationRecordsElapsedMilliseconds(t *testing.T) {
	reader := withReader(t)

	start := time.Now().Add(-50 * time.Millisecond)
	Duration("test.duration_ms", start)

	got := collectSum(t, reader, "test.duration_ms")
	assert.GreaterOrEqual(t, got, float64(40))
}

func TestCounterWithoutProviderDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Counter("unconfigured.counter")
		Histogram("unconfigured.histogram", 1)
		Duration("unconfigured.duration_ms", time.Now())
	})
}

func TestAttrsFromLabelsDropsTrailingUnpairedKey(t *testing.T) {
	attrs := attrsFromLabels([]string{"a", "1", "b"})
	require.Len(t, attrs, 1)
	assert.Equal(t, "a", string(attrs[0].Key))
}
