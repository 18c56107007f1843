// Package telemetry emits counters and histograms through OpenTelemetry's
// global meter provider. Call sites never check whether a real exporter
// has been configured: until something calls otel.SetMeterProvider with a
// real one, every instrument resolves to OTel's own no-op implementation,
// so Counter/Histogram/Duration are always safe and always cheap, and
// start reporting the moment a provider is installed. The binaries under
// cmd/ do not install one.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/aiteam/mindbus"

var (
	instrumentsMu sync.Mutex
	counters      = make(map[string]metric.Float64Counter)
	histograms    = make(map[string]metric.Float64Histogram)
)

func meter() metric.Meter {
	return otel.Meter(meterName)
}

func counterFor(name string) metric.Float64Counter {
	instrumentsMu.Lock()
	defer instrumentsMu.Unlock()
	if c, ok := counters[name]; ok {
		return c
	}
	c, err := meter().Float64Counter(name)
	if err != nil {
		return nil
	}
	counters[name] = c
	return c
}

func histogramFor(name string) metric.Float64Histogram {
	instrumentsMu.Lock()
	defer instrumentsMu.Unlock()
	if h, ok := histograms[name]; ok {
		return h
	}
	h, err := meter().Float64Histogram(name)
	if err != nil {
		return nil
	}
	histograms[name] = h
	return h
}

// attrsFromLabels turns an alternating key, value, key, value... slice into
// OTel attributes. A trailing unpaired key is dropped.
func attrsFromLabels(labels []string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

// Counter increments a named counter by 1. Labels are alternating
// key/value pairs: Counter("capability.errors", "action", "echo").
func Counter(name string, labels ...string) {
	c := counterFor(name)
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrsFromLabels(labels)...))
}

// Histogram records value in a named distribution, for latencies, sizes,
// or anything else worth percentiles.
func Histogram(name string, value float64, labels ...string) {
	h := histogramFor(name)
	if h == nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(attrsFromLabels(labels)...))
}

// Duration records the milliseconds elapsed since start under name.
// Typical use is a defer at the top of the timed operation:
//
//	start := time.Now()
//	defer telemetry.Duration("step.duration_ms", start, "step_type", t)
func Duration(name string, start time.Time, labels ...string) {
	Histogram(name, float64(time.Since(start).Milliseconds()), labels...)
}
