package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestNewMetrics_AllInstrumentsNonNil(t *testing.T) {
	m, _ := newTestMetrics(t)
	for _, tc := range []struct {
		name string
		inst any
	}{
		{"callwatch.check.duration", m.CheckDuration},
		{"callwatch.checks", m.Checks},
		{"callwatch.worker.restarts", m.WorkerRestarts},
		{"callwatch.calls.detected", m.CallsDetected},
		{"callwatch.recording.commands", m.RecordingCommands},
		{"callwatch.loop.restarts", m.LoopRestarts},
		{"callwatch.degraded_mode", m.DegradedMode},
		{"callwatch.recording_active", m.RecordingActive},
		{"callwatch.http.request.duration", m.HTTPRequestDuration},
	} {
		if tc.inst == nil {
			t.Errorf("instrument %s is nil", tc.name)
		}
	}
}

func TestRecordCheck(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCheck(ctx, "primary", "ok", 0.012)
	m.RecordCheck(ctx, "primary", "error", 3.0)
	m.RecordCheck(ctx, "degraded", "ok", 0.004)

	rm := collect(t, reader)

	met := findMetric(rm, "callwatch.checks")
	if met == nil {
		t.Fatal("callwatch.checks not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("callwatch.checks is not a sum")
	}
	// One data point per attribute combination.
	if len(sum.DataPoints) != 3 {
		t.Errorf("data points = %d, want 3", len(sum.DataPoints))
	}

	hist := findMetric(rm, "callwatch.check.duration")
	if hist == nil {
		t.Fatal("callwatch.check.duration not found")
	}
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("callwatch.check.duration is not a histogram")
	}
	var total uint64
	for _, dp := range h.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("histogram sample count = %d, want 3", total)
	}
}

func TestRecordWorkerRestart_AttachesReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWorkerRestart(ctx, "max-age")
	m.RecordWorkerRestart(ctx, "max-age")
	m.RecordWorkerRestart(ctx, "consecutive-errors")

	rm := collect(t, reader)
	met := findMetric(rm, "callwatch.worker.restarts")
	if met == nil {
		t.Fatal("callwatch.worker.restarts not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	byReason := map[string]int64{}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "reason" {
				byReason[kv.Value.AsString()] = dp.Value
			}
		}
	}
	if byReason["max-age"] != 2 {
		t.Errorf("max-age restarts = %d, want 2", byReason["max-age"])
	}
	if byReason["consecutive-errors"] != 1 {
		t.Errorf("consecutive-errors restarts = %d, want 1", byReason["consecutive-errors"])
	}
}

func TestRecordRecordingCommand(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecordingCommand(ctx, "start", "ok")
	m.RecordRecordingCommand(ctx, "stop", "error")

	rm := collect(t, reader)
	met := findMetric(rm, "callwatch.recording.commands")
	if met == nil {
		t.Fatal("callwatch.recording.commands not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("data points = %d, want 2", len(sum.DataPoints))
	}
}

func TestGauges_UpAndDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordingActive.Add(ctx, 1)
	m.RecordingActive.Add(ctx, -1)
	m.DegradedMode.Add(ctx, 1)

	rm := collect(t, reader)
	for _, tc := range []struct {
		name string
		want int64
	}{
		{"callwatch.recording_active", 0},
		{"callwatch.degraded_mode", 1},
	} {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Fatalf("%s not found", tc.name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok {
			t.Fatalf("%s is not a sum", tc.name)
		}
		if len(sum.DataPoints) != 1 {
			t.Fatalf("%s data points = %d, want 1", tc.name, len(sum.DataPoints))
		}
		if got := sum.DataPoints[0].Value; got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestCounterWithManualAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CallsDetected.Add(ctx, 1, metric.WithAttributes(Attr("source", "primary")))

	rm := collect(t, reader)
	met := findMetric(rm, "callwatch.calls.detected")
	if met == nil {
		t.Fatal("callwatch.calls.detected not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	found := false
	for _, kv := range sum.DataPoints[0].Attributes.ToSlice() {
		if kv.Key == attribute.Key("source") && kv.Value.AsString() == "primary" {
			found = true
		}
	}
	if !found {
		t.Error("missing source attribute")
	}
}
