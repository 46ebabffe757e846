package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	checkpointdomain "github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/ingest"
)

// recordCapture stores the Records passed to Emit for assertion.
type recordCapture struct {
	recs []otellog.Record
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.recs = append(r.recs, rec)
}

func attrs(rec otellog.Record) map[string]otellog.Value {
	out := make(map[string]otellog.Value)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

func result() ingest.Result {
	return ingest.Result{
		RunID:     "run-1",
		TenantID:  "t1",
		Resource:  checkpointdomain.ResourceSubscriptions,
		Mode:      checkpointdomain.ModeIncremental,
		Received:  5,
		Applied:   3,
		Skipped:   1,
		Failed:    1,
		Written:   2,
		StartedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
}

func TestReport_LogRecordMapping(t *testing.T) {
	cap := &recordCapture{}
	em := newReportEmitter(cap, noop.NewMeterProvider().Meter("test"))
	em.Report(context.Background(), result())

	if len(cap.recs) != 1 {
		t.Fatalf("emitted %d records, want 1", len(cap.recs))
	}
	rec := cap.recs[0]
	if want := time.Date(2024, 6, 1, 12, 0, 1, 500_000_000, time.UTC); !rec.Timestamp().Equal(want) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), want)
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn for a run with failures", rec.Severity())
	}
	a := attrs(rec)
	if a["run_id"].AsString() != "run-1" || a["tenant_id"].AsString() != "t1" || a["resource"].AsString() != "subscriptions" {
		t.Errorf("identity attributes = %v", a)
	}
	if a["applied"].AsInt64() != 3 || a["failed"].AsInt64() != 1 || a["written"].AsInt64() != 2 {
		t.Errorf("count attributes = %v", a)
	}
	if a["duration_seconds"].AsFloat64() != 1.5 {
		t.Errorf("duration_seconds = %v", a["duration_seconds"])
	}
}

func TestReport_CleanRunIsInfo(t *testing.T) {
	cap := &recordCapture{}
	em := newReportEmitter(cap, noop.NewMeterProvider().Meter("test"))
	r := result()
	r.Failed = 0
	r.StartedAt = time.Time{}
	before := time.Now().UTC()
	em.Report(context.Background(), r)
	rec := cap.recs[0]
	if rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want info", rec.Severity())
	}
	if rec.Timestamp().Before(before) {
		t.Errorf("timestamp = %v, want now", rec.Timestamp())
	}
}

func TestReport_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	em := NewReportEmitter(&Providers{MeterProvider: mp})
	em.Report(context.Background(), result())
	em.Report(context.Background(), result())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	if sums["ingest.runs"] != 2 || sums["ingest.documents_written"] != 4 || sums["ingest.records_failed"] != 2 {
		t.Errorf("sums = %v", sums)
	}
}

func TestNewReportEmitter_NilProviders(t *testing.T) {
	em := NewReportEmitter(nil)
	em.Report(context.Background(), result())

	lp := sdklog.NewLoggerProvider()
	defer func() { _ = lp.Shutdown(context.Background()) }()
	NewReportEmitter(&Providers{LoggerProvider: lp}).Report(context.Background(), result())
}
