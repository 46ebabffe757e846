package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/ingest"
)

const scopeName = "partner-sync.ingest"

// recordEmitter is the part of otellog.Logger the emitter uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// ReportEmitter turns reconciliation results into OTel log records and run metrics.
type ReportEmitter struct {
	logger   recordEmitter
	runs     metric.Int64Counter
	failed   metric.Int64Counter
	written  metric.Int64Counter
	duration metric.Float64Histogram
}

var _ ingest.Reporter = (*ReportEmitter)(nil)

// NewReportEmitter returns an emitter using the providers' logger and meter.
// A nil LoggerProvider or MeterProvider disables that half.
func NewReportEmitter(p *Providers) *ReportEmitter {
	var (
		logger recordEmitter
		meter  metric.Meter = noop.NewMeterProvider().Meter(scopeName)
	)
	if p != nil && p.LoggerProvider != nil {
		logger = p.LoggerProvider.Logger(scopeName)
	}
	if p != nil && p.MeterProvider != nil {
		meter = p.MeterProvider.Meter(scopeName)
	}
	return newReportEmitter(logger, meter)
}

func newReportEmitter(logger recordEmitter, meter metric.Meter) *ReportEmitter {
	e := &ReportEmitter{logger: logger}
	var err error
	if e.runs, err = meter.Int64Counter("ingest.runs", metric.WithDescription("Completed reconciliation runs.")); err != nil {
		e.runs = noop.Int64Counter{}
	}
	if e.failed, err = meter.Int64Counter("ingest.records_failed", metric.WithDescription("Audit records that could not be applied.")); err != nil {
		e.failed = noop.Int64Counter{}
	}
	if e.written, err = meter.Int64Counter("ingest.documents_written", metric.WithDescription("Documents persisted by reconciliation runs.")); err != nil {
		e.written = noop.Int64Counter{}
	}
	if e.duration, err = meter.Float64Histogram("ingest.run_duration", metric.WithUnit("s"),
		metric.WithDescription("Wall time of reconciliation runs.")); err != nil {
		e.duration = noop.Float64Histogram{}
	}
	return e
}

// Report implements ingest.Reporter. Best-effort; never blocks the run on export.
func (e *ReportEmitter) Report(ctx context.Context, r ingest.Result) {
	attrs := metric.WithAttributes(
		attribute.String("resource", string(r.Resource)),
		attribute.String("mode", string(r.Mode)),
	)
	e.runs.Add(ctx, 1, attrs)
	e.written.Add(ctx, int64(r.Written), attrs)
	if r.Failed > 0 {
		e.failed.Add(ctx, int64(r.Failed), attrs)
	}
	e.duration.Record(ctx, r.Duration.Seconds(), attrs)

	if e.logger == nil {
		return
	}
	rec := otellog.Record{}
	ts := r.StartedAt.Add(r.Duration)
	if r.StartedAt.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	if r.Failed > 0 {
		rec.SetSeverity(otellog.SeverityWarn)
	}
	rec.SetBody(otellog.StringValue("reconciliation run completed"))
	rec.AddAttributes(
		otellog.String("run_id", r.RunID),
		otellog.String("tenant_id", r.TenantID),
		otellog.String("resource", string(r.Resource)),
		otellog.String("mode", string(r.Mode)),
		otellog.Int("received", r.Received),
		otellog.Int("applied", r.Applied),
		otellog.Int("skipped", r.Skipped),
		otellog.Int("ignored", r.Ignored),
		otellog.Int("failed", r.Failed),
		otellog.Int("written", r.Written),
		otellog.Float64("duration_seconds", r.Duration.Seconds()),
	)
	e.logger.Emit(ctx, rec)
}
