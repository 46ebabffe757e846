// Package ingest keeps the stored partner snapshots in step with the partner platform. Each
// (tenant, resource) pair is reconciled either incrementally, by folding audit records onto the
// stored snapshot, or by a full replace when its checkpoint is missing or too old to trust.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	checkpointdomain "github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
	checkpointrepo "github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/repository"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/queue"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/reconcile"
)

// Sentinel errors; the worker maps them to downstream messages.
var (
	ErrFullRefreshRequired = errors.New("ingest: checkpoint missing or outside trust window; full refresh required")
	ErrUnsupportedResource = errors.New("ingest: unsupported resource")
)

const (
	DefaultTrustWindow = 30 * 24 * time.Hour
	DefaultConcurrency = 4
	DefaultPartnerID   = "partner"
)

// Config tunes the synchronizer.
type Config struct {
	// PartnerID keys the checkpoint of the partner-wide customer list.
	PartnerID   string
	TrustWindow time.Duration
	// Concurrency bounds the tenants synchronized at once by SyncAll.
	Concurrency int
	// DefaultCountry is used for offer lookups when neither the batch nor the customer's
	// billing profile names a country.
	DefaultCountry string
}

func (c Config) withDefaults() Config {
	if c.PartnerID == "" {
		c.PartnerID = DefaultPartnerID
	}
	if c.TrustWindow <= 0 {
		c.TrustWindow = DefaultTrustWindow
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Reporter receives the result of every completed run.
type Reporter interface {
	Report(ctx context.Context, r Result)
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for trust-window checks and checkpoint times.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithReporter registers a Reporter.
func WithReporter(r Reporter) Option { return func(s *Service) { s.reporter = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// Service reconciles partner resources into the document repository.
type Service struct {
	stores      Stores
	checkpoints checkpointrepo.Repository
	offers      reconcile.OfferLookup
	publisher   queue.Publisher
	cfg         Config
	clock       clock.Clock
	reporter    Reporter
	log         *zap.Logger
}

// NewService returns a Service. publisher may be nil to disable downstream messages.
func NewService(stores Stores, checkpoints checkpointrepo.Repository, offers reconcile.OfferLookup, publisher queue.Publisher, cfg Config, opts ...Option) *Service {
	s := &Service{
		stores:      stores,
		checkpoints: checkpoints,
		offers:      offers,
		publisher:   publisher,
		cfg:         cfg.withDefaults(),
		clock:       clock.New(),
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize provisions every configured store.
func (s *Service) Initialize(ctx context.Context) error { return s.stores.Initialize(ctx) }

// Plan is the reconciliation mode chosen for a tenant's resource.
type Plan struct {
	Mode checkpointdomain.Mode
	// Since is the last successful reconciliation; audit records after it are needed in incremental mode.
	Since      time.Time
	Checkpoint *checkpointdomain.Checkpoint
}

// Plan applies the bootstrap rule: incremental when the checkpoint exists and is inside the trust
// window, full otherwise. Resources without audit records are always fully refreshed.
func (s *Service) Plan(ctx context.Context, tenantID string, resource checkpointdomain.Resource) (Plan, error) {
	cp, err := s.checkpoints.Get(ctx, tenantID, resource)
	if err != nil {
		return Plan{}, fmt.Errorf("ingest: read checkpoint %s/%s: %w", tenantID, resource, err)
	}
	p := Plan{Mode: checkpointdomain.ModeFull, Checkpoint: cp}
	if !auditable(resource) {
		return p, nil
	}
	if cp.Fresh(s.clock.Now(), s.cfg.TrustWindow) {
		p.Mode = checkpointdomain.ModeIncremental
		p.Since = cp.LastSucceededAt
	}
	return p, nil
}

func auditable(r checkpointdomain.Resource) bool {
	return r == checkpointdomain.ResourceCustomers || r == checkpointdomain.ResourceSubscriptions
}

// Result describes one completed reconciliation run.
type Result struct {
	RunID     string                    `json:"runId"`
	TenantID  string                    `json:"tenantId"`
	Resource  checkpointdomain.Resource `json:"resource"`
	Mode      checkpointdomain.Mode     `json:"mode"`
	Received  int                       `json:"received"`
	Applied   int                       `json:"applied"`
	Skipped   int                       `json:"skipped"`
	Ignored   int                       `json:"ignored"`
	Failed    int                       `json:"failed"`
	Written   int                       `json:"written"`
	StartedAt time.Time                 `json:"startedAt"`
	Duration  time.Duration             `json:"duration"`
}

// AuditBatch is a set of audit records for one tenant's resource.
type AuditBatch struct {
	TenantID string
	Resource checkpointdomain.Resource
	RunID    string
	// AsOf is when the source read the records and becomes the new checkpoint. Zero means now.
	AsOf time.Time
	// Country overrides the billing country used for offer lookups.
	Country string
	Records []domain.AuditRecord
}

// SnapshotBatch is a full fetch of one tenant's resource as a JSON array of documents.
type SnapshotBatch struct {
	TenantID  string
	Resource  checkpointdomain.Resource
	RunID     string
	AsOf      time.Time
	Documents json.RawMessage
}

func (s *Service) begin(tenantID string, resource checkpointdomain.Resource, runID string, mode checkpointdomain.Mode) *Result {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Result{RunID: runID, TenantID: tenantID, Resource: resource, Mode: mode, StartedAt: s.clock.Now().UTC()}
}

// ApplyAuditBatch folds b onto the stored snapshot and persists the entities that changed.
// It returns ErrFullRefreshRequired, after asking the source for a snapshot, when the checkpoint
// cannot be trusted. Per-record failures are counted in the result and logged; they do not fail the run.
func (s *Service) ApplyAuditBatch(ctx context.Context, b AuditBatch) (*Result, error) {
	if !auditable(b.Resource) || s.storeFor(b.Resource) == nil {
		return nil, fmt.Errorf("%w: %q has no audit records", ErrUnsupportedResource, b.Resource)
	}
	plan, err := s.Plan(ctx, b.TenantID, b.Resource)
	if err != nil {
		return nil, err
	}
	res := s.begin(b.TenantID, b.Resource, b.RunID, checkpointdomain.ModeIncremental)
	if plan.Mode == checkpointdomain.ModeFull {
		s.publish(ctx, queue.TypeRefreshRequired, res, plan)
		return nil, fmt.Errorf("%w: %s/%s", ErrFullRefreshRequired, b.TenantID, b.Resource)
	}
	res.Received = len(b.Records)

	var report reconcile.Report
	switch b.Resource {
	case checkpointdomain.ResourceCustomers:
		report, res.Written, err = foldAndPersist(ctx, s.stores.Customers, s.stores.Customers.GetAll, b.Records, reconcile.CustomerApplier{}, "")
	case checkpointdomain.ResourceSubscriptions:
		applier := &reconcile.SubscriptionApplier{Offers: s.offers, Country: s.country(ctx, b), TenantID: b.TenantID}
		load := func(ctx context.Context) ([]domain.SubscriptionDetail, error) {
			return s.stores.Subscriptions.Query(ctx, docstore.Where("tenantId", docstore.OpEq, b.TenantID), b.TenantID)
		}
		report, res.Written, err = foldAndPersist(ctx, s.stores.Subscriptions, load, b.Records, applier, b.TenantID)
	}
	res.Applied, res.Skipped, res.Ignored, res.Failed = report.Applied, report.Skipped, report.Ignored, report.Failed
	if err != nil {
		return nil, s.fail(ctx, res, err)
	}
	for _, rerr := range report.Errors() {
		s.log.Warn("audit record not applied",
			zap.String("tenant_id", b.TenantID), zap.String("resource", string(b.Resource)), zap.Error(rerr))
	}
	return s.complete(ctx, res, b.AsOf)
}

// country picks the billing country for offer lookups of a tenant's orders.
func (s *Service) country(ctx context.Context, b AuditBatch) string {
	if b.Country != "" {
		return b.Country
	}
	if s.stores.Customers != nil {
		c, err := s.stores.Customers.Get(ctx, b.TenantID, "")
		if err != nil {
			s.log.Warn("customer lookup for billing country failed", zap.String("tenant_id", b.TenantID), zap.Error(err))
		} else if c != nil && c.BillingCountry() != "" {
			return c.BillingCountry()
		}
	}
	return s.cfg.DefaultCountry
}

// foldAndPersist reconciles records onto the loaded snapshot and writes back only changed entities.
func foldAndPersist[T reconcile.Entity](
	ctx context.Context,
	store Store[T],
	load func(context.Context) ([]T, error),
	records []domain.AuditRecord,
	applier reconcile.Applier[T],
	partitionKey string,
) (reconcile.Report, int, error) {
	before, err := load(ctx)
	if err != nil {
		return reconcile.Report{}, 0, fmt.Errorf("load snapshot: %w", err)
	}
	after, report, err := reconcile.Reconcile(ctx, before, records, applier)
	if err != nil {
		return report, 0, err
	}
	dirty, err := changed(before, after)
	if err != nil {
		return report, 0, err
	}
	n, err := store.AddOrUpdateBatch(ctx, dirty, partitionKey)
	if err != nil {
		return report, n, fmt.Errorf("persist: %w", err)
	}
	return report, n, nil
}

// changed returns the entities of after that are new or differ from their counterpart in before.
func changed[T reconcile.Entity](before, after []T) ([]T, error) {
	prev := make(map[string][]byte, len(before))
	for _, e := range before {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.EntityID(), err)
		}
		prev[e.EntityID()] = b
	}
	var out []T
	for _, e := range after {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.EntityID(), err)
		}
		if old, ok := prev[e.EntityID()]; ok && string(old) == string(b) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ApplySnapshot replaces the stored state of b's resource with its documents. Documents missing
// a tenant id are stamped with b.TenantID. Stored entities absent from the snapshot are left alone.
func (s *Service) ApplySnapshot(ctx context.Context, b SnapshotBatch) (*Result, error) {
	if s.storeFor(b.Resource) == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedResource, b.Resource)
	}
	res := s.begin(b.TenantID, b.Resource, b.RunID, checkpointdomain.ModeFull)
	var err error
	switch b.Resource {
	case checkpointdomain.ResourceCustomers:
		res.Received, res.Written, err = replace(ctx, s.stores.Customers, b.Documents, "", nil)
	case checkpointdomain.ResourceSubscriptions:
		res.Received, res.Written, err = replace(ctx, s.stores.Subscriptions, b.Documents, b.TenantID,
			func(v *domain.SubscriptionDetail) { stamp(&v.TenantID, b.TenantID) })
	case checkpointdomain.ResourceSecureScores:
		res.Received, res.Written, err = replace(ctx, s.stores.SecureScores, b.Documents, b.TenantID,
			func(v *domain.SecureScore) { stamp(&v.TenantID, b.TenantID) })
	case checkpointdomain.ResourceAlerts:
		res.Received, res.Written, err = replace(ctx, s.stores.Alerts, b.Documents, b.TenantID,
			func(v *domain.Alert) { stamp(&v.TenantID, b.TenantID) })
	case checkpointdomain.ResourceControls:
		res.Received, res.Written, err = replace(ctx, s.stores.Controls, b.Documents, b.TenantID,
			func(v *domain.ControlListEntry) { stamp(&v.TenantID, b.TenantID) })
	}
	if err != nil {
		return nil, s.fail(ctx, res, err)
	}
	res.Applied = res.Written
	return s.complete(ctx, res, b.AsOf)
}

func stamp(field *string, tenantID string) {
	if *field == "" {
		*field = tenantID
	}
}

func replace[T reconcile.Entity](ctx context.Context, store Store[T], docs json.RawMessage, partitionKey string, fix func(*T)) (int, int, error) {
	var items []T
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &items); err != nil {
			return 0, 0, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	for i := range items {
		if items[i].EntityID() == "" {
			return len(items), 0, fmt.Errorf("decode snapshot: document %d has no id", i)
		}
		if fix != nil {
			fix(&items[i])
		}
	}
	n, err := store.AddOrUpdateBatch(ctx, items, partitionKey)
	if err != nil {
		return len(items), n, fmt.Errorf("persist: %w", err)
	}
	return len(items), n, nil
}

// storeFor reports the store of r as an untyped value, nil when r is unknown or disabled.
func (s *Service) storeFor(r checkpointdomain.Resource) any {
	switch r {
	case checkpointdomain.ResourceCustomers:
		if s.stores.Customers != nil {
			return s.stores.Customers
		}
	case checkpointdomain.ResourceSubscriptions:
		if s.stores.Subscriptions != nil {
			return s.stores.Subscriptions
		}
	case checkpointdomain.ResourceSecureScores:
		if s.stores.SecureScores != nil {
			return s.stores.SecureScores
		}
	case checkpointdomain.ResourceAlerts:
		if s.stores.Alerts != nil {
			return s.stores.Alerts
		}
	case checkpointdomain.ResourceControls:
		if s.stores.Controls != nil {
			return s.stores.Controls
		}
	}
	return nil
}

// complete saves the checkpoint, then reports and publishes the result.
func (s *Service) complete(ctx context.Context, res *Result, asOf time.Time) (*Result, error) {
	now := s.clock.Now().UTC()
	if asOf.IsZero() {
		asOf = now
	}
	res.Duration = now.Sub(res.StartedAt)
	cp := &checkpointdomain.Checkpoint{
		TenantID:        res.TenantID,
		Resource:        res.Resource,
		Mode:            res.Mode,
		LastSucceededAt: asOf.UTC(),
		LastRunID:       res.RunID,
		RecordsApplied:  res.Applied,
		UpdatedAt:       now,
	}
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		return nil, s.fail(ctx, res, fmt.Errorf("save checkpoint: %w", err))
	}
	s.log.Info("reconciled",
		zap.String("run_id", res.RunID),
		zap.String("tenant_id", res.TenantID),
		zap.String("resource", string(res.Resource)),
		zap.String("mode", string(res.Mode)),
		zap.Int("received", res.Received),
		zap.Int("applied", res.Applied),
		zap.Int("failed", res.Failed),
		zap.Int("written", res.Written),
		zap.Duration("duration", res.Duration),
	)
	if s.reporter != nil {
		s.reporter.Report(ctx, *res)
	}
	s.publish(ctx, queue.TypeSynced, res, res)
	return res, nil
}

type failure struct {
	Error string `json:"error"`
}

// fail publishes a sync_failed message and returns err wrapped with the run's identity.
func (s *Service) fail(ctx context.Context, res *Result, err error) error {
	err = fmt.Errorf("ingest: %s/%s run %s: %w", res.TenantID, res.Resource, res.RunID, err)
	s.publish(ctx, queue.TypeSyncFailed, res, failure{Error: err.Error()})
	return err
}

// publish is best-effort: failures are logged.
func (s *Service) publish(ctx context.Context, typ queue.Type, res *Result, payload any) {
	if s.publisher == nil {
		return
	}
	env, err := queue.NewEnvelope(typ, res.TenantID, string(res.Resource), payload)
	if err != nil {
		s.log.Warn("encode downstream message failed", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	env.RunID = res.RunID
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Warn("publish downstream message failed",
			zap.String("type", string(typ)), zap.String("tenant_id", res.TenantID), zap.Error(err))
	}
}
