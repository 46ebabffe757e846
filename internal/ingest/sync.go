package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	checkpointdomain "github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/reconcile"
)

// Source is the authoritative partner platform.
type Source interface {
	// AuditRecords returns the audit records of tenantID recorded after since.
	AuditRecords(ctx context.Context, tenantID string, since time.Time) ([]domain.AuditRecord, error)
	// Snapshot returns the full current state of a tenant's resource as a JSON array.
	Snapshot(ctx context.Context, tenantID string, resource checkpointdomain.Resource) (json.RawMessage, error)
}

// TenantResources are synchronized for every customer tenant when SyncTenant is given none.
var TenantResources = []checkpointdomain.Resource{
	checkpointdomain.ResourceSubscriptions,
	checkpointdomain.ResourceSecureScores,
	checkpointdomain.ResourceAlerts,
	checkpointdomain.ResourceControls,
}

// Sync reconciles one resource of tenantID from src, choosing the mode with Plan.
func (s *Service) Sync(ctx context.Context, src Source, tenantID string, resource checkpointdomain.Resource) (*Result, error) {
	plan, err := s.Plan(ctx, tenantID, resource)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	asOf := s.clock.Now().UTC()
	if plan.Mode == checkpointdomain.ModeIncremental {
		records, err := src.AuditRecords(ctx, tenantID, plan.Since)
		if err != nil {
			return nil, s.fail(ctx, s.begin(tenantID, resource, runID, plan.Mode), err)
		}
		return s.ApplyAuditBatch(ctx, AuditBatch{TenantID: tenantID, Resource: resource, RunID: runID, AsOf: asOf, Records: records})
	}
	docs, err := src.Snapshot(ctx, tenantID, resource)
	if err != nil {
		return nil, s.fail(ctx, s.begin(tenantID, resource, runID, plan.Mode), err)
	}
	return s.ApplySnapshot(ctx, SnapshotBatch{TenantID: tenantID, Resource: resource, RunID: runID, AsOf: asOf, Documents: docs})
}

// SyncTenant reconciles resources of tenantID one after another, TenantResources when none are
// given. A failed resource does not stop the others; failures are combined in the returned error.
func (s *Service) SyncTenant(ctx context.Context, src Source, tenantID string, resources ...checkpointdomain.Resource) ([]*Result, error) {
	if len(resources) == 0 {
		resources = TenantResources
	}
	var (
		results []*Result
		errs    *multierror.Error
	)
	for _, r := range resources {
		if s.storeFor(r) == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, multierror.Append(errs, err).ErrorOrNil()
		}
		res, err := s.Sync(ctx, src, tenantID, r)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs.ErrorOrNil()
}

// SyncPartner reconciles the partner-wide customer list and returns the ids of the customer
// tenants still related to the partner.
func (s *Service) SyncPartner(ctx context.Context, src Source) ([]string, error) {
	if s.stores.Customers == nil {
		return nil, ErrUnsupportedResource
	}
	if _, err := s.Sync(ctx, src, s.cfg.PartnerID, checkpointdomain.ResourceCustomers); err != nil {
		return nil, err
	}
	customers, err := s.stores.Customers.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return reconcile.CustomerIDs(customers), nil
}

// SyncAll runs SyncTenant for every tenant with at most Config.Concurrency tenants in flight.
// Tenants are independent: one tenant's failure is collected and the rest continue.
func (s *Service) SyncAll(ctx context.Context, src Source, tenants []string) ([]*Result, error) {
	var (
		mu      sync.Mutex
		results []*Result
		errs    *multierror.Error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, tenantID := range tenants {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := s.SyncTenant(ctx, src, tenantID)
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res...)
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil && !errors.Is(errs.ErrorOrNil(), err) {
		errs = multierror.Append(errs, err)
	}
	s.log.Info("sync finished", zap.Int("tenants", len(tenants)), zap.Int("runs", len(results)), zap.Bool("errors", errs.ErrorOrNil() != nil))
	return results, errs.ErrorOrNil()
}
