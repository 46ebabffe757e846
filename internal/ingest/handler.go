package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	checkpointdomain "github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/queue"
)

// AuditBatchPayload is the payload of an audit_batch message.
type AuditBatchPayload struct {
	AsOf    time.Time            `json:"asOf"`
	Country string               `json:"country,omitempty"`
	Records []domain.AuditRecord `json:"records"`
}

// SnapshotPayload is the payload of a snapshot message.
type SnapshotPayload struct {
	AsOf      time.Time       `json:"asOf"`
	Documents json.RawMessage `json:"documents"`
}

// HandleEnvelope is the queue.Handler for sync requests. A stale checkpoint is not an error:
// the refresh request has already been published. Other message types are ignored.
func (s *Service) HandleEnvelope(ctx context.Context, e queue.Envelope) error {
	resource := checkpointdomain.Resource(e.Resource)
	var err error
	switch e.Type {
	case queue.TypeAuditBatch:
		var p AuditBatchPayload
		if err = e.Decode(&p); err != nil {
			return err
		}
		_, err = s.ApplyAuditBatch(ctx, AuditBatch{
			TenantID: e.TenantID,
			Resource: resource,
			RunID:    e.RunID,
			AsOf:     p.AsOf,
			Country:  p.Country,
			Records:  p.Records,
		})
	case queue.TypeSnapshot:
		var p SnapshotPayload
		if err = e.Decode(&p); err != nil {
			return err
		}
		_, err = s.ApplySnapshot(ctx, SnapshotBatch{
			TenantID:  e.TenantID,
			Resource:  resource,
			RunID:     e.RunID,
			AsOf:      p.AsOf,
			Documents: p.Documents,
		})
	default:
		s.log.Debug("ignoring message", zap.String("type", string(e.Type)), zap.String("id", e.ID))
		return nil
	}
	if errors.Is(err, ErrFullRefreshRequired) {
		s.log.Info("full refresh requested", zap.String("tenant_id", e.TenantID), zap.String("resource", e.Resource))
		return nil
	}
	return err
}

var _ queue.Handler = (*Service)(nil).HandleEnvelope
