package repository

import (
	"context"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
)

// Repository defines persistence for reconciliation checkpoints.
type Repository interface {
	// Get returns the checkpoint for tenantID and resource, or nil if none exists.
	Get(ctx context.Context, tenantID string, resource domain.Resource) (*domain.Checkpoint, error)
	// Save creates or replaces the checkpoint for its tenant and resource.
	Save(ctx context.Context, c *domain.Checkpoint) error
	// ListByTenant returns all checkpoints of tenantID ordered by resource.
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.Checkpoint, error)
}
