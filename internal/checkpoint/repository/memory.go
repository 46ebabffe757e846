package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
)

type key struct {
	tenantID string
	resource domain.Resource
}

// MemoryRepository keeps checkpoints in process memory. It backs the in-memory document store setup.
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[key]domain.Checkpoint
	now  func() time.Time
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[key]domain.Checkpoint), now: time.Now}
}

func (r *MemoryRepository) Get(_ context.Context, tenantID string, resource domain.Resource) (*domain.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.data[key{tenantID, resource}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryRepository) Save(_ context.Context, c *domain.Checkpoint) error {
	c.UpdatedAt = r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key{c.TenantID, c.Resource}] = *c
	return nil
}

func (r *MemoryRepository) ListByTenant(_ context.Context, tenantID string) ([]*domain.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Checkpoint
	for k, c := range r.data {
		if k.tenantID == tenantID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out, nil
}
