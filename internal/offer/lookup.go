// Package offer resolves catalog offers by billing country and offer id.
package offer

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
)

// ErrOfferNotFound is returned when the catalog has no offer for the country and id.
var ErrOfferNotFound = errors.New("offer: not found")

// Lookup resolves an offer. Implementations must be safe for concurrent use.
type Lookup interface {
	GetOffer(ctx context.Context, country, offerID string) (*domain.Offer, error)
}

func key(country, offerID string) string {
	return strings.ToUpper(country) + "/" + strings.ToLower(offerID)
}

// MemoryLookup serves offers from a static table. Country matching is case-insensitive.
type MemoryLookup struct {
	mu     sync.RWMutex
	offers map[string]domain.Offer
}

// NewMemoryLookup returns a MemoryLookup holding offers; each offer's Country selects its market.
func NewMemoryLookup(offers ...domain.Offer) *MemoryLookup {
	m := &MemoryLookup{offers: make(map[string]domain.Offer, len(offers))}
	for _, o := range offers {
		m.Put(o)
	}
	return m
}

// Put adds or replaces o.
func (m *MemoryLookup) Put(o domain.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[key(o.Country, o.ID)] = o
}

// GetOffer implements Lookup.
func (m *MemoryLookup) GetOffer(_ context.Context, country, offerID string) (*domain.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[key(country, offerID)]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return &o, nil
}
