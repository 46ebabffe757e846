package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
)

// ErrOfferLookup marks an order whose expansion was abandoned because an offer could not be resolved.
var ErrOfferLookup = errors.New("reconcile: offer lookup failed")

// OfferLookup resolves catalog offers by billing country and offer id.
type OfferLookup interface {
	GetOffer(ctx context.Context, country, offerID string) (*domain.Offer, error)
}

// SubscriptionApplier folds subscription and order changes onto a tenant's subscription snapshot.
// Orders are expanded into one subscription per line item.
type SubscriptionApplier struct {
	Offers OfferLookup
	// Country is the billing country used for offer lookups.
	Country string
	// TenantID is stamped on subscriptions that do not carry one. Empty means the record's customer id.
	TenantID string
}

var _ Applier[domain.SubscriptionDetail] = (*SubscriptionApplier)(nil)

// Apply implements Applier.
func (a *SubscriptionApplier) Apply(ctx context.Context, snap *Snapshot[domain.SubscriptionDetail], rec domain.AuditRecord) (Outcome, error) {
	switch rec.ResourceType {
	case domain.ResourceTypeSubscription:
		var s domain.SubscriptionDetail
		if err := decode(rec, &s); err != nil {
			return Skipped, err
		}
		if s.ID == "" {
			return Skipped, fmt.Errorf("%w: subscription without id", ErrMalformedPayload)
		}
		if s.TenantID == "" {
			s.TenantID = a.tenant(rec)
		}
		snap.Replace(s)
		return Applied, nil

	case domain.ResourceTypeOrder:
		var o domain.Order
		if err := decode(rec, &o); err != nil {
			return Skipped, err
		}
		subs, err := a.Expand(ctx, o, a.tenant(rec))
		if err != nil {
			return Skipped, err
		}
		if len(subs) == 0 {
			return Skipped, nil
		}
		for _, s := range subs {
			snap.Replace(s)
		}
		return Applied, nil
	}
	return Ignored, nil
}

func (a *SubscriptionApplier) tenant(rec domain.AuditRecord) string {
	if a.TenantID != "" {
		return a.TenantID
	}
	return rec.CustomerID
}

// Expand synthesizes one subscription per line item of o. One-time orders yield none.
// If any offer cannot be resolved no subscriptions are returned.
func (a *SubscriptionApplier) Expand(ctx context.Context, o domain.Order, tenantID string) ([]domain.SubscriptionDetail, error) {
	if o.BillingCycle == domain.BillingCycleOneTime {
		return nil, nil
	}
	if a.Offers == nil {
		return nil, fmt.Errorf("%w: no offer lookup configured", ErrOfferLookup)
	}
	start := domain.EffectiveStart(o.CreationDate)
	subs := make([]domain.SubscriptionDetail, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		if li.SubscriptionID == "" {
			return nil, fmt.Errorf("%w: order %s line %d has no subscription id", ErrMalformedPayload, o.ID, li.LineItemNumber)
		}
		offer, err := a.Offers.GetOffer(ctx, a.Country, li.OfferID)
		if err != nil {
			return nil, fmt.Errorf("%w: order %s offer %s: %w", ErrOfferLookup, o.ID, li.OfferID, err)
		}
		if offer == nil {
			return nil, fmt.Errorf("%w: order %s offer %s not found", ErrOfferLookup, o.ID, li.OfferID)
		}
		subs = append(subs, domain.SubscriptionDetail{
			ID:                   li.SubscriptionID,
			OfferID:              li.OfferID,
			OfferName:            offer.Name,
			FriendlyName:         li.FriendlyName,
			BillingCycle:         o.BillingCycle,
			BillingType:          offer.Billing,
			Quantity:             li.Quantity,
			UnitType:             offer.UnitType,
			AutoRenewEnabled:     offer.IsAutoRenewable,
			CreationDate:         o.CreationDate,
			EffectiveStartDate:   start,
			CommitmentEndDate:    domain.CommitmentEnd(start, offer.Billing),
			Status:               domain.SubscriptionStatusActive,
			TenantID:             tenantID,
			ParentSubscriptionID: li.ParentSubscriptionID,
		})
	}
	return subs, nil
}
