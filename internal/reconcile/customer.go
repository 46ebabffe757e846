package reconcile

import (
	"context"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
)

var (
	changeAddCustomer = Change{domain.ResourceTypeCustomer, domain.OperationAddCustomer}
	changeRemoveRel   = Change{domain.ResourceTypeCustomer, domain.OperationRemovePartnerCustomerRelationship}
	changeBilling     = Change{domain.ResourceTypeCustomer, domain.OperationUpdateCustomerBillingProfile}
)

// CustomerApplier folds customer changes onto a customer snapshot.
type CustomerApplier struct{}

var _ Applier[domain.Customer] = CustomerApplier{}

// Apply implements Applier.
func (CustomerApplier) Apply(_ context.Context, snap *Snapshot[domain.Customer], rec domain.AuditRecord) (Outcome, error) {
	switch ChangeOf(rec) {
	case changeAddCustomer:
		var c domain.Customer
		if err := decode(rec, &c); err != nil {
			return Skipped, err
		}
		if c.ID == "" {
			c.ID = rec.CustomerID
		}
		snap.Replace(c)
		return Applied, nil

	case changeRemoveRel:
		if !snap.Update(rec.CustomerID, func(c *domain.Customer) { c.RemovedFromPartnerCenter = true }) {
			return Skipped, nil
		}
		return Applied, nil

	case changeBilling:
		var bp domain.BillingProfile
		if err := decode(rec, &bp); err != nil {
			return Skipped, err
		}
		if !snap.Update(rec.CustomerID, func(c *domain.Customer) { c.BillingProfile = &bp }) {
			return Skipped, nil
		}
		return Applied, nil
	}
	return Ignored, nil
}

// CustomerIDs returns the ids of customers in the snapshot that are still managed by the partner.
func CustomerIDs(customers []domain.Customer) []string {
	ids := make([]string, 0, len(customers))
	for _, c := range customers {
		if !c.RemovedFromPartnerCenter {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
