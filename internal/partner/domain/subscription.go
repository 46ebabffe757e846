package domain

import "time"

// OpenEndedCommitment is the commitment end date reported for subscriptions without a term.
var OpenEndedCommitment = time.Date(9999, time.December, 14, 0, 0, 0, 0, time.UTC)

// SubscriptionDetail is the current state of one customer subscription.
type SubscriptionDetail struct {
	ID                   string       `json:"id"`
	OfferID              string       `json:"offerId"`
	OfferName            string       `json:"offerName,omitempty"`
	FriendlyName         string       `json:"friendlyName,omitempty"`
	BillingCycle         BillingCycle `json:"billingCycle,omitempty"`
	BillingType          BillingType  `json:"billingType,omitempty"`
	Quantity             int          `json:"quantity"`
	UnitType             string       `json:"unitType,omitempty"`
	AutoRenewEnabled     bool         `json:"autoRenewEnabled"`
	CreationDate         time.Time    `json:"creationDate"`
	EffectiveStartDate   time.Time    `json:"effectiveStartDate"`
	CommitmentEndDate    time.Time    `json:"commitmentEndDate"`
	Status               string       `json:"status,omitempty"`
	TenantID             string       `json:"tenantId"`
	ParentSubscriptionID string       `json:"parentSubscriptionId,omitempty"`
	SuspensionReasons    []string     `json:"suspensionReasons,omitempty"`
}

// EntityID returns the subscription id.
func (s SubscriptionDetail) EntityID() string { return s.ID }

const SubscriptionStatusActive = "active"

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleAnnual  BillingCycle = "annual"
	BillingCycleOneTime BillingCycle = "one_time"
	BillingCycleNone    BillingCycle = "none"
)

type BillingType string

const (
	BillingTypeLicense BillingType = "license"
	BillingTypeUsage   BillingType = "usage"
	BillingTypeNone    BillingType = "none"
)

// EffectiveStart truncates t to its UTC calendar date.
func EffectiveStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CommitmentEnd returns start plus one year for license billing and OpenEndedCommitment otherwise.
func CommitmentEnd(start time.Time, billing BillingType) time.Time {
	if billing == BillingTypeLicense {
		return start.AddDate(1, 0, 0)
	}
	return OpenEndedCommitment
}
