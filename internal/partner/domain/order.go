package domain

import "time"

// Order is a purchase placed for a customer. Each line item becomes one subscription.
type Order struct {
	ID                  string          `json:"id"`
	ReferenceCustomerID string          `json:"referenceCustomerId,omitempty"`
	BillingCycle        BillingCycle    `json:"billingCycle"`
	CurrencyCode        string          `json:"currencyCode,omitempty"`
	CreationDate        time.Time       `json:"creationDate"`
	Status              string          `json:"status,omitempty"`
	LineItems           []OrderLineItem `json:"lineItems"`
}

type OrderLineItem struct {
	LineItemNumber       int    `json:"lineItemNumber"`
	OfferID              string `json:"offerId"`
	SubscriptionID       string `json:"subscriptionId"`
	ParentSubscriptionID string `json:"parentSubscriptionId,omitempty"`
	FriendlyName         string `json:"friendlyName,omitempty"`
	Quantity             int    `json:"quantity"`
}

// Offer holds the catalog metadata used to classify a purchased line item.
type Offer struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Country         string      `json:"country,omitempty"`
	Billing         BillingType `json:"billing"`
	IsAutoRenewable bool        `json:"isAutoRenewable"`
	UnitType        string      `json:"unitType,omitempty"`
}

// EntityID returns the offer id.
func (o Offer) EntityID() string { return o.ID }
