package domain

// Customer is a tenant managed by the partner.
type Customer struct {
	ID                    string          `json:"id"`
	CommerceID            string          `json:"commerceId,omitempty"`
	CompanyProfile        CompanyProfile  `json:"companyProfile"`
	BillingProfile        *BillingProfile `json:"billingProfile,omitempty"`
	RelationshipToPartner string          `json:"relationshipToPartner,omitempty"`
	// RemovedFromPartnerCenter is set when the partner relationship was removed.
	// The customer stays in the snapshot so downstream data keeps its owner.
	RemovedFromPartnerCenter bool   `json:"removedFromPartnerCenter"`
	TenantID                 string `json:"tenantId,omitempty"`
}

// EntityID returns the customer id.
func (c Customer) EntityID() string { return c.ID }

// BillingCountry returns the country of the default billing address, or "" when unknown.
func (c Customer) BillingCountry() string {
	if c.BillingProfile == nil || c.BillingProfile.DefaultAddress == nil {
		return ""
	}
	return c.BillingProfile.DefaultAddress.Country
}

type CompanyProfile struct {
	TenantID    string `json:"tenantId,omitempty"`
	Domain      string `json:"domain,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
}

type BillingProfile struct {
	ID             string   `json:"id,omitempty"`
	FirstName      string   `json:"firstName,omitempty"`
	LastName       string   `json:"lastName,omitempty"`
	Email          string   `json:"email,omitempty"`
	Culture        string   `json:"culture,omitempty"`
	Language       string   `json:"language,omitempty"`
	CompanyName    string   `json:"companyName,omitempty"`
	DefaultAddress *Address `json:"defaultAddress,omitempty"`
}

type Address struct {
	Country      string `json:"country,omitempty"`
	Region       string `json:"region,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	AddressLine1 string `json:"addressLine1,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
}
