package domain

import "time"

// AuditRecord is a single change event reported by the partner platform for a customer.
// Old and new values are the serialized resource payloads at the time of the change.
type AuditRecord struct {
	ID               string          `json:"id"`
	PartnerID        string          `json:"partnerId,omitempty"`
	CustomerID       string          `json:"customerId"`
	CustomerName     string          `json:"customerName,omitempty"`
	OperationDate    time.Time       `json:"operationDate"`
	OperationStatus  OperationStatus `json:"operationStatus"`
	OperationType    OperationType   `json:"operationType"`
	ResourceType     ResourceType    `json:"resourceType"`
	ResourceOldValue string          `json:"resourceOldValue,omitempty"`
	ResourceNewValue string          `json:"resourceNewValue,omitempty"`
	UserPrincipal    string          `json:"userPrincipalName,omitempty"`
}

// EntityID returns the audit record id.
func (r AuditRecord) EntityID() string { return r.ID }

type OperationStatus string

const (
	OperationStatusSucceeded OperationStatus = "succeeded"
	OperationStatusFailed    OperationStatus = "failed"
	OperationStatusProgress  OperationStatus = "progress"
	OperationStatusDecline   OperationStatus = "decline"
)

type ResourceType string

const (
	ResourceTypeCustomer     ResourceType = "customer"
	ResourceTypeOrder        ResourceType = "order"
	ResourceTypeSubscription ResourceType = "subscription"
	ResourceTypeLicense      ResourceType = "license"
	ResourceTypeUser         ResourceType = "customerUser"
)

type OperationType string

const (
	OperationAddCustomer                       OperationType = "add_customer"
	OperationRemovePartnerCustomerRelationship OperationType = "remove_partner_customer_relationship"
	OperationUpdateCustomerBillingProfile      OperationType = "update_customer_billing_profile"
	OperationCreateOrder                       OperationType = "create_order"
	OperationUpdateOrder                       OperationType = "update_order"
	OperationUpdateSubscription                OperationType = "update_subscription"
	OperationConvertTrialSubscription          OperationType = "convert_trial_subscription"
)
