package domain

import "time"

// SecureScore is a daily security posture score for a tenant.
type SecureScore struct {
	ID                     string         `json:"id"`
	TenantID               string         `json:"tenantId"`
	CreatedDateTime        time.Time      `json:"createdDateTime"`
	ActiveUserCount        int            `json:"activeUserCount"`
	LicensedUserCount      int            `json:"licensedUserCount"`
	CurrentScore           float64        `json:"currentScore"`
	MaxScore               float64        `json:"maxScore"`
	EnabledServices        []string       `json:"enabledServices,omitempty"`
	ControlScores          []ControlScore `json:"controlScores,omitempty"`
	AverageComparativeData map[string]any `json:"averageComparativeScores,omitempty"`
}

// EntityID returns the score id.
func (s SecureScore) EntityID() string { return s.ID }

type ControlScore struct {
	ControlName     string  `json:"controlName"`
	ControlCategory string  `json:"controlCategory,omitempty"`
	Score           float64 `json:"score"`
	Description     string  `json:"description,omitempty"`
}

// Alert is a security alert raised for a tenant.
type Alert struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	Title             string    `json:"title"`
	Category          string    `json:"category,omitempty"`
	Severity          string    `json:"severity,omitempty"`
	Status            string    `json:"status,omitempty"`
	Description       string    `json:"description,omitempty"`
	CreatedDateTime   time.Time `json:"createdDateTime"`
	LastModifiedTime  time.Time `json:"lastModifiedDateTime"`
	Provider          string    `json:"vendorInformationProvider,omitempty"`
	AssignedTo        string    `json:"assignedTo,omitempty"`
	RecommendedAction []string  `json:"recommendedActions,omitempty"`
}

// EntityID returns the alert id.
func (a Alert) EntityID() string { return a.ID }

// ControlListEntry describes one secure score control profile.
type ControlListEntry struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenantId"`
	Title                string    `json:"title"`
	ControlCategory      string    `json:"controlCategory,omitempty"`
	ActionType           string    `json:"actionType,omitempty"`
	Service              string    `json:"service,omitempty"`
	MaxScore             float64   `json:"maxScore"`
	Tier                 string    `json:"tier,omitempty"`
	UserImpact           string    `json:"userImpact,omitempty"`
	ImplementationCost   string    `json:"implementationCost,omitempty"`
	Rank                 int       `json:"rank"`
	Deprecated           bool      `json:"deprecated"`
	Remediation          string    `json:"remediation,omitempty"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
}

// EntityID returns the control id.
func (c ControlListEntry) EntityID() string { return c.ID }
