package domain

import "time"

// Resource names a per-tenant data set that is reconciled independently.
type Resource string

const (
	ResourceCustomers     Resource = "customers"
	ResourceSubscriptions Resource = "subscriptions"
	ResourceSecureScores  Resource = "secure_scores"
	ResourceAlerts        Resource = "alerts"
	ResourceControls      Resource = "controls"
)

// Mode is how a reconciliation run obtained its data.
type Mode string

const (
	// ModeFull replaced the snapshot with a full fetch from the source.
	ModeFull Mode = "full"
	// ModeIncremental folded audit records onto the stored snapshot.
	ModeIncremental Mode = "incremental"
)

// Checkpoint records the last successful reconciliation of a resource for a tenant.
type Checkpoint struct {
	TenantID        string
	Resource        Resource
	Mode            Mode
	LastSucceededAt time.Time
	LastRunID       string
	RecordsApplied  int
	UpdatedAt       time.Time
}

// Fresh reports whether the checkpoint is recent enough, relative to now, for incremental reconciliation.
// A nil checkpoint is never fresh.
func (c *Checkpoint) Fresh(now time.Time, window time.Duration) bool {
	if c == nil || c.LastSucceededAt.IsZero() {
		return false
	}
	return now.Sub(c.LastSucceededAt) <= window
}
