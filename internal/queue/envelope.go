// Package queue carries sync requests into the worker and synced-entity notifications out of it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the payload of an Envelope.
type Type string

const (
	// TypeAuditBatch carries audit records to fold onto a tenant's stored snapshot.
	TypeAuditBatch Type = "audit_batch"
	// TypeSnapshot carries a full fetch of a resource that replaces the stored snapshot.
	TypeSnapshot Type = "snapshot"
	// TypeSynced reports a completed reconciliation.
	TypeSynced Type = "synced"
	// TypeRefreshRequired asks the source to send a full snapshot because incremental sync is not trusted.
	TypeRefreshRequired Type = "refresh_required"
	// TypeSyncFailed reports a reconciliation that could not be completed.
	TypeSyncFailed Type = "sync_failed"
)

// Envelope is the JSON message exchanged on every topic. The Kafka key is TenantID so a tenant's
// messages stay ordered within one partition.
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	TenantID   string          `json:"tenantId"`
	Resource   string          `json:"resource,omitempty"`
	RunID      string          `json:"runId,omitempty"`
	ProducedAt time.Time       `json:"producedAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into a new Envelope with a fresh id.
func NewEnvelope(typ Type, tenantID, resource string, payload any) (Envelope, error) {
	e := Envelope{
		ID:         uuid.NewString(),
		Type:       typ,
		TenantID:   tenantID,
		Resource:   resource,
		ProducedAt: time.Now().UTC(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("queue: encode %s payload: %w", typ, err)
		}
		e.Payload = b
	}
	return e, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("queue: %s message %s has no payload", e.Type, e.ID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("queue: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Publisher sends envelopes downstream. Callers treat publishing as best-effort: log and continue.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Envelope) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}

// Handler processes one inbound envelope.
type Handler func(ctx context.Context, e Envelope) error
