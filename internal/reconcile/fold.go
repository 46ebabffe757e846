// Package reconcile folds ordered audit records onto an entity snapshot to produce the next snapshot
// without re-fetching the source system.
package reconcile

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
)

// ErrMalformedPayload marks a record whose resource value could not be decoded.
var ErrMalformedPayload = errors.New("reconcile: malformed resource payload")

// Change identifies the kind of an audit record.
type Change struct {
	Resource  domain.ResourceType
	Operation domain.OperationType
}

// ChangeOf returns the change key of r.
func ChangeOf(r domain.AuditRecord) Change {
	return Change{Resource: r.ResourceType, Operation: r.OperationType}
}

func (c Change) String() string { return string(c.Resource) + "/" + string(c.Operation) }

// Outcome is the effect of applying one record.
type Outcome int

const (
	// Applied means the snapshot changed.
	Applied Outcome = iota
	// Skipped means the record is understood but has nothing to apply, e.g. a one-time order
	// or a change to an entity the snapshot does not hold.
	Skipped
	// Ignored means the change kind is not handled by the applier.
	Ignored
)

// Applier applies one record to a snapshot. A returned error means the record had no effect.
type Applier[T Entity] interface {
	Apply(ctx context.Context, snap *Snapshot[T], rec domain.AuditRecord) (Outcome, error)
}

// Report summarizes a fold.
type Report struct {
	Applied int
	Skipped int
	Ignored int
	Failed  int
	errs    *multierror.Error
}

// Err returns the per-record failures combined, or nil.
func (r *Report) Err() error { return r.errs.ErrorOrNil() }

// Errors returns the individual per-record failures.
func (r *Report) Errors() []error {
	if r.errs == nil {
		return nil
	}
	return r.errs.Errors
}

func (r *Report) add(rec domain.AuditRecord, o Outcome, err error) {
	if err != nil {
		r.Failed++
		r.errs = multierror.Append(r.errs, fmt.Errorf("record %s (%s): %w", rec.ID, ChangeOf(rec), err))
		return
	}
	switch o {
	case Applied:
		r.Applied++
	case Skipped:
		r.Skipped++
	default:
		r.Ignored++
	}
}

// Prepare returns the records that may change a snapshot, in apply order: succeeded records with a
// customer id, sorted by operation date. Records with equal dates keep their input order.
func Prepare(records []domain.AuditRecord) []domain.AuditRecord {
	out := make([]domain.AuditRecord, 0, len(records))
	for _, r := range records {
		if r.OperationStatus != domain.OperationStatusSucceeded || r.CustomerID == "" {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b domain.AuditRecord) int {
		return cmp.Compare(a.OperationDate.UnixNano(), b.OperationDate.UnixNano())
	})
	return out
}

// Fold applies prepared records to snapshot strictly in order and returns the resulting entities.
// A failing record is counted in the report and folding continues. The input slice is not modified.
func Fold[T Entity](ctx context.Context, snapshot []T, prepared []domain.AuditRecord, applier Applier[T]) ([]T, Report) {
	snap := NewSnapshot(snapshot)
	var report Report
	for _, rec := range prepared {
		o, err := applier.Apply(ctx, snap, rec)
		report.add(rec, o, err)
	}
	return snap.Items(), report
}

// Reconcile prepares records and folds them onto snapshot. It fails only when ctx ends during the fold,
// in which case the result must not be persisted.
func Reconcile[T Entity](ctx context.Context, snapshot []T, records []domain.AuditRecord, applier Applier[T]) ([]T, Report, error) {
	out, report := Fold(ctx, snapshot, Prepare(records), applier)
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}
	return out, report, nil
}

func decode[T any](rec domain.AuditRecord, v *T) error {
	if rec.ResourceNewValue == "" {
		return fmt.Errorf("%w: empty new value", ErrMalformedPayload)
	}
	if err := json.Unmarshal([]byte(rec.ResourceNewValue), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
