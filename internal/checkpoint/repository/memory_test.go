package repository

import (
	"context"
	"testing"
	"time"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
)

func TestMemoryRepository_GetSaveList(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	fixed := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	got, err := r.Get(ctx, "t1", domain.ResourceCustomers)
	if err != nil || got != nil {
		t.Fatalf("Get before Save = %+v, %v; want nil, nil", got, err)
	}

	cp := &domain.Checkpoint{TenantID: "t1", Resource: domain.ResourceSubscriptions, Mode: domain.ModeFull, LastSucceededAt: fixed, LastRunID: "run-1", RecordsApplied: 3}
	if err := r.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}
	if !cp.UpdatedAt.Equal(fixed) {
		t.Errorf("UpdatedAt = %v", cp.UpdatedAt)
	}
	if err := r.Save(ctx, &domain.Checkpoint{TenantID: "t1", Resource: domain.ResourceCustomers, LastSucceededAt: fixed}); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, &domain.Checkpoint{TenantID: "t2", Resource: domain.ResourceCustomers, LastSucceededAt: fixed}); err != nil {
		t.Fatal(err)
	}

	got, err = r.Get(ctx, "t1", domain.ResourceSubscriptions)
	if err != nil || got == nil || got.LastRunID != "run-1" || got.RecordsApplied != 3 {
		t.Errorf("Get = %+v, %v", got, err)
	}
	got.RecordsApplied = 99
	again, _ := r.Get(ctx, "t1", domain.ResourceSubscriptions)
	if again.RecordsApplied != 3 {
		t.Error("Get should return a copy")
	}

	list, err := r.ListByTenant(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Resource != domain.ResourceCustomers || list[1].Resource != domain.ResourceSubscriptions {
		t.Errorf("ListByTenant = %+v", list)
	}
}
