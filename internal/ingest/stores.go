package ingest

import (
	"context"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/reconcile"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/repository"
)

// Collection names used by NewStores.
const (
	CollectionCustomers     = "customers"
	CollectionSubscriptions = "subscriptions"
	CollectionSecureScores  = "secureScores"
	CollectionAlerts        = "alerts"
	CollectionControls      = "controlList"
)

// TenantPartitionKey partitions every per-tenant collection.
const TenantPartitionKey = "/tenantId"

// Store is the subset of repository.Repository the synchronizer needs.
type Store[T reconcile.Entity] interface {
	Initialize(ctx context.Context) error
	AddOrUpdateBatch(ctx context.Context, items []T, partitionKey string) (int, error)
	Get(ctx context.Context, id, partitionKey string) (*T, error)
	GetAll(ctx context.Context) ([]T, error)
	Query(ctx context.Context, q docstore.Query, partitionKey string) ([]T, error)
}

// Stores holds one store per synchronized resource. A nil store disables its resource.
type Stores struct {
	Customers     Store[domain.Customer]
	Subscriptions Store[domain.SubscriptionDetail]
	SecureScores  Store[domain.SecureScore]
	Alerts        Store[domain.Alert]
	Controls      Store[domain.ControlListEntry]
}

// NewStores returns repositories for every resource in database. base supplies retry, scale,
// batch and logging options; its Database, Collection and PartitionKeyPath are overwritten.
func NewStores(client docstore.Client, database string, base repository.Options) Stores {
	opts := func(collection, pk string) repository.Options {
		o := base
		o.Database = database
		o.Collection = collection
		o.PartitionKeyPath = pk
		return o
	}
	return Stores{
		// Customers are partner-wide and small; one logical partition keeps bulk writes to one call per chunk.
		Customers:     repository.New[domain.Customer](client, opts(CollectionCustomers, "")),
		Subscriptions: repository.New[domain.SubscriptionDetail](client, opts(CollectionSubscriptions, TenantPartitionKey)),
		SecureScores:  repository.New[domain.SecureScore](client, opts(CollectionSecureScores, TenantPartitionKey)),
		Alerts:        repository.New[domain.Alert](client, opts(CollectionAlerts, TenantPartitionKey)),
		Controls:      repository.New[domain.ControlListEntry](client, opts(CollectionControls, TenantPartitionKey)),
	}
}

// Initialize provisions every configured store.
func (s Stores) Initialize(ctx context.Context) error {
	inits := []func(context.Context) error{}
	if s.Customers != nil {
		inits = append(inits, s.Customers.Initialize)
	}
	if s.Subscriptions != nil {
		inits = append(inits, s.Subscriptions.Initialize)
	}
	if s.SecureScores != nil {
		inits = append(inits, s.SecureScores.Initialize)
	}
	if s.Alerts != nil {
		inits = append(inits, s.Alerts.Initialize)
	}
	if s.Controls != nil {
		inits = append(inits, s.Controls.Initialize)
	}
	for _, initialize := range inits {
		if err := initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}
