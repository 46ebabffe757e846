// Package docstore defines the contract of a partitioned, schemaless JSON document store:
// point reads, partitioned queries, feed scans, upserts, server-side procedures and
// provisioned throughput. Implementations live in subpackages (postgres, memstore).
package docstore

import (
	"context"
	"encoding/json"
)

// BulkImportProcedure is the id of the bulk upsert procedure provisioned per collection.
const BulkImportProcedure = "bulkImport"

// CollectionLink addresses a collection inside a database.
type CollectionLink struct {
	Database   string
	Collection string
}

func (l CollectionLink) String() string { return l.Database + "/" + l.Collection }

// CollectionSpec describes a collection to create.
type CollectionSpec struct {
	ID string
	// PartitionKeyPath is a single top-level JSON path such as "/tenantId". Empty means unpartitioned.
	PartitionKeyPath string
	// Throughput is the initial provisioned throughput in request units per second. Zero means store default.
	Throughput int
}

// CollectionInfo is the stored definition of a collection.
type CollectionInfo struct {
	ID               string
	PartitionKeyPath string
}

// ProcedureKind selects the server-side behavior of a stored procedure.
type ProcedureKind string

const (
	// ProcedureKindBulkImport upserts every document of a JSON array argument by id and returns the count.
	ProcedureKindBulkImport ProcedureKind = "bulk_import"
)

// StoredProcedure describes a server-side procedure attached to a collection.
type StoredProcedure struct {
	ID   string
	Kind ProcedureKind
}

// Page is one page of documents. Continuation is an opaque token; empty when the scan is exhausted.
type Page struct {
	Documents    []json.RawMessage
	Continuation string
}

// Client is the transport to the document store. Implementations must be safe for concurrent use.
//
// Errors are *Error values classified by status (see IsNotFound, IsConflict, IsThrottled);
// context errors are returned unchanged.
type Client interface {
	ReadDatabase(ctx context.Context, id string) error
	CreateDatabase(ctx context.Context, id string) error

	ReadCollection(ctx context.Context, link CollectionLink) (*CollectionInfo, error)
	CreateCollection(ctx context.Context, database string, spec CollectionSpec) error

	ReadStoredProcedure(ctx context.Context, link CollectionLink, id string) error
	CreateStoredProcedure(ctx context.Context, link CollectionLink, proc StoredProcedure) error
	// ExecuteStoredProcedure runs procedure id with args. A non-empty partitionKey overrides the
	// partition key value of every document the procedure writes.
	ExecuteStoredProcedure(ctx context.Context, link CollectionLink, id, partitionKey string, args json.RawMessage) (json.RawMessage, error)

	// ReadDocument returns the document with id. A non-empty partitionKey restricts the read to that partition.
	ReadDocument(ctx context.Context, link CollectionLink, id, partitionKey string) (json.RawMessage, error)
	// UpsertDocument writes doc by its "id" field and returns the stored document.
	UpsertDocument(ctx context.Context, link CollectionLink, doc json.RawMessage, partitionKey string) (json.RawMessage, error)
	DeleteDocument(ctx context.Context, link CollectionLink, id, partitionKey string) error

	// ReadFeed returns the next page of all documents in store order after continuation.
	ReadFeed(ctx context.Context, link CollectionLink, continuation string, pageSize int) (Page, error)
	// QueryDocuments returns the next page of documents matching q, within partitionKey when non-empty.
	QueryDocuments(ctx context.Context, link CollectionLink, q Query, partitionKey, continuation string) (Page, error)

	ReadThroughput(ctx context.Context, link CollectionLink) (int, error)
	ReplaceThroughput(ctx context.Context, link CollectionLink, throughput int) error
}
