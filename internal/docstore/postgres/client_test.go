package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/db"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
)

// newIntegrationClient opens DATABASE_URL and creates a throwaway database (schema).
func newIntegrationClient(t *testing.T) (*Client, string) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	conn, err := db.Open(context.Background(), dsn)
	if err != nil {
		t.Skipf("Database connection failed (expected in test environment): %v", err)
	}
	database := fmt.Sprintf("it_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = conn.Exec(`DROP SCHEMA IF EXISTS "` + database + `" CASCADE`)
		conn.Close()
	})
	c := New(conn, WithPageSize(5))
	if err := c.CreateDatabase(context.Background(), database); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	return c, database
}

func TestClient_Integration_Provisioning(t *testing.T) {
	c, database := newIntegrationClient(t)
	ctx := context.Background()

	if err := c.CreateDatabase(ctx, database); !docstore.IsConflict(err) {
		t.Errorf("second CreateDatabase = %v, want conflict", err)
	}
	if err := c.ReadDatabase(ctx, database); err != nil {
		t.Errorf("ReadDatabase: %v", err)
	}
	if err := c.ReadDatabase(ctx, "missing_db"); !docstore.IsNotFound(err) {
		t.Errorf("ReadDatabase(missing) = %v, want not found", err)
	}

	link := docstore.CollectionLink{Database: database, Collection: "customers"}
	if _, err := c.ReadCollection(ctx, link); !docstore.IsNotFound(err) {
		t.Errorf("ReadCollection before create = %v", err)
	}
	spec := docstore.CollectionSpec{ID: "customers", PartitionKeyPath: "/tenantId", Throughput: 1000}
	if err := c.CreateCollection(ctx, database, spec); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := c.CreateCollection(ctx, database, spec); !docstore.IsConflict(err) {
		t.Errorf("second CreateCollection = %v, want conflict", err)
	}
	info, err := c.ReadCollection(ctx, link)
	if err != nil || info.PartitionKeyPath != "/tenantId" {
		t.Fatalf("ReadCollection = %+v, %v", info, err)
	}

	if err := c.ReadStoredProcedure(ctx, link, docstore.BulkImportProcedure); !docstore.IsNotFound(err) {
		t.Errorf("ReadStoredProcedure before create = %v", err)
	}
	proc := docstore.StoredProcedure{ID: docstore.BulkImportProcedure, Kind: docstore.ProcedureKindBulkImport}
	if err := c.CreateStoredProcedure(ctx, link, proc); err != nil {
		t.Fatalf("CreateStoredProcedure: %v", err)
	}
	if err := c.CreateStoredProcedure(ctx, link, proc); !docstore.IsConflict(err) {
		t.Errorf("second CreateStoredProcedure = %v, want conflict", err)
	}

	tp, err := c.ReadThroughput(ctx, link)
	if err != nil || tp != 1000 {
		t.Errorf("ReadThroughput = %d, %v", tp, err)
	}
	if err := c.ReplaceThroughput(ctx, link, 5000); err != nil {
		t.Fatalf("ReplaceThroughput: %v", err)
	}
	if tp, _ := c.ReadThroughput(ctx, link); tp != 5000 {
		t.Errorf("throughput after replace = %d", tp)
	}
}

func TestClient_Integration_Documents(t *testing.T) {
	c, database := newIntegrationClient(t)
	ctx := context.Background()
	link := docstore.CollectionLink{Database: database, Collection: "subscriptions"}
	if err := c.CreateCollection(ctx, database, docstore.CollectionSpec{ID: "subscriptions", PartitionKeyPath: "/tenantId", Throughput: 100000}); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := c.CreateStoredProcedure(ctx, link, docstore.StoredProcedure{ID: docstore.BulkImportProcedure, Kind: docstore.ProcedureKindBulkImport}); err != nil {
		t.Fatalf("CreateStoredProcedure: %v", err)
	}

	stored, err := c.UpsertDocument(ctx, link, json.RawMessage(`{"id":"s1","tenantId":"t1","quantity":1}`), "")
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if len(stored) == 0 {
		t.Error("upsert should return the stored document")
	}
	if _, err := c.UpsertDocument(ctx, link, json.RawMessage(`{"id":"s1","tenantId":"t1","quantity":2}`), ""); err != nil {
		t.Fatalf("second UpsertDocument: %v", err)
	}
	raw, err := c.ReadDocument(ctx, link, "s1", "t1")
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	var got struct {
		Quantity int `json:"quantity"`
	}
	if err := json.Unmarshal(raw, &got); err != nil || got.Quantity != 2 {
		t.Errorf("ReadDocument = %s, %v", raw, err)
	}

	docs := make([]json.RawMessage, 12)
	for i := range docs {
		docs[i] = json.RawMessage(fmt.Sprintf(`{"id":"b%02d","tenantId":"t2","quantity":%d}`, i, i))
	}
	args, _ := json.Marshal(docs)
	res, err := c.ExecuteStoredProcedure(ctx, link, docstore.BulkImportProcedure, "t2", args)
	if err != nil {
		t.Fatalf("ExecuteStoredProcedure: %v", err)
	}
	if string(res) != "12" {
		t.Errorf("bulk import result = %s", res)
	}
	bad, _ := json.Marshal([]json.RawMessage{json.RawMessage(`{"id":"ok","tenantId":"t3"}`), json.RawMessage(`{"tenantId":"t3"}`)})
	if _, err := c.ExecuteStoredProcedure(ctx, link, docstore.BulkImportProcedure, "t3", bad); err == nil {
		t.Error("bulk import with a missing id should fail")
	}
	if _, err := c.ReadDocument(ctx, link, "ok", "t3"); !docstore.IsNotFound(err) {
		t.Errorf("failed bulk import should write nothing, got %v", err)
	}

	seen := map[string]bool{}
	continuation := ""
	for pages := 0; ; pages++ {
		if pages > 10 {
			t.Fatal("feed did not terminate")
		}
		page, err := c.ReadFeed(ctx, link, continuation, 0)
		if err != nil {
			t.Fatalf("ReadFeed: %v", err)
		}
		for _, d := range page.Documents {
			id, _ := docstore.DocumentID(d)
			if seen[id] {
				t.Errorf("duplicate %s", id)
			}
			seen[id] = true
		}
		if page.Continuation == "" {
			break
		}
		continuation = page.Continuation
	}
	if len(seen) != 13 {
		t.Errorf("feed returned %d documents, want 13", len(seen))
	}

	page, err := c.QueryDocuments(ctx, link, docstore.Where("quantity", docstore.OpGte, 10), "t2", "")
	if err != nil {
		t.Fatalf("QueryDocuments: %v", err)
	}
	if len(page.Documents) != 2 {
		t.Errorf("query returned %d documents, want 2", len(page.Documents))
	}

	if err := c.DeleteDocument(ctx, link, "s1", "t1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if err := c.DeleteDocument(ctx, link, "s1", "t1"); !docstore.IsNotFound(err) {
		t.Errorf("second DeleteDocument = %v, want not found", err)
	}
}
