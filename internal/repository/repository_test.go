package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore/memstore"
)

type widget struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Quantity int    `json:"quantity"`
}

func (w widget) EntityID() string { return w.ID }

// recordingClient wraps a docstore.Client, counting calls and injecting errors.
type recordingClient struct {
	docstore.Client

	mu          sync.Mutex
	calls       map[string]int
	throughputs []int
	// throttle makes the next n calls of an op fail with a throttle error.
	throttle map[string]int
	fail     map[string]error
	bulkSize []int
}

func newRecordingClient(inner docstore.Client) *recordingClient {
	return &recordingClient{
		Client:   inner,
		calls:    make(map[string]int),
		throttle: make(map[string]int),
		fail:     make(map[string]error),
	}
}

func (c *recordingClient) hit(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	if err := c.fail[op]; err != nil {
		return err
	}
	if c.throttle[op] > 0 {
		c.throttle[op]--
		return docstore.Throttled(op, 50*time.Millisecond)
	}
	return nil
}

func (c *recordingClient) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *recordingClient) ReadDatabase(ctx context.Context, id string) error {
	if err := c.hit("ReadDatabase"); err != nil {
		return err
	}
	return c.Client.ReadDatabase(ctx, id)
}

func (c *recordingClient) CreateDatabase(ctx context.Context, id string) error {
	if err := c.hit("CreateDatabase"); err != nil {
		return err
	}
	return c.Client.CreateDatabase(ctx, id)
}

func (c *recordingClient) CreateCollection(ctx context.Context, database string, spec docstore.CollectionSpec) error {
	if err := c.hit("CreateCollection"); err != nil {
		return err
	}
	return c.Client.CreateCollection(ctx, database, spec)
}

func (c *recordingClient) CreateStoredProcedure(ctx context.Context, link docstore.CollectionLink, proc docstore.StoredProcedure) error {
	if err := c.hit("CreateStoredProcedure"); err != nil {
		return err
	}
	return c.Client.CreateStoredProcedure(ctx, link, proc)
}

func (c *recordingClient) UpsertDocument(ctx context.Context, link docstore.CollectionLink, doc json.RawMessage, pk string) (json.RawMessage, error) {
	if err := c.hit("UpsertDocument"); err != nil {
		return nil, err
	}
	return c.Client.UpsertDocument(ctx, link, doc, pk)
}

func (c *recordingClient) ExecuteStoredProcedure(ctx context.Context, link docstore.CollectionLink, id, pk string, args json.RawMessage) (json.RawMessage, error) {
	if err := c.hit("ExecuteStoredProcedure"); err != nil {
		return nil, err
	}
	var docs []json.RawMessage
	_ = json.Unmarshal(args, &docs)
	c.mu.Lock()
	c.bulkSize = append(c.bulkSize, len(docs))
	c.mu.Unlock()
	return c.Client.ExecuteStoredProcedure(ctx, link, id, pk, args)
}

func (c *recordingClient) ReadFeed(ctx context.Context, link docstore.CollectionLink, continuation string, pageSize int) (docstore.Page, error) {
	if err := c.hit("ReadFeed"); err != nil {
		return docstore.Page{}, err
	}
	return c.Client.ReadFeed(ctx, link, continuation, pageSize)
}

func (c *recordingClient) DeleteDocument(ctx context.Context, link docstore.CollectionLink, id, pk string) error {
	if err := c.hit("DeleteDocument"); err != nil {
		return err
	}
	return c.Client.DeleteDocument(ctx, link, id, pk)
}

func (c *recordingClient) ReplaceThroughput(ctx context.Context, link docstore.CollectionLink, throughput int) error {
	if err := c.hit("ReplaceThroughput"); err != nil {
		return err
	}
	c.mu.Lock()
	c.throughputs = append(c.throughputs, throughput)
	c.mu.Unlock()
	return c.Client.ReplaceThroughput(ctx, link, throughput)
}

func zeroWait() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		MaxWait:     DefaultMaxWait,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

func newTestRepo(t *testing.T, storeOpts ...memstore.Option) (*Repository[widget], *recordingClient, *memstore.Store) {
	t.Helper()
	store := memstore.New(storeOpts...)
	client := newRecordingClient(store)
	repo := New[widget](client, Options{
		Database:         "partnercenter",
		Collection:       "widgets",
		PartitionKeyPath: "/tenantId",
		Retry:            zeroWait(),
	})
	return repo, client, store
}

func widgets(n int, tenants ...string) []widget {
	out := make([]widget, n)
	for i := range out {
		out[i] = widget{ID: fmt.Sprintf("w%04d", i), TenantID: tenants[i%len(tenants)], Quantity: i}
	}
	return out
}

func TestInitialize_Idempotent(t *testing.T) {
	repo, client, _ := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := repo.Initialize(ctx); err != nil {
			t.Fatalf("Initialize #%d: %v", i, err)
		}
	}
	for _, op := range []string{"CreateDatabase", "CreateCollection", "CreateStoredProcedure"} {
		if n := client.count(op); n != 1 {
			t.Errorf("%s called %d times, want 1", op, n)
		}
	}

	// A second repository over the same store finds everything provisioned.
	other := New[widget](client, Options{Database: "partnercenter", Collection: "widgets", PartitionKeyPath: "/tenantId", Retry: zeroWait()})
	if err := other.Initialize(ctx); err != nil {
		t.Fatalf("second repository Initialize: %v", err)
	}
	if n := client.count("CreateCollection"); n != 1 {
		t.Errorf("CreateCollection called %d times after second repository", n)
	}
}

func TestInitialize_Concurrent(t *testing.T) {
	repo, client, _ := newTestRepo(t)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Initialize(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Initialize: %v", err)
		}
	}
	if n := client.count("CreateCollection"); n != 1 {
		t.Errorf("CreateCollection called %d times, want 1", n)
	}
}

func TestInitialize_ConflictIsSuccess(t *testing.T) {
	store := memstore.New()
	client := newRecordingClient(store)
	// Another process created the database between our read and create.
	client.fail["ReadDatabase"] = docstore.NewError("read database", docstore.StatusNotFound, errors.New("missing"))
	client.fail["CreateDatabase"] = docstore.NewError("create database", docstore.StatusConflict, errors.New("exists"))
	repo := New[widget](client, Options{Database: "partnercenter", Collection: "widgets", Retry: zeroWait()})
	if err := store.CreateDatabase(context.Background(), "partnercenter"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func TestInitialize_PropagatesOtherErrorsAndRetriesLater(t *testing.T) {
	store := memstore.New()
	client := newRecordingClient(store)
	client.fail["CreateDatabase"] = docstore.NewError("create database", docstore.StatusUnauthorized, errors.New("denied"))
	repo := New[widget](client, Options{Database: "partnercenter", Collection: "widgets", Retry: zeroWait()})
	err := repo.Initialize(context.Background())
	if docstore.StatusCode(err) != docstore.StatusUnauthorized {
		t.Fatalf("Initialize = %v, want unauthorized", err)
	}
	delete(client.fail, "CreateDatabase")
	if err := repo.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize after recovery: %v", err)
	}
}

func TestAddOrUpdate_Idempotent(t *testing.T) {
	repo, _, store := newTestRepo(t)
	ctx := context.Background()
	w := widget{ID: "a", TenantID: "t1", Quantity: 3}
	for i := 0; i < 2; i++ {
		got, err := repo.AddOrUpdate(ctx, w, "")
		if err != nil {
			t.Fatalf("AddOrUpdate: %v", err)
		}
		if diff := cmp.Diff(w, got); diff != "" {
			t.Errorf("returned entity (-want +got):\n%s", diff)
		}
	}
	if n := store.Len(repo.Link()); n != 1 {
		t.Errorf("store holds %d documents, want 1", n)
	}
	got, err := repo.Get(ctx, "a", "t1")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if diff := cmp.Diff(w, *got); diff != "" {
		t.Errorf("Get (-want +got):\n%s", diff)
	}

	w.Quantity = 7
	if _, err := repo.Update(ctx, w); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = repo.Get(ctx, "a", "t1")
	if got.Quantity != 7 {
		t.Errorf("Quantity after Update = %d", got.Quantity)
	}
}

func TestGet_NotFoundIsNil(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	got, err := repo.Get(context.Background(), "missing", "")
	if err != nil || got != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestAddOrUpdateBatch_Completeness(t *testing.T) {
	repo, client, store := newTestRepo(t)
	ctx := context.Background()
	items := widgets(1200, "t1")
	n, err := repo.AddOrUpdateBatch(ctx, items, "")
	if err != nil {
		t.Fatalf("AddOrUpdateBatch: %v", err)
	}
	if n != 1200 {
		t.Errorf("written = %d, want 1200", n)
	}
	if diff := cmp.Diff([]int{500, 500, 200}, client.bulkSize); diff != "" {
		t.Errorf("bulk import sizes (-want +got):\n%s", diff)
	}
	if got := store.Len(repo.Link()); got != 1200 {
		t.Errorf("store holds %d documents", got)
	}
	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if diff := cmp.Diff(items, all); diff != "" {
		t.Errorf("GetAll (-want +got):\n%s", diff)
	}
}

func TestAddOrUpdateBatch_GroupsByPartition(t *testing.T) {
	repo, client, _ := newTestRepo(t)
	items := widgets(10, "t1", "t2")
	if _, err := repo.AddOrUpdateBatch(context.Background(), items, ""); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{5, 5}, client.bulkSize); diff != "" {
		t.Errorf("bulk import sizes (-want +got):\n%s", diff)
	}
	got, err := repo.Query(context.Background(), docstore.Where("quantity", docstore.OpGte, 0), "t2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Errorf("t2 holds %d documents, want 5", len(got))
	}
}

func TestAddOrUpdateBatch_ScalesAndRestoresThroughput(t *testing.T) {
	tests := []struct {
		name  string
		items int
		want  []int
	}{
		{"small", 1000, nil},
		{"tier1", 1200, []int{5000, 400}},
		{"tier2", 2500, []int{10000, 400}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, client, store := newTestRepo(t)
			if _, err := repo.AddOrUpdateBatch(context.Background(), widgets(tt.items, "t1"), ""); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, client.throughputs); diff != "" {
				t.Errorf("throughput changes (-want +got):\n%s", diff)
			}
			tp, err := store.ReadThroughput(context.Background(), repo.Link())
			if err != nil || tp != 400 {
				t.Errorf("final throughput = %d, %v; want 400", tp, err)
			}
		})
	}
}

func TestAddOrUpdateBatch_ScaleFailureIsNotFatal(t *testing.T) {
	repo, client, store := newTestRepo(t)
	client.fail["ReplaceThroughput"] = docstore.NewError("replace throughput", docstore.StatusBadRequest, errors.New("nope"))
	n, err := repo.AddOrUpdateBatch(context.Background(), widgets(1500, "t1"), "")
	if err != nil || n != 1500 {
		t.Fatalf("AddOrUpdateBatch = %d, %v", n, err)
	}
	if store.Len(repo.Link()) != 1500 {
		t.Error("batch should be written despite scale failure")
	}
}

func TestAddOrUpdateBatch_RetriesThrottledChunks(t *testing.T) {
	var waits []time.Duration
	store := memstore.New()
	client := newRecordingClient(store)
	client.throttle["ExecuteStoredProcedure"] = 2
	repo := New[widget](client, Options{
		Database:   "partnercenter",
		Collection: "widgets",
		Retry: RetryPolicy{
			MaxAttempts: 5,
			MaxWait:     time.Minute,
			Sleep:       recordingSleep(&waits),
		},
	})
	n, err := repo.AddOrUpdateBatch(context.Background(), widgets(600, "t1"), "")
	if err != nil || n != 600 {
		t.Fatalf("AddOrUpdateBatch = %d, %v", n, err)
	}
	if got := client.count("ExecuteStoredProcedure"); got != 4 {
		t.Errorf("bulk import calls = %d, want 4", got)
	}
	if len(waits) != 2 {
		t.Fatalf("waits = %v", waits)
	}
	for _, w := range waits {
		if w < 50*time.Millisecond {
			t.Errorf("waited %s, less than the advertised 50ms", w)
		}
	}
}

func TestAddOrUpdateBatch_ExhaustedRetriesSurface(t *testing.T) {
	repo, client, _ := newTestRepo(t)
	client.throttle["ExecuteStoredProcedure"] = 1000
	_, err := repo.AddOrUpdateBatch(context.Background(), widgets(3, "t1"), "")
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if got := client.count("ExecuteStoredProcedure"); got != DefaultMaxAttempts {
		t.Errorf("bulk import calls = %d, want %d", got, DefaultMaxAttempts)
	}
}

func TestAddOrUpdate_CancelledContext(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	if err := repo.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := repo.AddOrUpdate(ctx, widget{ID: "a", TenantID: "t1"}, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestGetAll_FollowsContinuations(t *testing.T) {
	repo, client, _ := newTestRepo(t, memstore.WithPageSize(7))
	items := widgets(50, "t1", "t2", "t3")
	if _, err := repo.AddOrUpdateBatch(context.Background(), items, ""); err != nil {
		t.Fatal(err)
	}
	all, err := repo.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 50 {
		t.Fatalf("GetAll returned %d, want 50", len(all))
	}
	seen := make(map[string]bool)
	for _, w := range all {
		if seen[w.ID] {
			t.Errorf("duplicate %s", w.ID)
		}
		seen[w.ID] = true
	}
	if got := client.count("ReadFeed"); got != 8 {
		t.Errorf("feed pages = %d, want 8", got)
	}
}

func TestQuery_PagesThroughResults(t *testing.T) {
	repo, _, _ := newTestRepo(t, memstore.WithPageSize(3))
	if _, err := repo.AddOrUpdateBatch(context.Background(), widgets(40, "t1", "t2"), ""); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Query(context.Background(), docstore.Where("quantity", docstore.OpGte, 20), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Errorf("Query returned %d, want 10", len(got))
	}
	for _, w := range got {
		if w.TenantID != "t1" || w.Quantity < 20 {
			t.Errorf("unexpected %+v", w)
		}
	}
}

func TestQuery_InvalidQuery(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	if _, err := repo.Query(context.Background(), docstore.Where("", docstore.OpEq, 1), ""); err == nil {
		t.Error("Query with an empty path should fail")
	}
}

func TestDelete_Idempotent(t *testing.T) {
	repo, _, store := newTestRepo(t)
	ctx := context.Background()
	if _, err := repo.AddOrUpdate(ctx, widget{ID: "a", TenantID: "t1"}, ""); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.Delete(ctx, "a", "t1"); err != nil {
			t.Fatalf("Delete #%d: %v", i, err)
		}
	}
	if store.Len(repo.Link()) != 0 {
		t.Error("document should be gone")
	}
}
