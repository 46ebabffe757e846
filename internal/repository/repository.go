// Package repository provides a generic, partition-aware document repository on top of a docstore.Client.
// It provisions its own database, collection and bulk-import procedure, absorbs throttling with a
// bounded retry policy, and temporarily raises collection throughput for large batches.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
)

const instrumentationName = "github.com/microsoft/Partner-Smart-Office-sub000/internal/repository"

// DefaultBatchSize is the number of documents sent per bulk-import call.
const DefaultBatchSize = 500

// Entity is a persisted record. EntityID must match the "id" field of its JSON form.
type Entity interface {
	EntityID() string
}

// Options binds a Repository to a collection.
type Options struct {
	Database   string
	Collection string
	// PartitionKeyPath is a top-level JSON path such as "/tenantId". Empty means unpartitioned.
	PartitionKeyPath string
	// Throughput is provisioned when the collection is created. Zero means the store default.
	Throughput int
	BatchSize  int
	Retry      RetryPolicy
	Scale      ScalePolicy
	Logger     *zap.Logger
}

// Repository stores entities of type T in one collection. It is safe for concurrent use.
type Repository[T Entity] struct {
	client docstore.Client
	link   docstore.CollectionLink
	opts   Options
	log    *zap.Logger

	tracer    trace.Tracer
	throttles metric.Int64Counter
	written   metric.Int64Counter

	mu          sync.Mutex
	initialized bool
}

// New returns a Repository for T. Zero-valued Retry and Scale select the defaults.
func New[T Entity](client docstore.Client, opts Options) *Repository[T] {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Retry.MaxAttempts == 0 && opts.Retry.MaxWait == 0 {
		d := DefaultRetryPolicy()
		d.Clock, d.Sleep, d.OnRetry = opts.Retry.Clock, opts.Retry.Sleep, opts.Retry.OnRetry
		opts.Retry = d
	}
	if opts.Scale == (ScalePolicy{}) {
		opts.Scale = DefaultScalePolicy()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	link := docstore.CollectionLink{Database: opts.Database, Collection: opts.Collection}
	r := &Repository[T]{
		client: client,
		link:   link,
		opts:   opts,
		log:    log.With(zap.Stringer("collection", link)),
		tracer: otel.Tracer(instrumentationName),
	}
	m := otel.Meter(instrumentationName)
	var err error
	if r.throttles, err = m.Int64Counter("docstore.throttled_requests",
		metric.WithDescription("Store calls rejected as throttled and retried.")); err != nil {
		r.throttles = noop.Int64Counter{}
	}
	if r.written, err = m.Int64Counter("docstore.documents_written",
		metric.WithDescription("Documents written by bulk import.")); err != nil {
		r.written = noop.Int64Counter{}
	}
	onRetry := opts.Retry.OnRetry
	r.opts.Retry.OnRetry = func(op string, attempt int, wait time.Duration) {
		r.throttles.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("collection", link.String()), attribute.String("op", op)))
		r.log.Debug("store throttled, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("wait", wait))
		if onRetry != nil {
			onRetry(op, attempt, wait)
		}
	}
	return r
}

// Link returns the collection this repository writes to.
func (r *Repository[T]) Link() docstore.CollectionLink { return r.link }

func (r *Repository[T]) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "repository."+op, trace.WithAttributes(
		attribute.String("docstore.database", r.link.Database),
		attribute.String("docstore.collection", r.link.Collection),
	))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (r *Repository[T]) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return r.opts.Retry.Do(ctx, op, fn)
}

// Initialize ensures the database, collection and bulk-import procedure exist. It is idempotent and
// safe to call concurrently; a failed attempt is retried by the next caller.
func (r *Repository[T]) Initialize(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}
	ctx, span := r.start(ctx, "initialize")
	defer func() { end(span, err) }()

	err = r.ensure(ctx, "database",
		func(ctx context.Context) error { return r.client.ReadDatabase(ctx, r.link.Database) },
		func(ctx context.Context) error { return r.client.CreateDatabase(ctx, r.link.Database) })
	if err != nil {
		return err
	}
	err = r.ensure(ctx, "collection",
		func(ctx context.Context) error {
			_, err := r.client.ReadCollection(ctx, r.link)
			return err
		},
		func(ctx context.Context) error {
			return r.client.CreateCollection(ctx, r.link.Database, docstore.CollectionSpec{
				ID:               r.link.Collection,
				PartitionKeyPath: r.opts.PartitionKeyPath,
				Throughput:       r.opts.Throughput,
			})
		})
	if err != nil {
		return err
	}
	err = r.ensure(ctx, "procedure",
		func(ctx context.Context) error {
			return r.client.ReadStoredProcedure(ctx, r.link, docstore.BulkImportProcedure)
		},
		func(ctx context.Context) error {
			return r.client.CreateStoredProcedure(ctx, r.link, docstore.StoredProcedure{
				ID:   docstore.BulkImportProcedure,
				Kind: docstore.ProcedureKindBulkImport,
			})
		})
	if err != nil {
		return err
	}
	r.initialized = true
	return nil
}

// ensure creates a resource when reading it reports not found. A conflict on create means
// another process created it first.
func (r *Repository[T]) ensure(ctx context.Context, what string, read, create func(ctx context.Context) error) error {
	err := r.retry(ctx, "read "+what, read)
	if err == nil {
		return nil
	}
	if !docstore.IsNotFound(err) {
		return fmt.Errorf("repository: read %s: %w", what, err)
	}
	err = r.retry(ctx, "create "+what, create)
	switch {
	case err == nil:
		r.log.Info("provisioned "+what, zap.String("database", r.link.Database))
		return nil
	case docstore.IsConflict(err):
		return nil
	default:
		return fmt.Errorf("repository: create %s: %w", what, err)
	}
}

// AddOrUpdate upserts item by id and returns the stored entity. An empty partitionKey derives the
// value from the document.
func (r *Repository[T]) AddOrUpdate(ctx context.Context, item T, partitionKey string) (out T, err error) {
	if err = r.Initialize(ctx); err != nil {
		return out, err
	}
	ctx, span := r.start(ctx, "add_or_update")
	defer func() { end(span, err) }()

	doc, err := json.Marshal(item)
	if err != nil {
		return out, fmt.Errorf("repository: marshal %s: %w", item.EntityID(), err)
	}
	var stored json.RawMessage
	err = r.retry(ctx, "upsert document", func(ctx context.Context) error {
		var err error
		stored, err = r.client.UpsertDocument(ctx, r.link, doc, partitionKey)
		return err
	})
	if err != nil {
		return out, err
	}
	if err = json.Unmarshal(stored, &out); err != nil {
		return out, fmt.Errorf("repository: decode %s: %w", item.EntityID(), err)
	}
	return out, nil
}

// Update upserts item with its partition key derived from the document.
func (r *Repository[T]) Update(ctx context.Context, item T) (T, error) {
	return r.AddOrUpdate(ctx, item, "")
}

// AddOrUpdateBatch upserts items through the bulk-import procedure in chunks of Options.BatchSize and
// returns the number of documents written. Documents are grouped by partition key value unless
// partitionKey overrides it. Large batches run with raised throughput, restored afterwards.
// On error the count covers the chunks written before it.
func (r *Repository[T]) AddOrUpdateBatch(ctx context.Context, items []T, partitionKey string) (written int, err error) {
	if len(items) == 0 {
		return 0, nil
	}
	if err = r.Initialize(ctx); err != nil {
		return 0, err
	}
	ctx, span := r.start(ctx, "add_or_update_batch")
	span.SetAttributes(attribute.Int("batch.items", len(items)))
	defer func() {
		span.SetAttributes(attribute.Int("batch.written", written))
		end(span, err)
	}()

	groups, err := r.group(items, partitionKey)
	if err != nil {
		return 0, err
	}
	if target := r.opts.Scale.Target(len(items)); target > 0 {
		restore := r.scaleUp(ctx, target)
		defer restore()
	}
	for _, g := range groups {
		for start := 0; start < len(g.docs); start += r.opts.BatchSize {
			stop := min(start+r.opts.BatchSize, len(g.docs))
			n, err := r.bulkImport(ctx, g.key, g.docs[start:stop])
			written += n
			if err != nil {
				return written, err
			}
		}
	}
	r.written.Add(ctx, int64(written), metric.WithAttributes(attribute.String("collection", r.link.String())))
	return written, nil
}

type partitionGroup struct {
	key  string
	docs []json.RawMessage
}

// group marshals items and splits them by partition key value, in order of first appearance.
func (r *Repository[T]) group(items []T, partitionKey string) ([]*partitionGroup, error) {
	var groups []*partitionGroup
	byKey := make(map[string]*partitionGroup)
	for _, item := range items {
		doc, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("repository: marshal %s: %w", item.EntityID(), err)
		}
		key := partitionKey
		if key == "" && r.opts.PartitionKeyPath != "" {
			if key, err = docstore.PartitionKeyValue(doc, r.opts.PartitionKeyPath); err != nil {
				return nil, fmt.Errorf("repository: partition key of %s: %w", item.EntityID(), err)
			}
		}
		g, ok := byKey[key]
		if !ok {
			g = &partitionGroup{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.docs = append(g.docs, doc)
	}
	return groups, nil
}

func (r *Repository[T]) bulkImport(ctx context.Context, partitionKey string, docs []json.RawMessage) (int, error) {
	args, err := json.Marshal(docs)
	if err != nil {
		return 0, fmt.Errorf("repository: encode batch: %w", err)
	}
	var res json.RawMessage
	err = r.retry(ctx, "bulk import", func(ctx context.Context) error {
		var err error
		res, err = r.client.ExecuteStoredProcedure(ctx, r.link, docstore.BulkImportProcedure, partitionKey, args)
		return err
	})
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(res))
	if err != nil {
		return 0, fmt.Errorf("repository: bulk import returned %q: %w", res, err)
	}
	return n, nil
}

// scaleUp raises throughput to target and returns a func restoring the previous value.
// Failures are logged and never fail the batch.
func (r *Repository[T]) scaleUp(ctx context.Context, target int) func() {
	baseline := r.opts.Scale.Baseline
	if baseline <= 0 {
		baseline = docstore.DefaultThroughput
	}
	err := r.retry(ctx, "read throughput", func(ctx context.Context) error {
		current, err := r.client.ReadThroughput(ctx, r.link)
		if err == nil && current > 0 {
			baseline = current
		}
		return err
	})
	if err != nil {
		r.log.Warn("read throughput failed, restoring to configured baseline", zap.Int("baseline", baseline), zap.Error(err))
	}
	if baseline >= target {
		return func() {}
	}
	err = r.retry(ctx, "replace throughput", func(ctx context.Context) error {
		return r.client.ReplaceThroughput(ctx, r.link, target)
	})
	if err != nil {
		r.log.Warn("scale up throughput failed", zap.Int("target", target), zap.Error(err))
		return func() {}
	}
	r.log.Info("throughput raised for batch", zap.Int("from", baseline), zap.Int("to", target))
	return func() {
		// Restore even when the batch context was cancelled.
		rctx := context.WithoutCancel(ctx)
		err := r.retry(rctx, "restore throughput", func(ctx context.Context) error {
			return r.client.ReplaceThroughput(ctx, r.link, baseline)
		})
		if err != nil {
			r.log.Warn("restore throughput failed", zap.Int("baseline", baseline), zap.Error(err))
			return
		}
		r.log.Info("throughput restored", zap.Int("to", baseline))
	}
}

// Get reads the entity with id. It returns nil, nil when the entity does not exist.
func (r *Repository[T]) Get(ctx context.Context, id, partitionKey string) (out *T, err error) {
	if err = r.Initialize(ctx); err != nil {
		return nil, err
	}
	ctx, span := r.start(ctx, "get")
	defer func() { end(span, err) }()

	var doc json.RawMessage
	err = r.retry(ctx, "read document", func(ctx context.Context) error {
		var err error
		doc, err = r.client.ReadDocument(ctx, r.link, id, partitionKey)
		return err
	})
	if docstore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err = json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("repository: decode %s: %w", id, err)
	}
	return &v, nil
}

// GetAll returns every entity of the collection in store order.
func (r *Repository[T]) GetAll(ctx context.Context) (out []T, err error) {
	if err = r.Initialize(ctx); err != nil {
		return nil, err
	}
	ctx, span := r.start(ctx, "get_all")
	defer func() { end(span, err) }()

	return r.drain(ctx, "read feed", func(ctx context.Context, continuation string) (docstore.Page, error) {
		return r.client.ReadFeed(ctx, r.link, continuation, 0)
	})
}

// Query returns every entity matching q within partitionKey. An empty partitionKey scans all partitions.
func (r *Repository[T]) Query(ctx context.Context, q docstore.Query, partitionKey string) (out []T, err error) {
	if err = q.Validate(); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	if err = r.Initialize(ctx); err != nil {
		return nil, err
	}
	ctx, span := r.start(ctx, "query")
	defer func() { end(span, err) }()

	return r.drain(ctx, "query documents", func(ctx context.Context, continuation string) (docstore.Page, error) {
		return r.client.QueryDocuments(ctx, r.link, q, partitionKey, continuation)
	})
}

// drain follows continuation tokens until the scan is exhausted.
func (r *Repository[T]) drain(ctx context.Context, op string, next func(ctx context.Context, continuation string) (docstore.Page, error)) ([]T, error) {
	var (
		out          []T
		continuation string
	)
	for {
		var page docstore.Page
		err := r.retry(ctx, op, func(ctx context.Context) error {
			var err error
			page, err = next(ctx, continuation)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range page.Documents {
			var v T
			if err := json.Unmarshal(doc, &v); err != nil {
				return nil, fmt.Errorf("repository: decode document: %w", err)
			}
			out = append(out, v)
		}
		if page.Continuation == "" {
			return out, nil
		}
		if page.Continuation == continuation {
			return nil, fmt.Errorf("repository: %s: continuation %q did not advance", op, continuation)
		}
		continuation = page.Continuation
	}
}

// Delete removes the entity with id. Deleting a missing entity succeeds.
func (r *Repository[T]) Delete(ctx context.Context, id, partitionKey string) (err error) {
	if err = r.Initialize(ctx); err != nil {
		return err
	}
	ctx, span := r.start(ctx, "delete")
	defer func() { end(span, err) }()

	err = r.retry(ctx, "delete document", func(ctx context.Context) error {
		return r.client.DeleteDocument(ctx, r.link, id, partitionKey)
	})
	if docstore.IsNotFound(err) {
		return nil
	}
	return err
}
