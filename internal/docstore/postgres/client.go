// Package postgres implements docstore.Client on PostgreSQL jsonb tables.
//
// A database maps to a schema holding a collection registry; a collection maps to a table
// keyed by document id with the partition key value and an insertion sequence used for
// keyset pagination. Stored procedures are plpgsql functions created next to the table.
// Provisioned throughput is recorded in the registry and enforced in-process by a docstore.Meter.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
)

// DefaultPageSize bounds feed and query pages when callers do not set a size.
const DefaultPageSize = 200

// Client is a docstore.Client backed by PostgreSQL. It is safe for concurrent use.
type Client struct {
	db       *sqlx.DB
	meter    *docstore.Meter
	pageSize int
	log      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for provisioning messages.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithPageSize sets the maximum documents per page.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithoutMetering disables in-process throughput enforcement.
func WithoutMetering() Option {
	return func(c *Client) { c.meter = nil }
}

// New returns a Client using db, which must have been opened with the pgx driver.
func New(db *sql.DB, opts ...Option) *Client {
	c := &Client{
		db:       sqlx.NewDb(db, "pgx"),
		meter:    docstore.NewMeter(),
		pageSize: DefaultPageSize,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ docstore.Client = (*Client)(nil)

type registryRow struct {
	ID               string `db:"id"`
	PartitionKeyPath string `db:"partition_key_path"`
	Throughput       int    `db:"throughput"`
}

func (c *Client) registry(ctx context.Context, op string, link docstore.CollectionLink) (*registryRow, error) {
	if err := checkLink(link); err != nil {
		return nil, docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	query, args, err := psql.Select("id", "partition_key_path", "throughput").
		From(registryIdent(link.Database)).
		Where(sq.Eq{"id": link.Collection}).
		ToSql()
	if err != nil {
		return nil, docstore.NewError(op, docstore.StatusInternal, err)
	}
	var row registryRow
	if err := c.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, translate(op, err)
	}
	if !c.meter.Provisioned(link) {
		c.meter.Provision(link, row.Throughput)
	}
	return &row, nil
}

func checkLink(link docstore.CollectionLink) error {
	if err := checkName("database", link.Database); err != nil {
		return err
	}
	return checkName("collection", link.Collection)
}

// ReadDatabase implements docstore.Client.
func (c *Client) ReadDatabase(ctx context.Context, id string) error {
	const op = "read database"
	if err := checkName("database", id); err != nil {
		return docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	var n int
	err := c.db.GetContext(ctx, &n,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
		id, registryTable)
	if err != nil {
		return translate(op, err)
	}
	if n == 0 {
		return docstore.NewError(op, docstore.StatusNotFound, fmt.Errorf("database %s not found", id))
	}
	return nil
}

// CreateDatabase implements docstore.Client. The schema and its registry are created together.
func (c *Client) CreateDatabase(ctx context.Context, id string) error {
	const op = "create database"
	if err := checkName("database", id); err != nil {
		return docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	err := c.inTx(ctx, op, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "CREATE SCHEMA "+schemaIdent(id)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, createRegistrySQL(id))
		return err
	})
	if err == nil {
		c.log.Info("docstore database created", zap.String("database", id))
	}
	return err
}

// ReadCollection implements docstore.Client.
func (c *Client) ReadCollection(ctx context.Context, link docstore.CollectionLink) (*docstore.CollectionInfo, error) {
	row, err := c.registry(ctx, "read collection", link)
	if err != nil {
		return nil, err
	}
	return &docstore.CollectionInfo{ID: row.ID, PartitionKeyPath: row.PartitionKeyPath}, nil
}

// CreateCollection implements docstore.Client.
func (c *Client) CreateCollection(ctx context.Context, database string, spec docstore.CollectionSpec) error {
	const op = "create collection"
	link := docstore.CollectionLink{Database: database, Collection: spec.ID}
	if err := checkLink(link); err != nil {
		return docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	throughput := spec.Throughput
	if throughput <= 0 {
		throughput = docstore.DefaultThroughput
	}
	err := c.inTx(ctx, op, func(tx *sqlx.Tx) error {
		query, args, err := psql.Insert(registryIdent(database)).
			Columns("id", "partition_key_path", "throughput").
			Values(spec.ID, spec.PartitionKeyPath, throughput).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		for _, stmt := range createTableSQL(link) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.meter.Provision(link, throughput)
	c.log.Info("docstore collection created",
		zap.Stringer("collection", link),
		zap.String("partition_key_path", spec.PartitionKeyPath),
		zap.Int("throughput", throughput))
	return nil
}

// ReadStoredProcedure implements docstore.Client.
func (c *Client) ReadStoredProcedure(ctx context.Context, link docstore.CollectionLink, id string) error {
	const op = "read procedure"
	if err := checkLink(link); err != nil {
		return docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	var n int
	err := c.db.GetContext(ctx, &n, `SELECT count(*) FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace ns ON ns.oid = p.pronamespace
WHERE ns.nspname = $1 AND p.proname = $2`, link.Database, procName(link.Collection, id))
	if err != nil {
		return translate(op, err)
	}
	if n == 0 {
		return docstore.NewError(op, docstore.StatusNotFound, fmt.Errorf("procedure %s not found", id))
	}
	return nil
}

// CreateStoredProcedure implements docstore.Client.
func (c *Client) CreateStoredProcedure(ctx context.Context, link docstore.CollectionLink, proc docstore.StoredProcedure) error {
	const op = "create procedure"
	if proc.Kind != docstore.ProcedureKindBulkImport {
		return docstore.NewError(op, docstore.StatusBadRequest, fmt.Errorf("unsupported procedure kind %q", proc.Kind))
	}
	if err := checkName("procedure", proc.ID); err != nil {
		return docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	row, err := c.registry(ctx, op, link)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, createBulkImportSQL(link, proc.ID, row.PartitionKeyPath)); err != nil {
		return translate(op, err)
	}
	c.log.Info("docstore procedure created", zap.Stringer("collection", link), zap.String("procedure", proc.ID))
	return nil
}

// ExecuteStoredProcedure implements docstore.Client.
func (c *Client) ExecuteStoredProcedure(ctx context.Context, link docstore.CollectionLink, id, partitionKey string, args json.RawMessage) (json.RawMessage, error) {
	const op = "execute procedure"
	if err := checkLink(link); err != nil {
		return nil, docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	if err := checkName("procedure", id); err != nil {
		return nil, docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	var docs []json.RawMessage
	if err := json.Unmarshal(args, &docs); err != nil {
		return nil, docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	if err := c.charge(ctx, op, link, len(docs)*docstore.WriteCharge); err != nil {
		return nil, err
	}
	var n int
	query := fmt.Sprintf("SELECT %s($1::jsonb, $2)", procIdent(link, id))
	if err := c.db.GetContext(ctx, &n, query, string(args), partitionKey); err != nil {
		return nil, translate(op, err)
	}
	return json.RawMessage(strconv.Itoa(n)), nil
}

// ReadDocument implements docstore.Client.
func (c *Client) ReadDocument(ctx context.Context, link docstore.CollectionLink, id, partitionKey string) (json.RawMessage, error) {
	const op = "read document"
	if err := checkLink(link); err != nil {
		return nil, docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	if err := c.charge(ctx, op, link, docstore.ReadCharge); err != nil {
		return nil, err
	}
	q := psql.Select("doc").From(tableIdent(link)).Where(sq.Eq{"id": id})
	if partitionKey != "" {
		q = q.Where(sq.Eq{"partition_key": partitionKey})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, docstore.NewError(op, docstore.StatusInternal, err)
	}
	var doc []byte
	if err := c.db.GetContext(ctx, &doc, query, args...); err != nil {
		return nil, translate(op, err)
	}
	return json.RawMessage(doc), nil
}

// UpsertDocument implements docstore.Client.
func (c *Client) UpsertDocument(ctx context.Context, link docstore.CollectionLink, doc json.RawMessage, partitionKey string) (json.RawMessage, error) {
	const op = "upsert document"
	id, err := docstore.DocumentID(doc)
	if err != nil {
		return nil, err
	}
	row, err := c.registry(ctx, op, link)
	if err != nil {
		return nil, err
	}
	pk := partitionKey
	if pk == "" {
		if pk, err = docstore.PartitionKeyValue(doc, row.PartitionKeyPath); err != nil {
			return nil, docstore.NewError(op, docstore.StatusBadRequest, err)
		}
	}
	if err := c.charge(ctx, op, link, docstore.WriteCharge); err != nil {
		return nil, err
	}
	query, args, err := psql.Insert(tableIdent(link)).
		Columns("id", "partition_key", "doc").
		Values(id, pk, sq.Expr("?::jsonb", string(doc))).
		Suffix("ON CONFLICT (id) DO UPDATE SET partition_key = EXCLUDED.partition_key, doc = EXCLUDED.doc, updated_at = now() RETURNING doc").
		ToSql()
	if err != nil {
		return nil, docstore.NewError(op, docstore.StatusInternal, err)
	}
	var stored []byte
	if err := c.db.GetContext(ctx, &stored, query, args...); err != nil {
		return nil, translate(op, err)
	}
	return json.RawMessage(stored), nil
}

// DeleteDocument implements docstore.Client.
func (c *Client) DeleteDocument(ctx context.Context, link docstore.CollectionLink, id, partitionKey string) error {
	const op = "delete document"
	if err := checkLink(link); err != nil {
		return docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	if err := c.charge(ctx, op, link, docstore.WriteCharge); err != nil {
		return err
	}
	q := psql.Delete(tableIdent(link)).Where(sq.Eq{"id": id})
	if partitionKey != "" {
		q = q.Where(sq.Eq{"partition_key": partitionKey})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return docstore.NewError(op, docstore.StatusInternal, err)
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return docstore.NewError(op, docstore.StatusNotFound, fmt.Errorf("document %s not found", id))
	}
	return nil
}

// ReadFeed implements docstore.Client.
func (c *Client) ReadFeed(ctx context.Context, link docstore.CollectionLink, continuation string, pageSize int) (docstore.Page, error) {
	return c.page(ctx, "read feed", link, nil, "", continuation, pageSize)
}

// QueryDocuments implements docstore.Client.
func (c *Client) QueryDocuments(ctx context.Context, link docstore.CollectionLink, q docstore.Query, partitionKey, continuation string) (docstore.Page, error) {
	if err := q.Validate(); err != nil {
		return docstore.Page{}, docstore.NewError("query documents", docstore.StatusBadRequest, err)
	}
	return c.page(ctx, "query documents", link, q.Filters, partitionKey, continuation, q.PageSize)
}

type pageRow struct {
	Doc []byte `db:"doc"`
	Seq int64  `db:"seq"`
}

func (c *Client) page(ctx context.Context, op string, link docstore.CollectionLink, filters []docstore.Filter, partitionKey, continuation string, pageSize int) (docstore.Page, error) {
	if err := checkLink(link); err != nil {
		return docstore.Page{}, docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	if pageSize <= 0 || pageSize > c.pageSize {
		pageSize = c.pageSize
	}
	query, args, err := selectPage(link, filters, partitionKey, continuation, pageSize)
	if err != nil {
		return docstore.Page{}, docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	if err := c.charge(ctx, op, link, pageSize*docstore.ReadCharge); err != nil {
		return docstore.Page{}, err
	}
	var rows []pageRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return docstore.Page{}, translate(op, err)
	}
	var page docstore.Page
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		page.Continuation = strconv.FormatInt(rows[len(rows)-1].Seq, 10)
	}
	page.Documents = make([]json.RawMessage, len(rows))
	for i, r := range rows {
		page.Documents[i] = json.RawMessage(r.Doc)
	}
	return page, nil
}

// ReadThroughput implements docstore.Client.
func (c *Client) ReadThroughput(ctx context.Context, link docstore.CollectionLink) (int, error) {
	row, err := c.registry(ctx, "read throughput", link)
	if err != nil {
		return 0, err
	}
	return row.Throughput, nil
}

// ReplaceThroughput implements docstore.Client.
func (c *Client) ReplaceThroughput(ctx context.Context, link docstore.CollectionLink, throughput int) error {
	const op = "replace throughput"
	if err := checkLink(link); err != nil {
		return docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	if throughput <= 0 {
		return docstore.NewError(op, docstore.StatusBadRequest, fmt.Errorf("invalid throughput %d", throughput))
	}
	query, args, err := psql.Update(registryIdent(link.Database)).
		Set("throughput", throughput).
		Where(sq.Eq{"id": link.Collection}).
		ToSql()
	if err != nil {
		return docstore.NewError(op, docstore.StatusInternal, err)
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return docstore.NewError(op, docstore.StatusNotFound, fmt.Errorf("collection %s not found", link))
	}
	c.meter.Provision(link, throughput)
	return nil
}

// charge meters a call, loading the collection's throughput on first use.
func (c *Client) charge(ctx context.Context, op string, link docstore.CollectionLink, units int) error {
	if c.meter == nil {
		return nil
	}
	if !c.meter.Provisioned(link) {
		if _, err := c.registry(ctx, op, link); err != nil {
			return err
		}
	}
	return c.meter.Charge(op, link, units)
}

func (c *Client) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return translate(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			c.log.Warn("docstore rollback failed", zap.String("op", op), zap.Error(rbErr))
		}
		return translate(op, err)
	}
	return translate(op, tx.Commit())
}
