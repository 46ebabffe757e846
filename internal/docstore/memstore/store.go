// Package memstore provides an in-memory docstore.Client for local runs and tests.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/buger/jsonparser"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
)

// DefaultPageSize is the feed/query page size when callers do not set one.
const DefaultPageSize = 100

type entry struct {
	id  string
	pk  string
	doc json.RawMessage
	seq int64
}

type collection struct {
	info       docstore.CollectionInfo
	throughput int
	docs       map[string]*entry
	procs      map[string]docstore.ProcedureKind
	seq        int64
}

// Store is an in-memory document store. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	databases map[string]map[string]*collection
	pageSize  int
	meter     *docstore.Meter
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets the maximum documents per feed or query page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithMeter enforces provisioned throughput using m.
func WithMeter(m *docstore.Meter) Option {
	return func(s *Store) { s.meter = m }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		databases: make(map[string]map[string]*collection),
		pageSize:  DefaultPageSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ docstore.Client = (*Store)(nil)

func notFound(op, what string) error {
	return docstore.NewError(op, docstore.StatusNotFound, errors.New(what+" not found"))
}

func (s *Store) collection(op string, link docstore.CollectionLink) (*collection, error) {
	db, ok := s.databases[link.Database]
	if !ok {
		return nil, notFound(op, "database "+link.Database)
	}
	c, ok := db[link.Collection]
	if !ok {
		return nil, notFound(op, "collection "+link.String())
	}
	return c, nil
}

// ReadDatabase implements docstore.Client.
func (s *Store) ReadDatabase(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.databases[id]; !ok {
		return notFound("read database", "database "+id)
	}
	return nil
}

// CreateDatabase implements docstore.Client.
func (s *Store) CreateDatabase(ctx context.Context, id string) error {
	if id == "" {
		return docstore.NewError("create database", docstore.StatusBadRequest, errors.New("empty id"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[id]; ok {
		return docstore.NewError("create database", docstore.StatusConflict, nil)
	}
	s.databases[id] = make(map[string]*collection)
	return nil
}

// ReadCollection implements docstore.Client.
func (s *Store) ReadCollection(ctx context.Context, link docstore.CollectionLink) (*docstore.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collection("read collection", link)
	if err != nil {
		return nil, err
	}
	info := c.info
	return &info, nil
}

// CreateCollection implements docstore.Client.
func (s *Store) CreateCollection(ctx context.Context, database string, spec docstore.CollectionSpec) error {
	const op = "create collection"
	if spec.ID == "" {
		return docstore.NewError(op, docstore.StatusBadRequest, errors.New("empty id"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[database]
	if !ok {
		return notFound(op, "database "+database)
	}
	if _, ok := db[spec.ID]; ok {
		return docstore.NewError(op, docstore.StatusConflict, nil)
	}
	throughput := spec.Throughput
	if throughput <= 0 {
		throughput = docstore.DefaultThroughput
	}
	db[spec.ID] = &collection{
		info:       docstore.CollectionInfo{ID: spec.ID, PartitionKeyPath: spec.PartitionKeyPath},
		throughput: throughput,
		docs:       make(map[string]*entry),
		procs:      make(map[string]docstore.ProcedureKind),
	}
	s.meter.Provision(docstore.CollectionLink{Database: database, Collection: spec.ID}, throughput)
	return nil
}

// ReadStoredProcedure implements docstore.Client.
func (s *Store) ReadStoredProcedure(ctx context.Context, link docstore.CollectionLink, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collection("read procedure", link)
	if err != nil {
		return err
	}
	if _, ok := c.procs[id]; !ok {
		return notFound("read procedure", "procedure "+id)
	}
	return nil
}

// CreateStoredProcedure implements docstore.Client.
func (s *Store) CreateStoredProcedure(ctx context.Context, link docstore.CollectionLink, proc docstore.StoredProcedure) error {
	const op = "create procedure"
	if proc.Kind != docstore.ProcedureKindBulkImport {
		return docstore.NewError(op, docstore.StatusBadRequest, fmt.Errorf("unsupported procedure kind %q", proc.Kind))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(op, link)
	if err != nil {
		return err
	}
	if _, ok := c.procs[proc.ID]; ok {
		return docstore.NewError(op, docstore.StatusConflict, nil)
	}
	c.procs[proc.ID] = proc.Kind
	return nil
}

// ExecuteStoredProcedure implements docstore.Client. The bulk import procedure takes a JSON
// array of documents and returns the number written. Documents are validated before any is
// written, so a failing batch writes nothing.
func (s *Store) ExecuteStoredProcedure(ctx context.Context, link docstore.CollectionLink, id, partitionKey string, args json.RawMessage) (json.RawMessage, error) {
	const op = "execute procedure"
	var docs []json.RawMessage
	if err := json.Unmarshal(args, &docs); err != nil {
		return nil, docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	if err := s.meter.Charge(op, link, len(docs)*docstore.WriteCharge); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(op, link)
	if err != nil {
		return nil, err
	}
	if _, ok := c.procs[id]; !ok {
		return nil, notFound(op, "procedure "+id)
	}
	prepared := make([]*entry, 0, len(docs))
	for _, d := range docs {
		e, err := c.prepare(op, d, partitionKey)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, e)
	}
	for _, e := range prepared {
		c.put(e)
	}
	return json.RawMessage(strconv.Itoa(len(prepared))), nil
}

func (c *collection) prepare(op string, doc json.RawMessage, partitionKey string) (*entry, error) {
	id, err := docstore.DocumentID(doc)
	if err != nil {
		return nil, err
	}
	pk := partitionKey
	if pk == "" {
		if pk, err = docstore.PartitionKeyValue(doc, c.info.PartitionKeyPath); err != nil {
			return nil, docstore.NewError(op, docstore.StatusBadRequest, err)
		}
	}
	cp := make(json.RawMessage, len(doc))
	copy(cp, doc)
	return &entry{id: id, pk: pk, doc: cp}, nil
}

func (c *collection) put(e *entry) {
	if old, ok := c.docs[e.id]; ok {
		e.seq = old.seq
	} else {
		c.seq++
		e.seq = c.seq
	}
	c.docs[e.id] = e
}

// ReadDocument implements docstore.Client.
func (s *Store) ReadDocument(ctx context.Context, link docstore.CollectionLink, id, partitionKey string) (json.RawMessage, error) {
	const op = "read document"
	if err := s.meter.Charge(op, link, docstore.ReadCharge); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collection(op, link)
	if err != nil {
		return nil, err
	}
	e, ok := c.docs[id]
	if !ok || (partitionKey != "" && e.pk != partitionKey) {
		return nil, notFound(op, "document "+id)
	}
	return append(json.RawMessage(nil), e.doc...), nil
}

// UpsertDocument implements docstore.Client.
func (s *Store) UpsertDocument(ctx context.Context, link docstore.CollectionLink, doc json.RawMessage, partitionKey string) (json.RawMessage, error) {
	const op = "upsert document"
	if err := s.meter.Charge(op, link, docstore.WriteCharge); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(op, link)
	if err != nil {
		return nil, err
	}
	e, err := c.prepare(op, doc, partitionKey)
	if err != nil {
		return nil, err
	}
	c.put(e)
	return append(json.RawMessage(nil), e.doc...), nil
}

// DeleteDocument implements docstore.Client.
func (s *Store) DeleteDocument(ctx context.Context, link docstore.CollectionLink, id, partitionKey string) error {
	const op = "delete document"
	if err := s.meter.Charge(op, link, docstore.WriteCharge); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(op, link)
	if err != nil {
		return err
	}
	e, ok := c.docs[id]
	if !ok || (partitionKey != "" && e.pk != partitionKey) {
		return notFound(op, "document "+id)
	}
	delete(c.docs, id)
	return nil
}

// ReadFeed implements docstore.Client.
func (s *Store) ReadFeed(ctx context.Context, link docstore.CollectionLink, continuation string, pageSize int) (docstore.Page, error) {
	return s.scan(ctx, "read feed", link, nil, "", continuation, pageSize)
}

// QueryDocuments implements docstore.Client.
func (s *Store) QueryDocuments(ctx context.Context, link docstore.CollectionLink, q docstore.Query, partitionKey, continuation string) (docstore.Page, error) {
	if err := q.Validate(); err != nil {
		return docstore.Page{}, docstore.NewError("query documents", docstore.StatusBadRequest, err)
	}
	return s.scan(ctx, "query documents", link, q.Filters, partitionKey, continuation, q.PageSize)
}

func (s *Store) scan(ctx context.Context, op string, link docstore.CollectionLink, filters []docstore.Filter, partitionKey, continuation string, pageSize int) (docstore.Page, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Page{}, err
	}
	var after int64
	if continuation != "" {
		v, err := strconv.ParseInt(continuation, 10, 64)
		if err != nil || v < 0 {
			return docstore.Page{}, docstore.NewError(op, docstore.StatusBadRequest, fmt.Errorf("invalid continuation %q", continuation))
		}
		after = v
	}
	if pageSize <= 0 || pageSize > s.pageSize {
		pageSize = s.pageSize
	}

	s.mu.RLock()
	c, err := s.collection(op, link)
	if err != nil {
		s.mu.RUnlock()
		return docstore.Page{}, err
	}
	candidates := make([]*entry, 0, len(c.docs))
	for _, e := range c.docs {
		if e.seq <= after {
			continue
		}
		if partitionKey != "" && e.pk != partitionKey {
			continue
		}
		candidates = append(candidates, e)
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })

	var (
		page    docstore.Page
		lastSeq int64
	)
	for _, e := range candidates {
		ok, err := matches(e.doc, filters)
		if err != nil {
			return docstore.Page{}, docstore.NewError(op, docstore.StatusBadRequest, err)
		}
		if !ok {
			continue
		}
		if len(page.Documents) == pageSize {
			page.Continuation = strconv.FormatInt(lastSeq, 10)
			break
		}
		page.Documents = append(page.Documents, append(json.RawMessage(nil), e.doc...))
		lastSeq = e.seq
	}
	if err := s.meter.Charge(op, link, max(1, len(page.Documents))*docstore.ReadCharge); err != nil {
		return docstore.Page{}, err
	}
	return page, nil
}

// ReadThroughput implements docstore.Client.
func (s *Store) ReadThroughput(ctx context.Context, link docstore.CollectionLink) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collection("read throughput", link)
	if err != nil {
		return 0, err
	}
	return c.throughput, nil
}

// ReplaceThroughput implements docstore.Client.
func (s *Store) ReplaceThroughput(ctx context.Context, link docstore.CollectionLink, throughput int) error {
	const op = "replace throughput"
	if throughput <= 0 {
		return docstore.NewError(op, docstore.StatusBadRequest, fmt.Errorf("invalid throughput %d", throughput))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(op, link)
	if err != nil {
		return err
	}
	c.throughput = throughput
	s.meter.Provision(link, throughput)
	return nil
}

// Len returns the number of documents stored in link, or 0 when it does not exist.
func (s *Store) Len(link docstore.CollectionLink) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collection("len", link)
	if err != nil {
		return 0
	}
	return len(c.docs)
}

func matches(doc json.RawMessage, filters []docstore.Filter) (bool, error) {
	for _, f := range filters {
		ok, err := match(doc, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(doc json.RawMessage, f docstore.Filter) (bool, error) {
	raw, typ, _, err := jsonparser.Get(doc, docstore.SplitPath(f.Path)...)
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return false, err
	}
	if f.Value == nil {
		isNull := typ == jsonparser.NotExist || typ == jsonparser.Null
		return (f.Op == docstore.OpEq) == isNull, nil
	}
	var cmp int
	switch want := f.Value.(type) {
	case string:
		if typ != jsonparser.String {
			return f.Op == docstore.OpNe, nil
		}
		got, err := jsonparser.ParseString(raw)
		if err != nil {
			return false, err
		}
		cmp = compareStrings(got, want)
	case bool:
		if typ != jsonparser.Boolean {
			return f.Op == docstore.OpNe, nil
		}
		got, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return false, err
		}
		cmp = compareBools(got, want)
	default:
		if typ != jsonparser.Number {
			return f.Op == docstore.OpNe, nil
		}
		got, err := jsonparser.ParseFloat(raw)
		if err != nil {
			return false, err
		}
		cmp = compareFloats(got, toFloat(want))
	}
	switch f.Op {
	case docstore.OpEq:
		return cmp == 0, nil
	case docstore.OpNe:
		return cmp != 0, nil
	case docstore.OpGt:
		return cmp > 0, nil
	case docstore.OpGte:
		return cmp >= 0, nil
	case docstore.OpLt:
		return cmp < 0, nil
	case docstore.OpLte:
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("unknown operator %q", f.Op)
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBools(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
