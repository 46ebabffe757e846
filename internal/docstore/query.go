package docstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// Operator is a comparison applied by a Filter.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

func (o Operator) valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Filter compares the JSON value at Path with Value. Path uses "/a/b" or "a.b" notation.
// Value must be a string, bool, integer, float or nil.
type Filter struct {
	Path  string
	Op    Operator
	Value any
}

// Query is a conjunction of filters.
type Query struct {
	Filters []Filter
	// PageSize bounds the documents returned per page. Zero means the store default.
	PageSize int
}

// Where returns a query with a single filter.
func Where(path string, op Operator, value any) Query {
	return Query{Filters: []Filter{{Path: path, Op: op, Value: value}}}
}

// And returns a copy of q with an additional filter.
func (q Query) And(path string, op Operator, value any) Query {
	out := Query{PageSize: q.PageSize, Filters: make([]Filter, 0, len(q.Filters)+1)}
	out.Filters = append(out.Filters, q.Filters...)
	out.Filters = append(out.Filters, Filter{Path: path, Op: op, Value: value})
	return out
}

// Validate returns an error describing the first invalid filter.
func (q Query) Validate() error {
	for i, f := range q.Filters {
		if len(SplitPath(f.Path)) == 0 {
			return fmt.Errorf("filter %d: empty path", i)
		}
		if !f.Op.valid() {
			return fmt.Errorf("filter %d: unknown operator %q", i, f.Op)
		}
		switch f.Value.(type) {
		case nil, string, bool, int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("filter %d: unsupported value type %T", i, f.Value)
		}
		if f.Value == nil && f.Op != OpEq && f.Op != OpNe {
			return fmt.Errorf("filter %d: nil only supports eq and ne", i)
		}
	}
	return nil
}

// SplitPath turns "/a/b" or "a.b" into its keys.
func SplitPath(path string) []string {
	path = strings.TrimSpace(path)
	sep := "."
	if strings.HasPrefix(path, "/") {
		sep = "/"
	}
	var keys []string
	for _, k := range strings.Split(path, sep) {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ErrInvalidPartitionKey is returned when the partition key field is not a scalar.
var ErrInvalidPartitionKey = errors.New("partition key value must be a string, number or bool")

// PartitionKeyValue reads the partition key at path from doc. Missing or null values yield "".
func PartitionKeyValue(doc []byte, path string) (string, error) {
	keys := SplitPath(path)
	if len(keys) == 0 {
		return "", nil
	}
	v, typ, _, err := jsonparser.Get(doc, keys...)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	switch typ {
	case jsonparser.String:
		return jsonparser.ParseString(v)
	case jsonparser.Number, jsonparser.Boolean:
		return string(v), nil
	case jsonparser.Null, jsonparser.NotExist:
		return "", nil
	default:
		return "", ErrInvalidPartitionKey
	}
}

// DocumentID reads the "id" field of doc.
func DocumentID(doc []byte) (string, error) {
	id, err := jsonparser.GetString(doc, "id")
	if err != nil || id == "" {
		return "", NewError("read id", StatusBadRequest, errors.New("document has no id"))
	}
	return id, nil
}
