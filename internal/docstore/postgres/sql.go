package postgres

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
)

// registryTable holds one row per collection of a database (schema).
const registryTable = "_collections"

var (
	psql      = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]{0,47}$`)
)

func checkName(kind, name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

func schemaIdent(database string) string { return pgx.Identifier{database}.Sanitize() }

func registryIdent(database string) string {
	return pgx.Identifier{database, registryTable}.Sanitize()
}

func tableIdent(link docstore.CollectionLink) string {
	return pgx.Identifier{link.Database, link.Collection}.Sanitize()
}

func procName(collection, id string) string { return collection + "__" + id }

func procIdent(link docstore.CollectionLink, id string) string {
	return pgx.Identifier{link.Database, procName(link.Collection, id)}.Sanitize()
}

// pathLiteral renders keys as a Postgres text[] literal for the #> and #>> operators.
func pathLiteral(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		k = strings.ReplaceAll(k, `\`, `\\`)
		k = strings.ReplaceAll(k, `"`, `\"`)
		quoted[i] = `"` + k + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func createRegistrySQL(database string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
	id text PRIMARY KEY,
	partition_key_path text NOT NULL DEFAULT '',
	throughput integer NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
)`, registryIdent(database))
}

func createTableSQL(link docstore.CollectionLink) []string {
	t := tableIdent(link)
	idx := pgx.Identifier{link.Collection + "_partition_key_idx"}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE TABLE %s (
	id text PRIMARY KEY,
	partition_key text NOT NULL DEFAULT '',
	doc jsonb NOT NULL,
	seq bigserial NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`, t),
		fmt.Sprintf(`CREATE INDEX %s ON %s (partition_key, seq)`, idx, t),
	}
}

// createBulkImportSQL defines the bulk import procedure: upsert each element of a jsonb
// array by id and return the count. All rows are written in the caller's statement, so a
// failing element aborts the whole batch.
func createBulkImportSQL(link docstore.CollectionLink, id, partitionKeyPath string) string {
	pk := "NULL::text"
	if keys := docstore.SplitPath(partitionKeyPath); len(keys) > 0 {
		pk = "d #>> '" + strings.ReplaceAll(pathLiteral(keys), "'", "''") + "'"
	}
	return fmt.Sprintf(`CREATE FUNCTION %[1]s(docs jsonb, p_key text) RETURNS integer
LANGUAGE plpgsql AS $body$
DECLARE
	d jsonb;
	n integer := 0;
BEGIN
	IF jsonb_typeof(docs) <> 'array' THEN
		RAISE EXCEPTION 'bulk import expects a json array' USING ERRCODE = '22023';
	END IF;
	FOR d IN SELECT value FROM jsonb_array_elements(docs) LOOP
		IF coalesce(d->>'id', '') = '' THEN
			RAISE EXCEPTION 'document without id' USING ERRCODE = '22023';
		END IF;
		INSERT INTO %[2]s (id, partition_key, doc, updated_at)
		VALUES (d->>'id', coalesce(nullif(p_key, ''), %[3]s, ''), d, now())
		ON CONFLICT (id) DO UPDATE
		SET partition_key = EXCLUDED.partition_key, doc = EXCLUDED.doc, updated_at = now();
		n := n + 1;
	END LOOP;
	RETURN n;
END
$body$`, procIdent(link, id), tableIdent(link), pk)
}

var sqlOps = map[docstore.Operator]string{
	docstore.OpEq:  "=",
	docstore.OpNe:  "<>",
	docstore.OpGt:  ">",
	docstore.OpGte: ">=",
	docstore.OpLt:  "<",
	docstore.OpLte: "<=",
}

// filterSQL compiles f against the doc column.
func filterSQL(f docstore.Filter) (sq.Sqlizer, error) {
	op, ok := sqlOps[f.Op]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", f.Op)
	}
	path := pathLiteral(docstore.SplitPath(f.Path))
	switch v := f.Value.(type) {
	case nil:
		if f.Op == docstore.OpEq {
			return sq.Expr("coalesce(jsonb_typeof(doc #> ?::text[]), 'null') = 'null'", path), nil
		}
		return sq.Expr("coalesce(jsonb_typeof(doc #> ?::text[]), 'null') <> 'null'", path), nil
	case string:
		return typedCompare(path, "string", "", op, f.Op, v), nil
	case bool:
		return typedCompare(path, "boolean", "::boolean", op, f.Op, v), nil
	case int, int32, int64, float32, float64:
		return typedCompare(path, "number", "::numeric", op, f.Op, v), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", f.Value)
}

// typedCompare compares only values of the given JSON type; a value of another type
// satisfies ne and nothing else. CASE keeps the cast from running on mismatched types.
func typedCompare(path, jsonType, cast, op string, o docstore.Operator, v any) sq.Sqlizer {
	otherwise := "false"
	if o == docstore.OpNe {
		otherwise = "true"
	}
	return sq.Expr(
		"(CASE WHEN jsonb_typeof(doc #> ?::text[]) = '"+jsonType+"' THEN (doc #>> ?::text[])"+cast+" "+op+" ? ELSE "+otherwise+" END)",
		path, path, v,
	)
}

// selectPage builds the keyset-paginated select for a feed or query page.
// It fetches one row more than limit to detect whether another page exists.
func selectPage(link docstore.CollectionLink, filters []docstore.Filter, partitionKey, continuation string, limit int) (string, []any, error) {
	var after int64
	if continuation != "" {
		v, err := strconv.ParseInt(continuation, 10, 64)
		if err != nil || v < 0 {
			return "", nil, fmt.Errorf("invalid continuation %q", continuation)
		}
		after = v
	}
	q := psql.Select("doc", "seq").
		From(tableIdent(link)).
		Where(sq.Gt{"seq": after}).
		OrderBy("seq").
		Limit(uint64(limit) + 1)
	if partitionKey != "" {
		q = q.Where(sq.Eq{"partition_key": partitionKey})
	}
	for _, f := range filters {
		expr, err := filterSQL(f)
		if err != nil {
			return "", nil, err
		}
		q = q.Where(expr)
	}
	return q.ToSql()
}
