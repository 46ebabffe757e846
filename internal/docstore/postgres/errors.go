package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
)

// resourceRetryAfter is advertised when Postgres reports a resource or contention condition.
const resourceRetryAfter = 200 * time.Millisecond

// translate classifies a database error as a *docstore.Error. Context errors pass through.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var de *docstore.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.NewError(op, docstore.StatusNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return docstore.NewError(op, docstore.StatusInternal, err)
	}
	switch pgErr.Code {
	case "42P01", "3F000", "42883": // undefined_table, invalid_schema_name, undefined_function
		return docstore.NewError(op, docstore.StatusNotFound, err)
	case "42P06", "42P07", "42723", "23505": // duplicate_schema, duplicate_table, duplicate_function, unique_violation
		return docstore.NewError(op, docstore.StatusConflict, err)
	case "53300", "53400", "57P03", "40001", "40P01": // too_many_connections, configuration_limit_exceeded, cannot_connect_now, serialization_failure, deadlock_detected
		return &docstore.Error{Op: op, StatusCode: docstore.StatusTooManyRequests, RetryAfter: resourceRetryAfter, Err: err}
	case "28000", "28P01", "42501": // invalid_authorization_specification, invalid_password, insufficient_privilege
		return docstore.NewError(op, docstore.StatusUnauthorized, err)
	}
	if len(pgErr.Code) == 5 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "42") {
		return docstore.NewError(op, docstore.StatusBadRequest, err)
	}
	return docstore.NewError(op, docstore.StatusInternal, err)
}
