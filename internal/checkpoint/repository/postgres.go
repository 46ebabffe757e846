package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
)

const table = "reconciliation_checkpoints"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type row struct {
	TenantID        string    `db:"tenant_id"`
	Resource        string    `db:"resource"`
	Mode            string    `db:"mode"`
	LastSucceededAt time.Time `db:"last_succeeded_at"`
	LastRunID       string    `db:"last_run_id"`
	RecordsApplied  int       `db:"records_applied"`
	UpdatedAt       time.Time `db:"updated_at"`
}

var columns = []string{"tenant_id", "resource", "mode", "last_succeeded_at", "last_run_id", "records_applied", "updated_at"}

func (r row) toDomain() *domain.Checkpoint {
	return &domain.Checkpoint{
		TenantID:        r.TenantID,
		Resource:        domain.Resource(r.Resource),
		Mode:            domain.Mode(r.Mode),
		LastSucceededAt: r.LastSucceededAt,
		LastRunID:       r.LastRunID,
		RecordsApplied:  r.RecordsApplied,
		UpdatedAt:       r.UpdatedAt,
	}
}

type PostgresRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresRepository returns a checkpoint repository on db, which must use the pgx driver.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlx.NewDb(db, "pgx"), now: time.Now}
}

// Get returns the checkpoint, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, tenantID string, resource domain.Resource) (*domain.Checkpoint, error) {
	query, args, err := psql.Select(columns...).From(table).
		Where(sq.Eq{"tenant_id": tenantID, "resource": string(resource)}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var rw row
	if err := r.db.GetContext(ctx, &rw, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rw.toDomain(), nil
}

// Save upserts c keyed by tenant and resource. UpdatedAt is set to the current time.
func (r *PostgresRepository) Save(ctx context.Context, c *domain.Checkpoint) error {
	c.UpdatedAt = r.now().UTC()
	query, args, err := psql.Insert(table).Columns(columns...).
		Values(c.TenantID, string(c.Resource), string(c.Mode), c.LastSucceededAt.UTC(), c.LastRunID, c.RecordsApplied, c.UpdatedAt).
		Suffix(`ON CONFLICT (tenant_id, resource) DO UPDATE SET
	mode = EXCLUDED.mode,
	last_succeeded_at = EXCLUDED.last_succeeded_at,
	last_run_id = EXCLUDED.last_run_id,
	records_applied = EXCLUDED.records_applied,
	updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// ListByTenant returns the tenant's checkpoints. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Checkpoint, error) {
	query, args, err := psql.Select(columns...).From(table).
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("resource").
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*domain.Checkpoint, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
