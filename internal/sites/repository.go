package sites

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkz/admin-api/internal/shared"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const siteColumns = `id, name, key, status, created_at, updated_at`

func scanSite(row pgx.Row) (Site, error) {
	var s Site
	err := row.Scan(&s.ID, &s.Name, &s.Key, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Site{}, shared.ErrNotFound
	}
	return s, err
}

// List returns a filtered page of sites and the total match count.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Site, int, error) {
	where := " WHERE deleted_at IS NULL"
	var args []any
	argPos := 1
	if filters.Search != "" {
		where += fmt.Sprintf(" AND name ILIKE $%d", argPos)
		args = append(args, "%"+filters.Search+"%")
		argPos++
	}
	if filters.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *filters.Status)
		argPos++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM sites"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sites: count: %w", err)
	}
	query := "SELECT " + siteColumns + " FROM sites" + where +
		fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filters.PerPage, shared.Offset(filters.Page, filters.PerPage))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("sites: list: %w", err)
	}
	defer rows.Close()
	var out []Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// Get returns a site that has not been deleted.
func (r *Repository) Get(ctx context.Context, id int64) (Site, error) {
	return scanSite(r.db.QueryRow(ctx, "SELECT "+siteColumns+" FROM sites WHERE id = $1 AND deleted_at IS NULL", id))
}

// Create inserts a site.
func (r *Repository) Create(ctx context.Context, name, key string, status bool) (Site, error) {
	return scanSite(r.db.QueryRow(ctx, `INSERT INTO sites (name, key, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW()) RETURNING `+siteColumns, name, key, status))
}

// Update applies non-nil fields.
func (r *Repository) Update(ctx context.Context, id int64, name *string, status *bool) (Site, error) {
	return scanSite(r.db.QueryRow(ctx, `UPDATE sites SET
			name = COALESCE($2, name),
			status = COALESCE($3, status),
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+siteColumns, id, name, status))
}

// SetKey replaces the site key.
func (r *Repository) SetKey(ctx context.Context, id int64, key string) (Site, error) {
	return scanSite(r.db.QueryRow(ctx, `UPDATE sites SET key = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL RETURNING `+siteColumns, id, key))
}

// Delete soft deletes a site.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE sites SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("sites: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)
