package academicyears

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkz/admin-api/internal/platform/db"
	"github.com/openkz/admin-api/internal/shared"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

type txRepo struct {
	db dbtx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

const yearColumns = `id, name, start_date, end_date, is_active, description, created_at, updated_at`

func scanYear(row pgx.Row) (AcademicYear, error) {
	var (
		y          AcademicYear
		start, end pgtype.Date
	)
	err := row.Scan(&y.ID, &y.Name, &start, &end, &y.IsActive, &y.Description, &y.CreatedAt, &y.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AcademicYear{}, shared.ErrNotFound
	}
	if err != nil {
		return AcademicYear{}, err
	}
	y.StartDate = NewDate(start.Time)
	y.EndDate = NewDate(end.Time)
	y.DurationDays = durationDays(y.StartDate, y.EndDate)
	return y, nil
}

func pgDate(d Date) pgtype.Date {
	return pgtype.Date{Time: d.Time, Valid: !d.IsZero()}
}

// List returns a filtered page ordered by start date, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]AcademicYear, int, error) {
	where := " WHERE deleted_at IS NULL"
	var args []any
	argPos := 1
	if filters.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d)", argPos, argPos)
		args = append(args, "%"+filters.Search+"%")
		argPos++
	}
	if filters.Active != nil {
		where += fmt.Sprintf(" AND is_active = $%d", argPos)
		args = append(args, *filters.Active)
		argPos++
	}
	switch filters.Period {
	case PeriodUpcoming:
		where += fmt.Sprintf(" AND start_date > $%d", argPos)
		args = append(args, pgDate(filters.On))
		argPos++
	case PeriodPast:
		where += fmt.Sprintf(" AND end_date < $%d", argPos)
		args = append(args, pgDate(filters.On))
		argPos++
	case PeriodCurrent:
		where += fmt.Sprintf(" AND start_date <= $%d AND end_date >= $%d", argPos, argPos)
		args = append(args, pgDate(filters.On))
		argPos++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM academic_years"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("academicyears: count: %w", err)
	}
	query := "SELECT " + yearColumns + " FROM academic_years" + where +
		fmt.Sprintf(" ORDER BY start_date DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filters.PerPage, shared.Offset(filters.Page, filters.PerPage))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("academicyears: list: %w", err)
	}
	defer rows.Close()
	var out []AcademicYear
	for rows.Next() {
		y, err := scanYear(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, y)
	}
	return out, total, rows.Err()
}

// Get returns an academic year that has not been deleted.
func (r *Repository) Get(ctx context.Context, id int64) (AcademicYear, error) {
	return scanYear(r.db.QueryRow(ctx, "SELECT "+yearColumns+" FROM academic_years WHERE id = $1 AND deleted_at IS NULL", id))
}

// Active returns the active academic year.
func (r *Repository) Active(ctx context.Context) (AcademicYear, error) {
	return scanYear(r.db.QueryRow(ctx, "SELECT "+yearColumns+" FROM academic_years WHERE is_active AND deleted_at IS NULL ORDER BY id LIMIT 1"))
}

func (t *txRepo) Lock(ctx context.Context, id int64) (AcademicYear, error) {
	return scanYear(t.db.QueryRow(ctx, "SELECT "+yearColumns+" FROM academic_years WHERE id = $1 AND deleted_at IS NULL FOR UPDATE", id))
}

func (t *txRepo) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	var exists bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM academic_years WHERE name = $1 AND id <> $2)`, name, excludeID).Scan(&exists)
	return exists, err
}

func (t *txRepo) Insert(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO academic_years (name, start_date, end_date, is_active, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING id`,
		rec.Name, pgDate(rec.StartDate), pgDate(rec.EndDate), rec.IsActive, rec.Description).Scan(&id)
	return id, err
}

func (t *txRepo) Update(ctx context.Context, id int64, rec Record) error {
	_, err := t.db.Exec(ctx, `UPDATE academic_years SET name = $2, start_date = $3, end_date = $4, description = $5, updated_at = NOW()
		WHERE id = $1`, id, rec.Name, pgDate(rec.StartDate), pgDate(rec.EndDate), rec.Description)
	return err
}

func (t *txRepo) DeactivateOthers(ctx context.Context, id int64) error {
	_, err := t.db.Exec(ctx, `UPDATE academic_years SET is_active = FALSE, updated_at = NOW() WHERE id <> $1 AND is_active`, id)
	return err
}

func (t *txRepo) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := t.db.Exec(ctx, `UPDATE academic_years SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	return err
}

func (t *txRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tag, err := t.db.Exec(ctx, `UPDATE academic_years SET deleted_at = $2, is_active = FALSE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RecordActivity writes entry on the transaction so it commits or rolls back
// with the change it describes.
func (t *txRepo) RecordActivity(ctx context.Context, entry shared.ActivityEntry) error {
	return shared.NewActivityLogger(t.db).Record(ctx, entry)
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepo)(nil)
)
