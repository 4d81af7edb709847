package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads activity_log.
type Repository struct {
	db dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Window returns up to limit entries matching filters, newest first.
func (r *Repository) Window(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error) {
	query := `SELECT a.id, a.log_name, a.event, a.description, COALESCE(a.subject_type, ''), COALESCE(a.subject_id, 0),
		COALESCE(a.causer_id, 0), COALESCE(u.name, ''), a.properties, COALESCE(a.batch_uuid::text, ''), a.created_at
		FROM activity_log a
		LEFT JOIN users u ON u.id = a.causer_id
		WHERE 1=1`
	var args []any
	argPos := 1
	add := func(clause string, value any) {
		query += fmt.Sprintf(clause, argPos)
		args = append(args, value)
		argPos++
	}
	if filters.LogName != "" {
		add(" AND a.log_name = $%d", filters.LogName)
	}
	if filters.Event != "" {
		add(" AND a.event = $%d", filters.Event)
	}
	if filters.Search != "" {
		add(" AND a.description ILIKE $%d", "%"+filters.Search+"%")
	}
	if filters.SubjectType != "" {
		add(" AND a.subject_type = $%d", filters.SubjectType)
	}
	if filters.SubjectID != 0 {
		add(" AND a.subject_id = $%d", filters.SubjectID)
	}
	if filters.CauserID != 0 {
		add(" AND a.causer_id = $%d", filters.CauserID)
	}
	if filters.BatchUUID != "" {
		add(" AND a.batch_uuid = $%d::uuid", filters.BatchUUID)
	}
	if !filters.CreatedFrom.IsZero() {
		add(" AND a.created_at::date >= $%d", pgtype.Date{Time: filters.CreatedFrom, Valid: true})
	}
	if !filters.CreatedTo.IsZero() {
		add(" AND a.created_at::date <= $%d", pgtype.Date{Time: filters.CreatedTo, Valid: true})
	}
	query += fmt.Sprintf(" ORDER BY a.created_at DESC, a.id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("activity: query: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e     Entry
			props []byte
		)
		if err := row.Scan(&e.ID, &e.LogName, &e.Event, &e.Description, &e.SubjectType, &e.SubjectID,
			&e.CauserID, &e.CauserName, &props, &e.BatchUUID, &e.CreatedAt); err != nil {
			return Entry{}, err
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &e.Properties); err != nil {
				return Entry{}, fmt.Errorf("activity: decode properties: %w", err)
			}
		}
		return e, nil
	})
}

// Prune deletes entries created before cutoff.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM activity_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("activity: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ RepositoryPort = (*Repository)(nil)
