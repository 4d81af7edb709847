package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ActivityEntry represents a record stored in activity_log.
type ActivityEntry struct {
	LogName     string
	Event       string
	Description string
	SubjectType string
	SubjectID   int64
	CauserID    int64
	Properties  map[string]any
	BatchUUID   string
	At          time.Time
}

// ActivityRecorder persists activity entries.
type ActivityRecorder interface {
	Record(ctx context.Context, entry ActivityEntry) error
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ActivityLogger writes records into activity_log.
type ActivityLogger struct {
	db  Execer
	now func() time.Time
}

// NewActivityLogger returns a new ActivityLogger.
func NewActivityLogger(db Execer) *ActivityLogger {
	return &ActivityLogger{db: db, now: time.Now}
}

// Record persists the entry. The batch identifier defaults to the one bound to ctx.
func (l *ActivityLogger) Record(ctx context.Context, entry ActivityEntry) error {
	if l == nil || l.db == nil {
		return errors.New("activity logger not initialised")
	}
	if entry.LogName == "" || entry.Event == "" {
		return errors.New("activity entry requires log name and event")
	}
	if entry.Description == "" {
		entry.Description = entry.Event
	}
	if entry.BatchUUID == "" {
		entry.BatchUUID = BatchFromContext(ctx)
	}
	if entry.At.IsZero() {
		entry.At = l.now().UTC()
	}
	props, err := json.Marshal(entry.Properties)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(ctx, `INSERT INTO activity_log (log_name, event, description, subject_type, subject_id, causer_id, properties, batch_uuid, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, 0), NULLIF($6, 0), $7, NULLIF($8, '')::uuid, $9)`,
		entry.LogName, entry.Event, entry.Description, entry.SubjectType, entry.SubjectID, entry.CauserID, props, entry.BatchUUID, entry.At)
	return err
}

var _ ActivityRecorder = (*ActivityLogger)(nil)
