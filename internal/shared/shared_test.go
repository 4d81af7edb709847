package shared

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestPagination(t *testing.T) {
	require.Equal(t, Pagination{Page: 1, PerPage: DefaultPerPage, Total: 41, TotalPages: 3}, NewPagination(0, 0, 41))
	require.Equal(t, MaxPerPage, NewPagination(2, 500, 0).PerPage)
	require.Equal(t, 40, Offset(3, 20))
}

func TestErrorsUnwrapToSentinels(t *testing.T) {
	require.ErrorIs(t, NewValidationError("name", "required"), ErrValidation)
	require.ErrorIs(t, &ForbiddenError{Permission: "users.view"}, ErrForbidden)
	require.ErrorIs(t, &ConflictError{Guard: "web"}, ErrConflict)
	require.Equal(t, "validation failed: a: x; b: y z", (&ValidationError{Fields: FieldErrors{"b": {"y", "z"}, "a": {"x"}}}).Error())
}

func TestUnresolvedPermissionsError(t *testing.T) {
	require.NoError(t, UnresolvedPermissionsError("web", nil, nil))

	err := UnresolvedPermissionsError("api", nil, []string{"sites.view"})
	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, []string{"sites.view"}, cerr.Unresolved)

	err = UnresolvedPermissionsError("api", []string{"posts.write"}, []string{"sites.view"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, []string{
		"Unknown permissions: posts.write",
		"Not defined for guard api: sites.view",
	}, verr.Fields["permissions"])
}

func TestNormalizeEmailAndPasswords(t *testing.T) {
	require.Equal(t, "ada@example.com", NormalizeEmail("  Ada@Example.COM "))

	hash, err := HashPassword("password")
	require.NoError(t, err)
	require.True(t, CheckPassword(hash, "password"))
	require.False(t, CheckPassword(hash, "Password"))
	require.False(t, CheckPassword("", "password"))
}

type execRecorder struct {
	sql  string
	args []any
	err  error
}

func (e *execRecorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func TestActivityLoggerRecord(t *testing.T) {
	db := &execRecorder{}
	logger := NewActivityLogger(db)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	logger.now = func() time.Time { return at }

	ctx := ContextWithBatch(context.Background(), "6f1c2d4e-8a9b-4c3d-9e8f-1a2b3c4d5e6f")
	err := logger.Record(ctx, ActivityEntry{
		LogName:    "roles",
		Event:      "created",
		SubjectID:  3,
		CauserID:   1,
		Properties: map[string]any{"name": "editor"},
	})
	require.NoError(t, err)
	require.Equal(t, "created", db.args[2])
	require.Equal(t, "6f1c2d4e-8a9b-4c3d-9e8f-1a2b3c4d5e6f", db.args[7])
	require.Equal(t, at, db.args[8])
	var props map[string]any
	require.NoError(t, json.Unmarshal(db.args[6].([]byte), &props))
	require.Equal(t, "editor", props["name"])

	require.Error(t, logger.Record(ctx, ActivityEntry{LogName: "roles"}))

	db.err = errors.New("insert failed")
	require.ErrorIs(t, logger.Record(ctx, ActivityEntry{LogName: "roles", Event: "deleted"}), db.err)
}
