package activity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
	_ "github.com/openkz/admin-api/testing"
)

type stubRepo struct {
	entries     []Entry
	lastFilters Filters
	lastOffset  int
	lastLimit   int
	cutoff      time.Time
}

func (s *stubRepo) Window(_ context.Context, f Filters, offset, limit int) ([]Entry, error) {
	s.lastFilters, s.lastOffset, s.lastLimit = f, offset, limit
	end := offset + limit
	if offset >= len(s.entries) {
		return nil, nil
	}
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return s.entries[offset:end], nil
}

func (s *stubRepo) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return 3, nil
}

type staticRoles map[string][]rbac.Permission

// RolePermissions reports built-in names as seeded rows.
func (s staticRoles) RolePermissions(_ context.Context, _ string, roles []string) (rbac.RoleGrants, error) {
	var out rbac.RoleGrants
	for _, r := range roles {
		out.Permissions = append(out.Permissions, s[r]...)
		if slices.Contains(rbac.BuiltinRoles(), r) {
			out.Builtin = append(out.Builtin, r)
		}
	}
	return out, nil
}

var auditor = rbac.Principal{ID: 7, Guard: "web", Roles: []rbac.GuardedName{{Name: "auditor", Guard: "web"}}}

func newTestService(n int) (*Service, *stubRepo) {
	repo := &stubRepo{}
	for i := 0; i < n; i++ {
		repo.entries = append(repo.entries, Entry{ID: int64(n - i), LogName: "roles", Event: "updated"})
	}
	gate := rbac.NewGate(rbac.NewResolver(staticRoles{"auditor": {rbac.PermActivityView}}, "web"), nil)
	return NewService(repo, gate), repo
}

func TestListPaging(t *testing.T) {
	svc, repo := newTestService(5)
	ctx := context.Background()

	res, err := svc.List(ctx, auditor, Filters{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	require.True(t, res.Paging.HasNext)
	require.Equal(t, 2, res.Paging.NextPage)
	require.Equal(t, 3, repo.lastLimit)

	res, err = svc.List(ctx, auditor, Filters{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	require.False(t, res.Paging.HasNext)
	require.Equal(t, 2, res.Paging.PrevPage)
	require.Equal(t, 4, repo.lastOffset)

	_, err = svc.List(ctx, auditor, Filters{PageSize: 1000})
	require.NoError(t, err)
	require.Equal(t, maxPageSize+1, repo.lastLimit)
}

func TestListValidatesAndAuthorizes(t *testing.T) {
	svc, repo := newTestService(1)
	ctx := context.Background()

	_, err := svc.List(ctx, rbac.Principal{}, Filters{})
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	// the built-in user role has no activity.view
	_, err = svc.List(ctx, rbac.Principal{ID: 2, Guard: "web", Roles: []rbac.GuardedName{{Name: rbac.RoleUser, Guard: "web"}}}, Filters{})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.List(ctx, auditor, Filters{BatchUUID: "not-a-uuid"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.List(ctx, auditor, Filters{BatchUUID: " 6BA7B810-9DAD-11D1-80B4-00C04FD430C8 ", LogName: " roles "})
	require.NoError(t, err)
	require.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", repo.lastFilters.BatchUUID)
	require.Equal(t, "roles", repo.lastFilters.LogName)

	from := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.List(ctx, auditor, Filters{CreatedFrom: from, CreatedTo: from.AddDate(0, 0, -1)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPrune(t *testing.T) {
	svc, repo := newTestService(0)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	n, err := svc.Prune(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Equal(t, now.AddDate(0, 0, -30), repo.cutoff)

	n, err = svc.Prune(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestHandlerFilters(t *testing.T) {
	svc, repo := newTestService(1)
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)

	call := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), auditor))
		res := httptest.NewRecorder()
		r.ServeHTTP(res, req)
		return res
	}

	res := call("/?log_name=users&causer_id=4&created_from=2025-01-01&subject_type=user")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, int64(4), repo.lastFilters.CauserID)
	require.Equal(t, "users", repo.lastFilters.LogName)
	require.Equal(t, 2025, repo.lastFilters.CreatedFrom.Year())
	require.Contains(t, res.Body.String(), `"has_next":false`)

	res = call("/?causer_id=abc&created_to=yesterday")
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	require.Contains(t, res.Body.String(), "causer_id")
	require.Contains(t, res.Body.String(), "created_to")
}
