package sites

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
	_ "github.com/openkz/admin-api/testing"
)

type memoryRepo struct {
	sites   map[int64]Site
	deleted map[int64]bool
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sites: map[int64]Site{}, deleted: map[int64]bool{}}
}

func (m *memoryRepo) List(_ context.Context, f ListFilters) ([]Site, int, error) {
	var out []Site
	for id := int64(1); id <= m.nextID; id++ {
		s, ok := m.sites[id]
		if !ok || m.deleted[id] {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(f.Search)) {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Site, error) {
	s, ok := m.sites[id]
	if !ok || m.deleted[id] {
		return Site{}, shared.ErrNotFound
	}
	return s, nil
}

func (m *memoryRepo) Create(_ context.Context, name, key string, status bool) (Site, error) {
	m.nextID++
	s := Site{ID: m.nextID, Name: name, Key: key, Status: status, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.sites[s.ID] = s
	return s, nil
}

func (m *memoryRepo) Update(ctx context.Context, id int64, name *string, status *bool) (Site, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return Site{}, err
	}
	if name != nil {
		s.Name = *name
	}
	if status != nil {
		s.Status = *status
	}
	m.sites[id] = s
	return s, nil
}

func (m *memoryRepo) SetKey(ctx context.Context, id int64, key string) (Site, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return Site{}, err
	}
	s.Key = key
	m.sites[id] = s
	return s, nil
}

func (m *memoryRepo) Delete(ctx context.Context, id int64) error {
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	m.deleted[id] = true
	return nil
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

func actor(id int64, roles ...string) rbac.Principal {
	p := rbac.Principal{ID: id, Guard: "web"}
	for _, r := range roles {
		p.Roles = append(p.Roles, rbac.GuardedName{Name: r, Guard: "web"})
	}
	return p
}

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	gate := rbac.NewGate(rbac.NewResolver(staticRoles{
		"viewer":  {rbac.PermSitesView},
		"manager": {rbac.PermSitesView, rbac.PermSitesManage},
	}, "web"), nil)
	return NewService(repo, gate, nil, nil), repo
}

func TestSiteLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	manager := actor(1, "manager")

	site, err := svc.Create(ctx, manager, CreateInput{Name: "  Portal "})
	require.NoError(t, err)
	require.Equal(t, "Portal", site.Name)
	require.True(t, site.Status)
	require.Len(t, site.Key, 64)

	inactive := false
	site, err = svc.Update(ctx, manager, site.ID, UpdateInput{Status: &inactive})
	require.NoError(t, err)
	require.False(t, site.Status)

	rotated, err := svc.RotateKey(ctx, manager, site.ID)
	require.NoError(t, err)
	require.NotEqual(t, site.Key, rotated.Key)

	page, err := svc.List(ctx, actor(2, "viewer"), ListFilters{Search: "port"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, 1, page.Pagination.Total)

	require.NoError(t, svc.Delete(ctx, manager, site.ID))
	_, err = svc.Get(ctx, manager, site.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSitePermissions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, actor(2, "viewer"), CreateInput{Name: "Portal"})
	var forbidden *shared.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	require.Equal(t, string(rbac.PermSitesManage), forbidden.Permission)

	_, err = svc.List(ctx, rbac.Principal{}, ListFilters{})
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	// built-in user role carries sites.view through the compiled defaults
	_, err = svc.List(ctx, actor(3, rbac.RoleUser), ListFilters{})
	require.NoError(t, err)
}

func TestValidateClient(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	manager := actor(1, "manager")
	site, err := svc.Create(ctx, manager, CreateInput{Name: "Portal"})
	require.NoError(t, err)
	id := strconv.FormatInt(site.ID, 10)

	got, err := svc.ValidateClient(ctx, id, site.Key)
	require.NoError(t, err)
	require.Equal(t, site.ID, got.ID)

	_, err = svc.ValidateClient(ctx, "", site.Key)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	_, err = svc.ValidateClient(ctx, id, "wrong")
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.ValidateClient(ctx, "999", site.Key)
	require.ErrorIs(t, err, shared.ErrForbidden)

	inactive := false
	_, err = svc.Update(ctx, manager, site.ID, UpdateInput{Status: &inactive})
	require.NoError(t, err)
	_, err = svc.ValidateClient(ctx, id, site.Key)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestClientRoutes(t *testing.T) {
	svc, _ := newTestService()
	site, err := svc.Create(context.Background(), actor(1, "manager"), CreateInput{Name: "Portal"})
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(nil, svc).MountClientRoutes(r)

	call := func(id, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/site", nil)
		if id != "" {
			req.Header.Set(HeaderClientID, id)
		}
		if key != "" {
			req.Header.Set(HeaderClientKey, key)
		}
		res := httptest.NewRecorder()
		r.ServeHTTP(res, req)
		return res
	}

	id := strconv.FormatInt(site.ID, 10)
	require.Equal(t, http.StatusUnauthorized, call(id, "").Code)
	res := call(id, "nope")
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Contains(t, res.Body.String(), "Invalid client credentials.")

	res = call(id, site.Key)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"name":"Portal"`)
	require.NotContains(t, res.Body.String(), site.Key)
}
