package users

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
	_ "github.com/openkz/admin-api/testing"
)

type storedUser struct {
	user     User
	password string
	roles    map[string]struct{}
	perms    map[string]struct{}
	tokens   int64
	deleted  *time.Time
}

type memoryRepo struct {
	users   map[int64]*storedUser
	roles   map[string]int64
	perms   map[string][]string // name -> guards
	permIDs map[string]int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	repo := &memoryRepo{
		users:   map[int64]*storedUser{},
		roles:   map[string]int64{rbac.RoleSuperadmin: 1, rbac.RoleAdmin: 2, rbac.RoleUser: 3, "editor": 4},
		perms:   map[string][]string{},
		permIDs: map[string]int64{},
	}
	for i, p := range rbac.AllPermissions().Strings() {
		repo.perms[p] = []string{"web"}
		repo.permIDs[p] = int64(i + 1)
	}
	repo.perms["reports.export"] = []string{"api"}
	return repo
}

func (r *memoryRepo) add(id int64, name, email string, roles ...string) {
	u := &storedUser{
		user:  User{ID: id, Name: name, Email: email, Status: StatusActive},
		roles: map[string]struct{}{},
		perms: map[string]struct{}{},
	}
	for _, role := range roles {
		u.roles[role] = struct{}{}
	}
	u.tokens = 2
	r.users[id] = u
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *memoryRepo) view(u *storedUser) User {
	out := u.user
	out.Roles = keys(u.roles)
	out.Permissions = keys(u.perms)
	return out
}

func (r *memoryRepo) principal(id int64) rbac.Principal {
	p := rbac.Principal{ID: id, Guard: "web"}
	for role := range r.users[id].roles {
		p.Roles = append(p.Roles, rbac.GuardedName{Name: role, Guard: "web"})
	}
	for perm := range r.users[id].perms {
		p.DirectPermissions = append(p.DirectPermissions, rbac.GuardedName{Name: perm, Guard: "web"})
	}
	return p
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) ListUsers(_ context.Context, f ListFilters) ([]User, int, error) {
	var all []User
	for _, u := range r.users {
		if u.deleted != nil {
			continue
		}
		if f.Search != "" && !strings.Contains(u.user.Name, f.Search) && !strings.Contains(u.user.Email, f.Search) {
			continue
		}
		all = append(all, r.view(u))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	start := shared.Offset(f.Page, f.PerPage)
	if start > len(all) {
		start = len(all)
	}
	end := start + f.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (r *memoryRepo) GetUser(_ context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok || u.deleted != nil {
		return User{}, shared.ErrNotFound
	}
	return r.view(u), nil
}

func (t *memoryTx) LockUser(ctx context.Context, id int64) (User, error) {
	return t.repo.GetUser(ctx, id)
}

func (t *memoryTx) EmailTaken(_ context.Context, email string, excludeID int64) (bool, error) {
	for id, u := range t.repo.users {
		if id != excludeID && u.user.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) UpdateProfile(_ context.Context, id int64, c ProfileChanges) error {
	u := t.repo.users[id]
	if c.Name != nil {
		u.user.Name = *c.Name
	}
	if c.Email != nil {
		u.user.Email = *c.Email
	}
	if c.PasswordHash != nil {
		u.password = *c.PasswordHash
	}
	if c.Status != nil {
		u.user.Status = *c.Status
	}
	return nil
}

func (t *memoryTx) RoleIDs(_ context.Context, _ string, names []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, n := range names {
		if id, ok := t.repo.roles[n]; ok {
			out[n] = id
		}
	}
	return out, nil
}

func (t *memoryTx) SyncRoles(_ context.Context, userID int64, _ string, roleIDs []int64) error {
	u := t.repo.users[userID]
	u.roles = map[string]struct{}{}
	for name, id := range t.repo.roles {
		for _, want := range roleIDs {
			if id == want {
				u.roles[name] = struct{}{}
			}
		}
	}
	return nil
}

func (t *memoryTx) PermissionIDs(_ context.Context, guard string, names []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, n := range names {
		for _, g := range t.repo.perms[n] {
			if g == guard {
				out[n] = t.repo.permIDs[n]
			}
		}
	}
	return out, nil
}

func (t *memoryTx) PermissionGuards(_ context.Context, names []string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, n := range names {
		if g, ok := t.repo.perms[n]; ok {
			out[n] = g
		}
	}
	return out, nil
}

func (t *memoryTx) SyncPermissions(_ context.Context, userID int64, _ string, ids []int64) error {
	u := t.repo.users[userID]
	u.perms = map[string]struct{}{}
	for name, id := range t.repo.permIDs {
		for _, want := range ids {
			if id == want {
				u.perms[name] = struct{}{}
			}
		}
	}
	return nil
}

func (t *memoryTx) RevokeTokens(_ context.Context, userID int64) (int64, error) {
	n := t.repo.users[userID].tokens
	t.repo.users[userID].tokens = 0
	return n, nil
}

func (t *memoryTx) SoftDelete(_ context.Context, id int64, at time.Time) error {
	t.repo.users[id].deleted = &at
	return nil
}

type nopStore struct{}

// RolePermissions stores no permission rows; built-in names resolve through
// their compiled defaults as seeded rows would.
func (nopStore) RolePermissions(_ context.Context, _ string, roles []string) (rbac.RoleGrants, error) {
	var out rbac.RoleGrants
	for _, r := range roles {
		if slices.Contains(rbac.BuiltinRoles(), r) {
			out.Builtin = append(out.Builtin, r)
		}
	}
	return out, nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func newService(t *testing.T) (*Service, *memoryRepo, *countingInvalidator, *rbac.Gate) {
	t.Helper()
	repo := newMemoryRepo()
	repo.add(1, "Admin", "admin@example.com", rbac.RoleAdmin)
	repo.add(2, "Alice", "alice@example.com", rbac.RoleUser)
	repo.add(3, "Bob", "bob@example.com", rbac.RoleUser)
	gate := rbac.NewGate(rbac.NewResolver(nopStore{}, "web"), nil)
	inv := &countingInvalidator{}
	return NewService(repo, gate, inv, nil, nil, "web"), repo, inv, gate
}

func ptr[T any](v T) *T { return &v }

func TestSelfUpdateAllowsProfileFields(t *testing.T) {
	svc, repo, inv, _ := newService(t)
	ctx := context.Background()
	alice := repo.principal(2)

	user, err := svc.Update(ctx, alice, 2, UpdateInput{
		Name:                 ptr("Alice Cooper"),
		Email:                ptr("  ALICE.Cooper@Example.com "),
		Password:             ptr("s3cret-pass"),
		PasswordConfirmation: ptr("s3cret-pass"),
	})
	require.NoError(t, err)
	require.Equal(t, "Alice Cooper", user.Name)
	require.Equal(t, "alice.cooper@example.com", user.Email)
	require.True(t, shared.CheckPassword(repo.users[2].password, "s3cret-pass"))
	require.Zero(t, inv.calls)
}

func TestSelfUpdateDeniesPrivilegedFields(t *testing.T) {
	svc, repo, _, _ := newService(t)
	ctx := context.Background()
	alice := repo.principal(2)

	_, err := svc.Update(ctx, alice, 2, UpdateInput{Roles: ptr([]string{rbac.RoleAdmin})})
	var fe *shared.ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "roles", fe.Field)
	require.Equal(t, "You cannot change roles.", fe.Reason)

	_, err = svc.Update(ctx, alice, 2, UpdateInput{Name: ptr("x"), Status: ptr(StatusInactive)})
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "status", fe.Field)
	require.Equal(t, "You cannot change status.", fe.Reason)

	require.Equal(t, "Alice", repo.users[2].user.Name)
	require.Equal(t, []string{rbac.RoleUser}, keys(repo.users[2].roles))
}

func TestUpdateOtherUserRequiresManage(t *testing.T) {
	svc, repo, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, repo.principal(2), 3, UpdateInput{Name: ptr("Robert")})
	var fe *shared.ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "You are not allowed to modify this user.", fe.Reason)

	// Forbidden is reported before the target's existence is checked.
	_, err = svc.Update(ctx, repo.principal(2), 999, UpdateInput{Name: ptr("Ghost")})
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Update(ctx, repo.principal(1), 999, UpdateInput{Name: ptr("Ghost")})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestManagerUpdatesRolesAndInvalidates(t *testing.T) {
	svc, repo, inv, gate := newService(t)
	ctx := context.Background()

	require.ErrorIs(t, gate.Authorize(ctx, repo.principal(3), rbac.PermUsersView), shared.ErrForbidden)

	user, err := svc.Update(ctx, repo.principal(1), 3, UpdateInput{Roles: ptr([]string{rbac.RoleAdmin, rbac.RoleUser}), Status: ptr(StatusInactive)})
	require.NoError(t, err)
	require.Equal(t, []string{rbac.RoleAdmin, rbac.RoleUser}, user.Roles)
	require.Equal(t, StatusInactive, user.Status)
	require.Equal(t, 1, inv.calls)
	require.NoError(t, gate.Authorize(ctx, repo.principal(3), rbac.PermUsersView))

	// Revoking admin removes exactly admin's permissions; user's remain.
	_, err = svc.Update(ctx, repo.principal(1), 3, UpdateInput{Roles: ptr([]string{rbac.RoleUser})})
	require.NoError(t, err)
	set, err := gate.Permissions(ctx, repo.principal(3))
	require.NoError(t, err)
	require.Equal(t, rbac.DefaultPermissionsFor(rbac.RoleUser).Strings(), set.Strings())

	_, err = svc.Update(ctx, repo.principal(1), 3, UpdateInput{Roles: ptr([]string{"ghost"})})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, []string{"Unknown roles: ghost"}, verr.Fields["roles"])
}

func TestUpdateValidation(t *testing.T) {
	svc, repo, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, repo.principal(2), 2, UpdateInput{
		Email:                ptr("BOB@example.com"),
		Password:             ptr("short"),
		PasswordConfirmation: ptr("short"),
	})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, []string{"The email has already been taken."}, verr.Fields["email"])
	require.Contains(t, verr.Fields, "password")

	_, err = svc.Update(ctx, repo.principal(2), 2, UpdateInput{Password: ptr("long-enough"), PasswordConfirmation: ptr("different")})
	require.True(t, errors.As(err, &verr))
	require.Equal(t, []string{"The password confirmation does not match."}, verr.Fields["password"])
}

func TestSyncPermissions(t *testing.T) {
	svc, repo, inv, gate := newService(t)
	ctx := context.Background()

	_, err := svc.SyncPermissions(ctx, repo.principal(2), 2, []string{"users.view"})
	var fe *shared.ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "permissions", fe.Field)

	names := []string{"activity.view", "users.view"}
	user, err := svc.SyncPermissions(ctx, repo.principal(1), 2, names)
	require.NoError(t, err)
	require.Equal(t, names, user.Permissions)
	require.Equal(t, 1, inv.calls)
	require.NoError(t, gate.Authorize(ctx, repo.principal(2), rbac.PermActivityView))

	_, err = svc.SyncPermissions(ctx, repo.principal(1), 2, []string{"reports.export"})
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.SyncPermissions(ctx, repo.principal(1), 2, []string{"nope.none"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteRevokesTokensAndSoftDeletes(t *testing.T) {
	svc, repo, inv, _ := newService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Delete(ctx, repo.principal(2), 3), shared.ErrForbidden)
	require.ErrorIs(t, svc.Delete(ctx, repo.principal(1), 1), shared.ErrValidation)

	require.NoError(t, svc.Delete(ctx, repo.principal(1), 3))
	require.Zero(t, repo.users[3].tokens)
	require.NotNil(t, repo.users[3].deleted)
	require.Equal(t, 1, inv.calls)

	_, err := svc.Get(ctx, repo.principal(1), 3)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, repo.principal(1), 3), shared.ErrNotFound)
}

func TestListAndGet(t *testing.T) {
	svc, repo, _, _ := newService(t)
	ctx := context.Background()

	page, err := svc.List(ctx, repo.principal(1), ListFilters{Search: "example.com", PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	require.Equal(t, 3, page.Pagination.Total)
	require.Equal(t, 2, page.Pagination.TotalPages)

	_, err = svc.List(ctx, repo.principal(2), ListFilters{})
	require.ErrorIs(t, err, shared.ErrForbidden)

	self, err := svc.Get(ctx, repo.principal(2), 2)
	require.NoError(t, err)
	require.Equal(t, "Alice", self.Name)
	_, err = svc.Get(ctx, repo.principal(2), 3)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Get(ctx, rbac.Principal{}, 2)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}
