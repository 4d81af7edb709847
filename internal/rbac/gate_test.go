package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openkz/admin-api/internal/shared"
)

func TestCheckIsPureMembership(t *testing.T) {
	set := NewPermissionSet(PermUsersManage, PermSitesManage)
	require.Equal(t, Allow, Check(set, PermUsersManage))
	// no implied view from manage
	require.Equal(t, Deny, Check(set, PermUsersView))
	require.Equal(t, Deny, Check(set, "users.*"))
	require.Equal(t, Deny, Check(NewPermissionSet(), PermUsersView))
	require.Equal(t, Deny, Check(PermissionSet{}, PermUsersView))
}

func TestAuthorizeUnauthenticatedBeforePermission(t *testing.T) {
	store := newMemoryRoleStore()
	gate := NewGate(NewResolver(store, "web"), nil)

	err := gate.Authorize(context.Background(), Principal{}, PermUsersView)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	require.Zero(t, store.calls)
}

func TestAuthorizeForbiddenNamesPermission(t *testing.T) {
	var decisions []Decision
	gate := NewGate(NewResolver(newMemoryRoleStore(), "web"), func(_ Permission, d Decision) {
		decisions = append(decisions, d)
	})

	err := gate.Authorize(context.Background(), principal(1, "web", RoleUser), PermUsersView)
	require.ErrorIs(t, err, shared.ErrForbidden)
	var fe *shared.ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "users.view", fe.Permission)

	require.NoError(t, gate.Authorize(context.Background(), principal(1, "web", RoleUser), PermSitesView))
	require.Equal(t, []Decision{Deny, Allow}, decisions)
}

func TestAuthorizeAnyAndAll(t *testing.T) {
	store := newMemoryRoleStore()
	store.put("web", "editor", PermSitesView)
	gate := NewGate(NewResolver(store, "web"), nil)
	p := principal(1, "web", "editor")

	require.NoError(t, gate.AuthorizeAny(context.Background(), p, PermUsersView, PermSitesView))
	require.ErrorIs(t, gate.AuthorizeAny(context.Background(), p, PermUsersView), shared.ErrForbidden)
	err := gate.AuthorizeAll(context.Background(), p, PermSitesView, PermSitesManage)
	var fe *shared.ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "sites.manage", fe.Permission)
}

func TestAuthorizeUserUpdate(t *testing.T) {
	gate := NewGate(NewResolver(newMemoryRoleStore(), "web"), nil)
	ctx := context.Background()
	self := principal(10, "web", RoleUser)

	require.NoError(t, gate.AuthorizeUserUpdate(ctx, self, 10, []UserField{UserFieldName, UserFieldEmail, UserFieldPassword}))

	cases := []struct {
		field  UserField
		reason string
	}{
		{UserFieldRoles, "You cannot change roles."},
		{UserFieldStatus, "You cannot change status."},
		{UserFieldPermissions, "You cannot change permissions."},
	}
	for _, tc := range cases {
		err := gate.AuthorizeUserUpdate(ctx, self, 10, []UserField{UserFieldName, tc.field})
		var fe *shared.ForbiddenError
		require.True(t, errors.As(err, &fe), tc.field)
		require.Equal(t, string(tc.field), fe.Field)
		require.Equal(t, tc.reason, fe.Reason)
		require.Equal(t, "users.manage", fe.Permission)
	}

	err := gate.AuthorizeUserUpdate(ctx, self, 11, []UserField{UserFieldName})
	var fe *shared.ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Empty(t, fe.Field)
	require.Equal(t, "You are not allowed to modify this user.", fe.Reason)

	admin := principal(1, "web", RoleAdmin)
	require.NoError(t, gate.AuthorizeUserUpdate(ctx, admin, 11, []UserField{UserFieldRoles, UserFieldStatus}))

	require.ErrorIs(t, gate.AuthorizeUserUpdate(ctx, Principal{}, 10, nil), shared.ErrUnauthenticated)
}
