package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, path string, p Principal) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if !p.IsZero() {
		req = req.WithContext(ContextWithPrincipal(req.Context(), p))
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func TestMiddlewareRequireAny(t *testing.T) {
	store := newMemoryRoleStore()
	store.put("web", "editor", PermSitesView)
	m := Middleware{Gate: NewGate(NewResolver(store, "web"), nil)}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	h := m.RequireAny(" Sites.View ", "users.view")(ok)
	require.Equal(t, http.StatusNoContent, serve(t, h, "/", principal(1, "web", "editor")).Code)
	require.Equal(t, http.StatusUnauthorized, serve(t, h, "/", Principal{}).Code)

	denied := m.RequireAll("sites.view", "sites.manage")(ok)
	res := serve(t, denied, "/", principal(1, "web", "editor"))
	require.Equal(t, http.StatusForbidden, res.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, "sites.manage", body["permission"])
}

func TestHandlerEffective(t *testing.T) {
	store := newMemoryRoleStore()
	store.put("web", "editor", PermActivityView)
	r := chi.NewRouter()
	NewHandler(nil, NewGate(NewResolver(store, "web"), nil)).MountRoutes(r)

	res := serve(t, r, "/effective", principal(9, "web", "editor", RoleUser))
	require.Equal(t, http.StatusOK, res.Code)
	var body effectiveResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, int64(9), body.UserID)
	require.Equal(t, []string{"academic_years.view", "activity.view", "sites.view"}, body.Permissions)
}
