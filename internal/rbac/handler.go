package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openkz/admin-api/internal/platform/httpx"
)

// Handler exposes the compiled catalog and the caller's effective permissions.
type Handler struct {
	logger *slog.Logger
	gate   *Gate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, gate *Gate) *Handler {
	return &Handler{logger: logger, gate: gate}
}

type catalogResponse struct {
	Permissions []string            `json:"permissions"`
	Roles       map[string][]string `json:"roles"`
}

type effectiveResponse struct {
	UserID      int64    `json:"user_id"`
	Guard       string   `json:"guard"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/catalog", h.catalog)
	r.Get("/effective", h.effective)
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	resp := catalogResponse{
		Permissions: AllPermissions().Strings(),
		Roles:       make(map[string][]string, len(builtinRoles)),
	}
	for _, role := range builtinRoles {
		resp.Roles[role] = DefaultPermissionsFor(role).Strings()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	set, err := h.gate.Permissions(r.Context(), p)
	if err != nil {
		h.logger.Warn("rbac effective permissions", slog.Int64("user_id", p.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectiveResponse{
		UserID:      p.ID,
		Guard:       p.Guard,
		Roles:       p.RoleNames(),
		Permissions: set.Strings(),
	})
}
