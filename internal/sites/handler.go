package sites

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openkz/admin-api/internal/platform/httpx"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
)

// Handler manages site endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers site routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listSites)
	r.Post("/", h.createSite)
	r.Get("/{id}", h.getSite)
	r.Patch("/{id}", h.updateSite)
	r.Post("/{id}/rotate-key", h.rotateKey)
	r.Delete("/{id}", h.deleteSite)
}

// MountClientRoutes registers endpoints for authenticated client sites.
func (h *Handler) MountClientRoutes(r chi.Router) {
	r.Use(ClientMiddleware(h.service, h.logger))
	r.Get("/site", h.currentSite)
}

func (h *Handler) listSites(w http.ResponseWriter, r *http.Request) {
	filters := ListFilters{
		Search:  r.URL.Query().Get("search"),
		Page:    httpx.IntQuery(r, "page"),
		PerPage: httpx.IntQuery(r, "per_page"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filters.Status = &v
		}
	}
	page, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), filters)
	if err != nil {
		h.fail(w, "list sites", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) getSite(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	site, err := h.service.Get(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "get site", err)
		return
	}
	httpx.JSON(w, http.StatusOK, site)
}

func (h *Handler) createSite(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if !h.decode(w, r, &input) {
		return
	}
	site, err := h.service.Create(r.Context(), rbac.PrincipalFromContext(r.Context()), input)
	if err != nil {
		h.fail(w, "create site", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, site)
}

func (h *Handler) updateSite(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var input UpdateInput
	if !h.decode(w, r, &input) {
		return
	}
	site, err := h.service.Update(r.Context(), rbac.PrincipalFromContext(r.Context()), id, input)
	if err != nil {
		h.fail(w, "update site", err)
		return
	}
	httpx.JSON(w, http.StatusOK, site)
}

func (h *Handler) rotateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	site, err := h.service.RotateKey(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "rotate site key", err)
		return
	}
	httpx.JSON(w, http.StatusOK, site)
}

func (h *Handler) deleteSite(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	if err := h.service.Delete(r.Context(), rbac.PrincipalFromContext(r.Context()), id); err != nil {
		h.fail(w, "delete site", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type clientSite struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) currentSite(w http.ResponseWriter, r *http.Request) {
	site, _ := SiteFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, clientSite{ID: site.ID, Name: site.Name})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := httpx.ValidateStruct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
