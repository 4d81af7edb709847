package academicyears

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openkz/admin-api/internal/platform/httpx"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
)

// Handler manages academic year endpoints.
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

// MountRoutes registers academic year routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/active", h.active)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Post("/{id}/activate", h.activate)
	r.Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{
		Search:  q.Get("search"),
		Period:  q.Get("period"),
		Page:    httpx.IntQuery(r, "page"),
		PerPage: httpx.IntQuery(r, "per_page"),
	}
	if raw := q.Get("active"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filters.Active = &v
		}
	}
	page, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), filters)
	if err != nil {
		h.fail(w, "list academic years", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) active(w http.ResponseWriter, r *http.Request) {
	year, err := h.service.Active(r.Context(), rbac.PrincipalFromContext(r.Context()))
	if err != nil {
		h.fail(w, "active academic year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, year)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	year, err := h.service.Get(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "get academic year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, year)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if !h.decode(w, r, &input) {
		return
	}
	year, err := h.service.Create(r.Context(), rbac.PrincipalFromContext(r.Context()), input)
	if err != nil {
		h.fail(w, "create academic year", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, year)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var input UpdateInput
	if !h.decode(w, r, &input) {
		return
	}
	year, err := h.service.Update(r.Context(), rbac.PrincipalFromContext(r.Context()), id, input)
	if err != nil {
		h.fail(w, "update academic year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, year)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	year, err := h.service.Activate(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "activate academic year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, year)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	if err := h.service.Delete(r.Context(), rbac.PrincipalFromContext(r.Context()), id); err != nil {
		h.fail(w, "delete academic year", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
