package activity

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openkz/admin-api/internal/platform/httpx"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler serves the activity log.
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

// MountRoutes registers activity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), filters)
	if err != nil {
		if httpx.IsInternal(err) {
			h.logger.Error("list activity failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	filters := Filters{
		LogName:     q.Get("log_name"),
		Event:       q.Get("event"),
		Search:      q.Get("search"),
		SubjectType: q.Get("subject_type"),
		BatchUUID:   q.Get("batch_uuid"),
		Page:        httpx.IntQuery(r, "page"),
		PageSize:    httpx.IntQuery(r, "page_size"),
	}
	fields := shared.FieldErrors{}
	parseID := func(key string) int64 {
		raw := q.Get(key)
		if raw == "" {
			return 0
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			fields.Add(key, "The "+key+" must be a positive integer.")
			return 0
		}
		return v
	}
	parseDate := func(key string) time.Time {
		raw := q.Get(key)
		if raw == "" {
			return time.Time{}
		}
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			fields.Add(key, "The "+key+" must be a valid date.")
		}
		return t
	}
	filters.SubjectID = parseID("subject_id")
	filters.CauserID = parseID("causer_id")
	filters.CreatedFrom = parseDate("created_from")
	filters.CreatedTo = parseDate("created_to")
	if len(fields) > 0 {
		return Filters{}, &shared.ValidationError{Fields: fields}
	}
	return filters, nil
}
