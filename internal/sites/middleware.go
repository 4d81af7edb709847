package sites

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/openkz/admin-api/internal/platform/httpx"
	"github.com/openkz/admin-api/internal/shared"
)

// Client header names.
const (
	HeaderClientID  = "X-Client-Id"
	HeaderClientKey = "X-Client-Key"
)

// ClientMiddleware requires a valid X-Client-Id / X-Client-Key pair and binds
// the matching site to the request context.
func ClientMiddleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			site, err := service.ValidateClient(r.Context(), r.Header.Get(HeaderClientID), r.Header.Get(HeaderClientKey))
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(ContextWithSite(r.Context(), site)))
			case errors.Is(err, shared.ErrUnauthenticated):
				httpx.Problem(w, http.StatusUnauthorized, "Unauthenticated", "Missing client headers.")
			case errors.Is(err, shared.ErrForbidden):
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "Invalid client credentials.")
			default:
				if logger != nil {
					logger.Error("sites validate client", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
			}
		})
	}
}
