package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/openkz/admin-api/internal/platform/httpx"
	"github.com/openkz/admin-api/internal/rbac"
)

// Bearer resolves "Authorization: Bearer <token>" into a principal on the
// request context. Requests without the header pass through anonymous; a
// present but invalid token is rejected with 401.
func Bearer(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, token, _ := strings.Cut(header, " ")
			if !strings.EqualFold(scheme, "Bearer") {
				next.ServeHTTP(w, r)
				return
			}
			p, err := service.Authenticate(r.Context(), strings.TrimSpace(token))
			if err != nil {
				if httpx.IsInternal(err) && logger != nil {
					logger.Error("auth bearer", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(rbac.ContextWithPrincipal(r.Context(), p)))
		})
	}
}
