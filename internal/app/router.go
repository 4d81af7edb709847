package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openkz/admin-api/internal/academicyears"
	"github.com/openkz/admin-api/internal/activity"
	"github.com/openkz/admin-api/internal/auth"
	"github.com/openkz/admin-api/internal/observability"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/roles"
	"github.com/openkz/admin-api/internal/sites"
	"github.com/openkz/admin-api/internal/users"
	"github.com/openkz/admin-api/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	AuthService          *auth.Service
	AuthHandler          *auth.Handler
	UsersHandler         *users.Handler
	RolesHandler         *roles.Handler
	RBACHandler          *rbac.Handler
	SitesHandler         *sites.Handler
	AcademicYearsHandler *academicyears.Handler
	ActivityHandler      *activity.Handler
	JobHandler           *jobs.Handler
	RBACMiddleware       rbac.Middleware
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.SitesHandler != nil {
			r.Route("/client", params.SitesHandler.MountClientRoutes)
		}

		r.Group(func(r chi.Router) {
			if params.AuthService != nil {
				r.Use(auth.Bearer(params.AuthService, params.Logger))
			}
			if params.AuthHandler != nil {
				r.Route("/auth", params.AuthHandler.MountRoutes)
			}

			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAuthenticated)
				if params.UsersHandler != nil {
					r.Route("/users", params.UsersHandler.MountRoutes)
				}
				if params.RolesHandler != nil {
					r.Route("/roles", params.RolesHandler.MountRoutes)
					r.Route("/permissions", params.RolesHandler.MountPermissionRoutes)
				}
				if params.RBACHandler != nil {
					r.Route("/rbac", params.RBACHandler.MountRoutes)
				}
				if params.SitesHandler != nil {
					r.Route("/sites", params.SitesHandler.MountRoutes)
				}
				if params.AcademicYearsHandler != nil {
					r.Route("/academic-years", params.AcademicYearsHandler.MountRoutes)
				}
				if params.ActivityHandler != nil {
					r.Route("/activity", params.ActivityHandler.MountRoutes)
				}
				if params.JobHandler != nil {
					r.Route("/jobs", func(r chi.Router) {
						r.Use(params.RBACMiddleware.RequireAll(rbac.PermRolesManage))
						params.JobHandler.MountRoutes(r)
					})
				}
			})
		})
	})

	return r
}
