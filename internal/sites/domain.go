package sites

import (
	"context"
	"time"

	"github.com/openkz/admin-api/internal/shared"
)

// Site is a client application allowed to call the API with a shared key.
type Site struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	Status    bool      `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilters narrows site listings.
type ListFilters struct {
	Search  string
	Status  *bool
	Page    int
	PerPage int
}

// Page is one page of sites.
type Page struct {
	Data       []Site            `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// CreateInput describes a new site. Status defaults to active.
type CreateInput struct {
	Name   string `json:"name" validate:"required,max=255"`
	Status *bool  `json:"status"`
}

// UpdateInput describes a partial site update.
type UpdateInput struct {
	Name   *string `json:"name" validate:"omitempty,min=1,max=255"`
	Status *bool   `json:"status"`
}

type siteContextKey struct{}

// ContextWithSite stores the authenticated client site.
func ContextWithSite(ctx context.Context, s Site) context.Context {
	return context.WithValue(ctx, siteContextKey{}, s)
}

// SiteFromContext returns the client site bound by ClientMiddleware.
func SiteFromContext(ctx context.Context) (Site, bool) {
	s, ok := ctx.Value(siteContextKey{}).(Site)
	return s, ok
}
