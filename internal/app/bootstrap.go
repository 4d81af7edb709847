package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/openkz/admin-api/internal/auth"
	"github.com/openkz/admin-api/internal/observability"
	"github.com/openkz/admin-api/internal/rbac"
)

// Authorizer bundles the gate with the invalidator management services call
// after committing assignment changes.
type Authorizer struct {
	Gate        *rbac.Gate
	Invalidator rbac.Invalidator
}

// NewAuthorizer builds the resolver chain selected by PERMISSION_CACHE. The
// redis backend falls back to the in-process cache when client is nil.
func NewAuthorizer(cfg *Config, store rbac.RoleStore, client redis.UniversalClient, metrics *observability.Metrics, logger *slog.Logger) Authorizer {
	var resolver rbac.PermissionResolver = rbac.NewResolver(store, cfg.AuthDefaultGuard)
	var invalidator rbac.Invalidator = rbac.NopInvalidator{}

	var cache rbac.Cache
	switch cfg.PermissionCache {
	case PermissionCacheRedis:
		if client != nil {
			cache = rbac.NewRedisCache(client, cfg.PermissionCacheTTL)
			break
		}
		logger.Warn("redis unavailable, using in-process permission cache")
		cache = rbac.NewMemoryCache(cfg.PermissionCacheTTL)
	case PermissionCacheMemory:
		cache = rbac.NewMemoryCache(cfg.PermissionCacheTTL)
	}
	if cache != nil {
		cached := rbac.NewCachedResolver(resolver, cache, logger, metrics.PermissionCache)
		resolver, invalidator = cached, cached
	}

	gate := rbac.NewGate(resolver, func(required rbac.Permission, decision rbac.Decision) {
		metrics.AuthzDecision(string(required), decision.String())
	})
	return Authorizer{Gate: gate, Invalidator: invalidator}
}

// SocialProviders discovers the OpenID Connect issuers listed in
// AUTH_SOCIAL_PROVIDERS. Providers that fail discovery are skipped.
func SocialProviders(ctx context.Context, cfg *Config, logger *slog.Logger) map[string]auth.SocialProvider {
	providers := make(map[string]auth.SocialProvider, len(cfg.AuthSocialProviders))
	for _, name := range cfg.AuthSocialProviders {
		issuer := cfg.issuerFor(name)
		if issuer == "" {
			logger.Warn("social provider has no issuer", slog.String("provider", name))
			continue
		}
		provider, err := auth.NewOIDCProvider(ctx, issuer)
		if err != nil {
			logger.Warn("social provider discovery", slog.String("provider", name), slog.Any("error", err))
			continue
		}
		providers[name] = provider
	}
	return providers
}

func (c *Config) issuerFor(provider string) string {
	switch provider {
	case "google":
		return c.GoogleIssuer
	default:
		return ""
	}
}
