package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// SocialProvider exchanges a provider access token for the owner's profile.
type SocialProvider interface {
	Profile(ctx context.Context, accessToken string) (SocialProfile, error)
}

// OIDCProvider reads profiles from an OpenID Connect userinfo endpoint.
type OIDCProvider struct {
	provider *oidc.Provider
}

// NewOIDCProvider discovers the issuer configuration.
func NewOIDCProvider(ctx context.Context, issuerURL string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("auth: discover oidc provider: %w", err)
	}
	return &OIDCProvider{provider: provider}, nil
}

type userInfoClaims struct {
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	Picture  string `json:"picture"`
}

// Profile calls the userinfo endpoint with the access token.
func (p *OIDCProvider) Profile(ctx context.Context, accessToken string) (SocialProfile, error) {
	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	if err != nil {
		return SocialProfile{}, fmt.Errorf("auth: fetch userinfo: %w", err)
	}
	var claims userInfoClaims
	if err := info.Claims(&claims); err != nil {
		return SocialProfile{}, fmt.Errorf("auth: parse userinfo claims: %w", err)
	}
	return SocialProfile{
		Subject:   info.Subject,
		Email:     info.Email,
		Name:      claims.Name,
		Nickname:  claims.Nickname,
		AvatarURL: claims.Picture,
	}, nil
}

var _ SocialProvider = (*OIDCProvider)(nil)
