package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
)

const (
	logName           = "auth"
	defaultDeviceName = "api-client"
	secretBytes       = 20
)

// Options configures token issuance and sign-in providers.
type Options struct {
	DefaultGuard string
	DefaultRole  string
	// TokenTTL bounds token lifetime. Zero issues tokens that never expire.
	TokenTTL time.Duration
}

// Service wraps authentication business rules.
type Service struct {
	repo       Repository
	principals rbac.PrincipalLoader
	providers  map[string]SocialProvider
	activity   shared.ActivityRecorder
	logger     *slog.Logger
	opts       Options
	now        func() time.Time
}

// NewService constructs a new Service. providers is keyed by lower-case
// provider name and doubles as the allow list for social sign-in.
func NewService(repo Repository, principals rbac.PrincipalLoader, providers map[string]SocialProvider, activity shared.ActivityRecorder, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultGuard == "" {
		opts.DefaultGuard = "web"
	}
	if opts.DefaultRole == "" {
		opts.DefaultRole = rbac.DefaultRole
	}
	normalized := make(map[string]SocialProvider, len(providers))
	for name, p := range providers {
		normalized[strings.ToLower(name)] = p
	}
	return &Service{
		repo:       repo,
		principals: principals,
		providers:  normalized,
		activity:   activity,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// Register creates an account holding the default role and signs it in.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Payload, error) {
	fields := shared.FieldErrors{}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		fields.Add("name", "The name field is required.")
	}
	if len(input.Password) < shared.MinPasswordLength {
		fields.Add("password", "The password must be at least 8 characters.")
	} else if input.Password != input.PasswordConfirmation {
		fields.Add("password", "The password confirmation does not match.")
	}
	email := shared.NormalizeEmail(input.Email)
	if email == "" {
		fields.Add("email", "The email field is required.")
	} else if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		fields.Add("email", "The email has already been taken.")
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Payload{}, err
	}
	if len(fields) > 0 {
		return Payload{}, &shared.ValidationError{Fields: fields}
	}

	hash, err := shared.HashPassword(input.Password)
	if err != nil {
		return Payload{}, fmt.Errorf("auth: hash password: %w", err)
	}
	account, err := s.repo.CreateAccount(ctx, NewAccount{Name: name, Email: email, PasswordHash: hash}, s.opts.DefaultRole, s.opts.DefaultGuard)
	if err != nil {
		return Payload{}, err
	}
	s.record(ctx, account.ID, "registered", nil)
	return s.issue(ctx, account, input.DeviceName)
}

// Login verifies email/password credentials and issues a token.
func (s *Service) Login(ctx context.Context, input LoginInput) (Payload, error) {
	account, err := s.repo.FindByEmail(ctx, shared.NormalizeEmail(input.Email))
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Payload{}, err
	}
	if err != nil || !account.Active() || !shared.CheckPassword(account.PasswordHash, input.Password) {
		return Payload{}, shared.NewValidationError("email", "Invalid credentials.")
	}
	return s.issue(ctx, account, input.DeviceName)
}

// SocialLogin signs in with a provider access token, creating the account on
// first use.
func (s *Service) SocialLogin(ctx context.Context, input SocialLoginInput) (Payload, error) {
	providerName := strings.ToLower(strings.TrimSpace(input.Provider))
	provider, ok := s.providers[providerName]
	if !ok {
		return Payload{}, shared.NewValidationError("provider", "The selected provider is invalid.")
	}
	profile, err := provider.Profile(ctx, input.AccessToken)
	if err != nil {
		s.logger.Warn("auth social profile", slog.String("provider", providerName), slog.Any("error", err))
		return Payload{}, shared.NewValidationError("access_token", "Unable to authenticate with "+providerName+".")
	}
	email := shared.NormalizeEmail(profile.Email)
	if email == "" {
		return Payload{}, shared.NewValidationError("provider", "No email address returned by "+providerName+".")
	}
	var googleID string
	if providerName == "google" {
		googleID = profile.Subject
	}
	now := s.now().UTC()

	account, err := s.repo.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		hash, err := shared.HashPassword(uuid.NewString())
		if err != nil {
			return Payload{}, fmt.Errorf("auth: hash password: %w", err)
		}
		account, err = s.repo.CreateAccount(ctx, NewAccount{
			Name:            socialName(profile),
			Email:           email,
			PasswordHash:    hash,
			GoogleID:        googleID,
			AvatarURL:       profile.AvatarURL,
			EmailVerifiedAt: &now,
		}, s.opts.DefaultRole, s.opts.DefaultGuard)
		if err != nil {
			return Payload{}, err
		}
		s.record(ctx, account.ID, "registered", map[string]any{"provider": providerName})
	case err != nil:
		return Payload{}, err
	default:
		if !account.Active() {
			return Payload{}, shared.NewValidationError("email", "Invalid credentials.")
		}
		if err := s.repo.UpdateSocialProfile(ctx, account.ID, googleID, profile.AvatarURL, now); err != nil {
			return Payload{}, err
		}
		if _, err := s.repo.EnsureRole(ctx, account.ID, s.opts.DefaultRole, s.opts.DefaultGuard); err != nil {
			return Payload{}, err
		}
		if account, err = s.repo.FindByID(ctx, account.ID); err != nil {
			return Payload{}, err
		}
	}

	device := input.DeviceName
	if strings.TrimSpace(device) == "" {
		device = providerName + "-oauth"
	}
	return s.issue(ctx, account, device)
}

// Logout revokes the token the principal authenticated with. Principals
// without a token lose every token.
func (s *Service) Logout(ctx context.Context, p rbac.Principal) error {
	if p.IsZero() {
		return shared.ErrUnauthenticated
	}
	if p.TokenID != 0 {
		return s.repo.DeleteToken(ctx, p.TokenID)
	}
	_, err := s.repo.DeleteUserTokens(ctx, p.ID)
	return err
}

// Me returns the principal's account.
func (s *Service) Me(ctx context.Context, p rbac.Principal) (Account, error) {
	if p.IsZero() {
		return Account{}, shared.ErrUnauthenticated
	}
	account, err := s.repo.FindByID(ctx, p.ID)
	if errors.Is(err, shared.ErrNotFound) {
		return Account{}, shared.ErrUnauthenticated
	}
	return account, err
}

// Authenticate resolves a plain-text token of the form "<id>|<secret>" to a
// principal in the default guard.
func (s *Service) Authenticate(ctx context.Context, plain string) (rbac.Principal, error) {
	idPart, secret, ok := strings.Cut(plain, "|")
	if !ok || secret == "" {
		return rbac.Principal{}, shared.ErrUnauthenticated
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return rbac.Principal{}, shared.ErrUnauthenticated
	}
	token, err := s.repo.FindToken(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return rbac.Principal{}, shared.ErrUnauthenticated
		}
		return rbac.Principal{}, err
	}
	if subtle.ConstantTimeCompare([]byte(token.Hash), []byte(hashSecret(secret))) != 1 {
		return rbac.Principal{}, shared.ErrUnauthenticated
	}
	now := s.now().UTC()
	if token.Expired(now) {
		return rbac.Principal{}, shared.ErrUnauthenticated
	}
	if err := s.repo.TouchToken(ctx, token.ID, now); err != nil {
		s.logger.Warn("auth touch token", slog.Int64("token_id", token.ID), slog.Any("error", err))
	}

	p, err := s.principals.LoadPrincipal(ctx, token.UserID, s.opts.DefaultGuard)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return rbac.Principal{}, shared.ErrUnauthenticated
		}
		return rbac.Principal{}, err
	}
	p.TokenID = token.ID
	return p, nil
}

// PruneExpiredTokens removes expired tokens.
func (s *Service) PruneExpiredTokens(ctx context.Context) (int64, error) {
	return s.repo.PruneExpiredTokens(ctx, s.now().UTC())
}

// Providers lists the enabled social providers.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Service) issue(ctx context.Context, account Account, device string) (Payload, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		device = defaultDeviceName
	}
	secret, err := newSecret()
	if err != nil {
		return Payload{}, err
	}
	var expiresAt *time.Time
	if s.opts.TokenTTL > 0 {
		at := s.now().UTC().Add(s.opts.TokenTTL)
		expiresAt = &at
	}
	id, err := s.repo.CreateToken(ctx, account.ID, device, hashSecret(secret), expiresAt)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Token: strconv.FormatInt(id, 10) + "|" + secret, User: account}, nil
}

func (s *Service) record(ctx context.Context, userID int64, event string, props map[string]any) {
	if s.activity == nil {
		return
	}
	err := s.activity.Record(ctx, shared.ActivityEntry{
		LogName:     logName,
		Event:       event,
		Description: "user " + event,
		SubjectType: "user",
		SubjectID:   userID,
		CauserID:    userID,
		Properties:  props,
	})
	if err != nil {
		s.logger.Warn("auth record activity", slog.String("event", event), slog.Any("error", err))
	}
}

func socialName(p SocialProfile) string {
	switch {
	case strings.TrimSpace(p.Name) != "":
		return strings.TrimSpace(p.Name)
	case strings.TrimSpace(p.Nickname) != "":
		return strings.TrimSpace(p.Nickname)
	default:
		return "Unknown User"
	}
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
