package auth

import "time"

// Account is the authentication view of a user.
type Account struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	Status          string     `json:"status"`
	AvatarURL       string     `json:"avatar_url,omitempty"`
	GoogleID        string     `json:"-"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Active reports whether the account may sign in.
func (a Account) Active() bool {
	return a.Status == "" || a.Status == "active"
}

// NewAccount carries the columns written when an account is created.
type NewAccount struct {
	Name            string
	Email           string
	PasswordHash    string
	GoogleID        string
	AvatarURL       string
	EmailVerifiedAt *time.Time
}

// Token is a stored personal access token. Only the SHA-256 hash of the
// secret is persisted.
type Token struct {
	ID         int64
	UserID     int64
	Name       string
	Hash       string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Payload is returned by every sign-in flow.
type Payload struct {
	Token string  `json:"token"`
	User  Account `json:"user"`
}

// RegisterInput describes a self-registration request.
type RegisterInput struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required,min=8,max=255"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
	DeviceName           string `json:"device_name" validate:"omitempty,max=255"`
}

// LoginInput describes a password sign-in.
type LoginInput struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	DeviceName string `json:"device_name" validate:"omitempty,max=255"`
}

// SocialLoginInput describes a sign-in with a provider access token.
type SocialLoginInput struct {
	Provider    string `json:"provider" validate:"required"`
	AccessToken string `json:"access_token" validate:"required"`
	DeviceName  string `json:"device_name" validate:"omitempty,max=255"`
}

// SocialProfile is the identity a provider returns for an access token.
type SocialProfile struct {
	Subject   string
	Email     string
	Name      string
	Nickname  string
	AvatarURL string
}
