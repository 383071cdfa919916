package ebay

import "time"

// TokenType distinguishes client-credentials tokens from user-consent tokens.
type TokenType string

// Token types.
const (
	TokenTypeApp  TokenType = "app"
	TokenTypeUser TokenType = "user"
)

// defaultExpiresIn is used when the token endpoint omits expires_in.
const defaultExpiresIn = 7200 * time.Second

// Token is an OAuth access token with its metadata. App tokens are held in
// memory only; user tokens carry a refresh token and may be persisted.
type Token struct {
	AccessToken      string    `json:"access_token"`
	Type             TokenType `json:"token_type"`
	Scopes           ScopeSet  `json:"scopes"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
}

// Usable reports whether the access token may be handed out at now, i.e. it
// does not expire within buffer.
func (t *Token) Usable(now time.Time, buffer time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-buffer))
}

// CanRefresh reports whether the refresh token is present and not known to
// be expired.
func (t *Token) CanRefresh(now time.Time) bool {
	if t == nil || t.RefreshToken == "" {
		return false
	}
	return t.RefreshExpiresAt.IsZero() || now.Before(t.RefreshExpiresAt)
}

// Info is a secret-free view of a cached token.
type Info struct {
	Type             TokenType `json:"type"`
	Key              string    `json:"key"`
	Scopes           []string  `json:"scopes"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	HasRefreshToken  bool      `json:"has_refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
	Valid            bool      `json:"valid"`
}

func (t *Token) info(key string, now time.Time, buffer time.Duration) Info {
	return Info{
		Type:             t.Type,
		Key:              key,
		Scopes:           []string(t.Scopes),
		IssuedAt:         t.IssuedAt,
		ExpiresAt:        t.ExpiresAt,
		HasRefreshToken:  t.RefreshToken != "",
		RefreshExpiresAt: t.RefreshExpiresAt,
		Valid:            t.Usable(now, buffer),
	}
}
