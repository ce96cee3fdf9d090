package impersonate

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// ActorClaim identifies the party acting on behalf of the subject (RFC 8693 "act").
type ActorClaim struct {
	Subject string `json:"sub"`
}

// Claims are the JWT claims carried by every minted token.
type Claims struct {
	jwt.RegisteredClaims
	UID       string      `json:"uid,omitempty"`
	Email     string      `json:"email,omitempty"`
	Name      string      `json:"name,omitempty"`
	TokenUse  string      `json:"token_use,omitempty"`
	Actor     *ActorClaim `json:"act,omitempty"`
	SessionID string      `json:"sid,omitempty"`
}

// UserID returns the user ID
func (c *Claims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

// ActorID returns the impersonating administrator, if any.
func (c *Claims) ActorID() string {
	if c.Actor == nil {
		return ""
	}
	return c.Actor.Subject
}

// IsImpersonated reports whether the token was minted for an impersonation.
func (c *Claims) IsImpersonated() bool {
	return c.ActorID() != ""
}

// Expires returns the expiration time
func (c *Claims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Snapshot returns the identity described by the claims.
func (c *Claims) Snapshot() IdentitySnapshot {
	return IdentitySnapshot{
		ID:          c.UserID(),
		Email:       c.Email,
		DisplayName: c.Name,
	}
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims != nil && claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
