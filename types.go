package impersonate

import (
	"context"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the logging contract shared by every component.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// Identity holds the attributes of an identity known to the IdentityStore.
type Identity interface {
	ID() string
	Email() string
	DisplayName() string
	IsPrivileged() bool
}

// IdentityStore resolves identities by id. Implementations must return
// ErrIdentityNotFound (or a not found error) for unknown ids.
type IdentityStore interface {
	FindIdentity(ctx context.Context, id string) (Identity, error)
}

// IdentityStoreFunc adapts a function to the IdentityStore interface.
type IdentityStoreFunc func(ctx context.Context, id string) (Identity, error)

// FindIdentity implements IdentityStore.
func (f IdentityStoreFunc) FindIdentity(ctx context.Context, id string) (Identity, error) {
	return f(ctx, id)
}

// MintRequest describes the credentials the TokenService should issue.
type MintRequest struct {
	Identity Identity
	// ActorID is the administrator acting as Identity, empty for a
	// regular sign in.
	ActorID   string
	SessionID string
	// NotAfter caps the lifetime of every minted token.
	NotAfter time.Time
}

// TokenService is the authentication provider: it mints credential bundles
// and validates access tokens.
type TokenService interface {
	Mint(ctx context.Context, req MintRequest) (*CredentialBundle, error)
	Validate(token string) (*Claims, error)
}

// Config holds impersonation options
type Config interface {
	GetSessionTTL() time.Duration
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetTickInterval() time.Duration
	GetLivenessInterval() time.Duration
	GetExpiryWarning() time.Duration
	GetAuditTimeout() time.Duration
	GetRequestTimeout() time.Duration
	GetRoutePrefix() string
}
