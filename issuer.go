package impersonate

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
)

// Issuer authorizes impersonation requests and persists new sessions.
type Issuer struct {
	identities  IdentityStore
	sessions    Sessions
	ttl         time.Duration
	now         func() time.Time
	newToken    TokenGenerator
	featureGate gate.FeatureGate
	sink        ActivitySink
	logger      Logger
}

// IssuerOption customizes the Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock injects a custom clock (useful for tests).
func WithIssuerClock(clock func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if clock != nil {
			i.now = clock
		}
	}
}

// WithIssuerTokenGenerator overrides how session tokens are produced.
func WithIssuerTokenGenerator(gen TokenGenerator) IssuerOption {
	return func(i *Issuer) {
		if gen != nil {
			i.newToken = gen
		}
	}
}

// WithIssuerFeatureGate requires FeatureImpersonation to be enabled.
func WithIssuerFeatureGate(g gate.FeatureGate) IssuerOption {
	return func(i *Issuer) {
		i.featureGate = g
	}
}

// WithIssuerActivitySink sets the sink for request and denial events.
func WithIssuerActivitySink(sink ActivitySink) IssuerOption {
	return func(i *Issuer) {
		i.sink = normalizeActivitySink(sink)
	}
}

// WithIssuerLogger overrides the logger.
func WithIssuerLogger(logger Logger) IssuerOption {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIssuer builds an Issuer. The session TTL comes from cfg.
func NewIssuer(cfg Config, identities IdentityStore, sessions Sessions, opts ...IssuerOption) *Issuer {
	cfg = resolveConfig(cfg)
	_, logger := ResolveLogger("impersonate.issuer", nil, nil)

	i := &Issuer{
		identities: identities,
		sessions:   sessions,
		ttl:        cfg.GetSessionTTL(),
		now:        time.Now,
		newToken:   GenerateSessionToken,
		sink:       noopActivitySink{},
		logger:     logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// RequestSession creates a session letting requesterID act as targetUserID.
// Nothing is persisted unless every check passes.
func (i *Issuer) RequestSession(ctx context.Context, requesterID, targetUserID string) (*Session, error) {
	requesterID = strings.TrimSpace(requesterID)
	targetUserID = strings.TrimSpace(targetUserID)

	if err := requireImpersonationGate(ctx, i.featureGate); err != nil {
		i.deny(ctx, requesterID, targetUserID, err)
		return nil, err
	}

	if requesterID == "" {
		i.deny(ctx, requesterID, targetUserID, ErrNotPrivileged)
		return nil, ErrNotPrivileged
	}

	requester, err := i.identities.FindIdentity(ctx, requesterID)
	if err != nil {
		if isIdentityNotFound(err) {
			i.deny(ctx, requesterID, targetUserID, ErrNotPrivileged)
			return nil, ErrNotPrivileged
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve requesting identity")
	}

	if requester == nil || !requester.IsPrivileged() {
		i.deny(ctx, requesterID, targetUserID, ErrNotPrivileged)
		return nil, ErrNotPrivileged
	}

	if targetUserID == "" {
		i.deny(ctx, requesterID, targetUserID, ErrTargetNotFound)
		return nil, ErrTargetNotFound
	}

	if targetUserID == requester.ID() || targetUserID == requesterID {
		i.deny(ctx, requesterID, targetUserID, ErrSelfImpersonation)
		return nil, ErrSelfImpersonation
	}

	target, err := i.identities.FindIdentity(ctx, targetUserID)
	if err != nil {
		if isIdentityNotFound(err) {
			i.deny(ctx, requesterID, targetUserID, ErrTargetNotFound)
			return nil, ErrTargetNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve target identity")
	}
	if target == nil {
		i.deny(ctx, requesterID, targetUserID, ErrTargetNotFound)
		return nil, ErrTargetNotFound
	}

	if target.IsPrivileged() {
		i.deny(ctx, requesterID, targetUserID, ErrTargetPrivileged)
		return nil, ErrTargetPrivileged
	}

	token, err := i.newToken()
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	session := &Session{
		SessionToken:       token,
		AdminUserID:        requester.ID(),
		ImpersonatedUserID: target.ID(),
		CreatedAt:          now,
		ExpiresAt:          now.Add(i.ttl),
	}

	created, err := i.sessions.Insert(ctx, session)
	if err != nil {
		i.logger.Error("failed to persist impersonation session", "admin_user_id", requester.ID(), "error", err)
		return nil, err
	}
	if created == nil {
		created = session
	}

	i.logger.Info("impersonation session issued",
		"session_id", created.ID.String(),
		"admin_user_id", created.AdminUserID,
		"impersonated_user_id", created.ImpersonatedUserID,
		"expires_at", created.ExpiresAt,
	)

	emitActivity(ctx, i.sink, i.logger, ActivityEvent{
		EventType:    ActivityEventSessionRequested,
		Actor:        ActorRef{ID: created.AdminUserID, Type: ActorTypeAdmin},
		TargetUserID: created.ImpersonatedUserID,
		SessionID:    created.ID.String(),
		Metadata: map[string]any{
			"expires_at": created.ExpiresAt,
		},
		OccurredAt: now,
	})

	return created, nil
}

func (i *Issuer) deny(ctx context.Context, requesterID, targetUserID string, err error) {
	i.logger.Warn("impersonation request denied",
		"requester_id", requesterID,
		"target_user_id", targetUserID,
		"text_code", TextCode(err),
	)
	emitActivity(ctx, i.sink, i.logger, ActivityEvent{
		EventType:    ActivityEventSessionDenied,
		Actor:        ActorRef{ID: requesterID, Type: ActorTypeAdmin},
		TargetUserID: targetUserID,
		Metadata: map[string]any{
			"error":     err.Error(),
			"text_code": TextCode(err),
		},
		OccurredAt: i.now().UTC(),
	})
}
