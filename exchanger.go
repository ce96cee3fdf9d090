package impersonate

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Exchanger trades a live session token for the target's credentials.
// It keeps no state of its own.
type Exchanger struct {
	sessions   Sessions
	identities IdentityStore
	tokens     TokenService
	now        func() time.Time
	sink       ActivitySink
	logger     Logger
}

// ExchangerOption customizes the Exchanger.
type ExchangerOption func(*Exchanger)

// WithExchangerClock injects a custom clock (useful for tests).
func WithExchangerClock(clock func() time.Time) ExchangerOption {
	return func(e *Exchanger) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithExchangerActivitySink sets the sink for exchange events.
func WithExchangerActivitySink(sink ActivitySink) ExchangerOption {
	return func(e *Exchanger) {
		e.sink = normalizeActivitySink(sink)
	}
}

// WithExchangerLogger overrides the logger.
func WithExchangerLogger(logger Logger) ExchangerOption {
	return func(e *Exchanger) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// ExchangeOption customizes a single exchange.
type ExchangeOption func(*exchangeOptions)

type exchangeOptions struct {
	requesterID string
}

// WithExchangeRequester requires the caller to be the session's administrator.
func WithExchangeRequester(id string) ExchangeOption {
	return func(o *exchangeOptions) {
		o.requesterID = strings.TrimSpace(id)
	}
}

// NewExchanger builds an Exchanger.
func NewExchanger(sessions Sessions, identities IdentityStore, tokens TokenService, opts ...ExchangerOption) *Exchanger {
	_, logger := ResolveLogger("impersonate.exchanger", nil, nil)

	e := &Exchanger{
		sessions:   sessions,
		identities: identities,
		tokens:     tokens,
		now:        time.Now,
		sink:       noopActivitySink{},
		logger:     logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Exchange mints a CredentialBundle for targetUserID if sessionToken refers
// to a live session for that target.
func (e *Exchanger) Exchange(ctx context.Context, sessionToken, targetUserID string, opts ...ExchangeOption) (*CredentialBundle, error) {
	options := exchangeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	session, err := e.sessions.GetByToken(ctx, sessionToken)
	if err != nil {
		if goerrors.IsNotFound(err) || TextCode(err) == TextCodeSessionNotFound {
			e.reject(ctx, nil, targetUserID, ErrSessionInvalid)
			return nil, ErrSessionInvalid
		}
		return nil, err
	}

	if session.ImpersonatedUserID != strings.TrimSpace(targetUserID) {
		e.reject(ctx, session, targetUserID, ErrSessionInvalid)
		return nil, ErrSessionInvalid
	}

	if options.requesterID != "" && options.requesterID != session.AdminUserID {
		e.reject(ctx, session, targetUserID, ErrSessionInvalid)
		return nil, ErrSessionInvalid
	}

	if session.IsEnded() {
		e.reject(ctx, session, targetUserID, ErrSessionEnded)
		return nil, ErrSessionEnded
	}

	now := e.now()
	if session.IsExpired(now) {
		e.reject(ctx, session, targetUserID, ErrSessionExpired)
		return nil, ErrSessionExpired
	}

	target, err := e.identities.FindIdentity(ctx, session.ImpersonatedUserID)
	if err != nil {
		if isIdentityNotFound(err) {
			e.reject(ctx, session, targetUserID, ErrTargetNotFound)
			return nil, ErrTargetNotFound
		}
		return nil, NewTransportError(err, "failed to resolve target identity")
	}
	if target == nil {
		e.reject(ctx, session, targetUserID, ErrTargetNotFound)
		return nil, ErrTargetNotFound
	}

	// Roles may change between request and exchange.
	if target.IsPrivileged() {
		e.reject(ctx, session, targetUserID, ErrTargetPrivileged)
		return nil, ErrTargetPrivileged
	}

	bundle, err := e.tokens.Mint(ctx, MintRequest{
		Identity:  target,
		ActorID:   session.AdminUserID,
		SessionID: session.ID.String(),
		NotAfter:  session.ExpiresAt,
	})
	if err != nil {
		if IsSessionError(err) {
			return nil, err
		}
		e.logger.Error("credential minting failed", "session_id", session.ID.String(), "error", err)
		return nil, NewTransportError(err, "failed to mint impersonation credentials")
	}

	emitActivity(ctx, e.sink, e.logger, ActivityEvent{
		EventType:    ActivityEventSessionExchanged,
		Actor:        ActorRef{ID: session.AdminUserID, Type: ActorTypeAdmin},
		TargetUserID: session.ImpersonatedUserID,
		SessionID:    session.ID.String(),
		Metadata: map[string]any{
			"credentials_expire_at": bundle.ExpiresAt,
		},
		OccurredAt: now.UTC(),
	})

	return bundle, nil
}

func (e *Exchanger) reject(ctx context.Context, session *Session, targetUserID string, err error) {
	event := ActivityEvent{
		EventType:    ActivityEventExchangeRejected,
		Actor:        ActorRef{Type: ActorTypeAdmin},
		TargetUserID: targetUserID,
		Metadata: map[string]any{
			"text_code": TextCode(err),
		},
		OccurredAt: e.now().UTC(),
	}
	if session != nil {
		event.Actor.ID = session.AdminUserID
		event.SessionID = session.ID.String()
	}
	e.logger.Warn("credential exchange rejected", "target_user_id", targetUserID, "text_code", TextCode(err))
	emitActivity(ctx, e.sink, e.logger, event)
}
