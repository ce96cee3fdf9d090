package impersonate

import (
	"context"
	"strings"
)

// Backend is how a Controller reaches the server side. Credentials are the
// bundle the client presents for the call.
type Backend interface {
	RequestSession(ctx context.Context, creds CredentialBundle, targetUserID string) (*Session, error)
	Exchange(ctx context.Context, creds CredentialBundle, sessionToken, targetUserID string) (*CredentialBundle, error)
	// EndSession and RecordAction are authorized by the session token. A
	// valid bearer additionally restricts the call to the session's parties.
	EndSession(ctx context.Context, creds CredentialBundle, sessionToken string, reason EndReason) error
	RecordAction(ctx context.Context, creds CredentialBundle, record ActionRecord) error
}

// LocalBackend calls the server components in process.
type LocalBackend struct {
	tokens     TokenService
	issuer     *Issuer
	exchanger  *Exchanger
	terminator *Terminator
	audit      *AuditService
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend wires the server components behind the Backend interface.
func NewLocalBackend(tokens TokenService, issuer *Issuer, exchanger *Exchanger, terminator *Terminator, audit *AuditService) *LocalBackend {
	return &LocalBackend{
		tokens:     tokens,
		issuer:     issuer,
		exchanger:  exchanger,
		terminator: terminator,
		audit:      audit,
	}
}

func (b *LocalBackend) RequestSession(ctx context.Context, creds CredentialBundle, targetUserID string) (*Session, error) {
	claims, err := authenticate(b.tokens, creds.AccessToken)
	if err != nil {
		return nil, err
	}
	// impersonated credentials cannot start another impersonation
	if claims.IsImpersonated() {
		return nil, ErrNotPrivileged
	}
	return b.issuer.RequestSession(WithClaimsContext(ctx, claims), claims.UserID(), targetUserID)
}

func (b *LocalBackend) Exchange(ctx context.Context, creds CredentialBundle, sessionToken, targetUserID string) (*CredentialBundle, error) {
	claims, err := authenticate(b.tokens, creds.AccessToken)
	if err != nil {
		return nil, err
	}
	return b.exchanger.Exchange(ctx, sessionToken, targetUserID, WithExchangeRequester(claims.UserID()))
}

func (b *LocalBackend) EndSession(ctx context.Context, creds CredentialBundle, sessionToken string, reason EndReason) error {
	var opts []EndOption
	if subject := optionalSubject(b.tokens, creds.AccessToken); subject != "" {
		opts = append(opts, WithEndActor(subject))
	}
	return b.terminator.EndSession(ctx, sessionToken, reason, opts...)
}

func (b *LocalBackend) RecordAction(ctx context.Context, creds CredentialBundle, record ActionRecord) error {
	var opts []RecordOption
	if subject := optionalSubject(b.tokens, creds.AccessToken); subject != "" {
		opts = append(opts, WithActionActor(subject))
	}
	_, err := b.audit.RecordAction(ctx, record, opts...)
	return err
}

func authenticate(tokens TokenService, accessToken string) (*Claims, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" || tokens == nil {
		return nil, ErrUnauthenticated
	}
	claims, err := tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func optionalSubject(tokens TokenService, accessToken string) string {
	claims, err := authenticate(tokens, accessToken)
	if err != nil {
		return ""
	}
	return claims.UserID()
}
