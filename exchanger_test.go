package impersonate_test

import (
	"context"
	"testing"
	"time"

	impersonate "github.com/goliatone/go-impersonate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangerMintsImpersonationCredentials(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	bundle, err := f.exchanger.Exchange(ctx, session.SessionToken, f.member.ID.String(),
		impersonate.WithExchangeRequester(f.admin.ID.String()),
	)
	require.NoError(t, err)
	assert.Equal(t, f.member.ID.String(), bundle.Identity.ID)
	assert.Equal(t, "bob@example.com", bundle.Identity.Email)
	assert.False(t, bundle.ExpiresAt.After(session.ExpiresAt))

	claims, err := f.tokens.Validate(bundle.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.member.ID.String(), claims.UserID())
	assert.Equal(t, f.admin.ID.String(), claims.ActorID())
	assert.Equal(t, session.ID.String(), claims.SessionID)

	assert.Contains(t, f.sink.Types(), string(impersonate.ActivityEventSessionExchanged))
}

func TestExchangerCapsCredentialsAtSessionExpiry(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	f.clock.Advance(25 * time.Minute)
	bundle, err := f.exchanger.Exchange(ctx, session.SessionToken, f.member.ID.String())
	require.NoError(t, err)
	assert.True(t, session.ExpiresAt.Equal(bundle.ExpiresAt), "5 minutes left, access ttl is 15")
}

func TestExchangerRejections(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	guest := registerUser(t, f.repos, "gina", impersonate.RoleGuest)

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	_, err = f.exchanger.Exchange(ctx, "unknown-token", f.member.ID.String())
	assert.ErrorIs(t, err, impersonate.ErrSessionInvalid)

	_, err = f.exchanger.Exchange(ctx, session.SessionToken, guest.ID.String())
	assert.ErrorIs(t, err, impersonate.ErrSessionInvalid, "target mismatch")

	_, err = f.exchanger.Exchange(ctx, session.SessionToken, f.member.ID.String(),
		impersonate.WithExchangeRequester(guest.ID.String()),
	)
	assert.ErrorIs(t, err, impersonate.ErrSessionInvalid, "token presented by someone else")

	require.NoError(t, f.terminator.EndSession(ctx, session.SessionToken, impersonate.EndReasonManual))
	_, err = f.exchanger.Exchange(ctx, session.SessionToken, f.member.ID.String())
	assert.ErrorIs(t, err, impersonate.ErrSessionEnded)

	assert.Contains(t, f.sink.Types(), string(impersonate.ActivityEventExchangeRejected))
}

func TestExchangerRejectsExpiredSession(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	_, err = f.exchanger.Exchange(ctx, session.SessionToken, f.member.ID.String())
	assert.ErrorIs(t, err, impersonate.ErrSessionExpired)
}

func TestExchangerRechecksTargetRole(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	require.NoError(t, f.repos.Users().UpdateRole(ctx, f.member.ID, impersonate.RoleAdmin))

	_, err = f.exchanger.Exchange(ctx, session.SessionToken, f.member.ID.String())
	assert.ErrorIs(t, err, impersonate.ErrTargetPrivileged)
}

func TestExchangerTreatsMissingIdentityAsNotFound(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	emptyStore := impersonate.IdentityStoreFunc(func(ctx context.Context, id string) (impersonate.Identity, error) {
		return nil, nil
	})
	exchanger := impersonate.NewExchanger(f.repos.Sessions(), emptyStore, f.tokens,
		impersonate.WithExchangerClock(f.clock.Now),
		impersonate.WithExchangerActivitySink(f.sink),
	)

	var bundle *impersonate.CredentialBundle
	require.NotPanics(t, func() {
		bundle, err = exchanger.Exchange(ctx, session.SessionToken, f.member.ID.String())
	})
	assert.Nil(t, bundle)
	assert.ErrorIs(t, err, impersonate.ErrTargetNotFound)
	assert.Contains(t, f.sink.Types(), string(impersonate.ActivityEventExchangeRejected))
}
