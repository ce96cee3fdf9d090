package impersonate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	impersonate "github.com/goliatone/go-impersonate"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuerRequestSessionPersistsSession(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	assert.NotEmpty(t, session.SessionToken)
	assert.Equal(t, f.admin.ID.String(), session.AdminUserID)
	assert.Equal(t, f.member.ID.String(), session.ImpersonatedUserID)
	assert.True(t, f.clock.Now().Equal(session.CreatedAt))
	assert.Equal(t, 1800*time.Second, session.ExpiresAt.Sub(session.CreatedAt))
	assert.Nil(t, session.EndedAt)

	stored, err := f.repos.Sessions().GetByToken(ctx, session.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, session.ID, stored.ID)
	assert.True(t, session.ExpiresAt.Equal(stored.ExpiresAt))

	assert.Equal(t, []string{string(impersonate.ActivityEventSessionRequested)}, f.sink.Types())
	assert.Equal(t, session.ID.String(), f.sink.events[0].SessionID)
}

func TestIssuerTokensAreUnique(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	first, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)
	second, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionToken, second.SessionToken)
}

func TestIssuerDeniesWithoutPersisting(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	guest := registerUser(t, f.repos, "gina", impersonate.RoleGuest)

	cases := []struct {
		name      string
		requester string
		target    string
		err       error
	}{
		{"member requester", f.member.ID.String(), guest.ID.String(), impersonate.ErrNotPrivileged},
		{"unknown requester", uuid.NewString(), f.member.ID.String(), impersonate.ErrNotPrivileged},
		{"empty requester", "", f.member.ID.String(), impersonate.ErrNotPrivileged},
		{"privileged target", f.admin.ID.String(), f.owner.ID.String(), impersonate.ErrTargetPrivileged},
		{"self", f.admin.ID.String(), f.admin.ID.String(), impersonate.ErrSelfImpersonation},
		{"unknown target", f.admin.ID.String(), uuid.NewString(), impersonate.ErrTargetNotFound},
		{"empty target", f.admin.ID.String(), "  ", impersonate.ErrTargetNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session, err := f.issuer.RequestSession(ctx, tc.requester, tc.target)
			assert.Nil(t, session)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	count, err := f.db.NewSelect().Model((*impersonate.Session)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	for _, evt := range f.sink.events {
		assert.Equal(t, impersonate.ActivityEventSessionDenied, evt.EventType)
	}
}

func TestIssuerFeatureGate(t *testing.T) {
	stubGate := &stubFeatureGate{
		enabled: map[string]bool{
			impersonate.FeatureImpersonation: false,
		},
	}
	f := newServerFixture(t, impersonate.WithIssuerFeatureGate(stubGate))

	_, err := f.issuer.RequestSession(context.Background(), f.admin.ID.String(), f.member.ID.String())
	require.ErrorIs(t, err, impersonate.ErrImpersonationDisabled)
	require.Equal(t, []string{impersonate.FeatureImpersonation}, stubGate.calls)

	stubGate.enabled[impersonate.FeatureImpersonation] = true
	_, err = f.issuer.RequestSession(context.Background(), f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)
}

func TestIssuerFeatureGateError(t *testing.T) {
	stubGate := &stubFeatureGate{err: errors.New("flag store down")}
	f := newServerFixture(t, impersonate.WithIssuerFeatureGate(stubGate))

	_, err := f.issuer.RequestSession(context.Background(), f.admin.ID.String(), f.member.ID.String())
	require.Error(t, err)
	assert.True(t, impersonate.IsAuthorizationError(err))
}

func TestIssuerTokenGeneratorFailure(t *testing.T) {
	genErr := errors.New("entropy exhausted")
	f := newServerFixture(t, impersonate.WithIssuerTokenGenerator(func() (string, error) {
		return "", genErr
	}))

	_, err := f.issuer.RequestSession(context.Background(), f.admin.ID.String(), f.member.ID.String())
	assert.ErrorIs(t, err, genErr)
}
