package impersonate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	impersonate "github.com/goliatone/go-impersonate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminatorEndSessionIsIdempotent(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.terminator.EndSession(ctx, session.SessionToken, impersonate.EndReasonManual,
		impersonate.WithEndActor(f.admin.ID.String()),
	))

	stored, err := f.repos.Sessions().GetByToken(ctx, session.SessionToken)
	require.NoError(t, err)
	require.NotNil(t, stored.EndedAt)
	firstEnd := *stored.EndedAt
	assert.True(t, f.clock.Now().Equal(firstEnd))
	assert.Equal(t, impersonate.EndReasonManual, stored.EndReason)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.terminator.EndSession(ctx, session.SessionToken, impersonate.EndReasonExpired))

	stored, err = f.repos.Sessions().GetByToken(ctx, session.SessionToken)
	require.NoError(t, err)
	assert.True(t, firstEnd.Equal(*stored.EndedAt), "ended_at is written once")
	assert.Equal(t, impersonate.EndReasonManual, stored.EndReason)

	ended := 0
	for _, typ := range f.sink.Types() {
		if typ == string(impersonate.ActivityEventSessionEnded) {
			ended++
		}
	}
	assert.Equal(t, 1, ended)
}

func TestTerminatorConcurrentEnds(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.terminator.EndSession(ctx, session.SessionToken, impersonate.EndReasonExpired))
		}()
	}
	wg.Wait()

	stored, err := f.repos.Sessions().GetByToken(ctx, session.SessionToken)
	require.NoError(t, err)
	assert.True(t, stored.IsEnded())
	assert.Equal(t, impersonate.EndReasonExpired, stored.EndReason)
}

func TestTerminatorErrors(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	guest := registerUser(t, f.repos, "gina", impersonate.RoleGuest)

	err := f.terminator.EndSession(ctx, "missing", impersonate.EndReasonManual)
	assert.ErrorIs(t, err, impersonate.ErrSessionNotFound)

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	err = f.terminator.EndSession(ctx, session.SessionToken, "timeout")
	assert.ErrorIs(t, err, impersonate.ErrInvalidRequest)

	err = f.terminator.EndSession(ctx, session.SessionToken, impersonate.EndReasonManual,
		impersonate.WithEndActor(guest.ID.String()),
	)
	assert.ErrorIs(t, err, impersonate.ErrSessionInvalid)

	// the impersonated user may end the session too
	err = f.terminator.EndSession(ctx, session.SessionToken, "",
		impersonate.WithEndActor(f.member.ID.String()),
	)
	require.NoError(t, err)

	stored, err := f.repos.Sessions().GetByToken(ctx, session.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, impersonate.EndReasonManual, stored.EndReason)
}
