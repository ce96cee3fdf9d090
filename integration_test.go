package impersonate_test

import (
	"context"
	"testing"
	"time"

	impersonate "github.com/goliatone/go-impersonate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImpersonationLifecycleIntegration(t *testing.T) {
	f := newClientFixture(t)
	ctx := context.Background()
	backend := f.backend()
	c := f.controller(backend, nil)
	t.Cleanup(c.Close)
	recorder := newTestRecorder(f, c, backend)

	// A privileged target is refused and leaves nothing behind.
	_, err := c.Start(ctx, f.owner.ID.String())
	require.ErrorIs(t, err, impersonate.ErrTargetPrivileged)
	assert.Equal(t, impersonate.StateIdle, c.State())
	assert.Equal(t, f.admin.ID.String(), f.currentIdentity(t))
	record, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, record)

	count, err := f.db.NewSelect().Model((*impersonate.Session)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// A impersonates B.
	snap, err := c.Start(ctx, f.member.ID.String())
	require.NoError(t, err)
	assert.Equal(t, impersonate.StateActive, snap.State)
	assert.Equal(t, f.member.ID.String(), f.currentIdentity(t))
	token := c.CurrentSessionToken()

	stored := f.storedSession(t, token)
	assert.Equal(t, f.admin.ID.String(), stored.AdminUserID)
	assert.Equal(t, f.member.ID.String(), stored.ImpersonatedUserID)
	assert.Equal(t, 1800*time.Second, stored.ExpiresAt.Sub(stored.CreatedAt))
	assert.Nil(t, stored.EndedAt)

	record, err = f.store.Load(ctx)
	require.NoError(t, err)
	require.True(t, record.IsComplete())
	assert.Equal(t, token, record.Session.Token)
	assert.Equal(t, f.admin.ID.String(), record.AdminIdentity.ID)

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 20*time.Minute, c.Tick(ctx))
	assert.Equal(t, 20*time.Minute, c.Remaining())

	assert.True(t, recorder.Record(ctx, impersonate.PageView{Title: "Billing"}, "/billing"))
	recorder.Wait()
	f.clock.Advance(time.Second)
	assert.True(t, recorder.Record(ctx, impersonate.RecordUpdate{Resource: "invoice", RecordID: "inv-3"}, "/billing/inv-3"))
	recorder.Wait()

	require.NoError(t, c.End(ctx, impersonate.EndReasonManual))
	assert.Equal(t, impersonate.StateEnded, c.State())
	assert.Equal(t, f.admin.ID.String(), f.currentIdentity(t))
	assert.False(t, recorder.Record(ctx, impersonate.PageView{Title: "Billing"}, "/billing"))
	recorder.Wait()

	stored = f.storedSession(t, token)
	require.NotNil(t, stored.EndedAt)
	assert.True(t, f.clock.Now().Equal(*stored.EndedAt))
	assert.Equal(t, impersonate.EndReasonManual, stored.EndReason)

	entries, err := f.repos.AuditEntries().ListBySession(ctx, token)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, impersonate.ActionPageView, entries[0].ActionType)
	assert.Equal(t, impersonate.ActionRecordUpdate, entries[1].ActionType)

	record, err = f.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, record)

	require.NoError(t, c.Acknowledge())
	assert.Equal(t, impersonate.StateIdle, c.State())

	types := f.sink.Types()
	assert.Contains(t, types, string(impersonate.ActivityEventSessionDenied))
	assert.Contains(t, types, string(impersonate.ActivityEventSessionRequested))
	assert.Contains(t, types, string(impersonate.ActivityEventSessionExchanged))
	assert.Contains(t, types, string(impersonate.ActivityEventActionRecorded))
	assert.Contains(t, types, string(impersonate.ActivityEventSessionEnded))
}
