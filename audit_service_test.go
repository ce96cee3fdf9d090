package impersonate_test

import (
	"context"
	"testing"
	"time"

	impersonate "github.com/goliatone/go-impersonate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditServiceRecordsAction(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	occurred := f.clock.Now().Add(-time.Second)
	entry, err := f.audit.RecordAction(ctx, impersonate.ActionRecord{
		SessionToken: session.SessionToken,
		Action:       impersonate.RecordUpdate{Resource: "invoice", RecordID: "inv-1", Changes: []string{"amount"}},
		PagePath:     " /invoices/inv-1 ",
		OccurredAt:   occurred,
	}, impersonate.WithActionActor(f.member.ID.String()))
	require.NoError(t, err)

	assert.Equal(t, session.SessionToken, entry.SessionToken)
	assert.Equal(t, impersonate.ActionRecordUpdate, entry.ActionType)
	assert.Equal(t, "/invoices/inv-1", entry.PagePath)
	assert.Equal(t, "inv-1", entry.ActionDetails["record_id"])

	entries, err := f.repos.AuditEntries().ListBySession(ctx, session.SessionToken)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, occurred.Equal(entries[0].OccurredAt))

	assert.Contains(t, f.sink.Types(), string(impersonate.ActivityEventActionRecorded))
}

func TestAuditServiceRejectsAfterEnd(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	record := impersonate.ActionRecord{
		SessionToken: session.SessionToken,
		Action:       impersonate.PageView{Title: "Dashboard"},
		PagePath:     "/dashboard",
	}
	_, err = f.audit.RecordAction(ctx, record)
	require.NoError(t, err)

	require.NoError(t, f.terminator.EndSession(ctx, session.SessionToken, impersonate.EndReasonManual))

	_, err = f.audit.RecordAction(ctx, record)
	assert.ErrorIs(t, err, impersonate.ErrSessionEnded)

	count, err := f.repos.AuditEntries().CountBySession(ctx, session.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAuditServiceRejections(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	guest := registerUser(t, f.repos, "gina", impersonate.RoleGuest)

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)

	_, err = f.audit.RecordAction(ctx, impersonate.ActionRecord{
		SessionToken: session.SessionToken,
		Action:       impersonate.RecordDelete{Resource: "invoice"},
	})
	assert.Equal(t, impersonate.TextCodeInvalidAction, impersonate.TextCode(err))

	_, err = f.audit.RecordAction(ctx, impersonate.ActionRecord{
		SessionToken: "unknown",
		Action:       impersonate.PageView{},
	})
	assert.ErrorIs(t, err, impersonate.ErrSessionInvalid)

	_, err = f.audit.RecordAction(ctx, impersonate.ActionRecord{
		SessionToken: session.SessionToken,
		Action:       impersonate.PageView{},
	}, impersonate.WithActionActor(guest.ID.String()))
	assert.ErrorIs(t, err, impersonate.ErrSessionInvalid)

	f.clock.Advance(31 * time.Minute)
	_, err = f.audit.RecordAction(ctx, impersonate.ActionRecord{
		SessionToken: session.SessionToken,
		Action:       impersonate.PageView{},
	})
	assert.ErrorIs(t, err, impersonate.ErrSessionExpired)

	count, err := f.repos.AuditEntries().CountBySession(ctx, session.SessionToken)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAuditServiceClampsOccurredAtToSessionWindow(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	session, err := f.issuer.RequestSession(ctx, f.admin.ID.String(), f.member.ID.String())
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)

	tests := []struct {
		name     string
		occurred time.Time
		expected time.Time
	}{
		{
			name:     "before the session started",
			occurred: session.CreatedAt.Add(-24 * time.Hour),
			expected: session.CreatedAt,
		},
		{
			name:     "in the future",
			occurred: f.clock.Now().Add(time.Hour),
			expected: f.clock.Now(),
		},
		{
			name:     "missing",
			expected: f.clock.Now(),
		},
		{
			name:     "inside the window",
			occurred: session.CreatedAt.Add(time.Minute),
			expected: session.CreatedAt.Add(time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := f.audit.RecordAction(ctx, impersonate.ActionRecord{
				SessionToken: session.SessionToken,
				Action:       impersonate.PageView{Title: tt.name},
				OccurredAt:   tt.occurred,
			})
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(entry.OccurredAt), "expected %s, got %s", tt.expected, entry.OccurredAt)
		})
	}
}
