package impersonate

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EndReason records why a session was terminated.
type EndReason string

const (
	EndReasonManual  EndReason = "manual"
	EndReasonExpired EndReason = "expired"
	EndReasonError   EndReason = "error"
)

// IsValid reports whether r is one of the known reasons.
func (r EndReason) IsValid() bool {
	switch r {
	case EndReasonManual, EndReasonExpired, EndReasonError:
		return true
	default:
		return false
	}
}

// ParseEndReason normalizes a wire value, defaulting to manual.
func ParseEndReason(value string) (EndReason, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return EndReasonManual, nil
	}
	reason := EndReason(value)
	if !reason.IsValid() {
		return "", ErrInvalidRequest
	}
	return reason, nil
}

// Session is a persisted impersonation grant. Rows are never deleted.
type Session struct {
	bun.BaseModel      `bun:"table:impersonation_sessions,alias:imps"`
	ID                 uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	SessionToken       string     `bun:"session_token,notnull,unique" json:"session_token"`
	AdminUserID        string     `bun:"admin_user_id,notnull" json:"admin_user_id"`
	ImpersonatedUserID string     `bun:"impersonated_user_id,notnull" json:"impersonated_user_id"`
	CreatedAt          time.Time  `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt          time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	EndedAt            *time.Time `bun:"ended_at,nullzero" json:"ended_at,omitempty"`
	EndReason          EndReason  `bun:"end_reason,nullzero" json:"end_reason,omitempty"`
}

// IsEnded reports whether the session was terminated.
func (s *Session) IsEnded() bool {
	return s != nil && s.EndedAt != nil
}

// IsExpired reports whether now is at or past expires_at.
func (s *Session) IsExpired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !now.Before(s.ExpiresAt)
}

// Remaining returns the time left before expiry, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IdentitySnapshot is the serializable view of an identity.
type IdentitySnapshot struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// SnapshotIdentity copies the public attributes of identity.
func SnapshotIdentity(identity Identity) IdentitySnapshot {
	if identity == nil {
		return IdentitySnapshot{}
	}
	return IdentitySnapshot{
		ID:          identity.ID(),
		Email:       identity.Email(),
		DisplayName: identity.DisplayName(),
	}
}

// CredentialBundle is what a client needs to act as an identity.
type CredentialBundle struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresAt    time.Time        `json:"expires_at,omitempty"`
	Identity     IdentitySnapshot `json:"identity"`
}

// IsZero reports whether the bundle carries no access token.
func (b *CredentialBundle) IsZero() bool {
	return b == nil || strings.TrimSpace(b.AccessToken) == ""
}

// Clone returns a copy of the bundle.
func (b *CredentialBundle) Clone() *CredentialBundle {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}

// SessionRef is the part of a session a client keeps locally.
type SessionRef struct {
	Token              string    `json:"token"`
	ImpersonatedUserID string    `json:"impersonated_user_id"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// RecoveryRecord survives reloads and holds everything needed to resume or
// undo an impersonation. Session and ImpersonatedIdentity stay empty while
// the record only holds the pre-swap capture.
type RecoveryRecord struct {
	AdminBundle          CredentialBundle `json:"admin_credential_bundle"`
	Session              *SessionRef      `json:"session,omitempty"`
	AdminIdentity        IdentitySnapshot `json:"admin_identity_snapshot"`
	ImpersonatedIdentity IdentitySnapshot `json:"impersonated_identity_snapshot"`
	CapturedAt           time.Time        `json:"captured_at"`
}

// IsComplete reports whether the record describes an established session.
func (r *RecoveryRecord) IsComplete() bool {
	return r != nil && r.Session != nil && r.Session.Token != ""
}
