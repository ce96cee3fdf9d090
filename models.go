package impersonate

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the identity store model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role          UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	FirstName     string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName      string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	Username      string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AuditEntry is one action performed under an impersonated identity.
type AuditEntry struct {
	bun.BaseModel `bun:"table:impersonation_audit_entries,alias:imae"`
	ID            uuid.UUID       `bun:"id,pk,nullzero,type:uuid" json:"id"`
	SessionToken  string          `bun:"session_token,notnull" json:"session_token"`
	ActionType    AuditActionType `bun:"action_type,notnull" json:"action_type"`
	ActionDetails map[string]any  `bun:"action_details,type:jsonb" json:"action_details,omitempty"`
	PagePath      string          `bun:"page_path" json:"page_path,omitempty"`
	OccurredAt    time.Time       `bun:"occurred_at,notnull" json:"occurred_at"`
	CreatedAt     time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// userIdentity exposes a User through the Identity interface.
type userIdentity struct {
	user *User
}

// IdentityFromUser wraps user as an Identity.
func IdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return userIdentity{user: user}
}

func (u userIdentity) ID() string {
	return u.user.ID.String()
}

func (u userIdentity) Email() string {
	return u.user.Email
}

func (u userIdentity) DisplayName() string {
	name := strings.TrimSpace(strings.Join([]string{u.user.FirstName, u.user.LastName}, " "))
	if name != "" {
		return name
	}
	if u.user.Username != "" {
		return u.user.Username
	}
	return u.user.Email
}

func (u userIdentity) IsPrivileged() bool {
	return u.user.Role.IsPrivileged()
}

func (u userIdentity) Role() UserRole {
	return u.user.Role
}
