package activitymap

import (
	"context"
	"strings"
	"time"

	impersonate "github.com/goliatone/go-impersonate"
)

const (
	// MetadataKeyActorType stores the actor type derived from impersonate.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeySessionID stores the impersonation session id.
	MetadataKeySessionID = "session_id"
	// MetadataKeyEndReason stores why a session ended.
	MetadataKeyEndReason = "end_reason"
	// MetadataKeyAdminUserID stores the administrator behind an audited action.
	MetadataKeyAdminUserID = "admin_user_id"
	// MetadataKeyPagePath stores the page an audited action happened on.
	MetadataKeyPagePath = "page_path"
)

const (
	defaultChannel    = "impersonation"
	defaultObjectType = "user"
	defaultActorID    = "system"

	auditVerbPrefix = "impersonation.audit."
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(impersonate.ActivityEvent) string
}

// Normalize converts an impersonate.ActivityEvent into a generic normalized shape.
func Normalize(event impersonate.ActivityEvent, opts ...Option) Normalized {
	options := resolveOptions(opts)

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(options.actorFallback),
	)

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt(event.OccurredAt),
	}
}

// NormalizeAuditEntry converts an audit entry into the normalized shape. The
// impersonated user is the actor and the administrator travels in metadata.
// session may be nil when only the entry is at hand.
func NormalizeAuditEntry(entry impersonate.AuditEntry, session *impersonate.Session, opts ...Option) Normalized {
	options := resolveOptions(opts)

	metadata := cloneMap(entry.ActionDetails)
	if metadata == nil {
		metadata = map[string]any{}
	}
	if path := strings.TrimSpace(entry.PagePath); path != "" {
		metadata[MetadataKeyPagePath] = path
	}

	actorID := ""
	objectID := ""
	if session != nil {
		actorID = strings.TrimSpace(session.ImpersonatedUserID)
		objectID = strings.TrimSpace(session.ImpersonatedUserID)
		metadata[MetadataKeySessionID] = session.ID.String()
		if admin := strings.TrimSpace(session.AdminUserID); admin != "" {
			metadata[MetadataKeyAdminUserID] = admin
			metadata[MetadataKeyActorType] = impersonate.ActorTypeAdmin
		}
	}

	return Normalized{
		ActorID:    firstNonEmpty(actorID, strings.TrimSpace(options.actorFallback)),
		Verb:       auditVerbPrefix + string(entry.ActionType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   metadata,
		OccurredAt: occurredAt(entry.OccurredAt),
	}
}

// Sink adapts fn into an impersonate.ActivitySink that forwards normalized records.
func Sink(fn func(ctx context.Context, record Normalized) error, opts ...Option) impersonate.ActivitySink {
	return impersonate.ActivitySinkFunc(func(ctx context.Context, event impersonate.ActivityEvent) error {
		if fn == nil {
			return nil
		}
		return fn(ctx, Normalize(event, opts...))
	})
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(impersonate.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event carries none.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func resolveOptions(opts []Option) normalizeOptions {
	options := normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func resolveObjectID(event impersonate.ActivityEvent, resolver func(impersonate.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return strings.TrimSpace(event.TargetUserID)
}

func normalizeMetadata(event impersonate.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	set := func(key string, value string, overwrite bool) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; exists && !overwrite {
			return
		}
		metadata[key] = value
	}

	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type), false)
	set(MetadataKeySessionID, strings.TrimSpace(event.SessionID), true)
	set(MetadataKeyEndReason, string(event.EndReason), true)

	return metadata
}

func occurredAt(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
