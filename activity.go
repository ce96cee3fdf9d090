package impersonate

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSessionRequested  ActivityEventType = "impersonation.session.requested"
	ActivityEventSessionDenied     ActivityEventType = "impersonation.session.denied"
	ActivityEventSessionExchanged  ActivityEventType = "impersonation.session.exchanged"
	ActivityEventExchangeRejected  ActivityEventType = "impersonation.exchange.rejected"
	ActivityEventSessionEnded      ActivityEventType = "impersonation.session.ended"
	ActivityEventActionRecorded    ActivityEventType = "impersonation.action.recorded"
	ActivityEventIdentityRestored  ActivityEventType = "impersonation.identity.restored"
	ActivityEventRestorationFailed ActivityEventType = "impersonation.identity.restoration_failed"
)

// ActorRef identifies who/what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

const (
	ActorTypeAdmin  = "admin"
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType    ActivityEventType
	Actor        ActorRef
	TargetUserID string
	SessionID    string
	EndReason    EndReason
	Metadata     map[string]any
	OccurredAt   time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// emitActivity forwards event to sink. Sink failures are logged and never
// returned to the caller.
func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if sink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink failed", "event", string(event.EventType), "error", err)
	}
}
