package impersonate

import (
	"context"
	"strings"
	"time"
)

// Terminator ends impersonation sessions. Ending is idempotent.
type Terminator struct {
	sessions Sessions
	now      func() time.Time
	sink     ActivitySink
	logger   Logger
}

// TerminatorOption customizes the Terminator.
type TerminatorOption func(*Terminator)

// WithTerminatorClock injects a custom clock (useful for tests).
func WithTerminatorClock(clock func() time.Time) TerminatorOption {
	return func(t *Terminator) {
		if clock != nil {
			t.now = clock
		}
	}
}

// WithTerminatorActivitySink sets the sink for end events.
func WithTerminatorActivitySink(sink ActivitySink) TerminatorOption {
	return func(t *Terminator) {
		t.sink = normalizeActivitySink(sink)
	}
}

// WithTerminatorLogger overrides the logger.
func WithTerminatorLogger(logger Logger) TerminatorOption {
	return func(t *Terminator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// EndOption customizes a single EndSession call.
type EndOption func(*endOptions)

type endOptions struct {
	actorID string
}

// WithEndActor only lets the session's administrator or impersonated user
// end the session.
func WithEndActor(id string) EndOption {
	return func(o *endOptions) {
		o.actorID = strings.TrimSpace(id)
	}
}

// NewTerminator builds a Terminator.
func NewTerminator(sessions Sessions, opts ...TerminatorOption) *Terminator {
	_, logger := ResolveLogger("impersonate.terminator", nil, nil)

	t := &Terminator{
		sessions: sessions,
		now:      time.Now,
		sink:     noopActivitySink{},
		logger:   logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// EndSession marks the session as ended. Ending an already ended session
// succeeds without side effects. Issued credentials are not revoked.
func (t *Terminator) EndSession(ctx context.Context, sessionToken string, reason EndReason, opts ...EndOption) error {
	options := endOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	if reason == "" {
		reason = EndReasonManual
	}
	if !reason.IsValid() {
		return ErrInvalidRequest
	}

	session, err := t.sessions.GetByToken(ctx, sessionToken)
	if err != nil {
		return err
	}

	if options.actorID != "" &&
		options.actorID != session.AdminUserID &&
		options.actorID != session.ImpersonatedUserID {
		return ErrSessionInvalid
	}

	if session.IsEnded() {
		return nil
	}

	now := t.now().UTC()
	ended, err := t.sessions.End(ctx, sessionToken, reason, now)
	if err != nil {
		t.logger.Error("failed to end impersonation session", "session_id", session.ID.String(), "error", err)
		return err
	}
	if !ended {
		// lost the race against another terminator call
		return nil
	}

	t.logger.Info("impersonation session ended",
		"session_id", session.ID.String(),
		"admin_user_id", session.AdminUserID,
		"end_reason", string(reason),
	)

	emitActivity(ctx, t.sink, t.logger, ActivityEvent{
		EventType:    ActivityEventSessionEnded,
		Actor:        ActorRef{ID: session.AdminUserID, Type: ActorTypeAdmin},
		TargetUserID: session.ImpersonatedUserID,
		SessionID:    session.ID.String(),
		EndReason:    reason,
		Metadata: map[string]any{
			"duration": now.Sub(session.CreatedAt).String(),
		},
		OccurredAt: now,
	})

	return nil
}
