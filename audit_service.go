package impersonate

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// ActionRecord is what a client submits for one audited action.
type ActionRecord struct {
	SessionToken string
	Action       AuditAction
	PagePath     string
	OccurredAt   time.Time
}

// AuditService persists audit entries for live sessions.
type AuditService struct {
	repos  RepositoryManager
	now    func() time.Time
	sink   ActivitySink
	logger Logger
}

// AuditServiceOption customizes the AuditService.
type AuditServiceOption func(*AuditService)

// WithAuditServiceClock injects a custom clock (useful for tests).
func WithAuditServiceClock(clock func() time.Time) AuditServiceOption {
	return func(s *AuditService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithAuditServiceActivitySink publishes an event for every stored entry.
func WithAuditServiceActivitySink(sink ActivitySink) AuditServiceOption {
	return func(s *AuditService) {
		s.sink = normalizeActivitySink(sink)
	}
}

// WithAuditServiceLogger overrides the logger.
func WithAuditServiceLogger(logger Logger) AuditServiceOption {
	return func(s *AuditService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// RecordOption customizes a single RecordAction call.
type RecordOption func(*recordOptions)

type recordOptions struct {
	actorID string
}

// WithActionActor only accepts the entry from the session's administrator
// or impersonated user.
func WithActionActor(id string) RecordOption {
	return func(o *recordOptions) {
		o.actorID = strings.TrimSpace(id)
	}
}

// NewAuditService builds an AuditService.
func NewAuditService(repos RepositoryManager, opts ...AuditServiceOption) *AuditService {
	_, logger := ResolveLogger("impersonate.audit", nil, nil)

	s := &AuditService{
		repos:  repos,
		now:    time.Now,
		sink:   noopActivitySink{},
		logger: logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RecordAction stores record if its session is live. The session row is
// locked for the duration of the write so no entry lands after EndSession.
func (s *AuditService) RecordAction(ctx context.Context, record ActionRecord, opts ...RecordOption) (*AuditEntry, error) {
	options := recordOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	if err := ValidateAuditAction(record.Action); err != nil {
		return nil, err
	}

	details, err := auditActionDetails(record.Action)
	if err != nil {
		return nil, err
	}

	session, err := s.repos.Sessions().GetByToken(ctx, record.SessionToken)
	if err != nil {
		if TextCode(err) == TextCodeSessionNotFound {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}

	if options.actorID != "" &&
		options.actorID != session.AdminUserID &&
		options.actorID != session.ImpersonatedUserID {
		return nil, ErrSessionInvalid
	}

	now := s.now().UTC()
	if session.IsEnded() {
		return nil, ErrSessionEnded
	}
	if session.IsExpired(now) {
		return nil, ErrSessionExpired
	}

	occurredAt := clampOccurredAt(record.OccurredAt, session.CreatedAt, now)

	entry := &AuditEntry{
		SessionToken:  session.SessionToken,
		ActionType:    record.Action.ActionType(),
		ActionDetails: details,
		PagePath:      strings.TrimSpace(record.PagePath),
		OccurredAt:    occurredAt.UTC(),
		CreatedAt:     now,
	}

	var stored *AuditEntry
	err = s.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		live, err := s.repos.Sessions().LockLiveTx(ctx, tx, session.SessionToken)
		if err != nil {
			return err
		}
		if !live {
			return ErrSessionEnded
		}
		stored, err = s.repos.AuditEntries().AppendTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		if !IsSessionError(err) {
			s.logger.Error("failed to store audit entry", "session_id", session.ID.String(), "error", err)
		}
		return nil, err
	}

	emitActivity(ctx, s.sink, s.logger, ActivityEvent{
		EventType:    ActivityEventActionRecorded,
		Actor:        ActorRef{ID: session.AdminUserID, Type: ActorTypeAdmin},
		TargetUserID: session.ImpersonatedUserID,
		SessionID:    session.ID.String(),
		Metadata: map[string]any{
			"action_type": string(entry.ActionType),
			"page_path":   entry.PagePath,
		},
		OccurredAt: entry.OccurredAt,
	})

	return stored, nil
}

// clampOccurredAt keeps client supplied timestamps inside the session window.
func clampOccurredAt(occurredAt, createdAt, now time.Time) time.Time {
	if occurredAt.IsZero() || occurredAt.After(now) {
		return now
	}
	if occurredAt.Before(createdAt) {
		return createdAt.UTC()
	}
	return occurredAt
}
