package impersonate

import (
	"context"
	"sync"
	"time"
)

// Recorder writes audit entries for actions taken while impersonating.
// Recording never blocks the caller and never fails it.
type Recorder struct {
	controller *Controller
	backend    Backend
	timeout    time.Duration
	now        func() time.Time
	logger     Logger
	inflight   sync.WaitGroup
}

// RecorderOption customizes the Recorder.
type RecorderOption func(*Recorder)

// WithRecorderClock injects a custom clock (useful for tests).
func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithRecorderLogger overrides the logger.
func WithRecorderLogger(logger Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecorder builds a Recorder bound to controller.
func NewRecorder(cfg Config, controller *Controller, backend Backend, opts ...RecorderOption) *Recorder {
	cfg = resolveConfig(cfg)
	_, logger := ResolveLogger("impersonate.recorder", nil, nil)

	r := &Recorder{
		controller: controller,
		backend:    backend,
		timeout:    cfg.GetAuditTimeout(),
		now:        time.Now,
		logger:     logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Record queues action for pagePath. It returns false when nothing was
// queued: the action was invalid or no impersonation is active.
func (r *Recorder) Record(ctx context.Context, action AuditAction, pagePath string) bool {
	if err := ValidateAuditAction(action); err != nil {
		r.logger.Warn("dropping invalid audit action", "error", err)
		return false
	}

	ticket, ok := r.controller.acquireAuditTicket()
	if !ok {
		return false
	}

	record := ActionRecord{
		SessionToken: ticket.sessionToken,
		Action:       action,
		PagePath:     pagePath,
		OccurredAt:   r.now().UTC(),
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer ticket.release()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.backend.RecordAction(writeCtx, ticket.creds, record); err != nil {
			r.logger.Warn("audit write failed",
				"action_type", string(action.ActionType()),
				"page_path", pagePath,
				"error", err,
			)
		}
	}()
	return true
}

// Wait blocks until every queued write finished.
func (r *Recorder) Wait() {
	r.inflight.Wait()
}
