package impersonate

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// State is the client side impersonation state.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateActive     State = "active"
	StateEnding     State = "ending"
	StateEnded      State = "ended"
)

// ControllerEventType enumerates notifications emitted to listeners.
type ControllerEventType string

const (
	EventActivated      ControllerEventType = "activated"
	EventRestored       ControllerEventType = "restored"
	EventCountdown      ControllerEventType = "countdown"
	EventExpiring       ControllerEventType = "expiring"
	EventExpired        ControllerEventType = "expired"
	EventEnded          ControllerEventType = "ended"
	EventSignInRequired ControllerEventType = "sign_in_required"
)

// ControllerEvent is delivered to listeners outside the controller lock.
type ControllerEvent struct {
	Type      ControllerEventType
	State     State
	Reason    EndReason
	Remaining time.Duration
	Admin     IdentitySnapshot
	Target    IdentitySnapshot
	Err       error
}

// Snapshot is a point in time view of the controller.
type Snapshot struct {
	State                State
	EndReason            EndReason
	AdminIdentity        IdentitySnapshot
	ImpersonatedIdentity IdentitySnapshot
	ExpiresAt            time.Time
	Remaining            time.Duration
	// Expiring is set once Remaining drops under the warning window.
	Expiring bool
}

// ControllerOption customizes the Controller.
type ControllerOption func(*Controller)

// WithControllerClock injects a custom clock (useful for tests).
func WithControllerClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithControllerLogger overrides the logger.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithControllerLoggerProvider resolves the controller logger from provider.
func WithControllerLoggerProvider(provider LoggerProvider) ControllerOption {
	return func(c *Controller) {
		if provider != nil {
			_, c.logger = ResolveLogger("impersonate.controller", provider, c.logger)
		}
	}
}

// WithControllerListener registers a listener for controller events.
func WithControllerListener(fn func(ControllerEvent)) ControllerOption {
	return func(c *Controller) {
		if fn != nil {
			c.listeners = append(c.listeners, fn)
		}
	}
}

// WithManualTimers disables the background timers. Callers drive Tick and
// LivenessCheck themselves.
func WithManualTimers() ControllerOption {
	return func(c *Controller) {
		c.manualTimers = true
	}
}

// Controller owns the client side impersonation lifecycle. It is the only
// writer of the RecoveryRecord.
type Controller struct {
	backend          Backend
	holder           CredentialHolder
	store            RecoveryStore
	now              func() time.Time
	tickInterval     time.Duration
	livenessInterval time.Duration
	expiryWarning    time.Duration
	requestTimeout   time.Duration
	manualTimers     bool
	listeners        []func(ControllerEvent)
	logger           Logger
	transitions      map[State]map[State]struct{}

	mu           sync.Mutex
	state        State
	endReason    EndReason
	record       *RecoveryRecord
	impersonated *CredentialBundle
	warned       bool
	stopTimers   chan struct{}
	timers       sync.WaitGroup

	// Audit writes hold a read lock for their whole duration. Ending takes
	// the write lock before the session is terminated.
	auditGate sync.RWMutex
}

// NewController builds an idle Controller.
func NewController(cfg Config, backend Backend, holder CredentialHolder, store RecoveryStore, opts ...ControllerOption) *Controller {
	cfg = resolveConfig(cfg)
	_, logger := ResolveLogger("impersonate.controller", nil, nil)

	c := &Controller{
		backend:          backend,
		holder:           holder,
		store:            store,
		now:              time.Now,
		tickInterval:     cfg.GetTickInterval(),
		livenessInterval: cfg.GetLivenessInterval(),
		expiryWarning:    cfg.GetExpiryWarning(),
		requestTimeout:   cfg.GetRequestTimeout(),
		logger:           logger,
		state:            StateIdle,
		transitions: map[State]map[State]struct{}{
			StateIdle: {
				StateRequesting: {},
				StateActive:     {},
				StateEnded:      {},
			},
			StateRequesting: {
				StateIdle:   {},
				StateActive: {},
				StateEnded:  {},
			},
			StateActive: {
				StateEnding: {},
			},
			StateEnding: {
				StateActive: {},
				StateEnded:  {},
			},
			StateEnded: {
				StateIdle: {},
			},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current state with countdown information.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Remaining returns the time left on the active session, zero otherwise.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return 0
	}
	return c.remainingLocked()
}

// CurrentSessionToken returns the live session token, empty unless active.
func (c *Controller) CurrentSessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || !c.record.IsComplete() {
		return ""
	}
	return c.record.Session.Token
}

// Start impersonates targetUserID. The current credentials are durably
// captured before any network call and before any identity swap.
func (c *Controller) Start(ctx context.Context, targetUserID string) (Snapshot, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return c.Snapshot(), ErrTargetNotFound
	}

	c.mu.Lock()
	switch c.state {
	case StateRequesting:
		c.mu.Unlock()
		return c.Snapshot(), ErrStartInFlight
	case StateIdle:
	default:
		c.mu.Unlock()
		return c.Snapshot(), ErrInvalidTransition
	}
	c.setStateLocked(StateRequesting)
	c.mu.Unlock()

	admin, err := c.holder.Current(ctx)
	if err == nil && admin.IsZero() {
		err = ErrNoCredentials
	}
	if err != nil {
		c.resetToIdle()
		return c.Snapshot(), err
	}

	capturedAt := c.now().UTC()
	captured := &RecoveryRecord{
		AdminBundle:   *admin,
		AdminIdentity: admin.Identity,
		CapturedAt:    capturedAt,
	}
	if err := c.store.Save(ctx, captured); err != nil {
		c.logger.Error("failed to capture administrator credentials", "error", err)
		c.resetToIdle()
		return c.Snapshot(), err
	}

	session, err := c.backend.RequestSession(ctx, *admin, targetUserID)
	if err != nil {
		return c.abortStart(ctx, admin, nil, false, err)
	}

	bundle, err := c.backend.Exchange(ctx, *admin, session.SessionToken, targetUserID)
	if err != nil {
		return c.abortStart(ctx, admin, session, false, err)
	}

	if err := c.holder.Apply(ctx, *bundle); err != nil {
		return c.abortStart(ctx, admin, session, true, err)
	}

	complete := &RecoveryRecord{
		AdminBundle: *admin,
		Session: &SessionRef{
			Token:              session.SessionToken,
			ImpersonatedUserID: session.ImpersonatedUserID,
			ExpiresAt:          session.ExpiresAt,
		},
		AdminIdentity:        admin.Identity,
		ImpersonatedIdentity: bundle.Identity,
		CapturedAt:           capturedAt,
	}
	if err := c.store.Save(ctx, complete); err != nil {
		return c.abortStart(ctx, admin, session, true, err)
	}

	c.mu.Lock()
	c.record = complete
	c.impersonated = bundle.Clone()
	c.endReason = ""
	c.warned = false
	c.setStateLocked(StateActive)
	c.startTimersLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("impersonation started",
		"admin_user_id", complete.AdminIdentity.ID,
		"impersonated_user_id", complete.Session.ImpersonatedUserID,
		"expires_at", complete.Session.ExpiresAt,
	)
	c.emit(ControllerEvent{
		Type:      EventActivated,
		State:     StateActive,
		Remaining: snap.Remaining,
		Admin:     complete.AdminIdentity,
		Target:    complete.ImpersonatedIdentity,
	})

	return snap, nil
}

// abortStart undoes a partial Start and returns cause, unless restoring the
// administrator failed, in which case a restoration error wins.
func (c *Controller) abortStart(ctx context.Context, admin *CredentialBundle, session *Session, swapped bool, cause error) (Snapshot, error) {
	cleanupCtx, cancel := c.detached(ctx)
	defer cancel()

	c.logger.Warn("impersonation start aborted", "error", cause, "swapped", swapped)

	var restoreErr error
	if swapped {
		restoreErr = c.holder.Apply(cleanupCtx, *admin)
	}

	if session != nil {
		if err := c.backend.EndSession(cleanupCtx, *admin, session.SessionToken, EndReasonError); err != nil {
			c.logger.Warn("failed to end orphaned impersonation session", "error", err)
		}
	}

	if restoreErr != nil {
		return c.Snapshot(), c.failRestoration(cleanupCtx, admin.Identity, restoreErr)
	}

	if err := c.store.Clear(cleanupCtx); err != nil {
		c.logger.Warn("failed to clear recovery record", "error", err)
	}
	c.resetToIdle()
	return c.Snapshot(), cause
}

// End terminates the active session and restores the administrator. Calling
// End while already ending or ended is a no-op.
func (c *Controller) End(ctx context.Context, reason EndReason) error {
	if reason == "" {
		reason = EndReasonManual
	}
	if !reason.IsValid() {
		return ErrInvalidRequest
	}

	c.mu.Lock()
	switch c.state {
	case StateEnding, StateEnded:
		c.mu.Unlock()
		return nil
	case StateActive:
	default:
		c.mu.Unlock()
		return ErrNotActive
	}
	c.setStateLocked(StateEnding)
	record := c.record
	c.stopTimersLocked()
	c.mu.Unlock()

	return c.finish(ctx, record, reason, reason == EndReasonManual)
}

// Tick recomputes the countdown and runs the expiry path once it reaches
// zero. It returns the remaining time.
func (c *Controller) Tick(ctx context.Context) time.Duration {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return 0
	}
	remaining := c.remainingLocked()
	warn := remaining > 0 && c.expiryWarning > 0 && remaining <= c.expiryWarning && !c.warned
	if warn {
		c.warned = true
	}
	state := c.state
	c.mu.Unlock()

	if remaining <= 0 {
		if err := c.expire(ctx); err != nil {
			c.logger.Error("impersonation expiry failed", "error", err)
		}
		return 0
	}

	c.emit(ControllerEvent{Type: EventCountdown, State: state, Remaining: remaining})
	if warn {
		c.emit(ControllerEvent{Type: EventExpiring, State: state, Remaining: remaining})
	}
	return remaining
}

// LivenessCheck re-evaluates expiry independently of Tick and makes sure the
// durable RecoveryRecord still matches the active session. A record that went
// missing is written back from memory.
func (c *Controller) LivenessCheck(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	remaining := c.remainingLocked()
	record := c.record
	c.mu.Unlock()

	if remaining <= 0 {
		return c.expire(ctx)
	}

	stored, err := c.store.Load(ctx)
	if err != nil && !IsRestorationError(err) {
		c.logger.Warn("liveness check could not read recovery record", "error", err)
		return nil
	}
	if stored.IsComplete() && stored.Session.Token == record.Session.Token {
		return nil
	}

	// End may have run while the record was loading. Holding mu keeps it
	// from moving to ending until the rewrite is done.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.record != record {
		return nil
	}

	c.logger.Warn("recovery record missing while active, rewriting it")
	if err := c.store.Save(ctx, record); err != nil {
		c.logger.Error("failed to rewrite recovery record", "error", err)
		return err
	}
	return nil
}

// RestoreOnReload resumes an impersonation persisted by a previous process.
// Stale or expired records are discarded and the controller stays idle.
func (c *Controller) RestoreOnReload(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return c.Snapshot(), ErrInvalidTransition
	}
	c.mu.Unlock()

	record, err := c.store.Load(ctx)
	if err != nil {
		if IsRestorationError(err) {
			c.logger.Warn("discarding unreadable recovery record", "error", err)
			c.discardRecord(ctx)
			return c.Snapshot(), nil
		}
		return c.Snapshot(), err
	}
	if record == nil {
		return c.Snapshot(), nil
	}

	current, err := c.holder.Current(ctx)
	if err != nil {
		return c.Snapshot(), err
	}
	currentID := ""
	if !current.IsZero() {
		currentID = current.Identity.ID
	}

	if !record.IsComplete() {
		// a previous Start died between capture and completion
		if currentID != "" && currentID != record.AdminIdentity.ID {
			if err := c.holder.Apply(ctx, record.AdminBundle); err != nil {
				return c.Snapshot(), c.failRestoration(ctx, record.AdminIdentity, err)
			}
		}
		c.discardRecord(ctx)
		return c.Snapshot(), nil
	}

	if currentID != record.Session.ImpersonatedUserID {
		c.discardRecord(ctx)
		return c.Snapshot(), nil
	}

	now := c.now()
	if !now.Before(record.Session.ExpiresAt) {
		if err := c.holder.Apply(ctx, record.AdminBundle); err != nil {
			return c.Snapshot(), c.failRestoration(ctx, record.AdminIdentity, err)
		}
		if err := c.backend.EndSession(ctx, record.AdminBundle, record.Session.Token, EndReasonExpired); err != nil {
			c.logger.Warn("failed to end expired impersonation session", "error", err)
		}
		c.discardRecord(ctx)
		c.emit(ControllerEvent{
			Type:   EventExpired,
			State:  StateIdle,
			Reason: EndReasonExpired,
			Admin:  record.AdminIdentity,
			Target: record.ImpersonatedIdentity,
		})
		return c.Snapshot(), nil
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return c.Snapshot(), ErrInvalidTransition
	}
	c.record = record
	c.impersonated = current
	c.endReason = ""
	c.warned = false
	c.setStateLocked(StateActive)
	c.startTimersLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("impersonation restored",
		"admin_user_id", record.AdminIdentity.ID,
		"impersonated_user_id", record.Session.ImpersonatedUserID,
		"remaining", snap.Remaining.String(),
	)
	c.emit(ControllerEvent{
		Type:      EventRestored,
		State:     StateActive,
		Remaining: snap.Remaining,
		Admin:     record.AdminIdentity,
		Target:    record.ImpersonatedIdentity,
	})
	return snap, nil
}

// Acknowledge moves an ended controller back to idle once the end or expiry
// notice was shown.
func (c *Controller) Acknowledge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		return nil
	case StateEnded:
		c.endReason = ""
		c.setStateLocked(StateIdle)
		return nil
	default:
		return ErrInvalidTransition
	}
}

// Close stops the background timers. The session itself is kept so a new
// process can pick it up with RestoreOnReload.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopTimersLocked()
	c.mu.Unlock()
	c.timers.Wait()
}

func (c *Controller) expire(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateEnding)
	record := c.record
	c.stopTimersLocked()
	c.mu.Unlock()

	return c.finish(ctx, record, EndReasonExpired, false)
}

// finish runs with the controller in the ending state.
func (c *Controller) finish(ctx context.Context, record *RecoveryRecord, reason EndReason, abortOnFailure bool) error {
	// wait for in-flight audit writes, new ones see the ending state
	c.auditGate.Lock()
	c.auditGate.Unlock()

	err := c.backend.EndSession(ctx, record.AdminBundle, record.Session.Token, reason)
	if err != nil && !IsNotFoundError(err) {
		if abortOnFailure {
			c.logger.Warn("impersonation end failed, session stays active", "error", err)
			c.mu.Lock()
			c.setStateLocked(StateActive)
			c.startTimersLocked()
			c.mu.Unlock()
			return err
		}
		c.logger.Warn("session terminator unreachable, restoring locally", "reason", string(reason), "error", err)
	}

	if applyErr := c.holder.Apply(ctx, record.AdminBundle); applyErr != nil {
		return c.failRestoration(ctx, record.AdminIdentity, applyErr)
	}

	if clearErr := c.store.Clear(ctx); clearErr != nil {
		c.logger.Warn("failed to clear recovery record", "error", clearErr)
	}

	c.mu.Lock()
	c.record = nil
	c.impersonated = nil
	c.endReason = reason
	c.setStateLocked(StateEnded)
	c.mu.Unlock()

	c.logger.Info("impersonation ended",
		"admin_user_id", record.AdminIdentity.ID,
		"impersonated_user_id", record.Session.ImpersonatedUserID,
		"reason", string(reason),
	)

	event := ControllerEvent{
		State:  StateEnded,
		Reason: reason,
		Admin:  record.AdminIdentity,
		Target: record.ImpersonatedIdentity,
		Err:    err,
	}
	if reason == EndReasonExpired {
		event.Type = EventExpired
		c.emit(event)
	}
	event.Type = EventEnded
	c.emit(event)
	return nil
}

// failRestoration clears every identity so the user is forced to sign in.
func (c *Controller) failRestoration(ctx context.Context, admin IdentitySnapshot, cause error) error {
	c.logger.Error("unable to restore administrator identity", "admin_user_id", admin.ID, "error", cause)

	if err := c.holder.Clear(ctx); err != nil {
		c.logger.Error("failed to clear credentials", "error", err)
	}
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("failed to clear recovery record", "error", err)
	}

	c.mu.Lock()
	c.record = nil
	c.impersonated = nil
	c.endReason = EndReasonError
	c.stopTimersLocked()
	c.setStateLocked(StateEnded)
	c.mu.Unlock()

	restoreErr := goerrors.Wrap(cause, goerrors.CategoryInternal, ErrRestorationFailed.Message).
		WithTextCode(TextCodeRestoration).
		WithCode(goerrors.CodeInternal)

	c.emit(ControllerEvent{
		Type:   EventSignInRequired,
		State:  StateEnded,
		Reason: EndReasonError,
		Admin:  admin,
		Err:    restoreErr,
	})
	return restoreErr
}

func (c *Controller) discardRecord(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("failed to discard recovery record", "error", err)
	}
}

func (c *Controller) resetToIdle() {
	c.mu.Lock()
	c.record = nil
	c.impersonated = nil
	c.setStateLocked(StateIdle)
	c.mu.Unlock()
}

// auditTicket grants one audit write. release must be called when done.
type auditTicket struct {
	sessionToken string
	creds        CredentialBundle
	release      func()
}

func (c *Controller) acquireAuditTicket() (auditTicket, bool) {
	// fails while an end is waiting for in-flight writes
	if !c.auditGate.TryRLock() {
		return auditTicket{}, false
	}

	c.mu.Lock()
	active := c.state == StateActive && c.record.IsComplete() && c.impersonated != nil
	ticket := auditTicket{}
	if active {
		ticket.sessionToken = c.record.Session.Token
		ticket.creds = *c.impersonated
	}
	c.mu.Unlock()

	if !active {
		c.auditGate.RUnlock()
		return auditTicket{}, false
	}
	ticket.release = c.auditGate.RUnlock
	return ticket, true
}

func (c *Controller) setStateLocked(to State) {
	if c.state == to {
		return
	}
	if allowed, ok := c.transitions[c.state]; ok {
		if _, exists := allowed[to]; exists {
			c.state = to
			return
		}
	}
	// only reachable through a programming error
	c.logger.Error("unexpected impersonation state transition", "from", string(c.state), "to", string(to))
	c.state = to
}

func (c *Controller) remainingLocked() time.Duration {
	if !c.record.IsComplete() {
		return 0
	}
	if d := c.record.Session.ExpiresAt.Sub(c.now()); d > 0 {
		return d
	}
	return 0
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:     c.state,
		EndReason: c.endReason,
	}
	if c.record != nil {
		snap.AdminIdentity = c.record.AdminIdentity
		snap.ImpersonatedIdentity = c.record.ImpersonatedIdentity
		if c.record.Session != nil {
			snap.ExpiresAt = c.record.Session.ExpiresAt
		}
	}
	if c.state == StateActive {
		snap.Remaining = c.remainingLocked()
		snap.Expiring = c.expiryWarning > 0 && snap.Remaining <= c.expiryWarning
	}
	return snap
}

func (c *Controller) startTimersLocked() {
	if c.manualTimers || c.stopTimers != nil {
		return
	}
	stop := make(chan struct{})
	c.stopTimers = stop

	c.timers.Add(2)
	go c.runTimer(stop, c.tickInterval, func(ctx context.Context) {
		c.Tick(ctx)
	})
	go c.runTimer(stop, c.livenessInterval, func(ctx context.Context) {
		if err := c.LivenessCheck(ctx); err != nil {
			c.logger.Warn("liveness check failed", "error", err)
		}
	})
}

func (c *Controller) stopTimersLocked() {
	if c.stopTimers != nil {
		close(c.stopTimers)
		c.stopTimers = nil
	}
}

func (c *Controller) runTimer(stop <-chan struct{}, every time.Duration, fn func(context.Context)) {
	defer c.timers.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
			fn(ctx)
			cancel()
		}
	}
}

func (c *Controller) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout)
}

func (c *Controller) emit(event ControllerEvent) {
	for _, fn := range c.listeners {
		fn(event)
	}
}
