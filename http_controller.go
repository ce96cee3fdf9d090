package impersonate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const claimsLocalsKey = "impersonate.claims"

// Route paths relative to the configured prefix.
const (
	RouteSessions = "/sessions"
	RouteExchange = "/exchange"
	RouteEnd      = "/end"
	RouteActions  = "/actions"
)

// RequestSessionPayload asks for a new impersonation session.
type RequestSessionPayload struct {
	TargetUserID string `json:"target_user_id"`
}

// Validate will run validation rules
func (p RequestSessionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.TargetUserID, validation.Required),
	)
}

// SessionResponse is returned by the request endpoint.
type SessionResponse struct {
	SessionToken       string    `json:"session_token"`
	AdminUserID        string    `json:"admin_user_id"`
	ImpersonatedUserID string    `json:"impersonated_user_id"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// ExchangePayload trades a session token for credentials.
type ExchangePayload struct {
	SessionToken string `json:"session_token"`
	TargetUserID string `json:"target_user_id"`
}

// Validate will run validation rules
func (p ExchangePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.SessionToken, validation.Required),
		validation.Field(&p.TargetUserID, validation.Required),
	)
}

// EndSessionPayload terminates a session.
type EndSessionPayload struct {
	SessionToken string `json:"session_token"`
	Reason       string `json:"reason,omitempty"`
}

// Validate will run validation rules
func (p EndSessionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.SessionToken, validation.Required),
		validation.Field(&p.Reason, validation.In(
			string(EndReasonManual),
			string(EndReasonExpired),
			string(EndReasonError),
		)),
	)
}

// RecordActionPayload submits one audit entry.
type RecordActionPayload struct {
	SessionToken  string          `json:"session_token"`
	ActionType    string          `json:"action_type"`
	ActionDetails json.RawMessage `json:"action_details,omitempty"`
	PagePath      string          `json:"page_path,omitempty"`
	OccurredAt    *time.Time      `json:"occurred_at,omitempty"`
}

// Validate will run validation rules
func (p RecordActionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.SessionToken, validation.Required),
		validation.Field(&p.ActionType, validation.Required),
	)
}

// ErrorBody is the error envelope of every endpoint.
type ErrorBody struct {
	Message  string `json:"message"`
	TextCode string `json:"text_code,omitempty"`
	Category string `json:"category,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// HTTPController exposes the server components over go-router.
type HTTPController struct {
	Debug      bool
	Logger     Logger
	prefix     string
	tokens     TokenService
	issuer     *Issuer
	exchanger  *Exchanger
	terminator *Terminator
	audit      *AuditService
}

// HTTPControllerOption customizes the HTTPController.
type HTTPControllerOption func(*HTTPController)

// WithHTTPControllerLogger overrides the logger.
func WithHTTPControllerLogger(logger Logger) HTTPControllerOption {
	return func(h *HTTPController) {
		if logger != nil {
			h.Logger = logger
		}
	}
}

// WithHTTPControllerDebug logs request payloads.
func WithHTTPControllerDebug(debug bool) HTTPControllerOption {
	return func(h *HTTPController) {
		h.Debug = debug
	}
}

// NewHTTPController builds the controller. RegisterHTTPRoutes mounts it under
// cfg.GetRoutePrefix().
func NewHTTPController(cfg Config, tokens TokenService, issuer *Issuer, exchanger *Exchanger, terminator *Terminator, audit *AuditService, opts ...HTTPControllerOption) *HTTPController {
	cfg = resolveConfig(cfg)
	_, logger := ResolveLogger("impersonate.http", nil, nil)

	h := &HTTPController{
		Logger:     logger,
		prefix:     cfg.GetRoutePrefix(),
		tokens:     tokens,
		issuer:     issuer,
		exchanger:  exchanger,
		terminator: terminator,
		audit:      audit,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.tokens == nil || h.issuer == nil || h.exchanger == nil || h.terminator == nil || h.audit == nil {
		panic("impersonate: HTTPController requires token service, issuer, exchanger, terminator and audit service")
	}
	return h
}

// RegisterHTTPRoutes mounts the impersonation routes of ctrl on app.
func RegisterHTTPRoutes[T any](app router.Router[T], ctrl *HTTPController) {
	grp := app.Group(ctrl.prefix)

	grp.Post(RouteSessions, ctrl.RequestSession, ctrl.RequireBearer()).
		SetName("impersonation.sessions.post")
	grp.Post(RouteExchange, ctrl.Exchange, ctrl.RequireBearer()).
		SetName("impersonation.exchange.post")

	// the session token authorizes these, a bearer only narrows the actor
	grp.Post(RouteEnd, ctrl.EndSession, ctrl.OptionalBearer()).
		SetName("impersonation.end.post")
	grp.Post(RouteActions, ctrl.RecordAction, ctrl.OptionalBearer()).
		SetName("impersonation.actions.post")
}

// RequireBearer rejects requests without a valid access token.
func (h *HTTPController) RequireBearer() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			claims, err := authenticate(h.tokens, bearerToken(c))
			if err != nil {
				return h.handleError(c, err)
			}
			setClaims(c, claims)
			return next(c)
		}
	}
}

// OptionalBearer stores the claims of a valid access token, if any.
func (h *HTTPController) OptionalBearer() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if claims, err := authenticate(h.tokens, bearerToken(c)); err == nil {
				setClaims(c, claims)
			}
			return next(c)
		}
	}
}

func (h *HTTPController) RequestSession(c router.Context) error {
	claims := claimsFromLocals(c)
	if claims == nil {
		return h.handleError(c, ErrUnauthenticated)
	}
	if claims.IsImpersonated() {
		return h.handleError(c, ErrNotPrivileged)
	}

	payload := RequestSessionPayload{}
	if err := h.bind(c, &payload); err != nil {
		return h.handleError(c, err)
	}

	session, err := h.issuer.RequestSession(c.Context(), claims.UserID(), payload.TargetUserID)
	if err != nil {
		return h.handleError(c, err)
	}

	return c.JSON(http.StatusCreated, SessionResponse{
		SessionToken:       session.SessionToken,
		AdminUserID:        session.AdminUserID,
		ImpersonatedUserID: session.ImpersonatedUserID,
		CreatedAt:          session.CreatedAt,
		ExpiresAt:          session.ExpiresAt,
	})
}

func (h *HTTPController) Exchange(c router.Context) error {
	claims := claimsFromLocals(c)
	if claims == nil {
		return h.handleError(c, ErrUnauthenticated)
	}

	payload := ExchangePayload{}
	if err := h.bind(c, &payload); err != nil {
		return h.handleError(c, err)
	}

	bundle, err := h.exchanger.Exchange(c.Context(), payload.SessionToken, payload.TargetUserID,
		WithExchangeRequester(claims.UserID()),
	)
	if err != nil {
		return h.handleError(c, err)
	}

	return c.JSON(http.StatusOK, bundle)
}

func (h *HTTPController) EndSession(c router.Context) error {
	payload := EndSessionPayload{}
	if err := h.bind(c, &payload); err != nil {
		return h.handleError(c, err)
	}

	reason, err := ParseEndReason(payload.Reason)
	if err != nil {
		return h.handleError(c, err)
	}

	var opts []EndOption
	if claims := claimsFromLocals(c); claims != nil {
		opts = append(opts, WithEndActor(claims.UserID()))
	}

	if err := h.terminator.EndSession(c.Context(), payload.SessionToken, reason, opts...); err != nil {
		return h.handleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (h *HTTPController) RecordAction(c router.Context) error {
	payload := RecordActionPayload{}
	if err := h.bind(c, &payload); err != nil {
		return h.handleError(c, err)
	}

	action, err := DecodeAuditAction(payload.ActionType, payload.ActionDetails)
	if err != nil {
		return h.handleError(c, err)
	}

	record := ActionRecord{
		SessionToken: payload.SessionToken,
		Action:       action,
		PagePath:     payload.PagePath,
	}
	if payload.OccurredAt != nil {
		record.OccurredAt = *payload.OccurredAt
	}

	var opts []RecordOption
	if claims := claimsFromLocals(c); claims != nil {
		opts = append(opts, WithActionActor(claims.UserID()))
	}

	entry, err := h.audit.RecordAction(c.Context(), record, opts...)
	if err != nil {
		return h.handleError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"id":          entry.ID.String(),
		"occurred_at": entry.OccurredAt,
	})
}

func (h *HTTPController) bind(c router.Context, payload interface{ Validate() error }) error {
	if err := c.Bind(payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed request body").
			WithTextCode(TextCodeInvalidRequest).
			WithCode(goerrors.CodeBadRequest)
	}

	if h.Debug {
		h.Logger.Debug("impersonation request", "path", c.Path(), "payload", print.MaybePrettyJSON(payload))
	}

	if err := payload.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, ErrInvalidRequest.Message).
			WithTextCode(TextCodeInvalidRequest).
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

func (h *HTTPController) handleError(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	logArgs := []any{
		"path", c.Path(),
		"status", status,
		"error", richErr.Message,
		"text_code", richErr.TextCode,
	}
	if len(richErr.Metadata) > 0 {
		logArgs = append(logArgs, "details", print.MaybePrettyJSON(richErr.Metadata))
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("impersonation request failed", logArgs...)
	} else {
		h.Logger.Info("impersonation request rejected", logArgs...)
	}

	message := richErr.Message
	if status >= http.StatusInternalServerError && richErr.TextCode == "" {
		message = "An unexpected server error occurred"
	}

	return c.JSON(status, errorResponse{
		Error: ErrorBody{
			Message:  message,
			TextCode: richErr.TextCode,
			Category: fmt.Sprint(richErr.Category),
		},
	})
}

func bearerToken(c router.Context) string {
	header := strings.TrimSpace(c.Header("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// setClaims exposes claims to handlers and to the request context, where
// feature gate claim providers read them.
func setClaims(c router.Context, claims *Claims) {
	c.Locals(claimsLocalsKey, claims)
	c.SetContext(WithClaimsContext(c.Context(), claims))
}

func claimsFromLocals(c router.Context) *Claims {
	claims, _ := c.Locals(claimsLocalsKey).(*Claims)
	return claims
}

// ClaimsFromRouterContext returns the access token claims a bearer
// middleware stored on c.
func ClaimsFromRouterContext(c router.Context) (*Claims, bool) {
	claims := claimsFromLocals(c)
	return claims, claims != nil
}
