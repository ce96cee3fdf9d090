package impersonate

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// HTTPBackend reaches an HTTPController over the network.
type HTTPBackend struct {
	baseURL string
	prefix  string
	timeout time.Duration
	logger  Logger
}

var _ Backend = (*HTTPBackend)(nil)

// HTTPBackendOption customizes the HTTPBackend.
type HTTPBackendOption func(*HTTPBackend)

// WithHTTPBackendLogger overrides the logger.
func WithHTTPBackendLogger(logger Logger) HTTPBackendOption {
	return func(b *HTTPBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewHTTPBackend targets the server at baseURL, e.g. "https://admin.example.com".
// The route prefix and request timeout come from cfg.
func NewHTTPBackend(cfg Config, baseURL string, opts ...HTTPBackendOption) *HTTPBackend {
	cfg = resolveConfig(cfg)
	_, logger := ResolveLogger("impersonate.http_backend", nil, nil)

	b := &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  cfg.GetRoutePrefix(),
		timeout: cfg.GetRequestTimeout(),
		logger:  logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *HTTPBackend) RequestSession(ctx context.Context, creds CredentialBundle, targetUserID string) (*Session, error) {
	out := &SessionResponse{}
	if err := b.post(ctx, RouteSessions, creds, RequestSessionPayload{TargetUserID: targetUserID}, out); err != nil {
		return nil, err
	}
	return &Session{
		SessionToken:       out.SessionToken,
		AdminUserID:        out.AdminUserID,
		ImpersonatedUserID: out.ImpersonatedUserID,
		CreatedAt:          out.CreatedAt,
		ExpiresAt:          out.ExpiresAt,
	}, nil
}

func (b *HTTPBackend) Exchange(ctx context.Context, creds CredentialBundle, sessionToken, targetUserID string) (*CredentialBundle, error) {
	out := &CredentialBundle{}
	payload := ExchangePayload{
		SessionToken: sessionToken,
		TargetUserID: targetUserID,
	}
	if err := b.post(ctx, RouteExchange, creds, payload, out); err != nil {
		return nil, err
	}
	if out.IsZero() {
		return nil, NewTransportError(goerrors.New("empty credential bundle", goerrors.CategoryOperation), "")
	}
	return out, nil
}

func (b *HTTPBackend) EndSession(ctx context.Context, creds CredentialBundle, sessionToken string, reason EndReason) error {
	payload := EndSessionPayload{
		SessionToken: sessionToken,
		Reason:       string(reason),
	}
	return b.post(ctx, RouteEnd, creds, payload, nil)
}

func (b *HTTPBackend) RecordAction(ctx context.Context, creds CredentialBundle, record ActionRecord) error {
	if err := ValidateAuditAction(record.Action); err != nil {
		return err
	}

	details, err := json.Marshal(record.Action)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode audit action")
	}

	payload := RecordActionPayload{
		SessionToken:  record.SessionToken,
		ActionType:    string(record.Action.ActionType()),
		ActionDetails: details,
		PagePath:      record.PagePath,
	}
	if !record.OccurredAt.IsZero() {
		occurred := record.OccurredAt.UTC()
		payload.OccurredAt = &occurred
	}
	return b.post(ctx, RouteActions, creds, payload, nil)
}

func (b *HTTPBackend) post(ctx context.Context, route string, creds CredentialBundle, payload, out any) error {
	if err := ctx.Err(); err != nil {
		return NewTransportError(err, "impersonation request cancelled")
	}

	timeout := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return NewTransportError(context.DeadlineExceeded, "impersonation request timed out")
	}

	url := b.baseURL + b.prefix + route
	agent := fiber.Post(url).
		Timeout(timeout).
		JSON(payload)
	if token := strings.TrimSpace(creds.AccessToken); token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		b.logger.Warn("impersonation request failed", "url", url, "error", errs[0])
		return NewTransportError(errs[0], "impersonation backend unreachable")
	}

	if status >= http.StatusBadRequest {
		return decodeErrorResponse(status, body)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewTransportError(err, "malformed impersonation response")
	}
	return nil
}

func decodeErrorResponse(status int, body []byte) error {
	resp := errorResponse{}
	_ = json.Unmarshal(body, &resp)

	if err := errorFromTextCode(resp.Error.TextCode, resp.Error.Message); err != nil {
		return err
	}

	message := resp.Error.Message
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return goerrors.New(message, goerrors.CategoryAuth).
			WithTextCode(TextCodeUnauthenticated).
			WithCode(status)
	case status == http.StatusForbidden:
		return goerrors.New(message, goerrors.CategoryAuthz).
			WithTextCode(TextCodeNotPrivileged).
			WithCode(status)
	case status < http.StatusInternalServerError:
		return goerrors.New(message, goerrors.CategoryBadInput).
			WithTextCode(TextCodeInvalidRequest).
			WithCode(status)
	default:
		return NewTransportError(goerrors.New(message, goerrors.CategoryOperation).WithCode(status), message)
	}
}
