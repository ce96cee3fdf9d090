package impersonate

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNotPrivileged     = "IMPERSONATION_NOT_PRIVILEGED"
	TextCodeTargetPrivileged  = "IMPERSONATION_TARGET_PRIVILEGED"
	TextCodeSelfImpersonation = "IMPERSONATION_SELF_TARGET"
	TextCodeDisabled          = "IMPERSONATION_DISABLED"
	TextCodeUnauthenticated   = "IMPERSONATION_UNAUTHENTICATED"
	TextCodeTargetNotFound    = "IMPERSONATION_TARGET_NOT_FOUND"
	TextCodeIdentityNotFound  = "IDENTITY_NOT_FOUND"
	TextCodeSessionNotFound   = "IMPERSONATION_SESSION_NOT_FOUND"
	TextCodeSessionInvalid    = "IMPERSONATION_SESSION_INVALID"
	TextCodeSessionExpired    = "IMPERSONATION_SESSION_EXPIRED"
	TextCodeSessionEnded      = "IMPERSONATION_SESSION_ENDED"
	TextCodeTransport         = "IMPERSONATION_TRANSPORT_ERROR"
	TextCodeRestoration       = "IMPERSONATION_RESTORATION_FAILED"
	TextCodeStartInFlight     = "IMPERSONATION_START_IN_FLIGHT"
	TextCodeInvalidTransition = "IMPERSONATION_INVALID_TRANSITION"
	TextCodeNotActive         = "IMPERSONATION_NOT_ACTIVE"
	TextCodeNoCredentials     = "IMPERSONATION_NO_CREDENTIALS"
	TextCodeInvalidAction     = "IMPERSONATION_INVALID_AUDIT_ACTION"
	TextCodeInvalidRequest    = "IMPERSONATION_INVALID_REQUEST"
)

// ErrorKind groups errors by how callers should react to them.
type ErrorKind string

const (
	KindUnknown       ErrorKind = ""
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindSession       ErrorKind = "session"
	KindTransport     ErrorKind = "transport"
	KindRestoration   ErrorKind = "restoration"
	KindController    ErrorKind = "controller"
	KindValidation    ErrorKind = "validation"
)

// ErrNotPrivileged is returned when the requester may not impersonate.
var ErrNotPrivileged = goerrors.New("requester is not allowed to impersonate", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotPrivileged).
	WithCode(goerrors.CodeForbidden)

// ErrTargetPrivileged is returned when the target is itself privileged.
var ErrTargetPrivileged = goerrors.New("privileged identities cannot be impersonated", goerrors.CategoryAuthz).
	WithTextCode(TextCodeTargetPrivileged).
	WithCode(goerrors.CodeForbidden)

// ErrSelfImpersonation is returned when requester and target are the same identity.
var ErrSelfImpersonation = goerrors.New("cannot impersonate yourself", goerrors.CategoryAuthz).
	WithTextCode(TextCodeSelfImpersonation).
	WithCode(goerrors.CodeForbidden)

// ErrImpersonationDisabled is returned when the feature gate is off.
var ErrImpersonationDisabled = goerrors.New("impersonation is disabled", goerrors.CategoryAuthz).
	WithTextCode(TextCodeDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrUnauthenticated is returned when the caller presents no valid credentials.
var ErrUnauthenticated = goerrors.New("missing or invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrIdentityNotFound is the error IdentityStore implementations return for unknown ids.
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTargetNotFound is returned when the impersonation target does not exist.
var ErrTargetNotFound = goerrors.New("target identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTargetNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrSessionNotFound is returned when ending an unknown session.
var ErrSessionNotFound = goerrors.New("impersonation session not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrSessionInvalid is returned for unknown tokens or mismatched targets.
var ErrSessionInvalid = goerrors.New("impersonation session is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionExpired is returned once expires_at has passed.
var ErrSessionExpired = goerrors.New("impersonation session expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionEnded is returned once the session was terminated.
var ErrSessionEnded = goerrors.New("impersonation session ended", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionEnded).
	WithCode(goerrors.CodeUnauthorized)

// ErrTransport is the base transport failure. Use NewTransportError to wrap a cause.
var ErrTransport = goerrors.New("impersonation transport failure", goerrors.CategoryOperation).
	WithTextCode(TextCodeTransport).
	WithCode(http.StatusBadGateway)

// ErrRestorationFailed is returned when the administrator identity could not
// be restored. The client is signed out and must sign in again.
var ErrRestorationFailed = goerrors.New("unable to restore original identity", goerrors.CategoryInternal).
	WithTextCode(TextCodeRestoration).
	WithCode(goerrors.CodeInternal)

// ErrStartInFlight is returned when Start is called while a request is pending.
var ErrStartInFlight = goerrors.New("impersonation request already in flight", goerrors.CategoryConflict).
	WithTextCode(TextCodeStartInFlight).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when the controller cannot move to the requested state.
var ErrInvalidTransition = goerrors.New("invalid impersonation state transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// ErrNotActive is returned when an operation needs an active impersonation.
var ErrNotActive = goerrors.New("no active impersonation", goerrors.CategoryConflict).
	WithTextCode(TextCodeNotActive).
	WithCode(goerrors.CodeConflict)

// ErrNoCredentials is returned when there is no bundle to capture before a swap.
var ErrNoCredentials = goerrors.New("no credentials to capture", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidAuditAction is returned when an audit action fails validation.
var ErrInvalidAuditAction = goerrors.New("invalid audit action", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidAction).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRequest is returned for malformed payloads.
var ErrInvalidRequest = goerrors.New("invalid request", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidRequest).
	WithCode(goerrors.CodeBadRequest)

var sentinelsByTextCode = map[string]*goerrors.Error{
	TextCodeNotPrivileged:     ErrNotPrivileged,
	TextCodeTargetPrivileged:  ErrTargetPrivileged,
	TextCodeSelfImpersonation: ErrSelfImpersonation,
	TextCodeDisabled:          ErrImpersonationDisabled,
	TextCodeUnauthenticated:   ErrUnauthenticated,
	TextCodeIdentityNotFound:  ErrIdentityNotFound,
	TextCodeTargetNotFound:    ErrTargetNotFound,
	TextCodeSessionNotFound:   ErrSessionNotFound,
	TextCodeSessionInvalid:    ErrSessionInvalid,
	TextCodeSessionExpired:    ErrSessionExpired,
	TextCodeSessionEnded:      ErrSessionEnded,
	TextCodeTransport:         ErrTransport,
	TextCodeRestoration:       ErrRestorationFailed,
	TextCodeStartInFlight:     ErrStartInFlight,
	TextCodeInvalidTransition: ErrInvalidTransition,
	TextCodeNotActive:         ErrNotActive,
	TextCodeNoCredentials:     ErrNoCredentials,
	TextCodeInvalidAction:     ErrInvalidAuditAction,
	TextCodeInvalidRequest:    ErrInvalidRequest,
}

var kindsByTextCode = map[string]ErrorKind{
	TextCodeNotPrivileged:     KindAuthorization,
	TextCodeTargetPrivileged:  KindAuthorization,
	TextCodeSelfImpersonation: KindAuthorization,
	TextCodeDisabled:          KindAuthorization,
	TextCodeUnauthenticated:   KindAuthorization,
	TextCodeIdentityNotFound:  KindNotFound,
	TextCodeTargetNotFound:    KindNotFound,
	TextCodeSessionNotFound:   KindNotFound,
	TextCodeSessionInvalid:    KindSession,
	TextCodeSessionExpired:    KindSession,
	TextCodeSessionEnded:      KindSession,
	TextCodeTransport:         KindTransport,
	TextCodeRestoration:       KindRestoration,
	TextCodeStartInFlight:     KindController,
	TextCodeInvalidTransition: KindController,
	TextCodeNotActive:         KindController,
	TextCodeNoCredentials:     KindController,
	TextCodeInvalidAction:     KindValidation,
	TextCodeInvalidRequest:    KindValidation,
}

// NewTransportError wraps a network or provider failure.
func NewTransportError(err error, message string) error {
	if err == nil {
		return nil
	}
	if message == "" {
		message = ErrTransport.Message
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, message).
		WithTextCode(TextCodeTransport).
		WithCode(http.StatusBadGateway)
}

// TextCode returns the text code carried by err, if any.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode
	}
	return ""
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if kind, ok := kindsByTextCode[TextCode(err)]; ok {
		return kind
	}
	if goerrors.IsNotFound(err) {
		return KindNotFound
	}
	return KindUnknown
}

// IsAuthorizationError reports whether err denies the requester.
func IsAuthorizationError(err error) bool {
	return KindOf(err) == KindAuthorization
}

// IsNotFoundError reports whether err refers to a missing identity or session.
func IsNotFoundError(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsSessionError reports whether err refers to an unusable session.
func IsSessionError(err error) bool {
	return KindOf(err) == KindSession
}

// IsTransportError reports whether err is a network or provider failure.
func IsTransportError(err error) bool {
	return KindOf(err) == KindTransport
}

// IsRestorationError reports whether the original identity could not be restored.
func IsRestorationError(err error) bool {
	return KindOf(err) == KindRestoration
}

// errorFromTextCode maps a wire error back onto its sentinel.
func errorFromTextCode(textCode, message string) error {
	sentinel, ok := sentinelsByTextCode[textCode]
	if !ok {
		return nil
	}
	if message == "" || message == sentinel.Message {
		return sentinel
	}
	return goerrors.New(message, sentinel.Category).
		WithTextCode(sentinel.TextCode).
		WithCode(sentinel.Code)
}

func isIdentityNotFound(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrIdentityNotFound) {
		return true
	}
	return goerrors.IsNotFound(err)
}
