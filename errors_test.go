package impersonate_test

import (
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	impersonate "github.com/goliatone/go-impersonate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind impersonate.ErrorKind
	}{
		{"not privileged", impersonate.ErrNotPrivileged, impersonate.KindAuthorization},
		{"target privileged", impersonate.ErrTargetPrivileged, impersonate.KindAuthorization},
		{"self", impersonate.ErrSelfImpersonation, impersonate.KindAuthorization},
		{"disabled", impersonate.ErrImpersonationDisabled, impersonate.KindAuthorization},
		{"target not found", impersonate.ErrTargetNotFound, impersonate.KindNotFound},
		{"session not found", impersonate.ErrSessionNotFound, impersonate.KindNotFound},
		{"session invalid", impersonate.ErrSessionInvalid, impersonate.KindSession},
		{"session expired", impersonate.ErrSessionExpired, impersonate.KindSession},
		{"session ended", impersonate.ErrSessionEnded, impersonate.KindSession},
		{"transport", impersonate.ErrTransport, impersonate.KindTransport},
		{"restoration", impersonate.ErrRestorationFailed, impersonate.KindRestoration},
		{"in flight", impersonate.ErrStartInFlight, impersonate.KindController},
		{"plain", errors.New("boom"), impersonate.KindUnknown},
		{"nil", nil, impersonate.KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, impersonate.KindOf(tc.err))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, impersonate.IsAuthorizationError(impersonate.ErrTargetPrivileged))
	assert.False(t, impersonate.IsAuthorizationError(impersonate.ErrSessionExpired))

	assert.True(t, impersonate.IsNotFoundError(impersonate.ErrTargetNotFound))
	assert.True(t, impersonate.IsSessionError(impersonate.ErrSessionEnded))
	assert.True(t, impersonate.IsRestorationError(impersonate.ErrRestorationFailed))
	assert.False(t, impersonate.IsTransportError(impersonate.ErrSessionInvalid))
}

func TestNewTransportErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")

	err := impersonate.NewTransportError(cause, "backend unreachable")
	require.Error(t, err)
	assert.True(t, impersonate.IsTransportError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, impersonate.TextCodeTransport, impersonate.TextCode(err))

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, http.StatusBadGateway, richErr.Code)

	assert.NoError(t, impersonate.NewTransportError(nil, "ignored"))
}

func TestSentinelStatusCodes(t *testing.T) {
	cases := map[error]int{
		impersonate.ErrNotPrivileged:      goerrors.CodeForbidden,
		impersonate.ErrUnauthenticated:    goerrors.CodeUnauthorized,
		impersonate.ErrTargetNotFound:     goerrors.CodeNotFound,
		impersonate.ErrSessionExpired:     goerrors.CodeUnauthorized,
		impersonate.ErrInvalidAuditAction: goerrors.CodeBadRequest,
		impersonate.ErrNotActive:          goerrors.CodeConflict,
	}

	for err, code := range cases {
		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, code, richErr.Code, richErr.TextCode)
	}
}

func TestTextCodeOfForeignError(t *testing.T) {
	assert.Empty(t, impersonate.TextCode(errors.New("plain")))
	assert.Empty(t, impersonate.TextCode(nil))
}
