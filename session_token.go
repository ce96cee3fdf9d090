package impersonate

import (
	"crypto/rand"
	"encoding/base64"

	goerrors "github.com/goliatone/go-errors"
)

const sessionTokenBytes = 32

// TokenGenerator produces opaque session tokens.
type TokenGenerator func() (string, error)

// GenerateSessionToken returns 256 random bits encoded as base64url.
func GenerateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate session token")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
