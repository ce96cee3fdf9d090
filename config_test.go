package impersonate_test

import (
	"testing"
	"time"

	impersonate "github.com/goliatone/go-impersonate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := impersonate.DefaultOptions()

	assert.Equal(t, 30*time.Minute, opts.GetSessionTTL())
	assert.Equal(t, time.Second, opts.GetTickInterval())
	assert.Equal(t, 30*time.Second, opts.GetLivenessInterval())
	assert.Equal(t, "/impersonation", opts.GetRoutePrefix())

	err := opts.Validate()
	require.Error(t, err, "signing key is required")
}

func TestOptionsValidate(t *testing.T) {
	opts := newTestOptions()
	require.NoError(t, opts.Validate())

	opts.SigningKey = "short"
	assert.Error(t, opts.Validate())

	opts = newTestOptions()
	opts.SessionTTL = 0
	assert.Error(t, opts.Validate())
}

func TestOptionsFallbackToDefaults(t *testing.T) {
	opts := &impersonate.Options{SigningKey: testSigningKey}

	assert.Equal(t, impersonate.DefaultSessionTTL, opts.GetSessionTTL())
	assert.Equal(t, impersonate.DefaultAccessTokenTTL, opts.GetAccessTokenTTL())
	assert.Equal(t, impersonate.DefaultAuditTimeout, opts.GetAuditTimeout())
	assert.Equal(t, impersonate.DefaultRoutePrefix, opts.GetRoutePrefix())
}
