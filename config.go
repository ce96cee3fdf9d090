package impersonate

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	DefaultSessionTTL       = 30 * time.Minute
	DefaultAccessTokenTTL   = 15 * time.Minute
	DefaultRefreshTokenTTL  = 30 * time.Minute
	DefaultTickInterval     = time.Second
	DefaultLivenessInterval = 30 * time.Second
	DefaultExpiryWarning    = 5 * time.Minute
	DefaultAuditTimeout     = 5 * time.Second
	DefaultRequestTimeout   = 10 * time.Second
	DefaultRoutePrefix      = "/impersonation"
)

// Options is the default Config implementation. Durations use Go duration
// syntax ("30m", "1s") when loaded through go-config.
type Options struct {
	SessionTTL       time.Duration `json:"session_ttl" yaml:"session_ttl" koanf:"session_ttl"`
	SigningKey       string        `json:"signing_key" yaml:"signing_key" koanf:"signing_key"`
	Issuer           string        `json:"issuer" yaml:"issuer" koanf:"issuer"`
	Audience         []string      `json:"audience" yaml:"audience" koanf:"audience"`
	AccessTokenTTL   time.Duration `json:"access_token_ttl" yaml:"access_token_ttl" koanf:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `json:"refresh_token_ttl" yaml:"refresh_token_ttl" koanf:"refresh_token_ttl"`
	TickInterval     time.Duration `json:"tick_interval" yaml:"tick_interval" koanf:"tick_interval"`
	LivenessInterval time.Duration `json:"liveness_interval" yaml:"liveness_interval" koanf:"liveness_interval"`
	ExpiryWarning    time.Duration `json:"expiry_warning" yaml:"expiry_warning" koanf:"expiry_warning"`
	AuditTimeout     time.Duration `json:"audit_timeout" yaml:"audit_timeout" koanf:"audit_timeout"`
	RequestTimeout   time.Duration `json:"request_timeout" yaml:"request_timeout" koanf:"request_timeout"`
	RoutePrefix      string        `json:"route_prefix" yaml:"route_prefix" koanf:"route_prefix"`
}

var _ Config = (*Options)(nil)

// DefaultOptions returns Options with every interval set. SigningKey is
// left empty and must be provided.
func DefaultOptions() *Options {
	return &Options{
		SessionTTL:       DefaultSessionTTL,
		Issuer:           "go-impersonate",
		AccessTokenTTL:   DefaultAccessTokenTTL,
		RefreshTokenTTL:  DefaultRefreshTokenTTL,
		TickInterval:     DefaultTickInterval,
		LivenessInterval: DefaultLivenessInterval,
		ExpiryWarning:    DefaultExpiryWarning,
		AuditTimeout:     DefaultAuditTimeout,
		RequestTimeout:   DefaultRequestTimeout,
		RoutePrefix:      DefaultRoutePrefix,
	}
}

// Validate checks that the options are usable.
func (o *Options) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.SessionTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&o.AccessTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.RefreshTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.TickInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.LivenessInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.ExpiryWarning, validation.Min(time.Duration(0))),
		validation.Field(&o.AuditTimeout, validation.Required),
		validation.Field(&o.RequestTimeout, validation.Required),
	)
}

func (o *Options) GetSessionTTL() time.Duration {
	return durationOr(o.SessionTTL, DefaultSessionTTL)
}

func (o *Options) GetSigningKey() string {
	return o.SigningKey
}

func (o *Options) GetIssuer() string {
	return o.Issuer
}

func (o *Options) GetAudience() []string {
	return o.Audience
}

func (o *Options) GetAccessTokenTTL() time.Duration {
	return durationOr(o.AccessTokenTTL, DefaultAccessTokenTTL)
}

func (o *Options) GetRefreshTokenTTL() time.Duration {
	return durationOr(o.RefreshTokenTTL, DefaultRefreshTokenTTL)
}

func (o *Options) GetTickInterval() time.Duration {
	return durationOr(o.TickInterval, DefaultTickInterval)
}

func (o *Options) GetLivenessInterval() time.Duration {
	return durationOr(o.LivenessInterval, DefaultLivenessInterval)
}

func (o *Options) GetExpiryWarning() time.Duration {
	if o.ExpiryWarning < 0 {
		return 0
	}
	return o.ExpiryWarning
}

func (o *Options) GetAuditTimeout() time.Duration {
	return durationOr(o.AuditTimeout, DefaultAuditTimeout)
}

func (o *Options) GetRequestTimeout() time.Duration {
	return durationOr(o.RequestTimeout, DefaultRequestTimeout)
}

func (o *Options) GetRoutePrefix() string {
	if o.RoutePrefix == "" {
		return DefaultRoutePrefix
	}
	return o.RoutePrefix
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func resolveConfig(cfg Config) Config {
	if cfg == nil {
		return DefaultOptions()
	}
	return cfg
}
