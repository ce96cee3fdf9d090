package impersonateadapter

import (
	"context"

	impersonate "github.com/goliatone/go-impersonate"
	"github.com/goliatone/go-featuregate/gate"
)

// RoleImpersonated is added to the roles of impersonated requests.
const RoleImpersonated = "impersonated"

// ClaimsExtractor extracts validated access token claims from context.
type ClaimsExtractor func(context.Context) (*impersonate.Claims, bool)

// RoleMapper builds role identifiers from claims.
type RoleMapper func(claims *impersonate.Claims) []string

// Option customizes ClaimsProvider behavior.
type Option func(*ClaimsProvider)

// ClaimsProvider derives feature claims from the access token claims the
// HTTP controller stores in the request context.
type ClaimsProvider struct {
	extractor  ClaimsExtractor
	roleMapper RoleMapper
}

// NewClaimsProvider builds a claims provider using impersonate.ClaimsFromContext.
func NewClaimsProvider(opts ...Option) *ClaimsProvider {
	provider := &ClaimsProvider{
		extractor: impersonate.ClaimsFromContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.extractor == nil {
		provider.extractor = impersonate.ClaimsFromContext
	}
	if provider.roleMapper == nil {
		provider.roleMapper = defaultRoleMapper
	}
	return provider
}

// WithClaimsExtractor overrides the claims extractor.
func WithClaimsExtractor(extractor ClaimsExtractor) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.extractor = extractor
	}
}

// WithRoleMapper overrides the default role mapper.
func WithRoleMapper(mapper RoleMapper) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.roleMapper = mapper
	}
}

// ClaimsFromContext implements gate.ClaimsProvider.
func (p *ClaimsProvider) ClaimsFromContext(ctx context.Context) (gate.ActorClaims, error) {
	if p == nil || p.extractor == nil {
		return gate.ActorClaims{}, nil
	}
	claims, ok := p.extractor(ctx)
	if !ok || claims == nil {
		return gate.ActorClaims{}, nil
	}
	return actorClaims(claims, p.roleMapper), nil
}

// ClaimsFromToken builds ActorClaims from token claims using defaults.
func ClaimsFromToken(claims *impersonate.Claims) gate.ActorClaims {
	return actorClaims(claims, defaultRoleMapper)
}

func actorClaims(claims *impersonate.Claims, roleMapper RoleMapper) gate.ActorClaims {
	if claims == nil {
		return gate.ActorClaims{}
	}
	out := gate.ActorClaims{
		SubjectID: claims.UserID(),
	}
	if roleMapper != nil {
		out.Roles = roleMapper(claims)
	}
	return out
}

func defaultRoleMapper(claims *impersonate.Claims) []string {
	if claims == nil || !claims.IsImpersonated() {
		return nil
	}
	return []string{RoleImpersonated}
}

// ActorRefFromClaims builds an ActorRef for the party really acting: the
// administrator behind an impersonated token, the subject otherwise.
func ActorRefFromClaims(claims *impersonate.Claims) gate.ActorRef {
	if claims == nil {
		return gate.ActorRef{}
	}
	if claims.IsImpersonated() {
		return gate.ActorRef{
			ID:   claims.ActorID(),
			Type: impersonate.ActorTypeAdmin,
		}
	}
	return gate.ActorRef{
		ID:   claims.UserID(),
		Type: impersonate.ActorTypeUser,
		Name: claims.Name,
	}
}

// ActorRefFromContext extracts an ActorRef from context.
func ActorRefFromContext(ctx context.Context) (gate.ActorRef, bool) {
	claims, ok := impersonate.ClaimsFromContext(ctx)
	if !ok {
		return gate.ActorRef{}, false
	}
	return ActorRefFromClaims(claims), true
}

var _ gate.ClaimsProvider = (*ClaimsProvider)(nil)
