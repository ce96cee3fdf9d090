package impersonate

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenServiceImpl implements TokenService with HS256 signed JWTs.
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     Logger
}

var _ TokenService = (*TokenServiceImpl)(nil)

// TokenServiceOption customizes the token service.
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenServiceClock injects a custom clock (useful for tests).
func WithTokenServiceClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenServiceLogger overrides the logger.
func WithTokenServiceLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a TokenService from cfg.
func NewTokenService(cfg Config, opts ...TokenServiceOption) *TokenServiceImpl {
	cfg = resolveConfig(cfg)
	_, logger := ResolveLogger("impersonate.tokens", nil, nil)

	ts := &TokenServiceImpl{
		signingKey: []byte(cfg.GetSigningKey()),
		issuer:     cfg.GetIssuer(),
		audience:   jwt.ClaimStrings(cfg.GetAudience()),
		accessTTL:  cfg.GetAccessTokenTTL(),
		refreshTTL: cfg.GetRefreshTokenTTL(),
		now:        time.Now,
		logger:     logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// Mint issues an access and refresh token for req.Identity.
func (ts *TokenServiceImpl) Mint(ctx context.Context, req MintRequest) (*CredentialBundle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if req.Identity == nil {
		return nil, goerrors.New("identity must not be nil", goerrors.CategoryInternal)
	}

	now := ts.now()
	accessExp := capExpiry(now.Add(ts.accessTTL), req.NotAfter)
	refreshExp := capExpiry(now.Add(ts.refreshTTL), req.NotAfter)
	if !accessExp.After(now) {
		return nil, ErrSessionExpired
	}

	access, err := ts.SignClaims(ts.claimsFor(req, TokenUseAccess, now, accessExp))
	if err != nil {
		return nil, err
	}

	refresh, err := ts.SignClaims(ts.claimsFor(req, TokenUseRefresh, now, refreshExp))
	if err != nil {
		return nil, err
	}

	return &CredentialBundle{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
		Identity:     SnapshotIdentity(req.Identity),
	}, nil
}

func (ts *TokenServiceImpl) claimsFor(req MintRequest, use string, now, exp time.Time) *Claims {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   req.Identity.ID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UID:       req.Identity.ID(),
		Email:     req.Identity.Email(),
		Name:      req.Identity.DisplayName(),
		TokenUse:  use,
		SessionID: req.SessionID,
	}
	if req.ActorID != "" {
		claims.Actor = &ActorClaim{Subject: req.ActorID}
	}
	ensureTokenID(&claims.RegisteredClaims)
	return claims
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *Claims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses an access token and returns its claims.
func (ts *TokenServiceImpl) Validate(tokenString string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)
	if err != nil {
		return nil, goerrors.Wrap(err, ErrUnauthenticated.Category, ErrUnauthenticated.Message).
			WithTextCode(ErrUnauthenticated.TextCode).
			WithCode(ErrUnauthenticated.Code)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService validate could not decode or validate claims")
		return nil, ErrUnauthenticated
	}
	if claims.TokenUse != TokenUseAccess {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

func capExpiry(exp, notAfter time.Time) time.Time {
	if !notAfter.IsZero() && notAfter.Before(exp) {
		return notAfter
	}
	return exp
}
