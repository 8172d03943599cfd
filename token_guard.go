package authsession

import (
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// JWKSGuard verifies externally minted tokens against the minting service's
// JWK Set before they are sent to the backend.
type JWKSGuard struct {
	keyFunc jwt.Keyfunc
	logger  Logger
}

// JWKSGuardOption customizes guard construction.
type JWKSGuardOption func(*JWKSGuard)

// WithGuardLogger overrides the guard logger.
func WithGuardLogger(logger Logger) JWKSGuardOption {
	return func(g *JWKSGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewJWKSGuard fetches the JWK Set from jwksURL and keeps it refreshed in the
// background.
func NewJWKSGuard(jwksURL string, opts ...JWKSGuardOption) (*JWKSGuard, error) {
	g := &JWKSGuard{logger: defLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			g.logger.Warn("failed to do a background refresh of JWK Set: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to fetch JWK Set")
	}

	g.keyFunc = jwks.Keyfunc

	return g, nil
}

// NewJWKSGuardFromConfig builds a guard from a Config.
func NewJWKSGuardFromConfig(cfg Config, opts ...JWKSGuardOption) (*JWKSGuard, error) {
	return NewJWKSGuard(cfg.GetJWKSEndpoint(), opts...)
}

// NewGivenKeysGuard builds a guard from statically provisioned keys, keyed by
// kid. Useful for tests and deployments without a JWKS endpoint.
func NewGivenKeysGuard(keys map[string]keyfunc.GivenKey, opts ...JWKSGuardOption) *JWKSGuard {
	g := &JWKSGuard{logger: defLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	g.keyFunc = keyfunc.NewGiven(keys).Keyfunc

	return g
}

// Validate satisfies the TokenGuard interface.
func (g *JWKSGuard) Validate(tokenString string) error {
	token, err := jwt.Parse(tokenString, g.keyFunc)
	if err != nil {
		return wrapAuthentication(err)
	}

	if !token.Valid {
		return ErrAuthentication
	}

	return nil
}

var _ TokenGuard = (*JWKSGuard)(nil)
