package authsession

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims are the claims carried by locally minted session tokens.
type SessionClaims struct {
	jwt.RegisteredClaims
	FederatedID string `json:"fid,omitempty"`
}

// JWTMinter mints backend session tokens locally from a federated identity
// id. Deployments that mint remotely implement TokenMinter against their own
// service and ignore this type.
type JWTMinter struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	now        func() time.Time
}

// JWTMinterOption customizes minter construction.
type JWTMinterOption func(*JWTMinter)

// WithMinterLogger overrides the minter logger.
func WithMinterLogger(logger Logger) JWTMinterOption {
	return func(m *JWTMinter) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMinterClock injects a custom clock (useful for tests).
func WithMinterClock(clock func() time.Time) JWTMinterOption {
	return func(m *JWTMinter) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewJWTMinter creates a minter signing HS256 session tokens.
func NewJWTMinter(signingKey []byte, ttl time.Duration, issuer string, audience []string, opts ...JWTMinterOption) *JWTMinter {
	m := &JWTMinter{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		audience:   append(jwt.ClaimStrings(nil), audience...),
		logger:     defLogger{},
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// NewJWTMinterFromConfig builds a minter from a Config.
func NewJWTMinterFromConfig(cfg Config, opts ...JWTMinterOption) *JWTMinter {
	ttl := 24 * time.Hour
	if cfg.GetTokenTTL() > 0 {
		ttl = time.Duration(cfg.GetTokenTTL()) * time.Hour
	}
	return NewJWTMinter([]byte(cfg.GetSigningKey()), ttl, cfg.GetIssuer(), cfg.GetAudience(), opts...)
}

// Mint exchanges a federated identity id for a signed session token.
func (m *JWTMinter) Mint(ctx context.Context, federatedID string) (string, error) {
	if err := validation.Validate(federatedID, validation.Required); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "federated identity id is required")
	}

	select {
	case <-ctx.Done():
		return "", goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during token minting")
	default:
	}

	now := m.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   federatedID,
			Audience:  m.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		FederatedID: federatedID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

// Validate parses and verifies a token this minter issued, returning its
// claims.
func (m *JWTMinter) Validate(tokenString string) (*SessionClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if m.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(m.issuer))
	}
	if len(m.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(m.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			m.logger.Error("minter validate encountered unexpected signing method alg=%v", t.Header["alg"])
			return nil, goerrors.New("unexpected signing method", goerrors.CategoryAuth)
		}
		return m.signingKey, nil
	}, parserOptions...)

	if err != nil {
		return nil, wrapAuthentication(err)
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	m.logger.Error("minter validate could not decode claims")
	return nil, ErrAuthentication
}

// Guard adapts the minter into a TokenGuard for the Coordinator.
func (m *JWTMinter) Guard() TokenGuard {
	return TokenGuardFunc(func(tokenString string) error {
		_, err := m.Validate(tokenString)
		return err
	})
}

var _ TokenMinter = (*JWTMinter)(nil)
