package authsession

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity is a backend-confirmed authenticated subject. Implementations
// must be immutable once returned by the backend.
type Identity interface {
	ID() string
	Claims() map[string]any
}

// AuthBackend is the remote auth primitive the session coordinates against.
// Authenticate and Deauthenticate may suspend for as long as the backend's
// own timeouts allow; this layer never cancels an issued call.
type AuthBackend interface {
	Authenticate(ctx context.Context, endpoint, token string) (Identity, error)
	Deauthenticate(ctx context.Context, endpoint string) error
	// WatchAuthChanges registers fn on the backend's push-based auth-change
	// stream for the endpoint. fn receives nil when the backend drops the
	// authenticated identity (e.g. external logout).
	WatchAuthChanges(endpoint string, fn func(Identity)) (int64, error)
	Unwatch(endpoint string, handle int64)
}

// TokenMinter exchanges a federated identity id for a backend session token.
type TokenMinter interface {
	Mint(ctx context.Context, federatedID string) (string, error)
}

// TokenGuard verifies a minted token before it is sent to the backend.
type TokenGuard interface {
	Validate(tokenString string) error
}

// TokenGuardFunc adapts a function into a TokenGuard.
type TokenGuardFunc func(tokenString string) error

// Validate satisfies the TokenGuard interface.
func (f TokenGuardFunc) Validate(tokenString string) error {
	if f == nil {
		return nil
	}
	return f(tokenString)
}

// RecordStore materializes and serves persisted user records.
// LoadOrCreate returns a live handle immediately; onFirstCreate fires
// asynchronously at most once per subject for the life of the store.
type RecordStore interface {
	LoadOrCreate(ctx context.Context, identity Identity, fields map[string]string, onFirstCreate func(*LiveRecord)) (*LiveRecord, error)
}

// RecordObserver receives backend-side updates for a live record.
type RecordObserver interface {
	RecordUpdated(rec *LiveRecord)
}

// WatchFunc is a subscriber callback. A nil identity means logged out.
type WatchFunc func(identity Identity)

// Config holds coordination options
type Config interface {
	GetRootEndpoint() string
	GetSigningKey() string
	GetTokenTTL() int
	GetIssuer() string
	GetAudience() []string
	GetJWKSEndpoint() string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
