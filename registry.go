package authsession

import (
	"context"
	"sync"
)

// Registry hands out one Session per backend endpoint so concurrent modules
// addressing the same endpoint never squash each other's auth state.
type Registry struct {
	mu          sync.Mutex
	backend     AuthBackend
	sessions    map[string]*Session
	sessionOpts []SessionOption
	logger      Logger
}

// RegistryOption customizes registry construction.
type RegistryOption func(*Registry)

// WithRegistryLogger overrides the registry logger.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistrySessionOptions sets options applied to every session the
// registry creates.
func WithRegistrySessionOptions(opts ...SessionOption) RegistryOption {
	return func(r *Registry) {
		r.sessionOpts = append(r.sessionOpts, opts...)
	}
}

// NewRegistry returns a registry that creates sessions against the backend.
func NewRegistry(backend AuthBackend, opts ...RegistryOption) *Registry {
	r := &Registry{
		backend:  backend,
		sessions: map[string]*Session{},
		logger:   defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Get returns the session for the endpoint, creating it on first access.
// Sessions live for the process lifetime; there is no eviction.
func (r *Registry) Get(endpoint string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[endpoint]; ok {
		return session
	}

	r.logger.Debug("creating session endpoint=%s", endpoint)
	session := NewSession(endpoint, r.backend, r.sessionOpts...)
	r.sessions[endpoint] = session

	return session
}

// Login resolves the endpoint's session and logs in with the minted token.
func (r *Registry) Login(ctx context.Context, endpoint, token string, providerData map[string]string) (Identity, error) {
	return r.Get(endpoint).Login(ctx, token, providerData)
}

// Logout resolves the endpoint's session and deauthenticates it.
func (r *Registry) Logout(ctx context.Context, endpoint string) error {
	return r.Get(endpoint).Logout(ctx)
}

// Watch resolves the endpoint's session and registers a subscriber on it.
func (r *Registry) Watch(endpoint string, fn WatchFunc) int64 {
	return r.Get(endpoint).Watch(fn)
}
