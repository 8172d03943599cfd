package authsession

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// SessionState is the session's position in the login lifecycle.
type SessionState string

const (
	StateLoggedOut SessionState = "logged_out"
	StateLoggingIn SessionState = "logging_in"
	StateLoggedIn  SessionState = "logged_in"
)

// sessionTransitions is the allowed transition graph. Backend-pushed events
// may force a session back to logged_out from any state.
var sessionTransitions = map[SessionState]map[SessionState]struct{}{
	StateLoggedOut: {
		StateLoggingIn: {},
	},
	StateLoggingIn: {
		StateLoggedIn:  {},
		StateLoggedOut: {},
	},
	StateLoggedIn: {
		StateLoggedOut: {},
	},
}

type loginResult struct {
	identity Identity
	err      error
}

// Session coordinates concurrent auth requests (login, logout, status)
// against a single backend endpoint.
type Session struct {
	mu           sync.Mutex
	endpoint     string
	backend      AuthBackend
	state        SessionState
	identity     Identity
	subscribers  map[int64]WatchFunc
	nextHandle   int64
	waiters      []chan loginResult
	providerData map[string]string
	watchHandle  int64
	watching     bool
	logger       Logger
	activitySink ActivitySink
}

// SessionOption customizes session construction.
type SessionOption func(*Session)

// WithSessionLogger overrides the session logger.
func WithSessionLogger(logger Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionActivitySink sets the ActivitySink used for auth events.
func WithSessionActivitySink(sink ActivitySink) SessionOption {
	return func(s *Session) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// NewSession returns a session bound to one backend endpoint. The backend's
// push-based auth-change observer is armed by the first subscriber or login
// attempt, not at construction.
func NewSession(endpoint string, backend AuthBackend, opts ...SessionOption) *Session {
	s := &Session{
		endpoint: endpoint,
		backend:  backend,
		state:    StateLoggedOut,
		// Start at 1 so handle 0 stays a "no subscription" sentinel.
		nextHandle:   1,
		subscribers:  map[int64]WatchFunc{},
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Endpoint returns the endpoint key this session is bound to.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentIdentity returns the last known authenticated identity, or nil.
func (s *Session) CurrentIdentity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// IsAuthenticated reports whether the session holds a live identity.
func (s *Session) IsAuthenticated() bool {
	return s.CurrentIdentity() != nil
}

// ProviderData returns the transient federated-provider attributes seeded by
// the most recent login.
func (s *Session) ProviderData() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneFields(s.providerData)
}

// SeedProviderData stores federated-provider attributes for the next record
// materialization. Empty data is ignored, matching login semantics.
func (s *Session) SeedProviderData(data map[string]string) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	s.providerData = cloneFields(data)
	s.mu.Unlock()
}

// Login authenticates against the backend with a minted session token.
// Concurrent calls are serialized: while an attempt is in flight, later
// callers wait for its terminal result instead of racing the backend. On
// success every registered subscriber is notified with the new identity; a
// transient failure is reported only to the login caller.
func (s *Session) Login(ctx context.Context, token string, providerData map[string]string) (Identity, error) {
	s.mu.Lock()

	if len(providerData) > 0 {
		s.providerData = cloneFields(providerData)
	}

	switch s.state {
	case StateLoggedIn:
		identity := s.identity
		s.mu.Unlock()
		return identity, nil

	case StateLoggingIn:
		ch := make(chan loginResult, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case res := <-ch:
			return res.identity, res.err
		case <-ctx.Done():
			return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled while waiting for login")
		}
	}

	if err := s.transitionLocked(StateLoggingIn); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.ensureWatchingLocked()
	s.mu.Unlock()

	identity, err := s.backend.Authenticate(ctx, s.endpoint, token)

	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil

	if err != nil {
		// Transient login failure: the caller and any coalesced waiters get
		// the error; long-lived subscribers are not notified unless the
		// backend separately pushes a logout event.
		s.setStateLocked(StateLoggedOut)
		s.mu.Unlock()

		wrapped := wrapAuthentication(err)
		s.logger.Error("login rejected by backend endpoint=%s: %v", s.endpoint, err)
		s.emitEvent(ctx, ActivityEventLoginFailure, "", map[string]any{"error": err.Error()})
		resolveWaiters(waiters, loginResult{err: wrapped})
		return nil, wrapped
	}

	s.identity = identity
	s.setStateLocked(StateLoggedIn)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	s.logger.Info("login succeeded endpoint=%s subject=%s", s.endpoint, identity.ID())
	s.emitEvent(ctx, ActivityEventLoginSuccess, identity.ID(), nil)
	deliver(subs, identity)
	resolveWaiters(waiters, loginResult{identity: identity})

	return identity, nil
}

// Watch registers a subscriber for auth-state changes and returns its handle.
// If an identity is already known the callback still fires, asynchronously,
// so callers get a uniform always-async contract.
func (s *Session) Watch(fn WatchFunc) int64 {
	if fn == nil {
		return 0
	}

	s.mu.Lock()
	handle := s.nextHandle
	s.nextHandle++
	s.subscribers[handle] = fn
	identity := s.identity
	s.ensureWatchingLocked()
	s.mu.Unlock()

	if identity != nil {
		go fn(identity)
	}

	return handle
}

// Unwatch removes a subscriber. Unknown handles are a silent no-op.
func (s *Session) Unwatch(handle int64) {
	s.mu.Lock()
	delete(s.subscribers, handle)
	s.mu.Unlock()
}

// Logout asks the backend to drop the authenticated identity. The transition
// to logged_out arrives through the push stream, which drives the subscriber
// fan-out. Logging out an already logged-out session is a no-op.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.mu.Unlock()
		s.logger.Debug("logout ignored, session already logged out endpoint=%s", s.endpoint)
		return nil
	}
	s.mu.Unlock()

	if err := s.backend.Deauthenticate(ctx, s.endpoint); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "backend deauthenticate failed")
	}

	return nil
}

// Close releases the backend push-stream registration.
func (s *Session) Close() {
	s.mu.Lock()
	watching := s.watching
	handle := s.watchHandle
	s.watching = false
	s.watchHandle = 0
	s.mu.Unlock()

	if watching {
		s.backend.Unwatch(s.endpoint, handle)
	}
}

// onAuthEvent handles backend-pushed auth changes.
func (s *Session) onAuthEvent(identity Identity) {
	s.mu.Lock()

	if identity == nil {
		if s.identity == nil && s.state == StateLoggedOut {
			// Already logged out, nothing to fan out.
			s.mu.Unlock()
			return
		}
		s.identity = nil
		s.setStateLocked(StateLoggedOut)
		subs := s.snapshotSubscribersLocked()
		s.mu.Unlock()

		s.logger.Info("backend reported identity loss endpoint=%s", s.endpoint)
		s.emitEvent(context.Background(), ActivityEventLogout, "", nil)
		deliver(subs, nil)
		return
	}

	s.identity = identity
	s.setStateLocked(StateLoggedIn)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	deliver(subs, identity)
}

func (s *Session) ensureWatchingLocked() {
	if s.watching {
		return
	}

	handle, err := s.backend.WatchAuthChanges(s.endpoint, s.onAuthEvent)
	if err != nil {
		s.logger.Error("failed to arm backend auth observer endpoint=%s: %v", s.endpoint, err)
		return
	}

	s.watching = true
	s.watchHandle = handle
}

func (s *Session) transitionLocked(to SessionState) error {
	if allowed, ok := sessionTransitions[s.state]; ok {
		if _, exists := allowed[to]; exists {
			s.state = to
			return nil
		}
	}

	return ErrInvalidTransition.WithMetadata(map[string]any{
		"from": s.state,
		"to":   to,
	})
}

// setStateLocked applies a transition that is always legal from the current
// state (terminal login results and backend-pushed changes).
func (s *Session) setStateLocked(to SessionState) {
	if s.state == to {
		return
	}
	if err := s.transitionLocked(to); err != nil {
		s.logger.Warn("forcing session state from=%s to=%s", s.state, to)
		s.state = to
	}
}

// snapshotSubscribersLocked copies the subscriber set so a fan-out reflects
// the registrations present when the transition happened. A subscriber added
// mid-fan-out sees the next transition, never a torn one.
func (s *Session) snapshotSubscribersLocked() []WatchFunc {
	subs := make([]WatchFunc, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Session) emitEvent(ctx context.Context, eventType ActivityEventType, subjectID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Endpoint:  s.endpoint,
		SubjectID: subjectID,
		Metadata:  metadata,
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func deliver(subs []WatchFunc, identity Identity) {
	for _, fn := range subs {
		fn := fn
		go fn(identity)
	}
}

func resolveWaiters(waiters []chan loginResult, res loginResult) {
	for _, ch := range waiters {
		ch <- res
	}
}

func cloneFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	cloned := make(map[string]string, len(fields))
	for k, v := range fields {
		cloned[k] = v
	}
	return cloned
}
