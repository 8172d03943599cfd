package authsession

import (
	"context"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// Coordinator drives the application-level login flow against one root
// session: federated id -> minted token -> backend login -> user record.
type Coordinator struct {
	mu             sync.Mutex
	session        *Session
	minter         TokenMinter
	records        RecordStore
	guard          TokenGuard
	providerData   map[string]string
	current        *LiveRecord
	currentSubject string
	matSubject     string
	matDone        chan struct{}
	watchHandle    int64
	logger         Logger
	activitySink   ActivitySink
}

// CoordinatorOption customizes coordinator construction.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger overrides the coordinator logger.
func WithCoordinatorLogger(logger Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCoordinatorActivitySink sets the ActivitySink used for flow events.
func WithCoordinatorActivitySink(sink ActivitySink) CoordinatorOption {
	return func(c *Coordinator) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithMintedTokenGuard verifies minted tokens before they reach the backend.
func WithMintedTokenGuard(guard TokenGuard) CoordinatorOption {
	return func(c *Coordinator) {
		c.guard = guard
	}
}

// NewCoordinator wires a coordinator to its root session, token minter, and
// record store. The coordinator immediately subscribes to the session so a
// backend-pushed logout tears down the materialized record.
func NewCoordinator(session *Session, minter TokenMinter, records RecordStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		session:      session,
		minter:       minter,
		records:      records,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.watchHandle = session.Watch(c.onAuthStatus)

	return c
}

// Session returns the root session the coordinator drives.
func (c *Coordinator) Session() *Session {
	return c.session
}

// SubjectID returns the materialized record's subject, or "" when no user is
// logged in.
func (c *Coordinator) SubjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSubject
}

// CurrentRecord returns the live user record handle, or nil.
func (c *Coordinator) CurrentRecord() *LiveRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ResumeOrLogin re-establishes a session for a returning federated identity.
// When the root session is still authenticated this is a pure resume: the
// provider data is re-seeded (it may carry fresher attributes) and no token
// exchange or backend round-trip happens. Otherwise the federated id is
// exchanged for a session token and a full login runs.
func (c *Coordinator) ResumeOrLogin(ctx context.Context, federatedID string, providerData map[string]string) error {
	if err := validation.Validate(federatedID, validation.Required); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "federated identity id is required")
	}

	if c.session.IsAuthenticated() {
		c.seedProviderData(providerData)
		c.logger.Debug("resuming session endpoint=%s", c.session.Endpoint())
		c.emitEvent(ctx, ActivityEventResume, c.SubjectID(), nil)
		return nil
	}

	token, err := c.minter.Mint(ctx, federatedID)
	if err != nil {
		c.logger.Error("token minting failed federated_id=%s: %v", federatedID, err)
		return wrapTokenMint(err)
	}

	return c.LoginWithToken(ctx, token, providerData)
}

// LoginWithToken logs in through the root session with an already-minted
// token and materializes the user record before returning.
func (c *Coordinator) LoginWithToken(ctx context.Context, token string, providerData map[string]string) error {
	c.seedProviderData(providerData)

	if c.guard != nil {
		if err := c.guard.Validate(token); err != nil {
			c.logger.Error("minted token failed verification: %v", err)
			return wrapAuthentication(err)
		}
	}

	identity, err := c.session.Login(ctx, token, providerData)
	if err != nil {
		return err
	}

	// Auth and profile materialization are decoupled: a store failure leaves
	// the session logged in and surfaces the error to the caller.
	if err := c.materialize(ctx, identity); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			c.logger.Error("record materialization failed subject=%s details=%s",
				identity.ID(), print.MaybePrettyJSON(richErr.Metadata))
		} else {
			c.logger.Error("record materialization failed subject=%s: %v", identity.ID(), err)
		}
		return wrapRecordStore(err)
	}

	return nil
}

// Logout deauthenticates the root session. Record teardown happens when the
// backend's push stream confirms the identity loss.
func (c *Coordinator) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

// Close unsubscribes the coordinator from its session.
func (c *Coordinator) Close() {
	c.session.Unwatch(c.watchHandle)
}

// onAuthStatus is the coordinator's session subscription: it materializes the
// record when an identity appears and tears it down when the identity is
// lost.
func (c *Coordinator) onAuthStatus(identity Identity) {
	if identity == nil {
		c.discardRecord()
		return
	}

	if err := c.materialize(context.Background(), identity); err != nil {
		c.logger.Error("record materialization failed on auth event subject=%s: %v", identity.ID(), err)
	}
}

// materialize loads or creates the persisted record for a freshly
// authenticated identity. The initial fields merge the backend subject id
// with the provider data seeded at login time. The synchronous login path
// and the session subscription can both land here for the same subject;
// the first caller owns the store round-trip and later callers wait for
// its outcome instead of issuing a second LoadOrCreate. A resume for the
// already materialized subject is a no-op.
func (c *Coordinator) materialize(ctx context.Context, identity Identity) error {
	c.mu.Lock()
	for c.matSubject == identity.ID() {
		done := c.matDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled while materializing record")
		}
		c.mu.Lock()
	}
	if c.current != nil && c.currentSubject == identity.ID() {
		c.mu.Unlock()
		return nil
	}
	c.matSubject = identity.ID()
	done := make(chan struct{})
	c.matDone = done
	data := cloneFields(c.providerData)
	c.mu.Unlock()

	fields := map[string]string{FieldSubjectID: identity.ID()}
	for k, v := range data {
		fields[k] = v
	}

	record, err := c.records.LoadOrCreate(ctx, identity, fields, func(rec *LiveRecord) {
		// Fires only on the very first creation of this subject's record.
		c.logger.Info("created user record subject=%s", rec.Subject())
	})

	c.mu.Lock()
	c.matSubject = ""
	if err == nil {
		c.current = record
		c.currentSubject = identity.ID()
	}
	c.mu.Unlock()
	close(done)

	if err != nil {
		return err
	}

	record.SetObserver(c)
	c.emitEvent(ctx, ActivityEventRecordMaterialized, identity.ID(), nil)

	return nil
}

func (c *Coordinator) discardRecord() {
	c.mu.Lock()
	record := c.current
	subject := c.currentSubject
	c.current = nil
	c.currentSubject = ""
	c.providerData = nil
	c.mu.Unlock()

	if record == nil {
		return
	}

	record.StopObserving()
	c.logger.Info("discarded user record after identity loss subject=%s", subject)
	c.emitEvent(context.Background(), ActivityEventRecordDiscarded, subject, nil)
}

// RecordUpdated implements RecordObserver; backend-side record changes land
// here once a record is materialized and observed.
func (c *Coordinator) RecordUpdated(rec *LiveRecord) {
	c.logger.Debug("user record updated subject=%s", rec.Subject())
}

func (c *Coordinator) seedProviderData(data map[string]string) {
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	c.providerData = cloneFields(data)
	c.mu.Unlock()

	c.session.SeedProviderData(data)
}

func (c *Coordinator) emitEvent(ctx context.Context, eventType ActivityEventType, subjectID string, metadata map[string]any) {
	sink := normalizeActivitySink(c.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Endpoint:  c.session.Endpoint(),
		SubjectID: subjectID,
		Metadata:  metadata,
	}

	if err := sink.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink record error: %v", err)
	}
}

var _ RecordObserver = (*Coordinator)(nil)
