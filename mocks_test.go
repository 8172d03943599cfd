package authsession_test

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-authsession"
	"github.com/stretchr/testify/mock"
)

// MockMinter implements authsession.TokenMinter
type MockMinter struct {
	mock.Mock
}

func (m *MockMinter) Mint(ctx context.Context, federatedID string) (string, error) {
	args := m.Called(ctx, federatedID)
	return args.String(0), args.Error(1)
}

// fakeBackend is a controllable AuthBackend with a working push stream.
type fakeBackend struct {
	mu           sync.Mutex
	watchers     map[int64]func(authsession.Identity)
	nextHandle   int64
	authFn       func(ctx context.Context, endpoint, token string) (authsession.Identity, error)
	authCalls    int
	deauthCalls  int
	watchCalls   int
	unwatchCalls int
	pushOnDeauth bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		watchers:   map[int64]func(authsession.Identity){},
		nextHandle: 1,
	}
}

func (b *fakeBackend) Authenticate(ctx context.Context, endpoint, token string) (authsession.Identity, error) {
	b.mu.Lock()
	b.authCalls++
	fn := b.authFn
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, endpoint, token)
	}
	return authsession.NewIdentity("u1", nil), nil
}

func (b *fakeBackend) Deauthenticate(ctx context.Context, endpoint string) error {
	b.mu.Lock()
	b.deauthCalls++
	push := b.pushOnDeauth
	b.mu.Unlock()

	if push {
		b.Push(nil)
	}
	return nil
}

func (b *fakeBackend) WatchAuthChanges(endpoint string, fn func(authsession.Identity)) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.watchCalls++
	handle := b.nextHandle
	b.nextHandle++
	b.watchers[handle] = fn

	return handle, nil
}

func (b *fakeBackend) Unwatch(endpoint string, handle int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.unwatchCalls++
	delete(b.watchers, handle)
}

// Push emulates a backend-side auth change event.
func (b *fakeBackend) Push(identity authsession.Identity) {
	b.mu.Lock()
	watchers := make([]func(authsession.Identity), 0, len(b.watchers))
	for _, fn := range b.watchers {
		watchers = append(watchers, fn)
	}
	b.mu.Unlock()

	for _, fn := range watchers {
		fn(identity)
	}
}

func (b *fakeBackend) counts() (auth, deauth, watch int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authCalls, b.deauthCalls, b.watchCalls
}

// fakeRecordStore is an in-memory RecordStore that tracks call activity.
type fakeRecordStore struct {
	mu           sync.Mutex
	records      map[string]*authsession.UserRecord
	loadCalls    int
	firstCreates int
	stopped      int
	lastFields   map[string]string
	err          error
	delay        time.Duration
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: map[string]*authsession.UserRecord{}}
}

func (s *fakeRecordStore) LoadOrCreate(ctx context.Context, identity authsession.Identity, fields map[string]string, onFirstCreate func(*authsession.LiveRecord)) (*authsession.LiveRecord, error) {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()

	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}

	s.loadCalls++
	s.lastFields = fields

	record, ok := s.records[identity.ID()]
	if !ok {
		record = &authsession.UserRecord{SubjectID: identity.ID()}
		for k, v := range fields {
			if k != authsession.FieldSubjectID {
				record.AddMetadata(k, v)
			}
		}
		s.records[identity.ID()] = record
		s.firstCreates++
	}
	s.mu.Unlock()

	handle := authsession.NewLiveRecord(record, func() {
		s.mu.Lock()
		s.stopped++
		s.mu.Unlock()
	})

	if !ok && onFirstCreate != nil {
		go onFirstCreate(handle)
	}

	return handle, nil
}

func (s *fakeRecordStore) counts() (loads, creates, stopped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCalls, s.firstCreates, s.stopped
}

func (s *fakeRecordStore) fields() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := make(map[string]string, len(s.lastFields))
	for k, v := range s.lastFields {
		cloned[k] = v
	}
	return cloned
}
