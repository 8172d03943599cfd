package authsession_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-authsession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, backend *fakeBackend, minter *MockMinter, store *fakeRecordStore) *authsession.Coordinator {
	t.Helper()
	session := authsession.NewSession(testEndpoint, backend)
	return authsession.NewCoordinator(session, minter, store)
}

func TestResumeOrLoginMintsAndMaterializes(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	coordinator := newTestCoordinator(t, backend, minter, store)

	minter.On("Mint", mock.Anything, "cognito-id-1").Return("tok-A", nil)

	err := coordinator.ResumeOrLogin(context.Background(), "cognito-id-1", map[string]string{
		authsession.FieldFirstName: "Ana",
	})
	require.NoError(t, err)

	minter.AssertCalled(t, "Mint", mock.Anything, "cognito-id-1")
	assert.True(t, coordinator.Session().IsAuthenticated())
	assert.Equal(t, "u1", coordinator.SubjectID())

	fields := store.fields()
	assert.Equal(t, "u1", fields[authsession.FieldSubjectID])
	assert.Equal(t, "Ana", fields[authsession.FieldFirstName])
}

func TestResumeFastPathSkipsMinting(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	coordinator := newTestCoordinator(t, backend, minter, store)

	require.NoError(t, coordinator.LoginWithToken(context.Background(), "tok-A", nil))
	authBefore, _, _ := backend.counts()

	err := coordinator.ResumeOrLogin(context.Background(), "cognito-id-1", map[string]string{
		authsession.FieldFirstName: "Ana",
	})
	require.NoError(t, err)

	minter.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything)

	authAfter, _, _ := backend.counts()
	assert.Equal(t, authBefore, authAfter, "resume must not hit the backend")
}

func TestResumeOrLoginRejectsEmptyFederatedID(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	coordinator := newTestCoordinator(t, backend, minter, store)

	err := coordinator.ResumeOrLogin(context.Background(), "", nil)
	require.Error(t, err)
	minter.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything)
}

func TestResumeOrLoginPropagatesMintingError(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	coordinator := newTestCoordinator(t, backend, minter, store)

	minter.On("Mint", mock.Anything, "cognito-id-1").Return("", assert.AnError)

	err := coordinator.ResumeOrLogin(context.Background(), "cognito-id-1", nil)
	require.Error(t, err)
	assert.True(t, authsession.IsTokenMintError(err))

	auth, _, _ := backend.counts()
	assert.Zero(t, auth, "minting failure must not attempt a login")
	assert.False(t, coordinator.Session().IsAuthenticated())
}

func TestLoginWithTokenPropagatesAuthenticationError(t *testing.T) {
	backend := newFakeBackend()
	backend.authFn = func(ctx context.Context, endpoint, token string) (authsession.Identity, error) {
		return nil, assert.AnError
	}
	minter := &MockMinter{}
	store := newFakeRecordStore()
	coordinator := newTestCoordinator(t, backend, minter, store)

	err := coordinator.LoginWithToken(context.Background(), "tok-bad", nil)
	require.Error(t, err)
	assert.True(t, authsession.IsAuthenticationError(err))

	loads, _, _ := store.counts()
	assert.Zero(t, loads, "failed login must not materialize a record")
}

func TestRecordStoreFailureDoesNotRollBackAuth(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	store.err = assert.AnError
	coordinator := newTestCoordinator(t, backend, minter, store)

	err := coordinator.LoginWithToken(context.Background(), "tok-A", nil)
	require.Error(t, err)
	assert.True(t, authsession.IsRecordStoreError(err))
	assert.True(t, coordinator.Session().IsAuthenticated(), "auth and materialization are decoupled")
}

func TestFreshLoginMaterializesExactlyOnce(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	// A slow store widens the window between the synchronous materialization
	// and the one driven by the session fan-out.
	store.delay = 100 * time.Millisecond
	coordinator := newTestCoordinator(t, backend, minter, store)

	require.NoError(t, coordinator.LoginWithToken(context.Background(), "tok-A", nil))
	require.NotNil(t, coordinator.CurrentRecord())

	// Let the fan-out path land before counting.
	time.Sleep(150 * time.Millisecond)

	loads, creates, _ := store.counts()
	assert.Equal(t, 1, loads, "one fresh login must issue exactly one load")
	assert.Equal(t, 1, creates)
}

func TestMaterializationFiresOncePerSubject(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	coordinator := newTestCoordinator(t, backend, minter, store)

	require.NoError(t, coordinator.LoginWithToken(context.Background(), "tok-A", nil))

	// Force a logout and a fresh login for the same subject.
	backend.Push(nil)
	require.Eventually(t, func() bool {
		return coordinator.CurrentRecord() == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, coordinator.LoginWithToken(context.Background(), "tok-A2", nil))
	require.Eventually(t, func() bool {
		return coordinator.CurrentRecord() != nil
	}, time.Second, 5*time.Millisecond)

	_, creates, _ := store.counts()
	assert.Equal(t, 1, creates, "a subject's record is created at most once")
}

func TestPushedIdentityLossDiscardsRecord(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	coordinator := newTestCoordinator(t, backend, minter, store)

	require.NoError(t, coordinator.LoginWithToken(context.Background(), "tok-A", nil))
	require.NotNil(t, coordinator.CurrentRecord())

	backend.Push(nil)

	require.Eventually(t, func() bool {
		_, _, stopped := store.counts()
		return stopped == 1
	}, time.Second, 5*time.Millisecond, "record observation must stop on identity loss")

	assert.Nil(t, coordinator.CurrentRecord())
	assert.Empty(t, coordinator.SubjectID())
}

func TestLoginScenarioSeedsProviderContext(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	coordinator := newTestCoordinator(t, backend, minter, store)

	err := coordinator.LoginWithToken(context.Background(), "tok-A", map[string]string{
		authsession.FieldFirstName: "Ana",
	})
	require.NoError(t, err)

	assert.Equal(t, authsession.StateLoggedIn, coordinator.Session().State())
	assert.Equal(t, "u1", coordinator.Session().CurrentIdentity().ID())

	fields := store.fields()
	assert.Equal(t, map[string]string{
		authsession.FieldSubjectID: "u1",
		authsession.FieldFirstName: "Ana",
	}, fields)
}

func TestMintedTokenGuardRejectsBeforeBackend(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	session := authsession.NewSession(testEndpoint, backend)

	guard := authsession.TokenGuardFunc(func(string) error {
		return assert.AnError
	})
	coordinator := authsession.NewCoordinator(session, minter, store,
		authsession.WithMintedTokenGuard(guard),
	)

	err := coordinator.LoginWithToken(context.Background(), "tok-A", nil)
	require.Error(t, err)
	assert.True(t, authsession.IsAuthenticationError(err))

	auth, _, _ := backend.counts()
	assert.Zero(t, auth, "guarded token must never reach the backend")
}

func TestCoordinatorCloseUnsubscribes(t *testing.T) {
	backend := newFakeBackend()
	minter := &MockMinter{}
	store := newFakeRecordStore()
	coordinator := newTestCoordinator(t, backend, minter, store)

	require.NoError(t, coordinator.LoginWithToken(context.Background(), "tok-A", nil))
	coordinator.Close()

	backend.Push(nil)
	time.Sleep(50 * time.Millisecond)

	assert.NotNil(t, coordinator.CurrentRecord(), "a closed coordinator must not react to auth events")
}
