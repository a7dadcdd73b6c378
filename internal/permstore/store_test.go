package permstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/credential"
)

type stubFetcher struct {
	mu     sync.Mutex
	grants map[string]Grant
	errs   map[string]error
	gates  map[string]chan struct{}
	calls  int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		grants: make(map[string]Grant),
		errs:   make(map[string]error),
		gates:  make(map[string]chan struct{}),
	}
}

func (f *stubFetcher) FetchPermissions(ctx context.Context, cred string) (Grant, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[cred]
	grant, hasGrant := f.grants[cred]
	err := f.errs[cred]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		}
	}
	if err != nil {
		return Grant{}, err
	}
	if !hasGrant {
		return Grant{}, ErrNotAuthenticated
	}
	return grant, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveRefresh(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func editorGrant() Grant {
	return Grant{
		Role:   authz.Role{ID: 2, Name: "editor"},
		Matrix: authz.Matrix{authz.ModuleCourses: {View: true}},
	}
}

func TestNewStoreStartsLoading(t *testing.T) {
	s := New(newStubFetcher(), credential.NewHolder(""), Options{})
	state := s.State()
	assert.True(t, state.Loading)
	assert.Nil(t, state.Err)
	assert.Nil(t, state.Role)
}

func TestRefreshWithoutCredentialIsNotAnError(t *testing.T) {
	obs := &recordingObserver{}
	s := New(newStubFetcher(), credential.NewHolder(""), Options{Observer: obs})

	state := s.Refresh(context.Background())

	assert.False(t, state.Loading)
	assert.Nil(t, state.Err)
	assert.Nil(t, state.Role)
	assert.Nil(t, state.Matrix)
	assert.Equal(t, []string{OutcomeAnonymous}, obs.all())
}

func TestRefreshSuccessReplacesRoleAndMatrix(t *testing.T) {
	f := newStubFetcher()
	f.grants["tok"] = editorGrant()
	s := New(f, credential.NewHolder("tok"), Options{})

	state := s.Refresh(context.Background())

	require.NotNil(t, state.Role)
	assert.False(t, state.Loading)
	assert.NoError(t, state.Err)
	snap := state.Snapshot()
	assert.True(t, snap.Can(authz.ModuleCourses, authz.ActionView))
	assert.False(t, snap.Can(authz.ModuleCourses, authz.ActionCreate))
	assert.False(t, snap.Can(authz.ModuleWellbeing, authz.ActionView))
	assert.False(t, snap.HasRole(authz.RootRole))
}

func TestRefreshForbiddenClearsAndReportsError(t *testing.T) {
	f := newStubFetcher()
	f.errs["tok"] = ErrNotAuthorized
	s := New(f, credential.NewHolder("tok"), Options{})

	state := s.Refresh(context.Background())

	assert.False(t, state.Loading)
	assert.ErrorIs(t, state.Err, ErrNotAuthorized)
	assert.NotEmpty(t, state.Message())
	assert.Nil(t, state.Role)
	assert.Nil(t, state.Matrix)
}

func TestRefreshUnavailableWrapsCause(t *testing.T) {
	f := newStubFetcher()
	f.errs["tok"] = errors.New("boom")
	s := New(f, credential.NewHolder("tok"), Options{})

	state := s.Refresh(context.Background())

	assert.ErrorIs(t, state.Err, ErrUnavailable)
	assert.Equal(t, "Permissions could not be loaded. Please try again.", state.Message())
}

func TestRefreshUnauthorizedExpiresSession(t *testing.T) {
	f := newStubFetcher()
	holder := credential.NewHolder("stale")
	s := New(f, holder, Options{})

	state := s.Refresh(context.Background())
	assert.ErrorIs(t, state.Err, ErrSessionExpired)
	assert.Equal(t, "", holder.Credential(), "rejected credential must be dropped")

	state = s.Refresh(context.Background())
	assert.ErrorIs(t, state.Err, ErrSessionExpired, "expiry stays visible until a new login")
	assert.Equal(t, 1, f.callCount())

	f.mu.Lock()
	f.grants["fresh"] = editorGrant()
	f.mu.Unlock()
	holder.Set("fresh")
	state = s.Refresh(context.Background())
	assert.NoError(t, state.Err)
	require.NotNil(t, state.Role)
	assert.Equal(t, "editor", state.Role.Name)
}

func TestCredentialChangeDropsMatrixWhileLoading(t *testing.T) {
	f := newStubFetcher()
	f.grants["a"] = Grant{Role: authz.Role{ID: 1, Name: authz.RootRole}}
	gate := make(chan struct{})
	f.gates["b"] = gate
	f.grants["b"] = editorGrant()
	holder := credential.NewHolder("a")
	s := New(f, holder, Options{})
	s.Refresh(context.Background())

	holder.Set("b")
	done := make(chan struct{})
	go func() {
		s.Refresh(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return f.callCount() == 2 }, time.Second, 5*time.Millisecond)
	state := s.State()
	assert.True(t, state.Loading)
	assert.Nil(t, state.Role, "root role from the previous credential must not survive")
	assert.False(t, state.Snapshot().Can(authz.ModuleAudit, authz.ActionView))

	close(gate)
	<-done
	assert.Equal(t, "editor", s.State().Role.Name)
}

func TestLatestRefreshWins(t *testing.T) {
	f := newStubFetcher()
	slow := make(chan struct{})
	f.gates["tok-1"] = slow
	f.grants["tok-1"] = Grant{Role: authz.Role{ID: 1, Name: "first"}}
	f.grants["tok-2"] = Grant{Role: authz.Role{ID: 2, Name: "second"}}
	obs := &recordingObserver{}
	holder := credential.NewHolder("tok-1")
	s := New(f, holder, Options{Observer: obs})

	done := make(chan struct{})
	go func() {
		s.Refresh(context.Background())
		close(done)
	}()
	assert.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, 5*time.Millisecond)

	holder.Set("tok-2")
	s.Refresh(context.Background())
	close(slow)
	<-done

	state := s.State()
	require.NotNil(t, state.Role)
	assert.Equal(t, "second", state.Role.Name)
	assert.Contains(t, obs.all(), OutcomeSuperseded)
}

func TestBindRefreshesOnCredentialSignal(t *testing.T) {
	f := newStubFetcher()
	f.grants["tok"] = editorGrant()
	holder := credential.NewHolder("")
	s := New(f, holder, Options{})
	s.Bind(holder.Signal())
	t.Cleanup(s.Close)

	holder.Set("tok")
	assert.Eventually(t, func() bool {
		st := s.State()
		return !st.Loading && st.Role != nil
	}, time.Second, 5*time.Millisecond)

	holder.Clear()
	assert.Eventually(t, func() bool {
		st := s.State()
		return !st.Loading && st.Role == nil && st.Err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestCloseUnsubscribes(t *testing.T) {
	holder := credential.NewHolder("")
	s := New(newStubFetcher(), holder, Options{})
	s.Bind(holder.Signal())
	assert.Equal(t, 1, holder.Signal().Len())
	s.Close()
	assert.Equal(t, 0, holder.Signal().Len())
}

func TestWaitLoadedHonoursContext(t *testing.T) {
	f := newStubFetcher()
	f.gates["tok"] = make(chan struct{})
	s := New(f, credential.NewHolder("tok"), Options{})
	s.Start()
	t.Cleanup(s.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	state := s.WaitLoaded(ctx)
	assert.True(t, state.Loading)
}

func TestWaitLoadedReturnsAfterFirstLoad(t *testing.T) {
	s := New(newStubFetcher(), credential.NewHolder(""), Options{})
	s.Start()
	t.Cleanup(s.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state := s.WaitLoaded(ctx)
	assert.False(t, state.Loading)
	assert.Nil(t, state.Err)
}

func TestGenerationAdvances(t *testing.T) {
	s := New(newStubFetcher(), credential.NewHolder(""), Options{})
	before := s.State().Generation
	s.Refresh(context.Background())
	assert.Greater(t, s.State().Generation, before)
}
