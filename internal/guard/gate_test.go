package guard

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/credential"
	"github.com/snies/snies-admin/internal/permstore"
	"github.com/snies/snies-admin/internal/shared"
	"github.com/snies/snies-admin/internal/view"
)

type fixedFetcher struct {
	grant permstore.Grant
	err   error
}

func (f fixedFetcher) FetchPermissions(ctx context.Context, cred string) (permstore.Grant, error) {
	return f.grant, f.err
}

type countingObserver struct {
	decisions []string
}

func (o *countingObserver) ObserveDecision(decision string) {
	o.decisions = append(o.decisions, decision)
}

type gateFixture struct {
	gate     *Gate
	sessions *shared.SessionManager
	observer *countingObserver
}

func newGateFixture(t *testing.T, wait time.Duration) gateFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	templates, err := view.NewEngine()
	require.NoError(t, err)
	observer := &countingObserver{}
	gate := NewGate(GateConfig{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Templates: templates,
		CSRF:      shared.NewCSRFManager("csrf-secret"),
		Observer:  observer,
		LoadWait:  wait,
	})
	return gateFixture{
		gate:     gate,
		sessions: shared.NewSessionManager(client, "snies_session", "session-secret", time.Hour, false),
		observer: observer,
	}
}

func loadedStore(t *testing.T, fetcher permstore.Fetcher) *permstore.Store {
	t.Helper()
	store := permstore.New(fetcher, credential.NewHolder("token"), permstore.Options{})
	t.Cleanup(store.Close)
	store.Refresh(context.Background())
	return store
}

func (f gateFixture) serve(t *testing.T, sess *shared.Session, store *permstore.Store, cfg Config) *httptest.ResponseRecorder {
	t.Helper()
	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("protected content"))
	})
	req := httptest.NewRequest(http.MethodGet, "/modules/courses", nil)
	ctx := req.Context()
	if sess != nil {
		ctx = shared.ContextWithSession(ctx, sess)
	}
	if store != nil {
		ctx = permstore.ContextWithStore(ctx, store)
	}
	rec := httptest.NewRecorder()
	f.gate.Require(cfg)(protected).ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func (f gateFixture) session(t *testing.T) *shared.Session {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	return sess
}

func editorFetcher() fixedFetcher {
	return fixedFetcher{grant: permstore.Grant{
		Role:   authz.Role{ID: 2, Name: "editor"},
		Matrix: authz.Matrix{authz.ModuleCourses: {View: true}},
	}}
}

func TestGateAllowsAuthorisedRequest(t *testing.T) {
	f := newGateFixture(t, 0)
	rec := f.serve(t, f.session(t), loadedStore(t, editorFetcher()), ForModule(authz.ModuleCourses, authz.ActionView))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "protected content", rec.Body.String())
	assert.Equal(t, []string{"allowed"}, f.observer.decisions)
}

func TestGateDeniesAndNotifiesOnce(t *testing.T) {
	f := newGateFixture(t, 0)
	sess := f.session(t)
	store := loadedStore(t, editorFetcher())
	cfg := ForModule(authz.ModuleCourses, authz.ActionDelete)

	notified := 0
	for i := 0; i < 5; i++ {
		rec := f.serve(t, sess, store, cfg)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		body := rec.Body.String()
		assert.NotContains(t, body, "protected content")
		assert.Contains(t, body, "You do not have permission to delete Courses.")
		if strings.Contains(body, "flash-warning") {
			notified++
		}
	}
	assert.Equal(t, 1, notified)
}

func TestGateReArmsAfterAllowed(t *testing.T) {
	f := newGateFixture(t, 0)
	sess := f.session(t)
	denied := loadedStore(t, fixedFetcher{err: permstore.ErrNotAuthorized})
	allowed := loadedStore(t, editorFetcher())
	cfg := ForModule(authz.ModuleCourses, authz.ActionView)

	assert.Contains(t, f.serve(t, sess, denied, cfg).Body.String(), "flash-warning")
	assert.NotContains(t, f.serve(t, sess, denied, cfg).Body.String(), "flash-warning")
	assert.Equal(t, http.StatusOK, f.serve(t, sess, allowed, cfg).Code)
	assert.Contains(t, f.serve(t, sess, denied, cfg).Body.String(), "flash-warning")
}

func TestGateRendersFailureWithRetry(t *testing.T) {
	f := newGateFixture(t, 0)
	store := loadedStore(t, fixedFetcher{err: permstore.ErrUnavailable})
	rec := f.serve(t, f.session(t), store, ForModule(authz.ModuleCourses, authz.ActionView))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Permissions could not be loaded")
	assert.Contains(t, body, `action="/permissions/refresh"`)
	assert.Contains(t, body, `name="csrf_token"`)
	assert.NotContains(t, body, "protected content")
}

func TestGateRendersExpiredSession(t *testing.T) {
	f := newGateFixture(t, 0)
	store := loadedStore(t, fixedFetcher{err: permstore.ErrNotAuthenticated})
	rec := f.serve(t, f.session(t), store, PassThrough())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your session has expired")
}

func TestGateRendersPlaceholderWhileLoading(t *testing.T) {
	f := newGateFixture(t, 0)
	store := permstore.New(editorFetcher(), credential.NewHolder("token"), permstore.Options{})
	t.Cleanup(store.Close)
	rec := f.serve(t, f.session(t), store, PassThrough())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `http-equiv="refresh"`)
	assert.NotContains(t, rec.Body.String(), "protected content")
}

func TestGateWaitsForFirstLoad(t *testing.T) {
	f := newGateFixture(t, 2*time.Second)
	store := permstore.New(editorFetcher(), credential.NewHolder("token"), permstore.Options{})
	t.Cleanup(store.Close)
	store.Start()
	rec := f.serve(t, f.session(t), store, ForModule(authz.ModuleCourses, authz.ActionView))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "protected content", rec.Body.String())
}

func TestGateWithoutStoreFails(t *testing.T) {
	f := newGateFixture(t, 0)
	rec := f.serve(t, f.session(t), nil, ForModule(authz.ModuleCourses, authz.ActionView))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGateRoleGuard(t *testing.T) {
	f := newGateFixture(t, 0)
	rec := f.serve(t, f.session(t), loadedStore(t, editorFetcher()), ForRole(authz.RootRole))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "restricted to the root role")

	root := loadedStore(t, fixedFetcher{grant: permstore.Grant{Role: authz.Role{ID: 1, Name: authz.RootRole}}})
	rec = f.serve(t, f.session(t), root, ForRole(authz.RootRole))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateDenialLinksHomeForMatrixDenial(t *testing.T) {
	f := newGateFixture(t, 0)
	rec := f.serve(t, f.session(t), loadedStore(t, editorFetcher()), ForModule(authz.ModuleCourses, authz.ActionDelete))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Back to dashboard")
	assert.NotContains(t, rec.Body.String(), `action="/auth/logout"`)
}

func TestGateAccountDenialOffersSignOut(t *testing.T) {
	f := newGateFixture(t, 0)
	store := loadedStore(t, fixedFetcher{err: permstore.ErrNotAuthorized})
	rec := f.serve(t, f.session(t), store, PassThrough())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `action="/auth/logout"`)
	assert.Contains(t, body, `name="csrf_token"`)
	assert.NotContains(t, body, "Back to dashboard")
}
