package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/casadeck/internal/casaos"
)

type fakePersister struct {
	mu       sync.Mutex
	cfg      casaos.ServerConfig
	token    string
	loggedIn bool
	saves    int
}

func (f *fakePersister) Save(_ context.Context, cfg casaos.ServerConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.saves++
	return nil
}

func (f *fakePersister) SetLoggedIn(_ context.Context, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedIn = v
	return nil
}

func (f *fakePersister) SaveToken(_ context.Context, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = tok
	return nil
}

func (f *fakePersister) ClearToken(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	return nil
}

// casaServer fakes login, logout and the app list, recording the
// Authorization header seen on each path.
type casaServer struct {
	*httptest.Server
	mu    sync.Mutex
	auth  map[string]string
	token string
}

func newCasaServer(t *testing.T, token string) *casaServer {
	t.Helper()
	s := &casaServer{auth: map[string]string{}, token: token}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.auth[r.URL.Path] = r.Header.Get("Authorization")
		s.mu.Unlock()
		switch r.URL.Path {
		case "/v1/auth/login":
			_, _ = w.Write([]byte(`{"success":true,"token":"` + s.token + `"}`))
		case "/v1/auth/logout":
			_, _ = w.Write([]byte(`{"success":true}`))
		case "/v2/app_management/apps":
			_, _ = w.Write([]byte(`{"success":true,"data":[{"id":"jellyfin","name":"Jellyfin","status":"running"}]}`))
		default:
			_, _ = w.Write([]byte("<html>CasaOS</html>"))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *casaServer) authFor(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth[path]
}

func newManager(t *testing.T, store Persister) *Manager {
	t.Helper()
	m, err := NewManager(ManagerOptions{Store: store})
	require.NoError(t, err)
	return m
}

func TestManager_ClientBeforeNegotiation(t *testing.T) {
	m := newManager(t, nil)
	_, err := m.Client()
	assert.ErrorIs(t, err, ErrNotNegotiated)
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestManager_LoginTokenReachesApiCalls(t *testing.T) {
	t.Parallel()

	srv := newCasaServer(t, "T")
	store := &fakePersister{}
	m := newManager(t, store)

	cfg := serverConfig(t, srv.URL)
	cfg.Username, cfg.Password = "admin", "secret"
	require.True(t, m.UpdateConfig(cfg))

	res, err := m.Negotiate(testContext(t))
	require.NoError(t, err)
	require.True(t, res.Connected)

	client, err := m.Client()
	require.NoError(t, err)
	apps, err := client.ListApps(testContext(t))
	require.NoError(t, err)
	require.Len(t, apps, 1)

	assert.Contains(t, srv.authFor("/v2/app_management/apps"), "T")
	assert.Equal(t, "T", store.token)
	assert.True(t, store.loggedIn)
	assert.Equal(t, cfg, store.cfg)
}

func TestManager_UpdateConfigDropsSession(t *testing.T) {
	t.Parallel()

	srv := newCasaServer(t, "T")
	m := newManager(t, nil)

	cfg := serverConfig(t, srv.URL)
	cfg.Username, cfg.Password = "admin", "secret"
	m.UpdateConfig(cfg)
	_, err := m.Negotiate(testContext(t))
	require.NoError(t, err)

	oldClient, err := m.Client()
	require.NoError(t, err)

	assert.False(t, m.UpdateConfig(cfg), "same config must not drop the session")
	_, ok := m.Current()
	assert.True(t, ok)

	next := cfg
	next.Username = "other"
	assert.True(t, m.UpdateConfig(next))

	_, ok = m.Current()
	assert.False(t, ok)
	_, err = m.Client()
	assert.ErrorIs(t, err, ErrNotNegotiated)

	_, err = oldClient.ListApps(testContext(t))
	require.NoError(t, err)
	assert.Empty(t, srv.authFor("/v2/app_management/apps"), "stale client must not send the old token")
}

func TestManager_DiscardsCancelledNegotiation(t *testing.T) {
	t.Parallel()

	srv := newCasaServer(t, "T")
	m := newManager(t, nil)
	m.UpdateConfig(serverConfig(t, srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := m.Negotiate(ctx)
	assert.ErrorIs(t, err, ErrDiscarded)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Connected)
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestManager_DiscardsResultAfterConfigChange(t *testing.T) {
	t.Parallel()

	m := newManager(t, nil)
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			m.UpdateConfig(casaos.ServerConfig{Host: "elsewhere.local", Port: 80})
		})
		_, _ = w.Write([]byte("<html></html>"))
	}))
	t.Cleanup(server.Close)

	m.UpdateConfig(serverConfig(t, server.URL))

	res, err := m.Negotiate(testContext(t))
	assert.True(t, res.Connected)
	assert.ErrorIs(t, err, ErrDiscarded)
	_, ok := m.Current()
	assert.False(t, ok)
	assert.Equal(t, "elsewhere.local", m.Config().Host)
}

func TestManager_FailedNegotiationClearsSession(t *testing.T) {
	t.Parallel()

	srv := newCasaServer(t, "T")
	m := newManager(t, nil)
	m.UpdateConfig(serverConfig(t, srv.URL))
	_, err := m.Negotiate(testContext(t))
	require.NoError(t, err)

	srv.Close()
	res, err := m.Negotiate(testContext(t))
	require.NoError(t, err)
	assert.False(t, res.Connected)
	_, err = m.Client()
	assert.ErrorIs(t, err, ErrNotNegotiated)
}

func TestManager_Logout(t *testing.T) {
	t.Parallel()

	srv := newCasaServer(t, "T")
	store := &fakePersister{}
	m := newManager(t, store)

	cfg := serverConfig(t, srv.URL)
	cfg.Username, cfg.Password = "admin", "secret"
	m.UpdateConfig(cfg)
	_, err := m.Negotiate(testContext(t))
	require.NoError(t, err)

	require.NoError(t, m.Logout(testContext(t)))
	assert.Equal(t, "Bearer T", srv.authFor("/v1/auth/logout"))

	sess, ok := m.Current()
	require.True(t, ok)
	assert.Empty(t, sess.Token)
	assert.False(t, sess.Authenticated)
	assert.Empty(t, store.token)
	assert.False(t, store.loggedIn)

	client, err := m.Client()
	require.NoError(t, err)
	_, err = client.ListApps(testContext(t))
	require.NoError(t, err)
	assert.Empty(t, srv.authFor("/v2/app_management/apps"))
}

func TestManager_LogoutIgnoresServerFailure(t *testing.T) {
	t.Parallel()

	srv := newCasaServer(t, "T")
	store := &fakePersister{token: "T", loggedIn: true}
	m := newManager(t, store)

	cfg := serverConfig(t, srv.URL)
	cfg.Username, cfg.Password = "admin", "secret"
	m.UpdateConfig(cfg)
	_, err := m.Negotiate(testContext(t))
	require.NoError(t, err)

	srv.Close()
	err = m.Logout(testContext(t))
	assert.NoError(t, err)
	assert.Empty(t, store.token)
	assert.False(t, store.loggedIn)
}

// gatedPersister blocks the first Save until released.
type gatedPersister struct {
	fakePersister
	saving  chan struct{}
	release chan struct{}
	once    sync.Once
	tokens  int
	flagged int
}

func (g *gatedPersister) Save(ctx context.Context, cfg casaos.ServerConfig) error {
	g.once.Do(func() {
		close(g.saving)
		<-g.release
	})
	return g.fakePersister.Save(ctx, cfg)
}

func (g *gatedPersister) SaveToken(ctx context.Context, tok string) error {
	g.mu.Lock()
	g.tokens++
	g.mu.Unlock()
	return g.fakePersister.SaveToken(ctx, tok)
}

func (g *gatedPersister) SetLoggedIn(ctx context.Context, v bool) error {
	g.mu.Lock()
	g.flagged++
	g.mu.Unlock()
	return g.fakePersister.SetLoggedIn(ctx, v)
}

func TestManager_ConfigChangeStopsPendingPersistence(t *testing.T) {
	t.Parallel()

	first := newCasaServer(t, "OLD")
	second := newCasaServer(t, "NEW")
	store := &gatedPersister{saving: make(chan struct{}), release: make(chan struct{})}
	m := newManager(t, store)

	cfgA := serverConfig(t, first.URL)
	cfgA.Username, cfgA.Password = "admin", "secret"
	cfgB := serverConfig(t, second.URL)
	cfgB.Username, cfgB.Password = "admin", "secret"

	m.UpdateConfig(cfgA)
	done := make(chan error, 1)
	go func() {
		_, err := m.Negotiate(testContext(t))
		done <- err
	}()

	<-store.saving
	require.True(t, m.UpdateConfig(cfgB))
	close(store.release)
	require.NoError(t, <-done)

	store.mu.Lock()
	assert.Zero(t, store.tokens, "token of the replaced session must not be stored")
	assert.Zero(t, store.flagged)
	store.mu.Unlock()

	res, err := m.Negotiate(testContext(t))
	require.NoError(t, err)
	require.True(t, res.Connected)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, cfgB, store.cfg)
	assert.Equal(t, "NEW", store.token)
	assert.True(t, store.loggedIn)
}
