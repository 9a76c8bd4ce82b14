package casaos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, token TokenSource) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, Options{Token: token})
	require.NoError(t, err)
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestParseBaseURL_Normalizes(t *testing.T) {
	u, err := parseBaseURL("http://example.com:1234/path?x=1#frag")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:1234", u.String())

	u, err = parseBaseURL("casa.local:8080")
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "casa.local:8080", u.Host)

	_, err = parseBaseURL("  ")
	assert.True(t, IsKind(err, KindValidation))
}

func TestLogin_AcceptsTokenShapes(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"flat":          `{"success":true,"token":"abc"}`,
		"data string":   `{"success":200,"data":{"token":"abc"}}`,
		"access token":  `{"success":true,"data":{"token":{"access_token":"abc","refresh_token":"r"}}}`,
		"numeric quote": `{"success":"200","token":"abc"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var gotReq LoginRequest
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, pathLogin, r.URL.Path)
				_ = json.NewDecoder(r.Body).Decode(&gotReq)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
			}), nil)

			resp, err := c.Login(testContext(t), "admin", "secret")
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Equal(t, "abc", resp.Token)
			assert.Equal(t, LoginRequest{Username: "admin", Password: "secret"}, gotReq)
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"success":false,"message":"bad password"}`, KindAuth},
		{"success false", http.StatusOK, `{"success":false,"message":"bad password"}`, KindAuth},
		{"missing token", http.StatusOK, `{"success":true}`, KindProtocol},
		{"not json", http.StatusOK, `<html></html>`, KindProtocol},
		{"server error", http.StatusInternalServerError, `oops`, KindProtocol},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}), nil)

			_, err := c.Login(testContext(t), "admin", "wrong")
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}
}

func TestClient_TokenConsultedPerRequest(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	token := "first"

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": "v0.4.15"})
	}), func() string { return token })

	ctx := testContext(t)
	_, err := c.Version(ctx)
	require.NoError(t, err)
	token = ""
	_, err = c.Version(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer first", ""}, seen)
}

func TestClient_SetsRequestHeaders(t *testing.T) {
	t.Parallel()

	var accept, agent, requestID string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		agent = r.Header.Get("User-Agent")
		requestID = r.Header.Get("X-Request-ID")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []AppInfo{}})
	}), nil)

	_, err := c.ListApps(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "application/json", accept)
	assert.Equal(t, defaultUserAgent, agent)
	assert.Len(t, requestID, 36)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"forbidden", http.StatusForbidden, `{"success":false,"message":"nope"}`, KindAuth},
		{"not found", http.StatusNotFound, `not here`, KindProtocol},
		{"success false", http.StatusOK, `{"success":false,"message":"disk busy"}`, KindProtocol},
		{"empty body", http.StatusOK, ``, KindProtocol},
		{"bad data", http.StatusOK, `{"success":true,"data":"not-an-object"}`, KindProtocol},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}), nil)

			_, err := c.SystemInfo(testContext(t))
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
			assert.Equal(t, tc.status, StatusCode(err))
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	c, err := NewClient(baseURL, Options{})
	require.NoError(t, err)

	_, err = c.ListApps(testContext(t))
	assert.True(t, IsKind(err, KindTransport))

	_, err = c.HomePage(testContext(t))
	assert.True(t, IsKind(err, KindTransport))
}

func TestClient_AppEndpoints(t *testing.T) {
	t.Parallel()

	type call struct {
		method string
		path   string
		query  string
	}
	var mu sync.Mutex
	var calls []call

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.RawQuery})
		mu.Unlock()
		switch r.URL.Path {
		case pathApps:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []AppInfo{
				{ID: "jellyfin", Name: "Jellyfin", Status: "running"},
				{ID: "nextcloud", Name: "Nextcloud", Status: "stopped"},
			}})
		case pathApps + "/jellyfin/logs":
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": "line1\nline2"})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}
	}), nil)

	ctx := testContext(t)
	apps, err := c.ListApps(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, ActionStop, apps[0].PrimaryAction())
	assert.Equal(t, ActionStart, apps[1].PrimaryAction())

	require.NoError(t, c.StartApp(ctx, "nextcloud"))
	require.NoError(t, c.StopApp(ctx, "jellyfin"))
	require.NoError(t, c.RestartApp(ctx, "jellyfin"))
	require.NoError(t, c.RemoveApp(ctx, "nextcloud"))

	logs, err := c.AppLogs(ctx, "jellyfin", 0)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", logs)

	assert.Equal(t, []call{
		{http.MethodGet, pathApps, ""},
		{http.MethodPost, pathApps + "/nextcloud/start", ""},
		{http.MethodPost, pathApps + "/jellyfin/stop", ""},
		{http.MethodPost, pathApps + "/jellyfin/restart", ""},
		{http.MethodDelete, pathApps + "/nextcloud", ""},
		{http.MethodGet, pathApps + "/jellyfin/logs", "lines=100"},
	}, calls)
}

func TestClient_AppActionRejectsBadInput(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", Options{})
	require.NoError(t, err)

	err = c.AppAction(context.Background(), "jellyfin", AppAction("explode"))
	assert.True(t, IsKind(err, KindValidation))

	err = c.StartApp(context.Background(), "../etc")
	assert.True(t, IsKind(err, KindValidation))

	err = c.StartApp(context.Background(), " ")
	assert.True(t, IsKind(err, KindValidation))
}

func TestClient_FileEndpointsEncodeQueries(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	queries := map[string]url.Values{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries[r.Method+" "+r.URL.Path] = r.URL.Query()
		mu.Unlock()
		switch r.URL.Path {
		case pathFileList:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": DirectoryListing{
				Path:    "/DATA",
				Content: []FileInfo{{Name: "Media", Path: "/DATA/Media", IsDir: true}},
			}})
		case pathFileInfo:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": FileInfo{Name: "a b.txt", Size: 12}})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}
	}), nil)

	ctx := testContext(t)
	listing, err := c.ListFiles(ctx, "/DATA")
	require.NoError(t, err)
	require.Len(t, listing.Content, 1)
	assert.True(t, listing.Content[0].IsDir)

	info, err := c.FileInfo(ctx, "/DATA/a b.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 12, info.Size)

	require.NoError(t, c.CreateDirectory(ctx, "/DATA/new"))
	require.NoError(t, c.DeleteFile(ctx, "/DATA/old"))
	require.NoError(t, c.RenameFile(ctx, "/DATA/a", "/DATA/b"))
	require.NoError(t, c.CopyFile(ctx, "/DATA/b", "/DATA/c"))
	require.NoError(t, c.MoveFile(ctx, "/DATA/c", "/DATA/d"))

	assert.Equal(t, "/DATA/a b.txt", queries["GET "+pathFileInfo].Get("path"))
	assert.Equal(t, "/DATA/new", queries["POST "+pathFileMkdir].Get("path"))
	assert.Equal(t, "/DATA/old", queries["DELETE "+pathFileDel].Get("path"))
	assert.Equal(t, "/DATA/b", queries["POST "+pathFileRen].Get("new_path"))
	assert.Equal(t, "/DATA/b", queries["POST "+pathFileCopy].Get("src"))
	assert.Equal(t, "/DATA/d", queries["POST "+pathFileMove].Get("dst"))
}

func TestClient_RawPagesNeverFailOnStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte("<!DOCTYPE html><title>CasaOS</title>"))
		case pathPing:
			_, _ = w.Write([]byte("pong"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}), nil)

	ctx := testContext(t)
	home, err := c.HomePage(ctx)
	require.NoError(t, err)
	assert.True(t, home.OK())
	assert.Contains(t, home.Body, "CasaOS")

	ping, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", ping.Body)

	health, err := c.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, health.StatusCode)
	assert.False(t, health.OK())
}

func TestPageFetcher_NoAuthHeader(t *testing.T) {
	t.Parallel()

	var auth, accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		accept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(server.Close)

	f, err := NewPageFetcher(nil)
	require.NoError(t, err)

	page, err := f.Fetch(testContext(t), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, page.StatusCode)
	assert.Empty(t, auth)
	assert.Empty(t, accept)
}
