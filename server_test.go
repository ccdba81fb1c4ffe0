package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *testBench) {
	t.Helper()
	b := newTestBench(t)
	require.NoError(t, b.cfgMgr.Update(func(c *Config) error {
		c.DataDir = t.TempDir()
		c.RunDir = t.TempDir()
		return nil
	}))
	manifest, err := LoadManifest("")
	require.NoError(t, err)

	srv := NewServer(b.cfgMgr, manifest, b.reg, b.ctl, nil, NewMetrics(), zap.NewNop().Sugar())
	return srv, b
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDataEndpointOfflineAndOnline(t *testing.T) {
	srv, b := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/agents/pushbutton/data", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code, "absent document means offline")

	cfg := b.cfgMgr.Get()
	doc := `[{"time":"08/23/2026 10:00:00","count":"4"}]`
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "pushButtonData.js"), []byte(doc), 0644))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents/pushbutton/data", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, doc, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestDataEndpointUnknownAgent(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents/nonesuch/data", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartEndpointSpawnsOnce(t *testing.T) {
	srv, b := newTestServer(t)
	h := srv.Handler()

	w := postForm(t, h, "/api/agents/pushbutton/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"started":true`)

	w = postForm(t, h, "/api/agents/pushbutton/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"started":false`)
	assert.Len(t, b.spawns, 1)
}

func TestStartTranslatesFormParams(t *testing.T) {
	srv, b := newTestServer(t)

	form := url.Values{"frequency": {"50"}, "waveform": {"sqr"}}
	w := postForm(t, srv.Handler(), "/api/agents/fncgen/start", form)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, b.spawns, 1)
	assert.Equal(t, []string{"-f", "50", "-w", "sqr"}, b.spawns[0])
}

func TestStartSpawnFailureIsBadGateway(t *testing.T) {
	srv, b := newTestServer(t)
	b.spawnErr = assert.AnError

	w := postForm(t, srv.Handler(), "/api/agents/servo/start", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestStopEndpoint(t *testing.T) {
	srv, b := newTestServer(t)
	h := srv.Handler()

	require.Equal(t, http.StatusOK, postForm(t, h, "/api/agents/servo/start", nil).Code)
	assert.Equal(t, http.StatusNoContent, postForm(t, h, "/api/agents/servo/stop", nil).Code)
	assert.Len(t, b.killed, 1)

	// Stopping again is still a success.
	assert.Equal(t, http.StatusNoContent, postForm(t, h, "/api/agents/servo/stop", nil).Code)
}

func TestRestartEndpointAppliesNewArgs(t *testing.T) {
	srv, b := newTestServer(t)
	h := srv.Handler()

	require.Equal(t, http.StatusOK,
		postForm(t, h, "/api/agents/oscilloscope/start", nil).Code)

	form := url.Values{"rate": {"500"}, "size": {"400"}}
	w := postForm(t, h, "/api/agents/oscilloscope/restart", form)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, b.spawns, 2)
	assert.Equal(t, []string{"-r", "500", "-n", "400"}, b.spawns[1])
	assert.Len(t, b.killed, 1)
}

func TestStatusListsAllAgents(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	require.Equal(t, http.StatusOK, postForm(t, h, "/api/agents/altimeter/start", nil).Code)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	for _, name := range []string{"pushbutton", "servo", "fncgen", "oscilloscope", "altimeter"} {
		assert.Contains(t, body, name)
	}
	assert.Contains(t, body, `"running":true`)
}

func TestAltimeterResetRaisesMarker(t *testing.T) {
	srv, b := newTestServer(t)
	h := srv.Handler()

	assert.Equal(t, http.StatusNoContent, postForm(t, h, "/api/altimeter/reset", nil).Code)
	marker := resetFlagPath(b.cfgMgr.Get().RunDir)
	assert.FileExists(t, marker)

	// Requesting a reset while one is pending is a no-op, not an error.
	assert.Equal(t, http.StatusNoContent, postForm(t, h, "/api/altimeter/reset", nil).Code)
	assert.FileExists(t, marker)
}

func TestLEDEndpoint(t *testing.T) {
	require.NoError(t, initHardware())
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := postForm(t, h, "/api/led", url.Values{"state": {"on"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"led":"on"`)

	w = postForm(t, h, "/api/led", url.Values{"state": {"blink"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestControlRequiresAuthOnceUsersExist(t *testing.T) {
	srv, b := newTestServer(t)
	require.NoError(t, b.cfgMgr.Update(func(c *Config) error {
		c.Users = append(c.Users, User{
			Username:     "operator",
			PasswordHash: hashPassword("hunter2"),
		})
		return nil
	}))
	h := srv.Handler()

	assert.Equal(t, http.StatusUnauthorized,
		postForm(t, h, "/api/agents/pushbutton/start", nil).Code)

	// The data endpoint stays open: pages poll it without a session.
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents/pushbutton/data", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "404 offline, not 401")

	// Log in, then retry with the session cookie.
	login := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"operator","password":"hunter2"}`))
	lw := httptest.NewRecorder()
	h.ServeHTTP(lw, login)
	require.Equal(t, http.StatusOK, lw.Code)
	cookies := lw.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodPost, "/api/agents/pushbutton/start", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, b := newTestServer(t)
	require.NoError(t, b.cfgMgr.Update(func(c *Config) error {
		c.Users = append(c.Users, User{Username: "operator", PasswordHash: hashPassword("right")})
		return nil
	}))

	login := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"operator","password":"wrong"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, login)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
