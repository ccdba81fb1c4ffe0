package main

import (
	"crypto/tls"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

//go:embed web/*
var embeddedFiles embed.FS

// freshWindow is how many publish intervals a data document may lag before
// the status report marks it stale.
const freshWindow = 3

// Server exposes the supervisor over HTTP: agent lifecycle endpoints, the
// dynamic data documents the bench pages poll, and the embedded dashboard.
type Server struct {
	cfgMgr   *ConfigManager
	sessions *SessionManager
	manifest *Manifest
	reg      *Registry
	ctl      *Controller
	events   *EventLog
	metrics  *Metrics
	log      *zap.SugaredLogger
}

// NewServer wires the supervisor's HTTP surface.
func NewServer(cfgMgr *ConfigManager, manifest *Manifest, reg *Registry, ctl *Controller, events *EventLog, metrics *Metrics, log *zap.SugaredLogger) *Server {
	return &Server{
		cfgMgr:   cfgMgr,
		sessions: NewSessionManager(),
		manifest: manifest,
		reg:      reg,
		ctl:      ctl,
		events:   events,
		metrics:  metrics,
		log:      log,
	}
}

// Handler builds the route table.  Split from Start so tests can drive the
// mux through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	mux.HandleFunc("POST /api/agents/{name}/start", s.withAuth(s.handleStart))
	mux.HandleFunc("POST /api/agents/{name}/stop", s.withAuth(s.handleStop))
	mux.HandleFunc("POST /api/agents/{name}/restart", s.withAuth(s.handleRestart))

	// The data endpoint is open: the bench pages poll it without a session
	// and absence of the document is the offline signal, so it must stay
	// reachable regardless of auth configuration.
	mux.HandleFunc("GET /api/agents/{name}/data", s.handleData)

	mux.HandleFunc("POST /api/altimeter/reset", s.withAuth(s.handleAltimeterReset))
	mux.HandleFunc("POST /api/led", s.withAuth(s.handleLED))
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.Handle("GET /metrics", s.metrics.Handler())

	// Embedded dashboard at the root.
	sub, err := fs.Sub(embeddedFiles, "web")
	if err != nil {
		panic(err)
	}
	mux.Handle("/", http.FileServerFS(sub))

	return mux
}

// Start runs the HTTP server, with TLS when a certificate is configured.
// It blocks until the server shuts down.
func (s *Server) Start() error {
	cfg := s.cfgMgr.Get()
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)

	srv := &http.Server{
		Addr:      addr,
		Handler:   s.Handler(),
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		s.log.Infof("listening on https://0.0.0.0%s", addr)
		return srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	}
	s.log.Infof("listening on http://0.0.0.0%s", addr)
	return srv.ListenAndServe()
}

// withAuth guards control endpoints.  Auth is only enforced once at least
// one user account exists; a fresh install is open, like the original bench
// pages it replaces.
func (s *Server) withAuth(handler func(http.ResponseWriter, *http.Request, User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfgMgr.AuthRequired() {
			handler(w, r, User{})
			return
		}
		cookie, err := r.Cookie("session")
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		sess, ok := s.sessions.Get(cookie.Value)
		if !ok {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}
		user, _ := s.cfgMgr.FindUser(sess.Username)
		if user.Username == "" {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		handler(w, r, user)
	}
}

// agentSpec resolves the {name} path value.  A false return means the
// response has already been written.
func (s *Server) agentSpec(w http.ResponseWriter, r *http.Request) (AgentSpec, bool) {
	spec, ok := s.manifest.Get(r.PathValue("name"))
	if !ok {
		http.Error(w, "unknown agent", http.StatusNotFound)
		return AgentSpec{}, false
	}
	return spec, true
}

// handleStart ensures the agent is running.  Form parameters are translated
// to the agent's command line; an empty form means the agent's defaults.
// The call is idempotent: starting a running agent reports the live PID.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, user User) {
	spec, ok := s.agentSpec(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	args := spec.argsFromForm(r.Form)

	pid, started, err := s.ctl.EnsureRunning(spec, args)
	if err != nil {
		// Includes elevation failures: sudo rejected the configured
		// agent user, or the agent died on launch.
		s.log.Errorw("start failed", "agent", spec.Name, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"name": spec.Name, "pid": pid, "started": started})
}

// handleStop terminates the agent.  Stopping a stopped agent succeeds.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, user User) {
	spec, ok := s.agentSpec(w, r)
	if !ok {
		return
	}
	if err := s.ctl.Stop(spec); err != nil {
		s.log.Errorw("stop failed", "agent", spec.Name, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRestart stops the agent if running and starts it with the full new
// parameter set.  This is how parameter changes are applied.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request, user User) {
	spec, ok := s.agentSpec(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	args := spec.argsFromForm(r.Form)

	pid, err := s.ctl.RestartWithArgs(spec, args)
	if err != nil {
		s.log.Errorw("restart failed", "agent", spec.Name, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"name": spec.Name, "pid": pid, "started": true})
}

// handleData serves an agent's dynamic data document verbatim.  A missing
// document answers 404, which the polling clients interpret as the agent
// being offline; it is an expected state, not a server error.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.agentSpec(w, r)
	if !ok {
		return
	}
	cfg := s.cfgMgr.Get()
	data, err := os.ReadFile(filepath.Join(cfg.DataDir, spec.DataFile))
	if err != nil {
		if os.IsNotExist(err) {
			s.metrics.DataMissed(spec.Name)
			http.Error(w, "agent offline", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.metrics.DataServed(spec.Name)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// handleAltimeterReset raises the reset marker consumed by the altimeter
// agent on its next sample.  Raising an already raised marker is a no-op,
// and raising it while the agent is down is allowed: it stays pending.
func (s *Server) handleAltimeterReset(w http.ResponseWriter, r *http.Request, user User) {
	cfg := s.cfgMgr.Get()
	if err := os.MkdirAll(cfg.RunDir, 0755); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	marker := resetFlagPath(cfg.RunDir)
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.events.Log("altimeter reset requested")
	w.WriteHeader(http.StatusNoContent)
}

// handleLED toggles the LED output directly.  There is no agent behind it;
// the pin write is the whole operation.  Form parameter: state=on|off.
func (s *Server) handleLED(w http.ResponseWriter, r *http.Request, user User) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	var high bool
	switch r.Form.Get("state") {
	case "on":
		high = true
	case "off":
		high = false
	default:
		http.Error(w, "state must be on or off", http.StatusBadRequest)
		return
	}
	cfg := s.cfgMgr.Get()
	if err := writePin(cfg.LEDPin, high); err != nil {
		s.log.Errorw("LED write failed", "pin", cfg.LEDPin, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.events.Log("led %s", r.Form.Get("state"))
	writeJSON(w, map[string]string{"led": r.Form.Get("state")})
}

// handleStatus reports every agent's process state and data freshness in
// manifest order.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfgMgr.Get()
	statuses := make([]AgentStatus, 0, len(s.manifest.All()))
	for _, spec := range s.manifest.All() {
		st := AgentStatus{Name: spec.Name, Title: spec.Title}

		pid, err := s.reg.Lookup(spec)
		if err == nil {
			st.Running = true
			st.PID = pid
		} else if !errors.Is(err, ErrNotRunning) {
			s.log.Warnw("status lookup", "agent", spec.Name, "error", err)
		}

		if info, err := os.Stat(filepath.Join(cfg.DataDir, spec.DataFile)); err == nil {
			st.LastUpdate = info.ModTime().Format(stampLayout)
			st.DataFresh = time.Since(info.ModTime()) <= freshWindow*spec.Interval
		}
		statuses = append(statuses, st)
	}
	writeJSON(w, statuses)
}

// handleLogin authenticates a user and sets a session cookie.  Expected
// JSON: {"username":"...","password":"..."}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	user, err := s.cfgMgr.Authenticate(creds.Username, creds.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	sessID, _, err := s.sessions.Create(user.Username, 24*time.Hour)
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	cfg := s.cfgMgr.Get()
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    sessID,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.CertFile != "",
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(24 * time.Hour),
	})
	s.events.Log("login %s", user.Username)
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleLogout deletes the session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("session")
	if err == nil {
		s.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
