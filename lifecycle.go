package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// SpawnFunc starts an agent process detached from the caller and returns
// its PID.  Injected so the controller is testable without real processes.
type SpawnFunc func(spec AgentSpec, args []string) (int, error)

// KillFunc delivers a signal to a PID.
type KillFunc func(pid int, sig syscall.Signal) error

// Controller drives agent process lifecycle: idempotent ensure-running,
// stop, and restart-with-new-arguments.  There is deliberately no retry or
// automatic restart: a crashed agent stops updating its data document, the
// clients' offline path detects it, and a page reload is the retry.
type Controller struct {
	cfgMgr  *ConfigManager
	reg     *Registry
	log     *zap.SugaredLogger
	events  *EventLog
	metrics *Metrics

	spawn SpawnFunc
	kill  KillFunc

	// settle is how long a fresh spawn gets before the controller
	// verifies it is still alive.  This is what turns a rejected sudo or
	// an instantly crashing agent into a loud SpawnFailure instead of a
	// silent success.
	settle   time.Duration
	stopWait time.Duration

	mu sync.Mutex
}

// NewController wires a controller to the real spawner and signaller.
func NewController(cfgMgr *ConfigManager, reg *Registry, log *zap.SugaredLogger, events *EventLog, metrics *Metrics) *Controller {
	c := &Controller{
		cfgMgr:   cfgMgr,
		reg:      reg,
		log:      log,
		events:   events,
		metrics:  metrics,
		kill:     signalPID,
		settle:   200 * time.Millisecond,
		stopWait: 2 * time.Second,
	}
	c.spawn = c.defaultSpawn
	return c
}

// EnsureRunning makes sure the agent is running, spawning it with the given
// arguments when it is not.  It is idempotent: when the agent is already
// alive the call is a no-op and the live PID is returned with started set
// to false.  Spawn and elevation failures are returned, never swallowed.
func (c *Controller) EnsureRunning(spec AgentSpec, args []string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pid, err := c.reg.Lookup(spec)
	if err == nil {
		c.log.Debugf("agent %s already running (PID %d)", spec.Name, pid)
		return pid, false, nil
	}
	if !errors.Is(err, ErrNotRunning) {
		return 0, false, err
	}

	if len(args) == 0 {
		args = spec.DefaultArgs
	}
	pid, err = c.spawn(spec, args)
	if err != nil {
		c.metrics.SpawnFailed(spec.Name)
		return 0, false, fmt.Errorf("starting agent %s: %w", spec.Name, err)
	}

	// Give the process a moment, then make sure it did not die on the
	// launch pad (sudo rejection, bad arguments, missing hardware).
	if c.settle > 0 {
		time.Sleep(c.settle)
	}
	if !c.alive(pid) {
		c.metrics.SpawnFailed(spec.Name)
		return 0, false, fmt.Errorf("starting agent %s: process exited immediately, see %s",
			spec.Name, c.logSink(spec))
	}

	if err := c.reg.Record(spec.Name, pid); err != nil {
		return pid, true, err
	}
	c.metrics.Spawned(spec.Name)
	c.events.Log("start %s pid=%d args=%v", spec.Name, pid, args)
	c.log.Infof("started agent %s (PID %d)", spec.Name, pid)
	return pid, true, nil
}

// Stop terminates a running agent.  Stopping an agent that is not running
// is a no-op, not an error.  SIGTERM is tried first so the agent can retire
// its data document; SIGKILL is the bounded-wait fallback.
func (c *Controller) Stop(spec AgentSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(spec)
}

func (c *Controller) stopLocked(spec AgentSpec) error {
	pid, err := c.reg.Lookup(spec)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.kill(pid, syscall.SIGTERM); err != nil {
		// The process may have exited between the lookup and the
		// signal.  Verify before reporting a delivery failure.
		if !c.alive(pid) {
			_ = c.reg.Clear(spec.Name)
			return nil
		}
		return fmt.Errorf("stopping agent %s (PID %d): %w", spec.Name, pid, err)
	}

	deadline := time.Now().Add(c.stopWait)
	for c.alive(pid) {
		if time.Now().After(deadline) {
			_ = c.kill(pid, syscall.SIGKILL)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := c.reg.Clear(spec.Name); err != nil {
		return err
	}
	c.metrics.Stopped(spec.Name)
	c.events.Log("stop %s pid=%d", spec.Name, pid)
	c.log.Infof("stopped agent %s (PID %d)", spec.Name, pid)
	return nil
}

// RestartWithArgs stops the agent if running and spawns it with the full
// new parameter set.  Agents have no in-process reconfiguration protocol;
// every parameter change is kill-old, start-new.
func (c *Controller) RestartWithArgs(spec AgentSpec, args []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stopLocked(spec); err != nil {
		return 0, err
	}

	if len(args) == 0 {
		args = spec.DefaultArgs
	}
	pid, err := c.spawn(spec, args)
	if err != nil {
		c.metrics.SpawnFailed(spec.Name)
		return 0, fmt.Errorf("restarting agent %s: %w", spec.Name, err)
	}
	if c.settle > 0 {
		time.Sleep(c.settle)
	}
	if !c.alive(pid) {
		c.metrics.SpawnFailed(spec.Name)
		return 0, fmt.Errorf("restarting agent %s: process exited immediately, see %s",
			spec.Name, c.logSink(spec))
	}
	if err := c.reg.Record(spec.Name, pid); err != nil {
		return pid, err
	}
	c.metrics.Spawned(spec.Name)
	c.events.Log("restart %s pid=%d args=%v", spec.Name, pid, args)
	c.log.Infof("restarted agent %s (PID %d) args=%v", spec.Name, pid, args)
	return pid, nil
}

func (c *Controller) alive(pid int) bool {
	return c.reg.alive(pid)
}

// logSink is the per-agent log file a detached spawn writes into.
func (c *Controller) logSink(spec AgentSpec) string {
	return filepath.Join(c.cfgMgr.Get().LogDir, spec.Name+".log")
}

// defaultSpawn re-executes this binary as "pilab agent <name> <args...>",
// detached from the supervisor's session so it survives supervisor exit.
// Stdout and stderr go to the agent's log sink.  Hardware agents run under
// the configured agent identity via sudo; the recorded PID is then the
// sudo wrapper's, which relays SIGTERM to the agent.
func (c *Controller) defaultSpawn(spec AgentSpec, args []string) (int, error) {
	cfg := c.cfgMgr.Get()

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("finding executable: %w", err)
	}

	argv := append([]string{"agent", spec.Name}, args...)
	cfgEnv := "PILAB_CONFIG=" + c.cfgMgr.Path()
	var cmd *exec.Cmd
	if spec.Hardware && cfg.AgentUser != "" && !currentUserIs(cfg.AgentUser) {
		// -n makes a missing sudoers entry fail immediately instead of
		// hanging on a password prompt.  The config path rides as a
		// VAR=value argument because sudo resets the environment.
		sudoArgv := append([]string{"-n", "-u", cfg.AgentUser, cfgEnv, exe}, argv...)
		cmd = exec.Command("sudo", sudoArgv...)
	} else {
		cmd = exec.Command(exe, argv...)
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return 0, fmt.Errorf("creating log directory: %w", err)
	}
	sink, err := os.OpenFile(c.logSink(spec), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("opening log sink: %w", err)
	}
	defer sink.Close()

	cmd.Stdin = nil
	cmd.Stdout = sink
	cmd.Stderr = sink
	// Agent flags are passed through unparsed, so the config path travels
	// in the environment instead of on the command line.
	cmd.Env = append(os.Environ(), cfgEnv)
	// Own process group so the agent survives supervisor restart.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	// Reap the child when it eventually exits so it never lingers as a
	// zombie while the supervisor is alive.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}

// currentUserIs reports whether the process already runs as username.
func currentUserIs(username string) bool {
	u, err := user.Current()
	if err != nil {
		return false
	}
	return u.Username == username
}

// signalPID delivers a signal to a process.
func signalPID(pid int, sig syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(sig)
}
