package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Common registry errors.
var (
	// ErrNotRunning means no live process matched the agent.  Callers
	// treat this as a state, not a failure: it is what triggers a start.
	ErrNotRunning = errors.New("agent is not running")
)

// Registry resolves whether a named agent process is currently running.
//
// The PID file is the primary handle: it is owned by the supervisor,
// immune to the self-match and ambiguous-match hazards of scanning the
// process table by name.  The command-line pattern scan remains as a
// fallback for agents started by hand and for orphan cleanup.  Stale PID
// files (dead PID, or PID reused by an unrelated process) are removed on
// read.
type Registry struct {
	runDir string

	// Injection points so lifecycle logic is testable without spawning
	// real processes.
	self    int                              // PID excluded from scans
	alive   func(pid int) bool               // liveness probe
	cmdline func(pid int) (string, error)    // command line for PID-reuse checks
	pgrep   func(pattern string) ([]int, error)
	elapsed func(pid int) (int, error)       // seconds since process start
}

// NewRegistry creates a registry over the given run directory, wired to the
// real OS process table.
func NewRegistry(runDir string) *Registry {
	return &Registry{
		runDir:  runDir,
		self:    os.Getpid(),
		alive:   processAlive,
		cmdline: processCommand,
		pgrep:   pgrepPattern,
		elapsed: processElapsed,
	}
}

// pidFile returns the PID file path for an agent.
func (r *Registry) pidFile(name string) string {
	return filepath.Join(r.runDir, name+".pid")
}

// Record writes the PID file for a freshly spawned agent.
func (r *Registry) Record(name string, pid int) error {
	if err := os.MkdirAll(r.runDir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	if err := os.WriteFile(r.pidFile(name), []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	return nil
}

// Clear removes an agent's PID file.  A missing file is not an error.
func (r *Registry) Clear(name string) error {
	if err := os.Remove(r.pidFile(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing PID file: %w", err)
	}
	return nil
}

// Lookup returns the PID of a running agent, or ErrNotRunning.
//
// The PID file is consulted first.  A live PID is additionally verified
// against the agent's command-line pattern so that a reused PID is never
// mistaken for the agent.  When the PID file is absent or stale, the
// pattern scan runs as a fallback and, on a hit, re-records the PID file.
func (r *Registry) Lookup(spec AgentSpec) (int, error) {
	pid, err := r.readPIDFile(spec)
	if err == nil {
		return pid, nil
	}
	if !errors.Is(err, ErrNotRunning) {
		return 0, err
	}

	pid, _, err = r.FindProcess(spec.Pattern)
	if err != nil {
		return 0, err
	}
	// Adopt the discovered process so subsequent lookups are cheap.
	if recErr := r.Record(spec.Name, pid); recErr != nil {
		return pid, recErr
	}
	return pid, nil
}

// readPIDFile resolves the agent through its PID file, cleaning up stale
// entries.  Returns ErrNotRunning when the file is absent, the PID is dead,
// or the PID now belongs to a different command.
func (r *Registry) readPIDFile(spec AgentSpec) (int, error) {
	data, err := os.ReadFile(r.pidFile(spec.Name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		// Corrupted PID file: remove it and fall through to the scan.
		_ = r.Clear(spec.Name)
		return 0, ErrNotRunning
	}

	if !r.alive(pid) {
		_ = r.Clear(spec.Name)
		return 0, ErrNotRunning
	}

	// Guard against PID reuse: the process must still look like ours.
	cmdline, err := r.cmdline(pid)
	if err != nil || !strings.Contains(cmdline, spec.Pattern) {
		_ = r.Clear(spec.Name)
		return 0, ErrNotRunning
	}

	return pid, nil
}

// FindProcess scans the process table for a command line matching pattern.
// The calling process is always excluded, so the lookup can never match
// itself.  Every candidate PID is re-verified against its command line,
// which also filters out the transient pgrep/ps helpers.
//
// At most one instance per agent is the design assumption; if the scan
// still finds several, the oldest process wins deterministically and the
// match count is returned so callers can log the anomaly.
func (r *Registry) FindProcess(pattern string) (int, int, error) {
	pids, err := r.pgrep(pattern)
	if err != nil {
		return 0, 0, fmt.Errorf("scanning for %q: %w", pattern, err)
	}

	var verified []int
	for _, pid := range pids {
		if pid == r.self {
			continue
		}
		cmdline, err := r.cmdline(pid)
		if err != nil {
			continue // raced with process exit
		}
		if strings.Contains(cmdline, pattern) {
			verified = append(verified, pid)
		}
	}

	switch len(verified) {
	case 0:
		return 0, 0, ErrNotRunning
	case 1:
		return verified[0], 1, nil
	}

	oldest := verified[0]
	oldestAge := -1
	for _, pid := range verified {
		age, err := r.elapsed(pid)
		if err != nil {
			continue
		}
		if age > oldestAge {
			oldestAge = age
			oldest = pid
		}
	}
	return oldest, len(verified), nil
}

// processAlive reports whether a PID refers to a live process.  On Unix,
// FindProcess always succeeds, so signal 0 is the actual probe.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// processCommand returns the command line for a PID via ps, which works on
// both Linux and macOS.
func processCommand(pid int) (string, error) {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// processElapsed returns seconds since the process started.
func processElapsed(pid int) (int, error) {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "etimes=").Output()
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(out)))
}

// pgrepPattern returns the PIDs whose full command line matches pattern.
// pgrep exit code 1 means no matches, which is not an error here.
func pgrepPattern(pattern string) ([]int, error) {
	out, err := exec.Command("pgrep", "-f", pattern).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep failed: %w", err)
	}

	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
