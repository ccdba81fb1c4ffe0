package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() AgentSpec {
	return AgentSpec{
		Name:    "pushbutton",
		Pattern: "pilab agent pushbutton",
	}
}

// fakeRegistry builds a registry whose process probes are table driven.
// procs maps PID to command line; only listed PIDs are alive.
func fakeRegistry(t *testing.T, procs map[int]string, ages map[int]int) *Registry {
	t.Helper()
	return &Registry{
		runDir: t.TempDir(),
		self:   999,
		alive: func(pid int) bool {
			_, ok := procs[pid]
			return ok
		},
		cmdline: func(pid int) (string, error) {
			cmd, ok := procs[pid]
			if !ok {
				return "", os.ErrProcessDone
			}
			return cmd, nil
		},
		pgrep: func(pattern string) ([]int, error) {
			var pids []int
			for pid := range procs {
				pids = append(pids, pid)
			}
			return pids, nil
		},
		elapsed: func(pid int) (int, error) {
			return ages[pid], nil
		},
	}
}

func TestLookupViaPIDFile(t *testing.T) {
	spec := testSpec()
	r := fakeRegistry(t, map[int]string{42: "pilab agent pushbutton"}, nil)
	require.NoError(t, r.Record(spec.Name, 42))

	pid, err := r.Lookup(spec)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}

func TestLookupDeadPIDFileIsCleaned(t *testing.T) {
	spec := testSpec()
	r := fakeRegistry(t, map[int]string{}, nil)
	require.NoError(t, r.Record(spec.Name, 42))

	_, err := r.Lookup(spec)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NoFileExists(t, filepath.Join(r.runDir, "pushbutton.pid"))
}

func TestLookupRejectsReusedPID(t *testing.T) {
	// PID 42 is alive but now belongs to something else entirely.
	spec := testSpec()
	r := fakeRegistry(t, map[int]string{42: "vim notes.txt"}, nil)
	require.NoError(t, r.Record(spec.Name, 42))

	_, err := r.Lookup(spec)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NoFileExists(t, filepath.Join(r.runDir, "pushbutton.pid"))
}

func TestLookupCorruptPIDFile(t *testing.T) {
	spec := testSpec()
	r := fakeRegistry(t, map[int]string{}, nil)
	require.NoError(t, os.MkdirAll(r.runDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(r.runDir, "pushbutton.pid"), []byte("not-a-pid"), 0644))

	_, err := r.Lookup(spec)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestLookupFallsBackToScanAndAdopts(t *testing.T) {
	spec := testSpec()
	r := fakeRegistry(t, map[int]string{77: "pilab agent pushbutton"}, nil)

	pid, err := r.Lookup(spec)
	require.NoError(t, err)
	assert.Equal(t, 77, pid)

	// The discovered process is adopted into a PID file.
	data, err := os.ReadFile(filepath.Join(r.runDir, "pushbutton.pid"))
	require.NoError(t, err)
	assert.Equal(t, "77", string(data))
}

func TestFindProcessExcludesSelf(t *testing.T) {
	r := fakeRegistry(t, map[int]string{999: "pilab agent pushbutton"}, nil)

	_, _, err := r.FindProcess("pilab agent pushbutton")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestFindProcessVerifiesCommandLine(t *testing.T) {
	// pgrep can race with process exit or match its own helper; every
	// candidate is re-verified against its current command line.
	r := fakeRegistry(t, map[int]string{
		10: "pilab agent pushbutton",
		11: "grep pilab agent pushbutton", // still contains the pattern
		12: "unrelated daemon",
	}, map[int]int{10: 5, 11: 1})

	pid, matches, err := r.FindProcess("pilab agent pushbutton")
	require.NoError(t, err)
	assert.Equal(t, 2, matches)
	assert.Equal(t, 10, pid, "oldest match wins")
}

func TestFindProcessAmbiguousPicksOldest(t *testing.T) {
	r := fakeRegistry(t, map[int]string{
		20: "pilab agent pushbutton",
		21: "pilab agent pushbutton",
		22: "pilab agent pushbutton",
	}, map[int]int{20: 30, 21: 300, 22: 3})

	pid, matches, err := r.FindProcess("pilab agent pushbutton")
	require.NoError(t, err)
	assert.Equal(t, 3, matches)
	assert.Equal(t, 21, pid)
}

func TestClearMissingPIDFile(t *testing.T) {
	r := fakeRegistry(t, nil, nil)
	assert.NoError(t, r.Clear("pushbutton"))
}
