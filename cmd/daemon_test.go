package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterDetachArg(t *testing.T) {
	got := filterDetachArg([]string{"daemon", "--detach", "--addr", "x", "--detach=true"})
	assert.Equal(t, []string{"daemon", "--addr", "x"}, got)
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cbuddyd.pid")
	require.NoError(t, writePID(path, 4242))

	pid, err := readPID(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, os.WriteFile(path, []byte("nope\n"), 0o600))
	_, err = readPID(path)
	require.Error(t, err)
}

func TestEnsureDaemonNotRunning(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "cbuddyd.pid")
	require.NoError(t, ensureDaemonNotRunning(pidFile))

	require.NoError(t, writePID(pidFile, os.Getpid()))
	require.Error(t, ensureDaemonNotRunning(pidFile))
}

func TestRuntimeStateRoundTrip(t *testing.T) {
	path := statePath(filepath.Join(t.TempDir(), "cbuddyd.pid"))
	want := daemonRuntimeState{
		PID:         7,
		Addr:        "127.0.0.1:8788",
		StartedAt:   time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		ActivityLog: "/tmp/activity.log",
	}
	require.NoError(t, writeState(path, want))

	got, err := readState(path)
	require.NoError(t, err)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	got.StartedAt = want.StartedAt
	assert.Equal(t, want, got)
}
