package notify

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestPoller_DetectsCreateAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	p := NewPoller(time.Hour, clockwork.NewFakeClock())
	defer func() { _ = p.Close() }()

	var calls atomic.Int32
	sub, err := p.Watch(path, func(string) { calls.Add(1) })
	require.NoError(t, err)

	p.PollOnce()
	require.EqualValues(t, 0, calls.Load(), "no change yet")

	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o600))
	p.PollOnce()
	require.EqualValues(t, 1, calls.Load())

	p.PollOnce()
	require.EqualValues(t, 1, calls.Load(), "unchanged file must not notify again")

	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0o600))
	p.PollOnce()
	require.EqualValues(t, 2, calls.Load())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o600))
	p.PollOnce()
	require.EqualValues(t, 2, calls.Load(), "closed subscription must not notify")
}

func TestPoller_TickerDrivesPolling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	clock := clockwork.NewFakeClock()
	p := NewPoller(time.Second, clock)
	defer func() { _ = p.Close() }()

	changed := make(chan string, 1)
	_, err := p.Watch(path, func(got string) { changed <- got })
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	clock.Advance(time.Second)
	select {
	case got := <-changed:
		require.Equal(t, cleanPath(path), got)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after tick")
	}
}

func TestPoller_CloseIdempotent(t *testing.T) {
	p := NewPoller(time.Second, clockwork.NewFakeClock())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err := p.Watch("x", func(string) {})
	require.Error(t, err)
}

func TestFSNotifier_DebouncedNotification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	n, err := NewFSNotifier(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer func() { _ = n.Close() }()

	var calls atomic.Int32
	_, err = n.Watch(path, func(string) { calls.Add(1) })
	require.NoError(t, err)

	var other atomic.Int32
	_, err = n.Watch(filepath.Join(dir, "other.jsonl"), func(string) { other.Add(1) })
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		require.NoError(t, err)
		_, _ = f.WriteString("line\n")
		require.NoError(t, f.Close())
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 0, other.Load(), "sibling file subscriber must not be notified")
}

func TestFSNotifier_MissingDirectory(t *testing.T) {
	n, err := NewFSNotifier(0, nil)
	require.NoError(t, err)
	defer func() { _ = n.Close() }()

	_, err = n.Watch(filepath.Join(t.TempDir(), "missing", "t.jsonl"), func(string) {})
	require.Error(t, err)
}

func TestFSNotifier_UnsubscribeReleasesDirectory(t *testing.T) {
	dir := t.TempDir()
	n, err := NewFSNotifier(0, nil)
	require.NoError(t, err)
	defer func() { _ = n.Close() }()

	a, err := n.Watch(filepath.Join(dir, "a.jsonl"), func(string) {})
	require.NoError(t, err)
	b, err := n.Watch(filepath.Join(dir, "b.jsonl"), func(string) {})
	require.NoError(t, err)

	require.NoError(t, a.Close())
	n.mu.Lock()
	require.Equal(t, 1, n.dirs[cleanPath(dir)])
	n.mu.Unlock()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	n.mu.Lock()
	require.Empty(t, n.dirs)
	n.mu.Unlock()
}
