package transcript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	userLine      = `{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"hello"}}` + "\n"
	assistantLine = `{"type":"assistant","uuid":"a1","parentUuid":"u1","timestamp":"2025-06-01T10:00:03Z","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}` + "\n"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func newStore(clock clockwork.Clock, maxFiles int) *Store {
	return New(Config{TTL: 30 * time.Second, MaxFiles: maxFiles, Clock: clock})
}

func TestLoad_CachedWithinTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	writeFile(t, path, userLine)

	clock := clockwork.NewFakeClock()
	s := newStore(clock, 4)

	first := s.Load(context.Background(), path)
	second := s.Load(context.Background(), path)

	require.Len(t, first, 1)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, s.Reads(), "second load inside TTL must not re-read the file")
}

func TestLoad_ExpiresAfterTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	writeFile(t, path, userLine)

	clock := clockwork.NewFakeClock()
	s := newStore(clock, 4)

	s.Load(context.Background(), path)
	clock.Advance(31 * time.Second)
	s.Load(context.Background(), path)

	require.EqualValues(t, 2, s.Reads())
}

func TestLoad_RereadsAfterAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	writeFile(t, path, userLine)

	s := newStore(clockwork.NewFakeClock(), 4)
	require.Len(t, s.Load(context.Background(), path), 1)

	appendFile(t, path, assistantLine)
	require.Len(t, s.Load(context.Background(), path), 2)
}

func TestLoad_Invalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	writeFile(t, path, userLine)

	s := newStore(clockwork.NewFakeClock(), 4)
	s.Load(context.Background(), path)
	s.Invalidate(path)
	s.Load(context.Background(), path)

	require.EqualValues(t, 2, s.Reads())
}

func TestLoad_EvictsOldestInserted(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	s := newStore(clock, 2)

	paths := []string{
		filepath.Join(dir, "a.jsonl"),
		filepath.Join(dir, "b.jsonl"),
		filepath.Join(dir, "c.jsonl"),
	}
	for _, p := range paths {
		writeFile(t, p, userLine)
	}

	s.Load(context.Background(), paths[0])
	clock.Advance(time.Second)
	s.Load(context.Background(), paths[1])
	clock.Advance(time.Second)
	s.Load(context.Background(), paths[2])
	require.Equal(t, 2, s.Len())

	// b and c are still cached; a was evicted and has to be read again.
	reads := s.Reads()
	s.Load(context.Background(), paths[1])
	s.Load(context.Background(), paths[2])
	require.Equal(t, reads, s.Reads())
	s.Load(context.Background(), paths[0])
	require.Equal(t, reads+1, s.Reads())
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s := newStore(clockwork.NewFakeClock(), 4)
	require.Empty(t, s.Load(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl")))
	require.Zero(t, s.Len())
}

func TestLoad_CanceledContextIsNotCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	writeFile(t, path, userLine)

	s := newStore(clockwork.NewFakeClock(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Empty(t, s.Load(ctx, path))
	require.Zero(t, s.Len())
	require.Len(t, s.Load(context.Background(), path), 1)
}
