// Package transcript provides a bounded, TTL-based cache of parsed transcript files.
package transcript

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/theirongolddev/cbuddy/internal/model"
	"github.com/theirongolddev/cbuddy/internal/source"
)

// Config controls cache lifetime and size.
type Config struct {
	TTL      time.Duration
	MaxFiles int
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

type cachedFile struct {
	entries  []model.TranscriptEntry
	mtimeNs  int64
	size     int64
	cachedAt time.Time
}

// Store loads transcript files and caches the parsed entries per path.
// A cached file is served while it is younger than the TTL and its mtime and
// size are unchanged. At capacity the oldest-inserted file is evicted.
type Store struct {
	ttl      time.Duration
	maxFiles int
	clock    clockwork.Clock
	log      *slog.Logger

	mu    sync.Mutex
	files map[string]*cachedFile

	reads atomic.Int64
}

// New returns a Store with the provided config.
func New(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.MaxFiles < 1 {
		cfg.MaxFiles = 32
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		ttl:      cfg.TTL,
		maxFiles: cfg.MaxFiles,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		files:    make(map[string]*cachedFile),
	}
}

// Load returns the entries of the transcript at path in file order.
// It never fails: unreadable files and reads cut short by ctx yield nil.
// The returned slice is shared with the cache and must not be modified.
func (s *Store) Load(ctx context.Context, path string) []model.TranscriptEntry {
	info, err := os.Stat(path)
	if err != nil {
		s.Invalidate(path)
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug("transcript not written yet", "path", path)
		} else {
			s.log.Warn("transcript stat failed", "path", path, "error", err)
		}
		return nil
	}

	mtimeNs, size := info.ModTime().UnixNano(), info.Size()
	now := s.clock.Now()

	s.mu.Lock()
	if cf, ok := s.files[path]; ok {
		if now.Sub(cf.cachedAt) < s.ttl && cf.mtimeNs == mtimeNs && cf.size == size {
			s.mu.Unlock()
			return cf.entries
		}
		delete(s.files, path)
	}
	s.mu.Unlock()

	s.reads.Add(1)
	res := source.ParseFile(ctx, path)
	if res.Err != nil {
		if ctx.Err() != nil {
			s.log.Debug("transcript read abandoned", "path", path, "error", res.Err)
		} else {
			s.log.Warn("transcript read failed", "path", path, "error", res.Err)
		}
		return nil
	}
	if res.ParseErrors > 0 {
		s.log.Debug("skipped malformed transcript lines", "path", path, "count", res.ParseErrors)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[path]; !ok && len(s.files) >= s.maxFiles {
		s.evictOldestLocked()
	}
	s.files[path] = &cachedFile{
		entries:  res.Entries,
		mtimeNs:  mtimeNs,
		size:     size,
		cachedAt: now,
	}
	return res.Entries
}

// Invalidate drops the cached copy of path, if any.
func (s *Store) Invalidate(path string) {
	s.mu.Lock()
	delete(s.files, path)
	s.mu.Unlock()
}

// Len returns the number of cached files.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Reads returns how many times a transcript file has been opened and parsed.
func (s *Store) Reads() int64 {
	return s.reads.Load()
}

func (s *Store) evictOldestLocked() {
	var (
		oldestPath string
		oldestAt   time.Time
	)
	for p, cf := range s.files {
		if oldestPath == "" || cf.cachedAt.Before(oldestAt) {
			oldestPath, oldestAt = p, cf.cachedAt
		}
	}
	if oldestPath != "" {
		delete(s.files, oldestPath)
	}
}
