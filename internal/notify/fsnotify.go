package notify

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// FSNotifier watches parent directories with fsnotify and fans events out to
// per-file subscribers. Bursts of events for one file are debounced.
type FSNotifier struct {
	debounce time.Duration
	log      *slog.Logger

	w *fsnotify.Watcher

	mu     sync.Mutex
	dirs   map[string]int // watched directory -> subscriber count
	subs   map[string]map[string]func(string)
	timers map[string]*time.Timer
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewFSNotifier starts an fsnotify-backed notifier.
func NewFSNotifier(debounce time.Duration, logger *slog.Logger) (*FSNotifier, error) {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	n := &FSNotifier{
		debounce: debounce,
		log:      logger,
		w:        w,
		dirs:     make(map[string]int),
		subs:     make(map[string]map[string]func(string)),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	n.wg.Add(1)
	go n.loop()
	return n, nil
}

// Watch subscribes fn to changes of path. The parent directory must exist.
func (n *FSNotifier) Watch(path string, fn func(string)) (Subscription, error) {
	path = cleanPath(path)
	dir := filepath.Dir(path)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, fmt.Errorf("notifier closed")
	}

	if n.dirs[dir] == 0 {
		if err := n.w.Add(dir); err != nil {
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	n.dirs[dir]++

	id := uuid.NewString()
	if n.subs[path] == nil {
		n.subs[path] = make(map[string]func(string))
	}
	n.subs[path][id] = fn

	return &fsSubscription{n: n, id: id, path: path, dir: dir}, nil
}

// Close stops the event loop and releases all watches.
func (n *FSNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	for _, t := range n.timers {
		t.Stop()
	}
	n.timers = make(map[string]*time.Timer)
	n.subs = make(map[string]map[string]func(string))
	n.mu.Unlock()

	close(n.done)
	err := n.w.Close()
	n.wg.Wait()
	return err
}

func (n *FSNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case ev, ok := <-n.w.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			n.schedule(cleanPath(ev.Name))
		case err, ok := <-n.w.Errors:
			if !ok {
				return
			}
			n.log.Warn("fsnotify error", "error", err)
		}
	}
}

// schedule arms or re-arms the debounce timer for path.
func (n *FSNotifier) schedule(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || len(n.subs[path]) == 0 {
		return
	}
	if t, ok := n.timers[path]; ok {
		t.Reset(n.debounce)
		return
	}
	n.timers[path] = time.AfterFunc(n.debounce, func() { n.fire(path) })
}

func (n *FSNotifier) fire(path string) {
	n.mu.Lock()
	delete(n.timers, path)
	if n.closed {
		n.mu.Unlock()
		return
	}
	fns := make([]func(string), 0, len(n.subs[path]))
	for _, fn := range n.subs[path] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(path)
	}
}

func (n *FSNotifier) unsubscribe(s *fsSubscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	subs := n.subs[s.path]
	if _, ok := subs[s.id]; !ok {
		return nil
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(n.subs, s.path)
		if t, ok := n.timers[s.path]; ok {
			t.Stop()
			delete(n.timers, s.path)
		}
	}

	n.dirs[s.dir]--
	if n.dirs[s.dir] > 0 {
		return nil
	}
	delete(n.dirs, s.dir)
	if err := n.w.Remove(s.dir); err != nil {
		return fmt.Errorf("unwatching %s: %w", s.dir, err)
	}
	return nil
}

type fsSubscription struct {
	n    *FSNotifier
	id   string
	path string
	dir  string
	once sync.Once
	err  error
}

func (s *fsSubscription) Close() error {
	s.once.Do(func() { s.err = s.n.unsubscribe(s) })
	return s.err
}

func cleanPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
