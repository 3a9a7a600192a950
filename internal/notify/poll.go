package notify

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// fileState is the tracked mtime and size of a polled file.
type fileState struct {
	exists    bool
	mtimeNs   int64
	sizeBytes int64
}

func statFile(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{exists: true, mtimeNs: info.ModTime().UnixNano(), sizeBytes: info.Size()}
}

type polledFile struct {
	state fileState
	subs  map[string]func(string)
}

// Poller detects changes by comparing each watched file's mtime and size on
// every tick. It works for paths whose directory does not exist yet.
type Poller struct {
	clock clockwork.Clock

	mu     sync.Mutex
	files  map[string]*polledFile
	closed bool

	ticker clockwork.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPoller starts a poller that checks watched files every interval.
func NewPoller(interval time.Duration, clock clockwork.Clock) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	p := &Poller{
		clock:  clock,
		files:  make(map[string]*polledFile),
		ticker: clock.NewTicker(interval),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Watch subscribes fn to changes of path, using its current state as the baseline.
func (p *Poller) Watch(path string, fn func(string)) (Subscription, error) {
	path = cleanPath(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("poller closed")
	}

	pf, ok := p.files[path]
	if !ok {
		pf = &polledFile{state: statFile(path), subs: make(map[string]func(string))}
		p.files[path] = pf
	}
	id := uuid.NewString()
	pf.subs[id] = fn

	return &pollSubscription{p: p, path: path, id: id}, nil
}

// Close stops polling. It is safe to call more than once.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.files = make(map[string]*polledFile)
	p.mu.Unlock()

	p.ticker.Stop()
	close(p.done)
	p.wg.Wait()
	return nil
}

func (p *Poller) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.Chan():
			p.PollOnce()
		}
	}
}

// PollOnce stats every watched file and notifies subscribers of those that changed.
func (p *Poller) PollOnce() {
	p.mu.Lock()
	paths := make([]string, 0, len(p.files))
	for path := range p.files {
		paths = append(paths, path)
	}
	p.mu.Unlock()

	type firing struct {
		path string
		fns  []func(string)
	}
	var fire []firing

	for _, path := range paths {
		st := statFile(path)

		p.mu.Lock()
		pf, ok := p.files[path]
		if ok && st != pf.state {
			pf.state = st
			f := firing{path: path}
			for _, fn := range pf.subs {
				f.fns = append(f.fns, fn)
			}
			fire = append(fire, f)
		}
		p.mu.Unlock()
	}

	for _, f := range fire {
		for _, fn := range f.fns {
			fn(f.path)
		}
	}
}

func (p *Poller) unsubscribe(path, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pf, ok := p.files[path]
	if !ok {
		return
	}
	delete(pf.subs, id)
	if len(pf.subs) == 0 {
		delete(p.files, path)
	}
}

type pollSubscription struct {
	p    *Poller
	path string
	id   string
	once sync.Once
}

func (s *pollSubscription) Close() error {
	s.once.Do(func() { s.p.unsubscribe(s.path, s.id) })
	return nil
}
