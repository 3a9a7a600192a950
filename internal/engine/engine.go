// Package engine resolves prompts from the activity log to the assistant
// replies written into their session transcripts.
//
// A submitted prompt is resolved immediately when its reply is already on
// disk. Otherwise it is handed to a watcher that re-checks the transcript on
// change notifications and on a backoff schedule until the reply shows up or
// the watch is given up.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/theirongolddev/cbuddy/internal/match"
	"github.com/theirongolddev/cbuddy/internal/model"
	"github.com/theirongolddev/cbuddy/internal/notify"
	"github.com/theirongolddev/cbuddy/internal/source"
	"github.com/theirongolddev/cbuddy/internal/transcript"
	"github.com/theirongolddev/cbuddy/internal/watcher"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("engine closed")

// Outcome says what a Submit call did.
type Outcome int

const (
	// Resolved means the reply was found by this call.
	Resolved Outcome = iota
	// Cached means the reply was already known.
	Cached
	// Pending means a watch now waits (or was already waiting) for the reply.
	Pending
	// Abandoned means an earlier watch for this prompt gave up.
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case Cached:
		return "cached"
	case Pending:
		return "pending"
	case Abandoned:
		return "abandoned"
	}
	return "unknown"
}

// Result is the outcome of one Submit.
type Result struct {
	Fingerprint string
	Outcome     Outcome
	Reply       model.ResolvedReply // set for Resolved and Cached
}

// Resolution is handed to the OnReplyResolved callback.
type Resolution struct {
	Fingerprint string
	Prompt      model.PromptRecord
	Reply       model.ResolvedReply
}

// Config wires an Engine.
type Config struct {
	// ClaudeDir is searched for a session's transcript when a prompt record
	// carries no transcript path.
	ClaudeDir      string
	ResolveTimeout time.Duration

	Transcript transcript.Config
	Watcher    watcher.Config

	// Notifier delivers transcript change notifications. May be nil.
	Notifier notify.Notifier

	// OnReplyResolved is invoked at most once per fingerprint. It runs
	// synchronously inside Submit for immediate hits and on a watcher
	// goroutine otherwise.
	OnReplyResolved func(Resolution)

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Stats is a point-in-time view of engine state.
type Stats struct {
	Pending         int
	Resolved        int
	Abandoned       int
	TranscriptReads int64
	CachedFiles     int
}

// Engine owns the transcript store, reply cache and watcher.
type Engine struct {
	claudeDir string
	timeout   time.Duration
	onReply   func(Resolution)
	clock     clockwork.Clock
	log       *slog.Logger

	store   *transcript.Store
	cache   *ReplyCache
	watcher *watcher.Watcher

	mu        sync.Mutex
	prompts   map[string]model.PromptRecord // pending fingerprints
	inflight  map[string]bool
	abandoned map[string]watcher.DropReason
	closed    bool
}

// New builds an Engine and starts its watcher.
func New(cfg Config) *Engine {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transcript.Clock == nil {
		cfg.Transcript.Clock = cfg.Clock
	}
	if cfg.Transcript.Logger == nil {
		cfg.Transcript.Logger = cfg.Logger
	}

	e := &Engine{
		claudeDir: cfg.ClaudeDir,
		timeout:   cfg.ResolveTimeout,
		onReply:   cfg.OnReplyResolved,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		store:     transcript.New(cfg.Transcript),
		cache:     NewReplyCache(),
		prompts:   make(map[string]model.PromptRecord),
		inflight:  make(map[string]bool),
		abandoned: make(map[string]watcher.DropReason),
	}

	wcfg := cfg.Watcher
	if wcfg.Clock == nil {
		wcfg.Clock = cfg.Clock
	}
	if wcfg.Logger == nil {
		wcfg.Logger = cfg.Logger
	}
	if wcfg.CheckTimeout <= 0 {
		wcfg.CheckTimeout = cfg.ResolveTimeout
	}
	wcfg.OnResolved = e.watchResolved
	wcfg.OnDropped = e.watchDropped
	e.watcher = watcher.New(wcfg, e, cfg.Notifier)

	return e
}

// Submit resolves p or starts watching for its reply. Submitting a prompt
// that is already resolved, pending or abandoned does no work.
func (e *Engine) Submit(ctx context.Context, p model.PromptRecord) (Result, error) {
	if p.SessionID == "" {
		p.SessionID = model.UnknownSession
	}
	fp := Fingerprint(p)
	res := Result{Fingerprint: fp}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return res, ErrClosed
	}
	if r, ok := e.cache.Get(fp); ok {
		e.mu.Unlock()
		res.Outcome, res.Reply = Cached, r
		return res, nil
	}
	if _, ok := e.abandoned[fp]; ok {
		e.mu.Unlock()
		res.Outcome = Abandoned
		return res, nil
	}
	if _, ok := e.prompts[fp]; ok || e.inflight[fp] {
		e.mu.Unlock()
		res.Outcome = Pending
		return res, nil
	}
	e.inflight[fp] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, fp)
		e.mu.Unlock()
	}()

	pw := watcher.PendingWatch{PromptID: fp, Prompt: p, TranscriptPath: p.TranscriptPath}
	check := e.Check(ctx, pw, false)
	if check.Found {
		e.deliver(fp, p, check.Reply)
		res.Outcome, res.Reply = Resolved, check.Reply
		return res, nil
	}

	if check.TranscriptPath != "" {
		pw.TranscriptPath = check.TranscriptPath
	}
	pw.MatchedUserEntryID = check.MatchedUserEntryID

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return res, ErrClosed
	}
	e.prompts[fp] = p
	e.mu.Unlock()

	if !e.watcher.Add(pw) {
		// Raced with Close.
		e.mu.Lock()
		delete(e.prompts, fp)
		e.mu.Unlock()
		return res, ErrClosed
	}

	e.log.Debug("reply not written yet, watching",
		"session", p.SessionID,
		"transcript", pw.TranscriptPath,
		"user_entry", pw.MatchedUserEntryID)
	res.Outcome = Pending
	return res, nil
}

// Check runs one resolution attempt. It satisfies watcher.Checker.
func (e *Engine) Check(ctx context.Context, pw watcher.PendingWatch, fresh bool) watcher.CheckResult {
	path := pw.TranscriptPath
	if path == "" {
		path = pw.Prompt.TranscriptPath
	}
	if path == "" && e.claudeDir != "" {
		path = source.FindTranscript(e.claudeDir, pw.Prompt.SessionID)
	}
	if path == "" {
		return watcher.CheckResult{}
	}

	if fresh {
		e.store.Invalidate(path)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	entries := e.store.Load(ctx, path)

	out := watcher.CheckResult{TranscriptPath: path}

	user, ok := entryByID(entries, pw.MatchedUserEntryID)
	if !ok {
		user, ok = match.FindUserEntry(entries, pw.Prompt.PromptText, pw.Prompt.Time())
	}
	if !ok {
		return out
	}
	out.MatchedUserEntryID = user.ID

	last, ok := match.Last(match.Walk(entries, user.ID))
	if !ok {
		return out
	}
	out.Found = true
	out.Reply = model.ResolvedReply{
		Text:             match.ExtractReply(last),
		Timestamp:        last.Timestamp,
		DisplayTimestamp: model.DisplayTime(last.Timestamp, e.clock.Now()),
		SourceEntryID:    last.ID,
	}
	return out
}

// Reply returns the cached reply for a fingerprint.
func (e *Engine) Reply(fp string) (model.ResolvedReply, bool) {
	return e.cache.Get(fp)
}

// NotifyChange tells the engine that a transcript file changed.
func (e *Engine) NotifyChange(path string) {
	e.watcher.Notify(path)
}

// Stats reports current counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	abandoned := len(e.abandoned)
	e.mu.Unlock()

	return Stats{
		Pending:         e.watcher.Len(),
		Resolved:        e.cache.Len(),
		Abandoned:       abandoned,
		TranscriptReads: e.store.Reads(),
		CachedFiles:     e.store.Len(),
	}
}

// Pending returns the watches still waiting for a reply.
func (e *Engine) Pending() []watcher.PendingWatch {
	return e.watcher.Snapshot()
}

// Close stops all watches. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.prompts = make(map[string]model.PromptRecord)
	e.mu.Unlock()

	return e.watcher.Close()
}

func (e *Engine) watchResolved(fp string, reply model.ResolvedReply) {
	e.mu.Lock()
	p, ok := e.prompts[fp]
	delete(e.prompts, fp)
	e.mu.Unlock()
	if !ok {
		return
	}
	e.deliver(fp, p, reply)
}

func (e *Engine) watchDropped(fp string, reason watcher.DropReason) {
	e.mu.Lock()
	delete(e.prompts, fp)
	e.abandoned[fp] = reason
	e.mu.Unlock()
}

// deliver caches reply and reports it, unless fp was already delivered.
func (e *Engine) deliver(fp string, p model.PromptRecord, reply model.ResolvedReply) {
	if !e.cache.PutIfAbsent(fp, reply) {
		return
	}
	e.log.Info("reply resolved", "session", p.SessionID, "entry", reply.SourceEntryID)
	if e.onReply != nil {
		e.onReply(Resolution{Fingerprint: fp, Prompt: p, Reply: reply})
	}
}

func entryByID(entries []model.TranscriptEntry, id string) (model.TranscriptEntry, bool) {
	if id == "" {
		return model.TranscriptEntry{}, false
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID == id {
			return entries[i], true
		}
	}
	return model.TranscriptEntry{}, false
}
