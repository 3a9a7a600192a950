// Package watcher tracks prompts whose reply has not been written yet and
// re-checks them on transcript change notifications and on a backoff schedule.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/theirongolddev/cbuddy/internal/model"
	"github.com/theirongolddev/cbuddy/internal/notify"
)

// PendingWatch is the bookkeeping for one unresolved prompt.
type PendingWatch struct {
	PromptID           string
	Prompt             model.PromptRecord
	TranscriptPath     string
	MatchedUserEntryID string
	Attempts           int
	MaxAttempts        int
	LastAttemptAt      time.Time
	BackoffInterval    time.Duration

	checking bool // a check is in flight; excluded from scheduling
	dirty    bool // a change arrived while checking
}

// NextDue is when the next timed retry is owed.
func (pw PendingWatch) NextDue() time.Time {
	return pw.LastAttemptAt.Add(pw.BackoffInterval)
}

// CheckResult is the outcome of one resolution attempt.
type CheckResult struct {
	Found              bool
	Reply              model.ResolvedReply
	TranscriptPath     string // set when the attempt located the transcript
	MatchedUserEntryID string // set once the user entry is known
}

// Checker runs one resolution attempt for a watch. fresh asks for the
// transcript to be re-read rather than served from cache.
type Checker interface {
	Check(ctx context.Context, pw PendingWatch, fresh bool) CheckResult
}

// DropReason says why a watch ended without a reply.
type DropReason string

const (
	DropExhausted DropReason = "exhausted"
	DropStale     DropReason = "stale"
)

// Config controls retry limits and timing.
type Config struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
	CheckTimeout  time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger

	// OnResolved receives each reply exactly once per watch.
	OnResolved func(promptID string, reply model.ResolvedReply)
	// OnDropped is told about watches removed without a reply.
	OnDropped func(promptID string, reason DropReason)
}

// DefaultConfig returns the standard retry schedule: 8 attempts, backoff
// doubling from 1s to at most 60s, stale after 5 minutes, swept every 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   8,
		BaseBackoff:   time.Second,
		MaxBackoff:    60 * time.Second,
		StaleAfter:    5 * time.Minute,
		SweepInterval: 30 * time.Second,
		CheckTimeout:  5 * time.Second,
	}
}

// Watcher owns the set of pending watches and the transcript subscriptions
// they share. All mutation happens under mu; checks run outside it.
type Watcher struct {
	cfg      Config
	checker  Checker
	notifier notify.Notifier
	clock    clockwork.Clock
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	watches map[string]*PendingWatch
	subs    map[string]notify.Subscription
	timer   clockwork.Timer
	sweeper clockwork.Timer
	closed  bool
}

// New returns a running Watcher. notifier may be nil, in which case only the
// retry schedule drives re-checks.
func New(cfg Config, checker Checker, notifier notify.Notifier) *Watcher {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.BaseBackoff)
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		cfg:      cfg,
		checker:  checker,
		notifier: notifier,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		watches:  make(map[string]*PendingWatch),
		subs:     make(map[string]notify.Subscription),
	}
	w.sweeper = w.clock.AfterFunc(cfg.SweepInterval, w.sweep)
	return w
}

// Add registers a watch for an unresolved prompt. The first timed retry is due
// one base backoff from now. It returns false if the prompt is already pending
// or the watcher is closed.
func (w *Watcher) Add(pw PendingWatch) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	if _, ok := w.watches[pw.PromptID]; ok {
		return false
	}

	pw.TranscriptPath = absPath(pw.TranscriptPath)
	pw.Attempts = 0
	pw.MaxAttempts = w.cfg.MaxAttempts
	pw.BackoffInterval = w.cfg.BaseBackoff
	pw.LastAttemptAt = w.clock.Now()
	pw.checking, pw.dirty = false, false
	w.watches[pw.PromptID] = &pw

	w.subscribeLocked(pw.TranscriptPath)
	w.rescheduleLocked()

	w.log.Debug("watching for reply", "prompt_id", pw.PromptID, "transcript", pw.TranscriptPath)
	return true
}

// Pending reports whether promptID has a live watch.
func (w *Watcher) Pending(promptID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[promptID]
	return ok
}

// Len returns the number of live watches.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// Subscriptions returns the number of active transcript subscriptions.
func (w *Watcher) Subscriptions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// Snapshot returns copies of all live watches.
func (w *Watcher) Snapshot() []PendingWatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]PendingWatch, 0, len(w.watches))
	for _, pw := range w.watches {
		out = append(out, *pw)
	}
	return out
}

// Close drops every watch, closes all subscriptions and stops the timers.
// It is safe to call more than once and from any state.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.cancel()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.sweeper.Stop()

	var errs []error
	for path, sub := range w.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(w.subs, path)
	}
	w.watches = make(map[string]*PendingWatch)
	w.mu.Unlock()

	return errors.Join(errs...)
}

// Notify re-checks every watch on path. It is the change callback handed to
// the notifier and may also be called directly.
func (w *Watcher) Notify(path string) {
	path = absPath(path)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	var targets []PendingWatch
	for _, pw := range w.watches {
		if pw.TranscriptPath != path {
			continue
		}
		if pw.checking {
			pw.dirty = true
			continue
		}
		pw.checking = true
		targets = append(targets, *pw)
	}
	w.mu.Unlock()

	for _, pw := range targets {
		w.check(pw, true, false)
	}
}

// onTimer retries every watch whose backoff has elapsed.
func (w *Watcher) onTimer() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	now := w.clock.Now()
	var due []PendingWatch
	for _, pw := range w.watches {
		if pw.checking || now.Before(pw.NextDue()) {
			continue
		}
		pw.Attempts++
		pw.BackoffInterval = min(pw.BackoffInterval*2, w.cfg.MaxBackoff)
		pw.LastAttemptAt = now
		pw.checking = true
		due = append(due, *pw)
	}
	w.rescheduleLocked()
	w.mu.Unlock()

	for _, pw := range due {
		w.log.Debug("retrying reply lookup", "prompt_id", pw.PromptID, "attempt", pw.Attempts, "next_backoff", pw.BackoffInterval)
		w.check(pw, false, true)
	}
}

// check runs the checker for one watch and applies the outcome. counted marks
// a timed retry, which is the only kind that can exhaust a watch.
func (w *Watcher) check(pw PendingWatch, fresh, counted bool) {
	for {
		ctx, cancel := context.WithTimeout(w.ctx, w.cfg.CheckTimeout)
		res := w.checker.Check(ctx, pw, fresh)
		cancel()

		w.mu.Lock()
		cur, ok := w.watches[pw.PromptID]
		if !ok || w.closed {
			w.mu.Unlock()
			return
		}

		if res.MatchedUserEntryID != "" {
			cur.MatchedUserEntryID = res.MatchedUserEntryID
		}
		if p := absPath(res.TranscriptPath); p != "" && p != cur.TranscriptPath {
			old := cur.TranscriptPath
			cur.TranscriptPath = p
			w.unsubscribeIfUnusedLocked(old)
			w.subscribeLocked(cur.TranscriptPath)
		}

		if res.Found {
			w.removeLocked(cur.PromptID)
			w.rescheduleLocked()
			w.mu.Unlock()
			w.log.Debug("reply resolved", "prompt_id", pw.PromptID, "attempts", pw.Attempts)
			if w.cfg.OnResolved != nil {
				w.cfg.OnResolved(pw.PromptID, res.Reply)
			}
			return
		}

		if cur.dirty {
			// A change landed mid-check; look again before giving up on it.
			// A timed retry stays counted so it can still exhaust the watch.
			cur.dirty = false
			pw = *cur
			fresh = true
			w.mu.Unlock()
			continue
		}

		cur.checking = false
		exhausted := counted && cur.Attempts >= cur.MaxAttempts
		if exhausted {
			w.removeLocked(cur.PromptID)
		}
		w.rescheduleLocked()
		w.mu.Unlock()

		if exhausted {
			w.log.Info("gave up waiting for reply", "prompt_id", pw.PromptID, "attempts", pw.Attempts)
			if w.cfg.OnDropped != nil {
				w.cfg.OnDropped(pw.PromptID, DropExhausted)
			}
		}
		return
	}
}

// sweep removes watches that have not been attempted within StaleAfter.
func (w *Watcher) sweep() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	now := w.clock.Now()
	var stale []string
	for id, pw := range w.watches {
		if !pw.checking && now.Sub(pw.LastAttemptAt) > w.cfg.StaleAfter {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		w.removeLocked(id)
	}
	w.rescheduleLocked()
	w.sweeper = w.clock.AfterFunc(w.cfg.SweepInterval, w.sweep)
	w.mu.Unlock()

	for _, id := range stale {
		w.log.Info("dropped stale reply watch", "prompt_id", id)
		if w.cfg.OnDropped != nil {
			w.cfg.OnDropped(id, DropStale)
		}
	}
}

// rescheduleLocked arms the single retry timer for the earliest due watch.
func (w *Watcher) rescheduleLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.closed {
		return
	}

	var (
		next  time.Time
		found bool
	)
	for _, pw := range w.watches {
		if pw.checking {
			continue
		}
		if due := pw.NextDue(); !found || due.Before(next) {
			next, found = due, true
		}
	}
	if !found {
		return
	}

	delay := max(next.Sub(w.clock.Now()), 0)
	w.timer = w.clock.AfterFunc(delay, w.onTimer)
}

func (w *Watcher) removeLocked(id string) {
	pw, ok := w.watches[id]
	if !ok {
		return
	}
	delete(w.watches, id)
	w.unsubscribeIfUnusedLocked(pw.TranscriptPath)
}

func (w *Watcher) subscribeLocked(path string) {
	if path == "" || w.notifier == nil {
		return
	}
	if _, ok := w.subs[path]; ok {
		return
	}
	sub, err := w.notifier.Watch(path, w.Notify)
	if err != nil {
		w.log.Warn("cannot watch transcript, relying on retries", "path", path, "error", err)
		return
	}
	w.subs[path] = sub
}

func (w *Watcher) unsubscribeIfUnusedLocked(path string) {
	sub, ok := w.subs[path]
	if !ok {
		return
	}
	for _, pw := range w.watches {
		if pw.TranscriptPath == path {
			return
		}
	}
	delete(w.subs, path)
	if err := sub.Close(); err != nil {
		w.log.Warn("closing transcript watch", "path", path, "error", err)
	}
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
