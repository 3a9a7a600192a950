// Package daemon provides the long-running companion service: it follows the
// activity log, resolves replies and serves them over HTTP and SSE.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/cbuddy/internal/engine"
	"github.com/theirongolddev/cbuddy/internal/friendship"
	"github.com/theirongolddev/cbuddy/internal/model"
	"github.com/theirongolddev/cbuddy/internal/notify"
	"github.com/theirongolddev/cbuddy/internal/source"
	"github.com/theirongolddev/cbuddy/internal/store"
)

// cursorKey remembers the newest prompt already credited to friendship.
const cursorKey = "daemon.prompt_cursor"

// Config controls the daemon runtime behavior.
type Config struct {
	ActivityLog string
	Addr        string
	// Backfill limits which log records are submitted: anything older than
	// now minus Backfill is ignored.
	Backfill time.Duration
	// Rescan re-reads the activity log even without a change notification.
	Rescan       time.Duration
	EventsBuffer int

	Engine engine.Config

	// Notifier is shared by the activity log and transcript watches. May be nil.
	Notifier   notify.Notifier
	DB         *store.DB           // optional reply history and cursor storage
	Friendship *friendship.Tracker // optional

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// ReplyEvent is the payload of a "reply" event.
type ReplyEvent struct {
	Fingerprint      string `json:"fingerprint"`
	SessionID        string `json:"session_id"`
	Prompt           string `json:"prompt"`
	Text             string `json:"text"`
	Timestamp        string `json:"timestamp"`
	DisplayTimestamp string `json:"display_timestamp"`
	SourceEntryID    string `json:"source_entry_id"`
}

// Event is emitted whenever a reply is resolved.
type Event struct {
	ID         int64       `json:"id"`
	Type       string      `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	Reply      *ReplyEvent `json:"reply,omitempty"`
	Friendship int         `json:"friendship"`
}

// FriendshipStatus is the friendship part of Status.
type FriendshipStatus struct {
	Level int    `json:"level"`
	Tier  string `json:"tier"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time        `json:"started_at"`
	LastIngestAt    time.Time        `json:"last_ingest_at"`
	IngestCount     int64            `json:"ingest_count"`
	ActivityLog     string           `json:"activity_log"`
	PromptsSeen     int              `json:"prompts_seen"`
	Pending         int              `json:"pending"`
	Resolved        int              `json:"resolved"`
	Abandoned       int              `json:"abandoned"`
	TranscriptReads int64            `json:"transcript_reads"`
	Friendship      FriendshipStatus `json:"friendship"`
	LastError       string           `json:"last_error,omitempty"`
	EventCount      int              `json:"event_count"`
	SubscriberCount int              `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg   Config
	eng   *engine.Engine
	clock clockwork.Clock
	log   *slog.Logger

	kick chan struct{}

	mu           sync.RWMutex
	startedAt    time.Time
	lastIngestAt time.Time
	ingestCount  int64
	lastError    string
	seen         map[string]bool
	cursor       time.Time
	nextEventID  int64
	events       []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a new daemon service with the provided config.
func New(cfg Config) *Service {
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8788"
	}
	if cfg.Backfill <= 0 {
		cfg.Backfill = 10 * time.Minute
	}
	if cfg.Rescan <= 0 {
		cfg.Rescan = 15 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Service{
		cfg:       cfg,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		kick:      make(chan struct{}, 1),
		startedAt: cfg.Clock.Now(),
		seen:      make(map[string]bool),
		subs:      make(map[int]chan Event),
	}

	ecfg := cfg.Engine
	ecfg.Notifier = cfg.Notifier
	ecfg.OnReplyResolved = s.onReply
	if ecfg.Clock == nil {
		ecfg.Clock = cfg.Clock
	}
	if ecfg.Logger == nil {
		ecfg.Logger = cfg.Logger
	}
	s.eng = engine.New(ecfg)

	if cfg.DB != nil {
		if v, ok, err := cfg.DB.Get(cursorKey); err != nil {
			s.log.Warn("reading prompt cursor", "error", err)
		} else if ok {
			s.cursor = model.ParseTimestamp(v)
		}
	}
	return s
}

// Run serves HTTP and follows the activity log until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("daemon listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer func() { _ = s.eng.Close() }()

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.cfg.Notifier != nil {
		sub, err := s.cfg.Notifier.Watch(s.cfg.ActivityLog, func(string) { s.Kick() })
		if err != nil {
			s.log.Warn("cannot watch activity log, rescanning on a timer", "path", s.cfg.ActivityLog, "error", err)
		} else {
			defer func() { _ = sub.Close() }()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("daemon http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		s.follow(gctx)
		return nil
	})

	s.log.Info("daemon listening", "addr", ln.Addr().String(), "activity_log", s.cfg.ActivityLog)
	return g.Wait()
}

// Kick asks for the activity log to be re-read.
func (s *Service) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Engine exposes the underlying engine.
func (s *Service) Engine() *engine.Engine {
	return s.eng
}

func (s *Service) follow(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Rescan)
	defer ticker.Stop()

	s.Ingest(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.Ingest(ctx)
		case <-ticker.Chan():
			s.Ingest(ctx)
		}
	}
}

// Ingest reads the activity log once and submits every recent prompt not seen before.
func (s *Service) Ingest(ctx context.Context) {
	records, err := source.ReadPromptLog(s.cfg.ActivityLog)
	now := s.clock.Now()

	s.mu.Lock()
	s.lastIngestAt = now
	s.ingestCount++
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("reading activity log", "path", s.cfg.ActivityLog, "error", err)
		return
	}

	since := now.Add(-s.cfg.Backfill)
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		at := rec.Time()
		if at.IsZero() || at.Before(since) {
			continue
		}

		fp := engine.Fingerprint(rec)
		s.mu.Lock()
		dup := s.seen[fp]
		s.seen[fp] = true
		s.mu.Unlock()
		if dup {
			continue
		}

		s.creditPrompt(rec, at)

		res, err := s.eng.Submit(ctx, rec)
		if err != nil {
			if !errors.Is(err, engine.ErrClosed) {
				s.log.Warn("submitting prompt", "session", rec.SessionID, "error", err)
			}
			return
		}
		s.log.Debug("prompt submitted", "session", rec.SessionID, "outcome", res.Outcome.String())
	}
}

// creditPrompt awards prompt points once per prompt, across restarts.
func (s *Service) creditPrompt(rec model.PromptRecord, at time.Time) {
	s.mu.Lock()
	if !at.After(s.cursor) {
		s.mu.Unlock()
		return
	}
	s.cursor = at
	s.mu.Unlock()

	if s.cfg.DB != nil {
		if err := s.cfg.DB.Set(cursorKey, rec.Timestamp); err != nil {
			s.log.Warn("saving prompt cursor", "error", err)
		}
	}
	if s.cfg.Friendship != nil {
		if _, err := s.cfg.Friendship.Record(friendship.EventPrompt); err != nil {
			s.log.Warn("recording friendship", "error", err)
		}
	}
}

// onReply receives every resolved reply from the engine.
func (s *Service) onReply(r engine.Resolution) {
	fresh := true
	if s.cfg.DB != nil {
		inserted, err := s.cfg.DB.SaveReply(store.Reply{
			Fingerprint:   r.Fingerprint,
			SessionID:     r.Prompt.SessionID,
			Prompt:        r.Prompt.PromptText,
			PromptAt:      r.Prompt.Timestamp,
			Text:          r.Reply.Text,
			SourceEntryID: r.Reply.SourceEntryID,
			RepliedAt:     r.Reply.Timestamp,
			ResolvedAt:    s.clock.Now(),
		})
		if err != nil {
			s.log.Warn("saving reply", "error", err)
		}
		fresh = inserted || err != nil
	}

	level := s.friendshipLevel()
	if fresh && s.cfg.Friendship != nil {
		if lvl, err := s.cfg.Friendship.Record(friendship.EventReply); err != nil {
			s.log.Warn("recording friendship", "error", err)
		} else {
			level = lvl
		}
	}

	s.mu.Lock()
	s.nextEventID++
	ev := Event{
		ID:        s.nextEventID,
		Type:      "reply",
		Timestamp: s.clock.Now(),
		Reply: &ReplyEvent{
			Fingerprint:      r.Fingerprint,
			SessionID:        r.Prompt.SessionID,
			Prompt:           model.TruncateRunes(r.Prompt.PromptText, 100),
			Text:             r.Reply.Text,
			Timestamp:        r.Reply.Timestamp,
			DisplayTimestamp: r.Reply.DisplayTimestamp,
			SourceEntryID:    r.Reply.SourceEntryID,
		},
		Friendship: level,
	}
	s.mu.Unlock()

	s.publishEvent(ev)
}

func (s *Service) friendshipLevel() int {
	if s.cfg.Friendship == nil {
		return 0
	}
	return s.cfg.Friendship.Level()
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

// Status returns the current daemon status.
func (s *Service) Status() Status {
	es := s.eng.Stats()
	level := s.friendshipLevel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		StartedAt:       s.startedAt,
		LastIngestAt:    s.lastIngestAt,
		IngestCount:     s.ingestCount,
		ActivityLog:     s.cfg.ActivityLog,
		PromptsSeen:     len(s.seen),
		Pending:         es.Pending,
		Resolved:        es.Resolved,
		Abandoned:       es.Abandoned,
		TranscriptReads: es.TranscriptReads,
		Friendship:      FriendshipStatus{Level: level, Tier: friendship.Tier(level)},
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/stream", s.handleStream)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Status())
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// Greet with the current friendship level.
	writeSSE(w, Event{
		Type:       "hello",
		Timestamp:  s.clock.Now(),
		Friendship: s.friendshipLevel(),
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
