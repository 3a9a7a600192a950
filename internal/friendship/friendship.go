// Package friendship keeps the companion's bounded friendship level.
package friendship

import (
	"fmt"
	"strconv"
	"sync"
)

// Max is the highest friendship level.
const Max = 100

// Key is where the level lives in the key/value store.
const Key = "friendship.level"

// Event is something that earns friendship points.
type Event string

const (
	EventPrompt Event = "prompt"
	EventReply  Event = "reply"
)

// KV is the persistence the tracker needs.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Points assigns a point value to each event.
type Points struct {
	Prompt int
	Reply  int
}

// Tracker is a counter clamped to [0, Max], written through to a KV store.
type Tracker struct {
	kv     KV
	points Points

	mu    sync.Mutex
	level int
}

// Load reads the stored level. A missing or garbled value starts at zero.
func Load(kv KV, points Points) (*Tracker, error) {
	t := &Tracker{kv: kv, points: points}
	v, ok, err := kv.Get(Key)
	if err != nil {
		return nil, fmt.Errorf("loading friendship: %w", err)
	}
	if ok {
		if n, err := strconv.Atoi(v); err == nil {
			t.level = clamp(n)
		}
	}
	return t, nil
}

// Record applies ev and persists the new level, which it returns.
// On a write failure the in-memory level is left unchanged.
func (t *Tracker) Record(ev Event) (int, error) {
	var delta int
	switch ev {
	case EventPrompt:
		delta = t.points.Prompt
	case EventReply:
		delta = t.points.Reply
	default:
		return t.Level(), fmt.Errorf("unknown friendship event %q", ev)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := clamp(t.level + delta)
	if next == t.level {
		return t.level, nil
	}
	if err := t.kv.Set(Key, strconv.Itoa(next)); err != nil {
		return t.level, fmt.Errorf("saving friendship: %w", err)
	}
	t.level = next
	return next, nil
}

// Level returns the current level.
func (t *Tracker) Level() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// Tier names a level.
func Tier(level int) string {
	switch {
	case level >= 80:
		return "best friend"
	case level >= 50:
		return "friend"
	case level >= 20:
		return "acquaintance"
	default:
		return "stranger"
	}
}

func clamp(n int) int {
	return min(max(n, 0), Max)
}
