package engine

import (
	"sync"

	"github.com/theirongolddev/cbuddy/internal/model"
)

// fingerprintPromptRunes bounds how much prompt text goes into a fingerprint.
const fingerprintPromptRunes = 100

// Fingerprint identifies a prompt submission. The same text submitted twice
// at different times yields different fingerprints.
func Fingerprint(p model.PromptRecord) string {
	session := p.SessionID
	if session == "" {
		session = model.UnknownSession
	}
	return session + "|" + p.Timestamp + "|" + model.TruncateRunes(p.PromptText, fingerprintPromptRunes)
}

// ReplyCache maps prompt fingerprints to resolved replies for the life of the
// process. Entries are never evicted.
type ReplyCache struct {
	mu      sync.RWMutex
	replies map[string]model.ResolvedReply
}

// NewReplyCache returns an empty cache.
func NewReplyCache() *ReplyCache {
	return &ReplyCache{replies: make(map[string]model.ResolvedReply)}
}

func (c *ReplyCache) Get(fp string) (model.ResolvedReply, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.replies[fp]
	return r, ok
}

// PutIfAbsent stores r unless fp already has a reply. It reports whether r was stored.
func (c *ReplyCache) PutIfAbsent(fp string, r model.ResolvedReply) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.replies[fp]; ok {
		return false
	}
	c.replies[fp] = r
	return true
}

func (c *ReplyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.replies)
}
