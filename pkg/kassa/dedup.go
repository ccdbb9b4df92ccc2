package kassa

import (
	"strings"
	"sync"
	"time"
)

// Dedup defaults. Both layers are advisory: they suppress near-term repeats
// and are not a durability guarantee.
const (
	DefaultIDTTL         = 6 * time.Hour
	DefaultContentWindow = 30 * time.Second
)

type idKey struct {
	chatID int64
	msgID  int
}

type contentKey struct {
	chatID int64
	text   string
}

// Guard suppresses duplicate inbound messages with two in-memory layers:
// message-id dedup (transport redelivery, long TTL, silent) and
// normalized-content dedup (human double-send, short window, user-visible).
// State is process-local and intentionally does not survive a restart.
type Guard struct {
	mu      sync.Mutex
	ids     map[idKey]time.Time
	content map[contentKey]time.Time

	idTTL         time.Duration
	contentWindow time.Duration
	now           func() time.Time
}

// NewGuard creates a dedup guard. Zero durations select the defaults.
func NewGuard(idTTL, contentWindow time.Duration) *Guard {
	if idTTL <= 0 {
		idTTL = DefaultIDTTL
	}
	if contentWindow <= 0 {
		contentWindow = DefaultContentWindow
	}
	return &Guard{
		ids:           make(map[idKey]time.Time),
		content:       make(map[contentKey]time.Time),
		idTTL:         idTTL,
		contentWindow: contentWindow,
		now:           time.Now,
	}
}

// SeenMessage registers (chat, message id) and reports whether it was already
// seen within the id TTL. A true result means the update is a redelivery and
// must be dropped without any reply.
func (g *Guard) SeenMessage(chatID int64, messageID int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.evictLocked(now)

	k := idKey{chatID: chatID, msgID: messageID}
	if _, ok := g.ids[k]; ok {
		return true
	}
	g.ids[k] = now
	return false
}

// SeenContent registers the normalized text for the chat and reports whether
// identical content arrived within the content window. Unlike SeenMessage
// this must be reported to the user: it catches accidental double-sends of a
// legitimate-looking new message.
func (g *Guard) SeenContent(chatID int64, text string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.evictLocked(now)

	k := contentKey{chatID: chatID, text: NormalizeContent(text)}
	last, ok := g.content[k]
	g.content[k] = now
	return ok && now.Sub(last) < g.contentWindow
}

// evictLocked lazily drops expired entries. Called before each lookup, so
// map growth is bounded by traffic within one TTL.
func (g *Guard) evictLocked(now time.Time) {
	for k, seen := range g.ids {
		if now.Sub(seen) >= g.idTTL {
			delete(g.ids, k)
		}
	}
	for k, seen := range g.content {
		if now.Sub(seen) >= g.contentWindow {
			delete(g.content, k)
		}
	}
}

// NormalizeContent lowercases and collapses internal whitespace so cosmetic
// retyping still counts as the same content.
func NormalizeContent(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// ForceMarker is the trailing override token: a line ending with "!" is a
// deliberate repeat and bypasses the content-dedup window.
const ForceMarker = "!"

// StripForceMarker reports whether the line carries the override marker and
// returns the line without it.
func StripForceMarker(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, ForceMarker) {
		return strings.TrimSpace(strings.TrimSuffix(trimmed, ForceMarker)), true
	}
	return trimmed, false
}
