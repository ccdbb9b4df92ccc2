package telegram

import (
	"sync"
	"time"

	"kassa/pkg/kassa"
)

// Mode of a conversation session.
type Mode string

const (
	ModeGuided Mode = "guided"
	ModeBulk   Mode = "bulk"
)

// DefaultSessionTTL is the inactivity window after which a session behaves
// as if it never existed.
const DefaultSessionTTL = 30 * time.Minute

// Session holds the per-chat conversation state: the current step and the
// partially built transaction (guided) or header+items (bulk).
type Session struct {
	Mode  Mode
	Step  Step
	Draft kassa.Transaction

	Header *kassa.BulkHeader
	Items  []kassa.BulkItem
	// Rejected counts bulk item lines that failed to parse, for the final
	// summary.
	Rejected int

	LastActivity time.Time
}

// SessionManager manages conversation sessions keyed by chat id. Telegram
// delivers updates for one chat sequentially, so the mutex only guards
// cross-chat access to the map itself.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager creates a session manager. A non-positive TTL selects
// the default.
func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the live session for a chat, refreshing its activity stamp, or
// nil when there is none. An expired session is removed and reported as nil:
// expiry is indistinguishable from absence.
func (sm *SessionManager) Get(chatID int64) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[chatID]
	if !ok {
		return nil
	}

	now := sm.now()
	if now.Sub(s.LastActivity) >= sm.ttl {
		delete(sm.sessions, chatID)
		return nil
	}

	s.LastActivity = now
	return s
}

// Start allocates a fresh session for the chat, discarding any previous one.
func (sm *SessionManager) Start(chatID int64, mode Mode) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s := &Session{
		Mode:         mode,
		Step:         StepObject,
		LastActivity: sm.now(),
	}
	if mode == ModeBulk {
		s.Step = StepBulkHeader
	}
	sm.sessions[chatID] = s
	return s
}

// Clear destroys the chat's session, discarding all partial data.
func (sm *SessionManager) Clear(chatID int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, chatID)
}
