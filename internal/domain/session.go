package domain

import (
	"time"
)

// Message roles in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxHistory caps conversation history length; the oldest messages are
// evicted once the cap is exceeded.
const MaxHistory = 100

// Message is a single conversation entry. Messages are append-only.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds per-user conversation state. Sessions live in the store
// under a TTL and are refreshed on every access.
type Session struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	History    []Message `json:"conversation_history"`
}

// Append adds a message to the history, evicting the oldest entries
// beyond MaxHistory.
func (s *Session) Append(role, text string, now time.Time) {
	s.History = append(s.History, Message{
		Role:      role,
		Text:      text,
		Timestamp: now,
	})
	if len(s.History) > MaxHistory {
		s.History = s.History[len(s.History)-MaxHistory:]
	}
	s.LastActive = now
}
