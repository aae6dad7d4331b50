package models

import (
	"time"
)

// Status represents the lifecycle state of a conversation
type Status string

const (
	StatusActive        Status = "active"
	StatusWaitingHuman  Status = "waiting_human"
	StatusEscalated     Status = "escalated"
	StatusIdleTimeout   Status = "idle_timeout"
	StatusMaxSession    Status = "max_session"
	StatusQuotaExceeded Status = "quota_exceeded"
	StatusEnded         Status = "ended"
	StatusClosed        Status = "closed"
)

// Terminal reports whether no further messages are accepted in this state.
// idle_timeout is deliberately not terminal: a returning user resumes it.
func (s Status) Terminal() bool {
	switch s {
	case StatusMaxSession, StatusQuotaExceeded, StatusEnded, StatusClosed:
		return true
	}
	return false
}

// Valid reports whether s is a known lifecycle status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusWaitingHuman, StatusEscalated, StatusIdleTimeout,
		StatusMaxSession, StatusQuotaExceeded, StatusEnded, StatusClosed:
		return true
	}
	return false
}

// Message roles
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// Message represents a single chat message within a session
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the single live conversation on a device. At most one
// session is live at a time; creating a new one requires the old one to
// be cleared or already terminal.
type Session struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Status         Status    `json:"status"`
	Messages       []Message `json:"messages"`
	Identity       *Identity `json:"identity,omitempty"`
	IsExpanded     bool      `json:"is_expanded"`

	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last mutation of any kind; LastInteractionAt only
	// moves on user-driven activity and feeds the idle timeout.
	UpdatedAt         time.Time `json:"updated_at"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
}

// UserMessageCount returns the number of user-authored messages,
// which is what message quotas are measured against.
func (s *Session) UserMessageCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand outside the orchestrator lock
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	return &out
}
