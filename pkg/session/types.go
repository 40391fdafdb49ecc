package session

import (
	"time"
)

// Role of a history entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Entry is one history item.
type Entry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UserEntry creates a user entry stamped with the current time.
func UserEntry(text string) Entry {
	return Entry{Role: RoleUser, Text: text, Timestamp: time.Now()}
}

// AgentEntry creates an agent entry stamped with the current time.
func AgentEntry(text string) Entry {
	return Entry{Role: RoleAgent, Text: text, Timestamp: time.Now()}
}

// Session is a snapshot of a conversation. Snapshots returned by the Store
// are copies and may be used freely.
type Session struct {
	ID           string    `json:"session_id"`
	AgentID      string    `json:"agent_id"`
	History      []Entry   `json:"history"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Recent returns the last n history entries.
func (s *Session) Recent(n int) []Entry {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if n > len(s.History) {
		n = len(s.History)
	}
	return s.History[len(s.History)-n:]
}

// Info summarizes a session for listings.
type Info struct {
	ID           string    `json:"session_id"`
	AgentID      string    `json:"agent_id"`
	Entries      int       `json:"entries"`
	LastActiveAt time.Time `json:"last_active_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// fileLine is one line of a session file. The first line of a file is a
// header; every following line carries one entry.
type fileLine struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Entry     *Entry    `json:"entry,omitempty"`
}

const (
	lineHeader = "session"
	lineEntry  = "entry"
)
