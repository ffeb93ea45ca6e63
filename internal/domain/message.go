package domain

import "time"

// SenderKind indicates who authored a message.
type SenderKind string

const (
	SenderAgent  SenderKind = "agent"
	SenderClient SenderKind = "client"
	SenderSystem SenderKind = "system"
)

// Message is an immutable entry in a conversation thread.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Body           string    `json:"body"`
	ClientID       *int64    `json:"client_id,omitempty"`
	AgentID        *int64    `json:"agent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SenderKind derives the author type from the sender columns.
func (m *Message) SenderKind() SenderKind {
	switch {
	case m.AgentID != nil:
		return SenderAgent
	case m.ClientID != nil:
		return SenderClient
	default:
		return SenderSystem
	}
}

// SenderID returns the author id, or zero for system messages.
func (m *Message) SenderID() int64 {
	switch {
	case m.AgentID != nil:
		return *m.AgentID
	case m.ClientID != nil:
		return *m.ClientID
	default:
		return 0
	}
}
