package domain

import (
	"fmt"
	"time"
)

// ConversationStatus enumerates lifecycle states for a chat group.
type ConversationStatus string

const (
	ConversationQueued      ConversationStatus = "queued"
	ConversationActive      ConversationStatus = "active"
	ConversationTransferred ConversationStatus = "transferred"
	ConversationEnded       ConversationStatus = "ended"
)

var conversationTransitions = map[ConversationStatus][]ConversationStatus{
	ConversationQueued:      {ConversationActive, ConversationEnded},
	ConversationTransferred: {ConversationActive, ConversationEnded},
	ConversationActive:      {ConversationTransferred, ConversationEnded},
	ConversationEnded:       {},
}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	_, ok := conversationTransitions[s]
	return ok
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s ConversationStatus) CanTransitionTo(next ConversationStatus) bool {
	for _, allowed := range conversationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s ConversationStatus) IsTerminal() bool {
	transitions, ok := conversationTransitions[s]
	return ok && len(transitions) == 0
}

// Awaiting reports whether the conversation sits in a department queue.
func (s ConversationStatus) Awaiting() bool {
	return s == ConversationQueued || s == ConversationTransferred
}

// Conversation is a routed thread between one client and at most one agent.
type Conversation struct {
	ID           int64              `json:"id"`
	ClientID     int64              `json:"client_id"`
	DepartmentID *int64             `json:"department_id"`
	AgentID      *int64             `json:"agent_id"`
	Status       ConversationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Validate checks the assignment invariants of the lifecycle.
func (c *Conversation) Validate() error {
	if !c.Status.Valid() {
		return fmt.Errorf("conversation %d: unknown status %q", c.ID, c.Status)
	}
	if c.Status == ConversationActive && c.AgentID == nil {
		return fmt.Errorf("conversation %d: active without agent", c.ID)
	}
	if c.Status.Awaiting() && c.AgentID != nil {
		return fmt.Errorf("conversation %d: %s with agent %d", c.ID, c.Status, *c.AgentID)
	}
	return nil
}

// AssignedTo reports whether agentID is the currently assigned agent.
func (c *Conversation) AssignedTo(agentID int64) bool {
	return c.AgentID != nil && *c.AgentID == agentID
}

// InDepartment reports whether the conversation is routed to departmentID.
func (c *Conversation) InDepartment(departmentID int64) bool {
	return c.DepartmentID != nil && *c.DepartmentID == departmentID
}

// Clone returns a copy that shares no pointers with c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.DepartmentID != nil {
		dept := *c.DepartmentID
		out.DepartmentID = &dept
	}
	if c.AgentID != nil {
		agent := *c.AgentID
		out.AgentID = &agent
	}
	return &out
}
