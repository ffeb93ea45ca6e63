package events

import (
	"time"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventConversationCreated     EventType = "conversation_created"
	EventDepartmentAssigned      EventType = "conversation_department_assigned"
	EventConversationAccepted    EventType = "conversation_accepted"
	EventConversationTransferred EventType = "conversation_transferred"
	EventConversationClosed      EventType = "conversation_closed"
	EventMessageCreated          EventType = "message_created"
	EventPresenceChanged         EventType = "presence_changed"
)

// AllEventTypes lists every type published by the services.
var AllEventTypes = []EventType{
	EventConversationCreated,
	EventDepartmentAssigned,
	EventConversationAccepted,
	EventConversationTransferred,
	EventConversationClosed,
	EventMessageCreated,
	EventPresenceChanged,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Kind domain.IdentityKind `json:"kind"`
	ID   int64               `json:"id"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	ConversationID int64       `json:"conversation_id,omitempty"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// ConversationPayload carries the conversation state after a lifecycle transition.
type ConversationPayload struct {
	Conversation         domain.Conversation `json:"conversation"`
	PreviousAgentID      *int64              `json:"previous_agent_id,omitempty"`
	PreviousDepartmentID *int64              `json:"previous_department_id,omitempty"`
}

// MessageCreatedPayload is the persisted message enriched for display.
type MessageCreatedPayload struct {
	Message           domain.Message    `json:"message"`
	SenderKind        domain.SenderKind `json:"sender_type"`
	SenderName        string            `json:"sender_name"`
	SenderAvatar      string            `json:"sender_avatar,omitempty"`
	ConversationDept  *int64            `json:"department_id,omitempty"`
	ConversationOwner int64             `json:"client_id"`
}

// PresenceChangedPayload describes an online/offline/heartbeat transition.
type PresenceChangedPayload struct {
	IdentityID  int64                 `json:"identity_id"`
	Kind        domain.IdentityKind   `json:"kind"`
	DisplayName string                `json:"display_name"`
	Status      domain.PresenceStatus `json:"status"`
	LastSeen    time.Time             `json:"last_seen"`
	Reason      string                `json:"reason,omitempty"`
}
