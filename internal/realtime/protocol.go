// Package realtime holds the websocket session layer: connection registry, room fan-out and
// the inbound frame dispatcher.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

// Inbound frame types.
const (
	InJoinRoom             = "joinRoom"
	InLeaveRoom            = "leaveRoom"
	InSendMessage          = "sendMessage"
	InTyping               = "typing"
	InUserOnline           = "userOnline"
	InHeartbeat            = "heartbeat"
	InUserOffline          = "userOffline"
	InCreateConversation   = "createConversation"
	InAcceptConversation   = "acceptConversation"
	InTransferConversation = "transferConversation"
	InCloseConversation    = "closeConversation"
	InPing                 = "ping"
)

// Outbound event types.
const (
	OutReceiveMessage      = "receiveMessage"
	OutUserJoined          = "userJoined"
	OutUserLeft            = "userLeft"
	OutUserStatusChanged   = "userStatusChanged"
	OutCustomerListUpdate  = "customerListUpdate"
	OutMessageDelivered    = "messageDelivered"
	OutMessageError        = "messageError"
	OutJoinedRoom          = "joinedRoom"
	OutError               = "error"
	OutTyping              = "typing"
	OutConversationUpdated = "conversationUpdated"
	OutConversationCreated = "conversationCreated"
	OutQueueSnapshot       = "queueSnapshot"
	OutPong                = "pong"
)

// Customer list actions.
const (
	ListMoveToTop = "moveToTop"
	ListQueued    = "queued"
	ListRemoved   = "removed"
)

// Frame is an inbound message from a connection.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope is an outbound message to a connection.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type conversationRef struct {
	ConversationID int64 `json:"conversation_id"`
}

type identityRef struct {
	IdentityID int64 `json:"identity_id"`
}

type typingRequest struct {
	ConversationID int64 `json:"conversation_id"`
	IsTyping       bool  `json:"is_typing"`
}

type createConversationRequest struct {
	DepartmentID *int64 `json:"department_id,omitempty"`
}

type transferRequest struct {
	ConversationID int64 `json:"conversation_id"`
	DepartmentID   int64 `json:"department_id"`
}

// ErrorPayload mirrors the HTTP error body.
type ErrorPayload struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	RequestType string         `json:"request_type,omitempty"`
}

// ReceiveMessagePayload is a stored message enriched for display.
type ReceiveMessagePayload struct {
	Message      domain.Message    `json:"message"`
	SenderType   domain.SenderKind `json:"sender_type"`
	SenderName   string            `json:"sender_name"`
	SenderAvatar string            `json:"sender_avatar,omitempty"`
}

// MessageDeliveredPayload acknowledges a stored message to its sender.
type MessageDeliveredPayload struct {
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// CustomerListUpdatePayload tells agents how a conversation moved in their list.
type CustomerListUpdatePayload struct {
	Action         string          `json:"action"`
	ConversationID int64           `json:"conversation_id"`
	DepartmentID   *int64          `json:"department_id,omitempty"`
	ClientID       int64           `json:"client_id"`
	Status         string          `json:"status,omitempty"`
	LastMessage    *domain.Message `json:"last_message,omitempty"`
}

// ParticipantPayload announces someone entering or leaving a room.
type ParticipantPayload struct {
	ConversationID int64               `json:"conversation_id"`
	IdentityID     int64               `json:"identity_id"`
	Kind           domain.IdentityKind `json:"kind"`
	DisplayName    string              `json:"display_name,omitempty"`
	Reason         string              `json:"reason,omitempty"`
}

// UserStatusPayload is a presence transition.
type UserStatusPayload struct {
	IdentityID  int64                 `json:"identity_id"`
	Kind        domain.IdentityKind   `json:"kind"`
	DisplayName string                `json:"display_name"`
	Status      domain.PresenceStatus `json:"status"`
	LastSeen    time.Time             `json:"last_seen"`
}

// TypingPayload relays a typing indicator.
type TypingPayload struct {
	ConversationID int64               `json:"conversation_id"`
	IdentityID     int64               `json:"identity_id"`
	Kind           domain.IdentityKind `json:"kind"`
	DisplayName    string              `json:"display_name"`
	IsTyping       bool                `json:"is_typing"`
}

// JoinedRoomPayload confirms a join and carries recent history.
type JoinedRoomPayload struct {
	Conversation domain.Conversation `json:"conversation"`
	History      []domain.Message    `json:"history"`
}
