package dto

import (
	"time"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

// CreateConversationRequest payload.
type CreateConversationRequest struct {
	DepartmentID *int64 `json:"department_id"`
}

// DepartmentRequest payload for department assignment and transfer.
type DepartmentRequest struct {
	DepartmentID int64 `json:"department_id"`
}

// ConversationResponse is the public view of a conversation.
type ConversationResponse struct {
	ID           int64                     `json:"id"`
	ClientID     int64                     `json:"client_id"`
	DepartmentID *int64                    `json:"department_id"`
	AgentID      *int64                    `json:"agent_id"`
	Status       domain.ConversationStatus `json:"status"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// PresenceResponse is one online identity.
type PresenceResponse struct {
	IdentityID  int64               `json:"identity_id"`
	Kind        domain.IdentityKind `json:"kind"`
	DisplayName string              `json:"display_name"`
	LastSeen    time.Time           `json:"last_seen"`
}

// NewConversationResponse maps the domain conversation.
func NewConversationResponse(conv *domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:           conv.ID,
		ClientID:     conv.ClientID,
		DepartmentID: conv.DepartmentID,
		AgentID:      conv.AgentID,
		Status:       conv.Status,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
}

// NewPresenceResponse maps a presence record. The connection id stays internal.
func NewPresenceResponse(record domain.PresenceRecord) PresenceResponse {
	return PresenceResponse{
		IdentityID:  record.IdentityID,
		Kind:        record.Kind,
		DisplayName: record.DisplayName,
		LastSeen:    record.LastSeen,
	}
}
