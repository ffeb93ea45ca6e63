package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/cache"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/repository"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

// Denial reasons reported in Access.Reason and in authorization error details.
const (
	ReasonNotOwner           = "not_conversation_owner"
	ReasonInactive           = "identity_inactive"
	ReasonOutsideDepartment  = "outside_department"
	ReasonMissingPermission  = "missing_permission"
	ReasonConversationEnded  = "conversation_ended"
	ReasonUnknownIdentity    = "unknown_identity_kind"
	ReasonNotAssigned        = "not_assigned_agent"
	ReasonAlreadyAssigned    = "ALREADY_ASSIGNED"
	ReasonInvalidTransition  = "INVALID_TRANSITION"
	ReasonDepartmentInactive = "department_inactive"
)

// Access is the outcome of a room check.
type Access struct {
	Allowed      bool
	Reason       string
	Conversation *domain.Conversation
}

// RoomAuthorizer decides whether a principal may join, read or post in a conversation room.
// It never mutates state.
type RoomAuthorizer struct {
	conversations repository.ConversationRepository
	cache         cache.ConversationCache
	// bumped by every Invalidate; a lookup that overlaps one does not keep its copy
	invalidations atomic.Uint64
	logger        *zap.Logger
}

// NewRoomAuthorizer creates the authorizer.
func NewRoomAuthorizer(conversations repository.ConversationRepository, convCache cache.ConversationCache, logger *zap.Logger) *RoomAuthorizer {
	return &RoomAuthorizer{
		conversations: conversations,
		cache:         convCache,
		logger:        logger.Named("room-authorizer"),
	}
}

// Conversation loads a conversation through the cache.
func (a *RoomAuthorizer) Conversation(ctx context.Context, conversationID int64) (*domain.Conversation, error) {
	if conversationID <= 0 {
		return nil, apperrors.NewValidationError("conversation id must be positive", map[string]any{"conversation_id": conversationID})
	}
	if conv, ok := a.cache.Get(ctx, conversationID); ok {
		return conv, nil
	}
	seen := a.invalidations.Load()
	conv, err := a.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("conversation", map[string]any{"conversation_id": conversationID})
		}
		return nil, apperrors.MapError(err)
	}
	a.cache.Set(ctx, conv)
	if a.invalidations.Load() != seen {
		// A transition committed while the row was in flight; the copy may predate it.
		a.cache.Invalidate(ctx, conv.ID)
	}
	return conv, nil
}

// Invalidate drops the cached copy after a lifecycle transition.
func (a *RoomAuthorizer) Invalidate(ctx context.Context, conversationID int64) {
	a.invalidations.Add(1)
	a.cache.Invalidate(ctx, conversationID)
}

// CanJoin applies the membership rules. The returned error is reserved for lookups that fail;
// a denial is reported through Access.
func (a *RoomAuthorizer) CanJoin(ctx context.Context, principal *domain.Principal, conversationID int64) (*Access, error) {
	conv, err := a.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	reason := joinReason(principal, conv)
	return &Access{Allowed: reason == "", Reason: reason, Conversation: conv}, nil
}

// CanView additionally requires the view capability.
func (a *RoomAuthorizer) CanView(ctx context.Context, principal *domain.Principal, conversationID int64) (*Access, error) {
	access, err := a.CanJoin(ctx, principal, conversationID)
	if err != nil || !access.Allowed {
		return access, err
	}
	if !principal.Permissions.CanView {
		access.Allowed, access.Reason = false, ReasonMissingPermission
	}
	return access, nil
}

// CanSend additionally requires the send capability and a conversation that has not ended.
func (a *RoomAuthorizer) CanSend(ctx context.Context, principal *domain.Principal, conversationID int64) (*Access, error) {
	access, err := a.CanJoin(ctx, principal, conversationID)
	if err != nil || !access.Allowed {
		return access, err
	}
	switch {
	case !principal.Permissions.CanSend:
		access.Allowed, access.Reason = false, ReasonMissingPermission
	case access.Conversation.Status == domain.ConversationEnded:
		access.Allowed, access.Reason = false, ReasonConversationEnded
	}
	return access, nil
}

// RequireJoin returns the conversation or an authorization error.
func (a *RoomAuthorizer) RequireJoin(ctx context.Context, principal *domain.Principal, conversationID int64) (*domain.Conversation, error) {
	return requireAccess(a.CanJoin(ctx, principal, conversationID))
}

// RequireView returns the conversation or an authorization error.
func (a *RoomAuthorizer) RequireView(ctx context.Context, principal *domain.Principal, conversationID int64) (*domain.Conversation, error) {
	return requireAccess(a.CanView(ctx, principal, conversationID))
}

// RequireSend returns the conversation or an authorization error.
func (a *RoomAuthorizer) RequireSend(ctx context.Context, principal *domain.Principal, conversationID int64) (*domain.Conversation, error) {
	return requireAccess(a.CanSend(ctx, principal, conversationID))
}

func requireAccess(access *Access, err error) (*domain.Conversation, error) {
	if err != nil {
		return nil, err
	}
	if !access.Allowed {
		return nil, apperrors.NewForbiddenWithDetails("access to conversation denied", map[string]any{
			"conversation_id": access.Conversation.ID,
			"reason":          access.Reason,
		})
	}
	return access.Conversation, nil
}

func joinReason(principal *domain.Principal, conv *domain.Conversation) string {
	switch {
	case principal.IsClient():
		if conv.ClientID != principal.ID {
			return ReasonNotOwner
		}
		if !principal.Active {
			return ReasonInactive
		}
		return ""
	case principal.IsAgent():
		if !principal.Active {
			return ReasonInactive
		}
		if principal.Permissions.AllDepartments || conv.AssignedTo(principal.ID) {
			return ""
		}
		if conv.DepartmentID != nil && principal.InDepartment(*conv.DepartmentID) {
			return ""
		}
		return ReasonOutsideDepartment
	default:
		return ReasonUnknownIdentity
	}
}
