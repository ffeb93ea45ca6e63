package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/events"
	"github.com/helpdesk-labs/support-chat/internal/repository"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

const defaultQueueLimit = 100

// ConversationRouter owns the conversation lifecycle: queued, active, transferred, ended.
type ConversationRouter struct {
	conversations repository.ConversationRepository
	departments   repository.DepartmentRepository
	rooms         *RoomAuthorizer
	dispatcher    events.Dispatcher
	logger        *zap.Logger
}

// RouterDependencies bundles collaborators.
type RouterDependencies struct {
	ConversationRepo repository.ConversationRepository
	DepartmentRepo   repository.DepartmentRepository
	Rooms            *RoomAuthorizer
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
}

// NewConversationRouter creates the router.
func NewConversationRouter(deps RouterDependencies) *ConversationRouter {
	return &ConversationRouter{
		conversations: deps.ConversationRepo,
		departments:   deps.DepartmentRepo,
		rooms:         deps.Rooms,
		dispatcher:    deps.Dispatcher,
		logger:        deps.Logger.Named("router"),
	}
}

// Create opens a queued conversation for the calling client.
func (r *ConversationRouter) Create(ctx context.Context, client *domain.Principal, departmentID *int64) (*domain.Conversation, error) {
	if !client.IsClient() {
		return nil, apperrors.NewForbidden("only clients open conversations")
	}
	if !client.Active {
		return nil, apperrors.NewForbiddenWithDetails("client is inactive", map[string]any{"reason": ReasonInactive})
	}
	if departmentID != nil {
		if err := r.requireDepartment(ctx, *departmentID); err != nil {
			return nil, err
		}
	}
	conv, err := r.conversations.Create(ctx, client.ID, departmentID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	r.publish(ctx, events.EventConversationCreated, client, conv, nil, nil)
	r.logger.Info("conversation created", zap.Int64("conversation_id", conv.ID), zap.Int64("client_id", client.ID))
	return conv, nil
}

// AssignDepartment routes a waiting, unassigned conversation to a department.
func (r *ConversationRouter) AssignDepartment(ctx context.Context, principal *domain.Principal, conversationID, departmentID int64) (*domain.Conversation, error) {
	conv, err := r.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	switch {
	case principal.IsClient() && conv.ClientID == principal.ID:
	case principal.IsAgent() && principal.Permissions.AllDepartments:
	default:
		return nil, apperrors.NewForbidden("not allowed to route this conversation")
	}
	if !conv.Status.Awaiting() || conv.AgentID != nil {
		return nil, invalidTransition(conv, "department can only be set while waiting")
	}
	if err := r.requireDepartment(ctx, departmentID); err != nil {
		return nil, err
	}

	previous := conv.DepartmentID
	updated, err := r.conversations.SetDepartment(ctx, conv.ID, departmentID, conv.Status)
	if err != nil {
		return nil, r.transitionError(conv, err)
	}
	r.rooms.Invalidate(ctx, conv.ID)
	r.publish(ctx, events.EventDepartmentAssigned, principal, updated, nil, previous)
	return updated, nil
}

// Accept assigns a waiting conversation to the calling agent. Concurrent accepts resolve to a
// single winner; the others get a conflict.
func (r *ConversationRouter) Accept(ctx context.Context, agent *domain.Principal, conversationID int64) (*domain.Conversation, error) {
	if !agent.IsAgent() || !agent.Permissions.CanAccept {
		return nil, apperrors.NewForbiddenWithDetails("accepting conversations is not permitted", map[string]any{"reason": ReasonMissingPermission})
	}
	conv, err := r.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !agent.Permissions.AllDepartments && (conv.DepartmentID == nil || !agent.InDepartment(*conv.DepartmentID)) {
		return nil, apperrors.NewForbiddenWithDetails("conversation is outside your departments", map[string]any{
			"conversation_id": conv.ID,
			"reason":          ReasonOutsideDepartment,
		})
	}
	if conv.AgentID != nil {
		return nil, alreadyAssigned(conv.ID)
	}
	if !conv.Status.CanTransitionTo(domain.ConversationActive) {
		return nil, invalidTransition(conv, "conversation cannot be accepted")
	}

	// The department the membership check passed on is part of the compare-and-set.
	agentID := agent.ID
	updated, err := r.conversations.SetAgent(ctx, conv.ID, &agentID, domain.ConversationActive, nil, conv.DepartmentID)
	if err != nil {
		if errors.Is(err, repository.ErrPreconditionFailed) {
			r.rooms.Invalidate(ctx, conv.ID)
			return nil, r.acceptLost(ctx, agent, conv.ID)
		}
		return nil, r.transitionError(conv, err)
	}
	r.rooms.Invalidate(ctx, conv.ID)
	r.publish(ctx, events.EventConversationAccepted, agent, updated, nil, nil)
	r.logger.Info("conversation accepted", zap.Int64("conversation_id", conv.ID), zap.Int64("agent_id", agent.ID))
	return updated, nil
}

// acceptLost explains a failed accept from the row as it is now.
func (r *ConversationRouter) acceptLost(ctx context.Context, agent *domain.Principal, conversationID int64) error {
	current, err := r.load(ctx, conversationID)
	if err != nil {
		return err
	}
	switch {
	case current.AgentID != nil:
		return alreadyAssigned(current.ID)
	case !agent.Permissions.AllDepartments && (current.DepartmentID == nil || !agent.InDepartment(*current.DepartmentID)):
		return apperrors.NewForbiddenWithDetails("conversation is outside your departments", map[string]any{
			"conversation_id": current.ID,
			"reason":          ReasonOutsideDepartment,
		})
	default:
		return invalidTransition(current, "conversation cannot be accepted")
	}
}

// Transfer hands an active conversation back to a department queue.
func (r *ConversationRouter) Transfer(ctx context.Context, agent *domain.Principal, conversationID, departmentID int64) (*domain.Conversation, error) {
	if !agent.IsAgent() || !agent.Permissions.CanTransfer {
		return nil, apperrors.NewForbiddenWithDetails("transferring conversations is not permitted", map[string]any{"reason": ReasonMissingPermission})
	}
	conv, err := r.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.AssignedTo(agent.ID) {
		return nil, apperrors.NewForbiddenWithDetails("only the assigned agent can transfer", map[string]any{
			"conversation_id": conv.ID,
			"reason":          ReasonNotAssigned,
		})
	}
	if !conv.Status.CanTransitionTo(domain.ConversationTransferred) {
		return nil, invalidTransition(conv, "conversation cannot be transferred")
	}
	if err := r.requireDepartment(ctx, departmentID); err != nil {
		return nil, err
	}

	previousAgent := conv.AgentID
	previousDept := conv.DepartmentID
	updated, err := r.conversations.Transfer(ctx, conv.ID, agent.ID, departmentID)
	if err != nil {
		r.rooms.Invalidate(ctx, conv.ID)
		return nil, r.transitionError(conv, err)
	}
	r.rooms.Invalidate(ctx, conv.ID)
	r.publish(ctx, events.EventConversationTransferred, agent, updated, previousAgent, previousDept)
	r.logger.Info("conversation transferred",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("from_agent_id", agent.ID),
		zap.Int64("department_id", departmentID))
	return updated, nil
}

// Close ends a conversation. Ended is terminal.
func (r *ConversationRouter) Close(ctx context.Context, principal *domain.Principal, conversationID int64) (*domain.Conversation, error) {
	if !principal.Permissions.CanClose {
		return nil, apperrors.NewForbiddenWithDetails("closing conversations is not permitted", map[string]any{"reason": ReasonMissingPermission})
	}
	conv, err := r.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	switch {
	case principal.IsClient() && conv.ClientID == principal.ID:
	case principal.IsAgent() && (conv.AssignedTo(principal.ID) || principal.Permissions.AllDepartments):
	default:
		return nil, apperrors.NewForbiddenWithDetails("not allowed to close this conversation", map[string]any{
			"conversation_id": conv.ID,
			"reason":          ReasonNotAssigned,
		})
	}
	if !conv.Status.CanTransitionTo(domain.ConversationEnded) {
		return nil, invalidTransition(conv, "conversation already ended")
	}

	previousAgent := conv.AgentID
	updated, err := r.conversations.Close(ctx, conv.ID)
	if err != nil {
		return nil, r.transitionError(conv, err)
	}
	r.rooms.Invalidate(ctx, conv.ID)
	r.publish(ctx, events.EventConversationClosed, principal, updated, previousAgent, nil)
	return updated, nil
}

// Queue lists waiting conversations the agent may accept, oldest first.
func (r *ConversationRouter) Queue(ctx context.Context, agent *domain.Principal) ([]domain.Conversation, error) {
	if !agent.IsAgent() {
		return nil, apperrors.NewForbidden("agent required")
	}
	var departments []int64
	if !agent.Permissions.AllDepartments {
		if len(agent.Departments) == 0 {
			return []domain.Conversation{}, nil
		}
		departments = agent.Departments
	}
	queue, err := r.conversations.ListQueue(ctx, departments, defaultQueueLimit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if queue == nil {
		queue = []domain.Conversation{}
	}
	return queue, nil
}

// load reads straight from the store; lifecycle decisions must not use a cached copy.
func (r *ConversationRouter) load(ctx context.Context, conversationID int64) (*domain.Conversation, error) {
	if conversationID <= 0 {
		return nil, apperrors.NewValidationError("conversation id must be positive", map[string]any{"conversation_id": conversationID})
	}
	conv, err := r.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("conversation", map[string]any{"conversation_id": conversationID})
		}
		return nil, apperrors.MapError(err)
	}
	return conv, nil
}

func (r *ConversationRouter) requireDepartment(ctx context.Context, departmentID int64) error {
	if departmentID <= 0 {
		return apperrors.NewValidationError("department id must be positive", map[string]any{"department_id": departmentID})
	}
	dept, err := r.departments.GetByID(ctx, departmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("department", map[string]any{"department_id": departmentID})
		}
		return apperrors.MapError(err)
	}
	if !dept.Active {
		return apperrors.NewConflict("department is inactive", map[string]any{
			"department_id": departmentID,
			"reason":        ReasonDepartmentInactive,
		})
	}
	return nil
}

// transitionError converts a lost compare-and-set into a conflict.
func (r *ConversationRouter) transitionError(conv *domain.Conversation, err error) error {
	if errors.Is(err, repository.ErrPreconditionFailed) {
		return apperrors.NewConflict("conversation changed concurrently", map[string]any{
			"conversation_id": conv.ID,
			"reason":          ReasonInvalidTransition,
		})
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("conversation", map[string]any{"conversation_id": conv.ID})
	}
	return apperrors.MapError(err)
}

func (r *ConversationRouter) publish(ctx context.Context, eventType events.EventType, actor *domain.Principal, conv *domain.Conversation, previousAgent, previousDept *int64) {
	_ = r.dispatcher.Publish(ctx, events.Event{
		Type:           eventType,
		ConversationID: conv.ID,
		Actor:          events.Actor{Kind: actor.Kind, ID: actor.ID},
		Payload: events.ConversationPayload{
			Conversation:         *conv,
			PreviousAgentID:      previousAgent,
			PreviousDepartmentID: previousDept,
		},
	})
}

func alreadyAssigned(conversationID int64) error {
	return apperrors.NewConflict("conversation already assigned", map[string]any{
		"conversation_id": conversationID,
		"reason":          ReasonAlreadyAssigned,
	})
}

func invalidTransition(conv *domain.Conversation, message string) error {
	return apperrors.NewConflict(message, map[string]any{
		"conversation_id": conv.ID,
		"status":          string(conv.Status),
		"reason":          ReasonInvalidTransition,
	})
}
