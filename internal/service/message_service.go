package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/events"
	"github.com/helpdesk-labs/support-chat/internal/repository"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

// MessageService persists authorized messages and announces them.
type MessageService struct {
	authorizer *MessageAuthorizer
	rooms      *RoomAuthorizer
	messages   repository.MessageRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// MessageDependencies bundles collaborators.
type MessageDependencies struct {
	Authorizer  *MessageAuthorizer
	Rooms       *RoomAuthorizer
	MessageRepo repository.MessageRepository
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// NewMessageService creates the service.
func NewMessageService(deps MessageDependencies) *MessageService {
	return &MessageService{
		authorizer: deps.Authorizer,
		rooms:      deps.Rooms,
		messages:   deps.MessageRepo,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger.Named("messages"),
	}
}

// Send authorizes, stores and publishes a message.
func (s *MessageService) Send(ctx context.Context, principal *domain.Principal, req SendRequest) (*domain.Message, error) {
	authorized, err := s.authorizer.AuthorizeSend(ctx, principal, req)
	if err != nil {
		return nil, err
	}
	msg := authorized.Message
	if err := s.messages.Insert(ctx, &msg); err != nil {
		return nil, apperrors.MapError(err)
	}

	conv := authorized.Conversation
	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:           events.EventMessageCreated,
		ConversationID: conv.ID,
		Actor:          events.Actor{Kind: principal.Kind, ID: principal.ID},
		Payload: events.MessageCreatedPayload{
			Message:           msg,
			SenderKind:        msg.SenderKind(),
			SenderName:        principal.DisplayName,
			SenderAvatar:      principal.AvatarURL,
			ConversationDept:  conv.DepartmentID,
			ConversationOwner: conv.ClientID,
		},
	})
	s.logger.Debug("message stored",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("message_id", msg.ID),
		zap.String("sender", string(msg.SenderKind())))
	return &msg, nil
}

// History returns up to limit of the latest messages, oldest first.
func (s *MessageService) History(ctx context.Context, principal *domain.Principal, conversationID int64, limit int) ([]domain.Message, error) {
	if _, err := s.rooms.RequireView(ctx, principal, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return msgs, nil
}
