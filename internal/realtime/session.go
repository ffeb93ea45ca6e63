package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/auth"
	"github.com/helpdesk-labs/support-chat/internal/config"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/observability"
	"github.com/helpdesk-labs/support-chat/internal/service"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

// SessionDependencies bundles collaborators of the session manager.
type SessionDependencies struct {
	Verifier auth.Verifier
	Hub      *Hub
	Presence *service.PresenceTracker
	Router   *service.ConversationRouter
	Messages *service.MessageService
	Rooms    *service.RoomAuthorizer
	Config   config.RealtimeConfig
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// SessionManager runs the lifecycle of every websocket connection.
type SessionManager struct {
	verifier auth.Verifier
	hub      *Hub
	presence *service.PresenceTracker
	router   *service.ConversationRouter
	messages *service.MessageService
	rooms    *service.RoomAuthorizer
	cfg      config.RealtimeConfig
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewSessionManager creates the manager.
func NewSessionManager(deps SessionDependencies) *SessionManager {
	return &SessionManager{
		verifier: deps.Verifier,
		hub:      deps.Hub,
		presence: deps.Presence,
		router:   deps.Router,
		messages: deps.Messages,
		rooms:    deps.Rooms,
		cfg:      deps.Config,
		metrics:  deps.Metrics,
		logger:   deps.Logger.Named("session"),
	}
}

// Authenticate verifies the credential presented on the upgrade request.
func (m *SessionManager) Authenticate(ctx context.Context, token string) (*domain.Principal, error) {
	principal, err := m.verifier.Verify(ctx, token)
	if err != nil {
		m.metrics.RecordEvent("reject." + apperrors.CodeOf(err))
		return nil, err
	}
	return principal, nil
}

type session struct {
	m           *SessionManager
	client      *Client
	caller      service.Caller
	done        chan struct{}
	cleanupOnce sync.Once
	logger      *zap.Logger
}

// Serve registers the connection and blocks until it ends. Cleanup runs exactly once.
func (m *SessionManager) Serve(ctx context.Context, transport Transport, principal *domain.Principal) {
	connID := uuid.NewString()
	client := NewClient(connID, principal, transport, m.cfg.SendBuffer)
	s := &session{
		m:      m,
		client: client,
		caller: service.Caller{ConnectionID: connID, IdentityID: principal.ID, Kind: principal.Kind},
		done:   make(chan struct{}),
		logger: m.logger.With(
			zap.String("connection_id", connID),
			zap.String("kind", string(principal.Kind)),
			zap.Int64("identity_id", principal.ID)),
	}
	defer s.cleanup(ctx)

	m.hub.Register(client)
	if principal.IsAgent() {
		m.hub.Join(AgentRoom(principal.ID), client)
		for _, dept := range principal.Departments {
			m.hub.Join(DepartmentRoom(dept), client)
		}
		s.sendQueue(ctx)
	}
	s.logger.Info("connection opened")

	go s.keepAlive()
	s.readLoop(ctx)
}

func (s *session) readLoop(ctx context.Context) {
	for {
		if timeout := s.m.cfg.ReadTimeout; timeout > 0 {
			_ = s.client.transport.SetReadDeadline(time.Now().Add(timeout))
		}
		var frame Frame
		if err := s.client.transport.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.reply(OutError, s.errorPayload("", apperrors.NewValidationError("malformed frame", nil)))
				continue
			}
			s.logger.Debug("read ended", zap.Error(err))
			return
		}
		s.handle(ctx, frame)
	}
}

func (s *session) keepAlive() {
	period := s.m.cfg.PingPeriod
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.client.ping(); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				_ = s.client.Close()
				return
			}
		}
	}
}

// cleanup leaves every room, tells the conversation rooms it was in and drops presence
// owned by this connection.
func (s *session) cleanup(ctx context.Context) {
	s.cleanupOnce.Do(func() {
		close(s.done)
		ctx = context.WithoutCancel(ctx)
		principal := s.client.Principal

		for _, room := range s.m.hub.Unregister(s.client) {
			var convID int64
			if _, err := fmt.Sscanf(room, "conversation:%d", &convID); err != nil {
				continue
			}
			s.m.hub.Broadcast(room, participant(OutUserLeft, convID, principal, "disconnected"), "")
		}
		s.m.presence.Disconnect(ctx, s.caller.ConnectionID, principal.Kind, principal.ID)
		_ = s.client.Close()
		s.logger.Info("connection closed")
	})
}

func (s *session) handle(ctx context.Context, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic handling frame",
				zap.String("type", frame.Type),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			s.reply(OutError, s.errorPayload(frame.Type, apperrors.NewInternalError(nil)))
		}
	}()
	s.m.metrics.RecordEvent("inbound." + frame.Type)

	var err error
	switch frame.Type {
	case InJoinRoom:
		err = s.joinRoom(ctx, frame.Payload)
	case InLeaveRoom:
		err = s.leaveRoom(frame.Payload)
	case InSendMessage:
		if err = s.sendMessage(ctx, frame.Payload); err != nil {
			s.fail(OutMessageError, frame.Type, err)
			return
		}
	case InTyping:
		err = s.typing(frame.Payload)
	case InUserOnline:
		err = s.userOnline(ctx, frame.Payload)
	case InHeartbeat:
		err = s.heartbeat(ctx, frame.Payload)
	case InUserOffline:
		err = s.userOffline(ctx, frame.Payload)
	case InCreateConversation:
		err = s.createConversation(ctx, frame.Payload)
	case InAcceptConversation:
		err = s.acceptConversation(ctx, frame.Payload)
	case InTransferConversation:
		err = s.transferConversation(ctx, frame.Payload)
	case InCloseConversation:
		err = s.closeConversation(ctx, frame.Payload)
	case InPing:
		s.reply(OutPong, map[string]any{"ts": time.Now().UTC()})
	default:
		err = apperrors.NewValidationError("unknown frame type", map[string]any{"type": frame.Type})
	}
	if err != nil {
		s.fail(OutError, frame.Type, err)
	}
}

func (s *session) joinRoom(ctx context.Context, raw json.RawMessage) error {
	var req conversationRef
	if err := decode(raw, &req); err != nil {
		return err
	}
	principal := s.client.Principal
	conv, err := s.m.rooms.RequireView(ctx, principal, req.ConversationID)
	if err != nil {
		return err
	}
	history, err := s.m.messages.History(ctx, principal, conv.ID, s.m.cfg.HistoryOnJoinLimit)
	if err != nil {
		return err
	}
	s.enter(conv.ID)
	if history == nil {
		history = []domain.Message{}
	}
	s.reply(OutJoinedRoom, JoinedRoomPayload{Conversation: *conv, History: history})
	return nil
}

func (s *session) enter(conversationID int64) {
	principal := s.client.Principal
	if prev := s.m.hub.EnterConversation(s.client, conversationID); prev != 0 {
		s.m.hub.Broadcast(ConversationRoom(prev), participant(OutUserLeft, prev, principal, "switched"), s.client.ID)
	}
	s.m.hub.Broadcast(ConversationRoom(conversationID), participant(OutUserJoined, conversationID, principal, ""), s.client.ID)
}

func (s *session) leaveRoom(raw json.RawMessage) error {
	var req conversationRef
	if err := decode(raw, &req); err != nil {
		return err
	}
	if s.m.hub.LeaveConversation(s.client, req.ConversationID) {
		s.m.hub.Broadcast(ConversationRoom(req.ConversationID), participant(OutUserLeft, req.ConversationID, s.client.Principal, "left"), "")
	}
	return nil
}

func (s *session) sendMessage(ctx context.Context, raw json.RawMessage) error {
	var req service.SendRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	msg, err := s.m.messages.Send(ctx, s.client.Principal, req)
	if err != nil {
		return err
	}
	s.reply(OutMessageDelivered, MessageDeliveredPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		CreatedAt:      msg.CreatedAt,
	})
	return nil
}

func (s *session) typing(raw json.RawMessage) error {
	var req typingRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	room := ConversationRoom(req.ConversationID)
	if !s.m.hub.InRoom(room, s.client) {
		return apperrors.NewForbiddenWithDetails("join the conversation before typing", map[string]any{"conversation_id": req.ConversationID})
	}
	principal := s.client.Principal
	s.m.hub.Broadcast(room, Envelope{Type: OutTyping, Payload: TypingPayload{
		ConversationID: req.ConversationID,
		IdentityID:     principal.ID,
		Kind:           principal.Kind,
		DisplayName:    principal.DisplayName,
		IsTyping:       req.IsTyping,
	}}, s.client.ID)
	return nil
}

func (s *session) userOnline(ctx context.Context, raw json.RawMessage) error {
	var ann service.Announcement
	if err := decode(raw, &ann); err != nil {
		return err
	}
	_, err := s.m.presence.MarkOnline(ctx, s.caller, ann)
	return err
}

func (s *session) heartbeat(ctx context.Context, raw json.RawMessage) error {
	var req identityRef
	if err := decode(raw, &req); err != nil {
		return err
	}
	_, err := s.m.presence.Heartbeat(ctx, s.caller, req.IdentityID)
	return err
}

func (s *session) userOffline(ctx context.Context, raw json.RawMessage) error {
	var req identityRef
	if err := decode(raw, &req); err != nil {
		return err
	}
	return s.m.presence.MarkOffline(ctx, s.caller, req.IdentityID)
}

func (s *session) createConversation(ctx context.Context, raw json.RawMessage) error {
	var req createConversationRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	conv, err := s.m.router.Create(ctx, s.client.Principal, req.DepartmentID)
	if err != nil {
		return err
	}
	s.m.hub.EnterConversation(s.client, conv.ID)
	s.reply(OutConversationCreated, conv)
	return nil
}

func (s *session) acceptConversation(ctx context.Context, raw json.RawMessage) error {
	var req conversationRef
	if err := decode(raw, &req); err != nil {
		return err
	}
	_, err := s.m.router.Accept(ctx, s.client.Principal, req.ConversationID)
	return err
}

func (s *session) transferConversation(ctx context.Context, raw json.RawMessage) error {
	var req transferRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	_, err := s.m.router.Transfer(ctx, s.client.Principal, req.ConversationID, req.DepartmentID)
	return err
}

func (s *session) closeConversation(ctx context.Context, raw json.RawMessage) error {
	var req conversationRef
	if err := decode(raw, &req); err != nil {
		return err
	}
	conv, err := s.m.router.Close(ctx, s.client.Principal, req.ConversationID)
	if err != nil {
		return err
	}
	if !s.m.hub.InRoom(ConversationRoom(conv.ID), s.client) {
		s.reply(OutConversationUpdated, conv)
	}
	return nil
}

func (s *session) sendQueue(ctx context.Context) {
	queue, err := s.m.router.Queue(ctx, s.client.Principal)
	if err != nil {
		s.logger.Warn("queue snapshot failed", zap.Error(err))
		return
	}
	s.reply(OutQueueSnapshot, queue)
}

func (s *session) reply(eventType string, payload interface{}) {
	if err := s.client.Send(Envelope{Type: eventType, Payload: payload}); err != nil {
		s.logger.Debug("reply failed", zap.String("event", eventType), zap.Error(err))
		_ = s.client.Close()
	}
}

func (s *session) fail(eventType, requestType string, err error) {
	domainErr := apperrors.ToDomainError(err)
	s.m.metrics.RecordEvent("reject." + domainErr.Code)
	if domainErr.HTTPStatus >= 500 {
		s.logger.Error("frame failed", zap.String("type", requestType), zap.Error(err))
	}
	s.reply(eventType, s.errorPayload(requestType, err))
}

func (s *session) errorPayload(requestType string, err error) ErrorPayload {
	domainErr := apperrors.ToDomainError(err)
	return ErrorPayload{
		Code:        domainErr.Code,
		Message:     domainErr.Message,
		Details:     domainErr.Details,
		RequestType: requestType,
	}
}

func decode(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return apperrors.NewValidationError("payload is required", nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"error": err.Error()})
	}
	return nil
}
